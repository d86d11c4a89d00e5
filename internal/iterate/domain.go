package iterate

import (
	"net/url"
	"strings"
)

// DomainFromHost normalizes a host name into a pattern domain: lower case,
// without port or a leading "www.".
func DomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// DomainFromURL returns the pattern domain for a page URL, or "" when raw
// has no host.
func DomainFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return DomainFromHost(u.Hostname())
}
