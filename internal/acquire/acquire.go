// Package acquire fetches sample product pages. It reports blocked pages
// and network failures as results so callers can stop before the
// extraction core ever sees a challenge page.
package acquire

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrBlocked is wrapped by Result.Error for blocked pages.
var ErrBlocked = eris.New("acquire: blocked")

// Kind classifies an acquisition result.
type Kind string

const (
	KindDocument     Kind = "document"
	KindBlocked      Kind = "blocked"
	KindNetworkError Kind = "network_error"
)

// Result is the outcome of fetching one URL.
type Result struct {
	Kind       Kind      `json:"kind"`
	URL        string    `json:"url"`
	HTML       string    `json:"-"`
	StatusCode int       `json:"status_code,omitempty"`
	Block      BlockType `json:"block,omitempty"`
	Source     string    `json:"source"`
	Err        error     `json:"-"`
}

// OK reports whether the result carries a usable document.
func (r *Result) OK() bool {
	return r != nil && r.Kind == KindDocument
}

// Error returns nil for documents, a wrapped ErrBlocked for blocked pages,
// and the underlying failure for network errors.
func (r *Result) Error() error {
	switch {
	case r == nil:
		return eris.New("acquire: no result")
	case r.Kind == KindDocument:
		return nil
	case r.Kind == KindBlocked:
		return eris.Wrapf(ErrBlocked, "%s via %s (%s)", r.URL, r.Source, r.Block)
	case r.Err != nil:
		return r.Err
	}
	return eris.Errorf("acquire: %s failed via %s", r.URL, r.Source)
}

// Fetcher retrieves the HTML of a product page. Fetch never returns nil;
// failures are reported through the result's Kind.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, target string) *Result
}

func docResult(source, url, html string, status int) *Result {
	return &Result{Kind: KindDocument, Source: source, URL: url, HTML: html, StatusCode: status}
}

func blockedResult(source, url string, status int, block BlockType) *Result {
	return &Result{Kind: KindBlocked, Source: source, URL: url, StatusCode: status, Block: block}
}

func failedResult(source, url string, status int, err error) *Result {
	return &Result{Kind: KindNetworkError, Source: source, URL: url, StatusCode: status, Err: err}
}
