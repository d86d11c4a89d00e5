package acquire

import (
	"bytes"
	"net/http"
	"strings"
)

// BlockType describes the kind of block detected.
type BlockType string

const (
	BlockNone         BlockType = ""
	BlockCloudflare   BlockType = "cloudflare"
	BlockCaptcha      BlockType = "captcha"
	BlockJSShell      BlockType = "js_shell"
	BlockAccessDenied BlockType = "access_denied"
	BlockRateLimited  BlockType = "rate_limited"
)

const (
	// interstitialMaxBytes bounds the size of pages inspected for challenge
	// text. Real product pages routinely mention captchas in login widgets.
	interstitialMaxBytes = 64 << 10
	shellMaxBytes        = 2000
)

var cloudflareMarkers = []string{
	"checking your browser",
	"cf-browser-verification",
	"cf_chl_opt",
	"<title>just a moment...</title>",
	"attention required! | cloudflare",
}

var captchaMarkers = []string{
	"captcha-delivery.com",
	"px-captcha",
	"g-recaptcha",
	"h-captcha",
	"cf-turnstile",
	"verify you are human",
	"are you a robot",
	"press & hold",
}

var deniedMarkers = []string{
	"access denied",
	"request unsuccessful. incapsula",
	"pardon our interruption",
	"bot detected",
	"you have been blocked",
}

// DetectBlock inspects a response for anti-bot interstitials. header may
// be nil for content that did not come straight from the origin.
func DetectBlock(status int, header http.Header, body []byte) BlockType {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-mitigated") != "" ||
			strings.EqualFold(header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}
	if status == http.StatusTooManyRequests {
		return BlockRateLimited
	}

	if len(body) <= interstitialMaxBytes {
		lower := bytes.ToLower(body)
		if containsAny(lower, cloudflareMarkers) {
			return BlockCloudflare
		}
		if containsAny(lower, captchaMarkers) {
			return BlockCaptcha
		}
		if containsAny(lower, deniedMarkers) {
			return BlockAccessDenied
		}
		if len(body) < shellMaxBytes {
			if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
				return BlockJSShell
			}
			if bytes.Contains(lower, []byte(`http-equiv="refresh"`)) {
				return BlockJSShell
			}
		}
	}

	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		return BlockAccessDenied
	}
	return BlockNone
}

func containsAny(haystack []byte, needles []string) bool {
	for _, n := range needles {
		if bytes.Contains(haystack, []byte(n)) {
			return true
		}
	}
	return false
}
