package acquire

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/product-patterns/internal/resilience"
)

const (
	defaultUserAgent    = "Mozilla/5.0 (compatible; ProductPatterns/1.0)"
	defaultMaxBodyBytes = 4 << 20
	defaultFetchTimeout = 20 * time.Second
)

// HTTPConfig tunes the direct HTTP fetcher.
type HTTPConfig struct {
	Timeout      time.Duration
	UserAgent    string
	RatePerHost  float64 // requests per second per host; <= 0 disables
	Burst        int
	MaxBodyBytes int64
	Retry        resilience.RetryConfig
	Breaker      resilience.BreakerConfig
}

// HTTPFetcher fetches pages directly with net/http. Requests are rate
// limited per host, transient failures are retried, and hosts that keep
// failing are short-circuited by a per-host breaker.
type HTTPFetcher struct {
	client   *http.Client
	cfg      HTTPConfig
	breakers *resilience.Breakers

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a default one
// with cfg.Timeout.
func NewHTTPFetcher(cfg HTTPConfig, client *http.Client) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("acquire", "http_fetch")
	}
	if cfg.Breaker.ShouldTrip == nil {
		cfg.Breaker.ShouldTrip = resilience.IsTransient
	}
	if client == nil {
		client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		}
	}
	return &HTTPFetcher{
		client:   client,
		cfg:      cfg,
		breakers: resilience.NewBreakers(cfg.Breaker),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Name implements Fetcher.
func (f *HTTPFetcher) Name() string { return "http" }

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, target string) *Result {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failedResult(f.Name(), target, 0, eris.Errorf("acquire: invalid url %q", target))
	}
	host := strings.ToLower(u.Hostname())
	breaker := f.breakers.Get(host)

	var status int
	res, err := resilience.DoVal(ctx, f.cfg.Retry, func(ctx context.Context) (*Result, error) {
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (*Result, error) {
			if err := f.limiter(host).Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "acquire: rate limit wait")
			}
			r, code, err := f.get(ctx, target)
			status = code
			return r, err
		})
	})
	if err != nil {
		return failedResult(f.Name(), target, status, err)
	}
	return res
}

// get performs one request. Blocked pages are returned as results, not
// errors, so they are never retried.
func (f *HTTPFetcher) get(ctx context.Context, target string) (*Result, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "acquire: create request")
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8,de;q=0.6")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "acquire: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, resilience.NewTransientError(eris.Wrap(err, "acquire: read body"), 0)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		zap.L().Warn("acquire: body truncated",
			zap.String("url", target),
			zap.Int64("limit", f.cfg.MaxBodyBytes),
		)
		body = body[:f.cfg.MaxBodyBytes]
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	if block := DetectBlock(resp.StatusCode, resp.Header, body); block != BlockNone {
		zap.L().Info("acquire: blocked",
			zap.String("url", final),
			zap.String("block", string(block)),
			zap.Int("status", resp.StatusCode),
		)
		return blockedResult(f.Name(), final, resp.StatusCode, block), resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, resilience.StatusError("acquire", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if mt != "" && mt != "text/html" && mt != "application/xhtml+xml" && mt != "text/plain" {
			return nil, resp.StatusCode, eris.Errorf("acquire: unsupported content type %q", mt)
		}
	}
	return docResult(f.Name(), final, string(body), resp.StatusCode), resp.StatusCode, nil
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		limit := rate.Inf
		if f.cfg.RatePerHost > 0 {
			limit = rate.Limit(f.cfg.RatePerHost)
		}
		l = rate.NewLimiter(limit, f.cfg.Burst)
		f.limiters[host] = l
	}
	return l
}
