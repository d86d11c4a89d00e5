package acquire

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-patterns/internal/resilience"
	"github.com/sells-group/product-patterns/pkg/firecrawl"
)

// FirecrawlFetcher fetches raw page HTML through Firecrawl's proxied
// browsers. It is the last fallback in the chain.
type FirecrawlFetcher struct {
	client  firecrawl.Client
	waitFor time.Duration
}

// NewFirecrawlFetcher creates a FirecrawlFetcher. waitFor lets client-side
// rendering settle before the page is captured.
func NewFirecrawlFetcher(client firecrawl.Client, waitFor time.Duration) *FirecrawlFetcher {
	return &FirecrawlFetcher{client: client, waitFor: waitFor}
}

// Name implements Fetcher.
func (f *FirecrawlFetcher) Name() string { return "firecrawl" }

// Fetch implements Fetcher.
func (f *FirecrawlFetcher) Fetch(ctx context.Context, target string) *Result {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     target,
		Formats: []string{firecrawl.FormatRawHTML},
		WaitFor: int(f.waitFor / time.Millisecond),
	})
	if err != nil {
		return failedResult(f.Name(), target, 0, eris.Wrap(err, "acquire: firecrawl scrape"))
	}

	meta := resp.Data.Metadata
	final := target
	switch {
	case meta.URL != "":
		final = meta.URL
	case meta.SourceURL != "":
		final = meta.SourceURL
	}
	body := resp.Data.Body()
	if block := DetectBlock(meta.StatusCode, nil, []byte(body)); block != BlockNone {
		return blockedResult(f.Name(), final, meta.StatusCode, block)
	}
	if meta.StatusCode >= 400 {
		return failedResult(f.Name(), final, meta.StatusCode, resilience.StatusError("acquire", meta.StatusCode))
	}
	if strings.TrimSpace(body) == "" {
		return failedResult(f.Name(), final, meta.StatusCode, eris.New("acquire: firecrawl returned empty content"))
	}
	return docResult(f.Name(), final, body, meta.StatusCode)
}
