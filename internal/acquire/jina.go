package acquire

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-patterns/pkg/jina"
)

// JinaFetcher fetches pages rendered by the Jina Reader's headless browser.
// It is the fallback for shops that only render prices client-side.
type JinaFetcher struct {
	client jina.Client
}

// NewJinaFetcher creates a JinaFetcher.
func NewJinaFetcher(client jina.Client) *JinaFetcher {
	return &JinaFetcher{client: client}
}

// Name implements Fetcher.
func (f *JinaFetcher) Name() string { return "jina" }

// Fetch implements Fetcher.
func (f *JinaFetcher) Fetch(ctx context.Context, target string) *Result {
	resp, err := f.client.Read(ctx, target, jina.FormatHTML)
	if err != nil {
		return failedResult(f.Name(), target, 0, eris.Wrap(err, "acquire: jina read"))
	}

	body := resp.Data.Body()
	final := target
	if resp.Data.URL != "" {
		final = resp.Data.URL
	}
	if strings.TrimSpace(body) == "" {
		return failedResult(f.Name(), final, resp.Code, eris.New("acquire: jina returned empty content"))
	}
	if block := DetectBlock(resp.Code, nil, []byte(body)); block != BlockNone {
		return blockedResult(f.Name(), final, resp.Code, block)
	}
	return docResult(f.Name(), final, body, resp.Code)
}
