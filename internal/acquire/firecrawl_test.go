package acquire

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/product-patterns/pkg/firecrawl"
)

func TestFirecrawlFetcher(t *testing.T) {
	const target = "https://shop.example/p/1"

	page := func(html string, status int, url string) *firecrawl.ScrapeResponse {
		return &firecrawl.ScrapeResponse{Success: true, Data: firecrawl.PageData{
			RawHTML:  html,
			Metadata: firecrawl.Metadata{StatusCode: status, URL: url},
		}}
	}

	tests := []struct {
		name       string
		resp       *firecrawl.ScrapeResponse
		err        error
		wantKind   Kind
		wantURL    string
		wantStatus int
	}{
		{
			name:       "document",
			resp:       page(productHTML, 200, "https://shop.example/p/1?v=2"),
			wantKind:   KindDocument,
			wantURL:    "https://shop.example/p/1?v=2",
			wantStatus: 200,
		},
		{
			name:       "origin blocked",
			resp:       page(`<html><div class="g-recaptcha"></div></html>`, 200, ""),
			wantKind:   KindBlocked,
			wantURL:    target,
			wantStatus: 200,
		},
		{
			name:       "origin 404",
			resp:       page("<html>not found</html>", 404, ""),
			wantKind:   KindNetworkError,
			wantURL:    target,
			wantStatus: 404,
		},
		{
			name:       "empty",
			resp:       page("", 200, ""),
			wantKind:   KindNetworkError,
			wantURL:    target,
			wantStatus: 200,
		},
		{
			name:     "api error",
			err:      &firecrawl.APIError{StatusCode: 402, Body: "credits"},
			wantKind: KindNetworkError,
			wantURL:  target,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockFirecrawl{}
			client.On("Scrape", mock.Anything, mock.MatchedBy(func(r firecrawl.ScrapeRequest) bool {
				return r.URL == target && r.WaitFor == 1500 && r.Formats[0] == firecrawl.FormatRawHTML
			})).Return(tt.resp, tt.err)

			res := NewFirecrawlFetcher(client, 1500*time.Millisecond).Fetch(context.Background(), target)

			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.wantURL, res.URL)
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, "firecrawl", res.Source)
			if tt.wantKind != KindDocument {
				assert.Error(t, res.Error())
			}
			client.AssertExpectations(t)
		})
	}
}

func TestFirecrawlFetcher_ErrorIsWrapped(t *testing.T) {
	client := &mockFirecrawl{}
	client.On("Scrape", mock.Anything, mock.Anything).Return(nil, eris.New("timeout"))

	res := NewFirecrawlFetcher(client, 0).Fetch(context.Background(), "https://shop.example/p/1")
	assert.Contains(t, res.Error().Error(), "firecrawl scrape")
}
