package acquire

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/product-patterns/pkg/firecrawl"
	"github.com/sells-group/product-patterns/pkg/jina"
)

type mockFetcher struct {
	mock.Mock
	name string
}

func (m *mockFetcher) Name() string { return m.name }

func (m *mockFetcher) Fetch(ctx context.Context, target string) *Result {
	args := m.Called(ctx, target)
	return args.Get(0).(*Result)
}

type mockJina struct {
	mock.Mock
}

func (m *mockJina) Read(ctx context.Context, targetURL, format string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL, format)
	if v := args.Get(0); v != nil {
		return v.(*jina.ReadResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockFirecrawl struct {
	mock.Mock
}

func (m *mockFirecrawl) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*firecrawl.ScrapeResponse), args.Error(1)
	}
	return nil, args.Error(1)
}
