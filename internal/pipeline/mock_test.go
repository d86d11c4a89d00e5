package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/product-patterns/internal/acquire"
	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/store"
)

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Name() string { return "mock" }

func (m *mockFetcher) Fetch(ctx context.Context, target string) *acquire.Result {
	args := m.Called(ctx, target)
	return args.Get(0).(*acquire.Result)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SavePattern(ctx context.Context, p *model.Pattern) (*model.Pattern, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pattern), args.Error(1)
}

func (m *mockStore) LatestPattern(ctx context.Context, domain string) (*model.Pattern, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pattern), args.Error(1)
}

func (m *mockStore) GetPattern(ctx context.Context, domain string, version int) (*model.Pattern, error) {
	args := m.Called(ctx, domain, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Pattern), args.Error(1)
}

func (m *mockStore) ListPatterns(ctx context.Context, domain string) ([]model.Pattern, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Pattern), args.Error(1)
}

func (m *mockStore) ListDomains(ctx context.Context) ([]store.DomainSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.DomainSummary), args.Error(1)
}

func (m *mockStore) RecordRun(ctx context.Context, run *model.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// --- Reviewer Mock ---

type mockReviewer struct {
	mock.Mock
}

func (m *mockReviewer) Submit(ctx context.Context, o *iterate.Outcome, url string) error {
	return m.Called(ctx, o, url).Error(0)
}
