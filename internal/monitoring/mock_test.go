package monitoring

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/store"
)

// --- RunLister Mock ---

type mockRunLister struct {
	mock.Mock
}

func (m *mockRunLister) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

// --- Poster Mock ---

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) Post(ctx context.Context, payload any) error {
	return m.Called(ctx, payload).Error(0)
}
