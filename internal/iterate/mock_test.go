package iterate

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/product-patterns/internal/model"
)

// --- Drafter Mock ---

type mockDrafter struct {
	mock.Mock
}

func (m *mockDrafter) Draft(ctx context.Context, req DraftRequest) ([]model.FieldRule, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FieldRule), args.Error(1)
}

// forIteration matches a DraftRequest for round n.
func forIteration(n int) any {
	return mock.MatchedBy(func(req DraftRequest) bool { return req.Iteration == n })
}
