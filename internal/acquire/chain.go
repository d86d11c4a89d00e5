package acquire

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Chain tries fetchers in priority order and returns the first document.
// When every fetcher fails, the last non-document result is returned.
type Chain struct {
	fetchers []Fetcher
}

// NewChain creates a Chain over fetchers.
func NewChain(fetchers ...Fetcher) *Chain {
	return &Chain{fetchers: fetchers}
}

// Name implements Fetcher.
func (c *Chain) Name() string { return "chain" }

// Fetch implements Fetcher.
func (c *Chain) Fetch(ctx context.Context, target string) *Result {
	var last *Result
	for _, f := range c.fetchers {
		if err := ctx.Err(); err != nil {
			return failedResult(c.Name(), target, 0, err)
		}
		res := f.Fetch(ctx, target)
		if res.OK() {
			return res
		}
		zap.L().Debug("acquire: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", target),
			zap.String("kind", string(res.Kind)),
			zap.String("block", string(res.Block)),
			zap.Error(res.Err),
		)
		last = res
	}
	if last == nil {
		return failedResult(c.Name(), target, 0, eris.Errorf("acquire: no fetcher configured for %s", target))
	}
	return last
}
