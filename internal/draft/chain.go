// Package draft holds the rule proposers used by the iteration controller:
// a deterministic heuristic drafter, a model-backed drafter, and a chain
// that combines them.
package draft

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
)

// Chain runs drafters in order and concatenates their proposals. A failing
// drafter is logged and skipped; Draft errors only when every drafter
// failed.
type Chain struct {
	drafters []iterate.Drafter
	// narrow asks later drafters only for fields earlier ones left uncovered.
	narrow bool
}

// NewChain creates a chain over drafters. With narrow set, a drafter is
// only asked for the fields no earlier drafter proposed a rule for, and
// the chain stops once every requested field is covered.
func NewChain(narrow bool, drafters ...iterate.Drafter) *Chain {
	return &Chain{drafters: drafters, narrow: narrow}
}

// Draft implements iterate.Drafter.
func (c *Chain) Draft(ctx context.Context, req iterate.DraftRequest) ([]model.FieldRule, error) {
	var (
		out      []model.FieldRule
		seen     = make(map[string]bool)
		covered  = make(map[model.Field]bool)
		failures int
		lastErr  error
	)

	for i, d := range c.drafters {
		sub := req
		if c.narrow {
			sub.Fields = uncovered(req.Fields, covered)
			if len(sub.Fields) == 0 {
				break
			}
		}

		rules, err := d.Draft(ctx, sub)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			failures++
			lastErr = err
			zap.L().Warn("draft: drafter failed",
				zap.String("drafter", nameOf(d, i)),
				zap.String("domain", req.Domain),
				zap.Int("iteration", req.Iteration),
				zap.Error(err),
			)
			continue
		}
		for _, r := range rules {
			if seen[r.Key()] {
				continue
			}
			seen[r.Key()] = true
			covered[r.Field] = true
			out = append(out, r)
		}
	}

	if failures > 0 && failures == len(c.drafters) {
		return nil, eris.Wrap(lastErr, "draft: every drafter failed")
	}
	return out, nil
}

func uncovered(fields []model.Field, covered map[model.Field]bool) []model.Field {
	var out []model.Field
	for _, f := range fields {
		if !covered[f] {
			out = append(out, f)
		}
	}
	return out
}

func nameOf(d iterate.Drafter, i int) string {
	if n, ok := d.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("drafter[%d]", i)
}
