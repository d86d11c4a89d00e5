package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/product-patterns/internal/model"
)

const defaultConcurrency = 4

// BatchSummary counts batch results by status.
type BatchSummary struct {
	Total     int `json:"total"`
	Accepted  int `json:"accepted"`
	Exhausted int `json:"exhausted"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
}

// Summarize counts results by status. Nil entries count as failed.
func Summarize(results []*Result) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		if r == nil {
			s.Failed++
			continue
		}
		switch r.Status {
		case model.RunStatusAccepted:
			s.Accepted++
		case model.RunStatusExhausted:
			s.Exhausted++
		case model.RunStatusBlocked:
			s.Blocked++
		default:
			s.Failed++
		}
	}
	return s
}

// GenerateAll runs independent generations with at most concurrency in
// flight. Results are in request order. One run's failure never cancels
// the others; only the caller's context does.
func (r *Runner) GenerateAll(ctx context.Context, reqs []Request, concurrency int) []*Result {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	results := make([]*Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	zap.L().Info("pipeline: processing batch",
		zap.Int("requests", len(reqs)),
		zap.Int("concurrency", concurrency),
	)

	var g errgroup.Group
	g.SetLimit(concurrency)
	var succeeded, failed atomic.Int64

	for i, req := range reqs {
		g.Go(func() error {
			res, err := r.Generate(ctx, req)
			if res == nil {
				res = &Result{URL: req.URL, Status: model.RunStatusFailed}
			}
			results[i] = res
			if err != nil || res.Status != model.RunStatusAccepted {
				failed.Add(1)
				zap.L().Warn("pipeline: batch item not accepted",
					zap.String("url", req.URL),
					zap.String("status", string(res.Status)),
					zap.Error(err),
				)
				return nil // don't abort batch on individual failure
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("pipeline: batch complete",
		zap.Int64("accepted", succeeded.Load()),
		zap.Int64("not_accepted", failed.Load()),
	)
	return results
}
