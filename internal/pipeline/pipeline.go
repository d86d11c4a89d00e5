// Package pipeline glues acquisition, the iteration controller,
// persistence and review into one generation run per sample URL.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/acquire"
	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/store"
)

// Reviewer receives exhausted outcomes for human follow-up.
type Reviewer interface {
	Submit(ctx context.Context, o *iterate.Outcome, url string) error
}

// Request describes one generation run.
type Request struct {
	// URL is the sample product page. It is fetched unless HTML is set.
	URL string `json:"url"`
	// HTML skips acquisition when non-empty.
	HTML string `json:"-"`
	// Domain overrides the domain derived from URL.
	Domain string `json:"domain,omitempty"`
	// Seed starts the controller from this pattern instead of the latest
	// stored version.
	Seed *model.Pattern `json:"-"`
}

// PhaseStatus is the outcome of one pipeline phase.
type PhaseStatus string

const (
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"
	PhaseSkipped  PhaseStatus = "skipped"
)

// PhaseResult records timing and status for one phase.
type PhaseResult struct {
	Name       string      `json:"name"`
	Status     PhaseStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

// Result is everything a run produced. It is returned even when the run
// fails.
type Result struct {
	URL         string           `json:"url"`
	Domain      string           `json:"domain"`
	Status      model.RunStatus  `json:"status"`
	Acquisition *acquire.Result  `json:"acquisition,omitempty"`
	Outcome     *iterate.Outcome `json:"outcome,omitempty"`
	Saved       *model.Pattern   `json:"saved,omitempty"`
	Run         *model.Run       `json:"run,omitempty"`
	Phases      []PhaseResult    `json:"phases"`
	Error       string           `json:"error,omitempty"`
}

// Runner executes generation runs. A nil store disables seeding from and
// saving to persistence; a nil reviewer disables review hand-off.
type Runner struct {
	controller *iterate.Controller
	fetcher    acquire.Fetcher
	store      store.Store
	reviewer   Reviewer
	save       bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore enables seeding from and recording runs in st.
func WithStore(st store.Store) Option {
	return func(r *Runner) { r.store = st }
}

// WithReviewer sends exhausted outcomes to rv.
func WithReviewer(rv Reviewer) Option {
	return func(r *Runner) { r.reviewer = rv }
}

// WithSave controls whether accepted patterns are stored as new versions.
func WithSave(save bool) Option {
	return func(r *Runner) { r.save = save }
}

// New creates a Runner.
func New(controller *iterate.Controller, fetcher acquire.Fetcher, opts ...Option) *Runner {
	r := &Runner{controller: controller, fetcher: fetcher, save: true}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Generate runs acquisition and the controller for one request. Blocked or
// failed acquisitions stop before the controller runs. The returned error
// is non-nil when the run did not reach a controller verdict or its
// accepted pattern could not be saved; exhaustion alone is not an error.
func (r *Runner) Generate(ctx context.Context, req Request) (*Result, error) {
	res := &Result{URL: req.URL, Domain: req.Domain}
	if res.Domain == "" && req.Seed != nil {
		res.Domain = req.Seed.Domain
	}
	if res.Domain == "" {
		res.Domain = iterate.DomainFromURL(req.URL)
	}
	log := zap.L().With(zap.String("url", req.URL), zap.String("domain", res.Domain))
	log.Info("pipeline: starting generation")

	html := req.HTML
	sourceURL := req.URL
	if html == "" {
		acq := r.acquire(ctx, res, req.URL)
		if !acq.OK() {
			err := acq.Error()
			res.Status = model.RunStatusFailed
			if acq.Kind == acquire.KindBlocked {
				res.Status = model.RunStatusBlocked
			}
			log.Warn("pipeline: acquisition failed",
				zap.String("kind", string(acq.Kind)),
				zap.String("block", string(acq.Block)),
				zap.Error(err),
			)
			r.finish(ctx, res, err)
			return res, eris.Wrapf(err, "pipeline: acquire %s", req.URL)
		}
		html = acq.HTML
		sourceURL = acq.URL
		if d := iterate.DomainFromURL(acq.URL); req.Domain == "" && req.Seed == nil && d != "" {
			res.Domain = d
		}
	} else {
		res.Phases = append(res.Phases, PhaseResult{Name: "acquire", Status: PhaseSkipped})
	}

	seed := r.seed(ctx, res, req)

	start := time.Now()
	outcome, err := r.controller.RunHTML(ctx, html, sourceURL, seed)
	phase := PhaseResult{Name: "iterate", Status: PhaseComplete, DurationMs: time.Since(start).Milliseconds()}
	res.Outcome = outcome
	if outcome != nil && outcome.Domain != "" {
		res.Domain = outcome.Domain
	}
	if err != nil {
		phase.Status = PhaseFailed
		phase.Error = err.Error()
	}
	res.Phases = append(res.Phases, phase)

	switch {
	case outcome == nil:
		res.Status = model.RunStatusFailed
	case outcome.Accepted():
		res.Status = model.RunStatusAccepted
	default:
		res.Status = model.RunStatusExhausted
	}
	if err != nil {
		r.finish(ctx, res, err)
		if ctx.Err() == nil {
			r.review(ctx, res)
		}
		return res, eris.Wrapf(err, "pipeline: iterate %s", req.URL)
	}

	if outcome.Accepted() {
		if saveErr := r.persist(ctx, res, seed); saveErr != nil {
			r.finish(ctx, res, saveErr)
			return res, saveErr
		}
	} else {
		r.review(ctx, res)
	}

	log.Info("pipeline: generation complete",
		zap.String("status", string(res.Status)),
		zap.Int("iterations", outcome.Iterations),
	)
	r.finish(ctx, res, nil)
	return res, nil
}

func (r *Runner) acquire(ctx context.Context, res *Result, url string) *acquire.Result {
	start := time.Now()
	acq := r.fetcher.Fetch(ctx, url)
	phase := PhaseResult{Name: "acquire", Status: PhaseComplete, DurationMs: time.Since(start).Milliseconds()}
	if !acq.OK() {
		phase.Status = PhaseFailed
		if err := acq.Error(); err != nil {
			phase.Error = err.Error()
		}
	}
	res.Phases = append(res.Phases, phase)
	res.Acquisition = acq
	return acq
}

// seed picks the starting pattern: the request's, else the latest stored
// version. A domain override without a seed starts from an empty pattern
// bound to that domain.
func (r *Runner) seed(ctx context.Context, res *Result, req Request) *model.Pattern {
	if req.Seed != nil {
		s := req.Seed.Clone()
		if req.Domain != "" {
			s.Domain = req.Domain
		}
		return s
	}
	if r.store != nil && res.Domain != "" {
		latest, err := r.store.LatestPattern(ctx, res.Domain)
		switch {
		case err == nil:
			zap.L().Info("pipeline: seeding from stored pattern",
				zap.String("domain", res.Domain),
				zap.Int("version", latest.Version),
			)
			return latest
		case errors.Is(err, store.ErrNotFound):
		default:
			zap.L().Warn("pipeline: load stored pattern failed, starting empty",
				zap.String("domain", res.Domain),
				zap.Error(err),
			)
		}
	}
	if res.Domain != "" {
		return model.NewPattern(res.Domain)
	}
	return nil
}

// persist stores the accepted pattern as the next version. The stored
// parent is the seed's stored version, not the controller's internal
// revision number.
func (r *Runner) persist(ctx context.Context, res *Result, seed *model.Pattern) error {
	if r.store == nil || !r.save {
		res.Phases = append(res.Phases, PhaseResult{Name: "persist", Status: PhaseSkipped})
		return nil
	}
	start := time.Now()
	p := res.Outcome.Pattern.Clone()
	p.ParentVersion = 0
	if seed != nil && seed.ID != "" {
		p.ParentVersion = seed.Version
	}
	saved, err := r.store.SavePattern(ctx, p)
	phase := PhaseResult{Name: "persist", Status: PhaseComplete, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		phase.Status = PhaseFailed
		phase.Error = err.Error()
		res.Phases = append(res.Phases, phase)
		return eris.Wrapf(err, "pipeline: save pattern for %s", res.Domain)
	}
	res.Phases = append(res.Phases, phase)
	res.Saved = saved
	zap.L().Info("pipeline: pattern saved",
		zap.String("domain", saved.Domain),
		zap.Int("version", saved.Version),
		zap.Int("rules", saved.RuleCount()),
	)
	return nil
}

func (r *Runner) review(ctx context.Context, res *Result) {
	if r.reviewer == nil || res.Outcome == nil || res.Outcome.Accepted() {
		return
	}
	start := time.Now()
	err := r.reviewer.Submit(ctx, res.Outcome, res.URL)
	phase := PhaseResult{Name: "review", Status: PhaseComplete, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		phase.Status = PhaseFailed
		phase.Error = err.Error()
		zap.L().Warn("pipeline: review hand-off failed", zap.String("domain", res.Domain), zap.Error(err))
	}
	res.Phases = append(res.Phases, phase)
}

// finish records the run. Recording failures are logged, never returned.
func (r *Runner) finish(ctx context.Context, res *Result, runErr error) {
	if runErr != nil {
		res.Error = runErr.Error()
	}
	run := &model.Run{
		Domain: res.Domain,
		URL:    res.URL,
		Status: res.Status,
		Error:  res.Error,
	}
	if o := res.Outcome; o != nil {
		run.Reason = o.Reason
		run.Iterations = o.Iterations
		run.Diagnostics = o.Diagnostics
		if o.Verdict != nil {
			run.SuccessRate = o.Verdict.OverallSuccessRate
		}
	}
	if res.Saved != nil {
		run.PatternVersion = res.Saved.Version
	}
	res.Run = run

	if r.store == nil {
		return
	}
	// A canceled run is still recorded.
	if err := r.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		zap.L().Warn("pipeline: record run failed", zap.String("url", res.URL), zap.Error(err))
	}
}
