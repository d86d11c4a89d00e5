package iterate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/extract"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/validate"
)

// Controller drives the loop for one document at a time. A Controller holds
// no per-run state, so one instance may serve concurrent runs as long as its
// Drafter is safe for concurrent use.
type Controller struct {
	engine  *extract.Engine
	gate    *validate.Gate
	drafter Drafter
	cfg     Config
}

// Option configures a Controller.
type Option func(*Controller)

// WithEngine replaces the default extraction engine.
func WithEngine(e *extract.Engine) Option {
	return func(c *Controller) { c.engine = e }
}

// New creates a Controller.
func New(drafter Drafter, cfg Config, opts ...Option) *Controller {
	cfg = cfg.normalized()
	c := &Controller{
		engine:  extract.New(),
		gate:    validate.NewGate(cfg.Policy),
		drafter: drafter,
		cfg:     cfg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the normalized configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// RunHTML parses html and runs the loop on it. An unparsable document ends
// the run immediately as Exhausted with ReasonUnparsable; the returned
// error then wraps document.ErrUnparsable.
func (c *Controller) RunHTML(ctx context.Context, html, sourceURL string, seed *model.Pattern) (*Outcome, error) {
	doc, err := document.ParseString(html, sourceURL)
	if err != nil {
		return unparsable(domainFor(seed, nil, sourceURL), err), eris.Wrap(err, "iterate: parse document")
	}
	return c.Run(ctx, doc, seed)
}

// run carries the mutable state of one Run call.
type run struct {
	domain  string
	current *model.Pattern
	report  *model.Report
	verdict *model.Verdict
	everHit map[string]bool
	history []Round
	notes   []string

	best        *model.Pattern
	bestReport  *model.Report
	bestVerdict *model.Verdict
}

// Run starts from seed (or an empty pattern when seed is nil) and loops
// until a draft passes the gate or MaxIterations rounds have been tested.
// The returned error is non-nil only for an unparsable document or a
// canceled context; both still come with an Exhausted outcome.
func (c *Controller) Run(ctx context.Context, doc *document.Document, seed *model.Pattern) (*Outcome, error) {
	domain := domainFor(seed, doc, "")
	if doc == nil {
		err := eris.Wrap(document.ErrUnparsable, "iterate: nil document")
		return unparsable(domain, err), err
	}

	r := &run{
		domain:  domain,
		current: seed.Clone(),
		everHit: make(map[string]bool),
	}
	if r.current == nil {
		r.current = model.NewPattern(domain)
	}
	if r.current.Domain == "" {
		r.current.Domain = domain
	}
	if r.current.Rules == nil {
		r.current.Rules = make(map[model.Field][]model.FieldRule)
	}

	log := zap.L().With(zap.String("domain", domain))
	log.Info("iterate: starting",
		zap.Int("max_iterations", c.cfg.MaxIterations),
		zap.Int("seed_rules", r.current.RuleCount()),
	)

	for i := 1; i <= c.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return c.canceled(r, i-1), err
		}

		round := Round{Iteration: i}
		var prune map[string]bool
		if c.cfg.PruneBroken && r.report != nil {
			prune = brokenKeys(r.report, r.everHit)
		}

		var accepted []model.FieldRule
		fields := c.requestFields(r, i)
		round.Requested = fields
		if len(fields) > 0 {
			log.Info("iterate: drafting", zap.Int("iteration", i), zap.Int("fields", len(fields)))
			proposals, err := c.drafter.Draft(ctx, DraftRequest{
				Document:  doc,
				Domain:    domain,
				Fields:    fields,
				Current:   r.current.Clone(),
				Report:    r.report,
				Verdict:   r.verdict,
				Iteration: i,
			})
			if err != nil {
				if ctx.Err() != nil {
					return c.canceled(r, i-1), ctx.Err()
				}
				log.Warn("iterate: drafting failed, testing current draft",
					zap.Int("iteration", i), zap.Error(err))
				round.DraftError = err.Error()
				r.notes = append(r.notes, fmt.Sprintf("round %d: drafting failed: %v", i, err))
			} else {
				round.RulesProposed = len(proposals)
				accepted = c.filterProposals(proposals, fields)
			}
		}

		next := r.current
		if len(prune) > 0 || len(accepted) > 0 {
			next, round.RulesPruned, round.RulesAdded = r.current.Revise(prune, accepted)
		}

		// Testing.
		report, err := c.engine.Extract(doc, next)
		if err != nil {
			return unparsable(domain, err), eris.Wrap(err, "iterate: extract")
		}
		verdict := c.gate.Validate(report)
		r.current, r.report, r.verdict = next, report, verdict
		for _, res := range report.Results {
			if res.Source != nil {
				r.everHit[res.Source.Key()] = true
			}
		}
		r.consider(next, report, verdict)

		round.PatternVersion = next.Version
		round.SuccessRate = verdict.OverallSuccessRate
		round.Passed = verdict.Passed
		r.history = append(r.history, round)

		log.Info("iterate: tested draft",
			zap.Int("iteration", i),
			zap.Int("version", next.Version),
			zap.Int("rules_added", round.RulesAdded),
			zap.Int("rules_pruned", round.RulesPruned),
			zap.Float64("success_rate", verdict.OverallSuccessRate),
			zap.Bool("passed", verdict.Passed),
		)

		if verdict.Passed {
			log.Info("iterate: accepted", zap.Int("iteration", i), zap.Int("version", next.Version))
			return &Outcome{
				State:       StateAccepted,
				Reason:      ReasonPassed,
				Domain:      domain,
				Pattern:     next,
				Report:      report,
				Verdict:     verdict,
				Iterations:  i,
				Diagnostics: append([]string{}, r.notes...),
				History:     r.history,
			}, nil
		}
		if i < c.cfg.MaxIterations {
			log.Info("iterate: refining",
				zap.Int("iteration", i),
				zap.Strings("failing_critical", fieldNames(verdict.FailingCriticalFields)),
			)
		}
	}

	out := r.exhausted(ReasonBudget, c.cfg.MaxIterations)
	out.Diagnostics = append(out.Diagnostics,
		fmt.Sprintf("exhausted after %d rounds without a passing verdict", c.cfg.MaxIterations))
	log.Info("iterate: exhausted",
		zap.Int("iterations", out.Iterations),
		zap.Float64("best_success_rate", bestRate(out)),
	)
	return out, nil
}

// requestFields returns the fields to draft in round i. The first round
// fills fields that have no chain yet; later rounds refine failing critical
// fields and auxiliary fields that are absent or weak.
func (c *Controller) requestFields(r *run, i int) []model.Field {
	if i == 1 || r.report == nil {
		return r.current.MissingChains()
	}
	var fields []model.Field
	failing := make(map[model.Field]bool)
	if r.verdict != nil {
		for _, f := range r.verdict.FailingCriticalFields {
			failing[f] = true
		}
	}
	for _, f := range model.AllFields() {
		if failing[f] {
			fields = append(fields, f)
			continue
		}
		if c.cfg.Policy.IsCritical(f) {
			continue
		}
		res := r.report.Result(f)
		if !res.Present() || res.Confidence < c.cfg.RefineBelowConfidence {
			fields = append(fields, f)
		}
	}
	return fields
}

// filterProposals keeps well-formed rules for requested fields, dropping
// duplicates within the batch.
func (c *Controller) filterProposals(proposals []model.FieldRule, fields []model.Field) []model.FieldRule {
	wanted := make(map[model.Field]bool, len(fields))
	for _, f := range fields {
		wanted[f] = true
	}
	seen := make(map[string]bool)
	var out []model.FieldRule
	for _, p := range proposals {
		p.Locator = strings.TrimSpace(p.Locator)
		if !wanted[p.Field] || seen[p.Key()] {
			continue
		}
		if err := c.engine.CheckRule(p); err != nil {
			zap.L().Debug("iterate: dropping proposed rule", zap.String("rule", p.String()), zap.Error(err))
			continue
		}
		seen[p.Key()] = true
		out = append(out, p)
	}
	return out
}

// brokenKeys lists rules whose latest attempt was broken and that never hit.
func brokenKeys(report *model.Report, everHit map[string]bool) map[string]bool {
	keys := make(map[string]bool)
	for _, res := range report.Results {
		for _, a := range res.Attempts {
			if a.Broken && !everHit[a.Rule.Key()] {
				keys[a.Rule.Key()] = true
			}
		}
	}
	return keys
}

// consider records the draft if it beats the best so far: higher success
// rate, then more critical fields present. Ties keep the earlier draft.
func (r *run) consider(p *model.Pattern, report *model.Report, verdict *model.Verdict) {
	if r.bestReport != nil {
		switch {
		case report.OverallSuccessRate > r.bestReport.OverallSuccessRate:
		case report.OverallSuccessRate == r.bestReport.OverallSuccessRate &&
			report.CriticalPresentCount() > r.bestReport.CriticalPresentCount():
		default:
			return
		}
	}
	r.best, r.bestReport, r.bestVerdict = p, report, verdict
}

func (r *run) exhausted(reason string, iterations int) *Outcome {
	out := &Outcome{
		State:      StateExhausted,
		Reason:     reason,
		Domain:     r.domain,
		Pattern:    r.best,
		Report:     r.bestReport,
		Verdict:    r.bestVerdict,
		Iterations: iterations,
		History:    r.history,
	}
	if out.Pattern == nil {
		out.Pattern = r.current
	}
	if r.bestVerdict != nil {
		out.Diagnostics = append(out.Diagnostics, r.bestVerdict.Diagnostics...)
	}
	out.Diagnostics = append(out.Diagnostics, r.notes...)
	return out
}

func (c *Controller) canceled(r *run, iterations int) *Outcome {
	zap.L().Info("iterate: canceled", zap.String("domain", r.domain), zap.Int("iterations", iterations))
	out := r.exhausted(ReasonCanceled, iterations)
	out.Diagnostics = append(out.Diagnostics, fmt.Sprintf("canceled after %d rounds", iterations))
	return out
}

func unparsable(domain string, err error) *Outcome {
	zap.L().Info("iterate: document unparsable", zap.String("domain", domain), zap.Error(err))
	return &Outcome{
		State:       StateExhausted,
		Reason:      ReasonUnparsable,
		Domain:      domain,
		Diagnostics: []string{"document could not be parsed: " + err.Error()},
		History:     []Round{},
	}
}

// domainFor picks the run's domain: the seed's, else the document host,
// else the host of sourceURL.
func domainFor(seed *model.Pattern, doc *document.Document, sourceURL string) string {
	if seed != nil && seed.Domain != "" {
		return seed.Domain
	}
	if doc != nil {
		if u := doc.URL(); u != nil {
			return DomainFromHost(u.Hostname())
		}
	}
	return DomainFromURL(sourceURL)
}

func fieldNames(fields []model.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func bestRate(o *Outcome) float64 {
	if o.Report == nil {
		return 0
	}
	return o.Report.OverallSuccessRate
}
