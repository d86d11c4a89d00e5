// Package extract runs extraction patterns against parsed documents. Each
// field's rules are tried in order and the first rule whose value passes the
// field's shape check wins; its confidence is the rule's own weight.
package extract

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/normalize"
)

const maxRawRunes = 200

// Engine evaluates patterns. It holds no per-document state and is safe for
// concurrent use.
type Engine struct {
	strategies map[model.StrategyKind]Strategy
}

// New creates an Engine with the given strategies, or the built-in set when
// none are passed.
func New(strategies ...Strategy) *Engine {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	e := &Engine{strategies: make(map[model.StrategyKind]Strategy, len(strategies))}
	for _, s := range strategies {
		e.strategies[s.Kind()] = s
	}
	return e
}

// ExtractHTML parses html and extracts p from it. The only error is a
// wrapped document.ErrUnparsable.
func (e *Engine) ExtractHTML(html, sourceURL string, p *model.Pattern) (*model.Report, error) {
	doc, err := document.ParseString(html, sourceURL)
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse document")
	}
	return e.Extract(doc, p)
}

// Extract runs every field chain of p against doc. A nil pattern yields a
// report with every field absent. Rule-level problems never produce an
// error; they are recorded as attempts.
func (e *Engine) Extract(doc *document.Document, p *model.Pattern) (*model.Report, error) {
	if doc == nil {
		return nil, eris.Wrap(document.ErrUnparsable, "extract: nil document")
	}

	report := &model.Report{Results: make(map[model.Field]model.FieldResult, len(model.AllFields()))}
	if p != nil {
		report.Domain = p.Domain
		report.PatternVersion = p.Version
	}
	for _, f := range model.AllFields() {
		report.Results[f] = e.extractField(doc, f, p.Chain(f))
	}
	report.OverallSuccessRate = model.SuccessRate(report.Results)
	report.CriticalFieldsSatisfied = model.CriticalSatisfied(report.Results, model.CriticalFields())

	zap.L().Debug("extract: report",
		zap.String("domain", report.Domain),
		zap.Int("pattern_version", report.PatternVersion),
		zap.Int("present", report.PresentCount()),
		zap.Float64("success_rate", report.OverallSuccessRate),
	)
	return report, nil
}

func (e *Engine) extractField(doc *document.Document, f model.Field, chain []model.FieldRule) model.FieldResult {
	result := model.FieldResult{Field: f, Attempts: make([]model.RuleAttempt, 0, len(chain))}
	for _, rule := range chain {
		attempt, value := e.Attempt(doc, rule)
		result.Attempts = append(result.Attempts, attempt)
		if attempt.Outcome != model.OutcomeHit {
			continue
		}
		src := rule
		result.Value = value
		result.Confidence = rule.Confidence
		result.Source = &src
		break
	}
	return result
}

// Attempt evaluates a single rule and returns the attempt record plus the
// normalized value on a hit.
func (e *Engine) Attempt(doc *document.Document, rule model.FieldRule) (model.RuleAttempt, string) {
	attempt := model.RuleAttempt{Rule: rule, Outcome: model.OutcomeMiss}

	if err := rule.Validate(); err != nil {
		attempt.Reason = "invalid rule: " + eris.Cause(err).Error()
		attempt.Broken = true
		return attempt, ""
	}
	s, ok := e.strategies[rule.Kind]
	if !ok {
		attempt.Reason = fmt.Sprintf("no strategy for kind %q", rule.Kind)
		attempt.Broken = true
		return attempt, ""
	}

	raw, err := locate(s, doc, rule.Locator)
	if err != nil {
		attempt.Reason = err.Error()
		attempt.Broken = IsBroken(err)
		return attempt, ""
	}

	value, err := normalize.Field(rule.Field, raw, doc.URL())
	if err != nil {
		attempt.Outcome = model.OutcomeRejected
		attempt.Raw = truncate(raw)
		attempt.Reason = err.Error()
		return attempt, ""
	}

	attempt.Outcome = model.OutcomeHit
	attempt.Raw = truncate(raw)
	return attempt, value
}

// locate calls the strategy, converting a panic into a miss.
func locate(s Strategy, doc *document.Document, locator string) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Debug("extract: strategy panic",
				zap.String("kind", string(s.Kind())),
				zap.String("locator", locator),
				zap.Any("panic", r),
			)
			raw, err = "", miss("strategy panic")
		}
	}()
	raw, err = s.Locate(doc, locator)
	if err != nil {
		var me *MissError
		if !errors.As(err, &me) {
			err = miss("%v", err)
		}
	}
	return raw, err
}

// CheckRule reports whether rule is statically valid and its locator is
// well formed for its strategy.
func (e *Engine) CheckRule(rule model.FieldRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s, ok := e.strategies[rule.Kind]
	if !ok {
		return eris.Errorf("extract: no strategy for kind %q", rule.Kind)
	}
	if err := s.Check(rule.Locator); err != nil {
		return eris.Wrapf(err, "extract: %s rule for %s", rule.Kind, rule.Field)
	}
	return nil
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxRawRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxRawRunes]) + "…"
}
