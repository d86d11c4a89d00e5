package validate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/model"
)

// Gate applies a fixed policy to reports.
type Gate struct {
	policy Policy
}

// NewGate creates a Gate for the given policy.
func NewGate(p Policy) *Gate {
	return &Gate{policy: p.Normalized()}
}

// Policy returns the normalized policy the gate applies.
func (g *Gate) Policy() Policy {
	return g.policy
}

// Validate applies the gate's policy to report.
func (g *Gate) Validate(report *model.Report) *model.Verdict {
	return Validate(report, g.policy)
}

// Validate evaluates report against policy. It reads nothing but its
// arguments, so equal inputs always give equal verdicts.
func Validate(report *model.Report, policy Policy) *model.Verdict {
	policy = policy.Normalized()

	var results map[model.Field]model.FieldResult
	if report != nil {
		results = report.Results
	}
	rate := model.SuccessRate(results)

	v := &model.Verdict{
		OverallSuccessRate:      rate,
		CriticalFieldsSatisfied: model.CriticalSatisfied(results, policy.CriticalFields),
		FailingCriticalFields:   []model.Field{},
		Diagnostics:             []string{},
	}

	for _, f := range policy.CriticalFields {
		res := report.Result(f)
		switch {
		case !res.Present():
			v.FailingCriticalFields = append(v.FailingCriticalFields, f)
			v.FieldDiagnostics = append(v.FieldDiagnostics, fieldDiagnostic(res, model.ProblemAbsent, 0))
		case res.Confidence < policy.MinConfidencePerCriticalField:
			v.FailingCriticalFields = append(v.FailingCriticalFields, f)
			v.FieldDiagnostics = append(v.FieldDiagnostics,
				fieldDiagnostic(res, model.ProblemLowConfidence, policy.MinConfidencePerCriticalField))
		}
	}
	for _, d := range v.FieldDiagnostics {
		v.Diagnostics = append(v.Diagnostics, FormatFieldDiagnostic(d))
	}

	rateOK := rate >= policy.MinSuccessRate
	if !rateOK {
		v.Diagnostics = append(v.Diagnostics, rateDiagnostic(report, rate, policy.MinSuccessRate))
	}

	v.Passed = v.CriticalFieldsSatisfied && rateOK && len(v.FailingCriticalFields) == 0

	zap.L().Debug("validate: verdict",
		zap.Bool("passed", v.Passed),
		zap.Float64("success_rate", rate),
		zap.Int("failing_critical", len(v.FailingCriticalFields)),
	)
	return v
}

func fieldDiagnostic(res model.FieldResult, problem model.FieldProblem, floor float64) model.FieldDiagnostic {
	d := model.FieldDiagnostic{
		Field:      res.Field,
		Problem:    problem,
		Confidence: res.Confidence,
		Floor:      floor,
		Attempts:   make([]model.AttemptDiagnostic, 0, len(res.Attempts)),
	}
	for _, a := range res.Attempts {
		d.Attempts = append(d.Attempts, model.AttemptDiagnostic{
			Kind:    a.Rule.Kind,
			Locator: a.Rule.Locator,
			Outcome: a.Outcome,
			Reason:  a.Reason,
		})
	}
	return d
}

// FormatFieldDiagnostic renders d as one line, e.g.
//
//	price: absent; tried embedded "ld+json#offers.price" (miss: path "offers.price" not found), dom ".price" (rejected: no digits)
func FormatFieldDiagnostic(d model.FieldDiagnostic) string {
	var b strings.Builder
	b.WriteString(string(d.Field))
	b.WriteString(": ")
	switch d.Problem {
	case model.ProblemLowConfidence:
		fmt.Fprintf(&b, "confidence %.2f below floor %.2f", d.Confidence, d.Floor)
	default:
		b.WriteString("absent")
	}
	if len(d.Attempts) == 0 {
		b.WriteString("; no rules")
		return b.String()
	}
	b.WriteString("; tried ")
	for i, a := range d.Attempts {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %q (%s", a.Kind, a.Locator, a.Outcome)
		if a.Reason != "" {
			b.WriteString(": ")
			b.WriteString(a.Reason)
		}
		b.WriteString(")")
	}
	return b.String()
}

func rateDiagnostic(report *model.Report, rate, minRate float64) string {
	var absent []string
	for _, f := range model.AllFields() {
		if !report.Result(f).Present() {
			absent = append(absent, string(f))
		}
	}
	present := len(model.AllFields()) - len(absent)
	line := fmt.Sprintf("success rate %.2f below minimum %.2f (%d/%d fields present)",
		rate, minRate, present, len(model.AllFields()))
	if len(absent) > 0 {
		line += "; absent: " + strings.Join(absent, ", ")
	}
	return line
}
