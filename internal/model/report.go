package model

// Report is the engine's per-document output. It is derived data and is
// only persisted alongside the verdict it produced.
type Report struct {
	Domain                  string                `json:"domain"`
	PatternVersion          int                   `json:"pattern_version"`
	Results                 map[Field]FieldResult `json:"results"`
	OverallSuccessRate      float64               `json:"overall_success_rate"`
	CriticalFieldsSatisfied bool                  `json:"critical_fields_satisfied"`
}

// Result returns the result for f, or an absent result when the report has
// no entry for it.
func (r *Report) Result(f Field) FieldResult {
	if r != nil {
		if res, ok := r.Results[f]; ok {
			return res
		}
	}
	return FieldResult{Field: f}
}

// PresentCount returns how many defined fields have a value.
func (r *Report) PresentCount() int {
	n := 0
	for _, f := range AllFields() {
		if r.Result(f).Present() {
			n++
		}
	}
	return n
}

// CriticalPresentCount returns how many built-in critical fields have a value.
func (r *Report) CriticalPresentCount() int {
	n := 0
	for _, f := range CriticalFields() {
		if r.Result(f).Present() {
			n++
		}
	}
	return n
}

// SuccessRate computes present/defined over the full field set.
func SuccessRate(results map[Field]FieldResult) float64 {
	all := AllFields()
	present := 0
	for _, f := range all {
		if res, ok := results[f]; ok && res.Present() {
			present++
		}
	}
	return float64(present) / float64(len(all))
}

// CriticalSatisfied reports whether every field in critical has a value,
// regardless of confidence.
func CriticalSatisfied(results map[Field]FieldResult, critical []Field) bool {
	for _, f := range critical {
		res, ok := results[f]
		if !ok || !res.Present() {
			return false
		}
	}
	return true
}

// Verdict is the validation gate's decision for one report.
type Verdict struct {
	Passed                  bool              `json:"passed"`
	OverallSuccessRate      float64           `json:"overall_success_rate"`
	CriticalFieldsSatisfied bool              `json:"critical_fields_satisfied"`
	FailingCriticalFields   []Field           `json:"failing_critical_fields"`
	Diagnostics             []string          `json:"diagnostics"`
	FieldDiagnostics        []FieldDiagnostic `json:"field_diagnostics,omitempty"`
}

// FieldProblem classifies why a field failed validation.
type FieldProblem string

const (
	ProblemAbsent        FieldProblem = "absent"
	ProblemLowConfidence FieldProblem = "low_confidence"
)

// FieldDiagnostic is the structured fix-it entry for one failing field.
type FieldDiagnostic struct {
	Field      Field               `json:"field"`
	Problem    FieldProblem        `json:"problem"`
	Confidence float64             `json:"confidence"`
	Floor      float64             `json:"floor,omitempty"`
	Attempts   []AttemptDiagnostic `json:"attempts"`
}

// AttemptDiagnostic explains a single rule's outcome for a failing field.
type AttemptDiagnostic struct {
	Kind    StrategyKind   `json:"kind"`
	Locator string         `json:"locator"`
	Outcome AttemptOutcome `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
}
