package model

// AttemptOutcome is the result of evaluating one rule against a document.
type AttemptOutcome string

const (
	// OutcomeHit means the rule produced a value that passed the field's shape check.
	OutcomeHit AttemptOutcome = "hit"
	// OutcomeMiss means the rule found nothing.
	OutcomeMiss AttemptOutcome = "miss"
	// OutcomeRejected means the rule found a value that failed the shape
	// check. It counts as a miss; the raw value is kept for diagnostics.
	OutcomeRejected AttemptOutcome = "rejected"
)

// RuleAttempt records a single rule evaluation in a field's chain.
type RuleAttempt struct {
	Rule    FieldRule      `json:"rule"`
	Outcome AttemptOutcome `json:"outcome"`
	Raw     string         `json:"raw,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	// Broken is set when the rule can never hit this document, e.g. its
	// locator is malformed or names an embedded object the page lacks.
	Broken bool `json:"broken,omitempty"`
}

// FieldResult is the engine's output for one field.
type FieldResult struct {
	Field      Field         `json:"field"`
	Value      string        `json:"value,omitempty"`
	Confidence float64       `json:"confidence"`
	Source     *FieldRule    `json:"source,omitempty"`
	Attempts   []RuleAttempt `json:"attempts"`
}

// Present reports whether a rule in the chain hit.
func (r FieldResult) Present() bool {
	return r.Source != nil
}
