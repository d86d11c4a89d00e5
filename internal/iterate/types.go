// Package iterate runs the draft, test and refine loop that turns one
// sample document into an accepted extraction pattern, or gives up with the
// best draft it saw.
package iterate

import (
	"context"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/validate"
)

// State is a controller state.
type State string

const (
	StateDrafting  State = "drafting"
	StateTesting   State = "testing"
	StateRefining  State = "refining"
	StateAccepted  State = "accepted"
	StateExhausted State = "exhausted"
)

// Terminal reasons carried on an Outcome.
const (
	ReasonPassed     = "verdict_passed"
	ReasonBudget     = "max_iterations_reached"
	ReasonUnparsable = "unparsable_document"
	ReasonCanceled   = "canceled"
)

const (
	defaultMaxRounds  = 3
	defaultRefineConf = 0.5
)

// Config bounds and tunes a controller run.
type Config struct {
	// MaxIterations is the hard cap on drafting/testing rounds.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// RefineBelowConfidence sends present auxiliary fields back for more
	// rules when their confidence is under this value.
	RefineBelowConfidence float64 `json:"refine_below_confidence" yaml:"refine_below_confidence"`
	// PruneBroken removes rules that can never hit the sample document.
	PruneBroken bool            `json:"prune_broken" yaml:"prune_broken"`
	Policy      validate.Policy `json:"policy" yaml:"policy"`
}

// DefaultConfig returns the built-in controller configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:         defaultMaxRounds,
		RefineBelowConfidence: defaultRefineConf,
		PruneBroken:           true,
		Policy:                validate.DefaultPolicy(),
	}
}

func (c Config) normalized() Config {
	if c.MaxIterations < 1 {
		c.MaxIterations = 1
	}
	if c.RefineBelowConfidence < 0 {
		c.RefineBelowConfidence = 0
	}
	c.Policy = c.Policy.Normalized()
	return c
}

// DraftRequest is what a Drafter is asked to propose rules for.
type DraftRequest struct {
	Document  *document.Document
	Domain    string
	Fields    []model.Field
	Current   *model.Pattern
	Report    *model.Report
	Verdict   *model.Verdict
	Iteration int
}

// Drafter proposes new rules for the requested fields. Proposals for other
// fields are ignored. The controller imposes no timeout on Draft; ctx
// carries the caller's deadline.
type Drafter interface {
	Draft(ctx context.Context, req DraftRequest) ([]model.FieldRule, error)
}

// DrafterFunc adapts a function to the Drafter interface.
type DrafterFunc func(ctx context.Context, req DraftRequest) ([]model.FieldRule, error)

// Draft implements Drafter.
func (f DrafterFunc) Draft(ctx context.Context, req DraftRequest) ([]model.FieldRule, error) {
	return f(ctx, req)
}

// Round records one drafting/testing cycle.
type Round struct {
	Iteration      int           `json:"iteration"`
	PatternVersion int           `json:"pattern_version"`
	Requested      []model.Field `json:"requested,omitempty"`
	RulesProposed  int           `json:"rules_proposed"`
	RulesAdded     int           `json:"rules_added"`
	RulesPruned    int           `json:"rules_pruned"`
	DraftError     string        `json:"draft_error,omitempty"`
	SuccessRate    float64       `json:"success_rate"`
	Passed         bool          `json:"passed"`
}

// Outcome is the terminal result of a run. On Exhausted, Pattern, Report
// and Verdict describe the best draft seen, which never passed.
type Outcome struct {
	State       State          `json:"state"`
	Reason      string         `json:"reason"`
	Domain      string         `json:"domain"`
	Pattern     *model.Pattern `json:"pattern,omitempty"`
	Report      *model.Report  `json:"report,omitempty"`
	Verdict     *model.Verdict `json:"verdict,omitempty"`
	Iterations  int            `json:"iterations"`
	Diagnostics []string       `json:"diagnostics"`
	History     []Round        `json:"history"`
}

// Accepted reports whether the run produced a passing pattern.
func (o *Outcome) Accepted() bool {
	return o != nil && o.State == StateAccepted
}
