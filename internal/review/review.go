// Package review turns exhausted runs into fix-it reports for a human and
// delivers them to a review queue.
package review

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/model"
	"github.com/sells-group/product-patterns/internal/patternfile"
)

// Payload is the JSON body sent to the review webhook.
type Payload struct {
	Domain                string        `json:"domain"`
	URL                   string        `json:"url"`
	State                 iterate.State `json:"state"`
	Reason                string        `json:"reason"`
	Iterations            int           `json:"iterations"`
	SuccessRate           float64       `json:"success_rate"`
	FailingCriticalFields []model.Field `json:"failing_critical_fields"`
	Diagnostics           []string      `json:"diagnostics"`
	Report                string        `json:"report"`
	PatternYAML           string        `json:"pattern_yaml,omitempty"`
	Timestamp             time.Time     `json:"timestamp"`
}

// NewPayload builds the webhook payload for an outcome.
func NewPayload(o *iterate.Outcome, url string) Payload {
	p := Payload{
		URL:         url,
		Report:      Render(o),
		Timestamp:   time.Now().UTC(),
		Diagnostics: []string{},
	}
	if o == nil {
		return p
	}
	p.Domain = o.Domain
	p.State = o.State
	p.Reason = o.Reason
	p.Iterations = o.Iterations
	if o.Diagnostics != nil {
		p.Diagnostics = o.Diagnostics
	}
	if o.Verdict != nil {
		p.SuccessRate = o.Verdict.OverallSuccessRate
		p.FailingCriticalFields = o.Verdict.FailingCriticalFields
	}
	if o.Pattern != nil && o.Pattern.Validate() == nil {
		if data, err := patternfile.Marshal(o.Pattern); err == nil {
			p.PatternYAML = string(data)
		}
	}
	return p
}

// Render formats an outcome as a markdown fix-it report.
func Render(o *iterate.Outcome) string {
	var b strings.Builder
	if o == nil {
		b.WriteString("# Pattern review\n\nNo outcome.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "# Pattern review: %s\n\n", orDash(o.Domain))
	fmt.Fprintf(&b, "- **State:** %s\n", o.State)
	fmt.Fprintf(&b, "- **Reason:** %s\n", orDash(o.Reason))
	fmt.Fprintf(&b, "- **Iterations:** %d\n", o.Iterations)
	if v := o.Verdict; v != nil {
		fmt.Fprintf(&b, "- **Success rate:** %.0f%%\n", v.OverallSuccessRate*100)
		fmt.Fprintf(&b, "- **Critical fields satisfied:** %t\n", v.CriticalFieldsSatisfied)
		if len(v.FailingCriticalFields) > 0 {
			fmt.Fprintf(&b, "- **Failing critical fields:** %s\n", joinFields(v.FailingCriticalFields))
		}
	}
	if o.Pattern != nil {
		fmt.Fprintf(&b, "- **Best draft:** v%d, %d rules\n", o.Pattern.Version, o.Pattern.RuleCount())
	}

	if len(o.Diagnostics) > 0 {
		b.WriteString("\n## Diagnostics\n\n")
		for _, d := range o.Diagnostics {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	if o.Verdict != nil && len(o.Verdict.FieldDiagnostics) > 0 {
		b.WriteString("\n## Failing fields\n")
		for _, fd := range o.Verdict.FieldDiagnostics {
			fmt.Fprintf(&b, "\n### %s (%s", fd.Field, fd.Problem)
			if fd.Problem == model.ProblemLowConfidence {
				fmt.Fprintf(&b, ", %.2f < %.2f", fd.Confidence, fd.Floor)
			}
			b.WriteString(")\n\n")
			if len(fd.Attempts) == 0 {
				b.WriteString("No rules in chain.\n")
				continue
			}
			b.WriteString("| # | Kind | Locator | Outcome | Reason |\n|---|---|---|---|---|\n")
			for i, a := range fd.Attempts {
				fmt.Fprintf(&b, "| %d | %s | `%s` | %s | %s |\n",
					i+1, a.Kind, cell(a.Locator), a.Outcome, cell(a.Reason))
			}
		}
	}

	if o.Report != nil {
		b.WriteString("\n## Extracted values\n\n| Field | Value | Confidence |\n|---|---|---|\n")
		for _, f := range model.AllFields() {
			res := o.Report.Result(f)
			val := "-"
			if res.Present() {
				val = cell(res.Value)
			}
			fmt.Fprintf(&b, "| %s | %s | %.2f |\n", f, val, res.Confidence)
		}
	}

	if len(o.History) > 0 {
		b.WriteString("\n## Rounds\n\n| Round | Version | Requested | Added | Pruned | Rate | Passed | Draft error |\n|---|---|---|---|---|---|---|---|\n")
		for _, r := range o.History {
			fmt.Fprintf(&b, "| %d | v%d | %s | %d | %d | %.0f%% | %t | %s |\n",
				r.Iteration, r.PatternVersion, joinFields(r.Requested), r.RulesAdded,
				r.RulesPruned, r.SuccessRate*100, r.Passed, cell(r.DraftError))
		}
	}
	return b.String()
}

func joinFields(fields []model.Field) string {
	if len(fields) == 0 {
		return "-"
	}
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// cell keeps table cells on one line.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) > 120 {
		s = string([]rune(s)[:117]) + "..."
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
