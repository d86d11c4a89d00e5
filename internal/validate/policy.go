// Package validate decides whether an extraction report is good enough to
// trust the pattern that produced it.
package validate

import (
	"github.com/sells-group/product-patterns/internal/model"
)

// DefaultMinSuccessRate tolerates four of seven fields being absent as long
// as every critical field is present.
const DefaultMinSuccessRate = 0.4

// Policy holds the gate's thresholds. It is a pure value; callers build it
// from configuration.
type Policy struct {
	// CriticalFields must all be present. The built-in critical fields are
	// always included, whatever is configured.
	CriticalFields []model.Field `json:"critical_fields" yaml:"critical_fields"`
	// MinSuccessRate is the minimum share of all fields that must be present.
	MinSuccessRate float64 `json:"min_success_rate" yaml:"min_success_rate"`
	// MinConfidencePerCriticalField is the floor every critical field's
	// confidence must reach. Zero accepts any present value.
	MinConfidencePerCriticalField float64 `json:"min_confidence_per_critical_field" yaml:"min_confidence_per_critical_field"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		CriticalFields: model.CriticalFields(),
		MinSuccessRate: DefaultMinSuccessRate,
	}
}

// Normalized returns a copy whose critical set is the union of the
// configured and built-in critical fields in canonical order, with
// unknown fields dropped and thresholds clamped to [0,1].
func (p Policy) Normalized() Policy {
	seen := make(map[model.Field]bool)
	var critical []model.Field
	add := func(f model.Field) {
		if f.Valid() && !seen[f] {
			seen[f] = true
			critical = append(critical, f)
		}
	}
	for _, f := range model.CriticalFields() {
		add(f)
	}
	for _, f := range p.CriticalFields {
		add(f)
	}
	model.SortFields(critical)

	return Policy{
		CriticalFields:                critical,
		MinSuccessRate:                clamp(p.MinSuccessRate),
		MinConfidencePerCriticalField: clamp(p.MinConfidencePerCriticalField),
	}
}

// IsCritical reports whether f is in the normalized critical set.
func (p Policy) IsCritical(f model.Field) bool {
	for _, c := range p.Normalized().CriticalFields {
		if c == f {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
