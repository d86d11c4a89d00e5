package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Pattern is the versioned set of fallback chains for one domain. A Pattern
// is never modified in place: every revision is a new value whose
// ParentVersion points at the draft it was derived from.
type Pattern struct {
	ID            string                `json:"id,omitempty" yaml:"id,omitempty"`
	Domain        string                `json:"domain" yaml:"domain"`
	Version       int                   `json:"version" yaml:"version"`
	ParentVersion int                   `json:"parent_version,omitempty" yaml:"parent_version,omitempty"`
	Rules         map[Field][]FieldRule `json:"rules" yaml:"rules"`
	CreatedAt     time.Time             `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

// NewPattern returns an empty version-0 pattern for domain.
func NewPattern(domain string) *Pattern {
	return &Pattern{
		Domain: domain,
		Rules:  make(map[Field][]FieldRule),
	}
}

// Chain returns a copy of the rule chain for f.
func (p *Pattern) Chain(f Field) []FieldRule {
	if p == nil {
		return nil
	}
	src := p.Rules[f]
	if len(src) == 0 {
		return nil
	}
	out := make([]FieldRule, len(src))
	copy(out, src)
	return out
}

// Complete reports whether every defined field has a non-empty chain.
func (p *Pattern) Complete() bool {
	return len(p.MissingChains()) == 0
}

// MissingChains lists the fields that have no rules, in canonical order.
func (p *Pattern) MissingChains() []Field {
	var missing []Field
	for _, f := range AllFields() {
		if p == nil || len(p.Rules[f]) == 0 {
			missing = append(missing, f)
		}
	}
	return missing
}

// RuleCount returns the total number of rules across all chains.
func (p *Pattern) RuleCount() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, chain := range p.Rules {
		n += len(chain)
	}
	return n
}

// Has reports whether a rule with the same key is already in the pattern.
func (p *Pattern) Has(r FieldRule) bool {
	if p == nil {
		return false
	}
	for _, existing := range p.Rules[r.Field] {
		if existing.Key() == r.Key() {
			return true
		}
	}
	return false
}

// Validate checks every rule and that each rule sits in its own field's chain.
func (p *Pattern) Validate() error {
	if p == nil {
		return eris.New("model: nil pattern")
	}
	if p.Domain == "" {
		return eris.New("model: pattern has no domain")
	}
	for f, chain := range p.Rules {
		if !f.Valid() {
			return eris.Errorf("model: pattern has chain for unknown field %q", f)
		}
		for i, r := range chain {
			if r.Field != f {
				return eris.Errorf("model: rule %d in %s chain targets %s", i, f, r.Field)
			}
			if err := r.Validate(); err != nil {
				return eris.Wrapf(err, "model: %s chain rule %d", f, i)
			}
		}
	}
	return nil
}

// Clone returns a deep copy with identical version metadata.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	out := *p
	out.Rules = make(map[Field][]FieldRule, len(p.Rules))
	for f, chain := range p.Rules {
		c := make([]FieldRule, len(chain))
		copy(c, chain)
		out.Rules[f] = c
	}
	return &out
}

// revise returns the next revision of p with fresh identity.
func (p *Pattern) revise() *Pattern {
	next := p.Clone()
	next.ID = ""
	next.ParentVersion = p.Version
	next.Version = p.Version + 1
	next.CreatedAt = time.Time{}
	return next
}

// WithAppended returns a new revision where each rule is appended to the end
// of its field's chain. Rules already present (by Key) are skipped, so
// existing fallbacks keep their position and trust order.
func (p *Pattern) WithAppended(rules []FieldRule) (*Pattern, int) {
	next, _, added := p.Revise(nil, rules)
	return next, added
}

// Without returns a new revision with the rules whose keys are listed
// removed. Chains emptied by the removal are dropped from the map.
func (p *Pattern) Without(keys map[string]bool) (*Pattern, int) {
	next, removed, _ := p.Revise(keys, nil)
	return next, removed
}

// Revise produces a single new revision that first drops the rules whose
// keys are in remove and then appends add. It returns the counts of
// removed and added rules.
func (p *Pattern) Revise(remove map[string]bool, add []FieldRule) (*Pattern, int, int) {
	next := p.revise()
	removed, added := 0, 0
	if len(remove) > 0 {
		for f, chain := range next.Rules {
			kept := chain[:0]
			for _, r := range chain {
				if remove[r.Key()] {
					removed++
					continue
				}
				kept = append(kept, r)
			}
			if len(kept) == 0 {
				delete(next.Rules, f)
				continue
			}
			next.Rules[f] = kept
		}
	}
	for _, r := range add {
		if next.Has(r) {
			continue
		}
		next.Rules[r.Field] = append(next.Rules[r.Field], r)
		added++
	}
	return next, removed, added
}
