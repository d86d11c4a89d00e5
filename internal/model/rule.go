package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// StrategyKind names how a rule locates its value inside a document.
type StrategyKind string

const (
	// StrategyEmbedded reads a JSON object embedded in the page, such as a
	// JSON-LD block or a state blob assigned to a global.
	StrategyEmbedded StrategyKind = "embedded"
	// StrategyMeta reads a <meta> tag by name, property or itemprop.
	StrategyMeta StrategyKind = "meta"
	// StrategyDOM reads element text or an attribute through a CSS selector.
	StrategyDOM StrategyKind = "dom"
	// StrategyURL parses the value out of the document's canonical URL.
	StrategyURL StrategyKind = "url"
)

// AllStrategyKinds returns the supported strategy kinds.
func AllStrategyKinds() []StrategyKind {
	return []StrategyKind{StrategyEmbedded, StrategyMeta, StrategyDOM, StrategyURL}
}

// Valid reports whether k is a supported strategy kind.
func (k StrategyKind) Valid() bool {
	switch k {
	case StrategyEmbedded, StrategyMeta, StrategyDOM, StrategyURL:
		return true
	}
	return false
}

// FieldRule is one strategy for locating a single field. Rules are values:
// they are copied, never modified after creation.
type FieldRule struct {
	Field      Field        `json:"field" yaml:"field"`
	Kind       StrategyKind `json:"kind" yaml:"kind"`
	Locator    string       `json:"locator" yaml:"locator"`
	Confidence float64      `json:"confidence" yaml:"confidence"`
}

// Validate checks the rule's static invariants. Whether the locator can
// ever match a given document is decided by the engine, not here.
func (r FieldRule) Validate() error {
	if !r.Field.Valid() {
		return eris.Errorf("model: rule has unknown field %q", r.Field)
	}
	if !r.Kind.Valid() {
		return eris.Errorf("model: rule for %s has unknown kind %q", r.Field, r.Kind)
	}
	if strings.TrimSpace(r.Locator) == "" {
		return eris.Errorf("model: %s rule for %s has empty locator", r.Kind, r.Field)
	}
	if r.Confidence <= 0 || r.Confidence > 1 {
		return eris.Errorf("model: %s rule for %s has confidence %v outside (0,1]", r.Kind, r.Field, r.Confidence)
	}
	return nil
}

// Key identifies the rule by what it does, ignoring its confidence.
func (r FieldRule) Key() string {
	return string(r.Field) + "|" + string(r.Kind) + "|" + r.Locator
}

// String renders the rule for diagnostics, e.g. `meta "og:title"`.
func (r FieldRule) String() string {
	return fmt.Sprintf("%s %q", r.Kind, r.Locator)
}
