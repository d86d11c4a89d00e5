package extract

import (
	"errors"
	"fmt"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
)

// Strategy locates a raw value for a locator inside a document. A Strategy
// must not mutate the document; the same Document may be read by many
// strategies concurrently.
type Strategy interface {
	// Kind returns the strategy kind this implementation serves.
	Kind() model.StrategyKind
	// Check validates the locator syntax without a document.
	Check(locator string) error
	// Locate returns the raw value or a *MissError.
	Locate(doc *document.Document, locator string) (string, error)
}

// MissError explains why a rule found nothing. Broken misses can never hit
// the document they were evaluated against.
type MissError struct {
	Reason string
	Broken bool
}

func (e *MissError) Error() string {
	return e.Reason
}

func miss(format string, args ...any) error {
	return &MissError{Reason: fmt.Sprintf(format, args...)}
}

func broken(format string, args ...any) error {
	return &MissError{Reason: fmt.Sprintf(format, args...), Broken: true}
}

// IsBroken reports whether err marks a permanently broken rule.
func IsBroken(err error) bool {
	var me *MissError
	return errors.As(err, &me) && me.Broken
}

// DefaultStrategies returns one instance of every built-in strategy.
func DefaultStrategies() []Strategy {
	return []Strategy{
		EmbeddedStrategy{},
		MetaStrategy{},
		DOMStrategy{},
		URLStrategy{},
	}
}
