package extract

import (
	"strings"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
)

// MetaStrategy reads a <meta> tag's content by name, property or itemprop.
type MetaStrategy struct{}

// Kind implements Strategy.
func (MetaStrategy) Kind() model.StrategyKind { return model.StrategyMeta }

// Check implements Strategy.
func (MetaStrategy) Check(locator string) error {
	key := strings.TrimSpace(locator)
	if key == "" || strings.ContainsAny(key, " \t\n\"<>") {
		return broken("malformed meta key %q", locator)
	}
	return nil
}

// Locate implements Strategy.
func (s MetaStrategy) Locate(doc *document.Document, locator string) (string, error) {
	if err := s.Check(locator); err != nil {
		return "", err
	}
	v, ok := doc.Meta(locator)
	if !ok {
		return "", miss("meta %q not present", strings.TrimSpace(locator))
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", miss("meta %q is empty", strings.TrimSpace(locator))
	}
	return v, nil
}
