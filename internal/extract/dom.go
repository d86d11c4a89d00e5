package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
)

// DOMStrategy reads element text, or an attribute when the selector ends
// in `@attr` (e.g. `img#main@src`).
type DOMStrategy struct{}

// Kind implements Strategy.
func (DOMStrategy) Kind() model.StrategyKind { return model.StrategyDOM }

var attrSuffixRe = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)

// splitAttr separates a trailing `@attr` from the selector. An `@` inside
// an attribute selector value is left alone.
func splitAttr(locator string) (selector, attr string) {
	locator = strings.TrimSpace(locator)
	i := strings.LastIndexByte(locator, '@')
	if i <= 0 {
		return locator, ""
	}
	if suffix := locator[i+1:]; attrSuffixRe.MatchString(suffix) {
		return strings.TrimSpace(locator[:i]), strings.ToLower(suffix)
	}
	return locator, ""
}

func compileDOM(locator string) (cascadia.Selector, string, error) {
	sel, attr := splitAttr(locator)
	if sel == "" {
		return nil, "", broken("malformed locator: empty selector")
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, "", broken("invalid selector: %v", err)
	}
	return compiled, attr, nil
}

// Check implements Strategy.
func (DOMStrategy) Check(locator string) error {
	_, _, err := compileDOM(locator)
	return err
}

// Locate implements Strategy. The first matching element with a non-empty
// value wins.
func (DOMStrategy) Locate(doc *document.Document, locator string) (string, error) {
	compiled, attr, err := compileDOM(locator)
	if err != nil {
		return "", err
	}
	matches := doc.Selection().FindMatcher(compiled)
	if matches.Length() == 0 {
		return "", miss("selector matched nothing")
	}

	var value string
	matches.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		value = elementValue(s, attr)
		return value == ""
	})
	if value == "" {
		if attr != "" {
			return "", miss("attribute %q empty on %d matches", attr, matches.Length())
		}
		return "", miss("matched elements are empty")
	}
	return value, nil
}

func elementValue(s *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(s.Text()); v != "" {
		return v
	}
	// Microdata often carries the value on a content attribute.
	v, _ := s.Attr("content")
	return strings.TrimSpace(v)
}
