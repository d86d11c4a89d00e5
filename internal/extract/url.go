package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
)

// URLStrategy applies a regular expression to the document's canonical URL
// and returns its first capture group.
type URLStrategy struct{}

// Kind implements Strategy.
func (URLStrategy) Kind() model.StrategyKind { return model.StrategyURL }

func compileURL(locator string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(strings.TrimSpace(locator))
	if err != nil {
		return nil, broken("invalid regex: %v", err)
	}
	if re.NumSubexp() < 1 {
		return nil, broken("regex has no capture group")
	}
	return re, nil
}

// Check implements Strategy.
func (URLStrategy) Check(locator string) error {
	_, err := compileURL(locator)
	return err
}

// Locate implements Strategy.
func (URLStrategy) Locate(doc *document.Document, locator string) (string, error) {
	re, err := compileURL(locator)
	if err != nil {
		return "", err
	}
	u := doc.URL()
	if u == nil {
		return "", broken("document has no url")
	}
	m := re.FindStringSubmatch(u.String())
	if m == nil {
		return "", miss("url does not match")
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return "", miss("capture group empty")
	}
	return v, nil
}
