package extract

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sells-group/product-patterns/internal/document"
	"github.com/sells-group/product-patterns/internal/model"
)

// EmbeddedStrategy reads a path out of an embedded JSON object. Locators
// have the form `object#path` or `object@Type#path`, for example
// `ld+json@Product#offers.price` or `__NEXT_DATA__#props.pageProps.product.sku`.
// Paths use gjson syntax.
type EmbeddedStrategy struct{}

// Kind implements Strategy.
func (EmbeddedStrategy) Kind() model.StrategyKind { return model.StrategyEmbedded }

type embeddedLocator struct {
	object string
	typ    string
	path   string
}

func parseEmbedded(locator string) (embeddedLocator, error) {
	obj, path, ok := strings.Cut(strings.TrimSpace(locator), "#")
	if !ok {
		return embeddedLocator{}, broken("malformed locator: missing '#'")
	}
	obj = strings.TrimSpace(obj)
	path = strings.TrimSpace(path)
	var typ string
	if name, t, hasType := strings.Cut(obj, "@"); hasType {
		obj, typ = strings.TrimSpace(name), strings.TrimSpace(t)
		if typ == "" {
			return embeddedLocator{}, broken("malformed locator: empty type after '@'")
		}
	}
	if obj == "" {
		return embeddedLocator{}, broken("malformed locator: empty object name")
	}
	if path == "" {
		return embeddedLocator{}, broken("malformed locator: empty path")
	}
	return embeddedLocator{object: obj, typ: typ, path: path}, nil
}

// Check implements Strategy.
func (EmbeddedStrategy) Check(locator string) error {
	_, err := parseEmbedded(locator)
	return err
}

// Locate implements Strategy. Objects are tried in document order; the
// first one whose path yields a non-empty scalar wins.
func (EmbeddedStrategy) Locate(doc *document.Document, locator string) (string, error) {
	loc, err := parseEmbedded(locator)
	if err != nil {
		return "", err
	}
	objects := doc.Objects(loc.object)
	if len(objects) == 0 {
		return "", broken("embedded object %q absent", loc.object)
	}

	typed := 0
	for _, o := range objects {
		if loc.typ != "" && !o.HasType(loc.typ) {
			continue
		}
		typed++
		if v, ok := scalar(gjson.Get(o.JSON, loc.path)); ok {
			return v, nil
		}
	}
	if typed == 0 {
		return "", miss("no %s object of type %s", loc.object, loc.typ)
	}
	return "", miss("path %q not found", loc.path)
}

// scalar returns the string form of a scalar result. For arrays the first
// non-empty scalar element is used.
func scalar(r gjson.Result) (string, bool) {
	switch {
	case !r.Exists():
		return "", false
	case r.IsArray():
		for _, el := range r.Array() {
			if v, ok := scalar(el); ok {
				return v, true
			}
		}
		return "", false
	case r.IsObject(), r.Type == gjson.Null:
		return "", false
	}
	v := strings.TrimSpace(r.String())
	return v, v != ""
}
