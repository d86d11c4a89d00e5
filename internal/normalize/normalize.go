// Package normalize holds the per-field shape checks. A raw string that a
// strategy located only counts as a hit once it normalizes here.
package normalize

import (
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-patterns/internal/model"
)

// Field normalizes raw as a value for f. base is the document's canonical
// URL and may be nil; it is only consulted for images.
func Field(f model.Field, raw string, base *url.URL) (string, error) {
	switch f {
	case model.FieldPrice:
		d, err := Price(raw)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	case model.FieldCurrency:
		return Currency(raw)
	case model.FieldTitle:
		return Title(raw)
	case model.FieldImage:
		return Image(raw, base)
	case model.FieldAvailability:
		return Availability(raw)
	case model.FieldArticleNumber, model.FieldModelNumber:
		return Identifier(raw)
	default:
		return "", eris.Errorf("normalize: unknown field %q", f)
	}
}
