package normalize

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

const (
	maxTitleRunes        = 512
	maxAvailabilityRunes = 128
)

var (
	ErrEmpty          = eris.New("empty value")
	ErrTooLong        = eris.New("value too long")
	ErrNotImageURL    = eris.New("not an http(s) image url")
	ErrBadIdentifier  = eris.New("not an identifier")
	ErrRelativeNoBase = eris.New("relative url without base")
)

// collapse unescapes entities and folds runs of whitespace into one space.
func collapse(raw string) string {
	return strings.Join(strings.Fields(html.UnescapeString(raw)), " ")
}

// Title cleans a product title.
func Title(raw string) (string, error) {
	s := collapse(raw)
	if s == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(s) > maxTitleRunes {
		return "", ErrTooLong
	}
	return s, nil
}

// Image resolves raw into an absolute http(s) URL. Protocol-relative values
// take base's scheme (https when base is nil); relative paths resolve
// against base. The first candidate of a srcset list is used.
func Image(raw string, base *url.URL) (string, error) {
	s := strings.TrimSpace(html.UnescapeString(raw))
	if f := strings.Fields(s); len(f) > 1 {
		s = strings.TrimSuffix(f[0], ",")
	}
	if s == "" {
		return "", ErrEmpty
	}
	if strings.HasPrefix(s, "//") {
		scheme := "https"
		if base != nil && base.Scheme != "" {
			scheme = base.Scheme
		}
		s = scheme + ":" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", eris.Wrap(ErrNotImageURL, err.Error())
	}
	if !u.IsAbs() {
		if base == nil {
			return "", ErrRelativeNoBase
		}
		u = base.ResolveReference(u)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrNotImageURL
	}
	return u.String(), nil
}

// Availability values.
const (
	InStock      = "in_stock"
	OutOfStock   = "out_of_stock"
	PreOrder     = "preorder"
	BackOrder    = "backorder"
	Limited      = "limited"
	Discontinued = "discontinued"
)

// schemaAvailability maps schema.org ItemAvailability tokens.
var schemaAvailability = map[string]string{
	"instock":             InStock,
	"instoreonly":         InStock,
	"onlineonly":          InStock,
	"outofstock":          OutOfStock,
	"soldout":             OutOfStock,
	"preorder":            PreOrder,
	"presale":             PreOrder,
	"backorder":           BackOrder,
	"limitedavailability": Limited,
	"discontinued":        Discontinued,
}

// availabilityPhrases is matched in order against lower-cased text.
// Negative phrases precede the positives they contain.
var availabilityPhrases = []struct {
	phrase string
	value  string
}{
	{"out of stock", OutOfStock},
	{"not in stock", OutOfStock},
	{"sold out", OutOfStock},
	{"unavailable", OutOfStock},
	{"not available", OutOfStock},
	{"nicht verfügbar", OutOfStock},
	{"nicht lieferbar", OutOfStock},
	{"ausverkauft", OutOfStock},
	{"épuisé", OutOfStock},
	{"agotado", OutOfStock},
	{"rupture de stock", OutOfStock},
	{"discontinued", Discontinued},
	{"pre-order", PreOrder},
	{"preorder", PreOrder},
	{"vorbestellen", PreOrder},
	{"backorder", BackOrder},
	{"back order", BackOrder},
	{"limited stock", Limited},
	{"in stock", InStock},
	{"auf lager", InStock},
	{"lieferbar", InStock},
	{"en stock", InStock},
	{"disponible", InStock},
	{"available", InStock},
	{"add to cart", InStock},
}

var quantityRe = regexp.MustCompile(`(?i)(?:only\s+)?(\d+)\s+(?:in stock|left|available|auf lager|verfügbar)`)

// Availability maps stock text onto the closed set of availability values,
// a stock quantity, or failing those the cleaned free text.
func Availability(raw string) (string, error) {
	s := collapse(raw)
	if s == "" {
		return "", ErrEmpty
	}
	lower := strings.ToLower(s)

	token := lower
	if i := strings.LastIndexAny(token, "/:"); i >= 0 {
		token = token[i+1:]
	}
	token = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(token)
	if v, ok := schemaAvailability[token]; ok {
		return v, nil
	}

	if m := quantityRe.FindStringSubmatch(lower); m != nil {
		if m[1] == "0" {
			return OutOfStock, nil
		}
		return m[1], nil
	}
	for _, p := range availabilityPhrases {
		if strings.Contains(lower, p.phrase) {
			return p.value, nil
		}
	}
	if utf8.RuneCountInString(s) > maxAvailabilityRunes {
		return "", ErrTooLong
	}
	return s, nil
}

var (
	identifierLabelRe = regexp.MustCompile(`(?i)^(?:sku|mpn|ean|gtin\d*|upc|art(?:icle|ikel)?[\s.\-]*(?:nr|no|number|nummer)?|item[\s.]*(?:no|number|#)|model(?:[\s.]*(?:no|number|nr|#))?|modell(?:nummer)?|part[\s.]*(?:no|number|#)|herstellernummer|hersteller-nr|product\s*(?:id|code))\.?(?:\s*[:#]\s*|\s+)`)
	identifierRe      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._/\-]{0,63}$`)
)

// Identifier cleans an article or model number.
func Identifier(raw string) (string, error) {
	s := collapse(raw)
	s = strings.TrimSpace(identifierLabelRe.ReplaceAllString(s, ""))
	if s == "" {
		return "", ErrEmpty
	}
	if !identifierRe.MatchString(s) {
		return "", ErrBadIdentifier
	}
	return s, nil
}
