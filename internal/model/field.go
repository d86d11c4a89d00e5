// Package model defines the data types shared by the extraction engine,
// the validation gate and the iteration controller.
package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Field is a semantic product attribute extracted from a page.
type Field string

const (
	FieldPrice         Field = "price"
	FieldTitle         Field = "title"
	FieldCurrency      Field = "currency"
	FieldImage         Field = "image"
	FieldAvailability  Field = "availability"
	FieldArticleNumber Field = "article_number"
	FieldModelNumber   Field = "model_number"
)

// AllFields returns every defined field in canonical order. Reports,
// diagnostics and serialized patterns all follow this order.
func AllFields() []Field {
	return []Field{
		FieldPrice,
		FieldTitle,
		FieldCurrency,
		FieldImage,
		FieldAvailability,
		FieldArticleNumber,
		FieldModelNumber,
	}
}

// CriticalFields returns the fields whose absence fails validation outright.
func CriticalFields() []Field {
	return []Field{FieldPrice, FieldTitle, FieldCurrency}
}

// Critical reports whether f belongs to the built-in critical set.
func (f Field) Critical() bool {
	switch f {
	case FieldPrice, FieldTitle, FieldCurrency:
		return true
	}
	return false
}

// Valid reports whether f is one of the defined fields.
func (f Field) Valid() bool {
	for _, known := range AllFields() {
		if f == known {
			return true
		}
	}
	return false
}

// Index returns the position of f in AllFields, or len(AllFields) for
// unknown fields so they sort last.
func (f Field) Index() int {
	for i, known := range AllFields() {
		if f == known {
			return i
		}
	}
	return len(AllFields())
}

// ParseField converts a user-supplied name into a Field. Matching is case
// insensitive and accepts dashes or spaces in place of underscores.
func ParseField(s string) (Field, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	f := Field(norm)
	if !f.Valid() {
		return "", eris.Errorf("model: unknown field %q", s)
	}
	return f, nil
}

// ParseFields converts a list of names, rejecting duplicates.
func ParseFields(names []string) ([]Field, error) {
	seen := make(map[Field]bool, len(names))
	out := make([]Field, 0, len(names))
	for _, n := range names {
		f, err := ParseField(n)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// SortFields orders fields by their canonical position in place.
func SortFields(fields []Field) {
	// insertion sort; field sets hold at most a handful of entries
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && fields[j].Index() < fields[j-1].Index(); j-- {
			fields[j], fields[j-1] = fields[j-1], fields[j]
		}
	}
}
