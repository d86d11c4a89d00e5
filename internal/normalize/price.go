package normalize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

var (
	ErrNoDigits       = eris.New("no digits")
	ErrAmbiguousPrice = eris.New("multiple conflicting numbers")
	ErrNonPositive    = eris.New("price is not positive")
)

// numberRe matches a run of digits with optional grouping and decimal
// separators. Spaces, NBSP, narrow NBSP and apostrophes are grouping only.
var numberRe = regexp.MustCompile(`-?\d(?:[\d.,'\x{00A0}\x{202F} ]*\d)?`)

var (
	// percentRe matches tax and discount figures such as "19% MwSt." or "-20 %".
	percentRe = regexp.MustCompile(`-?\d+(?:[.,]\d+)?\s*%`)
	// dashCentsRe matches the "1.299,-" zero-cents notation.
	dashCentsRe = regexp.MustCompile(`(\d),\s*[-\x{2013}\x{2014}]+`)
	// dotGroupRe matches dot-grouped thousands with no decimal part.
	dotGroupRe = regexp.MustCompile(`^[1-9]\d{0,2}(?:\.\d{3})+$`)
)

// Price parses a human or machine formatted price. US (1,234.56), European
// (1.234,56 and 1 234,56) and bare decimal-comma (1234,5) forms are accepted.
// A single dot followed by three digits (1.299) is grouping, as is a comma
// in the same position. Percentages are ignored. Every remaining number in
// raw must agree; "was 10 now 8" is rejected.
func Price(raw string) (decimal.Decimal, error) {
	raw = percentRe.ReplaceAllString(raw, " ")
	raw = dashCentsRe.ReplaceAllString(raw, "$1")
	matches := numberRe.FindAllString(raw, -1)
	if len(matches) == 0 {
		return decimal.Zero, ErrNoDigits
	}

	var out decimal.Decimal
	for i, m := range matches {
		d, err := parseNumber(m)
		if err != nil {
			return decimal.Zero, err
		}
		if i == 0 {
			out = d
			continue
		}
		if !d.Equal(out) {
			return decimal.Zero, ErrAmbiguousPrice
		}
	}
	if !out.IsPositive() {
		return decimal.Zero, ErrNonPositive
	}
	return out, nil
}

func parseNumber(s string) (decimal.Decimal, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, s)

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever separator comes last is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || dotGroupRe.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "malformed number %q", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
