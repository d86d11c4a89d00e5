package normalize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/currency"
)

// ErrNoCurrency is returned when no ISO code or known symbol is present.
var ErrNoCurrency = eris.New("no currency code or symbol")

// symbols is checked in order, so multi-character symbols come before the
// single characters they contain.
var symbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"R$", "BRL"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"zł", "PLN"},
	{"Fr.", "CHF"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"₽", "RUB"},
	{"₩", "KRW"},
	{"$", "USD"},
}

var codeRe = regexp.MustCompile(`\b[A-Z]{3}\b`)

// Currency returns the ISO 4217 code named by raw. raw may be a bare code,
// a symbol, or a price string that carries either.
func Currency(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrNoCurrency
	}
	if len(s) == 3 {
		if u, err := currency.ParseISO(strings.ToUpper(s)); err == nil {
			return u.String(), nil
		}
	}
	for _, sym := range symbols[:6] {
		if strings.Contains(s, sym.symbol) {
			return sym.code, nil
		}
	}
	for _, m := range codeRe.FindAllString(s, -1) {
		if u, err := currency.ParseISO(m); err == nil {
			return u.String(), nil
		}
	}
	for _, sym := range symbols[6:] {
		if strings.Contains(s, sym.symbol) {
			return sym.code, nil
		}
	}
	return "", ErrNoCurrency
}
