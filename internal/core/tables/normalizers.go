package tables

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizePhone strips separators from a phone number and rewrites the
// +62 country prefix to the local 0 prefix. Unrecognised input is returned
// trimmed.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return s
		}
	}

	phone := b.String()
	if strings.HasPrefix(phone, "+62") {
		phone = "0" + strings.TrimPrefix(phone, "+62")
	}
	return phone
}

// NormalizeSKU upper-cases a SKU and removes inner whitespace so "ab 01"
// and "AB01" upsert the same product.
func NormalizeSKU(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// ParseDecimal parses a validated numeric cell. Empty input yields nil so
// optional columns are sent as nulls.
func ParseDecimal(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return d, nil
}

// ParseWholeNumber parses a validated numeric cell into an integer
// column value. Fractions round half away from zero ("2.5" -> 3).
func ParseWholeNumber(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return d.Round(0).IntPart(), nil
}

func nullable(s string) any {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

func bound(v float64) *float64 {
	return &v
}
