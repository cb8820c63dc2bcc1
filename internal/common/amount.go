package common

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount reads a monetary string into a value rounded to two places.
// German notation ("1.299,99 €", "29,99 EUR") and plain notation
// ("29.99", "1,299.99") are both accepted. A lone separator followed by
// exactly three digits is a grouping separator ("1.299" is 1299).
func ParseAmount(s string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	raw := strings.Trim(b.String(), ".,")
	if raw == "" || strings.Trim(raw, "-") == "" {
		return decimal.Zero, NewInvalidInputError(fmt.Sprintf("no amount in %q", s))
	}

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")
	var normalized string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			normalized = strings.ReplaceAll(raw, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(raw, ",", "")
		}
	case lastComma >= 0:
		normalized = singleSeparator(raw, ",")
	case lastDot >= 0:
		normalized = singleSeparator(raw, ".")
	default:
		normalized = raw
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, NewInvalidInputError(fmt.Sprintf("invalid amount %q", s))
	}
	return d.Round(2), nil
}

func singleSeparator(raw, sep string) string {
	parts := strings.Split(raw, sep)
	tail := parts[len(parts)-1]
	if len(parts) == 2 && len(tail) != 3 {
		return parts[0] + "." + tail
	}
	return strings.Join(parts, "")
}

// FormatAmount renders a value with exactly two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
