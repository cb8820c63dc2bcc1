package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.299,99 €", "1299.99"},
		{"29,99 EUR", "29.99"},
		{"€ 1.234.567,89", "1234567.89"},
		{"29.99", "29.99"},
		{"1,299.99", "1299.99"},
		{"1.299", "1299.00"},
		{"12,5", "12.50"},
		{"20000", "20000.00"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, FormatAmount(got))
		})
	}
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "EUR", "-", "..,"} {
		_, err := ParseAmount(in)
		assert.True(t, errors.Is(err, ErrInvalidInput), in)
	}
}
