package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delmenhorst/Buchhaltung/constants"
)

const courseInvoice = `Rechnung Nr. 4711
Python Advanced Course
Rechnungsdatum: 02.11.2025
Zwischensumme 252,09 €
MwSt 19% 47,90 €
Gesamt 299,99 €`

func TestExtractAmount(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Summe 1.299,99 €", "1299.99"},
		{"Betrag: 29,99 EUR", "29.99"},
		{"Total € 1.234.567,89", "1234567.89"},
		{"Zwischensumme 4,20 €\nGesamt 12,60 €", "12.60"},
		{"EUR 1.050,00 fällig", "1050.00"},
		{"Preis 1234,56 €", "1234.56"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			got, ok := ExtractAmount(tc.text)
			require.True(t, ok)
			assert.Equal(t, tc.want, got.StringFixed(2))
		})
	}
}

func TestExtractAmountNeedsLocalNotation(t *testing.T) {
	for _, text := range []string{"", "Gesamt 29.99 USD", "Menge 3 Stück", "Tel. 0421 1234"} {
		_, ok := ExtractAmount(text)
		assert.False(t, ok, text)
	}
}

func TestExtractDate(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"Datum: 02.11.2025", "2025-11-02"},
		{"Lieferung 01.10.2025\nRechnungsdatum: 15.10.2025", "2025-10-15"},
		{"am 2/3/2024 bezahlt", "2024-03-02"},
		{"Invoice Date: 12/25/2024", "2024-12-25"},
		{"issued 2025-01-31", "2025-01-31"},
		{"Berlin, den 3. März 2025", "2025-03-03"},
		{"Dated 14 October 2024", "2024-10-14"},
		{"Datum: 05.06.25", "2025-06-05"},
		{"31.02.2025 ungültig, gültig 28.02.2025", "2025-02-28"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			got, ok := ExtractDate(tc.text)
			require.True(t, ok)
			assert.Equal(t, tc.want, got.Format("2006-01-02"))
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, ok := ExtractDate("Kundennummer 123456")
	assert.False(t, ok)
}

func TestExtractDescription(t *testing.T) {
	assert.Equal(t, "Python Advanced Course", ExtractDescription(courseInvoice))
	assert.Equal(t, "Quittung", ExtractDescription("\n  Quittung \n kurz\n"))
	assert.Equal(t, "", ExtractDescription("   \n\n"))

	long := "Jahresabonnement Fachzeitschrift für Gestaltung und Typografie 2025"
	assert.Equal(t, 50, len([]rune(ExtractDescription(long))))
}

func TestPatternExtractor(t *testing.T) {
	p := NewPatternExtractor()
	res, err := p.Extract(context.Background(), Request{Text: courseInvoice, Kind: constants.KindExpense})
	require.NoError(t, err)

	assert.Equal(t, ProvenancePattern, res.Provenance)
	require.True(t, res.Has(FieldDate))
	assert.Equal(t, "2025-11-02", res.Date.Format("2006-01-02"))
	require.True(t, res.Has(FieldAmount))
	assert.Equal(t, "299.99", res.Amount.StringFixed(2))
	require.True(t, res.Has(FieldCategory))
	assert.Equal(t, constants.Fortbildung, *res.Category)
	require.True(t, res.Has(FieldDescription))
	assert.Equal(t, "Python Advanced Course", *res.Description)
	assert.True(t, res.Usable())
}

func TestPatternExtractorCatchAllAndIncome(t *testing.T) {
	p := NewPatternExtractor()

	res, err := p.Extract(context.Background(), Request{Text: "Blumenladen Meyer\n12,00 €", Kind: constants.KindExpense})
	require.NoError(t, err)
	assert.Equal(t, constants.Sonstiges, *res.Category)
	assert.False(t, res.Has(FieldDate))

	res, err = p.Extract(context.Background(), Request{Text: "Honorarabrechnung Ausstellung\n1.500,00 €", Kind: constants.KindIncome})
	require.NoError(t, err)
	assert.Equal(t, constants.Honorar, *res.Category)
}

func TestPatternExtractorEmptyText(t *testing.T) {
	res, err := NewPatternExtractor().Extract(context.Background(), Request{Text: " \n", Kind: constants.KindExpense})
	require.NoError(t, err)
	assert.True(t, res.IsEmpty())
	assert.Equal(t, ProvenancePattern, res.Provenance)
}
