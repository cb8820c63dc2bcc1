package extract

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/delmenhorst/Buchhaltung/constants"
)

type Provenance string

const (
	ProvenanceNone    Provenance = "none"
	ProvenanceModel   Provenance = "model"
	ProvenancePattern Provenance = "pattern"
)

type Field string

const (
	FieldDate        Field = "date"
	FieldAmount      Field = "amount"
	FieldCategory    Field = "category"
	FieldDescription Field = "description"
)

// Result holds the facts of one extraction run. A nil field was not found.
// All facts of a Result come from the same strategy.
type Result struct {
	Date        *time.Time
	Amount      *decimal.Decimal
	Category    *constants.Category
	Description *string

	Provenance Provenance
	Strategy   string
	ModelName  string

	// Text is the OCR text the facts were read from.
	Text          string
	OCRConfidence *float32
}

// Has reports whether field f is present.
func (r Result) Has(f Field) bool {
	switch f {
	case FieldDate:
		return r.Date != nil
	case FieldAmount:
		return r.Amount != nil
	case FieldCategory:
		return r.Category != nil
	case FieldDescription:
		return r.Description != nil
	}
	return false
}

// Missing lists the fields of want that are absent, in order.
func (r Result) Missing(want ...Field) []Field {
	var out []Field
	for _, f := range want {
		if !r.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// IsEmpty reports whether no fact is present.
func (r Result) IsEmpty() bool {
	return len(r.Missing(FieldDate, FieldAmount, FieldCategory, FieldDescription)) == 4
}

// Usable reports whether a non-final strategy's answer is good enough to
// stop the chain: date and amount must both be present.
func (r Result) Usable() bool {
	return r.Has(FieldDate) && r.Has(FieldAmount)
}

// Facts strips the diagnostics so results from two runs can be compared.
func (r Result) Facts() Result {
	return Result{Date: r.Date, Amount: r.Amount, Category: r.Category, Description: r.Description}
}
