package pipeline

import "github.com/delmenhorst/Buchhaltung/internal/extract"

// RequiredFields must all be present for a document to be filed
// automatically. The description is optional.
var RequiredFields = []extract.Field{extract.FieldDate, extract.FieldAmount, extract.FieldCategory}

type Completeness struct {
	Complete bool
	Missing  []extract.Field
}

// Classify decides whether r is complete. It has no side effects.
func Classify(r extract.Result) Completeness {
	missing := r.Missing(RequiredFields...)
	return Completeness{Complete: len(missing) == 0, Missing: missing}
}
