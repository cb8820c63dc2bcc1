package llm

import (
	"context"
	"errors"

	"github.com/delmenhorst/Buchhaltung/constants"
)

// ErrInvalidOutput marks a model response that could not be turned into
// DocumentFields (bad JSON, schema violation, no choices).
var ErrInvalidOutput = errors.New("invalid model output")

// DocumentFields is the normalized shape we want from the model.
// An empty string means the model did not find the fact.
type DocumentFields struct {
	Date        string `json:"date,omitempty"`     // YYYY-MM-DD
	Amount      string `json:"amount,omitempty"`   // decimal with two places
	Category    string `json:"category,omitempty"` // one of AllowedCategories
	Description string `json:"description,omitempty"`
}

type ExtractRequest struct {
	Text              string
	Kind              constants.Kind
	AllowedCategories []string
	FilenameHint      string
	FolderHint        string
	BusinessName      string
}

// FieldExtractor is the interface the extraction engine depends on.
type FieldExtractor interface {
	// Model names the model answering requests, for diagnostics.
	Model() string
	ExtractFields(ctx context.Context, req ExtractRequest) (DocumentFields, []byte /*rawJSON*/, error)
}
