package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/delmenhorst/Buchhaltung/constants"
)

// Document is one physical file under management.
type Document struct {
	ID               int64               `json:"id"`
	BusinessID       int64               `json:"business_id"`
	Kind             constants.Kind      `json:"kind"`
	Path             string              `json:"path"`
	OriginalFilename string              `json:"original_filename"`
	Date             *time.Time          `json:"date,omitempty"`
	Amount           *decimal.Decimal    `json:"amount,omitempty"`
	Category         *constants.Category `json:"category,omitempty"`
	Description      *string             `json:"description,omitempty"`
	RawText          *string             `json:"raw_text,omitempty"`
	Provenance       *string             `json:"provenance,omitempty"`
	Processed        bool                `json:"processed"`
	Reviewed         bool                `json:"reviewed"`
	Archived         bool                `json:"archived"`
	Flagged          bool                `json:"flagged"`
	Identifier       *string             `json:"identifier,omitempty"`
	ArchivedFrom     *string             `json:"archived_from,omitempty"` // intake path the file was archived from
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Status derives the lifecycle label from the flags.
func (d *Document) Status() constants.DocumentStatus {
	return constants.StatusFromFlags(d.Processed, d.Reviewed, d.Archived)
}

// Year is the tax year of the document, zero when no date is known.
func (d *Document) Year() int {
	if d.Date == nil {
		return 0
	}
	return d.Date.Year()
}

// NewDocument is the input for registering an untracked file.
type NewDocument struct {
	BusinessID int64
	Kind       constants.Kind
	Path       string
}

// DocumentUpdate is a partial update of a document. Nil fields are left
// unchanged.
type DocumentUpdate struct {
	Path        *string
	Date        *time.Time
	Amount      *decimal.Decimal
	Category    *constants.Category
	Description *string
	RawText     *string
	Provenance  *string
	Processed   *bool
	Reviewed    *bool
	Archived    *bool
	Flagged     *bool
	Identifier  *string

	// ArchivedFrom records the intake path of a file being archived.
	ArchivedFrom *string

	// ClearFacts resets date, amount, category and description to unknown
	// before the fields above are applied.
	ClearFacts bool
	// Refile permits a path change on an archived document.
	Refile bool
}

// IsEmpty reports whether the update would change nothing.
func (u DocumentUpdate) IsEmpty() bool {
	return u.Path == nil && u.Date == nil && u.Amount == nil && u.Category == nil &&
		u.Description == nil && u.RawText == nil && u.Provenance == nil &&
		u.Processed == nil && u.Reviewed == nil && u.Archived == nil &&
		u.Flagged == nil && u.Identifier == nil && u.ArchivedFrom == nil && !u.ClearFacts
}

// DocumentFilter narrows List results. Nil fields do not filter.
type DocumentFilter struct {
	BusinessID *int64
	Kind       *constants.Kind
	Processed  *bool
	Reviewed   *bool
	Archived   *bool
	Flagged    *bool
	Limit      int
}

// NeedsReviewFilter selects processed documents that are not reviewed.
func NeedsReviewFilter(businessID int64) DocumentFilter {
	t, f := true, false
	return DocumentFilter{BusinessID: &businessID, Processed: &t, Reviewed: &f}
}
