package pipeline

import "github.com/delmenhorst/Buchhaltung/internal/extract"

type OutcomeKind int

const (
	// OutcomeArchived: complete, identifier issued, file moved to the archive.
	OutcomeArchived OutcomeKind = iota
	// OutcomeNeedsReview: processed, left in intake for a person to finish.
	OutcomeNeedsReview
	// OutcomeRetry: nothing was recorded; the next cycle tries again.
	OutcomeRetry
	// OutcomeSkipped: already processed or archived.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeArchived:
		return "archived"
	case OutcomeNeedsReview:
		return "needs_review"
	case OutcomeRetry:
		return "retry"
	case OutcomeSkipped:
		return "skipped"
	}
	return "unknown"
}

// Outcome is the result of processing one document. Failures are carried in
// Err instead of being returned, so a scan cycle never stops on one file.
type Outcome struct {
	Kind       OutcomeKind
	DocumentID int64
	Path       string
	Identifier string
	Provenance extract.Provenance
	Missing    []extract.Field
	Err        error
}
