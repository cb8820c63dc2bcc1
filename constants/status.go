package constants

// DocumentStatus is the derived lifecycle label of a document record. It is
// computed from the stored flags and never stored itself.
type DocumentStatus string

const (
	StatusNew         DocumentStatus = "NEW"          // tracked, extraction not attempted
	StatusNeedsReview DocumentStatus = "NEEDS_REVIEW" // processed, required fields missing
	StatusReviewed    DocumentStatus = "REVIEWED"     // complete, not yet archived
	StatusArchived    DocumentStatus = "ARCHIVED"     // filed under the archive tree
)

// StatusFromFlags maps the flag progression onto a status label.
func StatusFromFlags(processed, reviewed, archived bool) DocumentStatus {
	switch {
	case archived:
		return StatusArchived
	case reviewed:
		return StatusReviewed
	case processed:
		return StatusNeedsReview
	default:
		return StatusNew
	}
}

// AllStatuses lists the labels in lifecycle order.
var AllStatuses = []DocumentStatus{StatusNew, StatusNeedsReview, StatusReviewed, StatusArchived}
