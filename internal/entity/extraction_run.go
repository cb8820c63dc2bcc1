package entity

import "time"

// ExtractionRun is the diagnostic journal entry of one extraction attempt.
type ExtractionRun struct {
	ID            int64      `json:"id"`
	DocumentID    int64      `json:"document_id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Strategy      *string    `json:"strategy,omitempty"`
	Provenance    *string    `json:"provenance,omitempty"`
	ModelName     *string    `json:"model_name,omitempty"`
	TextChars     int        `json:"text_chars"`
	OCRConfidence *float32   `json:"ocr_confidence,omitempty"`
	DurationMS    int64      `json:"duration_ms"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
}

// RunResult closes an ExtractionRun.
type RunResult struct {
	Strategy      string
	Provenance    string
	ModelName     string
	TextChars     int
	OCRConfidence *float32
	Err           error
}
