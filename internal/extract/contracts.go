package extract

import (
	"context"
	"time"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
)

// TextExtractor is Stage 1: file -> text.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (TextExtractionResult, error)
}

type TextExtractionResult struct {
	Text       string
	Pages      int
	Method     string // "pdf-ocr" | "image-ocr"
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

// Request is the input of Stage 2.
type Request struct {
	DocumentID   int64
	Path         string
	Kind         constants.Kind
	BusinessName string
	Text         string

	OCRConfidence *float32
}

// Strategy is Stage 2: text -> Result. Implementations report unavailability
// as an error; the engine moves on to the next strategy.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, req Request) (Result, error)
}

// RunJournal records extraction attempts. repository.ExtractionRunRepository
// satisfies it.
type RunJournal interface {
	Start(ctx context.Context, documentID int64) (*entity.ExtractionRun, error)
	Finish(ctx context.Context, run *entity.ExtractionRun, res entity.RunResult) error
}
