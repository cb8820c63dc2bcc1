// Package ocr turns rendered document pages into text with tesseract.
package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
)

type Config struct {
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Language string // tesseract languages, default "deu+eng"
	DPI      int    // rasterization DPI, default 300
	MaxPages int    // 0 = no limit

	TessdataDir         string
	EnableTSVConfidence bool

	PSM int // e.g., 6 is good for uniform block of text
}

type Result struct {
	Text       string
	Pages      int
	Method     string // "pdf-ocr" | "image-ocr"
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float32
}

type Extractor struct {
	cfg    Config
	runner Runner
	log    *zap.SugaredLogger
}

type Option func(*Extractor)

// WithRunner replaces the command runner, mostly for tests.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

func NewExtractor(cfg Config, log *zap.SugaredLogger, opts ...Option) *Extractor {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "deu+eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	e := &Extractor{cfg: cfg, runner: NewExecRunner(log), log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract OCRs a PDF (page by page) or a single raster image. No deadline is
// applied here; the caller's context is the only bound.
func (e *Extractor) Extract(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	e.log.Debugw("ocr.extract.start", "path", path, "ext", ext)

	var (
		res Result
		err error
	)
	switch {
	case ext == "pdf":
		res, err = e.extractPDF(ctx, path)
	case constants.IsImage(path) && !constants.IsHEIC(path):
		res, err = e.extractImage(ctx, path)
	default:
		e.log.Errorw("ocr.extract.unsupported", "path", path, "ext", ext)
		return Result{}, fmt.Errorf("unsupported extension: %q", ext)
	}
	res.Duration = time.Since(start)
	if err != nil {
		e.log.Warnw("ocr.extract.failed", "path", path, "error", err, "warnings", res.Warnings)
		return res, err
	}
	e.log.Infow("ocr.extract.done",
		"path", path,
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"confidence", res.Confidence,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
