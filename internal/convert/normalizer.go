// Package convert makes sure extraction always reads a PDF: camera images
// are placed onto an A4 page, HEIC photos are decoded to PNG first.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/ocr"
)

type Config struct {
	HeicConverter string  // "magick" | "heif-convert" | "sips"
	PageDPI       float64 // resolution an image pixel is assumed to have, default 300
	MarginMM      float64 // page margin, default 8.5
	TempDir       string  // scratch space for decoded HEIC frames, default os.TempDir()
}

// Normalizer converts images to PDF next to the original.
type Normalizer struct {
	cfg    Config
	runner ocr.Runner
	log    *zap.SugaredLogger
}

func NewNormalizer(cfg Config, runner ocr.Runner, log *zap.SugaredLogger) *Normalizer {
	if cfg.HeicConverter == "" {
		cfg.HeicConverter = "magick"
	}
	if cfg.PageDPI <= 0 {
		cfg.PageDPI = 300
	}
	if cfg.MarginMM <= 0 {
		cfg.MarginMM = 8.5
	}
	return &Normalizer{cfg: cfg, runner: runner, log: log}
}

// NeedsConversion reports whether path has to be converted before extraction.
func NeedsConversion(path string) bool {
	return constants.IsImage(path)
}

// Normalize returns the PDF path extraction should read. PDFs are returned as
// is. Images are converted; commit is then called with the new path while
// both files exist, and only after commit succeeds is the original removed.
// On any failure the original is left untouched and the partial PDF removed.
func (n *Normalizer) Normalize(ctx context.Context, path string, commit func(newPath string) error) (string, error) {
	if constants.IsPDF(path) {
		return path, nil
	}
	if !NeedsConversion(path) {
		return "", common.NewConversionError(fmt.Sprintf("unsupported format %s", filepath.Ext(path)), nil)
	}

	src := path
	if constants.IsHEIC(path) {
		png, cleanup, err := n.heicToPNG(ctx, path)
		if err != nil {
			n.log.Warnw("convert.heic.failed", "path", path, "error", err)
			return "", common.NewConversionError("decode heic", err)
		}
		defer cleanup()
		src = png
	}

	dst, err := freePDFPath(path)
	if err != nil {
		return "", common.NewConversionError("choose pdf name", err)
	}
	part := dst + ".part"
	if err := n.imageToPDF(src, part); err != nil {
		_ = os.Remove(part)
		n.log.Warnw("convert.pdf.failed", "path", path, "error", err)
		return "", common.NewConversionError("render pdf", err)
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return "", common.NewConversionError("publish pdf", err)
	}

	if commit != nil {
		if err := commit(dst); err != nil {
			if rmErr := os.Remove(dst); rmErr != nil {
				n.log.Errorw("convert.rollback.failed", "path", dst, "error", rmErr)
			}
			return "", err
		}
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		// The record already points at the PDF; a leftover image is only clutter.
		n.log.Warnw("convert.original.remove_failed", "path", path, "error", err)
	}
	n.log.Infow("convert.done", "from", path, "to", dst)
	return dst, nil
}

// freePDFPath picks <stem>.pdf, or <stem>-1.pdf and so on when taken.
func freePDFPath(path string) (string, error) {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	candidate := stem + ".pdf"
	for i := 1; i < 1000; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d.pdf", stem, i)
	}
	return "", fmt.Errorf("no free pdf name for %s", path)
}
