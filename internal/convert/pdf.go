package convert

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/phpdave11/gofpdf"
)

const (
	a4WidthMM  = 210.0
	a4HeightMM = 297.0
	mmPerInch  = 25.4
)

// imageToPDF centers the image on an A4 portrait page. Images larger than the
// printable area are scaled down, smaller ones keep their size.
func (n *Normalizer) imageToPDF(src, dst string) error {
	wPx, hPx, err := imageSize(src)
	if err != nil {
		return err
	}

	w, h := fitOnPage(wPx, hPx, n.cfg.PageDPI, n.cfg.MarginMM)
	x := (a4WidthMM - w) / 2
	y := (a4HeightMM - h) / 2

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: imageType(src), ReadDpi: false}
	pdf.RegisterImageOptions(src, opts)
	if pdf.Err() {
		return fmt.Errorf("register image: %w", pdf.Error())
	}
	pdf.ImageOptions(src, x, y, w, h, false, opts, 0, "")
	if err := pdf.OutputFileAndClose(dst); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return syncFile(dst)
}

// fitOnPage returns the placed size in millimetres.
func fitOnPage(wPx, hPx int, dpi, marginMM float64) (float64, float64) {
	natW := float64(wPx) / dpi * mmPerInch
	natH := float64(hPx) / dpi * mmPerInch
	maxW := a4WidthMM - 2*marginMM
	maxH := a4HeightMM - 2*marginMM
	scale := math.Min(math.Min(maxW/natW, maxH/natH), 1.0)
	return natW * scale, natH * scale
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return 0, 0, fmt.Errorf("image %s has no pixels", path)
	}
	return cfg.Width, cfg.Height, nil
}

func imageType(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg":
		return "JPG"
	case "gif":
		return "GIF"
	default:
		return "PNG"
	}
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
