package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// heicToPNG decodes a HEIC/HEIF photo with an external converter into a
// temporary PNG. cleanup removes the temporary directory.
func (n *Normalizer) heicToPNG(ctx context.Context, in string) (string, func(), error) {
	if n.cfg.TempDir != "" {
		if err := os.MkdirAll(n.cfg.TempDir, 0o755); err != nil {
			return "", func() {}, err
		}
	}
	tmpDir, err := os.MkdirTemp(n.cfg.TempDir, "bh-heic-*")
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }
	out := filepath.Join(tmpDir, "page.png")

	var errb []byte
	switch n.cfg.HeicConverter {
	case "heif-convert":
		_, errb, err = n.runner.Run(ctx, "heif-convert", in, out)
	case "magick":
		_, errb, err = n.runner.Run(ctx, "magick", in, out)
	case "sips":
		_, errb, err = n.runner.Run(ctx, "sips", "-s", "format", "png", in, "--out", out)
	default:
		cleanup()
		return "", func() {}, fmt.Errorf("HEIC not supported: set ocr.heic_converter to one of: heif-convert | magick | sips")
	}
	if err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("%s failed: %w (%s)", n.cfg.HeicConverter, err, string(errb))
	}

	if _, statErr := os.Stat(out); statErr != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("HEIC conversion produced no output: %v", statErr)
	}
	return out, cleanup, nil
}
