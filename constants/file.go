package constants

import (
	"path/filepath"
	"strings"
)

// AllowedExtensions holds the file extensions picked up from intake folders.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"heic": {},
	"heif": {},
}

// ImageExtensions are converted to PDF before extraction.
var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"heic": {},
	"heif": {},
}

// PartialSuffixes mark files that are still being written by another program.
var PartialSuffixes = []string{".part", ".tmp", ".crdownload", ".download", "~"}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func IsPDF(path string) bool {
	return NormalizeExt(filepath.Ext(path)) == "pdf"
}

func IsImage(path string) bool {
	_, ok := ImageExtensions[NormalizeExt(filepath.Ext(path))]
	return ok
}

func IsHEIC(path string) bool {
	ext := NormalizeExt(filepath.Ext(path))
	return ext == "heic" || ext == "heif"
}
