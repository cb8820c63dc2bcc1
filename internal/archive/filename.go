// Package archive files completed documents under their canonical name in
// the year-partitioned archive tree.
package archive

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
)

const (
	separator           = "_"
	maxDescriptionRunes = 30
)

// Filename composes the canonical archive name
//
//	YYMMDD_<identifier>_<category>_<description>_<amount>.<ext>
//
// e.g. 251102_ARE-MK-2025001_Fortbildung_Python_Advanced_Course_299_99.pdf.
// The result depends only on its inputs.
func Filename(date time.Time, identifier string, category constants.Category, description string, amount decimal.Decimal, ext string) string {
	parts := []string{
		date.Format("060102"),
		safePart(identifier),
		safePart(string(category)),
		safePart(truncate(strings.TrimSpace(description), maxDescriptionRunes)),
		strings.ReplaceAll(amount.StringFixed(2), ".", separator),
	}
	name := strings.Join(parts, separator)
	for strings.Contains(name, separator+separator) {
		name = strings.ReplaceAll(name, separator+separator, separator)
	}
	return name + normalizeExt(ext)
}

// FilenameFor composes the canonical name of doc, keeping the extension of
// its current path.
func FilenameFor(doc *entity.Document) (string, error) {
	if doc.Date == nil || doc.Amount == nil || doc.Category == nil || doc.Identifier == nil {
		return "", errIncomplete(doc)
	}
	desc := ""
	if doc.Description != nil {
		desc = *doc.Description
	}
	return Filename(*doc.Date, *doc.Identifier, *doc.Category, desc, *doc.Amount, filepath.Ext(doc.Path)), nil
}

// Destination is the full archive path of doc:
// <business archive>/<kind folder>/<year>/<canonical name>.
func Destination(biz *entity.Business, doc *entity.Document) (string, error) {
	name, err := FilenameFor(doc)
	if err != nil {
		return "", err
	}
	return filepath.Join(yearDir(biz, doc), name), nil
}

func yearDir(biz *entity.Business, doc *entity.Document) string {
	return filepath.Join(biz.ArchivePath, doc.Kind.Folder(), doc.Date.Format("2006"))
}

// safePart keeps letters, digits and '-'. Whitespace and '_' become the
// separator, path separators become '-', everything else is dropped.
func safePart(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
		case r == '/' || r == '\\':
			b.WriteRune('-')
		case unicode.IsSpace(r) || r == '_':
			b.WriteString(separator)
		}
	}
	return strings.Trim(b.String(), separator+"-")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return ""
	}
	return "." + ext
}
