package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
)

const (
	grouped    = `(\d{1,3}(?:\.\d{3})*,\d{2})`
	ungrouped  = `(\d+,\d{2})`
	totalWords = `(?:Gesamt|Total|Summe|Betrag|Amount|Brutto)`

	maxDescriptionRunes = 50
	descriptionLines    = 10
)

// Every match of every pattern is a candidate; the largest amount wins.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)` + totalWords + `.*?` + grouped + `\s*€`),
	regexp.MustCompile(`€\s*` + grouped),
	regexp.MustCompile(grouped + `\s*€`),
	regexp.MustCompile(`(?i)EUR\s*` + grouped),
	regexp.MustCompile(`(?i)` + grouped + `\s*EUR`),
	regexp.MustCompile(`(?i)` + totalWords + `.*?` + ungrouped + `\s*€`),
	regexp.MustCompile(`€\s*` + ungrouped),
	regexp.MustCompile(ungrouped + `\s*€`),
}

var (
	reKeywordDate = regexp.MustCompile(`(?i)(?:Rechnungsdatum|Belegdatum|Leistungsdatum|Invoice Date|Datum|Date)\s*:?\s*(\d{1,2})[./-](\d{1,2})[./-](\d{4}|\d{2})\b`)
	reDMY         = regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})[./-](\d{4})\b`)
	reISO         = regexp.MustCompile(`\b(\d{4})[./-](\d{1,2})[./-](\d{1,2})\b`)
	reMonthName   = regexp.MustCompile(`(?i)\b(\d{1,2})\.?\s*(Januar|January|Jan|Februar|February|Feb|März|Maerz|March|Mär|Mar|April|Apr|Mai|May|Juni|June|Jun|Juli|July|Jul|August|Aug|September|Sept|Sep|Oktober|October|Okt|Oct|November|Nov|Dezember|December|Dez|Dec)\.?\s+(\d{4})\b`)
)

var monthPrefixes = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mär": time.March, "mae": time.March,
	"mar": time.March, "apr": time.April, "mai": time.May, "may": time.May,
	"jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September,
	"okt": time.October, "oct": time.October, "nov": time.November,
	"dez": time.December, "dec": time.December,
}

var descriptionSkipWords = []string{"rechnung", "invoice", "beleg", "quittung", "receipt"}

// PatternExtractor reads facts with regular expressions and the keyword
// table. It never fails and is the last strategy of every chain.
type PatternExtractor struct{}

func NewPatternExtractor() *PatternExtractor { return &PatternExtractor{} }

func (p *PatternExtractor) Name() string { return string(ProvenancePattern) }

func (p *PatternExtractor) Extract(_ context.Context, req Request) (Result, error) {
	res := Result{Provenance: ProvenancePattern, Strategy: p.Name()}
	if strings.TrimSpace(req.Text) == "" {
		return res, nil
	}
	if d, ok := ExtractDate(req.Text); ok {
		res.Date = &d
	}
	if a, ok := ExtractAmount(req.Text); ok {
		res.Amount = &a
	}
	cat, ok := constants.MatchCategory(req.Kind, req.Text)
	if !ok {
		cat = constants.Sonstiges
	}
	res.Category = &cat
	if desc := ExtractDescription(req.Text); desc != "" {
		res.Description = &desc
	}
	return res, nil
}

// ExtractAmount returns the largest amount written in local notation.
func ExtractAmount(text string) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, re := range amountPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			a, err := common.ParseAmount(m[1])
			if err != nil {
				continue
			}
			if !found || a.GreaterThan(best) {
				best, found = a, true
			}
		}
	}
	return best, found
}

// ExtractDate returns the first valid date in text, preferring dates next to
// a date label. Day-first ordering is assumed unless the month is impossible.
func ExtractDate(text string) (time.Time, bool) {
	for _, re := range []*regexp.Regexp{reKeywordDate, reDMY} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if t, ok := dayFirst(m[1], m[2], m[3]); ok {
				return t, true
			}
		}
	}
	for _, m := range reISO.FindAllStringSubmatch(text, -1) {
		if t, ok := buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return t, true
		}
	}
	for _, m := range reMonthName.FindAllStringSubmatch(text, -1) {
		month, ok := monthPrefixes[monthKey(m[2])]
		if !ok {
			continue
		}
		if t, ok := buildDate(atoi(m[3]), int(month), atoi(m[1])); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// ExtractDescription returns the first line that looks like content rather
// than a document header, bounded in length.
func ExtractDescription(text string) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	for i, l := range lines {
		if i == descriptionLines {
			break
		}
		if len([]rune(l)) > 10 && !containsAny(strings.ToLower(l), descriptionSkipWords) {
			return cut(l, maxDescriptionRunes)
		}
	}
	return cut(lines[0], maxDescriptionRunes)
}

func dayFirst(ds, ms, ys string) (time.Time, bool) {
	d, m, y := atoi(ds), atoi(ms), atoi(ys)
	if len(ys) == 2 {
		y += 2000
	}
	if m > 12 && d <= 12 {
		d, m = m, d
	}
	return buildDate(y, m, d)
}

func buildDate(y, m, d int) (time.Time, bool) {
	if y < 1900 || m < 1 || m > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

func monthKey(name string) string {
	r := []rune(strings.ToLower(name))
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
