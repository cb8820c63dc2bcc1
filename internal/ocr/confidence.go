package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./](?:19|20)?\d{2}\b|\b20\d{2}-\d{2}-\d{2}\b`)
	reCurr   = regexp.MustCompile(`\b(eur|euro|usd|chf)\b|[€$£]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(?:\.\d{3})*,\d{2}\b|\b\d+\.\d{2}\b`)
)

// heuristicConfidence scores how much the text looks like a bookkeeping
// document: date-ish, currency-ish and amount-ish tokens plus some length.
func heuristicConfidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2)
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if len(txt) > 120 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
