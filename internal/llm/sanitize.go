package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
)

// MaxDescriptionRunes bounds the description kept from a model answer.
const MaxDescriptionRunes = 50

var dateLayouts = []string{"2006-01-02", "02.01.2006", "2.1.2006", "2006/01/02", "02/01/2006", time.RFC3339}

// CleanModelJSON strips markdown code fences and any prose around the
// outermost JSON object.
func CleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// NormalizeAndSanitizeJSON
// - Renames known synonyms (betrag -> amount, datum -> date, ...)
// - Drops null/empty values
// - Coerces amounts (numbers, German notation) to "1234.56" and dates to YYYY-MM-DD
// - Maps categories onto the taxonomy of kind, dropping what does not map
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, kind constants.Kind, logger *zap.SugaredLogger) ([]byte, []string, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	drop := func(k, why string) {
		delete(m, k)
		dropped = append(dropped, k+"("+why+")")
	}
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			dropped = append(dropped, from+"->"+to)
		}
	}

	// 1) rename synonyms to the schema
	for _, k := range []string{"datum", "rechnungsdatum", "invoice_date", "tx_date"} {
		renamed(k, "date")
	}
	for _, k := range []string{"betrag", "gesamtbetrag", "total", "summe", "brutto"} {
		renamed(k, "amount")
	}
	renamed("kategorie", "category")
	renamed("beschreibung", "description")

	// 2) coerce or drop each known field
	if v, ok := m["date"]; ok {
		s, isStr := v.(string)
		if !isStr {
			drop("date", "type")
		} else if d, ok := parseModelDate(s); ok {
			m["date"] = d
		} else {
			drop("date", "format")
		}
	}

	if v, ok := m["amount"]; ok {
		var amount decimal.Decimal
		var valid bool
		switch t := v.(type) {
		case float64:
			amount, valid = decimal.NewFromFloat(t).Round(2), true
		case string:
			d, err := common.ParseAmount(t)
			amount, valid = d, err == nil
		}
		switch {
		case !valid:
			drop("amount", "format")
		case !amount.IsPositive():
			drop("amount", "non_positive")
		default:
			m["amount"] = common.FormatAmount(amount)
		}
	}

	if v, ok := m["category"]; ok {
		s, _ := v.(string)
		if cat, ok := constants.Canonicalize(kind, s); ok {
			m["category"] = string(cat)
		} else {
			drop("category", "unknown")
		}
	}

	if v, ok := m["description"]; ok {
		s, _ := v.(string)
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			drop("description", "empty")
		} else {
			if r := []rune(s); len(r) > MaxDescriptionRunes {
				s = strings.TrimSpace(string(r[:MaxDescriptionRunes]))
			}
			m["description"] = s
		}
	}

	// 3) remove unknown keys
	allowed := map[string]struct{}{"date": {}, "amount": {}, "category": {}, "description": {}}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if _, ok := allowed[k]; !ok {
			drop(k, "unknown_key")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Debugw("llm.sanitize.applied", "dropped", dropped)
	}
	return out, dropped, nil
}

func parseModelDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
