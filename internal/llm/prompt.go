package llm

import (
	"strings"

	"github.com/delmenhorst/Buchhaltung/constants"
)

// MaxPromptChars bounds the document text placed into the user message.
const MaxPromptChars = 2000

// BuildSystemPrompt composes the system message with the allowed categories,
// a keyword rubric per category and the output formatting rules.
func BuildSystemPrompt(req ExtractRequest) string {
	var subject string
	if req.Kind == constants.KindIncome {
		subject = "einen Einnahmen-Beleg (Honorarrechnung, Lizenzabrechnung, Förderbescheid oder Verkaufsquittung)"
	} else {
		subject = "eine Eingangsrechnung oder Quittung (Ausgabe)"
	}

	var catLine string
	if len(req.AllowedCategories) > 0 {
		catLine = "Die Kategorie MUSS exakt einer dieser Werte sein: " + strings.Join(req.AllowedCategories, ", ") +
			". Wenn keine passt, wähle 'Sonstiges'."
	} else {
		catLine = "Wähle eine kurze, passende Kategorie."
	}

	parts := []string{
		"Du analysierst " + subject + " für die Buchhaltung eines Kleinunternehmens.",
		"Antworte NUR mit JSON, das dem angegebenen JSON-Schema entspricht.",
		"'date' ist das Rechnungs- bzw. Belegdatum im Format YYYY-MM-DD.",
		"'amount' ist der Gesamtbetrag (brutto) als Dezimalzahl mit Punkt und zwei Nachkommastellen, ohne Währung, z.B. \"1299.99\".",
		"'description' beschreibt in höchstens 30 Zeichen, was gekauft oder geleistet wurde. Keine Adressen, keine Namen von Privatpersonen.",
		catLine,
		"Kategorie-Hinweise: " + buildCategoryRubric(req.Kind),
		"Gib niemals null aus. Wenn ein Feld nicht erkennbar ist, lass es weg.",
	}
	if b := strings.TrimSpace(req.BusinessName); b != "" {
		parts = append(parts, "Der Beleg gehört zum Geschäftsbereich: "+b+".")
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages filename/folder hints and the (truncated) document text.
func BuildUserPrompt(req ExtractRequest, maxChars int) string {
	if maxChars <= 0 {
		maxChars = MaxPromptChars
	}
	filename := strings.TrimSpace(req.FilenameHint)
	folder := strings.TrimSpace(req.FolderHint)

	var b strings.Builder
	if filename != "" {
		b.WriteString("Dateiname: ")
		b.WriteString(filename)
		b.WriteString("\n")
	}
	if folder != "" {
		b.WriteString("Ordner: ")
		b.WriteString(folder)
		b.WriteString("\n")
	}

	text := strings.TrimSpace(req.Text)
	b.WriteString("\nOCR TEXT:\n")
	if r := []rune(text); len(r) > maxChars {
		b.WriteString(string(r[:maxChars]))
		b.WriteString("\n…(gekürzt)")
	} else {
		b.WriteString(text)
	}
	return b.String()
}

func buildCategoryRubric(kind constants.Kind) string {
	rules := constants.RulesFor(kind)
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		kws := r.Keywords
		if len(kws) > 6 {
			kws = kws[:6]
		}
		lines = append(lines, string(r.Category)+" ("+strings.Join(kws, ", ")+")")
	}
	return strings.Join(lines, "; ") + "."
}
