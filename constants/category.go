package constants

import (
	"strings"
	"unicode"
)

type Category string

// Expense categories.
const (
	Buero        Category = "Büro"
	Raum         Category = "Raum"
	Telefon      Category = "Telefon"
	Fahrtkosten  Category = "Fahrtkosten"
	Fortbildung  Category = "Fortbildung"
	Versicherung Category = "Versicherung"
	Porto        Category = "Porto"
	Werbung      Category = "Werbung"
)

// Income categories.
const (
	Honorar         Category = "Honorar"
	Lizenzgebuehren Category = "Lizenzgebühren"
	Workshops       Category = "Workshops"
	Stipendien      Category = "Stipendien"
	Verkaeufe       Category = "Verkäufe"
)

// Sonstiges is the catch-all of both taxonomies.
const Sonstiges Category = "Sonstiges"

// CategoryRule binds a category to its keyword evidence. Rules are evaluated
// in slice order and the first rule with a hit wins.
type CategoryRule struct {
	Category Category
	Keywords []string
}

// ExpenseRules is the priority table for expense documents.
var ExpenseRules = []CategoryRule{
	{Buero, []string{
		"computer", "laptop", "ipad", "tablet", "monitor", "macbook", "hardware",
		"software", "lizenz", "license", "office", "papier", "stift", "drucker",
		"kabel", "usb", "festplatte", "maus", "tastatur", "bürobedarf",
		"hosting", "domain", "server", "cloud",
	}},
	{Raum, []string{
		"miete", "rent", "studio", "atelier", "büro", "workspace", "coworking",
		"nebenkosten", "strom", "heizung", "wasser",
	}},
	{Telefon, []string{
		"telefon", "handy", "smartphone", "internet", "telekom", "vodafone",
		"o2", "mobilfunk", "festnetz", "flatrate", "tarif",
	}},
	{Fahrtkosten, []string{
		"tankstelle", "benzin", "diesel", "bahn", "train", "db", "ticket",
		"flug", "flight", "taxi", "uber", "parkplatz", "parking", "maut",
	}},
	{Fortbildung, []string{
		"kurs", "course", "seminar", "workshop", "schulung", "training", "fortbildung",
		"buch", "fachbuch", "zeitschrift", "udemy", "coursera", "conference",
	}},
	{Versicherung, []string{
		"versicherung", "haftpflicht", "kranken", "renten", "berufs",
		"insurance", "allianz", "axa", "ergo",
	}},
	{Porto, []string{
		"porto", "post", "dhl", "ups", "fedex", "hermes", "versand",
		"brief", "paket", "briefmarke",
	}},
	{Werbung, []string{
		"werbung", "marketing", "anzeige", "google ads", "facebook",
		"instagram", "flyer", "plakat", "visitenkarte", "homepage", "website",
	}},
}

// IncomeRules is the priority table for income documents.
var IncomeRules = []CategoryRule{
	{Honorar, []string{"honorar", "gage", "vergütung", "auftrag", "fee"}},
	{Lizenzgebuehren, []string{"lizenz", "license", "gema", "vg wort", "vg bild", "royalt", "nutzungsrecht", "tantieme"}},
	{Workshops, []string{"workshop", "seminar", "kurs", "vortrag", "lehrauftrag", "dozent"}},
	{Stipendien, []string{"stipendium", "stipendien", "förderung", "grant", "fellowship", "zuschuss", "preisgeld"}},
	{Verkaeufe, []string{"verkauf", "sale", "kunstwerk", "edition", "print", "shop"}},
}

// RulesFor returns the priority table of a kind.
func RulesFor(k Kind) []CategoryRule {
	if k == KindIncome {
		return IncomeRules
	}
	return ExpenseRules
}

// CategoriesFor lists the taxonomy of a kind, catch-all last.
func CategoriesFor(k Kind) []Category {
	rules := RulesFor(k)
	out := make([]Category, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.Category)
	}
	return append(out, Sonstiges)
}

func AsStringSlice(k Kind) []string {
	cats := CategoriesFor(k)
	result := make([]string, len(cats))
	for i, cat := range cats {
		result[i] = string(cat)
	}
	return result
}

// MatchCategory returns the highest-priority category with keyword evidence
// in text, or false when nothing matches.
func MatchCategory(k Kind, text string) (Category, bool) {
	lower := strings.ToLower(text)
	words := wordSet(lower)
	for _, rule := range RulesFor(k) {
		for _, kw := range rule.Keywords {
			if containsKeyword(lower, words, kw) {
				return rule.Category, true
			}
		}
	}
	return "", false
}

// Keywords of three characters or less only match whole words, so "db" does
// not fire inside "feedback".
func containsKeyword(lower string, words map[string]struct{}, kw string) bool {
	if len([]rune(kw)) <= 3 {
		_, ok := words[kw]
		return ok
	}
	return strings.Contains(lower, kw)
}

func wordSet(lower string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}

// Canonicalize maps free-form category text (typically model output) onto
// the taxonomy of a kind.
func Canonicalize(k Kind, input string) (Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	for _, cat := range CategoriesFor(k) {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	synonyms := expenseSynonyms
	if k == KindIncome {
		synonyms = incomeSynonyms
	}
	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}
	return "", false
}

var expenseSynonyms = map[string]Category{
	"buero":             Buero,
	"büromaterial":      Buero,
	"office":            Buero,
	"software":          Buero,
	"hardware":          Buero,
	"miete":             Raum,
	"rent":              Raum,
	"telekommunikation": Telefon,
	"internet":          Telefon,
	"phone":             Telefon,
	"reisekosten":       Fahrtkosten,
	"travel":            Fahrtkosten,
	"weiterbildung":     Fortbildung,
	"education":         Fortbildung,
	"insurance":         Versicherung,
	"versand":           Porto,
	"shipping":          Porto,
	"marketing":         Werbung,
	"advertising":       Werbung,
	"sonstige":          Sonstiges,
	"other":             Sonstiges,
}

var incomeSynonyms = map[string]Category{
	"fee":             Honorar,
	"honorare":        Honorar,
	"lizenz":          Lizenzgebuehren,
	"lizenzgebuehren": Lizenzgebuehren,
	"royalties":       Lizenzgebuehren,
	"workshop":        Workshops,
	"stipendium":      Stipendien,
	"grant":           Stipendien,
	"verkauf":         Verkaeufe,
	"verkaeufe":       Verkaeufe,
	"sales":           Verkaeufe,
	"sonstige":        Sonstiges,
	"other":           Sonstiges,
}
