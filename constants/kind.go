package constants

import "strings"

// Kind separates expense documents from income documents.
type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

var allKinds = []Kind{KindExpense, KindIncome}

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Folder is the directory name used below a business root for this kind.
func (k Kind) Folder() string {
	switch k {
	case KindIncome:
		return "Einnahmen"
	default:
		return "Ausgaben"
	}
}

// Code is the identifier marker for this kind.
func (k Kind) Code() string {
	switch k {
	case KindIncome:
		return "ERE"
	default:
		return "ARE"
	}
}

func (k Kind) Valid() bool {
	return k == KindExpense || k == KindIncome
}

// ParseKind accepts the kind value, its folder name or its identifier code.
func ParseKind(s string) (Kind, bool) {
	n := strings.ToLower(strings.TrimSpace(s))
	for _, k := range allKinds {
		if n == string(k) || n == strings.ToLower(k.Folder()) || n == strings.ToLower(k.Code()) {
			return k, true
		}
	}
	return "", false
}
