// Package identifier issues the human-readable document identifiers, e.g.
// ARE-MK-2025001: kind code, business prefix, year and a per-scope sequence.
package identifier

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
)

// SeqWidth is the minimum zero-padded width of the sequence. Larger numbers
// simply grow wider.
const SeqWidth = 3

// Scope is the unit within which sequence numbers are counted.
type Scope struct {
	Kind   constants.Kind
	Prefix string
	Year   int
}

// Key is the ledger key of the scope, also the identifier minus its sequence.
func (s Scope) Key() string {
	return fmt.Sprintf("%s-%s-%04d", s.Kind.Code(), s.Prefix, s.Year)
}

// Format renders the identifier of seq within s.
func Format(s Scope, seq int64) string {
	return fmt.Sprintf("%s%0*d", s.Key(), SeqWidth, seq)
}

var identRegex = regexp.MustCompile(`^([A-Z]{3})-([A-Z0-9]+)-(\d{4})(\d{3,})$`)

// Parse splits an identifier into its scope and sequence.
func Parse(ident string) (Scope, int64, error) {
	m := identRegex.FindStringSubmatch(ident)
	if m == nil {
		return Scope{}, 0, common.NewInvalidInputError(fmt.Sprintf("malformed identifier %q", ident))
	}
	kind, ok := constants.ParseKind(m[1])
	if !ok {
		return Scope{}, 0, common.NewInvalidInputError(fmt.Sprintf("unknown kind code in %q", ident))
	}
	year, _ := strconv.Atoi(m[3])
	seq, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return Scope{}, 0, common.NewInvalidInputError(fmt.Sprintf("bad sequence in %q", ident))
	}
	return Scope{Kind: kind, Prefix: m[2], Year: year}, seq, nil
}

// Allocator hands out identifiers. The next number is always recomputed from
// the ledger, so allocations from another process or an on-demand run are
// seen immediately.
type Allocator struct {
	ledger repository.IdentifierLedger
	log    *zap.SugaredLogger
	mu     sync.Mutex
}

func NewAllocator(ledger repository.IdentifierLedger, log *zap.SugaredLogger) *Allocator {
	return &Allocator{ledger: ledger, log: log}
}

// ScopeOf derives the allocation scope of a document. The document must
// carry a date.
func ScopeOf(doc *entity.Document, biz *entity.Business) (Scope, error) {
	if doc.Date == nil {
		return Scope{}, common.NewInvalidInputError(fmt.Sprintf("document %d has no date", doc.ID))
	}
	if !doc.Kind.Valid() {
		return Scope{}, common.NewInvalidInputError(fmt.Sprintf("document %d has unknown kind %q", doc.ID, doc.Kind))
	}
	return Scope{Kind: doc.Kind, Prefix: biz.Prefix, Year: doc.Date.Year()}, nil
}

// Allocate returns the identifier of doc, issuing a new one if it has none
// or if the one it has belongs to another scope (its date or kind was
// corrected after an earlier allocation).
func (a *Allocator) Allocate(ctx context.Context, doc *entity.Document, biz *entity.Business) (string, error) {
	scope, err := ScopeOf(doc, biz)
	if err != nil {
		return "", err
	}
	if doc.Identifier != nil && *doc.Identifier != "" {
		if held, _, err := Parse(*doc.Identifier); err == nil && held == scope {
			return *doc.Identifier, nil
		}
		a.log.Infow("identifier.scope_changed", "document_id", doc.ID, "previous", *doc.Identifier, "scope", scope.Key())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ident, err := a.ledger.IssueNext(ctx, doc.ID, scope.Key(), func(seq int64) string {
		return Format(scope, seq)
	})
	if err != nil {
		a.log.Errorw("identifier.allocate.failed", "document_id", doc.ID, "scope", scope.Key(), "error", err)
		return "", err
	}
	a.log.Infow("identifier.allocated", "document_id", doc.ID, "identifier", ident)
	return ident, nil
}
