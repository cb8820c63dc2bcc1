package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/common"
)

const issuedTable = "issued_identifiers"

// maxIssueAttempts bounds retries when another writer took the same number.
const maxIssueAttempts = 5

// IdentifierLedger is the append-only record of every identifier ever issued.
// Rows are never deleted, so a number is never handed out twice even after
// its document is removed.
type IdentifierLedger interface {
	// IssueNext assigns max(seq)+1 within scope to the document and returns
	// the formatted identifier. A document that already holds an identifier
	// issued in scope gets it back unchanged; one issued in another scope is
	// replaced, and its ledger row stays so the number is never reused.
	IssueNext(ctx context.Context, documentID int64, scope string, format func(seq int64) string) (string, error)
	// MaxSeq is the highest sequence issued within scope, 0 if none.
	MaxSeq(ctx context.Context, scope string) (int64, error)
}

type identifierLedger struct {
	store *Store
	log   *zap.SugaredLogger
}

func NewIdentifierLedger(store *Store, log *zap.SugaredLogger) IdentifierLedger {
	return &identifierLedger{store: store, log: log}
}

func (l *identifierLedger) IssueNext(ctx context.Context, documentID int64, scope string, format func(seq int64) string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		ident, err := l.issueOnce(ctx, documentID, scope, format)
		if err == nil {
			return ident, nil
		}
		if !errors.Is(err, common.ErrConflict) {
			return "", err
		}
		lastErr = err
		l.log.Warnw("identifiers.issue.retry", "scope", scope, "document_id", documentID, "attempt", attempt, "error", err)
	}
	return "", fmt.Errorf("issue identifier in %s after %d attempts: %w", scope, maxIssueAttempts, lastErr)
}

func (l *identifierLedger) issueOnce(ctx context.Context, documentID int64, scope string, format func(seq int64) string) (string, error) {
	var issued string
	err := l.store.withTx(ctx, func(tx dialect.Tx) error {
		existing, err := l.currentIdentifier(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if existing != "" {
			inScope, err := l.issuedIn(ctx, tx, existing, scope)
			if err != nil {
				return err
			}
			if inScope {
				issued = existing
				return nil
			}
			l.log.Warnw("identifiers.issue.scope_changed",
				"document_id", documentID, "previous", existing, "scope", scope)
		}

		maxSeq, err := l.maxSeq(ctx, tx, scope)
		if err != nil {
			return err
		}
		seq := maxSeq + 1
		ident := format(seq)

		query, args := l.store.builder().
			Insert(issuedTable).
			Columns("scope", "seq", "identifier", "document_id", "issued_at").
			Values(scope, seq, ident, documentID, formatTime(time.Now())).
			Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return translate("record identifier", err)
		}

		query, args = l.store.builder().
			Update(documentsTable).
			Set("identifier", ident).
			Set("updated_at", formatTime(time.Now())).
			Where(entsql.EQ("id", documentID)).
			Query()
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return translate("assign identifier", err)
		}

		issued = ident
		return nil
	})
	if err != nil {
		return "", err
	}
	return issued, nil
}

func (l *identifierLedger) currentIdentifier(ctx context.Context, tx dialect.Tx, documentID int64) (string, error) {
	sel := l.store.builder().
		Select("identifier").
		From(entsql.Table(documentsTable)).
		Where(entsql.EQ("id", documentID))
	if l.store.postgres() {
		sel.ForUpdate()
	}
	query, args := sel.Query()

	var rows entsql.Rows
	if err := tx.Query(ctx, query, args, &rows); err != nil {
		return "", translate("read identifier", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", translate("read identifier", err)
		}
		return "", common.NewNotFoundError(fmt.Sprintf("document %d not found", documentID))
	}
	var ident sql.NullString
	if err := rows.Scan(&ident); err != nil {
		return "", translate("read identifier", err)
	}
	return ident.String, nil
}

func (l *identifierLedger) issuedIn(ctx context.Context, tx dialect.Tx, ident, scope string) (bool, error) {
	query, args := l.store.builder().
		Select("seq").
		From(entsql.Table(issuedTable)).
		Where(entsql.And(entsql.EQ("identifier", ident), entsql.EQ("scope", scope))).
		Query()

	var rows entsql.Rows
	if err := tx.Query(ctx, query, args, &rows); err != nil {
		return false, translate("read issued identifier", err)
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, translate("read issued identifier", err)
	}
	return found, nil
}

func (l *identifierLedger) MaxSeq(ctx context.Context, scope string) (int64, error) {
	return l.maxSeq(ctx, l.store.drv, scope)
}

func (l *identifierLedger) maxSeq(ctx context.Context, q dialect.ExecQuerier, scope string) (int64, error) {
	query, args := l.store.builder().
		Select(entsql.Max("seq")).
		From(entsql.Table(issuedTable)).
		Where(entsql.EQ("scope", scope)).
		Query()

	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return 0, translate("read max sequence", err)
	}
	defer rows.Close()

	var max sql.NullInt64
	if rows.Next() {
		if err := rows.Scan(&max); err != nil {
			return 0, translate("read max sequence", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, translate("read max sequence", err)
	}
	return max.Int64, nil
}
