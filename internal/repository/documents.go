package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
)

const dateLayout = "2006-01-02"

const documentsTable = "documents"

var documentColumns = []string{
	"id", "business_id", "kind", "path", "original_filename",
	"doc_date", "amount", "category", "description", "raw_text", "provenance",
	"processed", "reviewed", "archived", "flagged", "identifier", "archived_from",
	"created_at", "updated_at",
}

// DocumentRepository is the only writer of document records. Every update is
// applied atomically or not at all.
type DocumentRepository interface {
	Register(ctx context.Context, in entity.NewDocument) (*entity.Document, bool, error)
	GetByID(ctx context.Context, id int64) (*entity.Document, error)
	GetByPath(ctx context.Context, path string) (*entity.Document, error)
	// GetArchivedFrom returns the most recent archived document whose file
	// was moved out of intake path.
	GetArchivedFrom(ctx context.Context, path string) (*entity.Document, error)
	List(ctx context.Context, f entity.DocumentFilter) ([]*entity.Document, error)
	Update(ctx context.Context, id int64, upd entity.DocumentUpdate) (*entity.Document, error)
	CountByStatus(ctx context.Context, businessID int64) (map[constants.DocumentStatus]int, error)
	// Delete is an administrative action; the pipeline never calls it.
	Delete(ctx context.Context, id int64) error
}

type documentRepo struct {
	store *Store
	log   *zap.SugaredLogger
}

func NewDocumentRepository(store *Store, log *zap.SugaredLogger) DocumentRepository {
	return &documentRepo{store: store, log: log}
}

// Register tracks path if it is not tracked yet. The bool reports whether a
// new record was created.
func (r *documentRepo) Register(ctx context.Context, in entity.NewDocument) (*entity.Document, bool, error) {
	if !in.Kind.Valid() || in.Path == "" || in.BusinessID == 0 {
		return nil, false, common.NewInvalidInputError("business, kind and path are required")
	}

	now := formatTime(time.Now())
	query, args := r.store.builder().
		Insert(documentsTable).
		Columns("business_id", "kind", "path", "original_filename", "processed", "reviewed", "archived", "flagged", "created_at", "updated_at").
		Values(in.BusinessID, string(in.Kind), in.Path, filepath.Base(in.Path), false, false, false, false, now, now).
		OnConflict(entsql.ConflictColumns("path"), entsql.DoNothing()).
		Query()

	var res sql.Result
	if err := r.store.drv.Exec(ctx, query, args, &res); err != nil {
		r.log.Errorw("documents.register.failed", "path", in.Path, "error", err)
		return nil, false, translate("register document", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, translate("register document", err)
	}

	doc, err := r.GetByPath(ctx, in.Path)
	if err != nil {
		return nil, false, err
	}
	if affected > 0 {
		r.log.Infow("documents.registered", "document_id", doc.ID, "path", in.Path, "kind", in.Kind)
	}
	return doc, affected > 0, nil
}

func (r *documentRepo) GetByID(ctx context.Context, id int64) (*entity.Document, error) {
	return r.getOne(ctx, r.store.drv, entsql.EQ("id", id), fmt.Sprintf("document %d", id), false)
}

func (r *documentRepo) GetByPath(ctx context.Context, path string) (*entity.Document, error) {
	return r.getOne(ctx, r.store.drv, entsql.EQ("path", path), fmt.Sprintf("document at %s", path), false)
}

func (r *documentRepo) GetArchivedFrom(ctx context.Context, path string) (*entity.Document, error) {
	query, args := r.store.builder().
		Select(documentColumns...).
		From(entsql.Table(documentsTable)).
		Where(entsql.And(entsql.EQ("archived_from", path), entsql.EQ("archived", true))).
		OrderBy(entsql.Desc("id")).
		Limit(1).
		Query()

	docs, err := r.query(ctx, r.store.drv, query, args)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.NewNotFoundError(fmt.Sprintf("no document archived from %s", path))
	}
	return docs[0], nil
}

func (r *documentRepo) getOne(ctx context.Context, q dialect.ExecQuerier, pred *entsql.Predicate, what string, lock bool) (*entity.Document, error) {
	sel := r.store.builder().
		Select(documentColumns...).
		From(entsql.Table(documentsTable)).
		Where(pred)
	if lock && r.store.postgres() {
		sel.ForUpdate()
	}
	query, args := sel.Query()

	docs, err := r.query(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.NewNotFoundError(what + " not found")
	}
	return docs[0], nil
}

// List returns documents matching every set filter, oldest first.
func (r *documentRepo) List(ctx context.Context, f entity.DocumentFilter) ([]*entity.Document, error) {
	sel := r.store.builder().
		Select(documentColumns...).
		From(entsql.Table(documentsTable)).
		OrderBy("id")
	if f.BusinessID != nil {
		sel.Where(entsql.EQ("business_id", *f.BusinessID))
	}
	if f.Kind != nil {
		sel.Where(entsql.EQ("kind", string(*f.Kind)))
	}
	if f.Processed != nil {
		sel.Where(entsql.EQ("processed", *f.Processed))
	}
	if f.Reviewed != nil {
		sel.Where(entsql.EQ("reviewed", *f.Reviewed))
	}
	if f.Archived != nil {
		sel.Where(entsql.EQ("archived", *f.Archived))
	}
	if f.Flagged != nil {
		sel.Where(entsql.EQ("flagged", *f.Flagged))
	}
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	query, args := sel.Query()
	return r.query(ctx, r.store.drv, query, args)
}

// Update applies upd to document id in one transaction. The merged record
// must keep archived => reviewed => processed, an issued identifier never
// changes and an archived document only moves when upd.Refile is set.
func (r *documentRepo) Update(ctx context.Context, id int64, upd entity.DocumentUpdate) (*entity.Document, error) {
	if upd.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	var out *entity.Document
	err := r.store.withTx(ctx, func(tx dialect.Tx) error {
		cur, err := r.getOne(ctx, tx, entsql.EQ("id", id), fmt.Sprintf("document %d", id), true)
		if err != nil {
			return err
		}

		merged := applyUpdate(*cur, upd)
		if err := checkTransition(cur, &merged, upd); err != nil {
			return err
		}

		merged.UpdatedAt = time.Now().UTC()
		query, args := r.updateStatement(id, upd, merged)

		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return translate("update document", err)
		}
		out = &merged
		return nil
	})
	if err != nil {
		r.log.Warnw("documents.update.rolled_back", "document_id", id, "error", err)
		return nil, err
	}
	return out, nil
}

func applyUpdate(d entity.Document, u entity.DocumentUpdate) entity.Document {
	if u.ClearFacts {
		d.Date, d.Amount, d.Category, d.Description = nil, nil, nil, nil
	}
	if u.Path != nil {
		d.Path = *u.Path
	}
	if u.Date != nil {
		d.Date = u.Date
	}
	if u.Amount != nil {
		d.Amount = u.Amount
	}
	if u.Category != nil {
		d.Category = u.Category
	}
	if u.Description != nil {
		d.Description = u.Description
	}
	if u.RawText != nil {
		d.RawText = u.RawText
	}
	if u.Provenance != nil {
		d.Provenance = u.Provenance
	}
	if u.Processed != nil {
		d.Processed = *u.Processed
	}
	if u.Reviewed != nil {
		d.Reviewed = *u.Reviewed
	}
	if u.Archived != nil {
		d.Archived = *u.Archived
	}
	if u.Flagged != nil {
		d.Flagged = *u.Flagged
	}
	if u.Identifier != nil {
		d.Identifier = u.Identifier
	}
	if u.ArchivedFrom != nil {
		d.ArchivedFrom = u.ArchivedFrom
	}
	return d
}

func checkTransition(cur, next *entity.Document, u entity.DocumentUpdate) error {
	if next.Archived && !next.Reviewed {
		return common.NewInvalidInputError("an archived document must be reviewed")
	}
	if next.Reviewed && !next.Processed {
		return common.NewInvalidInputError("a reviewed document must be processed")
	}
	if cur.Archived && !next.Archived {
		return common.NewInvalidInputError("an archived document cannot be unarchived")
	}
	if cur.Archived && next.Path != cur.Path && !u.Refile {
		return common.NewInvalidInputError("an archived document only moves through a re-file")
	}
	if cur.Identifier != nil && next.Identifier != nil && *cur.Identifier != *next.Identifier {
		return common.NewConflictError("identifier already issued")
	}
	if u.Path != nil && *u.Path == "" {
		return common.NewInvalidInputError("path must not be empty")
	}
	return nil
}

func (r *documentRepo) updateStatement(id int64, u entity.DocumentUpdate, d entity.Document) (string, []any) {
	b := r.store.builder().Update(documentsTable)
	if u.ClearFacts || u.Date != nil {
		if d.Date == nil {
			b.SetNull("doc_date")
		} else {
			b.Set("doc_date", d.Date.Format(dateLayout))
		}
	}
	if u.ClearFacts || u.Amount != nil {
		if d.Amount == nil {
			b.SetNull("amount")
		} else {
			b.Set("amount", d.Amount.StringFixed(2))
		}
	}
	if u.ClearFacts || u.Category != nil {
		if d.Category == nil {
			b.SetNull("category")
		} else {
			b.Set("category", string(*d.Category))
		}
	}
	if u.ClearFacts || u.Description != nil {
		if d.Description == nil {
			b.SetNull("description")
		} else {
			b.Set("description", *d.Description)
		}
	}
	if u.Path != nil {
		b.Set("path", d.Path)
	}
	if u.RawText != nil {
		b.Set("raw_text", *d.RawText)
	}
	if u.Provenance != nil {
		b.Set("provenance", *d.Provenance)
	}
	if u.Processed != nil {
		b.Set("processed", d.Processed)
	}
	if u.Reviewed != nil {
		b.Set("reviewed", d.Reviewed)
	}
	if u.Archived != nil {
		b.Set("archived", d.Archived)
	}
	if u.Flagged != nil {
		b.Set("flagged", d.Flagged)
	}
	if u.Identifier != nil {
		b.Set("identifier", *d.Identifier)
	}
	if u.ArchivedFrom != nil {
		b.Set("archived_from", *d.ArchivedFrom)
	}
	b.Set("updated_at", formatTime(d.UpdatedAt))
	return b.Where(entsql.EQ("id", id)).Query()
}

// CountByStatus tallies the derived status of every document of a business.
func (r *documentRepo) CountByStatus(ctx context.Context, businessID int64) (map[constants.DocumentStatus]int, error) {
	query, args := r.store.builder().
		Select("processed", "reviewed", "archived").
		From(entsql.Table(documentsTable)).
		Where(entsql.EQ("business_id", businessID)).
		Query()

	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, translate("count documents", err)
	}
	defer rows.Close()

	out := make(map[constants.DocumentStatus]int, len(constants.AllStatuses))
	for _, s := range constants.AllStatuses {
		out[s] = 0
	}
	for rows.Next() {
		var processed, reviewed, archived bool
		if err := rows.Scan(&processed, &reviewed, &archived); err != nil {
			return nil, translate("scan document status", err)
		}
		out[constants.StatusFromFlags(processed, reviewed, archived)]++
	}
	if err := rows.Err(); err != nil {
		return nil, translate("count documents", err)
	}
	return out, nil
}

func (r *documentRepo) Delete(ctx context.Context, id int64) error {
	query, args := r.store.builder().
		Delete(documentsTable).
		Where(entsql.EQ("id", id)).
		Query()
	var res sql.Result
	if err := r.store.drv.Exec(ctx, query, args, &res); err != nil {
		return translate("delete document", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewNotFoundError(fmt.Sprintf("document %d not found", id))
	}
	r.log.Infow("documents.deleted", "document_id", id)
	return nil
}

func (r *documentRepo) query(ctx context.Context, q dialect.ExecQuerier, query string, args []any) ([]*entity.Document, error) {
	var rows entsql.Rows
	if err := q.Query(ctx, query, args, &rows); err != nil {
		return nil, translate("query documents", err)
	}
	defer rows.Close()

	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(&rows)
		if err != nil {
			return nil, translate("scan document", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("query documents", err)
	}
	return out, nil
}

func scanDocument(rows *entsql.Rows) (*entity.Document, error) {
	var (
		d                                       entity.Document
		kind, createdAt, updatedAt              string
		date, amount, category, desc, raw, prov sql.NullString
		identifier, archivedFrom                sql.NullString
	)
	if err := rows.Scan(
		&d.ID, &d.BusinessID, &kind, &d.Path, &d.OriginalFilename,
		&date, &amount, &category, &desc, &raw, &prov,
		&d.Processed, &d.Reviewed, &d.Archived, &d.Flagged, &identifier, &archivedFrom,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.Kind = constants.Kind(kind)
	if date.Valid {
		t, err := time.Parse(dateLayout, date.String)
		if err != nil {
			return nil, fmt.Errorf("document %d: bad date %q: %w", d.ID, date.String, err)
		}
		d.Date = &t
	}
	if amount.Valid {
		a, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, fmt.Errorf("document %d: bad amount %q: %w", d.ID, amount.String, err)
		}
		d.Amount = &a
	}
	if category.Valid {
		c := constants.Category(category.String)
		d.Category = &c
	}
	d.Description = nullString(desc)
	d.RawText = nullString(raw)
	d.Provenance = nullString(prov)
	d.Identifier = nullString(identifier)
	d.ArchivedFrom = nullString(archivedFrom)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}
