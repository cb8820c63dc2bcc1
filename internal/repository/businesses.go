package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
)

const businessesTable = "businesses"

var businessColumns = []string{"id", "name", "prefix", "intake_path", "archive_path", "created_at"}

// BusinessRepository reads business records. Administration of businesses
// happens elsewhere; Ensure only seeds configured ones.
type BusinessRepository interface {
	Ensure(ctx context.Context, b entity.Business) (*entity.Business, error)
	GetByID(ctx context.Context, id int64) (*entity.Business, error)
	GetByName(ctx context.Context, name string) (*entity.Business, error)
	List(ctx context.Context) ([]*entity.Business, error)
}

type businessRepo struct {
	store *Store
	log   *zap.SugaredLogger
}

func NewBusinessRepository(store *Store, log *zap.SugaredLogger) BusinessRepository {
	return &businessRepo{store: store, log: log}
}

// Ensure inserts b unless a business with that name exists. An existing
// business must carry the same prefix: prefixes are fixed once issued.
func (r *businessRepo) Ensure(ctx context.Context, b entity.Business) (*entity.Business, error) {
	query, args := r.store.builder().
		Insert(businessesTable).
		Columns("name", "prefix", "intake_path", "archive_path", "created_at").
		Values(b.Name, b.Prefix, b.IntakePath, b.ArchivePath, formatTime(time.Now())).
		OnConflict(entsql.ConflictColumns("name"), entsql.DoNothing()).
		Query()

	var res sql.Result
	if err := r.store.drv.Exec(ctx, query, args, &res); err != nil {
		return nil, translate("ensure business", err)
	}

	got, err := r.GetByName(ctx, b.Name)
	if err != nil {
		return nil, err
	}
	if got.Prefix != b.Prefix {
		return nil, common.NewConflictError(fmt.Sprintf("business %s already uses prefix %s", got.Name, got.Prefix))
	}
	r.log.Debugw("businesses.ensured", "business", got.Name, "prefix", got.Prefix, "business_id", got.ID)
	return got, nil
}

func (r *businessRepo) GetByID(ctx context.Context, id int64) (*entity.Business, error) {
	return r.getOne(ctx, entsql.EQ("id", id), fmt.Sprintf("business %d", id))
}

func (r *businessRepo) GetByName(ctx context.Context, name string) (*entity.Business, error) {
	return r.getOne(ctx, entsql.EQ("name", name), fmt.Sprintf("business %s", name))
}

func (r *businessRepo) getOne(ctx context.Context, pred *entsql.Predicate, what string) (*entity.Business, error) {
	query, args := r.store.builder().
		Select(businessColumns...).
		From(entsql.Table(businessesTable)).
		Where(pred).
		Query()
	out, err := r.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, common.NewNotFoundError(what + " not found")
	}
	return out[0], nil
}

// List returns every business in creation order, which is the order scan
// cycles visit them in.
func (r *businessRepo) List(ctx context.Context) ([]*entity.Business, error) {
	query, args := r.store.builder().
		Select(businessColumns...).
		From(entsql.Table(businessesTable)).
		OrderBy("id").
		Query()
	return r.query(ctx, query, args)
}

func (r *businessRepo) query(ctx context.Context, query string, args []any) ([]*entity.Business, error) {
	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, translate("query businesses", err)
	}
	defer rows.Close()

	var out []*entity.Business
	for rows.Next() {
		var (
			b         entity.Business
			createdAt string
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.Prefix, &b.IntakePath, &b.ArchivePath, &createdAt); err != nil {
			return nil, translate("scan business", err)
		}
		b.CreatedAt = parseTime(createdAt)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("query businesses", err)
	}
	return out, nil
}
