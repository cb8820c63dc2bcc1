package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/delmenhorst/Buchhaltung/internal/common"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store owns the database handle shared by all repositories.
type Store struct {
	drv  *entsql.Driver
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// Open connects to sqlite (default) or postgres and wraps the handle in an
// ent SQL driver.
func Open(ctx context.Context, cfg common.DatabaseConfig, log *zap.SugaredLogger) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return openPostgres(ctx, cfg, log)
	case DriverSQLite, "":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, common.NewInvalidInputError(fmt.Sprintf("unsupported database driver %q", cfg.Driver))
	}
}

func openSQLite(ctx context.Context, cfg common.DatabaseConfig, log *zap.SugaredLogger) (*Store, error) {
	log.Infow("connecting to database", "driver", DriverSQLite, "dsn", cfg.DSN)
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, common.NewDatabaseError("open sqlite", err)
	}
	// One connection serializes writers; sqlite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := dialContext(ctx, cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		log.Errorw("failed to connect to database", "error", err)
		return nil, common.NewDatabaseError("ping sqlite", err)
	}

	log.Infow("successfully connected to database", "driver", DriverSQLite)
	return &Store{drv: entsql.OpenDB(dialect.SQLite, db), log: log}, nil
}

// openPostgres creates a pgx pool and wraps it for ent.
func openPostgres(ctx context.Context, cfg common.DatabaseConfig, log *zap.SugaredLogger) (*Store, error) {
	log.Infow("connecting to database", "driver", DriverPostgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		log.Errorw("failed to parse database dsn", "error", err)
		return nil, common.NewDatabaseError("parse dsn", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "buchhaltung"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	dialCtx, cancel := dialContext(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		log.Errorw("failed to connect to database", "error", err)
		return nil, common.NewDatabaseError("connect postgres", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	log.Infow("successfully connected to database", "driver", DriverPostgres)
	return &Store{drv: entsql.OpenDB(dialect.Postgres, db), pool: pool, log: log}, nil
}

func dialContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Close closes the database connections gracefully
func (s *Store) Close() {
	s.log.Infow("closing database connections")
	if err := s.drv.Close(); err != nil {
		s.log.Errorw("failed to close database", "error", err)
	}
	if s.pool != nil {
		s.pool.Close()
	}
	s.log.Infow("database connections closed")
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.drv.DB().PingContext(ctx); err != nil {
		return common.NewDatabaseError("ping", err)
	}
	return nil
}

// Dialect is the ent dialect name of the open store.
func (s *Store) Dialect() string {
	return s.drv.Dialect()
}

func (s *Store) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.drv.Dialect())
}

func (s *Store) postgres() bool {
	return s.drv.Dialect() == dialect.Postgres
}

// withTx runs fn in a transaction. Any error or panic rolls back every
// statement fn issued.
func (s *Store) withTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return common.NewDatabaseError("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.log.Errorw("db.tx.rollback_failed", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return common.NewDatabaseError("commit transaction", err)
	}
	return nil
}

// translate maps driver errors onto the application error taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if isUniqueViolation(err) {
		return common.NewAppError(common.CodeConflict, op+": unique constraint violated", errors.Join(common.ErrConflict, err))
	}
	if isCheckViolation(err) {
		return common.NewAppError(common.CodeInvalidInput, op+": check constraint violated", errors.Join(common.ErrInvalidInput, err))
	}
	return common.NewDatabaseError(op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
