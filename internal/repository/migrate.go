package repository

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		prefix TEXT NOT NULL UNIQUE,
		intake_path TEXT NOT NULL,
		archive_path TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		business_id INTEGER NOT NULL REFERENCES businesses(id),
		kind TEXT NOT NULL CHECK (kind IN ('expense', 'income')),
		path TEXT NOT NULL UNIQUE,
		original_filename TEXT NOT NULL,
		doc_date TEXT,
		amount TEXT,
		category TEXT,
		description TEXT,
		raw_text TEXT,
		provenance TEXT,
		processed BOOLEAN NOT NULL DEFAULT 0,
		reviewed BOOLEAN NOT NULL DEFAULT 0,
		archived BOOLEAN NOT NULL DEFAULT 0,
		flagged BOOLEAN NOT NULL DEFAULT 0,
		identifier TEXT UNIQUE,
		archived_from TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (NOT archived OR reviewed),
		CHECK (NOT reviewed OR processed)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_business_status ON documents (business_id, processed, reviewed, archived)`,
	`CREATE INDEX IF NOT EXISTS documents_archived_from ON documents (archived_from)`,
	`CREATE TABLE IF NOT EXISTS issued_identifiers (
		scope TEXT NOT NULL,
		seq INTEGER NOT NULL,
		identifier TEXT NOT NULL UNIQUE,
		document_id INTEGER,
		issued_at TEXT NOT NULL,
		PRIMARY KEY (scope, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS extraction_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		strategy TEXT,
		provenance TEXT,
		model_name TEXT,
		text_chars INTEGER NOT NULL DEFAULT 0,
		ocr_confidence REAL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS extraction_runs_document ON extraction_runs (document_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		prefix TEXT NOT NULL UNIQUE,
		intake_path TEXT NOT NULL,
		archive_path TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		business_id BIGINT NOT NULL REFERENCES businesses(id),
		kind TEXT NOT NULL CHECK (kind IN ('expense', 'income')),
		path TEXT NOT NULL UNIQUE,
		original_filename TEXT NOT NULL,
		doc_date TEXT,
		amount TEXT,
		category TEXT,
		description TEXT,
		raw_text TEXT,
		provenance TEXT,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		reviewed BOOLEAN NOT NULL DEFAULT FALSE,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		flagged BOOLEAN NOT NULL DEFAULT FALSE,
		identifier TEXT UNIQUE,
		archived_from TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (NOT archived OR reviewed),
		CHECK (NOT reviewed OR processed)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_business_status ON documents (business_id, processed, reviewed, archived)`,
	`CREATE INDEX IF NOT EXISTS documents_archived_from ON documents (archived_from)`,
	`CREATE TABLE IF NOT EXISTS issued_identifiers (
		scope TEXT NOT NULL,
		seq BIGINT NOT NULL,
		identifier TEXT NOT NULL UNIQUE,
		document_id BIGINT,
		issued_at TEXT NOT NULL,
		PRIMARY KEY (scope, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS extraction_runs (
		id BIGSERIAL PRIMARY KEY,
		document_id BIGINT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		strategy TEXT,
		provenance TEXT,
		model_name TEXT,
		text_chars INTEGER NOT NULL DEFAULT 0,
		ocr_confidence REAL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS extraction_runs_document ON extraction_runs (document_id)`,
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.postgres() {
		stmts = postgresSchema
	}
	for i, stmt := range stmts {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return translate(fmt.Sprintf("migrate step %d", i), err)
		}
	}
	s.log.Infow("db.migrate.done", "dialect", s.Dialect(), "statements", len(stmts))
	return nil
}
