package repository

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/entity"
)

const runsTable = "extraction_runs"

// ExtractionRunRepository journals extraction attempts for diagnostics.
type ExtractionRunRepository interface {
	Start(ctx context.Context, documentID int64) (*entity.ExtractionRun, error)
	Finish(ctx context.Context, run *entity.ExtractionRun, res entity.RunResult) error
	ListForDocument(ctx context.Context, documentID int64) ([]*entity.ExtractionRun, error)
}

type extractionRunRepo struct {
	store *Store
	log   *zap.SugaredLogger
}

func NewExtractionRunRepository(store *Store, log *zap.SugaredLogger) ExtractionRunRepository {
	return &extractionRunRepo{store: store, log: log}
}

func (r *extractionRunRepo) Start(ctx context.Context, documentID int64) (*entity.ExtractionRun, error) {
	started := time.Now().UTC()
	ins := r.store.builder().
		Insert(runsTable).
		Columns("document_id", "started_at").
		Values(documentID, formatTime(started))

	run := &entity.ExtractionRun{DocumentID: documentID, StartedAt: started}
	if r.store.postgres() {
		query, args := ins.Returning("id").Query()
		var rows entsql.Rows
		if err := r.store.drv.Query(ctx, query, args, &rows); err != nil {
			return nil, translate("start extraction run", err)
		}
		defer rows.Close()
		if rows.Next() {
			if err := rows.Scan(&run.ID); err != nil {
				return nil, translate("start extraction run", err)
			}
		}
		if err := rows.Err(); err != nil {
			return nil, translate("start extraction run", err)
		}
	} else {
		query, args := ins.Query()
		var res sql.Result
		if err := r.store.drv.Exec(ctx, query, args, &res); err != nil {
			return nil, translate("start extraction run", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, translate("start extraction run", err)
		}
		run.ID = id
	}

	r.log.Debugw("extraction_run.started", "run_id", run.ID, "document_id", documentID)
	return run, nil
}

func (r *extractionRunRepo) Finish(ctx context.Context, run *entity.ExtractionRun, res entity.RunResult) error {
	finished := time.Now().UTC()
	b := r.store.builder().
		Update(runsTable).
		Set("finished_at", formatTime(finished)).
		Set("strategy", res.Strategy).
		Set("provenance", res.Provenance).
		Set("text_chars", res.TextChars).
		Set("duration_ms", finished.Sub(run.StartedAt).Milliseconds())
	if res.ModelName != "" {
		b.Set("model_name", res.ModelName)
	}
	if res.OCRConfidence != nil {
		b.Set("ocr_confidence", *res.OCRConfidence)
	}
	if res.Err != nil {
		b.Set("error_message", res.Err.Error())
	}
	query, args := b.Where(entsql.EQ("id", run.ID)).Query()

	if err := r.store.drv.Exec(ctx, query, args, nil); err != nil {
		r.log.Errorw("extraction_run.finish_failed", "run_id", run.ID, "error", err)
		return translate("finish extraction run", err)
	}
	if res.Err != nil {
		r.log.Warnw("extraction_run.finished", "run_id", run.ID, "provenance", res.Provenance, "error", res.Err)
	} else {
		r.log.Debugw("extraction_run.finished", "run_id", run.ID, "provenance", res.Provenance)
	}
	return nil
}

func (r *extractionRunRepo) ListForDocument(ctx context.Context, documentID int64) ([]*entity.ExtractionRun, error) {
	query, args := r.store.builder().
		Select("id", "document_id", "started_at", "finished_at", "strategy", "provenance", "model_name",
			"text_chars", "ocr_confidence", "duration_ms", "error_message").
		From(entsql.Table(runsTable)).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy("id").
		Query()

	var rows entsql.Rows
	if err := r.store.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, translate("list extraction runs", err)
	}
	defer rows.Close()

	var out []*entity.ExtractionRun
	for rows.Next() {
		var (
			run                                 entity.ExtractionRun
			started                             string
			finished, strategy, prov, model, em sql.NullString
			conf                                sql.NullFloat64
		)
		if err := rows.Scan(&run.ID, &run.DocumentID, &started, &finished, &strategy, &prov, &model,
			&run.TextChars, &conf, &run.DurationMS, &em); err != nil {
			return nil, translate("scan extraction run", err)
		}
		run.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			run.FinishedAt = &t
		}
		run.Strategy = nullString(strategy)
		run.Provenance = nullString(prov)
		run.ModelName = nullString(model)
		run.ErrorMessage = nullString(em)
		if conf.Valid {
			c := float32(conf.Float64)
			run.OCRConfidence = &c
		}
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list extraction runs", err)
	}
	return out, nil
}
