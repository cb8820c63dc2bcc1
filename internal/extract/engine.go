// Package extract turns documents into structured facts: OCR text first,
// then an ordered chain of strategies, first usable answer wins.
package extract

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/entity"
)

type Engine struct {
	text       TextExtractor
	strategies []Strategy
	journal    RunJournal
	log        *zap.SugaredLogger
}

type EngineOption func(*Engine)

// WithJournal records every strategy attempt for documents with an ID.
func WithJournal(j RunJournal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// NewEngine builds an engine trying strategies in order. The last strategy's
// answer is always accepted, so it should be one that never fails.
func NewEngine(text TextExtractor, strategies []Strategy, log *zap.SugaredLogger, opts ...EngineOption) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Engine{text: text, strategies: strategies, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFile reads the text of req.Path and runs the strategy chain over it.
// It never fails: an unreadable file yields an empty Result.
func (e *Engine) ExtractFile(ctx context.Context, req Request) Result {
	tr, err := e.text.Extract(ctx, req.Path)
	if err != nil {
		e.log.Warnw("extract.text.failed",
			"document_id", req.DocumentID, "path", req.Path, "error", err)
		e.record(ctx, req.DocumentID, entity.RunResult{Strategy: "ocr", Provenance: string(ProvenanceNone), Err: err}, time.Now())
		return Result{Provenance: ProvenanceNone}
	}
	req.Text = tr.Text
	conf := tr.Confidence
	req.OCRConfidence = &conf
	return e.ExtractText(ctx, req)
}

// ExtractText runs the strategy chain over req.Text.
func (e *Engine) ExtractText(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Text) == "" {
		e.log.Infow("extract.text.empty", "document_id", req.DocumentID, "path", req.Path)
		return Result{Provenance: ProvenanceNone, Text: req.Text, OCRConfidence: req.OCRConfidence}
	}

	last := len(e.strategies) - 1
	for i, s := range e.strategies {
		start := time.Now()
		res, err := s.Extract(ctx, req)
		run := entity.RunResult{
			Strategy:      s.Name(),
			Provenance:    string(res.Provenance),
			ModelName:     res.ModelName,
			TextChars:     len(req.Text),
			OCRConfidence: req.OCRConfidence,
			Err:           err,
		}
		e.record(ctx, req.DocumentID, run, start)

		if err != nil {
			e.log.Warnw("extract.strategy.unavailable",
				"document_id", req.DocumentID, "strategy", s.Name(), "error", err)
			continue
		}
		if i < last && !res.Usable() {
			e.log.Infow("extract.strategy.unusable",
				"document_id", req.DocumentID, "strategy", s.Name(),
				"missing", res.Missing(FieldDate, FieldAmount))
			continue
		}

		res.Text = req.Text
		res.OCRConfidence = req.OCRConfidence
		e.log.Infow("extract.result",
			"document_id", req.DocumentID,
			"provenance", res.Provenance,
			"strategy", res.Strategy,
			"missing", res.Missing(FieldDate, FieldAmount, FieldCategory, FieldDescription),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return res
	}

	e.log.Warnw("extract.chain.exhausted", "document_id", req.DocumentID)
	return Result{Provenance: ProvenanceNone, Text: req.Text, OCRConfidence: req.OCRConfidence}
}

func (e *Engine) record(ctx context.Context, docID int64, rr entity.RunResult, start time.Time) {
	if e.journal == nil || docID == 0 {
		return
	}
	run, err := e.journal.Start(ctx, docID)
	if err != nil {
		e.log.Warnw("extract.journal.start_failed", "document_id", docID, "error", err)
		return
	}
	run.StartedAt = start
	if err := e.journal.Finish(ctx, run, rr); err != nil {
		e.log.Warnw("extract.journal.finish_failed", "document_id", docID, "error", err)
	}
}
