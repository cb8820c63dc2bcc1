// Package pipeline processes one tracked document end to end: format
// normalization, extraction, completeness gate, identifier and archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/extract"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
)

// Normalizer makes sure extraction reads a PDF. convert.Normalizer satisfies it.
type Normalizer interface {
	Normalize(ctx context.Context, path string, commit func(newPath string) error) (string, error)
}

// Extractor never fails; extract.Engine satisfies it.
type Extractor interface {
	ExtractFile(ctx context.Context, req extract.Request) extract.Result
}

// Allocator issues identifiers; identifier.Allocator satisfies it.
type Allocator interface {
	Allocate(ctx context.Context, doc *entity.Document, biz *entity.Business) (string, error)
}

// Archiver files complete documents; archive.Renamer satisfies it.
type Archiver interface {
	Archive(ctx context.Context, doc *entity.Document, biz *entity.Business) (*entity.Document, error)
}

// Observer receives every outcome and extraction result, e.g. for metrics.
type Observer interface {
	ObserveOutcome(o Outcome, elapsed time.Duration)
	ObserveExtraction(r extract.Result)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(Outcome, time.Duration) {}
func (nopObserver) ObserveExtraction(extract.Result)      {}

// Processor coordinates the per-document steps.
type Processor struct {
	docs       repository.DocumentRepository
	businesses repository.BusinessRepository
	normalizer Normalizer
	extractor  Extractor
	allocator  Allocator
	archiver   Archiver
	observer   Observer
	log        *zap.SugaredLogger
}

type Option func(*Processor)

func WithObserver(o Observer) Option {
	return func(p *Processor) { p.observer = o }
}

func NewProcessor(
	docs repository.DocumentRepository,
	businesses repository.BusinessRepository,
	normalizer Normalizer,
	extractor Extractor,
	allocator Allocator,
	archiver Archiver,
	log *zap.SugaredLogger,
	opts ...Option,
) *Processor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Processor{
		docs:       docs,
		businesses: businesses,
		normalizer: normalizer,
		extractor:  extractor,
		allocator:  allocator,
		archiver:   archiver,
		observer:   nopObserver{},
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessDocument runs document id through the pipeline. Processed documents
// are skipped unless force is set; archived documents are always skipped.
// It never panics and never returns an error: failures become outcomes.
func (p *Processor) ProcessDocument(ctx context.Context, id int64, force bool) Outcome {
	return p.run(ctx, id, "process", func(ctx context.Context, doc *entity.Document, biz *entity.Business, out Outcome) Outcome {
		if doc.Processed && !force {
			out.Kind = OutcomeSkipped
			return out
		}
		return p.process(ctx, doc, biz, out)
	})
}

// File archives document id with the facts already stored on it, without
// extracting again. It is how a document finished by hand leaves intake, and
// how one that was reviewed but never archived is picked up again. Stored
// facts that do not pass the gate leave the record untouched.
func (p *Processor) File(ctx context.Context, id int64) Outcome {
	return p.run(ctx, id, "file", func(ctx context.Context, doc *entity.Document, biz *entity.Business, out Outcome) Outcome {
		if doc.Provenance != nil {
			out.Provenance = extract.Provenance(*doc.Provenance)
		}
		gate := Classify(extract.Result{
			Date:        doc.Date,
			Amount:      doc.Amount,
			Category:    doc.Category,
			Description: doc.Description,
		})
		if !gate.Complete {
			out.Kind, out.Missing = OutcomeNeedsReview, gate.Missing
			out.Err = common.NewInvalidInputError(fmt.Sprintf("document %d is missing %v", doc.ID, gate.Missing))
			return out
		}
		if !doc.Reviewed {
			t := true
			updated, err := p.docs.Update(ctx, doc.ID, entity.DocumentUpdate{Processed: &t, Reviewed: &t})
			if err != nil {
				out.Kind, out.Err = OutcomeRetry, err
				return out
			}
			doc = updated
		}
		return p.archive(ctx, doc, biz, out)
	})
}

// run loads the document and its business, skips archived documents and
// turns panics into outcomes.
func (p *Processor) run(ctx context.Context, id int64, op string, step func(context.Context, *entity.Document, *entity.Business, Outcome) Outcome) (out Outcome) {
	start := time.Now()
	ctx = common.WithDocumentID(ctx, id)
	log := p.log.With("document_id", id, "cycle_id", common.CycleIDFromContext(ctx), "op", op)
	out = Outcome{DocumentID: id}

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("pipeline.file.panic", "panic", r, "stack", string(debug.Stack()))
			out = p.fail(ctx, out, fmt.Errorf("panic: %v", r))
		}
		p.observer.ObserveOutcome(out, time.Since(start))
		log.Infow("pipeline.file.outcome",
			"outcome", out.Kind.String(),
			"path", out.Path,
			"identifier", out.Identifier,
			"provenance", out.Provenance,
			"missing", out.Missing,
			"error", out.Err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}()

	doc, err := p.docs.GetByID(ctx, id)
	if err != nil {
		out.Kind, out.Err = OutcomeRetry, err
		return out
	}
	out.Path = doc.Path
	if doc.Archived {
		out.Kind = OutcomeSkipped
		return out
	}

	biz, err := p.businesses.GetByID(ctx, doc.BusinessID)
	if err != nil {
		out.Kind, out.Err = OutcomeRetry, err
		return out
	}
	return step(ctx, doc, biz, out)
}

func (p *Processor) process(ctx context.Context, doc *entity.Document, biz *entity.Business, out Outcome) Outcome {
	// 1) paginated format; a failed conversion leaves file and record as they were
	path, err := p.normalizer.Normalize(ctx, doc.Path, func(newPath string) error {
		updated, err := p.docs.Update(ctx, doc.ID, entity.DocumentUpdate{Path: &newPath})
		if err != nil {
			return err
		}
		doc = updated
		return nil
	})
	if err != nil {
		out.Kind, out.Err = OutcomeRetry, err
		return out
	}
	doc.Path = path
	out.Path = path

	// 2) extraction
	res := p.extractor.ExtractFile(ctx, extract.Request{
		DocumentID:   doc.ID,
		Path:         doc.Path,
		Kind:         doc.Kind,
		BusinessName: biz.Name,
	})
	p.observer.ObserveExtraction(res)
	out.Provenance = res.Provenance

	// 3) gate; facts and flags go in with one update
	gate := Classify(res)
	out.Missing = gate.Missing
	t, reviewed := true, gate.Complete
	provenance := string(res.Provenance)
	upd := entity.DocumentUpdate{
		ClearFacts:  true,
		Date:        res.Date,
		Amount:      res.Amount,
		Category:    res.Category,
		Description: res.Description,
		RawText:     &res.Text,
		Provenance:  &provenance,
		Processed:   &t,
		Reviewed:    &reviewed,
	}
	doc, err = p.docs.Update(ctx, doc.ID, upd)
	if err != nil {
		return p.fail(ctx, out, fmt.Errorf("store extraction: %w", err))
	}
	if !gate.Complete {
		out.Kind = OutcomeNeedsReview
		return out
	}

	return p.archive(ctx, doc, biz, out)
}

// archive issues the identifier of a reviewed document and files it.
func (p *Processor) archive(ctx context.Context, doc *entity.Document, biz *entity.Business, out Outcome) Outcome {
	ident, err := p.allocator.Allocate(ctx, doc, biz)
	if err != nil {
		return p.fail(ctx, out, fmt.Errorf("allocate identifier: %w", err))
	}
	out.Identifier = ident
	doc.Identifier = &ident

	archived, err := p.archiver.Archive(ctx, doc, biz)
	if err != nil {
		return p.fail(ctx, out, fmt.Errorf("archive: %w", err))
	}
	out.Kind = OutcomeArchived
	out.Path = archived.Path
	return out
}

// fail marks the document processed but not reviewed so it shows up for
// manual review. When even that cannot be stored the document stays
// unprocessed and is retried next cycle.
func (p *Processor) fail(ctx context.Context, out Outcome, cause error) Outcome {
	out.Err = cause
	t, f := true, false
	if _, err := p.docs.Update(ctx, out.DocumentID, entity.DocumentUpdate{Processed: &t, Reviewed: &f}); err != nil {
		p.log.Errorw("pipeline.file.mark_review_failed",
			"document_id", out.DocumentID, "path", out.Path, "cause", cause, "error", err)
		out.Kind = OutcomeRetry
		out.Err = errors.Join(cause, err)
		return out
	}
	p.log.Warnw("pipeline.file.failed",
		"document_id", out.DocumentID, "path", out.Path, "error", cause)
	out.Kind = OutcomeNeedsReview
	return out
}

// Requeue forgets the extracted facts of an unarchived document and marks it
// unprocessed, so the next cycle extracts it again.
func (p *Processor) Requeue(ctx context.Context, id int64) (*entity.Document, error) {
	doc, err := p.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Archived {
		return nil, common.NewInvalidInputError(fmt.Sprintf("document %d is archived; re-file it instead", id))
	}
	f := false
	updated, err := p.docs.Update(ctx, id, entity.DocumentUpdate{ClearFacts: true, Processed: &f, Reviewed: &f})
	if err != nil {
		return nil, err
	}
	p.log.Infow("pipeline.file.requeued", "document_id", id, "path", doc.Path)
	return updated, nil
}
