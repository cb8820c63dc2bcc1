package archive

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
)

func errIncomplete(doc *entity.Document) error {
	return common.NewInvalidInputError(fmt.Sprintf("document %d lacks date, amount, category or identifier", doc.ID))
}

// Renamer moves documents into the archive. The destination is written and
// the record updated before the source is removed, so the stored path always
// names an existing file.
type Renamer struct {
	docs       repository.DocumentRepository
	businesses repository.BusinessRepository
	log        *zap.SugaredLogger
}

func NewRenamer(docs repository.DocumentRepository, businesses repository.BusinessRepository, log *zap.SugaredLogger) *Renamer {
	return &Renamer{docs: docs, businesses: businesses, log: log}
}

// Archive files a reviewed document with an identifier and marks it archived.
func (r *Renamer) Archive(ctx context.Context, doc *entity.Document, biz *entity.Business) (*entity.Document, error) {
	dst, err := Destination(biz, doc)
	if err != nil {
		return nil, err
	}
	t, src := true, doc.Path
	return r.move(ctx, doc, dst, entity.DocumentUpdate{
		Path:         &dst,
		Processed:    &t,
		Reviewed:     &t,
		Archived:     &t,
		ArchivedFrom: &src,
	})
}

// RemoveLeftover deletes path when it is an untracked intake copy of a file
// that was already archived, i.e. an earlier move could not remove its
// source. It reports whether path was such a leftover. A different file
// dropped under the same name is left alone.
func (r *Renamer) RemoveLeftover(ctx context.Context, path string) (bool, error) {
	if _, err := r.docs.GetByPath(ctx, path); err == nil {
		return false, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return false, err
	}
	doc, err := r.docs.GetArchivedFrom(ctx, path)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	same, err := sameContent(path, doc.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !same {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, fmt.Errorf("remove intake leftover: %w", err)
	}
	r.log.Infow("archive.leftover.removed", "document_id", doc.ID, "path", path, "archived_at", doc.Path)
	return true, nil
}

// Refile recomputes name and folder of an archived document after its facts
// were corrected and moves it there.
func (r *Renamer) Refile(ctx context.Context, documentID int64) (*entity.Document, error) {
	doc, err := r.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Archived {
		return nil, common.NewInvalidInputError(fmt.Sprintf("document %d is not archived", doc.ID))
	}
	biz, err := r.businesses.GetByID(ctx, doc.BusinessID)
	if err != nil {
		return nil, err
	}
	dst, err := Destination(biz, doc)
	if err != nil {
		return nil, err
	}
	if dst == doc.Path {
		r.log.Debugw("archive.refile.unchanged", "document_id", doc.ID, "path", dst)
		return doc, nil
	}
	return r.move(ctx, doc, dst, entity.DocumentUpdate{Path: &dst, Refile: true})
}

func (r *Renamer) move(ctx context.Context, doc *entity.Document, dst string, upd entity.DocumentUpdate) (*entity.Document, error) {
	src := doc.Path
	log := r.log.With("document_id", doc.ID, "from", src, "to", dst)

	if dst == src {
		updated, err := r.docs.Update(ctx, doc.ID, upd)
		if err != nil {
			return nil, err
		}
		log.Infow("archive.move.in_place")
		return updated, nil
	}

	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("archive source: %w", err)
	}

	reused, err := place(src, dst)
	if err != nil {
		log.Warnw("archive.move.place_failed", "error", err)
		return nil, err
	}

	updated, err := r.docs.Update(ctx, doc.ID, upd)
	if err != nil {
		// The record still names src, which is untouched.
		if !reused {
			if rmErr := os.Remove(dst); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Errorw("archive.move.rollback_failed", "error", rmErr)
			}
		}
		log.Warnw("archive.move.record_failed", "error", err)
		return nil, err
	}

	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		// The archive copy is authoritative now; RemoveLeftover retries later.
		log.Errorw("archive.move.source_remove_failed", "error", err)
	}
	log.Infow("archive.move.done", "identifier", deref(updated.Identifier), "reused", reused)
	return updated, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
