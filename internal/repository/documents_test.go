package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
	"github.com/delmenhorst/Buchhaltung/internal/repository/repotest"
)

func ptr[T any](v T) *T { return &v }

func newDocs(t *testing.T) (repository.DocumentRepository, *entity.Business, string) {
	t.Helper()
	store := repotest.NewStore(t)
	root := t.TempDir()
	biz := repotest.SeedBusiness(t, store, root, "Medienkunst", "MK")
	return repository.NewDocumentRepository(store, zap.NewNop().Sugar()), biz, root
}

func TestRegister_IsIdempotentByPath(t *testing.T) {
	docs, biz, root := newDocs(t)
	ctx := context.Background()
	path := filepath.Join(root, "Intake", "Medienkunst", "Ausgaben", "beleg.pdf")

	first, created, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: path})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "beleg.pdf", first.OriginalFilename)
	assert.Equal(t, constants.StatusNew, first.Status())

	second, created, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: path})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	all, err := docs.List(ctx, entity.DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegister_RejectsInvalidInput(t *testing.T) {
	docs, biz, _ := newDocs(t)
	_, _, err := docs.Register(context.Background(), entity.NewDocument{BusinessID: biz.ID, Kind: "other", Path: "/x.pdf"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestUpdate_AppliesFactsAndFlags(t *testing.T) {
	docs, biz, root := newDocs(t)
	ctx := context.Background()
	doc, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: filepath.Join(root, "a.pdf")})
	require.NoError(t, err)

	date := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("299.99")
	cat := constants.Fortbildung

	updated, err := docs.Update(ctx, doc.ID, entity.DocumentUpdate{
		Date:        &date,
		Amount:      &amount,
		Category:    &cat,
		Description: ptr("Python Advanced Course"),
		Processed:   ptr(true),
		Reviewed:    ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, constants.StatusReviewed, updated.Status())

	reloaded, err := docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Date)
	assert.Equal(t, "2025-11-02", reloaded.Date.Format("2006-01-02"))
	require.NotNil(t, reloaded.Amount)
	assert.Equal(t, "299.99", reloaded.Amount.StringFixed(2))
	assert.Equal(t, constants.Fortbildung, *reloaded.Category)
	assert.Equal(t, "Python Advanced Course", *reloaded.Description)
	assert.True(t, reloaded.Processed)
	assert.True(t, reloaded.Reviewed)
	assert.False(t, reloaded.Archived)
}

func TestUpdate_StatusProgressionIsEnforced(t *testing.T) {
	docs, biz, root := newDocs(t)
	ctx := context.Background()
	doc, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: filepath.Join(root, "a.pdf")})
	require.NoError(t, err)

	cases := []struct {
		name string
		upd  entity.DocumentUpdate
	}{
		{"reviewed without processed", entity.DocumentUpdate{Reviewed: ptr(true)}},
		{"archived without reviewed", entity.DocumentUpdate{Processed: ptr(true), Archived: ptr(true)}},
		{"archived alone", entity.DocumentUpdate{Archived: ptr(true)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := docs.Update(ctx, doc.ID, tc.upd)
			assert.ErrorIs(t, err, common.ErrInvalidInput)

			got, err := docs.GetByID(ctx, doc.ID)
			require.NoError(t, err)
			assert.False(t, got.Processed)
			assert.False(t, got.Reviewed)
			assert.False(t, got.Archived)
		})
	}

	_, err = docs.Update(ctx, doc.ID, entity.DocumentUpdate{Processed: ptr(true), Reviewed: ptr(true), Archived: ptr(true)})
	require.NoError(t, err)

	_, err = docs.Update(ctx, doc.ID, entity.DocumentUpdate{Reviewed: ptr(false)})
	assert.ErrorIs(t, err, common.ErrInvalidInput, "un-reviewing an archived document would break the progression")

	_, err = docs.Update(ctx, doc.ID, entity.DocumentUpdate{Archived: ptr(false)})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestUpdate_FailureRollsBackEveryField(t *testing.T) {
	docs, biz, root := newDocs(t)
	ctx := context.Background()
	a, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: filepath.Join(root, "a.pdf")})
	require.NoError(t, err)
	b, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: filepath.Join(root, "b.pdf")})
	require.NoError(t, err)

	// Moving b onto a's path violates path uniqueness; nothing else may stick.
	_, err = docs.Update(ctx, b.ID, entity.DocumentUpdate{
		Path:        ptr(a.Path),
		Description: ptr("should not persist"),
		Processed:   ptr(true),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConflict))

	got, err := docs.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Path, got.Path)
	assert.Nil(t, got.Description)
	assert.False(t, got.Processed)
}

func TestUpdate_ArchivedPathOnlyChangesOnRefile(t *testing.T) {
	docs, biz, root := newDocs(t)
	ctx := context.Background()
	doc, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: filepath.Join(root, "a.pdf")})
	require.NoError(t, err)
	_, err = docs.Update(ctx, doc.ID, entity.DocumentUpdate{Processed: ptr(true), Reviewed: ptr(true), Archived: ptr(true)})
	require.NoError(t, err)

	_, err = docs.Update(ctx, doc.ID, entity.DocumentUpdate{Path: ptr(filepath.Join(root, "moved.pdf"))})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	moved, err := docs.Update(ctx, doc.ID, entity.DocumentUpdate{Path: ptr(filepath.Join(root, "moved.pdf")), Refile: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "moved.pdf"), moved.Path)
}

func TestUpdate_ClearFacts(t *testing.T) {
	docs, biz, root := newDocs(t)
	ctx := context.Background()
	doc, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindIncome, Path: filepath.Join(root, "a.pdf")})
	require.NoError(t, err)
	amount := decimal.RequireFromString("100")
	_, err = docs.Update(ctx, doc.ID, entity.DocumentUpdate{Amount: &amount, Description: ptr("x")})
	require.NoError(t, err)

	cat := constants.Honorar
	got, err := docs.Update(ctx, doc.ID, entity.DocumentUpdate{ClearFacts: true, Category: &cat})
	require.NoError(t, err)
	assert.Nil(t, got.Amount)
	assert.Nil(t, got.Description)
	require.NotNil(t, got.Category)
	assert.Equal(t, constants.Honorar, *got.Category)

	reloaded, err := docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Amount)
	assert.Equal(t, constants.Honorar, *reloaded.Category)
}

func TestList_FiltersByBusinessAndFlags(t *testing.T) {
	store := repotest.NewStore(t)
	root := t.TempDir()
	mk := repotest.SeedBusiness(t, store, root, "Medienkunst", "MK")
	fo := repotest.SeedBusiness(t, store, root, "Fotografie", "FO")
	docs := repository.NewDocumentRepository(store, zap.NewNop().Sugar())
	ctx := context.Background()

	register := func(b *entity.Business, name string) *entity.Document {
		d, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: b.ID, Kind: constants.KindExpense, Path: filepath.Join(root, b.Name, name)})
		require.NoError(t, err)
		return d
	}
	a := register(mk, "a.pdf")
	register(mk, "b.pdf")
	register(fo, "c.pdf")

	_, err := docs.Update(ctx, a.ID, entity.DocumentUpdate{Processed: ptr(true), Flagged: ptr(true)})
	require.NoError(t, err)

	review, err := docs.List(ctx, entity.NeedsReviewFilter(mk.ID))
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, a.ID, review[0].ID)

	flagged, err := docs.List(ctx, entity.DocumentFilter{Flagged: ptr(true)})
	require.NoError(t, err)
	assert.Len(t, flagged, 1)

	foDocs, err := docs.List(ctx, entity.DocumentFilter{BusinessID: &fo.ID})
	require.NoError(t, err)
	assert.Len(t, foDocs, 1)

	counts, err := docs.CountByStatus(ctx, mk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[constants.StatusNew])
	assert.Equal(t, 1, counts[constants.StatusNeedsReview])
	assert.Equal(t, 0, counts[constants.StatusArchived])
}

func TestGetByID_NotFound(t *testing.T) {
	docs, _, _ := newDocs(t)
	_, err := docs.GetByID(context.Background(), 4711)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetArchivedFrom(t *testing.T) {
	docs, biz, root := newDocs(t)
	ctx := context.Background()
	intake := filepath.Join(root, "Intake", "scan.pdf")

	_, err := docs.GetArchivedFrom(ctx, intake)
	require.ErrorIs(t, err, common.ErrNotFound)

	doc, _, err := docs.Register(ctx, entity.NewDocument{BusinessID: biz.ID, Kind: constants.KindExpense, Path: intake})
	require.NoError(t, err)
	archived := filepath.Join(root, "Archive", "251102_ARE-MK-2025001.pdf")
	_, err = docs.Update(ctx, doc.ID, entity.DocumentUpdate{
		Path:         &archived,
		Processed:    ptr(true),
		Reviewed:     ptr(true),
		Archived:     ptr(true),
		ArchivedFrom: &intake,
	})
	require.NoError(t, err)

	got, err := docs.GetArchivedFrom(ctx, intake)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, archived, got.Path)
	assert.Equal(t, intake, *got.ArchivedFrom)
}
