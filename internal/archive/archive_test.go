package archive

import (
	"context"
	"os"
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

var nov2 = time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)

func TestFilename(t *testing.T) {
	got := Filename(nov2, "ARE-MK-2025001", constants.Fortbildung, "Python Advanced Course",
		decimal.RequireFromString("299.99"), ".pdf")
	assert.Equal(t, "251102_ARE-MK-2025001_Fortbildung_Python_Advanced_Course_299_99.pdf", got)

	// same inputs, same name
	again := Filename(nov2, "ARE-MK-2025001", constants.Fortbildung, "Python Advanced Course",
		decimal.RequireFromString("299.99"), ".pdf")
	assert.Equal(t, got, again)
}

func TestFilenameSanitizes(t *testing.T) {
	cases := []struct {
		name   string
		desc   string
		amount string
		ext    string
		want   string
	}{
		{"separators", "Miete/Nebenkosten: Q1", "850", ".PDF", "251102_ARE-MK-2025001_Raum_Miete-Nebenkosten_Q1_850_00.pdf"},
		{"empty description", "", "12.5", "pdf", "251102_ARE-MK-2025001_Raum_12_50.pdf"},
		{"unsafe characters", ` "Atelier" <Nord>  | *März* `, "1", ".pdf", "251102_ARE-MK-2025001_Raum_Atelier_Nord_März_1_00.pdf"},
		{"punctuation", "Dinner, Wein & Co. #3 (50% off)", "42", ".pdf", "251102_ARE-MK-2025001_Raum_Dinner_Wein_Co_3_50_off_42_00.pdf"},
		{"apostrophe and plus", "O'Neil + Partner", "42", ".pdf", "251102_ARE-MK-2025001_Raum_ONeil_Partner_42_00.pdf"},
		{"only punctuation", "...,,&&", "1", ".pdf", "251102_ARE-MK-2025001_Raum_1_00.pdf"},
		{"truncated", "Jahresmiete Atelier Nordstadt inklusive Nebenkosten", "9000", ".pdf", "251102_ARE-MK-2025001_Raum_Jahresmiete_Atelier_Nordstadt_9000_00.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Filename(nov2, "ARE-MK-2025001", constants.Raum, tc.desc, decimal.RequireFromString(tc.amount), tc.ext)
			assert.Equal(t, tc.want, got)
		})
	}
}

type fixture struct {
	docs    repository.DocumentRepository
	renamer *Renamer
	biz     *entity.Business
	root    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.NewStore(t)
	root := t.TempDir()
	biz := repotest.SeedBusiness(t, store, root, "Medienkunst", "MK")
	log := zap.NewNop().Sugar()
	docs := repository.NewDocumentRepository(store, log)
	return &fixture{
		docs:    docs,
		renamer: NewRenamer(docs, repository.NewBusinessRepository(store, log), log),
		biz:     biz,
		root:    root,
	}
}

// reviewedDoc writes an intake file and a reviewed record with an identifier.
func (f *fixture) reviewedDoc(t *testing.T, name, content string) *entity.Document {
	t.Helper()
	ctx := context.Background()
	src := filepath.Join(f.biz.IntakePath, constants.KindExpense.Folder(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))

	doc, _, err := f.docs.Register(ctx, entity.NewDocument{BusinessID: f.biz.ID, Kind: constants.KindExpense, Path: src})
	require.NoError(t, err)
	doc, err = f.docs.Update(ctx, doc.ID, entity.DocumentUpdate{
		Date:        &nov2,
		Amount:      ptr(decimal.RequireFromString("299.99")),
		Category:    ptr(constants.Fortbildung),
		Description: ptr("Python Advanced Course"),
		Processed:   ptr(true),
		Reviewed:    ptr(true),
		Identifier:  ptr("ARE-MK-2025001"),
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) wantPath() string {
	return filepath.Join(f.root, "Archive", "Medienkunst", "Ausgaben", "2025",
		"251102_ARE-MK-2025001_Fortbildung_Python_Advanced_Course_299_99.pdf")
}

func TestArchiveMovesFileAndRecord(t *testing.T) {
	f := newFixture(t)
	doc := f.reviewedDoc(t, "scan.pdf", "%PDF-1.4 course")

	archived, err := f.renamer.Archive(context.Background(), doc, f.biz)
	require.NoError(t, err)

	assert.Equal(t, f.wantPath(), archived.Path)
	assert.True(t, archived.Processed)
	assert.True(t, archived.Reviewed)
	assert.True(t, archived.Archived)

	data, err := os.ReadFile(f.wantPath())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 course", string(data))
	assert.NoFileExists(t, doc.Path)

	reloaded, err := f.docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, f.wantPath(), reloaded.Path)
}

func TestArchiveNeverOverwrites(t *testing.T) {
	f := newFixture(t)
	doc := f.reviewedDoc(t, "scan.pdf", "mine")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.wantPath()), 0o755))
	require.NoError(t, os.WriteFile(f.wantPath(), []byte("somebody else"), 0o644))

	_, err := f.renamer.Archive(context.Background(), doc, f.biz)
	require.ErrorIs(t, err, common.ErrConflict)

	data, err := os.ReadFile(f.wantPath())
	require.NoError(t, err)
	assert.Equal(t, "somebody else", string(data))
	assert.FileExists(t, doc.Path)

	reloaded, err := f.docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Archived)
	assert.Equal(t, doc.Path, reloaded.Path)
}

func TestArchiveResumesAfterCrashBetweenPlaceAndRecord(t *testing.T) {
	f := newFixture(t)
	doc := f.reviewedDoc(t, "scan.pdf", "same bytes")
	require.NoError(t, os.MkdirAll(filepath.Dir(f.wantPath()), 0o755))
	require.NoError(t, os.WriteFile(f.wantPath(), []byte("same bytes"), 0o644))

	archived, err := f.renamer.Archive(context.Background(), doc, f.biz)
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	assert.NoFileExists(t, doc.Path)
}

func TestArchiveRecordFailureKeepsSource(t *testing.T) {
	f := newFixture(t)
	doc := f.reviewedDoc(t, "scan.pdf", "content")

	ghost := *doc
	ghost.ID = doc.ID + 1000
	_, err := f.renamer.Archive(context.Background(), &ghost, f.biz)
	require.ErrorIs(t, err, common.ErrNotFound)

	assert.FileExists(t, doc.Path)
	assert.NoFileExists(t, f.wantPath())
}

func TestArchiveRequiresCompleteFacts(t *testing.T) {
	f := newFixture(t)
	doc := f.reviewedDoc(t, "scan.pdf", "content")
	doc.Identifier = nil

	_, err := f.renamer.Archive(context.Background(), doc, f.biz)
	require.ErrorIs(t, err, common.ErrInvalidInput)
	assert.FileExists(t, doc.Path)
}

func TestRefileAfterCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.reviewedDoc(t, "scan.pdf", "content")
	archived, err := f.renamer.Archive(ctx, doc, f.biz)
	require.NoError(t, err)

	_, err = f.docs.Update(ctx, doc.ID, entity.DocumentUpdate{Category: ptr(constants.Buero), Description: ptr("Laptop")})
	require.NoError(t, err)

	refiled, err := f.renamer.Refile(ctx, doc.ID)
	require.NoError(t, err)
	want := filepath.Join(filepath.Dir(archived.Path), "251102_ARE-MK-2025001_Büro_Laptop_299_99.pdf")
	assert.Equal(t, want, refiled.Path)
	assert.FileExists(t, want)
	assert.NoFileExists(t, archived.Path)

	// nothing changed since: no-op
	again, err := f.renamer.Refile(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, want, again.Path)
}

func TestRefileRejectsUnarchived(t *testing.T) {
	f := newFixture(t)
	doc := f.reviewedDoc(t, "scan.pdf", "content")

	_, err := f.renamer.Refile(context.Background(), doc.ID)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestRemoveLeftoverOfArchivedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.reviewedDoc(t, "scan.pdf", "%PDF-1.4 course")
	src := doc.Path

	archived, err := f.renamer.Archive(ctx, doc, f.biz)
	require.NoError(t, err)
	require.NotNil(t, archived.ArchivedFrom)
	assert.Equal(t, src, *archived.ArchivedFrom)

	// the source could not be removed during the move
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 course"), 0o644))

	removed, err := f.renamer.RemoveLeftover(ctx, src)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoFileExists(t, src)
	assert.FileExists(t, archived.Path)

	_, err = f.docs.GetByPath(ctx, src)
	assert.ErrorIs(t, err, common.ErrNotFound, "the leftover is never tracked")
}

func TestRemoveLeftoverKeepsNewFileWithSameName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.reviewedDoc(t, "scan.pdf", "%PDF-1.4 course")
	src := doc.Path
	_, err := f.renamer.Archive(ctx, doc, f.biz)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4 another receipt"), 0o644))

	removed, err := f.renamer.RemoveLeftover(ctx, src)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.FileExists(t, src)
}

func TestRemoveLeftoverIgnoresTrackedAndUnknownPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.reviewedDoc(t, "scan.pdf", "content")

	removed, err := f.renamer.RemoveLeftover(ctx, doc.Path)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.FileExists(t, doc.Path)

	removed, err = f.renamer.RemoveLeftover(ctx, filepath.Join(f.root, "elsewhere.pdf"))
	require.NoError(t, err)
	assert.False(t, removed)
}
