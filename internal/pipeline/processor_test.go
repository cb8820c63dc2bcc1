package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/archive"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/convert"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/extract"
	"github.com/delmenhorst/Buchhaltung/internal/identifier"
	"github.com/delmenhorst/Buchhaltung/internal/pipeline"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
	"github.com/delmenhorst/Buchhaltung/internal/repository/repotest"
)

const courseInvoice = `Rechnung Nr. 4711
Python Advanced Course
Rechnungsdatum: 02.11.2025
Gesamt 299,99 €`

const noAmountInvoice = `Rechnung Nr. 4712
Python Advanced Course
Rechnungsdatum: 02.11.2025
Betrag folgt separat`

// textByName serves OCR text by file name.
type textByName map[string]string

func (m textByName) Extract(_ context.Context, path string) (extract.TextExtractionResult, error) {
	text, ok := m[filepath.Base(path)]
	if !ok {
		return extract.TextExtractionResult{}, errors.New("no text for " + path)
	}
	return extract.TextExtractionResult{Text: text, Confidence: 0.9}, nil
}

type unavailableModel struct{}

func (unavailableModel) Name() string { return "model" }
func (unavailableModel) Extract(context.Context, extract.Request) (extract.Result, error) {
	return extract.Result{}, common.NewUnavailableError("model down", errors.New("connection refused"))
}

type panickingExtractor struct{}

func (panickingExtractor) ExtractFile(context.Context, extract.Request) extract.Result {
	panic("tesseract crashed")
}

type failingArchiver struct{}

func (failingArchiver) Archive(context.Context, *entity.Document, *entity.Business) (*entity.Document, error) {
	return nil, errors.New("disk full")
}

type recorder struct {
	outcomes []pipeline.Outcome
	results  []extract.Result
}

func (r *recorder) ObserveOutcome(o pipeline.Outcome, _ time.Duration) { r.outcomes = append(r.outcomes, o) }
func (r *recorder) ObserveExtraction(res extract.Result)               { r.results = append(r.results, res) }

type fixture struct {
	store      *repository.Store
	docs       repository.DocumentRepository
	businesses repository.BusinessRepository
	ledger     repository.IdentifierLedger
	biz        *entity.Business
	root       string
	texts      textByName
	recorder   *recorder
	log        *zap.SugaredLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.NewStore(t)
	root := t.TempDir()
	log := zap.NewNop().Sugar()
	return &fixture{
		store:      store,
		docs:       repository.NewDocumentRepository(store, log),
		businesses: repository.NewBusinessRepository(store, log),
		ledger:     repository.NewIdentifierLedger(store, log),
		biz:        repotest.SeedBusiness(t, store, root, "Medienkunst", "MK"),
		root:       root,
		texts:      textByName{},
		recorder:   &recorder{},
		log:        log,
	}
}

func (f *fixture) engine() *extract.Engine {
	return extract.NewEngine(f.texts, []extract.Strategy{unavailableModel{}, extract.NewPatternExtractor()}, f.log,
		extract.WithJournal(repository.NewExtractionRunRepository(f.store, f.log)))
}

func (f *fixture) processor(opts ...func(*parts)) *pipeline.Processor {
	p := &parts{
		extractor: f.engine(),
		archiver:  archive.NewRenamer(f.docs, f.businesses, f.log),
	}
	for _, o := range opts {
		o(p)
	}
	return pipeline.NewProcessor(
		f.docs, f.businesses,
		convert.NewNormalizer(convert.Config{}, nil, f.log),
		p.extractor,
		identifier.NewAllocator(f.ledger, f.log),
		p.archiver,
		f.log,
		pipeline.WithObserver(f.recorder),
	)
}

type parts struct {
	extractor pipeline.Extractor
	archiver  pipeline.Archiver
}

// intakeDoc drops a file into the expense intake and registers it.
func (f *fixture) intakeDoc(t *testing.T, name, text string) *entity.Document {
	t.Helper()
	path := filepath.Join(f.biz.IntakePath, constants.KindExpense.Folder(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 "+name), 0o644))
	f.texts[name] = text

	doc, created, err := f.docs.Register(context.Background(), entity.NewDocument{
		BusinessID: f.biz.ID, Kind: constants.KindExpense, Path: path,
	})
	require.NoError(t, err)
	require.True(t, created)
	return doc
}

func (f *fixture) reload(t *testing.T, id int64) *entity.Document {
	t.Helper()
	doc, err := f.docs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (f *fixture) issued(t *testing.T) int64 {
	t.Helper()
	scope := identifier.Scope{Kind: constants.KindExpense, Prefix: "MK", Year: 2025}
	seq, err := f.ledger.MaxSeq(context.Background(), scope.Key())
	require.NoError(t, err)
	return seq
}

func TestClassify(t *testing.T) {
	date := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("1.00")
	cat := constants.Porto

	full := extract.Result{Date: &date, Amount: &amount, Category: &cat}
	assert.Equal(t, pipeline.Completeness{Complete: true}, pipeline.Classify(full))
	assert.Equal(t, pipeline.Classify(full), pipeline.Classify(full))

	got := pipeline.Classify(extract.Result{Date: &date, Category: &cat})
	assert.False(t, got.Complete)
	assert.Equal(t, []extract.Field{extract.FieldAmount}, got.Missing)

	assert.Equal(t, pipeline.RequiredFields, pipeline.Classify(extract.Result{}).Missing)
}

func TestProcessDocument_CompleteDocumentIsArchived(t *testing.T) {
	f := newFixture(t)
	doc := f.intakeDoc(t, "beleg.pdf", courseInvoice)

	out := f.processor().ProcessDocument(context.Background(), doc.ID, false)
	require.NoError(t, out.Err)
	assert.Equal(t, pipeline.OutcomeArchived, out.Kind)
	assert.Equal(t, "ARE-MK-2025001", out.Identifier)
	assert.Equal(t, extract.ProvenancePattern, out.Provenance)

	want := filepath.Join(f.root, "Archive", "Medienkunst", "Ausgaben", "2025",
		"251102_ARE-MK-2025001_Fortbildung_Python_Advanced_Course_299_99.pdf")
	assert.Equal(t, want, out.Path)
	assert.FileExists(t, want)
	assert.NoFileExists(t, doc.Path)

	got := f.reload(t, doc.ID)
	assert.True(t, got.Processed)
	assert.True(t, got.Reviewed)
	assert.True(t, got.Archived)
	assert.Equal(t, want, got.Path)
	assert.Equal(t, "ARE-MK-2025001", *got.Identifier)
	assert.Equal(t, "pattern", *got.Provenance)
	assert.Equal(t, courseInvoice, *got.RawText)

	runs, err := repository.NewExtractionRunRepository(f.store, f.log).ListForDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "model", *runs[0].Strategy)
	assert.NotNil(t, runs[0].ErrorMessage)
	assert.Equal(t, "pattern", *runs[1].Provenance)

	require.Len(t, f.recorder.outcomes, 1)
	assert.Equal(t, pipeline.OutcomeArchived, f.recorder.outcomes[0].Kind)
}

func TestProcessDocument_MissingAmountStaysInIntake(t *testing.T) {
	f := newFixture(t)
	doc := f.intakeDoc(t, "beleg.pdf", noAmountInvoice)

	out := f.processor().ProcessDocument(context.Background(), doc.ID, false)
	require.NoError(t, out.Err)
	assert.Equal(t, pipeline.OutcomeNeedsReview, out.Kind)
	assert.Equal(t, []extract.Field{extract.FieldAmount}, out.Missing)

	got := f.reload(t, doc.ID)
	assert.True(t, got.Processed)
	assert.False(t, got.Reviewed)
	assert.False(t, got.Archived)
	assert.Nil(t, got.Identifier)
	assert.Equal(t, doc.Path, got.Path)
	assert.FileExists(t, doc.Path)
	assert.Equal(t, "2025-11-02", got.Date.Format("2006-01-02"))
	assert.Zero(t, f.issued(t))
}

func TestProcessDocument_SequentialDocumentsGetConsecutiveIdentifiers(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	a := f.intakeDoc(t, "a.pdf", courseInvoice)
	b := f.intakeDoc(t, "b.pdf", "Porto DHL Paket\nDatum: 03.11.2025\n4,99 €")

	outA := p.ProcessDocument(context.Background(), a.ID, false)
	outB := p.ProcessDocument(context.Background(), b.ID, false)
	assert.Equal(t, "ARE-MK-2025001", outA.Identifier)
	assert.Equal(t, "ARE-MK-2025002", outB.Identifier)
	assert.Equal(t, "251103_ARE-MK-2025002_Porto_Porto_DHL_Paket_4_99.pdf", filepath.Base(outB.Path))
}

func TestProcessDocument_SkipsProcessedUnlessForced(t *testing.T) {
	f := newFixture(t)
	doc := f.intakeDoc(t, "beleg.pdf", noAmountInvoice)
	p := f.processor()

	require.Equal(t, pipeline.OutcomeNeedsReview, p.ProcessDocument(context.Background(), doc.ID, false).Kind)
	assert.Equal(t, pipeline.OutcomeSkipped, p.ProcessDocument(context.Background(), doc.ID, false).Kind)

	// the text was corrected (e.g. a better scan); forcing re-extracts
	f.texts["beleg.pdf"] = courseInvoice
	out := p.ProcessDocument(context.Background(), doc.ID, true)
	assert.Equal(t, pipeline.OutcomeArchived, out.Kind)
	assert.Equal(t, pipeline.OutcomeSkipped, p.ProcessDocument(context.Background(), doc.ID, true).Kind)
}

func TestProcessDocument_PanicBecomesNeedsReview(t *testing.T) {
	f := newFixture(t)
	doc := f.intakeDoc(t, "beleg.pdf", courseInvoice)

	p := f.processor(func(p *parts) { p.extractor = panickingExtractor{} })
	out := p.ProcessDocument(context.Background(), doc.ID, false)
	assert.Equal(t, pipeline.OutcomeNeedsReview, out.Kind)
	assert.ErrorContains(t, out.Err, "tesseract crashed")

	got := f.reload(t, doc.ID)
	assert.True(t, got.Processed)
	assert.False(t, got.Reviewed)
	assert.FileExists(t, doc.Path)
}

func TestProcessDocument_ArchiveFailureKeepsIdentifierAndAwaitsReview(t *testing.T) {
	f := newFixture(t)
	doc := f.intakeDoc(t, "beleg.pdf", courseInvoice)

	p := f.processor(func(p *parts) { p.archiver = failingArchiver{} })
	out := p.ProcessDocument(context.Background(), doc.ID, false)
	assert.Equal(t, pipeline.OutcomeNeedsReview, out.Kind)
	assert.ErrorContains(t, out.Err, "disk full")

	got := f.reload(t, doc.ID)
	assert.True(t, got.Processed)
	assert.False(t, got.Reviewed)
	assert.False(t, got.Archived)
	assert.Equal(t, "ARE-MK-2025001", *got.Identifier)
	assert.FileExists(t, doc.Path)

	// after review the same identifier is reused, not a new one
	out = f.processor().ProcessDocument(context.Background(), doc.ID, true)
	assert.Equal(t, pipeline.OutcomeArchived, out.Kind)
	assert.Equal(t, "ARE-MK-2025001", out.Identifier)
	assert.Equal(t, int64(1), f.issued(t))
}

func TestProcessDocument_ConversionFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.biz.IntakePath, "Ausgaben", "foto.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not really a jpeg"), 0o644))
	doc, _, err := f.docs.Register(context.Background(), entity.NewDocument{BusinessID: f.biz.ID, Kind: constants.KindExpense, Path: path})
	require.NoError(t, err)

	out := f.processor().ProcessDocument(context.Background(), doc.ID, false)
	assert.Equal(t, pipeline.OutcomeRetry, out.Kind)
	assert.ErrorIs(t, out.Err, common.ErrConversion)

	got := f.reload(t, doc.ID)
	assert.False(t, got.Processed)
	assert.Equal(t, path, got.Path)
	assert.FileExists(t, path)
}

func TestProcessDocument_UnknownDocumentIsRetry(t *testing.T) {
	f := newFixture(t)
	out := f.processor().ProcessDocument(context.Background(), 4242, false)
	assert.Equal(t, pipeline.OutcomeRetry, out.Kind)
	assert.ErrorIs(t, out.Err, common.ErrNotFound)
}

func TestRequeue(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	pending := f.intakeDoc(t, "a.pdf", noAmountInvoice)
	done := f.intakeDoc(t, "b.pdf", courseInvoice)
	p.ProcessDocument(context.Background(), pending.ID, false)
	p.ProcessDocument(context.Background(), done.ID, false)

	requeued, err := p.Requeue(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.False(t, requeued.Processed)
	assert.False(t, requeued.Reviewed)
	assert.Nil(t, requeued.Date)
	assert.Equal(t, constants.StatusNew, requeued.Status())

	_, err = p.Requeue(context.Background(), done.ID)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestFile_ArchivesManuallyCorrectedDocument(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	doc := f.intakeDoc(t, "beleg.pdf", noAmountInvoice)
	require.Equal(t, pipeline.OutcomeNeedsReview, p.ProcessDocument(context.Background(), doc.ID, false).Kind)
	extractions := len(f.recorder.results)

	// still incomplete: nothing changes
	out := p.File(context.Background(), doc.ID)
	assert.Equal(t, pipeline.OutcomeNeedsReview, out.Kind)
	assert.Equal(t, []extract.Field{extract.FieldAmount}, out.Missing)
	assert.ErrorIs(t, out.Err, common.ErrInvalidInput)
	got := f.reload(t, doc.ID)
	assert.False(t, got.Reviewed)
	assert.Nil(t, got.Identifier)
	assert.Zero(t, f.issued(t))

	amount := decimal.RequireFromString("12.50")
	_, err := f.docs.Update(context.Background(), doc.ID, entity.DocumentUpdate{Amount: &amount})
	require.NoError(t, err)

	out = p.File(context.Background(), doc.ID)
	require.NoError(t, out.Err)
	assert.Equal(t, pipeline.OutcomeArchived, out.Kind)
	assert.Equal(t, "ARE-MK-2025001", out.Identifier)
	assert.Equal(t, extract.ProvenancePattern, out.Provenance)
	assert.Contains(t, filepath.Base(out.Path), "251102_ARE-MK-2025001_")
	assert.Contains(t, filepath.Base(out.Path), "_12_50.pdf")
	assert.FileExists(t, out.Path)
	assert.NoFileExists(t, doc.Path)
	assert.Len(t, f.recorder.results, extractions, "filing does not extract again")

	got = f.reload(t, doc.ID)
	assert.True(t, got.Reviewed)
	assert.True(t, got.Archived)
	assert.True(t, amount.Equal(*got.Amount))

	assert.Equal(t, pipeline.OutcomeSkipped, p.File(context.Background(), doc.ID).Kind)
}

func TestFile_ResumesReviewedDocumentLeftInIntake(t *testing.T) {
	f := newFixture(t)
	p := f.processor()
	doc := f.intakeDoc(t, "beleg.pdf", courseInvoice)

	// the gate stored complete facts, then the process died before archiving
	date := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("4.99")
	cat := constants.Porto
	desc := "DHL Paket"
	tr := true
	_, err := f.docs.Update(context.Background(), doc.ID, entity.DocumentUpdate{
		Date: &date, Amount: &amount, Category: &cat, Description: &desc, Processed: &tr, Reviewed: &tr,
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeSkipped, p.ProcessDocument(context.Background(), doc.ID, false).Kind)

	out := p.File(context.Background(), doc.ID)
	require.NoError(t, out.Err)
	assert.Equal(t, pipeline.OutcomeArchived, out.Kind)
	assert.Equal(t, "251102_ARE-MK-2025001_Porto_DHL_Paket_4_99.pdf", filepath.Base(out.Path))
	assert.Empty(t, f.recorder.results)
	assert.True(t, f.reload(t, doc.ID).Archived)
}

func TestFile_ArchiveFailureAwaitsReview(t *testing.T) {
	f := newFixture(t)
	doc := f.intakeDoc(t, "beleg.pdf", courseInvoice)
	date := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("4.99")
	cat := constants.Porto
	_, err := f.docs.Update(context.Background(), doc.ID, entity.DocumentUpdate{Date: &date, Amount: &amount, Category: &cat})
	require.NoError(t, err)

	p := f.processor(func(p *parts) { p.archiver = failingArchiver{} })
	out := p.File(context.Background(), doc.ID)
	assert.Equal(t, pipeline.OutcomeNeedsReview, out.Kind)
	assert.ErrorContains(t, out.Err, "disk full")

	got := f.reload(t, doc.ID)
	assert.True(t, got.Processed)
	assert.False(t, got.Reviewed)
	assert.Equal(t, "ARE-MK-2025001", *got.Identifier)
}
