package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/llm"
)

type stubText struct {
	text string
	err  error
}

func (s stubText) Extract(context.Context, string) (TextExtractionResult, error) {
	return TextExtractionResult{Text: s.text, Confidence: 0.8}, s.err
}

type fakeModel struct {
	mu     sync.Mutex
	fields llm.DocumentFields
	err    error
	block  bool
	calls  int
}

func (f *fakeModel) Model() string { return "gemma3:4b" }

func (f *fakeModel) ExtractFields(ctx context.Context, _ llm.ExtractRequest) (llm.DocumentFields, []byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return llm.DocumentFields{}, nil, ctx.Err()
	}
	return f.fields, nil, f.err
}

type memJournal struct {
	runs []entity.RunResult
}

func (j *memJournal) Start(_ context.Context, id int64) (*entity.ExtractionRun, error) {
	return &entity.ExtractionRun{DocumentID: id}, nil
}

func (j *memJournal) Finish(_ context.Context, _ *entity.ExtractionRun, res entity.RunResult) error {
	j.runs = append(j.runs, res)
	return nil
}

func newEngine(fm *fakeModel, text string, opts ...EngineOption) *Engine {
	log := zap.NewNop().Sugar()
	model := NewModelExtractor(fm, ModelConfig{Timeout: 50 * time.Millisecond}, log)
	return NewEngine(stubText{text: text}, []Strategy{model, NewPatternExtractor()}, log, opts...)
}

func expenseRequest() Request {
	return Request{DocumentID: 7, Path: "/intake/beleg.pdf", Kind: constants.KindExpense}
}

func TestEngineUsesModelWhenUsable(t *testing.T) {
	fm := &fakeModel{fields: llm.DocumentFields{
		Date: "2025-11-02", Amount: "299.99", Category: "Fortbildung", Description: "Python Kurs",
	}}
	journal := &memJournal{}
	res := newEngine(fm, courseInvoice, WithJournal(journal)).ExtractFile(context.Background(), expenseRequest())

	assert.Equal(t, ProvenanceModel, res.Provenance)
	assert.Equal(t, "gemma3:4b", res.ModelName)
	assert.Equal(t, "Python Kurs", *res.Description)
	assert.Equal(t, courseInvoice, res.Text)
	require.NotNil(t, res.OCRConfidence)

	require.Len(t, journal.runs, 1)
	assert.Equal(t, "model", journal.runs[0].Provenance)
	assert.NoError(t, journal.runs[0].Err)
}

func TestEngineFallbackEqualsPattern(t *testing.T) {
	unavailable := []*fakeModel{
		{err: errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")},
		{err: llm.ErrInvalidOutput},
		{block: true},
	}
	want, err := NewPatternExtractor().Extract(context.Background(), Request{Text: courseInvoice, Kind: constants.KindExpense})
	require.NoError(t, err)

	for _, fm := range unavailable {
		journal := &memJournal{}
		res := newEngine(fm, courseInvoice, WithJournal(journal)).ExtractFile(context.Background(), expenseRequest())

		assert.Equal(t, ProvenancePattern, res.Provenance)
		assert.Equal(t, want.Facts(), res.Facts())
		require.Len(t, journal.runs, 2)
		assert.Error(t, journal.runs[0].Err)
		assert.Equal(t, "pattern", journal.runs[1].Provenance)
	}
}

func TestEngineFallsBackOnUnusableModelAnswer(t *testing.T) {
	// category alone is not enough to stop the chain
	fm := &fakeModel{fields: llm.DocumentFields{Category: "Büro", Description: "Papier"}}
	res := newEngine(fm, courseInvoice).ExtractFile(context.Background(), expenseRequest())

	assert.Equal(t, ProvenancePattern, res.Provenance)
	assert.Equal(t, constants.Fortbildung, *res.Category)
}

func TestEngineEmptyText(t *testing.T) {
	fm := &fakeModel{fields: llm.DocumentFields{Date: "2025-11-02", Amount: "1.00"}}
	res := newEngine(fm, "  \n").ExtractFile(context.Background(), expenseRequest())

	assert.True(t, res.IsEmpty())
	assert.Equal(t, ProvenanceNone, res.Provenance)
	assert.Zero(t, fm.calls)
}

func TestEngineTextFailure(t *testing.T) {
	log := zap.NewNop().Sugar()
	e := NewEngine(stubText{err: errors.New("tesseract: not found")}, []Strategy{NewPatternExtractor()}, log)

	res := e.ExtractFile(context.Background(), expenseRequest())
	assert.True(t, res.IsEmpty())
	assert.Equal(t, ProvenanceNone, res.Provenance)
}

func TestModelExtractorDropsUnparseableFields(t *testing.T) {
	fm := &fakeModel{fields: llm.DocumentFields{
		Date: "02.11.2025", Amount: "0.00", Category: "Lebensmittel", Description: "  Python   Kurs ",
	}}
	m := NewModelExtractor(fm, ModelConfig{}, nil)

	res, err := m.Extract(context.Background(), Request{Text: "x", Kind: constants.KindExpense})
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldDate, FieldAmount, FieldCategory}, res.Missing(FieldDate, FieldAmount, FieldCategory))
	assert.Equal(t, "Python Kurs", *res.Description)
}

func TestModelExtractorBreakerOpens(t *testing.T) {
	fm := &fakeModel{err: errors.New("connection refused")}
	m := NewModelExtractor(fm, ModelConfig{BreakerFailures: 2, BreakerCooldown: time.Hour}, nil)
	req := Request{Text: "x", Kind: constants.KindExpense}

	for i := 0; i < 4; i++ {
		_, err := m.Extract(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, common.ErrUnavailable))
	}
	assert.Equal(t, 2, fm.calls)
	assert.Equal(t, gobreaker.StateOpen, m.State())
}

func TestModelExtractorMalformedOutputKeepsBreakerClosed(t *testing.T) {
	fm := &fakeModel{err: llm.ErrInvalidOutput}
	m := NewModelExtractor(fm, ModelConfig{BreakerFailures: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := m.Extract(context.Background(), Request{Text: "x", Kind: constants.KindExpense})
		assert.True(t, errors.Is(err, common.ErrUnavailable))
	}
	assert.Equal(t, 3, fm.calls)
	assert.Equal(t, gobreaker.StateClosed, m.State())
}
