// Package app assembles the pipeline from configuration. The daemon and the
// command line tools share it so they process documents identically.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/archive"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/convert"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/extract"
	"github.com/delmenhorst/Buchhaltung/internal/identifier"
	"github.com/delmenhorst/Buchhaltung/internal/llm"
	"github.com/delmenhorst/Buchhaltung/internal/llm/gemini"
	"github.com/delmenhorst/Buchhaltung/internal/llm/openai"
	"github.com/delmenhorst/Buchhaltung/internal/ocr"
	"github.com/delmenhorst/Buchhaltung/internal/pipeline"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
)

// App holds the wired components.
type App struct {
	Config     *common.Config
	Store      *repository.Store
	Documents  repository.DocumentRepository
	Businesses repository.BusinessRepository
	Ledger     repository.IdentifierLedger
	Runs       repository.ExtractionRunRepository
	Engine     *extract.Engine
	Renamer    *archive.Renamer
	Processor  *pipeline.Processor
	Log        *zap.SugaredLogger
}

// Open connects and migrates the store, seeds the configured businesses and
// builds the pipeline. Close releases the store.
func Open(ctx context.Context, cfg *common.Config, log *zap.SugaredLogger, opts ...pipeline.Option) (*App, error) {
	store, err := repository.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	a := &App{
		Config:     cfg,
		Store:      store,
		Documents:  repository.NewDocumentRepository(store, log),
		Businesses: repository.NewBusinessRepository(store, log),
		Ledger:     repository.NewIdentifierLedger(store, log),
		Runs:       repository.NewExtractionRunRepository(store, log),
		Log:        log,
	}
	if err := a.SeedBusinesses(ctx); err != nil {
		store.Close()
		return nil, err
	}

	engine, err := NewEngine(ctx, cfg, log, extract.WithJournal(a.Runs))
	if err != nil {
		store.Close()
		return nil, err
	}
	a.Engine = engine
	a.Renamer = archive.NewRenamer(a.Documents, a.Businesses, log)

	normalizer := convert.NewNormalizer(convert.Config{
		HeicConverter: cfg.OCR.HeicConverter,
		PageDPI:       float64(cfg.OCR.DPI),
		TempDir:       cfg.OCR.ArtifactCacheDir,
	}, ocr.NewExecRunner(log), log)

	a.Processor = pipeline.NewProcessor(
		a.Documents, a.Businesses,
		normalizer,
		engine,
		identifier.NewAllocator(a.Ledger, log),
		a.Renamer,
		log,
		opts...,
	)
	return a, nil
}

func (a *App) Close() {
	a.Store.Close()
}

// SeedBusinesses makes sure every configured business exists and has its
// intake folders.
func (a *App) SeedBusinesses(ctx context.Context) error {
	for _, bc := range a.Config.Businesses {
		biz, err := a.Businesses.Ensure(ctx, entity.Business{
			Name:        bc.Name,
			Prefix:      bc.Prefix,
			IntakePath:  filepath.Join(a.Config.IntakeDir(), bc.Name),
			ArchivePath: filepath.Join(a.Config.ArchiveDir(), bc.Name),
		})
		if err != nil {
			return fmt.Errorf("seed business %s: %w", bc.Name, err)
		}
		for _, kind := range constants.Kinds() {
			if err := os.MkdirAll(filepath.Join(biz.IntakePath, kind.Folder()), 0o755); err != nil {
				return fmt.Errorf("create intake for %s: %w", biz.Name, err)
			}
		}
		a.Log.Infow("business.ready", "business", biz.Name, "prefix", biz.Prefix, "intake", biz.IntakePath)
	}
	return nil
}

// IntakeDirs lists the intake folders of all businesses.
func (a *App) IntakeDirs(ctx context.Context) ([]string, error) {
	businesses, err := a.Businesses.List(ctx)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, b := range businesses {
		for _, kind := range constants.Kinds() {
			dirs = append(dirs, filepath.Join(b.IntakePath, kind.Folder()))
		}
	}
	return dirs, nil
}

// NewEngine builds OCR plus the strategy chain: the configured model first,
// pattern matching last.
func NewEngine(ctx context.Context, cfg *common.Config, log *zap.SugaredLogger, opts ...extract.EngineOption) (*extract.Engine, error) {
	ocrx := ocr.NewExtractor(ocr.Config{
		Pdftoppm:    cfg.OCR.PdftoppmPath,
		Tesseract:   cfg.OCR.TesseractPath,
		Language:    cfg.OCR.Language,
		DPI:         cfg.OCR.DPI,
		MaxPages:    cfg.OCR.MaxPages,
		TessdataDir: cfg.OCR.TessdataDir,
		PSM:         6,
	}, log)

	var strategies []extract.Strategy
	fe, err := NewFieldExtractor(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if fe != nil {
		strategies = append(strategies, extract.NewModelExtractor(fe, extract.ModelConfig{
			Timeout:         cfg.LLM.Timeout,
			RatePerSecond:   cfg.LLM.RatePerSecond,
			Burst:           cfg.LLM.Burst,
			BreakerFailures: cfg.LLM.BreakerFailures,
			BreakerCooldown: cfg.LLM.BreakerCooldown,
		}, log))
	}
	strategies = append(strategies, extract.NewPatternExtractor())

	return extract.NewEngine(extract.NewOCRAdapter(ocrx), strategies, log, opts...), nil
}

// NewFieldExtractor returns the configured model client, or nil when
// llm.provider is "none".
func NewFieldExtractor(ctx context.Context, cfg *common.Config, log *zap.SugaredLogger) (llm.FieldExtractor, error) {
	switch cfg.LLM.Provider {
	case "none":
		log.Infow("llm.disabled")
		return nil, nil
	case "gemini":
		c, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:          cfg.Gemini.APIKey,
			Model:           cfg.Gemini.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxTextChars:    cfg.LLM.MaxTextChars,
			LenientOptional: cfg.LLM.LenientOptional,
		}, log)
		if err != nil {
			return nil, err
		}
		log.Infow("llm.ready", "provider", "gemini", "model", c.Model())
		return c, nil
	default:
		c := openai.NewClient(openai.Config{
			APIKey:          cfg.LLM.APIKey,
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			Timeout:         cfg.LLM.Timeout + 5*time.Second,
			MaxTextChars:    cfg.LLM.MaxTextChars,
			LenientOptional: cfg.LLM.LenientOptional,
		}, log)
		log.Infow("llm.ready", "provider", cfg.LLM.Provider, "model", c.Model(), "base_url", cfg.LLM.BaseURL)
		return c, nil
	}
}
