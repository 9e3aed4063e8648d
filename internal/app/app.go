// Package app wires configuration into the pipeline, the ledger and the
// report exporter. Both binaries build on it.
package app

import (
	"context"
	"log/slog"
	"os"

	"github.com/joseph-ayodele/doc-digitizer/internal/assets"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/export"
	"github.com/joseph-ayodele/doc-digitizer/internal/ingest"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm/providers"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
	"github.com/joseph-ayodele/doc-digitizer/internal/ocr"
	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
	"github.com/joseph-ayodele/doc-digitizer/internal/quality"
	"github.com/joseph-ayodele/doc-digitizer/internal/repository"
)

// App holds every long-lived component of one process.
type App struct {
	Config    *common.Config
	Layout    pipeline.Layout
	Processor *pipeline.Processor
	Batch     *pipeline.Batch
	Ingestor  *ingest.FSIngestor
	Exporter  *export.Service
	DB        *repository.DB     // nil without a ledger DSN
	Ledger    *repository.Ledger // nil without a ledger DSN
	Logger    *slog.Logger
}

type Options struct {
	// NeedsLLM builds the remote model client; extraction-only runs skip it.
	NeedsLLM bool
}

// NewLogger returns the JSON logger used by every entrypoint.
func NewLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: common.ParseLogLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

// New validates cfg and builds the application graph.
func New(ctx context.Context, cfg *common.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(opts.NeedsLLM); err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Layout:   pipeline.LayoutFromConfig(cfg.Paths),
		Exporter: export.NewService(logger),
		Logger:   logger,
	}
	if err := a.Layout.Ensure(); err != nil {
		return nil, common.NewAppError("IO_ERROR", "create output directories", err)
	}

	if cfg.Ledger.DSN != "" {
		db, err := repository.Open(ctx, repository.Config{
			DSN:         cfg.Ledger.DSN,
			MaxConns:    cfg.Ledger.MaxConns,
			DialTimeout: cfg.Ledger.DialTimeout,
		}, logger)
		if err != nil {
			return nil, common.NewAppError("LEDGER_ERROR", "open ledger", err)
		}
		a.DB = db
		a.Ledger = repository.NewLedger(db, logger)
	}

	var provider llm.Provider
	if opts.NeedsLLM {
		p, err := providers.New(ctx, cfg.LLM, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		provider = p
		logger.Info("llm client initialized", "provider", p.Name(), "model", cfg.LLM.Model)
	}

	a.Processor = buildProcessor(cfg, a.Layout, provider, a.recorder(), logger)
	a.Batch = pipeline.NewBatch(a.Processor, a.ledger(), pipeline.BatchConfig{
		Workers:    cfg.Pipeline.Workers,
		DocTimeout: cfg.Pipeline.DocTimeout,
		QueueSize:  cfg.Pipeline.QueueSize,
	}, logger)

	a.Ingestor = ingest.NewFSIngestor(logger)
	return a, nil
}

func buildProcessor(cfg *common.Config, layout pipeline.Layout, provider llm.Provider, rec pipeline.Recorder, logger *slog.Logger) *pipeline.Processor {
	textExtractor := ocr.NewExtractor(ocr.Config{
		Pdftohtml:   cfg.OCR.Pdftohtml,
		Pdftotext:   cfg.OCR.Pdftotext,
		Pdftoppm:    cfg.OCR.Pdftoppm,
		Tesseract:   cfg.OCR.Tesseract,
		Language:    cfg.OCR.Language,
		TessdataDir: cfg.OCR.TessdataDir,
		DPI:         cfg.OCR.DPI,
		MaxPages:    cfg.OCR.MaxPages,
		PrimaryMode: cfg.OCR.PrimaryMode,
		WorkDir:     cfg.Paths.WorkDir,
	}, logger).WithRecognizer(pageRecognizer(cfg.OCR, logger))

	policy := providers.RetryPolicy(cfg.Retry)
	retryOpts := []llm.RetryOption{llm.WithLimiter(llm.NewLimiter(cfg.LLM.RequestsPerSecond))}

	modelName := cfg.LLM.VisionModel
	if modelName == "" {
		modelName = cfg.LLM.Model
	}
	var (
		vision llm.VisionModel
		text   llm.TextModel
	)
	if provider != nil {
		vision, text = provider, provider
	}

	extract := pipeline.NewExtractionStage(textExtractor, assets.NewExtractor(nil, logger), layout, pipeline.ExtractionConfig{
		MinContentChars: cfg.OCR.MinContentChars,
		Force:           cfg.Pipeline.ForceRerun,
	}, logger)
	enrich := pipeline.NewEnrichmentStage(vision, text, manifest.NewStore(), layout, pipeline.EnrichmentConfig{
		ChunkMaxBytes:    cfg.Chunk.MaxBytes,
		ImageConcurrency: cfg.LLM.ImageConcurrency,
		Reanalyze:        cfg.Pipeline.Reanalyze,
		ModelName:        modelName,
	}, policy, logger, retryOpts...)
	synth := pipeline.NewSynthesisStage(text, quality.NewScorer(cfg.Quality.MinSections), layout, policy, logger, retryOpts...)

	return pipeline.NewProcessor(extract, enrich, synth, rec, logger)
}

// recorder and ledger keep a missing ledger a nil interface rather than a
// typed nil pointer.
func (a *App) recorder() pipeline.Recorder {
	if a.Ledger == nil {
		return nil
	}
	return a.Ledger
}

func (a *App) ledger() pipeline.Ledger {
	if a.Ledger == nil {
		return nil
	}
	return a.Ledger
}

// PipelineLedger is the ledger as the pipeline sees it, or nil.
func (a *App) PipelineLedger() pipeline.Ledger { return a.ledger() }

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
