package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	PrimaryModeHTML = "html"
	PrimaryModeText = "text"
)

type Config struct {
	Pdftohtml string // binary name or absolute path; if empty -> "pdftohtml"
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	Language    string // default "eng"
	TessdataDir string
	DPI         int // rasterization DPI for fallback OCR, default 300
	MaxPages    int // 0 = no limit
	OEM         int // 1 = LSTM; leave 0 to use default

	PrimaryMode string // html | text
	WorkDir     string // parent for temp page images; default os.TempDir()

	// PSMConfigs are tried on every page; nil means DefaultPSMConfigs.
	PSMConfigs []PSMConfig
}

// PageScore records which segmentation mode won a page and why.
type PageScore struct {
	Page     int     `json:"page"`
	Config   string  `json:"config"`
	Chars    int     `json:"chars"`
	MeanConf float64 `json:"mean_confidence"`
	Score    float64 `json:"score"`
}

// FallbackResult is the output of the multi-configuration OCR path.
type FallbackResult struct {
	Text     string
	Method   string // "fallback-<config>"
	Pages    int
	Scores   []PageScore
	Warnings []string
	Duration time.Duration
}

// Extractor holds both text strategies for PDFs: a layout-aware primary
// conversion and the rasterize-then-OCR fallback.
type Extractor struct {
	cfg        Config
	runner     Runner
	recognizer PageRecognizer
	logger     *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftohtml == "" {
		cfg.Pdftohtml = "pdftohtml"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.OEM == 0 {
		cfg.OEM = 1
	}
	if cfg.PrimaryMode == "" {
		cfg.PrimaryMode = PrimaryModeHTML
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if len(cfg.PSMConfigs) == 0 {
		cfg.PSMConfigs = DefaultPSMConfigs
	}
	r := execRunner{logger: logger}
	return &Extractor{
		cfg:        cfg,
		runner:     r,
		recognizer: &TesseractCLI{Runner: r, Binary: cfg.Tesseract, Language: cfg.Language, TessdataDir: cfg.TessdataDir, OEM: cfg.OEM},
		logger:     logger,
	}
}

// WithRecognizer swaps the per-page OCR backend (e.g. the in-process engine).
func (e *Extractor) WithRecognizer(r PageRecognizer) *Extractor {
	if r != nil {
		e.recognizer = r
	}
	return e
}

// ExtractMarkdown runs the primary layout-aware conversion.
func (e *Extractor) ExtractMarkdown(ctx context.Context, path string) (string, error) {
	start := time.Now()
	var (
		text string
		err  error
	)
	switch strings.ToLower(e.cfg.PrimaryMode) {
	case PrimaryModeText:
		text, err = e.pdfToText(ctx, path)
	case PrimaryModeHTML:
		text, err = e.pdfToMarkdown(ctx, path)
	default:
		return "", fmt.Errorf("unknown primary mode: %q", e.cfg.PrimaryMode)
	}
	if err != nil {
		e.logger.Warn("ocr.primary.failed", "path", path, "mode", e.cfg.PrimaryMode, "error", err)
		return "", err
	}
	e.logger.Debug("ocr.primary.ok",
		"path", path,
		"mode", e.cfg.PrimaryMode,
		"chars", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}
