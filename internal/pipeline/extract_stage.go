package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/assets"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
	"github.com/joseph-ayodele/doc-digitizer/internal/ocr"
)

const MethodPrimary = "primary"

// TextExtractor is the pair of text strategies used by Stage 1.
// *ocr.Extractor implements it.
type TextExtractor interface {
	ExtractMarkdown(ctx context.Context, path string) (string, error)
	Fallback(ctx context.Context, path string) (ocr.FallbackResult, error)
}

// AssetExtractor pulls embedded images; *assets.Extractor implements it.
type AssetExtractor interface {
	Extract(ctx context.Context, pdfPath, dir string) (assets.Result, error)
}

// ExtractionResult is persisted as <doc>_extraction.json.
type ExtractionResult struct {
	Document      string                `json:"document"`
	SourcePath    string                `json:"source_path"`
	SHA256        string                `json:"sha256"`
	SizeBytes     int64                 `json:"size_bytes"`
	PageCount     int                   `json:"page_count"`
	Status        constants.StageStatus `json:"status"`
	Method        string                `json:"method,omitempty"`
	PrimaryChars  int                   `json:"primary_chars"`
	FallbackChars int                   `json:"fallback_chars"`
	PageScores    []ocr.PageScore       `json:"page_scores,omitempty"`
	Assets        []assets.Asset        `json:"assets"`
	AssetErrors   []assets.AssetError   `json:"asset_errors,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
	Error         string                `json:"error,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	DurationMS    int64                 `json:"duration_ms"`
	Timings       map[string]int64      `json:"timings_ms,omitempty"`
	Text          string                `json:"-"`
}

type ExtractionConfig struct {
	MinContentChars int
	Force           bool
}

// ExtractionStage is Stage 1: primary conversion, quality gate, OCR fallback,
// best-of-two selection, image extraction and the extraction log.
type ExtractionStage struct {
	text     TextExtractor
	assets   AssetExtractor
	layout   Layout
	minChars int
	force    bool
	logger   *slog.Logger
}

func NewExtractionStage(text TextExtractor, ax AssetExtractor, layout Layout, cfg ExtractionConfig, logger *slog.Logger) *ExtractionStage {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 50
	}
	return &ExtractionStage{
		text:     text,
		assets:   ax,
		layout:   layout,
		minChars: cfg.MinContentChars,
		force:    cfg.Force,
		logger:   logger,
	}
}

// Run never returns an error: every outcome, including failure, is a value
// in the result so the batch can carry on.
func (s *ExtractionStage) Run(ctx context.Context, doc Document) ExtractionResult {
	if prev, ok := s.previous(doc); ok {
		s.logger.Info("pipeline.extract.skipped", "doc", doc.Name, "sha256", doc.SHA256)
		prev.Status = constants.StageSkipped
		return prev
	}

	start := time.Now()
	res := ExtractionResult{
		Document:   doc.Name,
		SourcePath: doc.Path,
		SHA256:     doc.SHA256,
		SizeBytes:  doc.SizeBytes,
		PageCount:  doc.PageCount,
		StartedAt:  start.UTC(),
		Assets:     []assets.Asset{},
		Timings:    map[string]int64{},
	}

	text, method := s.extractText(ctx, doc, &res)

	// images are independent of the text outcome
	t0 := time.Now()
	ar, err := s.assets.Extract(ctx, doc.Path, s.layout.AssetsFor(doc.Name))
	res.Timings["assets"] = time.Since(t0).Milliseconds()
	if err != nil {
		res.AssetErrors = append(res.AssetErrors, assets.AssetError{Page: 0, Index: -1, Error: err.Error()})
		s.logger.Warn("pipeline.extract.assets_failed", "doc", doc.Name, "error", err)
	}
	if ar.Assets != nil {
		res.Assets = ar.Assets
	}
	res.AssetErrors = append(res.AssetErrors, ar.Errors...)
	if res.PageCount == 0 {
		res.PageCount = ar.Pages
	}

	switch {
	case ctx.Err() != nil:
		res.Status = constants.StageFailed
		res.Error = fmt.Sprintf("extraction interrupted: %v", ctx.Err())
	case text == "":
		res.Status = constants.StageFailed
		if res.Error == "" {
			res.Error = "no text extracted by primary or fallback"
		}
	default:
		res.Method = method
		res.Text = text
		if err := manifest.WriteFileAtomic(s.layout.MarkdownPath(doc.Name), []byte(text+"\n")); err != nil {
			res.Status = constants.StageFailed
			res.Error = fmt.Sprintf("write markdown: %v", err)
		} else {
			res.Status = constants.StageSucceeded
		}
	}

	res.DurationMS = time.Since(start).Milliseconds()
	if err := writeJSON(s.layout.ExtractionLogPath(doc.Name), res); err != nil {
		res.Warnings = append(res.Warnings, "write extraction log: "+err.Error())
		s.logger.Error("pipeline.extract.log_failed", "doc", doc.Name, "error", err)
	}

	level := slog.LevelInfo
	if res.Status == constants.StageFailed {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "pipeline.extract.done",
		"doc", doc.Name,
		"status", res.Status,
		"method", res.Method,
		"chars", utf8.RuneCountInString(res.Text),
		"assets", len(res.Assets),
		"asset_errors", len(res.AssetErrors),
		"error", res.Error,
		"elapsed_ms", res.DurationMS,
	)
	return res
}

// extractText runs the primary conversion and, when it is short or fails,
// the fallback OCR; the longer trimmed text wins.
func (s *ExtractionStage) extractText(ctx context.Context, doc Document, res *ExtractionResult) (string, string) {
	t0 := time.Now()
	primary, err := s.text.ExtractMarkdown(ctx, doc.Path)
	res.Timings["primary"] = time.Since(t0).Milliseconds()
	if err != nil {
		res.Warnings = append(res.Warnings, "primary extraction failed: "+err.Error())
		primary = ""
	}
	primary = strings.TrimSpace(primary)
	res.PrimaryChars = utf8.RuneCountInString(primary)
	if res.PrimaryChars >= s.minChars {
		return primary, MethodPrimary
	}

	s.logger.Info("pipeline.extract.fallback",
		"doc", doc.Name,
		"primary_chars", res.PrimaryChars,
		"min_chars", s.minChars,
		"primary_error", err != nil,
	)
	t1 := time.Now()
	fb, ferr := s.text.Fallback(ctx, doc.Path)
	res.Timings["fallback"] = time.Since(t1).Milliseconds()
	res.Warnings = append(res.Warnings, fb.Warnings...)
	res.PageScores = fb.Scores
	if ferr != nil {
		res.Warnings = append(res.Warnings, "fallback ocr failed: "+ferr.Error())
		if primary == "" {
			res.Error = "primary and fallback extraction failed: " + ferr.Error()
		}
	}
	fallback := strings.TrimSpace(fb.Text)
	res.FallbackChars = utf8.RuneCountInString(fallback)

	// longer wins; ties keep the primary text
	switch {
	case res.FallbackChars > res.PrimaryChars:
		return fallback, fb.Method
	case res.PrimaryChars > 0:
		return primary, MethodPrimary
	default:
		return "", ""
	}
}

// previous returns the stored log when the document was already extracted
// from identical bytes and every output is still on disk.
func (s *ExtractionStage) previous(doc Document) (ExtractionResult, bool) {
	if s.force {
		return ExtractionResult{}, false
	}
	b, err := os.ReadFile(s.layout.ExtractionLogPath(doc.Name))
	if err != nil {
		return ExtractionResult{}, false
	}
	var prev ExtractionResult
	if err := json.Unmarshal(b, &prev); err != nil {
		s.logger.Warn("pipeline.extract.log_unreadable", "doc", doc.Name, "error", err)
		return ExtractionResult{}, false
	}
	if prev.SHA256 != doc.SHA256 || prev.Status == constants.StageFailed {
		return ExtractionResult{}, false
	}
	if !exists(s.layout.MarkdownPath(doc.Name)) || !isDir(s.layout.AssetsFor(doc.Name)) {
		return ExtractionResult{}, false
	}
	return prev, true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// WriteSummary writes _stage1_processing.json into the markdown dir.
func (s *ExtractionStage) WriteSummary(started time.Time, results []ExtractionResult) (StageSummary, error) {
	sum := StageSummary{Stage: "extraction", StartedAt: started.UTC(), FinishedAt: time.Now().UTC()}
	details := make([]map[string]any, 0, len(results))
	for _, r := range results {
		sum.Count(r.Status)
		details = append(details, map[string]any{
			"document":    r.Document,
			"status":      r.Status,
			"method":      r.Method,
			"assets":      len(r.Assets),
			"error":       r.Error,
			"duration_ms": r.DurationMS,
		})
	}
	sum.Details = details
	if err := WriteStageSummary(s.layout.MarkdownDir, constants.Stage1Log, sum); err != nil {
		return sum, err
	}
	return sum, nil
}
