// Package pipeline runs the three document stages (extraction, enrichment,
// synthesis) and the per-document state machine that ties them together.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/hashing"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
	"github.com/joseph-ayodele/doc-digitizer/internal/ocr"
)

// Document is one source file. It is never modified by the pipeline.
type Document struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	PageCount int    `json:"page_count"`
}

// NewDocument hashes the file and, for PDFs, counts its pages.
func NewDocument(path string) (Document, error) {
	sum, size, err := hashing.FileSHA256(path)
	if err != nil {
		return Document{}, err
	}
	d := Document{
		Name:      constants.BaseName(path),
		Path:      path,
		SHA256:    sum,
		SizeBytes: size,
	}
	if constants.IsPDF(path) {
		// unreadable trailers are common in scans; extraction decides later
		d.PageCount, _ = ocr.PageCount(path)
	}
	return d, nil
}

// Layout is the on-disk contract shared by the stages.
type Layout struct {
	MarkdownDir string
	AssetDir    string
	EnrichedDir string
	OutputDir   string
}

func LayoutFromConfig(p common.PathsConfig) Layout {
	return Layout{
		MarkdownDir: p.MarkdownDir,
		AssetDir:    p.AssetDir,
		EnrichedDir: p.EnrichedDir,
		OutputDir:   p.OutputDir,
	}
}

func (l Layout) MarkdownPath(doc string) string {
	return filepath.Join(l.MarkdownDir, doc+constants.MarkdownExt)
}

func (l Layout) ExtractionLogPath(doc string) string {
	return filepath.Join(l.MarkdownDir, doc+constants.ExtractionLogSuffix)
}

func (l Layout) AssetsFor(doc string) string {
	return filepath.Join(l.AssetDir, doc)
}

func (l Layout) EnrichedPath(doc string) string {
	return filepath.Join(l.EnrichedDir, doc+constants.MarkdownExt)
}

func (l Layout) OutputPath(doc string) string {
	return filepath.Join(l.OutputDir, doc+constants.MarkdownExt)
}

func (l Layout) QualityReportPath(doc string) string {
	return filepath.Join(l.OutputDir, doc+constants.QualityReportSuffix)
}

// Ensure creates every output directory; failure is fatal for a run.
func (l Layout) Ensure() error {
	for _, d := range []string{l.MarkdownDir, l.AssetDir, l.EnrichedDir, l.OutputDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return common.NewAppError("LAYOUT_ERROR", fmt.Sprintf("create %s", d), err)
		}
	}
	return nil
}

// StageSummary is the machine-readable per-stage report written after every
// stage run, whatever happened to individual documents.
type StageSummary struct {
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	TotalFiles int       `json:"total_files"`
	Successful int       `json:"successful"`
	Skipped    int       `json:"skipped"`
	Degraded   int       `json:"degraded"`
	Failed     int       `json:"failed"`
	Totals     any       `json:"totals,omitempty"`
	Details    any       `json:"details"`
}

func (s *StageSummary) Count(status constants.StageStatus) {
	s.TotalFiles++
	switch status {
	case constants.StageSucceeded:
		s.Successful++
	case constants.StageSkipped:
		s.Skipped++
	case constants.StageDegraded:
		s.Degraded++
	default:
		s.Failed++
	}
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return manifest.WriteFileAtomic(path, b)
}

// WriteStageSummary persists s into dir under name.
func WriteStageSummary(dir, name string, s StageSummary) error {
	return writeJSON(filepath.Join(dir, name), s)
}
