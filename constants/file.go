package constants

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Upload routing: PDFs take the full pipeline, text files go straight to synthesis.
var (
	PDFExtensions  = map[string]struct{}{"pdf": {}}
	TextExtensions = map[string]struct{}{"md": {}, "txt": {}, "markdown": {}}
)

const (
	ManifestFile        = "_manifest.json"
	Stage1Log           = "_stage1_processing.json"
	Stage2Log           = "_stage2_processing.json"
	Stage3Log           = "_stage3_processing.json"
	ExtractionLogSuffix = "_extraction.json"
	QualityReportSuffix = "_quality_report.json"
	MarkdownExt         = ".md"
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func IsPDF(path string) bool {
	_, ok := PDFExtensions[NormalizeExt(filepath.Ext(path))]
	return ok
}

func IsText(path string) bool {
	_, ok := TextExtensions[NormalizeExt(filepath.Ext(path))]
	return ok
}

// IsMarkdown matches stage outputs only; .txt and .markdown uploads are not.
func IsMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), MarkdownExt)
}

// BaseName is the document name used for every derived file and directory.
func BaseName(path string) string {
	b := filepath.Base(path)
	return strings.TrimSuffix(b, filepath.Ext(b))
}

// AssetFileName is a pure function of (1-based page, 0-based in-page index).
func AssetFileName(page, index int) string {
	return fmt.Sprintf("page_%03d_img_%02d.png", page, index)
}
