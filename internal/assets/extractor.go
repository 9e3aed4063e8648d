// Package assets pulls embedded images out of PDFs into a per-document
// directory with deterministic names.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/hashing"
)

// Asset is one persisted image.
type Asset struct {
	Filename     string `json:"filename"`
	Page         int    `json:"page"`
	Index        int    `json:"index"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	SourceFormat string `json:"source_format"`
	ByteSize     int64  `json:"byte_size"`
	MD5          string `json:"md5"`
}

// AssetError records one image that could not be extracted.
type AssetError struct {
	Page     int    `json:"page"`
	Index    int    `json:"index"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error"`
}

type Result struct {
	Pages    int
	Assets   []Asset
	Errors   []AssetError
	Duration time.Duration
}

type Extractor struct {
	source Source
	logger *slog.Logger
}

func NewExtractor(source Source, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		source = PDFCPUSource{}
	}
	return &Extractor{source: source, logger: logger}
}

// Extract writes every embedded image of pdfPath into dir as
// page_NNN_img_MM.png. The directory always exists afterwards. Failures of a
// single image or page are recorded and skipped; the returned error is only
// set when the document could not be opened at all.
func (x *Extractor) Extract(ctx context.Context, pdfPath, dir string) (Result, error) {
	start := time.Now()
	var res Result

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("create asset dir: %w", err)
	}
	removeStale(dir)

	doc, err := x.source.Open(pdfPath)
	if err != nil {
		res.Duration = time.Since(start)
		return res, err
	}
	res.Pages = doc.PageCount()

	for page := 1; page <= res.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		imgs, err := doc.PageImages(ctx, page)
		if err != nil {
			x.logger.Warn("assets.page.failed", "path", pdfPath, "page", page, "error", err)
			res.Errors = append(res.Errors, AssetError{Page: page, Index: -1, Error: err.Error()})
		}
		for idx, raw := range imgs {
			name := constants.AssetFileName(page, idx)
			a, err := writeAsset(dir, name, raw)
			if err != nil {
				x.logger.Warn("assets.image.failed", "path", pdfPath, "asset", name, "error", err)
				res.Errors = append(res.Errors, AssetError{Page: page, Index: idx, Filename: name, Error: err.Error()})
				continue
			}
			a.Page, a.Index = page, idx
			res.Assets = append(res.Assets, a)
		}
	}
	res.Duration = time.Since(start)
	x.logger.Info("assets.extract.done",
		"path", pdfPath,
		"pages", res.Pages,
		"assets", len(res.Assets),
		"errors", len(res.Errors),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// writeAsset stores the image as PNG. PNG sources are copied byte for byte,
// everything else is decoded and re-encoded.
func writeAsset(dir, name string, raw RawImage) (Asset, error) {
	if len(raw.Data) == 0 {
		return Asset{}, fmt.Errorf("empty image stream")
	}
	format := strings.ToLower(raw.Format)

	var (
		out    []byte
		width  = raw.Width
		height = raw.Height
	)
	if format == "png" {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(raw.Data))
		if err != nil {
			return Asset{}, fmt.Errorf("decode png header: %w", err)
		}
		out, width, height = raw.Data, cfg.Width, cfg.Height
	} else {
		img, _, err := image.Decode(bytes.NewReader(raw.Data))
		if err != nil {
			return Asset{}, fmt.Errorf("decode %s: %w", format, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return Asset{}, fmt.Errorf("encode png: %w", err)
		}
		b := img.Bounds()
		out, width, height = buf.Bytes(), b.Dx(), b.Dy()
	}

	if err := os.WriteFile(filepath.Join(dir, name), out, 0o644); err != nil {
		return Asset{}, fmt.Errorf("write %s: %w", name, err)
	}
	return Asset{
		Filename:     name,
		Width:        width,
		Height:       height,
		SourceFormat: format,
		ByteSize:     int64(len(out)),
		MD5:          hashing.BytesMD5(raw.Data),
	}, nil
}

// removeStale drops images from an earlier extraction so a changed source
// never leaves orphans behind. Other files (the manifest) are kept.
func removeStale(dir string) {
	old, _ := filepath.Glob(filepath.Join(dir, "page_*_img_*.png"))
	for _, p := range old {
		_ = os.Remove(p)
	}
}

// List returns the image filenames present in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	// ReadDir sorts by name, which matches page/index order.
	return names, nil
}
