package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/assets"
	"github.com/joseph-ayodele/doc-digitizer/internal/hashing"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
	"github.com/joseph-ayodele/doc-digitizer/internal/ocr"
	"github.com/joseph-ayodele/doc-digitizer/internal/quality"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep() llm.RetryOption {
	return llm.WithSleep(func(context.Context, time.Duration) error { return nil })
}

func testLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	l := Layout{
		MarkdownDir: filepath.Join(root, "md"),
		AssetDir:    filepath.Join(root, "assets"),
		EnrichedDir: filepath.Join(root, "enriched"),
		OutputDir:   filepath.Join(root, "out"),
	}
	if err := l.Ensure(); err != nil {
		t.Fatal(err)
	}
	return l
}

func writeDoc(t *testing.T, dir, name string) Document {
	t.Helper()
	p := filepath.Join(dir, name+".pdf")
	if err := os.WriteFile(p, []byte("%PDF-1.4 "+name), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := NewDocument(p)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// fakeOCR returns canned primary and fallback output per document name.
type fakeOCR struct {
	primary      map[string]string
	primaryErr   map[string]error
	fallback     map[string]string
	fallbackErr  map[string]error
	fallbackHits atomic.Int32
}

func (f *fakeOCR) ExtractMarkdown(_ context.Context, path string) (string, error) {
	name := constants.BaseName(path)
	if err := f.primaryErr[name]; err != nil {
		return "", err
	}
	return f.primary[name], nil
}

func (f *fakeOCR) Fallback(_ context.Context, path string) (ocr.FallbackResult, error) {
	f.fallbackHits.Add(1)
	name := constants.BaseName(path)
	if err := f.fallbackErr[name]; err != nil {
		return ocr.FallbackResult{}, err
	}
	text := f.fallback[name]
	if text == "" {
		return ocr.FallbackResult{}, nil
	}
	return ocr.FallbackResult{
		Text:   text,
		Method: "fallback-auto",
		Pages:  1,
		Scores: []ocr.PageScore{{Page: 1, Config: "auto", Chars: len(text), MeanConf: 90, Score: float64(len(text)) * 0.9}},
	}, nil
}

// fakeAssets writes n small PNGs per document.
type fakeAssets struct {
	perDoc int
}

func tinyPNG(shade uint8) []byte {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.Gray{Y: shade})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func (f fakeAssets) Extract(_ context.Context, _ string, dir string) (assets.Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return assets.Result{}, err
	}
	var res assets.Result
	res.Pages = 1
	for i := 0; i < f.perDoc; i++ {
		name := constants.AssetFileName(1, i)
		data := tinyPNG(uint8(i * 40))
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return res, err
		}
		res.Assets = append(res.Assets, assets.Asset{Filename: name, Page: 1, Index: i, Width: 2, Height: 2,
			SourceFormat: "png", ByteSize: int64(len(data)), MD5: hashing.BytesMD5(data)})
	}
	return res, nil
}

// fakeModel is a scripted vision + text model that counts calls.
type fakeModel struct {
	mu          sync.Mutex
	visionCalls int
	textCalls   int
	vision      func(call int, req llm.ImageRequest) (string, error)
	text        func(req llm.TextRequest) (string, error)
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) AnalyzeImage(_ context.Context, req llm.ImageRequest) (string, llm.Usage, error) {
	m.mu.Lock()
	m.visionCalls++
	n := m.visionCalls
	m.mu.Unlock()
	if m.vision == nil {
		return fmt.Sprintf(`{"category":"Diagram","description":"Diagram found in %s","entities":["bus"]}`, req.Filename), llm.Usage{}, nil
	}
	out, err := m.vision(n, req)
	return out, llm.Usage{}, err
}

func (m *fakeModel) Complete(_ context.Context, req llm.TextRequest) (string, llm.Usage, error) {
	m.mu.Lock()
	m.textCalls++
	m.mu.Unlock()
	if m.text == nil {
		return req.Prompt, llm.Usage{}, nil
	}
	out, err := m.text(req)
	return out, llm.Usage{}, err
}

func (m *fakeModel) VisionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visionCalls
}

func fastPolicy(attempts int) llm.Policy {
	return llm.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

type harness struct {
	layout Layout
	ocr    *fakeOCR
	model  *fakeModel
	proc   *Processor
	store  *manifest.Store
}

func newHarness(t *testing.T, imagesPerDoc int) *harness {
	t.Helper()
	h := &harness{
		layout: testLayout(t),
		ocr: &fakeOCR{
			primary: map[string]string{}, primaryErr: map[string]error{},
			fallback: map[string]string{}, fallbackErr: map[string]error{},
		},
		model: &fakeModel{},
		store: manifest.NewStore(),
	}
	log := quietLogger()
	ex := NewExtractionStage(h.ocr, fakeAssets{perDoc: imagesPerDoc}, h.layout, ExtractionConfig{MinContentChars: 50}, log)
	en := NewEnrichmentStage(h.model, h.model, h.store, h.layout,
		EnrichmentConfig{ImageConcurrency: 2, ChunkMaxBytes: 200, ModelName: "fake"}, fastPolicy(3), log, noSleep())
	sy := NewSynthesisStage(h.model, quality.NewScorer(2), h.layout, fastPolicy(3), log, noSleep())
	h.proc = NewProcessor(ex, en, sy, nil, log)
	return h
}

func longText(title string) string {
	return "# " + title + "\n\n## Overview\n\n" + strings.Repeat("The quick brown fox jumps over the lazy dog. ", 3) +
		"\n\n## Details\n\nMore text about " + title + ".\n"
}

var errBoom = errors.New("boom")

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}
