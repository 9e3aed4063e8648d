package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
)

func extracted(t *testing.T, h *harness, name string) {
	t.Helper()
	doc := writeDoc(t, t.TempDir(), name)
	h.ocr.primary[name] = longText(name)
	if res := h.proc.Extract.Run(context.Background(), doc); res.Status != constants.StageSucceeded {
		t.Fatalf("extract %s: %s %s", name, res.Status, res.Error)
	}
}

func TestEnrichment_AppendsSectionAndCaches(t *testing.T) {
	h := newHarness(t, 3)
	extracted(t, h, "manual")

	res := h.proc.Enrich.Run(context.Background(), "manual")
	if res.Status != constants.StageSucceeded {
		t.Fatalf("status=%s err=%s", res.Status, res.Error)
	}
	if res.ImagesAnalyzed != 3 || h.model.VisionCalls() != 3 {
		t.Fatalf("analyzed=%d calls=%d", res.ImagesAnalyzed, h.model.VisionCalls())
	}
	out := readFile(t, h.layout.EnrichedPath("manual"))
	if strings.Count(out, analysisHeading) != 1 {
		t.Fatalf("want one analysis section:\n%s", out)
	}
	if got := len(ParseAnalysisSection(out)); got != 3 {
		t.Fatalf("parsed blocks=%d", got)
	}

	// second run: every image is already in the manifest
	again := h.proc.Enrich.Run(context.Background(), "manual")
	if h.model.VisionCalls() != 3 {
		t.Fatalf("rerun made %d extra vision calls", h.model.VisionCalls()-3)
	}
	if again.ImagesCached != 3 || again.ImagesAnalyzed != 0 {
		t.Fatalf("cached=%d analyzed=%d", again.ImagesCached, again.ImagesAnalyzed)
	}
	if got := readFile(t, h.layout.EnrichedPath("manual")); strings.Count(got, analysisHeading) != 1 {
		t.Fatal("rerun stacked a second analysis section")
	}
}

func TestEnrichment_ChangedImageIsReanalyzed(t *testing.T) {
	h := newHarness(t, 1)
	extracted(t, h, "manual")
	h.proc.Enrich.Run(context.Background(), "manual")

	p := filepath.Join(h.layout.AssetsFor("manual"), constants.AssetFileName(1, 0))
	if err := os.WriteFile(p, tinyPNG(200), 0o644); err != nil {
		t.Fatal(err)
	}
	res := h.proc.Enrich.Run(context.Background(), "manual")
	if res.ImagesAnalyzed != 1 || h.model.VisionCalls() != 2 {
		t.Fatalf("analyzed=%d calls=%d", res.ImagesAnalyzed, h.model.VisionCalls())
	}
}

func TestEnrichment_CleanupFailureKeepsOriginalChunk(t *testing.T) {
	h := newHarness(t, 0)
	extracted(t, h, "manual")
	h.model.text = func(req llm.TextRequest) (string, error) {
		if strings.Contains(req.Prompt, "## Details") {
			return "", llm.Permanent(errBoom)
		}
		return strings.ToUpper(req.Prompt), nil
	}

	res := h.proc.Enrich.Run(context.Background(), "manual")
	if res.Status != constants.StageDegraded || res.ChunksFailed != 1 {
		t.Fatalf("status=%s failed=%d chunks=%d", res.Status, res.ChunksFailed, res.Chunks)
	}
	out := readFile(t, h.layout.EnrichedPath("manual"))
	if !strings.Contains(out, "## Details\n\nMore text about manual.") {
		t.Fatalf("failed chunk not kept verbatim:\n%s", out)
	}
	if !strings.Contains(out, "## OVERVIEW") {
		t.Fatalf("cleaned chunk missing:\n%s", out)
	}
}

func TestEnrichment_VisionRetryExhaustion(t *testing.T) {
	h := newHarness(t, 1)
	extracted(t, h, "manual")
	h.model.vision = func(int, llm.ImageRequest) (string, error) {
		return "", llm.Transient(errBoom)
	}
	stage := NewEnrichmentStage(h.model, h.model, h.store, h.layout,
		EnrichmentConfig{ModelName: "fake"}, fastPolicy(5), quietLogger(), noSleep())

	res := stage.Run(context.Background(), "manual")
	if got := h.model.VisionCalls(); got != 5 {
		t.Fatalf("vision calls=%d, want 5", got)
	}
	if res.Status != constants.StageDegraded || res.ImagesFallback != 1 {
		t.Fatalf("status=%s fallback=%d", res.Status, res.ImagesFallback)
	}
	m, err := h.store.Load(h.layout.AssetsFor("manual"), "manual")
	if err != nil {
		t.Fatal(err)
	}
	e, ok := m.Get(constants.AssetFileName(1, 0), "")
	if !ok || e.Category != constants.Other || !e.Fallback {
		t.Fatalf("entry=%+v ok=%v", e, ok)
	}
}

func TestEnrichment_MalformedThenStrictRetry(t *testing.T) {
	h := newHarness(t, 1)
	extracted(t, h, "manual")
	var prompts []string
	h.model.vision = func(call int, req llm.ImageRequest) (string, error) {
		prompts = append(prompts, req.Prompt)
		if call == 1 {
			return "I think this is a settings page", nil
		}
		return `{"category":"Screenshot","description":"Settings page for the pump relay","entities":["relay"]}`, nil
	}

	res := h.proc.Enrich.Run(context.Background(), "manual")
	if res.Status != constants.StageSucceeded || res.ImagesAnalyzed != 1 {
		t.Fatalf("status=%s analyzed=%d", res.Status, res.ImagesAnalyzed)
	}
	if len(prompts) != 2 || prompts[0] == prompts[1] {
		t.Fatalf("want a distinct strict prompt on the second call, got %d prompts", len(prompts))
	}
	blocks := ParseAnalysisSection(readFile(t, h.layout.EnrichedPath("manual")))
	if len(blocks) != 1 || blocks[0].Category != constants.Screenshot {
		t.Fatalf("blocks=%+v", blocks)
	}
}

func TestEnrichment_MalformedTwiceFallsBackToRaw(t *testing.T) {
	h := newHarness(t, 1)
	extracted(t, h, "manual")
	h.model.vision = func(int, llm.ImageRequest) (string, error) {
		return "a photo of a valve", nil
	}

	res := h.proc.Enrich.Run(context.Background(), "manual")
	if h.model.VisionCalls() != 2 || res.ImagesFallback != 1 {
		t.Fatalf("calls=%d fallback=%d", h.model.VisionCalls(), res.ImagesFallback)
	}
	blocks := ParseAnalysisSection(readFile(t, h.layout.EnrichedPath("manual")))
	if len(blocks) != 1 || blocks[0].Description != "a photo of a valve" || blocks[0].Category != constants.Other {
		t.Fatalf("blocks=%+v", blocks)
	}
}

func TestEnrichment_CorruptManifestIsFatal(t *testing.T) {
	h := newHarness(t, 1)
	extracted(t, h, "manual")
	mp := filepath.Join(h.layout.AssetsFor("manual"), constants.ManifestFile)
	if err := os.WriteFile(mp, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := h.proc.Enrich.Run(context.Background(), "manual")
	if res.Status != constants.StageFailed || !errors.Is(res.Err, ErrManifestUnavailable) {
		t.Fatalf("status=%s err=%v", res.Status, res.Err)
	}
	if h.model.VisionCalls() != 0 {
		t.Fatal("vision called with an unreadable manifest")
	}
}

func TestEnrichment_MissingMarkdownFails(t *testing.T) {
	h := newHarness(t, 0)
	res := h.proc.Enrich.Run(context.Background(), "absent")
	if res.Status != constants.StageFailed {
		t.Fatalf("status=%s", res.Status)
	}
	if errors.Is(res.Err, ErrManifestUnavailable) {
		t.Fatal("missing markdown must not be run-fatal")
	}
}

func TestEnrichment_ManifestPersistsModel(t *testing.T) {
	h := newHarness(t, 1)
	extracted(t, h, "manual")
	h.proc.Enrich.Run(context.Background(), "manual")

	m, err := manifest.NewStore().Load(h.layout.AssetsFor("manual"), "manual")
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 || m.Entries()[0].Model != "fake" {
		t.Fatalf("entries=%+v", m.Entries())
	}
}
