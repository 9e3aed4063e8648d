package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/assets"
	"github.com/joseph-ayodele/doc-digitizer/internal/chunk"
	"github.com/joseph-ayodele/doc-digitizer/internal/hashing"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
)

// ErrManifestUnavailable marks a manifest that cannot be read or written.
// It is the one enrichment error that stops the whole run.
var ErrManifestUnavailable = errors.New("analysis manifest unavailable")

// EnrichmentResult is one document's entry in _stage2_processing.json.
type EnrichmentResult struct {
	Document         string                `json:"document"`
	Status           constants.StageStatus `json:"status"`
	ImagesTotal      int                   `json:"images_total"`
	ImagesCached     int                   `json:"images_cached"`
	ImagesAnalyzed   int                   `json:"images_analyzed"`
	ImagesFallback   int                   `json:"images_fallback"`
	Chunks           int                   `json:"chunks"`
	ChunksFailed     int                   `json:"chunks_failed"`
	APICalls         int                   `json:"api_calls"`
	EstimatedCostUSD float64               `json:"estimated_cost_usd"`
	DurationMS       int64                 `json:"duration_ms"`
	Error            string                `json:"error,omitempty"`
	Err              error                 `json:"-"`
}

type EnrichmentConfig struct {
	ChunkMaxBytes    int
	ImageConcurrency int
	Reanalyze        bool
	ModelName        string
}

// EnrichmentStage is Stage 2: per-image vision analysis behind the manifest,
// chunked text cleanup, and the appended analysis section.
type EnrichmentStage struct {
	vision    *VisionAnalyzer
	text      llm.TextModel
	manifests *manifest.Store
	layout    Layout
	cfg       EnrichmentConfig
	policy    llm.Policy
	retryOpts []llm.RetryOption
	logger    *slog.Logger
}

func NewEnrichmentStage(vision llm.VisionModel, text llm.TextModel, store *manifest.Store, layout Layout,
	cfg EnrichmentConfig, policy llm.Policy, logger *slog.Logger, opts ...llm.RetryOption) *EnrichmentStage {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = manifest.NewStore()
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 4
	}
	if cfg.ChunkMaxBytes <= 0 {
		cfg.ChunkMaxBytes = chunk.DefaultMaxBytes
	}
	return &EnrichmentStage{
		vision:    NewVisionAnalyzer(vision, cfg.ModelName, policy, logger, opts...),
		text:      text,
		manifests: store,
		layout:    layout,
		cfg:       cfg,
		policy:    policy,
		retryOpts: append([]llm.RetryOption{llm.WithRetryLogger(logger, "cleanup")}, opts...),
		logger:    logger,
	}
}

// Run enriches one document. Content problems degrade the result; only
// unreadable input, unwritable output and manifest failures fail it.
func (s *EnrichmentStage) Run(ctx context.Context, doc string) EnrichmentResult {
	start := time.Now()
	res := EnrichmentResult{Document: doc}
	fail := func(err error) EnrichmentResult {
		res.Status = constants.StageFailed
		res.Err = err
		res.Error = err.Error()
		res.DurationMS = time.Since(start).Milliseconds()
		s.logger.Error("pipeline.enrich.failed", "doc", doc, "error", err)
		return res
	}

	src, err := os.ReadFile(s.layout.MarkdownPath(doc))
	if err != nil {
		return fail(fmt.Errorf("read markdown: %w", err))
	}
	body := StripAnalysisSection(string(src))

	assetDir := s.layout.AssetsFor(doc)
	m, err := s.manifests.Load(assetDir, doc)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrManifestUnavailable, err))
	}

	cost := &llm.CostTracker{}
	names, err := assets.List(assetDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("pipeline.enrich.assets_unreadable", "doc", doc, "error", err)
	}
	res.ImagesTotal = len(names)

	if err := s.analyzeImages(ctx, doc, assetDir, names, m, cost, &res); err != nil {
		return fail(err)
	}

	cleaned, failed, total := s.cleanup(ctx, doc, body, cost)
	res.Chunks, res.ChunksFailed = total, failed

	entries := make([]manifest.Keyed, 0, len(names))
	for _, name := range names {
		if e, ok := m.Get(name, ""); ok {
			entries = append(entries, manifest.Keyed{Filename: name, Entry: e})
		}
	}
	enriched := strings.TrimRight(cleaned, " \t\r\n") + BuildAnalysisSection(entries) + "\n"
	if err := manifest.WriteFileAtomic(s.layout.EnrichedPath(doc), []byte(enriched)); err != nil {
		return fail(fmt.Errorf("write enriched markdown: %w", err))
	}

	res.Status = constants.StageSucceeded
	if res.ImagesFallback > 0 || res.ChunksFailed > 0 {
		res.Status = constants.StageDegraded
	}
	res.APICalls = cost.Calls()
	res.EstimatedCostUSD = cost.EstimatedUSD()
	res.DurationMS = time.Since(start).Milliseconds()
	s.logger.Info("pipeline.enrich.done",
		"doc", doc,
		"status", res.Status,
		"images", res.ImagesTotal,
		"cached", res.ImagesCached,
		"analyzed", res.ImagesAnalyzed,
		"fallback", res.ImagesFallback,
		"chunks", res.Chunks,
		"chunks_failed", res.ChunksFailed,
		"api_calls", res.APICalls,
		"elapsed_ms", res.DurationMS,
	)
	return res
}

// analyzeImages sends every image without a current manifest entry to the
// vision model, at most ImageConcurrency at a time. Manifest writes are
// serialized by the manifest itself.
func (s *EnrichmentStage) analyzeImages(ctx context.Context, doc, dir string, names []string, m *manifest.Manifest, cost *llm.CostTracker, res *EnrichmentResult) error {
	sem := semaphore.NewWeighted(int64(s.cfg.ImageConcurrency))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("pipeline.enrich.image_unreadable", "doc", doc, "asset", name, "error", err)
			continue
		}
		sum := hashing.BytesMD5(data)
		if !s.cfg.Reanalyze {
			if _, ok := m.Get(name, sum); ok {
				res.ImagesCached++
				continue
			}
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			entry := s.vision.Analyze(gctx, name, llm.MIMETypeForPath(name), data, sum, cost)
			if err := m.Put(name, entry); err != nil {
				return fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
			}
			mu.Lock()
			defer mu.Unlock()
			if entry.Fallback {
				res.ImagesFallback++
			} else {
				res.ImagesAnalyzed++
			}
			return nil
		})
	}
	return g.Wait()
}

// cleanup sends each chunk to the text model and reassembles by index. A
// chunk that fails or comes back empty keeps its original text.
func (s *EnrichmentStage) cleanup(ctx context.Context, doc, body string, cost *llm.CostTracker) (string, int, int) {
	chunks := chunk.Split(body, s.cfg.ChunkMaxBytes)
	out := make([]string, len(chunks))
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	g.SetLimit(s.cfg.ImageConcurrency)
	for _, c := range chunks {
		out[c.Index] = c.Text
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		g.Go(func() error {
			cleaned, err := s.cleanChunk(ctx, c.Text, cost)
			if err != nil {
				s.logger.Warn("pipeline.enrich.chunk_kept", "doc", doc, "chunk", c.Index, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			out[c.Index] = cleaned
			return nil
		})
	}
	_ = g.Wait()
	return chunk.Join(out), failed, len(chunks)
}

func (s *EnrichmentStage) cleanChunk(ctx context.Context, text string, cost *llm.CostTracker) (string, error) {
	cleaned, _, err := llm.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		out, usage, err := s.text.Complete(ctx, llm.TextRequest{System: llm.CleanupSystemPrompt, Prompt: text})
		if err != nil {
			cost.AddFailed()
			return "", err
		}
		cost.AddText(usage)
		return out, nil
	}, s.retryOpts...)
	if err != nil {
		return "", err
	}
	cleaned = strings.TrimSpace(llm.StripFences(cleaned))
	if cleaned == "" {
		return "", errors.New("empty cleanup response")
	}
	// keep the chunk's own trailing separator so chunks do not run together
	return cleaned + trailingSpace(text), nil
}

func trailingSpace(s string) string {
	return s[len(strings.TrimRight(s, " \t\r\n")):]
}

// WriteSummary writes _stage2_processing.json into the enriched dir.
func (s *EnrichmentStage) WriteSummary(started time.Time, results []EnrichmentResult) (StageSummary, error) {
	sum := StageSummary{Stage: "enrichment", StartedAt: started.UTC(), FinishedAt: time.Now().UTC()}
	var totals struct {
		ImagesAnalyzed   int     `json:"images_analyzed"`
		ImagesCached     int     `json:"images_cached"`
		ImagesFallback   int     `json:"images_fallback"`
		APICalls         int     `json:"api_calls"`
		EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	}
	for _, r := range results {
		sum.Count(r.Status)
		totals.ImagesAnalyzed += r.ImagesAnalyzed
		totals.ImagesCached += r.ImagesCached
		totals.ImagesFallback += r.ImagesFallback
		totals.APICalls += r.APICalls
		totals.EstimatedCostUSD += r.EstimatedCostUSD
	}
	sum.Totals = totals
	sum.Details = results
	return sum, WriteStageSummary(s.layout.EnrichedDir, constants.Stage2Log, sum)
}
