package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
	"github.com/joseph-ayodele/doc-digitizer/internal/quality"
)

// SynthesisResult is one document's entry in _stage3_processing.json.
type SynthesisResult struct {
	Document    string                `json:"document"`
	Status      constants.StageStatus `json:"status"`
	FinalSizeKB float64               `json:"final_size_kb"`
	Score       int                   `json:"score"`
	Passed      bool                  `json:"passed"`
	Restored    []string              `json:"restored_analyses,omitempty"`
	APICalls    int                   `json:"api_calls"`
	DurationMS  int64                 `json:"duration_ms"`
	Error       string                `json:"error,omitempty"`
	Report      *quality.Report       `json:"-"`
	Err         error                 `json:"-"`
}

// SynthesisStage is Stage 3: the editor pass over the enriched document, the
// no-dropped-analysis check and the quality report.
type SynthesisStage struct {
	text      llm.TextModel
	scorer    *quality.Scorer
	layout    Layout
	policy    llm.Policy
	retryOpts []llm.RetryOption
	logger    *slog.Logger
}

func NewSynthesisStage(text llm.TextModel, scorer *quality.Scorer, layout Layout, policy llm.Policy, logger *slog.Logger, opts ...llm.RetryOption) *SynthesisStage {
	if logger == nil {
		logger = slog.Default()
	}
	if scorer == nil {
		scorer = quality.NewScorer(quality.DefaultMinSections)
	}
	return &SynthesisStage{
		text:      text,
		scorer:    scorer,
		layout:    layout,
		policy:    policy,
		retryOpts: append([]llm.RetryOption{llm.WithRetryLogger(logger, "synthesis")}, opts...),
		logger:    logger,
	}
}

// Run synthesizes <enriched dir>/<doc>.md.
func (s *SynthesisStage) Run(ctx context.Context, doc string) SynthesisResult {
	src, err := os.ReadFile(s.layout.EnrichedPath(doc))
	if err != nil {
		return s.failed(doc, time.Now(), fmt.Errorf("read enriched markdown: %w", err))
	}
	return s.RunText(ctx, doc, string(src))
}

// RunText synthesizes already-loaded Markdown. Text uploads take this path
// directly, skipping extraction and enrichment.
func (s *SynthesisStage) RunText(ctx context.Context, doc, enriched string) SynthesisResult {
	start := time.Now()
	res := SynthesisResult{Document: doc, Status: constants.StageSucceeded}
	analyses := ParseAnalysisSection(enriched)

	cost := &llm.CostTracker{}
	raw, _, err := llm.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		out, usage, err := s.text.Complete(ctx, llm.TextRequest{System: llm.SynthesisSystemPrompt, Prompt: enriched})
		if err != nil {
			cost.AddFailed()
			return "", err
		}
		cost.AddText(usage)
		return out, nil
	}, s.retryOpts...)
	final, err := s.synthesized(raw, err)
	if err != nil {
		s.logger.Warn("pipeline.synth.degraded", "doc", doc, "error", err)
		res.Status = constants.StageDegraded
		res.Error = err.Error()
		final = enriched
	} else {
		final, res.Restored = RestoreMissingAnalyses(final, analyses)
		if len(res.Restored) > 0 {
			s.logger.Warn("pipeline.synth.restored_analyses", "doc", doc, "count", len(res.Restored))
		}
	}
	if !strings.HasSuffix(final, "\n") {
		final += "\n"
	}

	if err := manifest.WriteFileAtomic(s.layout.OutputPath(doc), []byte(final)); err != nil {
		return s.failed(doc, start, fmt.Errorf("write output: %w", err))
	}
	report := s.scorer.Score(doc, []byte(final))
	if err := writeJSON(s.layout.QualityReportPath(doc), report); err != nil {
		return s.failed(doc, start, fmt.Errorf("write quality report: %w", err))
	}

	res.Report = &report
	res.Score = report.Score
	res.Passed = report.Passed
	res.FinalSizeKB = float64(len(final)) / 1024
	res.APICalls = cost.Calls()
	res.DurationMS = time.Since(start).Milliseconds()
	s.logger.Info("pipeline.synth.done",
		"doc", doc,
		"status", res.Status,
		"score", res.Score,
		"passed", res.Passed,
		"size_kb", res.FinalSizeKB,
		"elapsed_ms", res.DurationMS,
	)
	return res
}

func (s *SynthesisStage) synthesized(out string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(llm.StripFences(out))
	if out == "" {
		return "", fmt.Errorf("empty synthesis response")
	}
	return out, nil
}

func (s *SynthesisStage) failed(doc string, start time.Time, err error) SynthesisResult {
	s.logger.Error("pipeline.synth.failed", "doc", doc, "error", err)
	return SynthesisResult{
		Document:   doc,
		Status:     constants.StageFailed,
		Error:      err.Error(),
		Err:        err,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

// WriteSummary writes _stage3_processing.json into the output dir.
func (s *SynthesisStage) WriteSummary(started time.Time, results []SynthesisResult) (StageSummary, error) {
	sum := StageSummary{Stage: "synthesis", StartedAt: started.UTC(), FinishedAt: time.Now().UTC()}
	passed := 0
	for _, r := range results {
		sum.Count(r.Status)
		if r.Passed {
			passed++
		}
	}
	sum.Totals = map[string]int{"quality_passed": passed}
	sum.Details = results
	return sum, WriteStageSummary(s.layout.OutputDir, constants.Stage3Log, sum)
}
