package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
	"github.com/joseph-ayodele/doc-digitizer/internal/manifest"
)

const fallbackDescriptionMax = 500

// ResultKind tags a parsed vision response.
type ResultKind int

const (
	Valid ResultKind = iota
	Malformed
)

// AnalysisResult is either a schema-valid analysis or the raw text that
// failed to parse. Consumers switch on Kind.
type AnalysisResult struct {
	Kind     ResultKind
	Analysis llm.ImageAnalysis
	Raw      string
	Problem  string
}

func parseAnalysis(raw string) AnalysisResult {
	a, err := llm.ParseImageAnalysis(raw)
	if err != nil {
		return AnalysisResult{Kind: Malformed, Raw: raw, Problem: err.Error()}
	}
	return AnalysisResult{Kind: Valid, Analysis: a, Raw: raw}
}

// VisionAnalyzer turns one image into a manifest entry. It always returns an
// entry: failures become an "Other" fallback record.
type VisionAnalyzer struct {
	model     llm.VisionModel
	modelName string
	policy    llm.Policy
	retryOpts []llm.RetryOption
	logger    *slog.Logger
}

func NewVisionAnalyzer(model llm.VisionModel, modelName string, policy llm.Policy, logger *slog.Logger, opts ...llm.RetryOption) *VisionAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionAnalyzer{
		model:     model,
		modelName: modelName,
		policy:    policy,
		retryOpts: append([]llm.RetryOption{llm.WithRetryLogger(logger, "vision")}, opts...),
		logger:    logger,
	}
}

// Analyze runs the normal prompt, then one strict retry when the answer is
// malformed. Transport failures after retries are not re-prompted.
func (v *VisionAnalyzer) Analyze(ctx context.Context, filename, mimeType string, data []byte, md5 string, cost *llm.CostTracker) manifest.Entry {
	system := llm.BuildImageSystemPrompt()

	res, err := v.call(ctx, llm.ImageRequest{
		Filename: filename, MIMEType: mimeType, Data: data,
		System: system, Prompt: llm.BuildImageUserPrompt(filename),
	}, cost)
	if err != nil {
		v.logger.Warn("pipeline.vision.failed", "asset", filename, "error", err)
		return v.fallback(filename, md5, "", err.Error())
	}
	if res.Kind == Valid {
		return v.entry(res.Analysis, md5)
	}

	v.logger.Warn("pipeline.vision.malformed", "asset", filename, "problem", res.Problem)
	strict, err := v.call(ctx, llm.ImageRequest{
		Filename: filename, MIMEType: mimeType, Data: data,
		System: system, Prompt: llm.BuildStrictImagePrompt(filename, res.Problem),
	}, cost)
	if err != nil {
		return v.fallback(filename, md5, res.Raw, err.Error())
	}
	switch strict.Kind {
	case Valid:
		return v.entry(strict.Analysis, md5)
	default:
		v.logger.Warn("pipeline.vision.malformed_after_strict", "asset", filename, "problem", strict.Problem)
		return v.fallback(filename, md5, strict.Raw, strict.Problem)
	}
}

func (v *VisionAnalyzer) call(ctx context.Context, req llm.ImageRequest, cost *llm.CostTracker) (AnalysisResult, error) {
	raw, _, err := llm.Do(ctx, v.policy, func(ctx context.Context) (string, error) {
		out, usage, err := v.model.AnalyzeImage(ctx, req)
		if err != nil {
			cost.AddFailed()
			return "", err
		}
		cost.AddImage(usage)
		return out, nil
	}, v.retryOpts...)
	if err != nil {
		return AnalysisResult{}, err
	}
	return parseAnalysis(raw), nil
}

func (v *VisionAnalyzer) entry(a llm.ImageAnalysis, md5 string) manifest.Entry {
	return manifest.Entry{
		Category:    a.Category,
		Description: a.Description,
		Entities:    a.Entities,
		MD5:         md5,
		Model:       v.modelName,
		AnalyzedAt:  time.Now().UTC(),
	}
}

func (v *VisionAnalyzer) fallback(filename, md5, raw, problem string) manifest.Entry {
	desc := strings.TrimSpace(raw)
	if desc == "" {
		desc = "Image analysis unavailable for " + filename + ": " + problem
	}
	return manifest.Entry{
		Category:    constants.Other,
		Description: truncateRunes(desc, fallbackDescriptionMax),
		Entities:    []string{},
		MD5:         md5,
		Model:       v.modelName,
		Fallback:    true,
		AnalyzedAt:  time.Now().UTC(),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
