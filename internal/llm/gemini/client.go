// Package gemini serves the vision and text roles through the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
)

type Config struct {
	APIKey      string
	Model       string // default gemini-2.5-flash
	VisionModel string // defaults to Model
	Temperature float32
	MaxTokens   int
}

type Client struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing gemini api key")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{client: c, cfg: cfg, logger: logger}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) AnalyzeImage(ctx context.Context, req llm.ImageRequest) (string, llm.Usage, error) {
	start := time.Now()
	mt := req.MIMEType
	if mt == "" {
		mt = llm.MIMETypeForPath(req.Filename)
	}
	content := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: req.Prompt},
			{InlineData: &genai.Blob{MIMEType: mt, Data: req.Data}},
		},
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
		ResponseMIMEType:  "application/json",
	}
	res, err := c.client.Models.GenerateContent(ctx, c.cfg.VisionModel, content, cfg)
	if err != nil {
		c.logger.Error("llm.vision.error", "asset", req.Filename, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", llm.Usage{}, classify(err)
	}
	out := strings.TrimSpace(res.Text())
	c.logger.Info("llm.vision.ok", "asset", req.Filename, "model", c.cfg.VisionModel, "bytes", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, usageOf(res), nil
}

func (c *Client) Complete(ctx context.Context, req llm.TextRequest) (string, llm.Usage, error) {
	start := time.Now()
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	res, err := c.client.Models.GenerateContent(ctx, c.cfg.Model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, cfg)
	if err != nil {
		c.logger.Error("llm.text.error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", llm.Usage{}, classify(err)
	}
	out := strings.TrimSpace(res.Text())
	c.logger.Info("llm.text.ok", "model", c.cfg.Model, "prompt_len", len(req.Prompt), "bytes", len(out),
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, usageOf(res), nil
}

func usageOf(res *genai.GenerateContentResponse) llm.Usage {
	if res == nil || res.UsageMetadata == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		InputTokens:  int(res.UsageMetadata.PromptTokenCount),
		OutputTokens: int(res.UsageMetadata.CandidatesTokenCount),
		Reported:     true,
	}
}

// classify turns API status codes into the retry taxonomy; transport errors
// are left to llm.Classify.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.StatusError{Code: apiErr.Code, Body: apiErr.Message}
	}
	return err
}
