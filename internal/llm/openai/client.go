package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// AnalyzeImage implements llm.VisionModel with a JSON-mode chat/completions
// call carrying the image as a data URL.
func (c *Client) AnalyzeImage(ctx context.Context, req llm.ImageRequest) (string, llm.Usage, error) {
	start := time.Now()
	mt := req.MIMEType
	if mt == "" {
		mt = llm.MIMETypeForPath(req.Filename)
	}

	body := map[string]any{
		"model":           c.cfg.VisionModel,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": req.Prompt},
				{"type": "image_url", "image_url": map[string]any{"url": llm.DataURL(mt, req.Data)}},
			}},
		},
	}

	content, usage, err := c.chat(ctx, body)
	if err != nil {
		c.logger.Error("llm.vision.error", "asset", req.Filename, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", usage, err
	}
	c.logger.Info("llm.vision.ok",
		"asset", req.Filename,
		"model", c.cfg.VisionModel,
		"bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, usage, nil
}

// Complete implements llm.TextModel.
func (c *Client) Complete(ctx context.Context, req llm.TextRequest) (string, llm.Usage, error) {
	start := time.Now()
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"max_tokens":  maxTokens,
		"messages": []map[string]any{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.Prompt},
		},
	}
	content, usage, err := c.chat(ctx, body)
	if err != nil {
		c.logger.Error("llm.text.error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", usage, err
	}
	c.logger.Info("llm.text.ok",
		"model", c.cfg.Model,
		"prompt_len", len(req.Prompt),
		"bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, usage, nil
}

func (c *Client) chat(ctx context.Context, body map[string]any) (string, llm.Usage, error) {
	if c.cfg.APIKey == "" {
		return "", llm.Usage{}, llm.Permanent(errors.New("openai: missing api key"))
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, _, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		return "", llm.Usage{}, err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		// a truncated body from a flaky proxy is worth another attempt
		return "", llm.Usage{}, llm.Transient(fmt.Errorf("decode openai response: %w", err))
	}
	var usage llm.Usage
	if cc.Usage != nil {
		usage = llm.Usage{InputTokens: cc.Usage.PromptTokens, OutputTokens: cc.Usage.CompletionTokens, Reported: true}
	}
	if len(cc.Choices) == 0 {
		return "", usage, llm.Transient(errors.New("no choices in openai response"))
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), usage, nil
}
