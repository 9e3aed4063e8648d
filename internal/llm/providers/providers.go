// Package providers builds the configured remote model client.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm/gemini"
	"github.com/joseph-ayodele/doc-digitizer/internal/llm/openai"
)

func New(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			VisionModel: cfg.VisionModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, logger), nil
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			VisionModel: cfg.VisionModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}, logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown llm provider %q", cfg.Provider), common.ErrInvalidInput)
	}
}

// RetryPolicy maps the retry section of the config onto llm.Policy.
func RetryPolicy(cfg common.RetryConfig) llm.Policy {
	p := llm.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.MaxElapsed > 0 {
		p.MaxElapsed = cfg.MaxElapsed
	}
	if cfg.Jitter >= 0 {
		p.Jitter = cfg.Jitter
	}
	return p
}
