// Package llm routes every generation request through a single gateway that
// owns concurrency, retries, and provider quota pacing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/quarry/pkg/config"
)

// ErrDisabled is returned by a gateway constructed without an API key for a
// keyed provider. Callers treat it as "skip the LLM stage and fall back".
var ErrDisabled = errors.New("llm gateway is disabled: no API key configured")

// Provider generates a completion for a single prompt.
type Provider interface {
	// Generate sends the prompt and returns the raw reply text.
	Generate(ctx context.Context, prompt string) (string, error)

	// Name returns the provider identifier ("gemini", "ollama").
	Name() string

	// Close releases provider resources.
	Close() error
}

// New builds the gateway for the configured provider.
//
// A keyed provider without an API key yields a disabled gateway rather than
// an error: every Ask returns ErrDisabled and the deterministic fallbacks
// carry the pipeline.
func New(cfg *config.LLMConfig) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		provider Provider
		err      error
	)
	switch cfg.Type {
	case "gemini":
		if cfg.APIKey == "" {
			slog.Warn("LLM gateway disabled: no API key configured", "provider", cfg.Type)
			return NewGateway(nil, cfg), nil
		}
		provider, err = NewGeminiProvider(cfg)
	case "ollama":
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm type: %s (supported: gemini, ollama)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	return NewGateway(provider, cfg), nil
}
