package llm

import (
	"fmt"
	"log/slog"

	"github.com/samsaffron/noma/internal/config"
)

// NewGenerator creates the configured backend wrapped with automatic retry
// for rate limits (429) and transient errors.
func NewGenerator(cfg *config.Config, logger *slog.Logger) (ContentGenerator, error) {
	g, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(g, RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
	}, logger), nil
}

func newBackend(cfg *config.Config) (ContentGenerator, error) {
	model := cfg.ActiveModel()
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
			return nil, fmt.Errorf("openai: no API key (set OPENAI_API_KEY or NOMA_API_KEY)")
		}
		return NewOpenAIGenerator(OpenAIOptions{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          model,
			EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		}), nil
	case config.ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini: no API key (set GEMINI_API_KEY)")
		}
		return NewGeminiGenerator(GeminiOptions{
			APIKey:         cfg.Gemini.APIKey,
			Model:          model,
			EmbeddingModel: cfg.Gemini.EmbeddingModel,
		}), nil
	case config.ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic: no API key (set ANTHROPIC_API_KEY)")
		}
		return NewAnthropicGenerator(AnthropicOptions{
			APIKey: cfg.Anthropic.APIKey,
			Model:  model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// GenerateConfigFrom builds the per-request configuration defaults from cfg.
func GenerateConfigFrom(cfg config.GenerationConfig) GenerateConfig {
	out := GenerateConfig{
		SystemInstruction: cfg.SystemInstruction,
		Temperature:       Float64(cfg.Temperature),
		TopP:              Float64(cfg.TopP),
		MaxOutputTokens:   cfg.MaxOutputTokens,
	}
	if cfg.TopK > 0 {
		out.TopK = Int(cfg.TopK)
	}
	return out
}
