package llm

import (
	"context"
	"math"
)

// ContentGenerator is the model backend boundary.
type ContentGenerator interface {
	Name() string
	GenerateContent(ctx context.Context, req GenerateRequest, promptID string) (*Response, error)
	GenerateContentStream(ctx context.Context, req GenerateRequest, promptID string) (Stream, error)
	CountTokens(ctx context.Context, req CountTokensRequest) (int, error)
	EmbedContent(ctx context.Context, req EmbedRequest) ([][]float32, error)
}

// GenerateRequest is one backend invocation.
type GenerateRequest struct {
	Model    string
	Contents []Content
	Config   GenerateConfig
}

// GenerateConfig is the optional configuration bag of a request.
// Unset fields are filled in by the generator.
type GenerateConfig struct {
	SystemInstruction string
	Temperature       *float64
	TopP              *float64
	TopK              *int
	MaxOutputTokens   int
	StopSequences     []string
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	Seed              *int
	ResponseMIMEType  string
	ResponseSchema    map[string]any
	Tools             []FunctionDeclaration
}

// CountTokensRequest asks for the token count of some contents.
type CountTokensRequest struct {
	Model    string
	Contents []Content
}

// EmbedRequest asks for one embedding vector per text.
type EmbedRequest struct {
	Model string
	Texts []string
}

const (
	DefaultModel           = "gpt-4o"
	DefaultFlashModel      = "gpt-4o-mini"
	DefaultFlashLiteModel  = "gpt-3.5-turbo"
	DefaultEmbeddingModel  = "text-embedding-3-small"
	defaultTemperature     = 0.7
	defaultTopP            = 1.0
	defaultMaxOutputTokens = 4096
)

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func temperatureOrDefault(cfg GenerateConfig) float64 {
	if cfg.Temperature != nil {
		return *cfg.Temperature
	}
	return defaultTemperature
}

func topPOrDefault(cfg GenerateConfig) float64 {
	if cfg.TopP != nil {
		return *cfg.TopP
	}
	return defaultTopP
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(contents []Content) int {
	chars := 0
	for _, c := range contents {
		for _, p := range c.Parts {
			if p.Type == PartText || p.Type == PartThought {
				chars += len(p.Text)
			}
		}
	}
	return int(math.Ceil(float64(chars) / 4))
}

// Float64 returns a pointer to v, for optional config fields.
func Float64(v float64) *float64 {
	return &v
}

// Int returns a pointer to v, for optional config fields.
func Int(v int) *int {
	return &v
}
