package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mikeboe/paper-digest/pkg/config"
)

// ErrNotConfigured is returned when the selected provider has no credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// NewLLM returns the text-completion model selected by LLM_PROVIDER.
func NewLLM(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	switch cfg.LLMProvider {
	case config.ProviderGoogleAI:
		return GoogleAI(ctx, cfg.GoogleApiKey, cfg.FastModel)
	default:
		return OpenAICompatible(cfg.OpenAIApiKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
}

// GoogleAI builds a Gemini model through langchaingo.
func GoogleAI(ctx context.Context, apiKey, model string) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GOOGLE_API_KEY is empty", ErrNotConfigured)
	}
	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}
	return llm, nil
}

// OpenAICompatible builds a chat model for any OpenAI-style endpoint, OpenRouter by default.
func OpenAICompatible(apiKey, baseURL, model string) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is empty", ErrNotConfigured)
	}
	opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return llm, nil
}
