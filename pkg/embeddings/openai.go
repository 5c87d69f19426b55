package embeddings

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint (OpenRouter by default).
type OpenAIEmbedder struct {
	embedder queryEmbedder
	model    string
}

func NewOpenAIEmbedder(apiKey, baseURL, model string) (*OpenAIEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &OpenAIEmbedder{embedder: embedder, model: model}, nil
}

func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEmbeddingUnavailable, e.model, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty vector", ErrEmbeddingUnavailable, e.model)
	}
	return vec, nil
}
