package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GoogleEmbedder wraps Gemini embeddings
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
}

// NewGoogleEmbedder creates a Gemini embedder that truncates output to dimension.
func NewGoogleEmbedder(ctx context.Context, model, apiKey string, dimension int) (*GoogleEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}

	return &GoogleEmbedder{
		client:    client,
		model:     model,
		dimension: int32(dimension),
	}, nil
}

// EmbedText generates the embedding for a single text
func (e *GoogleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	outputDim := e.dimension
	res, err := e.client.Models.EmbedContent(ctx, e.model, []*genai.Content{
		{
			Parts: []*genai.Part{
				{Text: text},
			},
		},
	}, &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbeddingUnavailable)
	}

	return res.Embeddings[0].Values, nil
}
