package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mikeboe/paper-digest/pkg/config"
)

// ErrEmbeddingUnavailable wraps every failure to turn text into a vector.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// New builds the embedder selected by cfg, behind a Redis cache when REDIS_URL is set.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Embedder, error) {
	var (
		base Embedder
		err  error
	)
	switch cfg.EmbeddingProvider {
	case config.ProviderGoogleAI:
		base, err = NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey, cfg.EmbeddingDimension)
	default:
		base, err = NewOpenAIEmbedder(cfg.OpenAIApiKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.EmbeddingProvider, err)
	}

	if cfg.RedisURL == "" {
		return base, nil
	}
	cache, err := NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("Embedding cache disabled", "error", err)
		return base, nil
	}
	return NewCachedEmbedder(base, cache, cfg.EmbeddingModel, cfg.EmbeddingDimension, cfg.EmbeddingCacheTTL, logger), nil
}
