package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores raw embedding payloads by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by a Redis server.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedEmbedder serves repeated texts from a cache. Cache failures only cost a recomputation.
type CachedEmbedder struct {
	next   Embedder
	cache  Cache
	model  string
	dim    int
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedEmbedder keys entries by model and output dimension; dim <= 0 accepts any cached length.
func NewCachedEmbedder(next Embedder, cache Cache, model string, dim int, ttl time.Duration, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{next: next, cache: cache, model: model, dim: dim, ttl: ttl, logger: logger}
}

func (e *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)

	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("Embedding cache read failed", "error", err)
	}
	if ok {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 && (e.dim <= 0 || len(vec) == e.dim) {
			return vec, nil
		}
		e.logger.Warn("Discarding unusable cached embedding", "key", key)
	}

	vec, err := e.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(vec); err == nil {
		if err := e.cache.Set(ctx, key, payload, e.ttl); err != nil {
			e.logger.Warn("Embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("paper-digest:emb:%s:%d:%s", e.model, e.dim, hex.EncodeToString(sum[:]))
}
