package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/arxivmcp"
	"github.com/mikeboe/paper-digest/pkg/clients"
	"github.com/mikeboe/paper-digest/pkg/config"
	"github.com/mikeboe/paper-digest/pkg/server"
	"github.com/mikeboe/paper-digest/pkg/vectorstore"
)

func memoryConfig(t *testing.T) *config.Config {
	return &config.Config{
		LLMProvider:        config.ProviderOpenAI,
		OpenAIApiKey:       "sk-test",
		OpenAIBaseURL:      "http://127.0.0.1:1/v1",
		OpenAIModel:        "test-model",
		EmbeddingProvider:  config.ProviderOpenAI,
		EmbeddingModel:     "test-embedding",
		EmbeddingDimension: 4,
		VectorStore:        config.StoreMemory,
		TopKRetrieval:      2,
		SummaryConcurrency: 3,
		RunTimeout:         time.Minute,
		ReportsDir:         t.TempDir(),
	}
}

func TestNewMemoryMode(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), slog.Default())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.IsType(t, &vectorstore.MemoryStore{}, a.Store)
	assert.IsType(t, &server.MemoryRuns{}, a.Runs)
	assert.IsType(t, &arxiv.Client{}, a.Source)
	assert.NoError(t, a.Health(context.Background()))

	p := a.Pipeline
	assert.Equal(t, 2, p.TopK)
	assert.Equal(t, 3, p.Concurrency)
	assert.Equal(t, time.Minute, p.Timeout)
	assert.Nil(t, p.Publisher)
}

func TestNewRequiresLLMCredentials(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.OpenAIApiKey = ""
	cfg.EmbeddingProvider = config.ProviderOpenAI

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewLLMNotConfigured(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.LLMProvider = config.ProviderGoogleAI

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, clients.ErrNotConfigured))
}

func TestNewSourceSelectsMCP(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.UseMCPArxiv = true
	cfg.MCPServerCommand = "arxiv-mcp"

	assert.IsType(t, &arxivmcp.Source{}, NewSource(cfg, slog.Default()))
}
