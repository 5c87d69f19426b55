// Package app assembles the digest pipeline and its stores from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/arxivmcp"
	"github.com/mikeboe/paper-digest/pkg/clients"
	"github.com/mikeboe/paper-digest/pkg/config"
	"github.com/mikeboe/paper-digest/pkg/database"
	"github.com/mikeboe/paper-digest/pkg/embeddings"
	"github.com/mikeboe/paper-digest/pkg/report"
	"github.com/mikeboe/paper-digest/pkg/research"
	"github.com/mikeboe/paper-digest/pkg/retrieval"
	"github.com/mikeboe/paper-digest/pkg/server"
	"github.com/mikeboe/paper-digest/pkg/summarizer"
	"github.com/mikeboe/paper-digest/pkg/vectorstore"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *database.PostgresDB
	Store    vectorstore.ArticleStore
	Runs     server.RunRepository
	Source   arxiv.Source
	Embedder embeddings.Embedder
	Pipeline *research.Pipeline
}

// Open connects the article and run stores only. In memory mode no database is opened.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// New opens the stores and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger = a.Logger

	embedder, err := embeddings.New(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Embedder = embedder

	llm, err := clients.NewLLM(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Source = NewSource(cfg, logger)

	a.Pipeline = &research.Pipeline{
		Source:      a.Source,
		Embedder:    embedder,
		Store:       a.Store,
		Retriever:   retrieval.NewBuilder(embedder, a.Store, logger),
		Summarizer:  summarizer.New(llm, summarizer.WithLogger(logger)),
		Renderer:    report.NewRenderer(cfg.ReportsDir, report.WithLogger(logger)),
		TopK:        cfg.TopKRetrieval,
		Concurrency: cfg.SummaryConcurrency,
		Timeout:     cfg.RunTimeout,
		Logger:      logger,
	}

	if cfg.ReportS3Bucket != "" {
		publisher, err := report.NewS3Publisher(ctx, cfg.ReportS3Bucket, cfg.ReportS3Prefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to set up report upload: %w", err)
		}
		a.Pipeline.Publisher = publisher
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	if cfg.VectorStore == config.StoreMemory {
		a.Logger.Info("Using in-memory article store", "dimension", cfg.EmbeddingDimension)
		a.Store = vectorstore.NewMemoryStore(cfg.EmbeddingDimension, cfg.UniquePerKeyword)
		a.Runs = server.NewMemoryRuns()
		return nil
	}

	db, err := database.NewPostgresDB(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db

	if err := db.InitSchema(ctx, database.ArticlesTableOptions{
		Name:             cfg.ArticlesTable,
		Dimension:        cfg.EmbeddingDimension,
		UniquePerKeyword: cfg.UniquePerKeyword,
	}); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.ArticlesTable, cfg.EmbeddingDimension, cfg.UniquePerKeyword)
	if err != nil {
		db.Close()
		return err
	}
	a.Store = store
	a.Runs = server.NewPostgresRuns(db.Pool)
	return nil
}

// NewSource returns the arXiv client, or the MCP-backed source when USE_MCP_ARXIV is set.
func NewSource(cfg *config.Config, logger *slog.Logger) arxiv.Source {
	if cfg.UseMCPArxiv {
		logger.Info("Searching arXiv through MCP server", "command", cfg.MCPServerCommand)
		return arxivmcp.NewCommandSource(cfg.MCPServerCommand, nil, logger)
	}
	return arxiv.NewClient(arxiv.WithLogger(logger))
}

// Health pings the database when one is in use.
func (a *App) Health(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Ping(ctx)
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
