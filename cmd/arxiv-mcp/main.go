package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/arxivmcp"
	"github.com/mikeboe/paper-digest/pkg/logging"
)

func main() {
	// stdout carries the protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.LevelFromString(os.Getenv("LOG_LEVEL")),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := arxiv.NewClient(arxiv.WithLogger(logger))
	server := arxivmcp.NewServer(source, logger)

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("MCP server stopped", "error", err)
		os.Exit(1)
	}
}
