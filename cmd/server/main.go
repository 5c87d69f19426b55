package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mikeboe/paper-digest/pkg/app"
	"github.com/mikeboe/paper-digest/pkg/chat"
	"github.com/mikeboe/paper-digest/pkg/config"
	"github.com/mikeboe/paper-digest/pkg/logging"
	"github.com/mikeboe/paper-digest/pkg/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	tools := chat.NewLiteratureToolset(a.Store, a.Embedder, logger)

	svc := server.NewService(a.Pipeline, a.Runs, logger, cfg.MaxArticlesDefault)
	handler := server.NewHandler(svc, a.Store, cfg)
	handler.Health = a.Health
	handler.MCP = server.NewMCPServer(a.Source, tools)

	chatSvc, err := chat.NewService(ctx, cfg, tools, logger)
	switch {
	case err == nil:
		handler.Chat = chatSvc
	case errors.Is(err, chat.ErrChatDisabled):
		logger.Info("Literature assistant disabled", "reason", err)
	default:
		logger.Error("Failed to init literature assistant", "error", err)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewRouter(handler),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Server starting", "port", cfg.Port, "store", cfg.VectorStore)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
