package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/mikeboe/paper-digest/pkg/app"
	"github.com/mikeboe/paper-digest/pkg/chat"
	"github.com/mikeboe/paper-digest/pkg/config"
	"github.com/mikeboe/paper-digest/pkg/embeddings"
	"github.com/mikeboe/paper-digest/pkg/logging"
	"github.com/mikeboe/paper-digest/pkg/server"
)

var (
	keyword     string
	maxArticles int
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "paper-digest",
		Short: "Monitor arXiv for a keyword and build a literature digest",
		Long: `paper-digest collects the newest arXiv submissions for a keyword, stores them in a vector store,
summarizes each one with related stored abstracts as context and renders a PDF digest.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one digest for a keyword and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keyword") {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter keyword: ")
				input, _ := reader.ReadString('\n')
				keyword = strings.TrimSpace(input)
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max") {
				maxArticles = cfg.MaxArticlesDefault
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := server.NewService(a.Pipeline, a.Runs, logger, cfg.MaxArticlesDefault)
			result, err := svc.Run(ctx, server.SearchRequest{Keyword: keyword, MaxArticles: &maxArticles})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	runCmd.Flags().StringVarP(&keyword, "keyword", "k", "", "Keyword or phrase to monitor")
	runCmd.Flags().IntVarP(&maxArticles, "max", "n", 0, fmt.Sprintf("Number of articles to collect (1-%d)", config.MaxArticlesCeiling))

	articlesCmd := &cobra.Command{
		Use:   "articles",
		Short: "Inspect or clear the stored articles of a keyword",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored articles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			articles, err := a.Store.AllByKeyword(cmd.Context(), keyword)
			if err != nil {
				return err
			}
			for _, art := range articles {
				fmt.Printf("%s  %s\n    %s\n", art.PublishedDate(), art.Title, art.PDFURL)
			}
			fmt.Printf("%d article(s) stored for %q\n", len(articles), keyword)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored article of a keyword",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStores(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Store.CountByKeyword(cmd.Context(), keyword)
			if err != nil {
				return err
			}
			ok, err := a.Store.DeleteByKeyword(cmd.Context(), keyword)
			if err != nil {
				return err
			}
			fmt.Printf("Cleared %d article(s) for %q: %t\n", n, keyword, ok)
			return nil
		},
	}

	for _, c := range []*cobra.Command{listCmd, clearCmd} {
		c.Flags().StringVarP(&keyword, "keyword", "k", "", "Keyword the articles were collected for")
		_ = c.MarkFlagRequired("keyword")
		articlesCmd.AddCommand(c)
	}

	serveMCPCmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve search_arxiv and the stored-article tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			logger := stderrLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			embedder, err := embeddings.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			tools := chat.NewLiteratureToolset(a.Store, embedder, logger)
			srv := server.NewMCPServer(app.NewSource(cfg, logger), tools)
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}

	rootCmd.AddCommand(runCmd, articlesCmd, serveMCPCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	// Results are printed on stdout.
	logger := stderrLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func stderrLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.LevelFromString(level)}))
}

func openStores(ctx context.Context) (*app.App, error) {
	cfg, logger, err := setup()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
