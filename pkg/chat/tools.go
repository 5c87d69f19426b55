package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/paper-digest/pkg/embeddings"
	"github.com/mikeboe/paper-digest/pkg/vectorstore"
)

const defaultSearchTopK = 5

// LiteratureToolset gives the assistant read access to stored articles.
type LiteratureToolset struct {
	Store    vectorstore.ArticleStore
	Embedder embeddings.Embedder
	logger   *slog.Logger
}

func NewLiteratureToolset(store vectorstore.ArticleStore, embedder embeddings.Embedder, logger *slog.Logger) *LiteratureToolset {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiteratureToolset{Store: store, Embedder: embedder, logger: logger}
}

func (t *LiteratureToolset) Name() string {
	return "literature_tools"
}

func (t *LiteratureToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchArticlesArgs, SearchArticlesResp](
		functiontool.Config{
			Name:        "search_articles",
			Description: "Semantic search over the stored articles of one keyword.",
		},
		t.searchArticlesTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	listTool, err := functiontool.New[ListArticlesArgs, ListArticlesResp](
		functiontool.Config{
			Name:        "list_articles",
			Description: "List every stored article of one keyword, newest first.",
		},
		t.listArticlesTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create list tool: %w", err)
	}

	return []tool.Tool{searchTool, listTool}, nil
}

type SearchArticlesArgs struct {
	Query   string `json:"query" description:"What to look for"`
	Keyword string `json:"keyword" description:"The monitored keyword the articles were collected for"`
	TopK    int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
}

type SearchArticlesResp struct {
	Results string `json:"results"`
}

func (t *LiteratureToolset) searchArticlesTool(ctx tool.Context, args SearchArticlesArgs) (SearchArticlesResp, error) {
	return t.SearchArticles(ctx, args)
}

func (t *LiteratureToolset) SearchArticles(ctx context.Context, args SearchArticlesArgs) (SearchArticlesResp, error) {
	if strings.TrimSpace(args.Query) == "" {
		return SearchArticlesResp{}, fmt.Errorf("query is required")
	}
	if args.TopK <= 0 {
		args.TopK = defaultSearchTopK
	}
	t.logger.Info("Search articles", "query", args.Query, "keyword", args.Keyword, "topK", args.TopK)

	queryEmbedding, err := t.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return SearchArticlesResp{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	neighbors, err := t.Store.NearestNeighbors(ctx, queryEmbedding, args.Keyword, args.TopK)
	if err != nil {
		return SearchArticlesResp{}, fmt.Errorf("failed to search: %w", err)
	}

	blocks := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		a := n.Article
		var sb strings.Builder
		fmt.Fprintf(&sb, "[Title]: %s\n[Published]: %s\n[Similarity]: %.3f\n[Source]: %s\n[Abstract]: %s",
			a.Title, a.PublishedDate(), n.Similarity, a.PDFURL, a.Abstract)
		blocks = append(blocks, sb.String())
	}
	return SearchArticlesResp{Results: strings.Join(blocks, "\n\n")}, nil
}

type ListArticlesArgs struct {
	Keyword string `json:"keyword" description:"The monitored keyword"`
}

type ListArticlesResp struct {
	Count    int    `json:"count"`
	Articles string `json:"articles"`
}

func (t *LiteratureToolset) listArticlesTool(ctx tool.Context, args ListArticlesArgs) (ListArticlesResp, error) {
	return t.ListArticles(ctx, args)
}

func (t *LiteratureToolset) ListArticles(ctx context.Context, args ListArticlesArgs) (ListArticlesResp, error) {
	articles, err := t.Store.AllByKeyword(ctx, args.Keyword)
	if err != nil {
		return ListArticlesResp{}, fmt.Errorf("failed to list articles: %w", err)
	}

	lines := make([]string, 0, len(articles))
	for _, a := range articles {
		lines = append(lines, fmt.Sprintf("- %s (%s) %s", a.Title, a.PublishedDate(), a.PDFURL))
	}
	return ListArticlesResp{Count: len(articles), Articles: strings.Join(lines, "\n")}, nil
}
