// Package arxivmcp exposes an article source as an MCP tool and consumes it back.
package arxivmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/models"
)

const (
	ToolName          = "search_arxiv"
	DefaultMaxResults = 10
)

type SearchArgs struct {
	Keyword    string `json:"keyword" jsonschema:"keyword or phrase used to look up scientific articles"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of articles to return (default 10, min 1, max 50)"`
}

// wireArticle is one entry of the tool payload.
type wireArticle struct {
	models.Article
	PrimaryCategory string `json:"primary_category"`
}

func (w wireArticle) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(w.Article)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	fields["primary_category"] = w.PrimaryCategory
	return json.Marshal(fields)
}

type searchPayload struct {
	Success  bool          `json:"success"`
	Keyword  string        `json:"keyword,omitempty"`
	Count    int           `json:"count"`
	Articles []wireArticle `json:"articles,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NewServer builds an MCP server with the search_arxiv tool backed by source.
func NewServer(source arxiv.Source, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "arxiv-search-server", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: ToolName,
		Description: "Search recent scientific articles on arXiv. Returns title, authors, abstract, " +
			"publication date, PDF link and categories, newest submissions first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, any, error) {
		payload := search(ctx, source, logger, args)
		text, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode search result: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		}, nil, nil
	})

	return server
}

func search(ctx context.Context, source arxiv.Source, logger *slog.Logger, args SearchArgs) searchPayload {
	keyword := strings.TrimSpace(args.Keyword)
	if keyword == "" {
		return searchPayload{Error: "the 'keyword' parameter is required"}
	}
	limit := args.MaxResults
	if limit == 0 {
		limit = DefaultMaxResults
	}

	articles, err := source.Search(ctx, keyword, arxiv.ClampLimit(limit))
	if err != nil {
		logger.Error("arXiv search failed", "keyword", keyword, "error", err)
		return searchPayload{Error: fmt.Sprintf("arXiv search failed: %v", err)}
	}

	out := make([]wireArticle, 0, len(articles))
	for _, a := range articles {
		primary := ""
		if len(a.Categories) > 0 {
			primary = a.Categories[0]
		}
		a.Keyword = ""
		out = append(out, wireArticle{Article: a, PrimaryCategory: primary})
	}
	logger.Info("arXiv search served", "keyword", keyword, "count", len(out))

	return searchPayload{
		Success:  true,
		Keyword:  keyword,
		Count:    len(out),
		Articles: out,
	}
}
