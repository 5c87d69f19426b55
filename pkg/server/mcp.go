package server

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/arxivmcp"
	"github.com/mikeboe/paper-digest/pkg/chat"
)

// NewMCPServer exposes search_arxiv and, when tools is set, the stored-article tools.
func NewMCPServer(source arxiv.Source, tools *chat.LiteratureToolset) *mcp.Server {
	srv := arxivmcp.NewServer(source, nil)
	if tools == nil {
		return srv
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_articles",
		Description: "Semantic search over the stored articles of one keyword.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args chat.SearchArticlesArgs) (*mcp.CallToolResult, any, error) {
		resp, err := tools.SearchArticles(ctx, args)
		if err != nil {
			return nil, nil, err
		}
		return textResult(resp.Results), nil, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_articles",
		Description: "List every stored article of one keyword, newest first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args chat.ListArticlesArgs) (*mcp.CallToolResult, any, error) {
		resp, err := tools.ListArticles(ctx, args)
		if err != nil {
			return nil, nil, err
		}
		return textResult(resp.Articles), nil, nil
	})

	return srv
}

// MCPHandler serves srv over the streamable HTTP transport.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
