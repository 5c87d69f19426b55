package arxivmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/models"
)

// TransportFactory returns a fresh transport for one client session.
type TransportFactory func(ctx context.Context) (mcp.Transport, error)

// Source is an arxiv.Source that goes through the search_arxiv tool of an MCP server.
// Every Search opens its own session and closes it before returning.
type Source struct {
	newTransport TransportFactory
	client       *mcp.Client
	logger       *slog.Logger
}

var _ arxiv.Source = (*Source)(nil)

func NewSource(factory TransportFactory, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		newTransport: factory,
		client:       mcp.NewClient(&mcp.Implementation{Name: "paper-digest", Version: "1.0.0"}, nil),
		logger:       logger,
	}
}

// NewCommandSource spawns command as a stdio MCP server for each search.
func NewCommandSource(command string, args []string, logger *slog.Logger) *Source {
	return NewSource(func(ctx context.Context) (mcp.Transport, error) {
		path, err := exec.LookPath(command)
		if err != nil {
			return nil, fmt.Errorf("mcp server command %q not found: %w", command, err)
		}
		return &mcp.CommandTransport{Command: exec.CommandContext(ctx, path, args...)}, nil
	}, logger)
}

type clientPayload struct {
	Success  bool             `json:"success"`
	Keyword  string           `json:"keyword"`
	Count    int              `json:"count"`
	Articles []models.Article `json:"articles"`
	Error    string           `json:"error"`
}

func (s *Source) Search(ctx context.Context, keyword string, limit int) ([]models.Article, error) {
	transport, err := s.newTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", arxiv.ErrSourceUnavailable, err)
	}

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to mcp server: %v", arxiv.ErrSourceUnavailable, err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: ToolName,
		Arguments: map[string]any{
			"keyword":     keyword,
			"max_results": arxiv.ClampLimit(limit),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", arxiv.ErrSourceUnavailable, ToolName, err)
	}

	payload, err := decodePayload(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", arxiv.ErrSourceUnavailable, err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("%w: %s", arxiv.ErrSourceUnavailable, payload.Error)
	}

	articles := make([]models.Article, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		checked, err := models.NewArticle(a.ID, a.Title, a.Authors, a.Abstract, a.Published, a.PDFURL, a.Categories, keyword)
		if err != nil {
			s.logger.Warn("Skipping malformed article from mcp server", "error", err)
			continue
		}
		articles = append(articles, checked)
	}
	s.logger.Info("Articles received over mcp", "keyword", keyword, "count", len(articles))

	return arxiv.SortAndLimit(articles, arxiv.ClampLimit(limit)), nil
}

func decodePayload(res *mcp.CallToolResult) (clientPayload, error) {
	var payload clientPayload
	if res == nil || len(res.Content) == 0 {
		return payload, errors.New("empty tool result")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		return payload, fmt.Errorf("unexpected tool content %T", res.Content[0])
	}
	if res.IsError {
		return payload, fmt.Errorf("tool error: %s", text.Text)
	}
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		return payload, fmt.Errorf("invalid tool payload: %w", err)
	}
	return payload, nil
}
