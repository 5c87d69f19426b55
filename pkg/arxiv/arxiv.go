package arxiv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/mikeboe/paper-digest/pkg/models"
)

const (
	// DefaultBaseURL is the public arXiv query endpoint.
	DefaultBaseURL = "https://export.arxiv.org/api/query"
	// MaxResults is the ceiling applied to every search.
	MaxResults = 50
)

// ErrSourceUnavailable is returned when the search backend cannot be reached or answers garbage.
var ErrSourceUnavailable = errors.New("article source unavailable")

// Source is anything that can look up articles by keyword, newest first.
type Source interface {
	Search(ctx context.Context, keyword string, limit int) ([]models.Article, error)
}

// Client queries the arXiv Atom API directly.
type Client struct {
	baseURL string
	http    *http.Client
	parser  *gofeed.Parser
	logger  *slog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		parser:  gofeed.NewParser(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClampLimit forces a requested result count into [1, MaxResults].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxResults {
		return MaxResults
	}
	return limit
}

// Search returns at most limit articles for keyword, sorted by submission date descending.
func (c *Client) Search(ctx context.Context, keyword string, limit int) ([]models.Article, error) {
	limit = ClampLimit(limit)

	params := url.Values{}
	params.Add("search_query", buildSearchQuery(keyword))
	params.Add("start", "0")
	params.Add("max_results", strconv.Itoa(limit))
	params.Add("sortBy", "submittedDate")
	params.Add("sortOrder", "descending")
	apiURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", "paper-digest/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Info("arXiv request made", "url", apiURL, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: arXiv returned status %d: %s", ErrSourceUnavailable, resp.StatusCode, string(bodyBytes))
	}

	feed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse feed: %v", ErrSourceUnavailable, err)
	}

	articles := make([]models.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		a, err := articleFromItem(item, keyword)
		if err != nil {
			c.logger.Warn("Skipping malformed arXiv entry", "error", err)
			continue
		}
		articles = append(articles, a)
	}

	return SortAndLimit(articles, limit), nil
}

// SortAndLimit orders articles newest first (stable on ties) and truncates to limit.
func SortAndLimit(articles []models.Article, limit int) []models.Article {
	out := make([]models.Article, len(articles))
	copy(out, articles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Published.After(out[j].Published)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// buildSearchQuery searches all fields; multi-word keywords are kept as one phrase.
func buildSearchQuery(keyword string) string {
	keyword = strings.TrimSpace(keyword)
	if strings.ContainsAny(keyword, " \t") && !strings.Contains(keyword, "\"") {
		return "all:\"" + keyword + "\""
	}
	return "all:" + keyword
}

func articleFromItem(item *gofeed.Item, keyword string) (models.Article, error) {
	var published time.Time
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	authors := make([]string, 0, len(item.Authors))
	for _, p := range item.Authors {
		if p == nil || strings.TrimSpace(p.Name) == "" {
			continue
		}
		authors = append(authors, strings.TrimSpace(p.Name))
	}

	id := item.GUID
	if id == "" {
		id = item.Link
	}

	return models.NewArticle(
		id,
		collapseSpaces(item.Title),
		authors,
		collapseSpaces(item.Description),
		published,
		pdfLink(item, id),
		item.Categories,
		keyword,
	)
}

// pdfLink picks the PDF link of an entry, deriving it from the abstract URL when absent.
func pdfLink(item *gofeed.Item, id string) string {
	for _, l := range item.Links {
		if strings.Contains(l, "/pdf/") {
			return l
		}
	}
	if strings.Contains(id, "/abs/") {
		return strings.Replace(id, "/abs/", "/pdf/", 1)
	}
	return item.Link
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
