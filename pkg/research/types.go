package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/paper-digest/pkg/config"
	"github.com/mikeboe/paper-digest/pkg/models"
)

var (
	ErrValidation = errors.New("invalid run request")
	ErrTimeout    = errors.New("run timed out")
)

// Stage is one step of a digest run.
type Stage string

const (
	StageCollect       Stage = "COLLECT"
	StageQuickDigest   Stage = "QUICK_DIGEST"
	StageSummarizeEach Stage = "SUMMARIZE_EACH"
	StageSynthesize    Stage = "SYNTHESIZE"
	StageRenderReport  Stage = "RENDER_REPORT"
	StageDone          Stage = "DONE"
	StageFailed        Stage = "FAILED"
)

const (
	NoArticlesError    = "no articles found"
	PlaceholderSummary = "Summary unavailable for this article."
	QuickDigestFailed  = "Quick summary unavailable."
)

// StageEvent is emitted every time a run enters a new stage.
type StageEvent struct {
	RunID   string
	Keyword string
	Stage   Stage
	Reason  string
	At      time.Time
}

// Request describes one digest run.
type Request struct {
	RunID       string
	Keyword     string
	MaxArticles int

	// Logger receives the run's logs. Defaults to the pipeline logger.
	Logger *slog.Logger
	// OnStage is called synchronously on every stage transition.
	OnStage func(StageEvent)
}

// Validate trims the keyword and checks the article limit.
func (r Request) Validate() (Request, error) {
	r.Keyword = strings.TrimSpace(r.Keyword)
	if r.Keyword == "" {
		return r, fmt.Errorf("%w: keyword must not be empty", ErrValidation)
	}
	if r.MaxArticles < 1 || r.MaxArticles > config.MaxArticlesCeiling {
		return r, fmt.Errorf("%w: max_articles must be between 1 and %d", ErrValidation, config.MaxArticlesCeiling)
	}
	return r, nil
}

// ArticleSummarizer produces the LLM texts of a run.
type ArticleSummarizer interface {
	SummarizeArticle(ctx context.Context, article models.Article, groundingContext string) (string, error)
	QuickDigest(ctx context.Context, articles []models.Article, keyword string) (string, error)
	Synthesize(ctx context.Context, summaries []models.ArticleSummary, keyword string) (string, error)
}

// ContextBuilder returns related stored abstracts for an article title.
type ContextBuilder interface {
	BuildContext(ctx context.Context, articleTitle, keyword string, k int) string
}

type ReportRenderer interface {
	Render(keyword, synthesis string, summaries []models.ArticleSummary) (string, error)
}

// Publisher copies a rendered report somewhere durable and returns its URI.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// Stage outputs. Each stage returns a fresh value; nothing is accumulated on the pipeline.

type collected struct {
	articles []models.Article
	stored   int
}

type summarized struct {
	summaries []models.ArticleSummary
	failed    int
}

type rendered struct {
	path      *string
	reportURI string
}
