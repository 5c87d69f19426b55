// Package research runs the digest pipeline for one keyword.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/embeddings"
	"github.com/mikeboe/paper-digest/pkg/models"
	"github.com/mikeboe/paper-digest/pkg/retrieval"
	"github.com/mikeboe/paper-digest/pkg/summarizer"
	"github.com/mikeboe/paper-digest/pkg/vectorstore"
)

// Pipeline wires the collaborators of a run. It holds no per-run state and
// is safe for concurrent use.
type Pipeline struct {
	Source     arxiv.Source
	Embedder   embeddings.Embedder
	Store      vectorstore.ArticleStore
	Retriever  ContextBuilder
	Summarizer ArticleSummarizer
	Renderer   ReportRenderer
	Publisher  Publisher

	TopK        int
	Concurrency int
	Timeout     time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// Run executes COLLECT, QUICK_DIGEST, SUMMARIZE_EACH, SYNTHESIZE and
// RENDER_REPORT in order. Stage failures degrade the result instead of
// aborting it; only validation, timeout and cancellation return an error.
func (p *Pipeline) Run(ctx context.Context, req Request) (models.RunResult, error) {
	req, err := req.Validate()
	if err != nil {
		return models.RunResult{}, err
	}

	logger := req.Logger
	if logger == nil {
		logger = p.logger()
	}
	logger = logger.With("keyword", req.Keyword)
	if req.RunID != "" {
		logger = logger.With("run_id", req.RunID)
	}

	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	started := p.now()
	emit := func(stage Stage, reason string) {
		logger.Info("Stage changed", "stage", string(stage), "reason", reason)
		if req.OnStage != nil {
			req.OnStage(StageEvent{RunID: req.RunID, Keyword: req.Keyword, Stage: stage, Reason: reason, At: p.now()})
		}
	}
	abort := func(err error) (models.RunResult, error) {
		logger.Error("Run aborted", "error", err)
		emit(StageFailed, err.Error())
		return models.RunResult{
			RunID:            req.RunID,
			Keyword:          req.Keyword,
			ArticleSummaries: []models.ArticleSummary{},
			Error:            err.Error(),
			StartedAt:        started,
			FinishedAt:       p.now(),
		}, err
	}

	emit(StageCollect, "")
	c := p.collect(runCtx, logger, req.Keyword, req.MaxArticles)
	if err := p.interrupted(ctx, runCtx); err != nil {
		return abort(err)
	}
	if len(c.articles) == 0 {
		logger.Warn("No articles collected")
		emit(StageFailed, "no_articles")
		return models.RunResult{
			RunID:            req.RunID,
			Keyword:          req.Keyword,
			QuickSummary:     summarizer.NoArticlesDigest,
			ArticleSummaries: []models.ArticleSummary{},
			Error:            NoArticlesError,
			StartedAt:        started,
			FinishedAt:       p.now(),
		}, nil
	}

	var stageErrs []string

	emit(StageQuickDigest, "")
	quick, err := p.Summarizer.QuickDigest(runCtx, c.articles, req.Keyword)
	if err := p.interrupted(ctx, runCtx); err != nil {
		return abort(err)
	}
	if err != nil {
		logger.Error("Quick digest failed", "error", err)
		quick = QuickDigestFailed
		stageErrs = append(stageErrs, fmt.Sprintf("quick summary failed: %v", err))
	}

	emit(StageSummarizeEach, "")
	s := p.summarizeEach(runCtx, logger, c.articles, req.Keyword)
	if err := p.interrupted(ctx, runCtx); err != nil {
		return abort(err)
	}

	emit(StageSynthesize, "")
	synthesis, err := p.synthesize(runCtx, s, req.Keyword)
	if err := p.interrupted(ctx, runCtx); err != nil {
		return abort(err)
	}
	if err != nil {
		logger.Error("Synthesis failed", "error", err)
		stageErrs = append(stageErrs, fmt.Sprintf("synthesis failed: %v", err))
	}

	emit(StageRenderReport, "")
	r, renderErrs := p.render(runCtx, logger, req.Keyword, synthesis, s.summaries)
	stageErrs = append(stageErrs, renderErrs...)
	if err := p.interrupted(ctx, runCtx); err != nil {
		return abort(err)
	}

	emit(StageDone, "")
	logger.Info("Run finished",
		"articles", len(c.articles), "stored", c.stored, "failed_summaries", s.failed, "report", r.path != nil)

	return models.RunResult{
		RunID:            req.RunID,
		Success:          true,
		Keyword:          req.Keyword,
		ArticlesCount:    len(c.articles),
		StoredCount:      c.stored,
		QuickSummary:     quick,
		GlobalSynthesis:  synthesis,
		ArticleSummaries: s.summaries,
		PDFPath:          r.path,
		ReportURI:        r.reportURI,
		Error:            strings.Join(stageErrs, "; "),
		StartedAt:        started,
		FinishedAt:       p.now(),
	}, nil
}

func (p *Pipeline) collect(ctx context.Context, logger *slog.Logger, keyword string, limit int) collected {
	articles, err := p.Source.Search(ctx, keyword, limit)
	if err != nil {
		logger.Error("Article search failed", "error", err)
		return collected{}
	}
	if len(articles) > limit {
		articles = articles[:limit]
	}

	out := make([]models.Article, len(articles))
	copy(out, articles)

	stored := 0
	for _, a := range out {
		if p.storeArticle(ctx, logger, a, keyword) {
			stored++
		}
	}
	logger.Info("Articles collected", "count", len(out), "stored", stored)
	return collected{articles: out, stored: stored}
}

func (p *Pipeline) storeArticle(ctx context.Context, logger *slog.Logger, a models.Article, keyword string) bool {
	if p.Store == nil || p.Embedder == nil {
		return false
	}
	vec, err := p.Embedder.EmbedText(ctx, a.EmbeddingText())
	if err != nil {
		logger.Warn("Failed to embed article", "title", a.Title, "error", err)
		return false
	}
	ok, err := p.Store.Upsert(ctx, a, keyword, vec)
	if err != nil {
		logger.Warn("Failed to store article", "title", a.Title, "error", err)
		return false
	}
	return ok
}

// summarizeEach keeps the source order; a failed article keeps its slot with a placeholder.
func (p *Pipeline) summarizeEach(ctx context.Context, logger *slog.Logger, articles []models.Article, keyword string) summarized {
	out := make([]models.ArticleSummary, len(articles))

	var g errgroup.Group
	g.SetLimit(p.concurrency())
	for i, a := range articles {
		g.Go(func() error {
			out[i] = p.summarizeOne(ctx, logger, a, keyword)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, s := range out {
		if s.Failed() {
			failed++
		}
	}
	return summarized{summaries: out, failed: failed}
}

func (p *Pipeline) summarizeOne(ctx context.Context, logger *slog.Logger, a models.Article, keyword string) models.ArticleSummary {
	grounding := ""
	if p.Retriever != nil {
		grounding = p.Retriever.BuildContext(ctx, a.Title, keyword, p.topK())
	}
	text, err := p.Summarizer.SummarizeArticle(ctx, a, grounding)
	if err != nil {
		logger.Warn("Article summary failed", "title", a.Title, "error", err)
		return models.FailedArticleSummary(a, PlaceholderSummary, err)
	}
	return models.NewArticleSummary(a, text)
}

// synthesize only feeds successful summaries to the model.
func (p *Pipeline) synthesize(ctx context.Context, s summarized, keyword string) (string, error) {
	ok := make([]models.ArticleSummary, 0, len(s.summaries)-s.failed)
	for _, sum := range s.summaries {
		if !sum.Failed() {
			ok = append(ok, sum)
		}
	}
	text, err := p.Summarizer.Synthesize(ctx, ok, keyword)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (p *Pipeline) render(ctx context.Context, logger *slog.Logger, keyword, synthesis string, summaries []models.ArticleSummary) (rendered, []string) {
	if p.Renderer == nil {
		return rendered{}, nil
	}
	path, err := p.Renderer.Render(keyword, synthesis, summaries)
	if err != nil {
		logger.Error("Report rendering failed", "error", err)
		return rendered{}, []string{err.Error()}
	}
	logger.Info("Report rendered", "path", path)

	out := rendered{path: &path}
	if p.Publisher == nil {
		return out, nil
	}
	uri, err := p.Publisher.Publish(ctx, path)
	if err != nil {
		logger.Warn("Report upload failed", "path", path, "error", err)
		return out, []string{fmt.Sprintf("report upload failed: %v", err)}
	}
	out.reportURI = uri
	return out, nil
}

// interrupted reports a caller cancellation as is and a hit run deadline as ErrTimeout.
func (p *Pipeline) interrupted(parent, run context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, p.Timeout)
	}
	return nil
}

func (p *Pipeline) topK() int {
	if p.TopK <= 0 {
		return retrieval.DefaultTopK
	}
	return p.TopK
}

func (p *Pipeline) concurrency() int {
	if p.Concurrency <= 0 {
		return 1
	}
	return p.Concurrency
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now()
}
