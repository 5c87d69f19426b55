package research

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/paper-digest/pkg/arxiv"
	"github.com/mikeboe/paper-digest/pkg/models"
	"github.com/mikeboe/paper-digest/pkg/report"
	"github.com/mikeboe/paper-digest/pkg/retrieval"
	"github.com/mikeboe/paper-digest/pkg/summarizer"
	"github.com/mikeboe/paper-digest/pkg/vectorstore"
)

type stubSource struct {
	articles []models.Article
	err      error
	calls    int
}

func (s *stubSource) Search(ctx context.Context, keyword string, limit int) ([]models.Article, error) {
	s.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return arxiv.SortAndLimit(s.articles, limit), nil
}

type stubEmbedder struct {
	fail bool
}

func (e stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	return []float32{1, float32(len(text)%7) + 1, 0.5}, nil
}

type fakeSummarizer struct {
	mu          sync.Mutex
	failTitles  map[string]bool
	quickErr    error
	synthErr    error
	block       bool
	delay       time.Duration
	contexts    map[string]string
	synthInput  []models.ArticleSummary
	quickCalls  int
	synthCalls  int
	inFlight    int
	maxInFlight int
}

func (f *fakeSummarizer) SummarizeArticle(ctx context.Context, a models.Article, grounding string) (string, error) {
	f.mu.Lock()
	if f.contexts == nil {
		f.contexts = map[string]string{}
	}
	f.contexts[a.Title] = grounding
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failTitles[a.Title] {
		return "", fmt.Errorf("%w: model refused", summarizer.ErrSummarization)
	}
	return "summary of " + a.Title, nil
}

func (f *fakeSummarizer) QuickDigest(ctx context.Context, articles []models.Article, keyword string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quickCalls++
	if f.quickErr != nil {
		return "", f.quickErr
	}
	return "quick digest", nil
}

func (f *fakeSummarizer) Synthesize(ctx context.Context, summaries []models.ArticleSummary, keyword string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthCalls++
	f.synthInput = summaries
	if len(summaries) == 0 {
		return summarizer.NoSummariesMessage, nil
	}
	if f.synthErr != nil {
		return "", f.synthErr
	}
	return "synthesis", nil
}

type fakeRenderer struct {
	err       error
	summaries []models.ArticleSummary
	synthesis string
}

func (r *fakeRenderer) Render(keyword, synthesis string, summaries []models.ArticleSummary) (string, error) {
	r.summaries = summaries
	r.synthesis = synthesis
	if r.err != nil {
		return "", r.err
	}
	return "/reports/digest.pdf", nil
}

type fakePublisher struct {
	err error
}

func (p fakePublisher) Publish(ctx context.Context, localPath string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "s3://bucket/" + localPath, nil
}

func articles(t *testing.T, n int) []models.Article {
	t.Helper()
	out := make([]models.Article, 0, n)
	for i := 0; i < n; i++ {
		a, err := models.NewArticle(
			fmt.Sprintf("http://arxiv.org/abs/2401.%05dv1", i),
			fmt.Sprintf("Paper %02d", i),
			[]string{"A. Author"},
			fmt.Sprintf("Abstract number %d about graph learning.", i),
			time.Date(2024, 1, 28-i, 0, 0, 0, 0, time.UTC),
			fmt.Sprintf("http://arxiv.org/pdf/2401.%05dv1", i),
			[]string{"cs.LG"},
			"",
		)
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

type stageRecorder struct {
	stages []Stage
}

func (r *stageRecorder) hook(e StageEvent) {
	r.stages = append(r.stages, e.Stage)
}

func newPipeline(src arxiv.Source, sum *fakeSummarizer, store vectorstore.ArticleStore) *Pipeline {
	emb := stubEmbedder{}
	return &Pipeline{
		Source:     src,
		Embedder:   emb,
		Store:      store,
		Retriever:  retrieval.NewBuilder(emb, store, nil),
		Summarizer: sum,
		Renderer:   &fakeRenderer{},
	}
}

func TestRunProducesCompleteDigest(t *testing.T) {
	store := vectorstore.NewMemoryStore(3, false)
	sum := &fakeSummarizer{}
	p := newPipeline(&stubSource{articles: articles(t, 3)}, sum, store)
	p.Renderer = report.NewRenderer(t.TempDir())
	rec := &stageRecorder{}

	res, err := p.Run(context.Background(), Request{RunID: "run-1", Keyword: " graph learning ", MaxArticles: 5, OnStage: rec.hook})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "graph learning", res.Keyword)
	assert.Equal(t, 3, res.ArticlesCount)
	assert.Equal(t, 3, res.StoredCount)
	assert.Equal(t, "quick digest", res.QuickSummary)
	assert.Equal(t, "synthesis", res.GlobalSynthesis)
	assert.Empty(t, res.Error)

	require.Len(t, res.ArticleSummaries, 3)
	for i, s := range res.ArticleSummaries {
		assert.Equal(t, fmt.Sprintf("Paper %02d", i), s.Title)
		assert.Equal(t, "summary of "+s.Title, s.Summary)
		assert.False(t, s.Failed())
	}

	require.NotNil(t, res.PDFPath)
	_, statErr := os.Stat(*res.PDFPath)
	assert.NoError(t, statErr)

	assert.Equal(t, []Stage{StageCollect, StageQuickDigest, StageSummarizeEach, StageSynthesize, StageRenderReport, StageDone}, rec.stages)

	for title, grounding := range sum.contexts {
		assert.Contains(t, grounding, "Title: ", "context for %s", title)
	}
	count, err := store.CountByKeyword(context.Background(), "graph learning")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunWithoutArticles(t *testing.T) {
	tests := []struct {
		name   string
		source *stubSource
	}{
		{"Empty result", &stubSource{}},
		{"Source unavailable", &stubSource{err: fmt.Errorf("%w: 503", arxiv.ErrSourceUnavailable)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := &fakeSummarizer{}
			renderer := &fakeRenderer{}
			p := newPipeline(tt.source, sum, vectorstore.NewMemoryStore(3, false))
			p.Renderer = renderer
			rec := &stageRecorder{}

			res, err := p.Run(context.Background(), Request{Keyword: "nothing here", MaxArticles: 5, OnStage: rec.hook})
			require.NoError(t, err)

			assert.False(t, res.Success)
			assert.Equal(t, NoArticlesError, res.Error)
			assert.Equal(t, summarizer.NoArticlesDigest, res.QuickSummary)
			assert.Nil(t, res.PDFPath)
			assert.Equal(t, 0, res.ArticlesCount)
			assert.NotNil(t, res.ArticleSummaries)
			assert.Empty(t, res.ArticleSummaries)
			assert.Zero(t, sum.quickCalls)
			assert.Zero(t, sum.synthCalls)
			assert.Nil(t, renderer.summaries)
			assert.Equal(t, []Stage{StageCollect, StageFailed}, rec.stages)
		})
	}
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		max     int
	}{
		{"Empty keyword", "", 5},
		{"Blank keyword", "   ", 5},
		{"Zero articles", "llm", 0},
		{"Too many articles", "llm", 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{articles: articles(t, 2)}
			p := newPipeline(src, &fakeSummarizer{}, vectorstore.NewMemoryStore(3, false))

			_, err := p.Run(context.Background(), Request{Keyword: tt.keyword, MaxArticles: tt.max})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Zero(t, src.calls)
		})
	}
}

func TestRunKeepsSlotForFailedSummary(t *testing.T) {
	list := articles(t, 3)
	sum := &fakeSummarizer{failTitles: map[string]bool{list[1].Title: true}}
	p := newPipeline(&stubSource{articles: list}, sum, vectorstore.NewMemoryStore(3, false))

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 3})
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.ArticleSummaries, 3)
	failed := res.ArticleSummaries[1]
	assert.Equal(t, list[1].Title, failed.Title)
	assert.Equal(t, PlaceholderSummary, failed.Summary)
	assert.True(t, failed.Failed())
	assert.Contains(t, failed.Error, "model refused")
	assert.Equal(t, list[1].Authors, failed.Authors)

	require.Len(t, sum.synthInput, 2)
	assert.Equal(t, list[0].Title, sum.synthInput[0].Title)
	assert.Equal(t, list[2].Title, sum.synthInput[1].Title)
}

func TestRunAllSummariesFailed(t *testing.T) {
	list := articles(t, 2)
	sum := &fakeSummarizer{failTitles: map[string]bool{list[0].Title: true, list[1].Title: true}}
	p := newPipeline(&stubSource{articles: list}, sum, vectorstore.NewMemoryStore(3, false))

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 2})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, summarizer.NoSummariesMessage, res.GlobalSynthesis)
	assert.Empty(t, sum.synthInput)
	for _, s := range res.ArticleSummaries {
		assert.Equal(t, PlaceholderSummary, s.Summary)
	}
}

func TestRunSynthesisFailure(t *testing.T) {
	sum := &fakeSummarizer{synthErr: fmt.Errorf("%w: quota exceeded", summarizer.ErrSummarization)}
	renderer := &fakeRenderer{}
	p := newPipeline(&stubSource{articles: articles(t, 2)}, sum, vectorstore.NewMemoryStore(3, false))
	p.Renderer = renderer

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 2})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.GlobalSynthesis)
	assert.Contains(t, res.Error, "synthesis failed")
	assert.Contains(t, res.Error, "quota exceeded")
	require.NotNil(t, res.PDFPath)
	assert.Len(t, renderer.summaries, 2)
	assert.Empty(t, renderer.synthesis)
}

func TestRunRenderFailure(t *testing.T) {
	p := newPipeline(&stubSource{articles: articles(t, 2)}, &fakeSummarizer{}, vectorstore.NewMemoryStore(3, false))
	p.Renderer = &fakeRenderer{err: fmt.Errorf("%w: disk full", report.ErrRender)}

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 2})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Nil(t, res.PDFPath)
	assert.Equal(t, "quick digest", res.QuickSummary)
	assert.Equal(t, "synthesis", res.GlobalSynthesis)
	assert.Len(t, res.ArticleSummaries, 2)
	assert.Contains(t, res.Error, "disk full")
}

func TestRunQuickDigestFailure(t *testing.T) {
	sum := &fakeSummarizer{quickErr: errors.New("timeout from model")}
	p := newPipeline(&stubSource{articles: articles(t, 1)}, sum, vectorstore.NewMemoryStore(3, false))

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 1})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, QuickDigestFailed, res.QuickSummary)
	assert.Contains(t, res.Error, "quick summary failed")
	assert.Equal(t, "synthesis", res.GlobalSynthesis)
}

func TestRunStorageFailuresAreNotFatal(t *testing.T) {
	store := vectorstore.NewMemoryStore(3, false)
	p := newPipeline(&stubSource{articles: articles(t, 3)}, &fakeSummarizer{}, store)
	p.Embedder = stubEmbedder{fail: true}
	p.Retriever = retrieval.NewBuilder(stubEmbedder{fail: true}, store, nil)

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 3})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.ArticlesCount)
	assert.Zero(t, res.StoredCount)
	assert.Len(t, res.ArticleSummaries, 3)
}

func TestRunDimensionMismatchIsNotFatal(t *testing.T) {
	store := vectorstore.NewMemoryStore(8, false)
	p := newPipeline(&stubSource{articles: articles(t, 2)}, &fakeSummarizer{}, store)

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 2})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.StoredCount)
}

func TestRepeatedRunsStoreOnce(t *testing.T) {
	store := vectorstore.NewMemoryStore(3, false)
	p := newPipeline(&stubSource{articles: articles(t, 3)}, &fakeSummarizer{}, store)

	for i := 0; i < 2; i++ {
		res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 3})
		require.NoError(t, err)
		assert.Equal(t, 3, res.StoredCount)
	}
	count, err := store.CountByKeyword(context.Background(), "graphs")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunBoundedParallelismKeepsOrder(t *testing.T) {
	list := articles(t, 10)
	sum := &fakeSummarizer{delay: 5 * time.Millisecond}
	p := newPipeline(&stubSource{articles: list}, sum, vectorstore.NewMemoryStore(3, false))
	p.Concurrency = 4

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 10})
	require.NoError(t, err)

	require.Len(t, res.ArticleSummaries, 10)
	for i, s := range res.ArticleSummaries {
		assert.Equal(t, list[i].Title, s.Title)
		assert.Equal(t, "summary of "+list[i].Title, s.Summary)
	}
	assert.LessOrEqual(t, sum.maxInFlight, 4)
}

func TestRunSequentialByDefault(t *testing.T) {
	sum := &fakeSummarizer{delay: time.Millisecond}
	p := newPipeline(&stubSource{articles: articles(t, 4)}, sum, vectorstore.NewMemoryStore(3, false))

	_, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.maxInFlight)
}

func TestRunTimeout(t *testing.T) {
	sum := &fakeSummarizer{block: true}
	p := newPipeline(&stubSource{articles: articles(t, 2)}, sum, vectorstore.NewMemoryStore(3, false))
	p.Timeout = 50 * time.Millisecond
	rec := &stageRecorder{}

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 2, OnStage: rec.hook})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, arxiv.ErrSourceUnavailable))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Equal(t, StageFailed, rec.stages[len(rec.stages)-1])
}

func TestRunCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newPipeline(&stubSource{articles: articles(t, 2)}, &fakeSummarizer{}, vectorstore.NewMemoryStore(3, false))
	p.Timeout = time.Minute

	_, err := p.Run(ctx, Request{Keyword: "graphs", MaxArticles: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestRunPublishesReport(t *testing.T) {
	tests := []struct {
		name      string
		publisher fakePublisher
		wantURI   string
		wantErr   string
	}{
		{"Uploaded", fakePublisher{}, "s3://bucket//reports/digest.pdf", ""},
		{"Upload failed", fakePublisher{err: errors.New("access denied")}, "", "report upload failed: access denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(&stubSource{articles: articles(t, 1)}, &fakeSummarizer{}, vectorstore.NewMemoryStore(3, false))
			p.Publisher = tt.publisher

			res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.wantURI, res.ReportURI)
			assert.Equal(t, tt.wantErr, res.Error)
			require.NotNil(t, res.PDFPath)
		})
	}
}

func TestRunRespectsMaxArticles(t *testing.T) {
	p := newPipeline(&stubSource{articles: articles(t, 8)}, &fakeSummarizer{}, vectorstore.NewMemoryStore(3, false))

	res, err := p.Run(context.Background(), Request{Keyword: "graphs", MaxArticles: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, res.ArticlesCount)
	require.Len(t, res.ArticleSummaries, 5)
	for i := 1; i < len(res.ArticleSummaries); i++ {
		assert.True(t, strings.Compare(res.ArticleSummaries[i-1].Published, res.ArticleSummaries[i].Published) >= 0)
	}
}
