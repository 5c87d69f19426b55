// Package summarizer turns articles into grounded natural-language summaries with an LLM.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/paper-digest/pkg/models"
)

// ErrSummarization wraps every LLM backend failure.
var ErrSummarization = errors.New("summarization failed")

const (
	QuickDigestArticles = 3
	QuickDigestRunes    = 200

	NoArticlesDigest   = "No articles found for this keyword."
	NoSummariesMessage = "No summaries available to build a synthesis."
)

type Summarizer struct {
	llm         llms.Model
	logger      *slog.Logger
	maxRetries  int
	backoff     time.Duration
	temperature float64
}

type Option func(*Summarizer)

func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) { s.logger = l }
}

// WithRetry sets the attempt count and the linear backoff unit between attempts.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(s *Summarizer) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
		s.backoff = backoff
	}
}

func New(llm llms.Model, opts ...Option) *Summarizer {
	s := &Summarizer{
		llm:         llm,
		logger:      slog.Default(),
		maxRetries:  3,
		backoff:     time.Second,
		temperature: 0.3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SummarizeArticle writes a 5-8 sentence summary from the article and its grounding context.
func (s *Summarizer) SummarizeArticle(ctx context.Context, article models.Article, groundingContext string) (string, error) {
	return s.generateWithRetry(ctx, summarizerPersona, articlePrompt(article, groundingContext))
}

// QuickDigest writes 2-3 sentences from the first three articles only.
func (s *Summarizer) QuickDigest(ctx context.Context, articles []models.Article, keyword string) (string, error) {
	if len(articles) == 0 {
		return NoArticlesDigest, nil
	}
	return s.generateWithRetry(ctx, summarizerPersona, quickDigestPrompt(articles, keyword))
}

// Synthesize writes a 10-15 sentence cross-article synthesis from summary texts.
func (s *Summarizer) Synthesize(ctx context.Context, summaries []models.ArticleSummary, keyword string) (string, error) {
	if len(summaries) == 0 {
		return NoSummariesMessage, nil
	}
	return s.generateWithRetry(ctx, synthesizerPersona, synthesisPrompt(summaries, keyword))
}

// generateWithRetry attempts the completion up to maxRetries times, rejecting empty output.
func (s *Summarizer) generateWithRetry(ctx context.Context, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		if i > 0 {
			s.logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrSummarization, ctx.Err())
			case <-time.After(s.backoff * time.Duration(i)):
			}
		}

		resp, err := s.llm.GenerateContent(ctx, messages, llms.WithTemperature(s.temperature))
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			continue
		}
		content := strings.TrimSpace(resp.Choices[0].Content)
		if content == "" {
			lastErr = errors.New("llm returned empty content")
			continue
		}
		return content, nil
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrSummarization, s.maxRetries, lastErr)
}
