// Package retrieval assembles grounding text from stored articles similar to a title.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mikeboe/paper-digest/pkg/embeddings"
	"github.com/mikeboe/paper-digest/pkg/vectorstore"
)

const (
	DefaultTopK = 3
	Delimiter   = "\n---\n"
)

type Builder struct {
	embedder embeddings.Embedder
	store    vectorstore.ArticleStore
	logger   *slog.Logger
}

func NewBuilder(embedder embeddings.Embedder, store vectorstore.ArticleStore, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{embedder: embedder, store: store, logger: logger}
}

// BuildContext embeds the title alone, fetches up to k neighbors stored under keyword
// and joins their titles and abstracts. It never fails: errors are logged and yield "".
func (b *Builder) BuildContext(ctx context.Context, articleTitle, keyword string, k int) string {
	if k <= 0 {
		k = DefaultTopK
	}

	query, err := b.embedder.EmbedText(ctx, articleTitle)
	if err != nil {
		b.logger.Warn("Retrieval skipped: title embedding failed", "title", articleTitle, "error", err)
		return ""
	}

	neighbors, err := b.store.NearestNeighbors(ctx, query, keyword, k)
	if err != nil {
		b.logger.Warn("Retrieval skipped: similarity search failed", "keyword", keyword, "error", err)
		return ""
	}

	return Format(neighbors)
}

// Format renders neighbors in rank order as "Title: ...\nAbstract: ...\n" blocks.
func Format(neighbors []vectorstore.Neighbor) string {
	if len(neighbors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		parts = append(parts, "Title: "+n.Article.Title+"\nAbstract: "+n.Article.Abstract+"\n")
	}
	return strings.Join(parts, Delimiter)
}
