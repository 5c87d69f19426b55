package vectorstore

import (
	"context"
	"errors"
	"regexp"

	"github.com/mikeboe/paper-digest/pkg/models"
)

// ErrDimensionMismatch is returned when a vector's length differs from the store's dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Neighbor is a stored article ranked against a query vector.
type Neighbor struct {
	Article    models.Article `json:"article"`
	Similarity float64        `json:"similarity"`
}

// ArticleStore persists articles with their embeddings, scoped by search keyword.
type ArticleStore interface {
	// Upsert inserts the article unless its identity already exists. An existing
	// row is left untouched and still reported as success.
	Upsert(ctx context.Context, article models.Article, keyword string, embedding []float32) (bool, error)
	// NearestNeighbors returns up to k rows tagged keyword, most similar first.
	NearestNeighbors(ctx context.Context, query []float32, keyword string, k int) ([]Neighbor, error)
	AllByKeyword(ctx context.Context, keyword string) ([]models.Article, error)
	DeleteByKeyword(ctx context.Context, keyword string) (bool, error)
	CountByKeyword(ctx context.Context, keyword string) (int, error)
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName validates that a table name contains only safe characters
// to prevent SQL injection attacks
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}
