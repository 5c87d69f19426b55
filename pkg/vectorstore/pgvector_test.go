package vectorstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/paper-digest/pkg/database"
	"github.com/mikeboe/paper-digest/pkg/models"
)

func TestIsValidTableName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Valid standard", "articles", true},
		{"Valid with underscore", "my_articles", true},
		{"Valid with numbers", "articles123", true},
		{"Valid short", "a", true},
		{"Valid max length", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_", true}, // 63 chars
		{"Invalid start with number", "1articles", false},
		{"Invalid special chars", "articles-name", false},
		{"Invalid space", "articles name", false},
		{"Invalid SQL injection", "users; DROP TABLE articles", false},
		{"Invalid empty", "", false},
		{"Invalid too long", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789__", false}, // 64 chars
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidTableName(tt.input); got != tt.expected {
				t.Errorf("isValidTableName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNewPGVectorStoreValidation(t *testing.T) {
	_, err := NewPGVectorStore(nil, "bad-name", 3, false)
	assert.Error(t, err)
	_, err = NewPGVectorStore(nil, "articles", 0, false)
	assert.Error(t, err)
}

func sampleArticle(t *testing.T) models.Article {
	t.Helper()
	a, err := models.NewArticle("http://arxiv.org/abs/1", "Title", []string{"A", "B"}, "Abstract",
		time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), "http://arxiv.org/pdf/1", []string{"cs.LG"}, "")
	require.NoError(t, err)
	return a
}

func TestBuildUpsertConflictTarget(t *testing.T) {
	tests := []struct {
		name             string
		uniquePerKeyword bool
		wantSuffix       string
	}{
		{"Global identity", false, "ON CONFLICT (external_id) DO NOTHING"},
		{"Per keyword identity", true, "ON CONFLICT (external_id, keyword) DO NOTHING"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := &PGVectorStore{tableName: "articles", dimension: 3, uniquePerKeyword: tt.uniquePerKeyword}
			sqlStr, args, err := vs.buildUpsert(sampleArticle(t), "llm", []float32{1, 2, 3})
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(sqlStr, `INSERT INTO "articles"`), sqlStr)
			assert.True(t, strings.HasSuffix(sqlStr, tt.wantSuffix), sqlStr)
			assert.Contains(t, sqlStr, "$9")
			require.Len(t, args, 9)
			assert.Equal(t, "http://arxiv.org/abs/1", args[0])
			assert.JSONEq(t, `["A","B"]`, string(args[2].([]byte)))
			assert.Equal(t, "llm", args[7])
		})
	}
}

func TestBuildUpsertUnknownDateIsNull(t *testing.T) {
	vs := &PGVectorStore{tableName: "articles", dimension: 1}
	a := sampleArticle(t)
	a.Published = time.Time{}
	_, args, err := vs.buildUpsert(a, "llm", []float32{1})
	require.NoError(t, err)
	assert.Nil(t, args[4])
}

func TestBuildNearest(t *testing.T) {
	vs := &PGVectorStore{tableName: "articles", dimension: 2}
	sqlStr, args, err := vs.buildNearest([]float32{0.1, 0.2}, "llm", 4)
	require.NoError(t, err)

	assert.Contains(t, sqlStr, "1 - (embedding <=> $1) AS similarity")
	assert.Contains(t, sqlStr, "WHERE keyword = $2")
	assert.Contains(t, sqlStr, "ORDER BY embedding <=> $3")
	assert.Contains(t, sqlStr, "LIMIT 4")
	assert.Len(t, args, 3)
	assert.Equal(t, "llm", args[1])
}

func TestBuildAllOrdersByDate(t *testing.T) {
	vs := &PGVectorStore{tableName: "articles", dimension: 2}
	sqlStr, args, err := vs.buildAll("llm")
	require.NoError(t, err)
	assert.Contains(t, sqlStr, "ORDER BY published DESC NULLS LAST")
	assert.Equal(t, []any{"llm"}, args)
}

func TestPGVectorStoreRejectsWrongDimension(t *testing.T) {
	vs := &PGVectorStore{tableName: "articles", dimension: 3}
	_, err := vs.Upsert(context.Background(), sampleArticle(t), "llm", []float32{1, 2})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	_, err = vs.NearestNeighbors(context.Background(), []float32{1}, "llm", 3)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

// TestPGVectorStoreIntegration runs against a real pgvector database.
func TestPGVectorStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := database.NewPostgresDB(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	table := "articles_it_" + time.Now().Format("150405")
	opts := database.ArticlesTableOptions{Name: table, Dimension: 3}
	require.NoError(t, db.EnsureVectorExtension(ctx))
	require.NoError(t, db.CreateArticlesTable(ctx, opts))
	defer db.Pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)

	vs, err := NewPGVectorStore(db.Pool, table, 3, false)
	require.NoError(t, err)

	a := sampleArticle(t)
	ok, err := vs.Upsert(ctx, a, "llm", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.True(t, ok)

	changed := a
	changed.Title = "Changed"
	ok, err = vs.Upsert(ctx, changed, "llm", []float32{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := vs.CountByKeyword(ctx, "llm")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	neighbors, err := vs.NearestNeighbors(ctx, []float32{1, 0, 0}, "llm", 3)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "Title", neighbors[0].Article.Title)
	assert.InDelta(t, 1.0, neighbors[0].Similarity, 1e-6)

	all, err := vs.AllByKeyword(ctx, "llm")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"A", "B"}, all[0].Authors)
	assert.Equal(t, "2024-02-03", all[0].PublishedDate())

	ok, err = vs.DeleteByKeyword(ctx, "llm")
	require.NoError(t, err)
	assert.True(t, ok)
	n, err = vs.CountByKeyword(ctx, "llm")
	require.NoError(t, err)
	assert.Zero(t, n)
}
