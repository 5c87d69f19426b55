package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/paper-digest/pkg/models"
)

func article(t *testing.T, id string, day int) models.Article {
	t.Helper()
	a, err := models.NewArticle(id, "Title "+id, []string{"X"}, "Abstract "+id,
		time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC), "", nil, "")
	require.NoError(t, err)
	return a
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, false)
	a := article(t, "1", 1)

	ok, err := s.Upsert(ctx, a, "llm", []float32{1, 0})
	require.NoError(t, err)
	assert.True(t, ok)

	changed := a
	changed.Title = "Other"
	ok, err = s.Upsert(ctx, changed, "llm", []float32{0, 1})
	require.NoError(t, err)
	assert.True(t, ok)

	all, err := s.AllByKeyword(ctx, "llm")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Title 1", all[0].Title)
}

func TestMemoryIdentityModes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name             string
		uniquePerKeyword bool
		wantUnderB       int
	}{
		{"Global identity hides the row from a second keyword", false, 0},
		{"Per keyword identity stores it again", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore(2, tt.uniquePerKeyword)
			a := article(t, "1", 1)
			_, err := s.Upsert(ctx, a, "A", []float32{1, 0})
			require.NoError(t, err)
			ok, err := s.Upsert(ctx, a, "B", []float32{1, 0})
			require.NoError(t, err)
			assert.True(t, ok)

			n, err := s.CountByKeyword(ctx, "B")
			require.NoError(t, err)
			assert.Equal(t, tt.wantUnderB, n)
		})
	}
}

func TestMemoryNearestNeighbors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, false)
	_, _ = s.Upsert(ctx, article(t, "far", 1), "llm", []float32{0, 1})
	_, _ = s.Upsert(ctx, article(t, "near", 2), "llm", []float32{1, 0.1})
	_, _ = s.Upsert(ctx, article(t, "mid", 3), "llm", []float32{1, 1})
	_, _ = s.Upsert(ctx, article(t, "elsewhere", 4), "rust", []float32{1, 0})

	got, err := s.NearestNeighbors(ctx, []float32{1, 0}, "llm", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Article.ID)
	assert.Equal(t, "mid", got[1].Article.ID)
	assert.GreaterOrEqual(t, got[0].Similarity, got[1].Similarity)

	got, err = s.NearestNeighbors(ctx, []float32{1, 0}, "llm", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.NearestNeighbors(ctx, []float32{1, 0}, "llm", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryDimensionMismatch(t *testing.T) {
	s := NewMemoryStore(3, false)
	_, err := s.Upsert(context.Background(), article(t, "1", 1), "llm", []float32{1})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	_, err = s.NearestNeighbors(context.Background(), []float32{1}, "llm", 1)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestMemoryAllByKeywordNewestFirstAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1, false)
	for i, day := range []int{3, 9, 5} {
		_, err := s.Upsert(ctx, article(t, fmt.Sprint(i), day), "llm", []float32{1})
		require.NoError(t, err)
	}
	all, err := s.AllByKeyword(ctx, "llm")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"1", "2", "0"}, []string{all[0].ID, all[1].ID, all[2].ID})

	ok, err := s.DeleteByKeyword(ctx, "llm")
	require.NoError(t, err)
	assert.True(t, ok)
	n, _ := s.CountByKeyword(ctx, "llm")
	assert.Zero(t, n)
}

func TestMemoryConcurrentUpsertSameKeyword(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1, false)
	a := article(t, "same", 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Upsert(ctx, a, "llm", []float32{1})
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	n, _ := s.CountByKeyword(ctx, "llm")
	assert.Equal(t, 1, n)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}
