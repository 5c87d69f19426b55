package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/mikeboe/paper-digest/pkg/models"
)

type memoryRow struct {
	article   models.Article
	keyword   string
	embedding []float32
	seq       int
}

// MemoryStore is an in-process ArticleStore with brute-force cosine search.
type MemoryStore struct {
	mu               sync.RWMutex
	dimension        int
	uniquePerKeyword bool
	rows             map[string]memoryRow
	seq              int
}

var _ ArticleStore = (*MemoryStore)(nil)

func NewMemoryStore(dimension int, uniquePerKeyword bool) *MemoryStore {
	return &MemoryStore{
		dimension:        dimension,
		uniquePerKeyword: uniquePerKeyword,
		rows:             make(map[string]memoryRow),
	}
}

func (s *MemoryStore) identity(id, keyword string) string {
	if s.uniquePerKeyword {
		return id + "\x00" + keyword
	}
	return id
}

func (s *MemoryStore) Upsert(ctx context.Context, article models.Article, keyword string, embedding []float32) (bool, error) {
	if len(embedding) != s.dimension {
		return false, fmt.Errorf("%w: got %d, store expects %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.identity(article.ID, keyword)
	if _, exists := s.rows[key]; exists {
		return true, nil
	}
	article.Keyword = keyword
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	s.seq++
	s.rows[key] = memoryRow{article: article, keyword: keyword, embedding: vec, seq: s.seq}
	return true, nil
}

// byKeyword returns the rows for keyword in insertion order. Callers hold the lock.
func (s *MemoryStore) byKeyword(keyword string) []memoryRow {
	out := []memoryRow{}
	for _, r := range s.rows {
		if r.keyword == keyword {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *MemoryStore) NearestNeighbors(ctx context.Context, query []float32, keyword string, k int) ([]Neighbor, error) {
	if k <= 0 {
		return []Neighbor{}, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, store expects %d", ErrDimensionMismatch, len(query), s.dimension)
	}
	s.mu.RLock()
	rows := s.byKeyword(keyword)
	s.mu.RUnlock()

	results := make([]Neighbor, 0, len(rows))
	for _, r := range rows {
		results = append(results, Neighbor{Article: r.article, Similarity: CosineSimilarity(query, r.embedding)})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) AllByKeyword(ctx context.Context, keyword string) ([]models.Article, error) {
	s.mu.RLock()
	rows := s.byKeyword(keyword)
	s.mu.RUnlock()

	out := make([]models.Article, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.article)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Published.After(out[j].Published) })
	return out, nil
}

func (s *MemoryStore) DeleteByKeyword(ctx context.Context, keyword string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, r := range s.rows {
		if r.keyword == keyword {
			delete(s.rows, key)
		}
	}
	return true, nil
}

func (s *MemoryStore) CountByKeyword(ctx context.Context, keyword string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rows {
		if r.keyword == keyword {
			n++
		}
	}
	return n, nil
}

// CosineSimilarity is 1 - cosine distance; zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
