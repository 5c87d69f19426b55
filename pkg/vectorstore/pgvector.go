package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mikeboe/paper-digest/pkg/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var articleColumns = []string{"external_id", "title", "authors", "abstract", "published", "pdf_url", "categories", "keyword"}

// PGVectorStore keeps articles in a pgvector table. Each call borrows its own pooled connection.
type PGVectorStore struct {
	pool             *pgxpool.Pool
	tableName        string
	dimension        int
	uniquePerKeyword bool
}

// NewPGVectorStore creates a store over an existing articles table
func NewPGVectorStore(pool *pgxpool.Pool, tableName string, dimension int, uniquePerKeyword bool) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	return &PGVectorStore{
		pool:             pool,
		tableName:        tableName,
		dimension:        dimension,
		uniquePerKeyword: uniquePerKeyword,
	}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

func (vs *PGVectorStore) conflictTarget() string {
	if vs.uniquePerKeyword {
		return "(external_id, keyword)"
	}
	return "(external_id)"
}

func (vs *PGVectorStore) buildUpsert(a models.Article, keyword string, embedding []float32) (string, []any, error) {
	authors, err := json.Marshal(a.Authors)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal authors: %w", err)
	}
	categories, err := json.Marshal(a.Categories)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal categories: %w", err)
	}
	var published any
	if !a.Published.IsZero() {
		published = a.Published
	}

	return psql.Insert(vs.table()).
		Columns(append(articleColumns, "embedding")...).
		Values(a.ID, a.Title, authors, a.Abstract, published, a.PDFURL, categories, keyword, pgvector.NewVector(embedding)).
		Suffix("ON CONFLICT " + vs.conflictTarget() + " DO NOTHING").
		ToSql()
}

func (vs *PGVectorStore) Upsert(ctx context.Context, article models.Article, keyword string, embedding []float32) (bool, error) {
	if len(embedding) != vs.dimension {
		return false, fmt.Errorf("%w: got %d, table expects %d", ErrDimensionMismatch, len(embedding), vs.dimension)
	}
	query, args, err := vs.buildUpsert(article, keyword, embedding)
	if err != nil {
		return false, err
	}
	if _, err := vs.pool.Exec(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to store article %s: %w", article.ID, err)
	}
	return true, nil
}

func (vs *PGVectorStore) buildNearest(query []float32, keyword string, k int) (string, []any, error) {
	vec := pgvector.NewVector(query)
	return psql.Select(articleColumns...).
		Column(sq.Expr("1 - (embedding <=> ?) AS similarity", vec)).
		From(vs.table()).
		Where(sq.Eq{"keyword": keyword}).
		OrderByClause("embedding <=> ?", vec).
		Limit(uint64(k)).
		ToSql()
}

func (vs *PGVectorStore) NearestNeighbors(ctx context.Context, query []float32, keyword string, k int) ([]Neighbor, error) {
	if k <= 0 {
		return []Neighbor{}, nil
	}
	if len(query) != vs.dimension {
		return nil, fmt.Errorf("%w: got %d, table expects %d", ErrDimensionMismatch, len(query), vs.dimension)
	}
	sqlStr, args, err := vs.buildNearest(query, keyword, k)
	if err != nil {
		return nil, err
	}

	rows, err := vs.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	results := []Neighbor{}
	for rows.Next() {
		var n Neighbor
		var sc articleScan
		if err := rows.Scan(append(sc.targets(), &n.Similarity)...); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		if n.Article, err = sc.article(); err != nil {
			return nil, err
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

func (vs *PGVectorStore) buildAll(keyword string) (string, []any, error) {
	return psql.Select(articleColumns...).
		From(vs.table()).
		Where(sq.Eq{"keyword": keyword}).
		OrderBy("published DESC NULLS LAST", "id ASC").
		ToSql()
}

func (vs *PGVectorStore) AllByKeyword(ctx context.Context, keyword string) ([]models.Article, error) {
	sqlStr, args, err := vs.buildAll(keyword)
	if err != nil {
		return nil, err
	}
	rows, err := vs.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	articles := []models.Article{}
	for rows.Next() {
		var sc articleScan
		if err := rows.Scan(sc.targets()...); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		a, err := sc.article()
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (vs *PGVectorStore) DeleteByKeyword(ctx context.Context, keyword string) (bool, error) {
	sqlStr, args, err := psql.Delete(vs.table()).Where(sq.Eq{"keyword": keyword}).ToSql()
	if err != nil {
		return false, err
	}
	if _, err := vs.pool.Exec(ctx, sqlStr, args...); err != nil {
		return false, fmt.Errorf("failed to delete articles for %q: %w", keyword, err)
	}
	return true, nil
}

func (vs *PGVectorStore) CountByKeyword(ctx context.Context, keyword string) (int, error) {
	sqlStr, args, err := psql.Select("COUNT(*)").From(vs.table()).Where(sq.Eq{"keyword": keyword}).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := vs.pool.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count articles for %q: %w", keyword, err)
	}
	return n, nil
}

// articleScan holds the raw column values of one articles row.
type articleScan struct {
	id         string
	title      string
	authors    []byte
	abstract   string
	published  *time.Time
	pdfURL     string
	categories []byte
	keyword    string
}

func (s *articleScan) targets() []any {
	return []any{&s.id, &s.title, &s.authors, &s.abstract, &s.published, &s.pdfURL, &s.categories, &s.keyword}
}

func (s *articleScan) article() (models.Article, error) {
	var authors, categories []string
	if len(s.authors) > 0 {
		if err := json.Unmarshal(s.authors, &authors); err != nil {
			return models.Article{}, fmt.Errorf("failed to unmarshal authors of %s: %w", s.id, err)
		}
	}
	if len(s.categories) > 0 {
		if err := json.Unmarshal(s.categories, &categories); err != nil {
			return models.Article{}, fmt.Errorf("failed to unmarshal categories of %s: %w", s.id, err)
		}
	}
	var published time.Time
	if s.published != nil {
		published = *s.published
	}
	return models.NewArticle(s.id, s.title, authors, s.abstract, published, s.pdfURL, categories, s.keyword)
}
