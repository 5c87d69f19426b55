package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdentityConflict is returned when stored rows violate the requested identity mode.
var ErrIdentityConflict = errors.New("stored articles conflict with identity mode")

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresDB wraps the database connection pool
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	db.Pool.Close()
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// EnsureVectorExtension ensures the pgvector extension is installed
func (db *PostgresDB) EnsureVectorExtension(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	return err
}

// ArticlesTableOptions controls the shape of the articles table.
type ArticlesTableOptions struct {
	Name      string
	Dimension int
	// UniquePerKeyword makes (external_id, keyword) the row identity instead of external_id alone.
	UniquePerKeyword bool
}

// CreateArticlesTable creates the article table, its similarity index and its identity index.
func (db *PostgresDB) CreateArticlesTable(ctx context.Context, opts ArticlesTableOptions) error {
	for _, stmt := range ArticlesTableDDL(opts) {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: table %s holds duplicate %s (set UNIQUE_PER_KEYWORD=%t or clear it): %v",
					ErrIdentityConflict, opts.Name, identityColumns(opts.UniquePerKeyword), !opts.UniquePerKeyword, err)
			}
			return fmt.Errorf("failed to prepare table %s: %w", opts.Name, err)
		}
	}
	return nil
}

// ArticlesTableDDL returns the statements CreateArticlesTable runs, in order.
// The identity index of the current mode is created before the other mode's index is dropped,
// so a failed switch leaves the previous identity in place.
func ArticlesTableDDL(opts ArticlesTableOptions) []string {
	table := pgx.Identifier{opts.Name}.Sanitize()

	stmts := []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			external_id TEXT NOT NULL,
			title TEXT NOT NULL,
			authors JSONB NOT NULL DEFAULT '[]'::jsonb,
			abstract TEXT NOT NULL DEFAULT '',
			published DATE,
			pdf_url TEXT NOT NULL DEFAULT '',
			categories JSONB NOT NULL DEFAULT '[]'::jsonb,
			keyword TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, table, opts.Dimension)}

	// HNSW supports up to 2000 dimensions; above that searches fall back to exact scans.
	if opts.Dimension <= 2000 {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pgx.Identifier{opts.Name + "_embedding_idx"}.Sanitize(), table))
	}

	stmts = append(stmts, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (keyword)",
		pgx.Identifier{opts.Name + "_keyword_idx"}.Sanitize(), table))

	stmts = append(stmts,
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s %s",
			identityIndex(opts.Name, opts.UniquePerKeyword), table, identityColumns(opts.UniquePerKeyword)),
		fmt.Sprintf("DROP INDEX IF EXISTS %s", identityIndex(opts.Name, !opts.UniquePerKeyword)),
	)
	return stmts
}

func identityIndex(table string, perKeyword bool) string {
	if perKeyword {
		return pgx.Identifier{table + "_external_id_keyword_key"}.Sanitize()
	}
	return pgx.Identifier{table + "_external_id_key"}.Sanitize()
}

func identityColumns(perKeyword bool) string {
	if perKeyword {
		return "(external_id, keyword)"
	}
	return "(external_id)"
}
