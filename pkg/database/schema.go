package database

import (
	"context"
	"fmt"
)

// InitSchema creates the run history tables and the articles table.
func (db *PostgresDB) InitSchema(ctx context.Context, articles ArticlesTableOptions) error {
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}

	if err := db.CreateArticlesTable(ctx, articles); err != nil {
		return err
	}

	runsQuery := `
		CREATE TABLE IF NOT EXISTS digest_runs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			keyword TEXT NOT NULL,
			max_articles INT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			stage TEXT NOT NULL DEFAULT '',
			result JSONB,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, runsQuery); err != nil {
		return fmt.Errorf("failed to create digest_runs table: %w", err)
	}

	logsQuery := `
		CREATE TABLE IF NOT EXISTS digest_run_logs (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES digest_runs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create digest_run_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_digest_run_logs_run_id ON digest_run_logs(run_id)"); err != nil {
		return fmt.Errorf("failed to create index on digest_run_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_digest_runs_created_at ON digest_runs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on digest_runs: %w", err)
	}

	return nil
}
