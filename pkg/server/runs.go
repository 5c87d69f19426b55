package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	listRunsLimit = 50
)

var ErrRunNotFound = errors.New("run not found")

type Run struct {
	ID          uuid.UUID       `json:"id"`
	Keyword     string          `json:"keyword"`
	MaxArticles int             `json:"max_articles"`
	Status      string          `json:"status"`
	Stage       string          `json:"stage"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// LogSink stores one log line of a run.
type LogSink interface {
	AppendLog(ctx context.Context, runID uuid.UUID, entry LogEntry) error
}

// RunRepository persists the history of digest runs and their logs.
type RunRepository interface {
	LogSink
	CreateRun(ctx context.Context, keyword string, maxArticles int) (*Run, error)
	UpdateStage(ctx context.Context, id uuid.UUID, stage string) error
	FinishRun(ctx context.Context, id uuid.UUID, status string, result json.RawMessage, errMsg string) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	GetRunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
}

// PostgresRuns stores runs in the digest_runs and digest_run_logs tables.
type PostgresRuns struct {
	Pool *pgxpool.Pool
}

func NewPostgresRuns(pool *pgxpool.Pool) *PostgresRuns {
	return &PostgresRuns{Pool: pool}
}

func (r *PostgresRuns) CreateRun(ctx context.Context, keyword string, maxArticles int) (*Run, error) {
	query := `
		INSERT INTO digest_runs (id, keyword, max_articles, status)
		VALUES ($1, $2, $3, 'running')
		RETURNING id, keyword, max_articles, status, stage, created_at, updated_at
	`
	run := &Run{}
	err := r.Pool.QueryRow(ctx, query, uuid.New(), keyword, maxArticles).Scan(
		&run.ID, &run.Keyword, &run.MaxArticles, &run.Status, &run.Stage, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (r *PostgresRuns) UpdateStage(ctx context.Context, id uuid.UUID, stage string) error {
	_, err := r.Pool.Exec(ctx, "UPDATE digest_runs SET stage = $2, updated_at = NOW() WHERE id = $1", id, stage)
	if err != nil {
		return fmt.Errorf("failed to update run stage: %w", err)
	}
	return nil
}

func (r *PostgresRuns) FinishRun(ctx context.Context, id uuid.UUID, status string, result json.RawMessage, errMsg string) error {
	var errCol *string
	if errMsg != "" {
		errCol = &errMsg
	}
	_, err := r.Pool.Exec(ctx,
		"UPDATE digest_runs SET status = $2, result = $3, error = $4, updated_at = NOW() WHERE id = $1",
		id, status, []byte(result), errCol)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (r *PostgresRuns) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, keyword, max_articles, status, stage, result, error, created_at, updated_at
		FROM digest_runs
		WHERE id = $1
	`
	run := &Run{}
	err := r.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Keyword, &run.MaxArticles, &run.Status, &run.Stage, &run.Result, &run.Error, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *PostgresRuns) ListRuns(ctx context.Context) ([]Run, error) {
	query := `
		SELECT id, keyword, max_articles, status, stage, error, created_at, updated_at
		FROM digest_runs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.Pool.Query(ctx, query, listRunsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Keyword, &run.MaxArticles, &run.Status, &run.Stage, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *PostgresRuns) AppendLog(ctx context.Context, runID uuid.UUID, entry LogEntry) error {
	query := `
		INSERT INTO digest_run_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.Pool.Exec(ctx, query, runID, entry.Timestamp, entry.Level, entry.Message, []byte(entry.Metadata))
	return err
}

func (r *PostgresRuns) GetRunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM digest_run_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := r.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// MemoryRuns keeps run history in process, for the in-memory store mode and tests.
type MemoryRuns struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
	logs map[uuid.UUID][]LogEntry
	now  func() time.Time
}

func NewMemoryRuns() *MemoryRuns {
	return &MemoryRuns{
		runs: make(map[uuid.UUID]*Run),
		logs: make(map[uuid.UUID][]LogEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRuns) CreateRun(ctx context.Context, keyword string, maxArticles int) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	run := &Run{
		ID:          uuid.New(),
		Keyword:     keyword,
		MaxArticles: maxArticles,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.runs[run.ID] = run
	out := *run
	return &out, nil
}

func (m *MemoryRuns) UpdateStage(ctx context.Context, id uuid.UUID, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Stage = stage
	run.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRuns) FinishRun(ctx context.Context, id uuid.UUID, status string, result json.RawMessage, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	run.Result = append(json.RawMessage(nil), result...)
	run.Error = nil
	if errMsg != "" {
		msg := errMsg
		run.Error = &msg
	}
	run.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRuns) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := *run
	return &out, nil
}

func (m *MemoryRuns) ListRuns(ctx context.Context) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]Run, 0, len(m.runs))
	for _, run := range m.runs {
		out := *run
		out.Result = nil
		runs = append(runs, out)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if len(runs) > listRunsLimit {
		runs = runs[:listRunsLimit]
	}
	return runs, nil
}

func (m *MemoryRuns) AppendLog(ctx context.Context, runID uuid.UUID, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrRunNotFound
	}
	entry.ID = len(m.logs[runID]) + 1
	m.logs[runID] = append(m.logs[runID], entry)
	return nil
}

func (m *MemoryRuns) GetRunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := make([]LogEntry, len(m.logs[id]))
	copy(logs, m.logs[id])
	return logs, nil
}
