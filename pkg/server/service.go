package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/paper-digest/pkg/logging"
	"github.com/mikeboe/paper-digest/pkg/models"
	"github.com/mikeboe/paper-digest/pkg/research"
)

// Runner executes one digest run.
type Runner interface {
	Run(ctx context.Context, req research.Request) (models.RunResult, error)
}

type Service struct {
	Pipeline           Runner
	Runs               RunRepository
	Logger             *slog.Logger
	MaxArticlesDefault int
}

func NewService(pipeline Runner, runs RunRepository, logger *slog.Logger, maxArticlesDefault int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Pipeline:           pipeline,
		Runs:               runs,
		Logger:             logger,
		MaxArticlesDefault: maxArticlesDefault,
	}
}

type SearchRequest struct {
	Keyword     string `json:"keyword"`
	MaxArticles *int   `json:"max_articles"`
}

// Request turns the API payload into a validated pipeline request.
func (s *Service) Request(req SearchRequest) (research.Request, error) {
	limit := s.MaxArticlesDefault
	if req.MaxArticles != nil {
		limit = *req.MaxArticles
	}
	return research.Request{Keyword: req.Keyword, MaxArticles: limit}.Validate()
}

// Run validates the request, records the run and executes the pipeline
// synchronously. Stage changes and run logs are persisted as they happen.
func (s *Service) Run(ctx context.Context, in SearchRequest) (models.RunResult, error) {
	req, err := s.Request(in)
	if err != nil {
		return models.RunResult{}, err
	}

	run, err := s.Runs.CreateRun(ctx, req.Keyword, req.MaxArticles)
	if err != nil {
		s.Logger.Error("Failed to record run, continuing without history", "keyword", req.Keyword, "error", err)
		return s.Pipeline.Run(ctx, req)
	}

	persistCtx := context.WithoutCancel(ctx)
	runLogger := slog.New(logging.NewFanOut(s.Logger.Handler(), NewDBLogHandler(s.Runs, run.ID)))

	req.RunID = run.ID.String()
	req.Logger = runLogger
	req.OnStage = func(e research.StageEvent) {
		if err := s.Runs.UpdateStage(persistCtx, run.ID, string(e.Stage)); err != nil {
			s.Logger.Error("Failed to save run stage", "run_id", run.ID, "error", err)
		}
	}

	result, runErr := s.Pipeline.Run(ctx, req)
	s.finish(persistCtx, run.ID, result, runErr)
	return result, runErr
}

func (s *Service) finish(ctx context.Context, id uuid.UUID, result models.RunResult, runErr error) {
	status := StatusCompleted
	if runErr != nil || !result.Success {
		status = StatusFailed
	}
	errMsg := result.Error
	if runErr != nil {
		errMsg = runErr.Error()
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		s.Logger.Error("Failed to marshal run result", "run_id", id, "error", err)
		resultJSON = nil
	}
	if err := s.Runs.FinishRun(ctx, id, status, resultJSON, errMsg); err != nil {
		s.Logger.Error("Failed to save run result", "run_id", id, "error", err)
	}
}

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.Runs.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context) ([]Run, error) {
	return s.Runs.ListRuns(ctx)
}

func (s *Service) GetRunLogs(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	return s.Runs.GetRunLogs(ctx, id)
}
