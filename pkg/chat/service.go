// Package chat answers questions about collected literature with an ADK agent.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/paper-digest/pkg/config"
)

const (
	appName   = "paper-digest"
	agentName = "literature_assistant"
	userID    = "user"
)

var ErrChatDisabled = errors.New("literature assistant requires GOOGLE_API_KEY")

type Service struct {
	Agent  agent.Agent
	logger *slog.Logger
}

// StreamEvent represents a single event in the answer stream
type StreamEvent struct {
	Type    string `json:"type"` // "content", "tool_call", "tool_result", "error", "done"
	Payload any    `json:"payload"`
}

func NewService(ctx context.Context, cfg *config.Config, tools *LiteratureToolset, logger *slog.Logger) (*Service, error) {
	if cfg.GoogleApiKey == "" {
		return nil, ErrChatDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}

	modelClient, err := gemini.NewModel(ctx, cfg.ChatModel, &genai.ClientConfig{
		APIKey: cfg.GoogleApiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	assistant, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       modelClient,
		Description: "A literature assistant with access to the collected arXiv articles.",
		Instruction: Instruction,
		Toolsets:    []tool.Toolset{tools},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return &Service{Agent: assistant, logger: logger}, nil
}

// Instruction is the system prompt of the assistant.
const Instruction = "You are a literature assistant for a researcher monitoring new arXiv submissions. " +
	"Use search_articles first, and list_articles when asked what was collected. " +
	"Answer only from the retrieved titles and abstracts and never invent findings, authors or dates. " +
	"Cite every claim with the article title and its source link."

// Question formats the user turn so the agent knows which keyword scopes its tools.
func Question(question, keyword string) string {
	question = strings.TrimSpace(question)
	if keyword == "" {
		return question
	}
	return fmt.Sprintf("Keyword: %s\n\n%s", strings.TrimSpace(keyword), question)
}

// Ask runs the agent in a fresh in-memory session and streams its events.
func (s *Service) Ask(ctx context.Context, question, keyword string) (iter.Seq2[StreamEvent, error], error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question must not be empty")
	}

	sessionSvc := session.InMemoryService()
	sessionID := uuid.NewString()
	if _, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          s.Agent,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: Question(question, keyword)}},
	}

	return func(yield func(StreamEvent, error) bool) {
		s.logger.Info("Starting assistant run", "keyword", keyword)
		next := r.Run(ctx, userID, sessionID, userContent, agent.RunConfig{
			StreamingMode: agent.StreamingModeSSE,
		})

		for event, err := range next {
			if err != nil {
				s.logger.Error("Assistant runner error", "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			if event.LLMResponse.Content == nil {
				continue
			}
			for _, part := range event.LLMResponse.Content.Parts {
				if part.Text != "" {
					if !yield(StreamEvent{Type: "content", Payload: part.Text}, nil) {
						return
					}
				}
				if part.FunctionCall != nil {
					s.logger.Info("Assistant tool call", "tool", part.FunctionCall.Name)
					if !yield(StreamEvent{Type: "tool_call", Payload: part.FunctionCall}, nil) {
						return
					}
				}
				if part.FunctionResponse != nil {
					if !yield(StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}, nil) {
						return
					}
				}
			}
		}

		s.logger.Info("Assistant run completed")
		yield(StreamEvent{Type: "done", Payload: "done"}, nil)
	}, nil
}
