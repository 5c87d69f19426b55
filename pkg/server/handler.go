package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/paper-digest/pkg/chat"
	"github.com/mikeboe/paper-digest/pkg/config"
	"github.com/mikeboe/paper-digest/pkg/research"
	"github.com/mikeboe/paper-digest/pkg/vectorstore"
)

// Asker streams an assistant answer about stored articles.
type Asker interface {
	Ask(ctx context.Context, question, keyword string) (iter.Seq2[chat.StreamEvent, error], error)
}

type Handler struct {
	Service    *Service
	Store      vectorstore.ArticleStore
	Chat       Asker
	MCP        *mcp.Server
	Config     *config.Config
	Health     func(ctx context.Context) error
	ReportsDir string
}

func NewHandler(s *Service, store vectorstore.ArticleStore, cfg *config.Config) *Handler {
	return &Handler{Service: s, Store: store, Config: cfg, ReportsDir: cfg.ReportsDir}
}

// NewRouter builds the gin engine with CORS and every route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders: []string{"Content-Length", "Mcp-Session-Id"},
	}))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.index)
	r.GET("/health", h.health)
	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(MCPHandler(h.MCP)))
	}

	api := r.Group("/api")
	{
		api.POST("/search", h.search)
		api.GET("/config", h.showConfig)

		api.GET("/runs", h.listRuns)
		api.GET("/runs/:id", h.getRun)
		api.GET("/runs/:id/logs", h.getRunLogs)

		api.GET("/articles", h.listArticles)
		api.DELETE("/articles", h.deleteArticles)

		api.GET("/reports/:name", h.downloadReport)
		api.POST("/ask", h.ask)
	}
}

func (h *Handler) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":   "paper-digest",
		"status": "ok",
		"endpoints": []string{
			"POST /api/search",
			"GET /api/runs",
			"GET /api/articles?keyword=",
			"GET /api/reports/:name",
			"POST /api/ask",
			"/mcp",
		},
	})
}

func (h *Handler) health(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) showConfig(c *gin.Context) {
	cfg := h.Config
	c.JSON(http.StatusOK, gin.H{
		"llm_provider":         cfg.LLMProvider,
		"llm_configured":       cfg.LLMConfigured(),
		"openai_model":         cfg.OpenAIModel,
		"fast_model":           cfg.FastModel,
		"embedding_provider":   cfg.EmbeddingProvider,
		"embedding_model":      cfg.EmbeddingModel,
		"embedding_dimension":  cfg.EmbeddingDimension,
		"vector_store":         cfg.VectorStore,
		"unique_per_keyword":   cfg.UniquePerKeyword,
		"max_articles_default": cfg.MaxArticlesDefault,
		"max_articles_limit":   config.MaxArticlesCeiling,
		"top_k_retrieval":      cfg.TopKRetrieval,
		"summary_concurrency":  cfg.SummaryConcurrency,
		"run_timeout":          cfg.RunTimeout.String(),
		"use_mcp_arxiv":        cfg.UseMCPArxiv,
		"assistant_enabled":    h.Chat != nil,
	})
}

func (h *Handler) search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Service.Run(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, research.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, research.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "run_id": result.RunID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run_id": result.RunID})
	}
}

func (h *Handler) listRuns(c *gin.Context) {
	runs, err := h.Service.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Return empty list instead of null
	if runs == nil {
		runs = []Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) getRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	run, err := h.Service.GetRun(c.Request.Context(), id)
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) getRunLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	logs, err := h.Service.GetRunLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) listArticles(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keyword query parameter is required"})
		return
	}

	articles, err := h.Store.AllByKeyword(c.Request.Context(), keyword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keyword": keyword, "count": len(articles), "articles": articles})
}

func (h *Handler) deleteArticles(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keyword query parameter is required"})
		return
	}

	deleted, err := h.Store.DeleteByKeyword(c.Request.Context(), keyword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keyword": keyword, "deleted": deleted})
}

func (h *Handler) downloadReport(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".pdf") || strings.HasPrefix(name, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report name"})
		return
	}

	path := filepath.Join(h.ReportsDir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.FileAttachment(path, name)
}

type askRequest struct {
	Question string `json:"question"`
	Keyword  string `json:"keyword"`
}

func (h *Handler) ask(c *gin.Context) {
	if h.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": chat.ErrChatDisabled.Error()})
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	next, err := h.Chat.Ask(c.Request.Context(), req.Question, req.Keyword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	for event, err := range next {
		if err != nil {
			writeEvent(c, chat.StreamEvent{Type: "error", Payload: err.Error()})
			return
		}
		if !writeEvent(c, event) {
			return
		}
	}
}

// writeEvent sends one SSE frame and reports false once the client is gone.
func writeEvent(c *gin.Context, event chat.StreamEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	if _, err := c.Writer.Write(frame); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
