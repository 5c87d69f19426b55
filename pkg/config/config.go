package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxArticlesCeiling is the hard cap imposed by the arXiv search backend.
	MaxArticlesCeiling = 50

	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	DatabaseURL string `yaml:"database_url"`
	DBHost      string `yaml:"db_host"`
	DBPort      string `yaml:"db_port"`
	DBName      string `yaml:"db_name"`
	DBUser      string `yaml:"db_user"`
	DBPassword  string `yaml:"db_password"`

	LLMProvider   string `yaml:"llm_provider"`
	OpenAIApiKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_api_base"`
	OpenAIModel   string `yaml:"openai_model"`
	GoogleApiKey  string `yaml:"google_api_key"`
	FastModel     string `yaml:"fast_model"`
	ChatModel     string `yaml:"chat_model"`

	EmbeddingProvider  string        `yaml:"embedding_provider"`
	EmbeddingModel     string        `yaml:"embedding_model"`
	EmbeddingDimension int           `yaml:"embedding_dimension"`
	RedisURL           string        `yaml:"redis_url"`
	EmbeddingCacheTTL  time.Duration `yaml:"embedding_cache_ttl"`

	VectorStore      string `yaml:"vector_store"`
	ArticlesTable    string `yaml:"articles_table"`
	UniquePerKeyword bool   `yaml:"unique_per_keyword"`

	MaxArticlesDefault int           `yaml:"max_articles_default"`
	TopKRetrieval      int           `yaml:"top_k_retrieval"`
	SummaryConcurrency int           `yaml:"summary_concurrency"`
	RunTimeout         time.Duration `yaml:"run_timeout"`

	UseMCPArxiv      bool   `yaml:"use_mcp_arxiv"`
	MCPServerCommand string `yaml:"mcp_server_command"`

	ReportsDir     string `yaml:"reports_dir"`
	ReportS3Bucket string `yaml:"report_s3_bucket"`
	ReportS3Prefix string `yaml:"report_s3_prefix"`

	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// Load reads the configuration from the environment. When CONFIG_FILE names a
// YAML file, values set there override the environment.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBName:      getEnv("DB_NAME", "paper_digest"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),

		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		OpenAIApiKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_API_BASE", "https://openrouter.ai/api/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "x-ai/grok-4.1-fast:free"),
		GoogleApiKey:  getEnv("GOOGLE_API_KEY", ""),
		FastModel:     getEnv("FAST_MODEL", "gemini-3-flash-preview"),
		ChatModel:     getEnv("CHAT_MODEL", "gemini-3-pro-preview"),

		EmbeddingProvider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI)),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "openai/text-embedding-3-small"),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
		RedisURL:           getEnv("REDIS_URL", ""),
		EmbeddingCacheTTL:  getEnvAsDuration("EMBEDDING_CACHE_TTL", 7*24*time.Hour),

		VectorStore:      strings.ToLower(getEnv("VECTOR_STORE", StorePostgres)),
		ArticlesTable:    getEnv("ARTICLES_TABLE", "articles"),
		UniquePerKeyword: getEnvAsBool("UNIQUE_PER_KEYWORD", false),

		MaxArticlesDefault: getEnvAsInt("MAX_ARTICLES_DEFAULT", 10),
		TopKRetrieval:      getEnvAsInt("TOP_K_RETRIEVAL", 3),
		SummaryConcurrency: getEnvAsInt("SUMMARY_CONCURRENCY", 1),
		RunTimeout:         getEnvAsDuration("RUN_TIMEOUT", 300*time.Second),

		UseMCPArxiv:      getEnvAsBool("USE_MCP_ARXIV", false),
		MCPServerCommand: getEnv("MCP_SERVER_COMMAND", "arxiv-mcp"),

		ReportsDir:     getEnv("REPORTS_DIR", "reports"),
		ReportS3Bucket: getEnv("REPORT_S3_BUCKET", ""),
		ReportS3Prefix: getEnv("REPORT_S3_PREFIX", "reports/"),

		Port:     getEnv("PORT", "8000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// UnmarshalYAML reads bare integers in duration fields as seconds, like the environment does.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, v := value.Content[i], value.Content[i+1]
			if (key.Value == "run_timeout" || key.Value == "embedding_cache_ttl") &&
				v.Kind == yaml.ScalarNode && v.ShortTag() == "!!int" {
				v.Value += "s"
				v.Tag = "!!str"
			}
		}
	}
	type plain Config
	return value.Decode((*plain)(c))
}

// Validate clamps numeric settings into usable ranges and rejects unknown providers.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderGoogleAI:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}
	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderGoogleAI:
	default:
		return fmt.Errorf("unsupported EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	switch c.VectorStore {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unsupported VECTOR_STORE %q", c.VectorStore)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.MaxArticlesDefault < 1 {
		c.MaxArticlesDefault = 1
	}
	if c.MaxArticlesDefault > MaxArticlesCeiling {
		c.MaxArticlesDefault = MaxArticlesCeiling
	}
	if c.TopKRetrieval <= 0 {
		c.TopKRetrieval = 3
	}
	if c.SummaryConcurrency <= 0 {
		c.SummaryConcurrency = 1
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 300 * time.Second
	}
	return nil
}

// DSN returns DATABASE_URL when set, otherwise a URL assembled from the DB_* fields.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// LLMConfigured reports whether the selected LLM backend has credentials.
func (c *Config) LLMConfigured() bool {
	if c.LLMProvider == ProviderGoogleAI {
		return c.GoogleApiKey != ""
	}
	return c.OpenAIApiKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
