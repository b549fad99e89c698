package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for kb-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"development"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional cache backend)
	Redis RedisConfig `yaml:"redis"`

	// Language-model endpoints
	AI AIConfig `yaml:"ai"`

	// Response cache behavior
	Cache CacheConfig `yaml:"cache"`

	// Candidate search tuning
	Search SearchConfig `yaml:"search"`

	// Gap analysis tuning
	Gaps GapsConfig `yaml:"gaps"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"kbengine"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"kb_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds the optional Redis connection used when
// cache.backend is "redis". An empty host disables it.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// IsConfigured returns true if a Redis host is set.
func (c *RedisConfig) IsConfigured() bool {
	return c.Host != ""
}

// Supported ai.provider values.
const (
	AIProviderOpenAI    = "openai"
	AIProviderAnthropic = "anthropic"
)

// AIConfig holds the language-model endpoints the engine talks to.
// The chat provider is switchable; embeddings always come from the
// OpenAI-compatible endpoint since Anthropic offers none.
type AIConfig struct {
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`

	LLMBaseURL string `yaml:"llm_base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	LLMModel   string `yaml:"llm_model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	LLMAPIKey  string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	AnthropicModel  string `yaml:"anthropic_model" env:"ANTHROPIC_MODEL" env-default:"claude-sonnet-4-5-20250929"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML

	EmbeddingBaseURL string `yaml:"embedding_base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	EmbeddingModel   string `yaml:"embedding_model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingAPIKey  string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML

	Temperature float64 `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.2"`
	MaxWorkers  int     `yaml:"max_workers" env:"AI_MAX_WORKERS" env-default:"4"`
}

// EffectiveEmbeddingBaseURL falls back to the chat endpoint when no
// dedicated embedding endpoint is configured.
func (c *AIConfig) EffectiveEmbeddingBaseURL() string {
	if c.EmbeddingBaseURL != "" {
		return c.EmbeddingBaseURL
	}
	return c.LLMBaseURL
}

// EffectiveEmbeddingAPIKey falls back to the chat key when no dedicated
// embedding key is configured.
func (c *AIConfig) EffectiveEmbeddingAPIKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.LLMAPIKey
}

// Supported cache.backend values.
const (
	CacheBackendPostgres = "postgres"
	CacheBackendRedis    = "redis"
	CacheBackendMemory   = "memory"
)

// CacheConfig controls the model-response cache.
type CacheConfig struct {
	// Backend selects the store: "postgres", "redis" or "memory".
	Backend string `yaml:"backend" env:"CACHE_BACKEND" env-default:"postgres"`

	DefaultTTL   time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL" env-default:"1h"`
	DecisionTTL  time.Duration `yaml:"decision_ttl" env:"CACHE_DECISION_TTL" env-default:"24h"`
	EmbeddingTTL time.Duration `yaml:"embedding_ttl" env:"CACHE_EMBEDDING_TTL" env-default:"168h"`
	ExpansionTTL time.Duration `yaml:"expansion_ttl" env:"CACHE_EXPANSION_TTL" env-default:"12h"`
}

// SearchConfig tunes candidate matching.
type SearchConfig struct {
	// MinScore is the 0-100 score below which a candidate is dropped.
	MinScore int `yaml:"min_score" env:"SEARCH_MIN_SCORE" env-default:"25"`
	// DefaultTopK is used when a caller does not specify how many candidates it wants.
	DefaultTopK int `yaml:"default_top_k" env:"SEARCH_DEFAULT_TOP_K" env-default:"5"`
	// EnableExpansion controls the cached query-expansion model call.
	EnableExpansion bool `yaml:"enable_expansion" env:"SEARCH_ENABLE_EXPANSION" env-default:"true"`
}

// GapsConfig tunes the search log and gap detection.
type GapsConfig struct {
	// MaxLogEntries bounds the search log; oldest rows are evicted first.
	MaxLogEntries int `yaml:"max_log_entries" env:"GAPS_MAX_LOG_ENTRIES" env-default:"1000"`
	// HighThreshold and MediumThreshold map failure frequency to priority.
	HighThreshold   int `yaml:"high_threshold" env:"GAPS_HIGH_THRESHOLD" env-default:"3"`
	MediumThreshold int `yaml:"medium_threshold" env:"GAPS_MEDIUM_THRESHOLD" env-default:"2"`
	// DefaultWindowDays is the analysis window when a caller gives none.
	DefaultWindowDays int `yaml:"default_window_days" env:"GAPS_DEFAULT_WINDOW_DAYS" env-default:"30"`
}

// Load reads configuration from config.yaml with environment variable
// overrides, falling back to environment-only when no file exists.
// The version parameter is injected at build time and set on the returned
// Config. Secrets (PGPASSWORD, LLM_API_KEY, ANTHROPIC_API_KEY,
// EMBEDDING_API_KEY, REDIS_PASSWORD) must come from environment variables
// (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	switch c.AI.Provider {
	case AIProviderOpenAI, AIProviderAnthropic:
	default:
		return fmt.Errorf("unknown ai.provider %q (want openai or anthropic)", c.AI.Provider)
	}

	switch c.Cache.Backend {
	case CacheBackendPostgres, CacheBackendMemory:
	case CacheBackendRedis:
		if !c.Redis.IsConfigured() {
			return fmt.Errorf("cache.backend is redis but no redis host is configured")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q (want postgres, redis or memory)", c.Cache.Backend)
	}

	if c.Gaps.HighThreshold < c.Gaps.MediumThreshold {
		return fmt.Errorf("gaps.high_threshold (%d) must be >= gaps.medium_threshold (%d)",
			c.Gaps.HighThreshold, c.Gaps.MediumThreshold)
	}

	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}
