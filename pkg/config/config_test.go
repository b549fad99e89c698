package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdirTemp moves the test into an empty temp directory so Load() does not
// pick up a stray config.yaml from the repo root.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
	return tmpDir
}

func clearEngineEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"PGHOST", "PGPORT", "PGUSER", "PGDATABASE", "PORT", "ENVIRONMENT",
		"AI_PROVIDER", "CACHE_BACKEND", "REDIS_HOST",
		"GAPS_HIGH_THRESHOLD", "GAPS_MEDIUM_THRESHOLD",
	} {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	clearEngineEnv(t)

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.Port != "8090" {
		t.Errorf("expected default Port=8090, got %s", cfg.Port)
	}
	if cfg.AI.Provider != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.AI.Provider)
	}
	if cfg.Cache.Backend != "postgres" {
		t.Errorf("expected default cache backend postgres, got %s", cfg.Cache.Backend)
	}
	if cfg.Cache.DecisionTTL != 24*time.Hour {
		t.Errorf("expected decision TTL 24h, got %s", cfg.Cache.DecisionTTL)
	}
	if cfg.Cache.ExpansionTTL != 12*time.Hour {
		t.Errorf("expected expansion TTL 12h, got %s", cfg.Cache.ExpansionTTL)
	}
	if cfg.Search.MinScore != 25 {
		t.Errorf("expected min score 25, got %d", cfg.Search.MinScore)
	}
	if cfg.Gaps.MaxLogEntries != 1000 {
		t.Errorf("expected max log entries 1000, got %d", cfg.Gaps.MaxLogEntries)
	}
	if cfg.Gaps.HighThreshold != 3 || cfg.Gaps.MediumThreshold != 2 {
		t.Errorf("expected thresholds 3/2, got %d/%d", cfg.Gaps.HighThreshold, cfg.Gaps.MediumThreshold)
	}
	if cfg.Redis.IsConfigured() {
		t.Error("expected redis unconfigured by default")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	tmpDir := chdirTemp(t)
	clearEngineEnv(t)

	yamlContent := `
port: "8090"
env: "test"
database:
  host: "db.example.com"
  user: "kbuser"
search:
  min_score: 40
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("PORT", "9100")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("v1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("expected Port=9100 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Search.MinScore != 40 {
		t.Errorf("expected MinScore=40 (from yaml), got %d", cfg.Search.MinScore)
	}
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	chdirTemp(t)
	clearEngineEnv(t)
	t.Setenv("AI_PROVIDER", "cohere")

	if _, err := Load("v1"); err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
}

func TestLoad_RejectsRedisBackendWithoutHost(t *testing.T) {
	chdirTemp(t)
	clearEngineEnv(t)
	t.Setenv("CACHE_BACKEND", "redis")

	if _, err := Load("v1"); err == nil {
		t.Fatal("expected error for redis backend without host, got nil")
	}
}

func TestLoad_RedisBackendWithHost(t *testing.T) {
	chdirTemp(t)
	clearEngineEnv(t)
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_HOST", "redis.example.com")

	cfg, err := Load("v1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !cfg.Redis.IsConfigured() {
		t.Error("expected redis configured")
	}
}

func TestLoad_RejectsInvertedGapThresholds(t *testing.T) {
	chdirTemp(t)
	clearEngineEnv(t)
	t.Setenv("GAPS_HIGH_THRESHOLD", "1")
	t.Setenv("GAPS_MEDIUM_THRESHOLD", "5")

	if _, err := Load("v1"); err == nil {
		t.Fatal("expected error for high < medium thresholds, got nil")
	}
}

func TestEffectiveEmbeddingFallbacks(t *testing.T) {
	ai := AIConfig{
		LLMBaseURL: "https://llm.example.com/v1",
		LLMAPIKey:  "chat-key",
	}
	if got := ai.EffectiveEmbeddingBaseURL(); got != "https://llm.example.com/v1" {
		t.Errorf("expected fallback to chat endpoint, got %s", got)
	}
	if got := ai.EffectiveEmbeddingAPIKey(); got != "chat-key" {
		t.Errorf("expected fallback to chat key, got %s", got)
	}

	ai.EmbeddingBaseURL = "https://embed.example.com/v1"
	ai.EmbeddingAPIKey = "embed-key"
	if got := ai.EffectiveEmbeddingBaseURL(); got != "https://embed.example.com/v1" {
		t.Errorf("expected dedicated endpoint, got %s", got)
	}
	if got := ai.EffectiveEmbeddingAPIKey(); got != "embed-key" {
		t.Errorf("expected dedicated key, got %s", got)
	}
}
