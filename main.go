package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/cache"
	"github.com/dealerdesk/kb-engine/pkg/config"
	"github.com/dealerdesk/kb-engine/pkg/database"
	"github.com/dealerdesk/kb-engine/pkg/handlers"
	"github.com/dealerdesk/kb-engine/pkg/llm"
	"github.com/dealerdesk/kb-engine/pkg/mcp"
	"github.com/dealerdesk/kb-engine/pkg/mcp/tools"
	"github.com/dealerdesk/kb-engine/pkg/middleware"
	"github.com/dealerdesk/kb-engine/pkg/repositories"
	"github.com/dealerdesk/kb-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("db_host", cfg.Database.Host),
		zap.Int("db_port", cfg.Database.Port),
		zap.String("db_name", cfg.Database.Database),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	ctx := context.Background()

	// Database
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis is optional; nil when no host is configured.
	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// LLM access and result cache
	llmFactory := llm.NewClientFactory(&cfg.AI, logger)
	cacheStore, err := cache.NewStore(&cfg.Cache, db.Pool, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache store", zap.Error(err))
	}

	// Repositories
	articleRepo := repositories.NewArticleRepository(db.Pool)
	searchLogRepo := repositories.NewSearchLogRepository(db.Pool)

	// Services
	workerPool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.AI.MaxWorkers}, logger)
	circuitBreaker := llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())

	gapService := services.NewGapService(searchLogRepo, &cfg.Gaps, logger)
	matcherService := services.NewMatcherService(articleRepo, gapService, llmFactory, cacheStore, workerPool, cfg, logger)
	judge := services.NewDecisionService(llmFactory, cacheStore, circuitBreaker, cfg, logger)
	resolutionService := services.NewResolutionService(articleRepo, judge, logger)

	// HTTP routes
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewSearchHandler(matcherService, logger).RegisterRoutes(mux)
	handlers.NewResolutionHandler(resolutionService, articleRepo, logger).RegisterRoutes(mux)
	handlers.NewArticleHandler(articleRepo, logger).RegisterRoutes(mux)
	handlers.NewGapHandler(gapService, logger).RegisterRoutes(mux)
	handlers.NewCacheHandler(cacheStore, logger).RegisterRoutes(mux)

	// MCP server for agent access, served over streamable HTTP at /mcp
	mcpServer := mcp.NewServer("kb-engine", cfg.Version, logger)
	tools.RegisterKBTools(mcpServer.MCP(), &tools.KBToolDeps{
		MatcherService: matcherService,
		GapService:     gapService,
		Logger:         logger,
	})
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version)
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(mcpServer.Handler()))

	handler := middleware.RequestLogger(logger)(mux)
	addr := cfg.BindAddr + ":" + cfg.Port

	logger.Info("Starting kb-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version),
		zap.Bool("tls", cfg.TLSCertPath != ""),
	)

	if cfg.TLSCertPath != "" {
		err = http.ListenAndServeTLS(addr, cfg.TLSCertPath, cfg.TLSKeyPath, handler)
	} else {
		err = http.ListenAndServe(addr, handler)
	}
	if err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// newLogger builds the process logger. Development gets human-readable
// console output; everything else logs production JSON.
func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopmentConfig().Build()
	}
	return zap.NewProductionConfig().Build()
}

// runMigrations applies pending schema migrations over a short-lived
// database/sql connection, which is what golang-migrate expects.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	migrateCfg := cfg.Database
	migrateCfg.Host = config.ResolveHostForDocker(migrateCfg.Host)

	migrationDB, err := sql.Open("pgx", migrateCfg.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = migrationDB.Close() }()

	return database.RunMigrations(migrationDB, "migrations", logger)
}
