package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/config"
	"github.com/finsight/insight-agent/internal/handlers"
	"github.com/finsight/insight-agent/internal/insight"
	"github.com/finsight/insight-agent/internal/logger"
	"github.com/finsight/insight-agent/internal/prompt"
	"github.com/finsight/insight-agent/internal/router"
	"github.com/finsight/insight-agent/internal/services/cache"
	"github.com/finsight/insight-agent/internal/services/gemini"
	"github.com/finsight/insight-agent/internal/services/ratelimit"
	"github.com/finsight/insight-agent/internal/services/retry"
	"github.com/finsight/insight-agent/internal/upstream"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	prompts, err := prompt.Load(cfg.Prompts.Path)
	if err != nil {
		log.Fatal("Failed to load prompt templates", zap.Error(err))
	}
	log.Info("Loaded prompt templates",
		zap.Strings("names", prompts.Names()),
		zap.String("path", cfg.Prompts.Path))

	tokens, err := tokenSource(cfg)
	if err != nil {
		log.Fatal("Failed to initialize model credentials", zap.Error(err))
	}

	model := gemini.NewClient(gemini.Config{
		Project:         cfg.Vertex.Project,
		Location:        cfg.Vertex.Location,
		Model:           cfg.Vertex.Model,
		Endpoint:        cfg.Vertex.Endpoint,
		MaxOutputTokens: cfg.Vertex.MaxOutputTokens,
		AttemptTimeout:  cfg.Vertex.AttemptTimeout,
		Retry: &retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       true,
		},
	}, tokens, log)

	store := newCacheStore(cfg, log)

	gate := ratelimit.NewGate(ratelimit.Config{
		MaxConcurrent: cfg.RateLimit.MaxConcurrent,
		PerWindow:     cfg.RateLimit.RequestsPerMinute,
		Window:        ratelimit.DefaultConfig().Window,
		MaxWait:       cfg.RateLimit.MaxWait,
	}, log)

	ledger := upstream.NewLedgerClient(cfg.Upstream.TransactionHistoryURL, cfg.Upstream.Timeout, log)

	insightHandler := handlers.NewInsightHandler(handlers.InsightHandlerConfig{
		Logger:         log,
		Compactor:      insight.NewCompactor(cfg.Compactor.MaxTransactions),
		Prompts:        prompts,
		Gate:           gate,
		Cache:          store,
		Model:          model,
		Ledger:         ledger,
		Tolerance:      cfg.Compactor.NormalizeTolerance,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	handler := router.New(cfg, log, insightHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Starting insight-agent",
			zap.Int("port", cfg.Server.Port),
			zap.String("model", cfg.Vertex.Model),
			zap.String("location", cfg.Vertex.Location))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exited")
}

func tokenSource(cfg *config.Config) (gemini.TokenSource, error) {
	if cfg.Vertex.AccessToken != "" {
		return gemini.StaticToken(cfg.Vertex.AccessToken), nil
	}
	if cfg.Vertex.CredentialsFile != "" {
		return gemini.NewServiceAccountFromFile(cfg.Vertex.CredentialsFile)
	}
	if path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); path != "" {
		return gemini.NewServiceAccountFromFile(path)
	}
	return nil, fmt.Errorf("no model credentials: set VERTEX_CREDENTIALS_FILE, GOOGLE_APPLICATION_CREDENTIALS or VERTEX_ACCESS_TOKEN")
}

// newCacheStore picks Redis when the deployment provides one, otherwise
// the in-process store. Redis being down at startup falls back rather
// than failing; the cache is an optimization, not a dependency.
func newCacheStore(cfg *config.Config, log *zap.Logger) cache.Store {
	cacheCfg := cache.Config{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}
	if cfg.Cache.RedisURL != "" {
		store, err := cache.NewRedis(cfg.Cache.RedisURL, cacheCfg, log)
		if err == nil {
			log.Info("Using Redis response cache")
			return store
		}
		log.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
	}
	return cache.NewMemory(cacheCfg)
}
