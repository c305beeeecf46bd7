package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/config"
	"github.com/finsight/insight-agent/internal/handlers"
	"github.com/finsight/insight-agent/internal/middleware"
)

func New(cfg *config.Config, logger *zap.Logger, insightHandler *handlers.InsightHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		ExposedHeaders: []string{handlers.PromptHeader, "X-Insight-ID"},
		MaxAge:         cfg.CORS.MaxAge,
	}))

	r.Get("/health", handlers.Health)
	r.Get("/ready", handlers.Ready)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", handlers.Health)
		r.Post("/budget/coach", insightHandler.BudgetCoach)
		r.Post("/spending/analyze", insightHandler.SpendingAnalyze)
		r.Post("/fraud/detect", insightHandler.FraudDetect)
		r.Get("/insights/{accountID}", insightHandler.AccountInsights)
	})

	// Aliases kept for older clients that predate the /api prefix.
	r.Post("/budget/coach", insightHandler.BudgetCoach)
	r.Post("/spending/analyze", insightHandler.SpendingAnalyze)

	return r
}
