package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/insight"
	"github.com/finsight/insight-agent/internal/metrics"
	"github.com/finsight/insight-agent/internal/prompt"
	"github.com/finsight/insight-agent/internal/services/cache"
	"github.com/finsight/insight-agent/internal/services/ratelimit"
)

const maxBodyBytes = 1 << 20

// PromptHeader carries the provenance tag: which prompt template, at
// which content hash, produced the response. Mandatory on success,
// absent on failure.
const PromptHeader = "X-Insight-Prompt"

// ModelClient is what the handler needs from the resilient model layer.
type ModelClient interface {
	Generate(ctx context.Context, endpoint insight.Endpoint, promptText string, tolerance float64) (*insight.ModelResult, error)
}

// LedgerSource fetches raw transactions for an account, used by the
// account-insights convenience route.
type LedgerSource interface {
	Transactions(ctx context.Context, accountID, bearerToken string, windowDays int) ([]insight.Transaction, error)
}

type InsightHandler struct {
	logger         *zap.Logger
	compactor      *insight.Compactor
	prompts        *prompt.Resolver
	gate           *ratelimit.Gate
	cache          cache.Store
	model          ModelClient
	ledger         LedgerSource
	tolerance      float64
	requestTimeout time.Duration
}

type InsightHandlerConfig struct {
	Logger         *zap.Logger
	Compactor      *insight.Compactor
	Prompts        *prompt.Resolver
	Gate           *ratelimit.Gate
	Cache          cache.Store
	Model          ModelClient
	Ledger         LedgerSource
	Tolerance      float64
	RequestTimeout time.Duration
}

func NewInsightHandler(cfg InsightHandlerConfig) *InsightHandler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 2.0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	return &InsightHandler{
		logger:         cfg.Logger,
		compactor:      cfg.Compactor,
		prompts:        cfg.Prompts,
		gate:           cfg.Gate,
		cache:          cfg.Cache,
		model:          cfg.Model,
		ledger:         cfg.Ledger,
		tolerance:      cfg.Tolerance,
		requestTimeout: cfg.RequestTimeout,
	}
}

// BudgetCoach handles POST /api/budget/coach.
func (h *InsightHandler) BudgetCoach(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, insight.BudgetCoach)
}

// SpendingAnalyze handles POST /api/spending/analyze.
func (h *InsightHandler) SpendingAnalyze(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, insight.SpendingAnalyze)
}

// FraudDetect handles POST /api/fraud/detect.
func (h *InsightHandler) FraudDetect(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, insight.FraudDetect)
}

func (h *InsightHandler) serve(w http.ResponseWriter, r *http.Request, endpoint insight.Endpoint) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, endpoint, start, insight.WrapError(insight.KindValidation, "reading request body", err))
		return
	}
	txns, err := insight.ParseRequest(body)
	if err != nil {
		h.writeError(w, endpoint, start, err)
		return
	}

	result, tag, err := h.run(ctx, endpoint, txns)
	if err != nil {
		h.writeError(w, endpoint, start, err)
		return
	}
	h.writeResult(w, endpoint, start, result, tag)
}

// run is the per-request pipeline: compact, resolve the prompt, check
// the cache, admit through the gate, call the model, cache the result.
// Strictly sequential; no stage is revisited.
func (h *InsightHandler) run(ctx context.Context, endpoint insight.Endpoint, txns []insight.Transaction) (*insight.ModelResult, string, error) {
	ledger := h.compactor.Compact(txns)

	spec, err := h.prompts.Resolve(endpoint.PromptName)
	if err != nil {
		return nil, "", err
	}

	fingerprint := cache.Fingerprint(spec.Tag(), ledger)
	if result, ok := h.cache.Get(ctx, fingerprint); ok {
		metrics.CacheHits.WithLabelValues(endpoint.Name).Inc()
		return result, spec.Tag(), nil
	}
	metrics.CacheMisses.WithLabelValues(endpoint.Name).Inc()

	release, err := h.gate.Acquire(ctx)
	if err != nil {
		if insight.ClassOf(err) == insight.KindThrottled {
			metrics.Throttled.WithLabelValues(endpoint.Name).Inc()
		}
		return nil, "", err
	}
	defer release()

	ledgerJSON, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return nil, "", err
	}

	result, err := h.model.Generate(ctx, endpoint, spec.Render(string(ledgerJSON)), h.tolerance)
	if err != nil {
		metrics.ModelCalls.WithLabelValues(endpoint.Name, insight.ClassOf(err).String()).Inc()
		return nil, "", err
	}
	metrics.ModelCalls.WithLabelValues(endpoint.Name, "success").Inc()

	h.cache.Set(ctx, fingerprint, result)
	return result, spec.Tag(), nil
}

func (h *InsightHandler) writeResult(w http.ResponseWriter, endpoint insight.Endpoint, start time.Time, result *insight.ModelResult, tag string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(PromptHeader, tag)
	w.Header().Set("X-Insight-ID", uuid.NewString())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Body)
	metrics.RequestDuration.WithLabelValues(endpoint.Name, "200").Observe(time.Since(start).Seconds())
}

// writeError maps the classified failure to an HTTP status with a JSON
// body. Only the classification tag and a human-readable message cross
// the boundary; upstream detail stays in the logs.
func (h *InsightHandler) writeError(w http.ResponseWriter, endpoint insight.Endpoint, start time.Time, err error) {
	kind := insight.ClassOf(err)
	status := kind.HTTPStatus()

	switch kind {
	case insight.KindValidation, insight.KindConfiguration:
		h.logger.Debug("request rejected", zap.String("endpoint", endpoint.Name), zap.Error(err))
	case insight.KindUpstreamAuth:
		// Deployment or credential problem, not something callers can fix.
		h.logger.Error("model credentials rejected", zap.String("endpoint", endpoint.Name), zap.Error(err))
	default:
		h.logger.Warn("request failed", zap.String("endpoint", endpoint.Name),
			zap.String("kind", kind.String()), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": insight.MessageOf(err),
		"kind":  kind.String(),
	})
	metrics.RequestDuration.WithLabelValues(endpoint.Name, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}
