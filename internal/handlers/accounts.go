package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/insight"
)

const defaultWindowDays = 30

// AccountInsights handles GET /api/insights/{accountID}: it pulls the
// account's recent transactions from the ledger bridge with the caller's
// bearer token, then runs the spending-analysis pipeline on them.
func (h *InsightHandler) AccountInsights(w http.ResponseWriter, r *http.Request) {
	endpoint := insight.SpendingAnalyze
	start := time.Now()

	if h.ledger == nil {
		h.writeError(w, endpoint, start,
			insight.NewError(insight.KindConfiguration, "transaction source is not configured"))
		return
	}

	token := bearerToken(r)
	if token == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Authorization header is missing"})
		return
	}

	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		h.writeError(w, endpoint, start, insight.NewError(insight.KindValidation, "account id is required"))
		return
	}

	// Cheap mismatch guard; the ledger behind the bridge verifies the
	// signature and has the final say.
	if claimed := accountClaim(token); claimed != "" && claimed != accountID {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "token does not belong to this account"})
		return
	}

	windowDays := defaultWindowDays
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, endpoint, start, insight.Validationf("window_days must be a positive integer, got %q", raw))
			return
		}
		windowDays = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	txns, err := h.ledger.Transactions(ctx, accountID, token, windowDays)
	if err != nil {
		h.writeError(w, endpoint, start, err)
		return
	}
	h.logger.Debug("fetched transactions",
		zap.String("account", accountID),
		zap.Int("count", len(txns)),
		zap.Int("window_days", windowDays))

	result, tag, err := h.run(ctx, endpoint, txns)
	if err != nil {
		h.writeError(w, endpoint, start, err)
		return
	}
	h.writeResult(w, endpoint, start, result, tag)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// accountClaim extracts the account claim without verifying the
// signature; verification belongs to the services that own the key.
func accountClaim(token string) string {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	if acct, ok := claims["acct"].(string); ok {
		return acct
	}
	return ""
}
