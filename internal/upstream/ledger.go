// Package upstream talks to the transaction-history bridge that fronts
// the bank ledger. The caller's bearer token is forwarded verbatim; the
// bridge (and the ledger behind it) owns verification.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/insight"
)

type LedgerClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewLedgerClient(baseURL string, timeout time.Duration, log *zap.Logger) *LedgerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LedgerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Transactions fetches the account's recent activity. The bridge accepts
// a window in days and returns either a bare transaction list or a
// {"transactions": [...]} wrapper; both are handled.
func (c *LedgerClient) Transactions(ctx context.Context, accountID, bearerToken string, windowDays int) ([]insight.Transaction, error) {
	url := fmt.Sprintf("%s/transactions/%s", c.baseURL, accountID)
	if windowDays > 0 {
		url += "?window_days=" + strconv.Itoa(windowDays)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, insight.WrapError(insight.KindUpstreamTransient, "transaction service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, insight.NewError(insight.KindUpstreamAuth, "transaction service rejected the credentials")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("transaction service error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, insight.NewError(insight.KindUpstreamTransient,
			fmt.Sprintf("transaction service returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, insight.WrapError(insight.KindUpstreamTransient, "reading transaction service response", err)
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		wrapped, _ := json.Marshal(map[string]json.RawMessage{"transactions": json.RawMessage(trimmed)})
		body = wrapped
	}
	txns, err := insight.ParseRequest(body)
	if err != nil {
		// The upstream sent something our contract does not recognize;
		// that is its fault, not the caller's.
		return nil, insight.WrapError(insight.KindUpstreamTransient, "transaction service returned a malformed payload", err)
	}
	return txns, nil
}
