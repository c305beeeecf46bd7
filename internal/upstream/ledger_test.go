package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/insight"
)

const wrappedPayload = `{"transactions":[
	{"date":"2026-03-01","label":"Rent","amount":-900.00},
	{"date":"2026-03-02","label":"Paycheck","amount":2500.00}
]}`

func newTestLedger(t *testing.T, handler http.HandlerFunc) *LedgerClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewLedgerClient(srv.URL, 5*time.Second, zap.NewNop())
}

func TestTransactions_WrappedPayload(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	client := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(wrappedPayload))
	})

	txns, err := client.Transactions(context.Background(), "1011226111", "tok123", 30)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "Rent", txns[0].Label)
	assert.Equal(t, "-900", txns[0].Amount.String())

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "/transactions/1011226111", gotPath)
	assert.Equal(t, "window_days=30", gotQuery)
}

func TestTransactions_BareListPayload(t *testing.T) {
	client := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"2026-03-01","label":"Coffee","amount":-4.50}]`))
	})

	txns, err := client.Transactions(context.Background(), "1011226111", "tok", 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "Coffee", txns[0].Label)
}

func TestTransactions_NoWindowOmitsQuery(t *testing.T) {
	var gotQuery string
	client := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	})

	_, err := client.Transactions(context.Background(), "1011226111", "tok", 0)
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestTransactions_AuthRejected(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		client := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		_, err := client.Transactions(context.Background(), "1011226111", "bad", 30)
		require.Error(t, err)
		assert.Equal(t, insight.KindUpstreamAuth, insight.ClassOf(err), "status %d", status)
	}
}

func TestTransactions_ServerError(t *testing.T) {
	client := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusInternalServerError)
	})

	_, err := client.Transactions(context.Background(), "1011226111", "tok", 30)
	require.Error(t, err)
	assert.Equal(t, insight.KindUpstreamTransient, insight.ClassOf(err))
}

func TestTransactions_MalformedPayload(t *testing.T) {
	client := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transactions":[{"date":"2026-03-01","label":"x","amount":"lots"}]}`))
	})

	_, err := client.Transactions(context.Background(), "1011226111", "tok", 30)
	require.Error(t, err)
	// A payload the bridge mangled is the upstream's fault, not a 400.
	assert.Equal(t, insight.KindUpstreamTransient, insight.ClassOf(err))
}

func TestTransactions_Unreachable(t *testing.T) {
	client := NewLedgerClient("http://127.0.0.1:1", time.Second, zap.NewNop())

	_, err := client.Transactions(context.Background(), "1011226111", "tok", 30)
	require.Error(t, err)
	assert.Equal(t, insight.KindUpstreamTransient, insight.ClassOf(err))
}
