package insight

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single ledger entry as received from callers.
// Positive amounts are inflows, negative are outflows.
type Transaction struct {
	Date   string          `json:"date"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05.000000Z07:00",
}

// ParseDate accepts the date shapes the ledger upstream emits: plain
// calendar dates and RFC3339 timestamps.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

type rawTransaction struct {
	Date   *string         `json:"date"`
	Label  *string         `json:"label"`
	Amount json.RawMessage `json:"amount"`
}

type rawRequest struct {
	Transactions *[]rawTransaction `json:"transactions"`
}

// ParseRequest validates the inbound request body and returns the
// transaction list. Every malformed entry fails the whole request with a
// validation classification; nothing is silently dropped.
func ParseRequest(body []byte) ([]Transaction, error) {
	var req rawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, WrapError(KindValidation, "invalid JSON body", err)
	}
	if req.Transactions == nil {
		return nil, NewError(KindValidation, "expected {'transactions': [...]}")
	}

	txns := make([]Transaction, 0, len(*req.Transactions))
	for i, raw := range *req.Transactions {
		if raw.Date == nil || raw.Label == nil || raw.Amount == nil {
			return nil, Validationf("transaction %d: missing date, label or amount", i)
		}
		if *raw.Label == "" {
			return nil, Validationf("transaction %d: label must be non-empty", i)
		}
		if _, err := ParseDate(*raw.Date); err != nil {
			return nil, Validationf("transaction %d: %v", i, err)
		}
		amount, err := parseAmount(raw.Amount)
		if err != nil {
			return nil, Validationf("transaction %d: %v", i, err)
		}
		txns = append(txns, Transaction{Date: *raw.Date, Label: *raw.Label, Amount: amount})
	}
	return txns, nil
}

// parseAmount requires a JSON number. Quoted strings are rejected even when
// their content is numeric: the wire contract says number.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || raw[0] == '"' || string(raw) == "null" {
		return decimal.Zero, fmt.Errorf("amount must be a number, got %s", string(raw))
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount must be a number: %w", err)
	}
	return d, nil
}
