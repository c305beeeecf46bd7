package insight

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AggregateRow is the per-counterparty total for transactions that fell
// beyond the row cap. Sorted by label so the ledger serializes the same
// way every time.
type AggregateRow struct {
	Label string          `json:"label"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// CompactedLedger is the bounded, prompt-friendly reduction of a
// transaction list. Rows keeps the first MaxRows transactions in input
// order; everything past the cap is folded into Aggregates so the model
// still sees long-tail volume. Rows plus Aggregates always preserve the
// total signed sum of the input.
type CompactedLedger struct {
	Rows       []Transaction   `json:"rows"`
	Aggregates []AggregateRow  `json:"aggregates,omitempty"`
	Inflow     decimal.Decimal `json:"inflow"`
	Outflow    decimal.Decimal `json:"outflow"`
	TotalCount int             `json:"total_count"`
}

// Compactor reduces transaction lists deterministically. MaxRows bounds
// the enumerated rows; zero or negative means DefaultMaxRows.
type Compactor struct {
	MaxRows int
}

const DefaultMaxRows = 50

func NewCompactor(maxRows int) *Compactor {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Compactor{MaxRows: maxRows}
}

// Compact builds a CompactedLedger from txns. The same input in the same
// order always yields an identical ledger. An empty input yields a ledger
// with zero rows and zero totals.
func (c *Compactor) Compact(txns []Transaction) CompactedLedger {
	ledger := CompactedLedger{
		Rows:       make([]Transaction, 0, min(len(txns), c.MaxRows)),
		Inflow:     decimal.Zero,
		Outflow:    decimal.Zero,
		TotalCount: len(txns),
	}

	overflow := make(map[string]*AggregateRow)
	for i, t := range txns {
		if t.Amount.IsPositive() {
			ledger.Inflow = ledger.Inflow.Add(t.Amount)
		} else {
			ledger.Outflow = ledger.Outflow.Add(t.Amount)
		}

		if i < c.MaxRows {
			ledger.Rows = append(ledger.Rows, t)
			continue
		}
		agg, ok := overflow[t.Label]
		if !ok {
			agg = &AggregateRow{Label: t.Label, Total: decimal.Zero}
			overflow[t.Label] = agg
		}
		agg.Total = agg.Total.Add(t.Amount)
		agg.Count++
	}

	if len(overflow) > 0 {
		ledger.Aggregates = make([]AggregateRow, 0, len(overflow))
		for _, agg := range overflow {
			ledger.Aggregates = append(ledger.Aggregates, *agg)
		}
		sort.Slice(ledger.Aggregates, func(i, j int) bool {
			return ledger.Aggregates[i].Label < ledger.Aggregates[j].Label
		})
	}

	return ledger
}

// SignedSum is the total of everything the ledger carries, rows and
// aggregates together.
func (l CompactedLedger) SignedSum() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range l.Rows {
		sum = sum.Add(r.Amount)
	}
	for _, a := range l.Aggregates {
		sum = sum.Add(a.Total)
	}
	return sum
}
