package insight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Bucket is a named spending category with its signed total and share of
// overall activity. Percent values are normalized before results leave
// the service.
type Bucket struct {
	Name    string  `json:"name"`
	Total   float64 `json:"total"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// CoachResult is the budget-coach response contract.
type CoachResult struct {
	Summary       string   `json:"summary"`
	BudgetBuckets []Bucket `json:"budget_buckets"`
	Tips          []string `json:"tips"`
}

// SpendingResult is the spending-analysis response contract.
type SpendingResult struct {
	Summary             string            `json:"summary"`
	TopCategories       []Bucket          `json:"top_categories"`
	UnusualTransactions []json.RawMessage `json:"unusual_transactions"`
}

// Finding is a single fraud-detection flag.
type Finding struct {
	Transaction    json.RawMessage `json:"transaction"`
	RiskScore      float64         `json:"risk_score"`
	Reason         string          `json:"reason"`
	Recommendation string          `json:"recommendation"`
}

// FraudResult is the fraud-detection response contract.
type FraudResult struct {
	Findings    []Finding `json:"findings"`
	OverallRisk string    `json:"overall_risk"`
	Summary     string    `json:"summary"`
}

// ModelResult is a validated, normalized model response ready to return
// to the caller and to cache.
type ModelResult struct {
	Endpoint string          `json:"endpoint"`
	Body     json.RawMessage `json:"body"`
}

// Endpoint binds a prompt name to the response contract expected from the
// model for that route. ResponseSchema is passed to the model as a JSON
// mode hint; Parse enforces it on the way back.
type Endpoint struct {
	Name           string
	PromptName     string
	ResponseSchema map[string]interface{}
	Parse          func(raw []byte, tolerance float64) (json.RawMessage, error)
}

var bucketSchema = map[string]interface{}{
	"type": "array",
	"items": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":  map[string]interface{}{"type": "string"},
			"total": map[string]interface{}{"type": "number"},
			"count": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"name", "total", "count"},
	},
}

// BudgetCoach describes POST /api/budget/coach.
var BudgetCoach = Endpoint{
	Name:       "budget_coach",
	PromptName: "budget_coach",
	ResponseSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary":        map[string]interface{}{"type": "string"},
			"budget_buckets": bucketSchema,
			"tips": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []string{"summary", "budget_buckets", "tips"},
	},
	Parse: parseCoach,
}

// SpendingAnalyze describes POST /api/spending/analyze.
var SpendingAnalyze = Endpoint{
	Name:       "spending_analyze",
	PromptName: "spending_analyze",
	ResponseSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary":        map[string]interface{}{"type": "string"},
			"top_categories": bucketSchema,
			"unusual_transactions": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "object"},
			},
		},
		"required": []string{"summary", "top_categories", "unusual_transactions"},
	},
	Parse: parseSpending,
}

// FraudDetect describes POST /api/fraud/detect.
var FraudDetect = Endpoint{
	Name:       "fraud_detect",
	PromptName: "fraud_detect",
	ResponseSchema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"findings": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"transaction":    map[string]interface{}{"type": "object"},
						"risk_score":     map[string]interface{}{"type": "number"},
						"reason":         map[string]interface{}{"type": "string"},
						"recommendation": map[string]interface{}{"type": "string"},
					},
					"required": []string{"transaction", "risk_score", "reason", "recommendation"},
				},
			},
			"overall_risk": map[string]interface{}{"type": "string"},
			"summary":      map[string]interface{}{"type": "string"},
		},
		"required": []string{"findings", "overall_risk", "summary"},
	},
	Parse: parseFraud,
}

func strictDecode(raw []byte, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func parseCoach(raw []byte, tolerance float64) (json.RawMessage, error) {
	var res CoachResult
	if err := strictDecode(raw, &res); err != nil {
		return nil, WrapError(KindSchemaValidation, "model output failed budget_coach schema", err)
	}
	if res.Summary == "" {
		return nil, NewError(KindSchemaValidation, "model output missing summary")
	}
	if res.BudgetBuckets == nil || res.Tips == nil {
		return nil, NewError(KindSchemaValidation, "model output missing budget_buckets or tips")
	}
	res.BudgetBuckets = NormalizePercents(res.BudgetBuckets, tolerance)
	return json.Marshal(res)
}

func parseSpending(raw []byte, tolerance float64) (json.RawMessage, error) {
	var res SpendingResult
	if err := strictDecode(raw, &res); err != nil {
		return nil, WrapError(KindSchemaValidation, "model output failed spending_analyze schema", err)
	}
	if res.Summary == "" {
		return nil, NewError(KindSchemaValidation, "model output missing summary")
	}
	if res.TopCategories == nil {
		return nil, NewError(KindSchemaValidation, "model output missing top_categories")
	}
	if res.UnusualTransactions == nil {
		res.UnusualTransactions = []json.RawMessage{}
	}
	res.TopCategories = NormalizePercents(res.TopCategories, tolerance)
	return json.Marshal(res)
}

func parseFraud(raw []byte, _ float64) (json.RawMessage, error) {
	var res FraudResult
	if err := strictDecode(raw, &res); err != nil {
		return nil, WrapError(KindSchemaValidation, "model output failed fraud_detect schema", err)
	}
	if res.Summary == "" || res.OverallRisk == "" {
		return nil, NewError(KindSchemaValidation, "model output missing summary or overall_risk")
	}
	if res.Findings == nil {
		res.Findings = []Finding{}
	}
	for i, f := range res.Findings {
		if f.RiskScore < 0 || f.RiskScore > 1 {
			return nil, schemaErrf("finding %d: risk_score out of [0,1]", i)
		}
	}
	return json.Marshal(res)
}

func schemaErrf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSchemaValidation, Message: fmt.Sprintf(format, args...)}
}

// NormalizePercents rescales bucket percentages to sum to 100 within the
// given tolerance. When the model omitted percentages entirely they are
// derived from absolute totals instead. A presentation guarantee only.
func NormalizePercents(buckets []Bucket, tolerance float64) []Bucket {
	if len(buckets) == 0 {
		return buckets
	}

	var pctSum float64
	for _, b := range buckets {
		pctSum += b.Percent
	}

	if pctSum <= 0 {
		var totalSum float64
		for _, b := range buckets {
			totalSum += math.Abs(b.Total)
		}
		if totalSum <= 0 {
			return buckets
		}
		for i := range buckets {
			buckets[i].Percent = round1(math.Abs(buckets[i].Total) / totalSum * 100)
		}
		return buckets
	}

	if math.Abs(pctSum-100) <= tolerance {
		return buckets
	}
	factor := 100 / pctSum
	for i := range buckets {
		buckets[i].Percent = round1(buckets[i].Percent * factor)
	}
	return buckets
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
