// Package gemini is the resilient Vertex AI client: one generateContent
// call per request, wrapped in classified retries, backoff with
// Retry-After hints, and strict-JSON validation of the model output.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/insight"
	"github.com/finsight/insight-agent/internal/services/retry"
)

type Config struct {
	Project         string
	Location        string
	Model           string
	Endpoint        string // override; defaults to the regional Vertex endpoint
	MaxOutputTokens int
	AttemptTimeout  time.Duration
	Retry           *retry.Config
}

// Client issues completion requests against Vertex AI Gemini.
// Transport and sleep are injectable so the retry ceiling and backoff
// curve are testable without network or wall-clock waits.
type Client struct {
	cfg    Config
	tokens TokenSource
	http   *http.Client
	sleep  retry.Sleep
	log    *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithSleep(s retry.Sleep) Option {
	return func(c *Client) { c.sleep = s }
}

func NewClient(cfg Config, tokens TokenSource, log *zap.Logger, opts ...Option) *Client {
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-pro"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 8192
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{},
		log:    log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) url() string {
	base := c.cfg.Endpoint
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", c.cfg.Location)
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		strings.TrimRight(base, "/"), c.cfg.Project, c.cfg.Location, c.cfg.Model)
}

const repairHint = "\n\nThe previous response was not valid JSON for the required schema. " +
	"Respond again with ONLY a JSON object matching the schema exactly."

// Generate runs the prompt through the model and returns the validated,
// normalized result for the endpoint's contract. Transient failures and
// schema mismatches are retried up to the configured ceiling; schema
// retries re-ask with a repair hint appended.
func (c *Client) Generate(ctx context.Context, endpoint insight.Endpoint, promptText string, tolerance float64) (*insight.ModelResult, error) {
	var result *insight.ModelResult
	attempt := 0

	err := retry.DoWithSleep(ctx, c.cfg.Retry, func(ctx context.Context) error {
		attempt++
		prompt := promptText
		if attempt > 1 {
			prompt += repairHint
		}

		raw, err := c.generateOnce(ctx, endpoint, prompt)
		if err != nil {
			c.log.Warn("model call failed",
				zap.String("endpoint", endpoint.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}

		body, err := endpoint.Parse(raw, tolerance)
		if err != nil {
			c.log.Warn("model output failed schema validation",
				zap.String("endpoint", endpoint.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		result = &insight.ModelResult{Endpoint: endpoint.Name, Body: body}
		return nil
	}, isRetryable, c.sleep)

	if err != nil {
		return nil, c.classify(ctx, err)
	}
	return result, nil
}

// generateOnce issues a single generateContent attempt under the
// per-attempt timeout and returns the raw model text.
func (c *Client) generateOnce(ctx context.Context, endpoint insight.Endpoint, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &apiError{status: http.StatusUnauthorized, message: "obtaining access token", cause: err}
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"temperature":      0.0,
			"maxOutputTokens":  c.cfg.MaxOutputTokens,
			"responseMimeType": "application/json",
			"responseSchema":   endpoint.ResponseSchema,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apiError{
			status:     resp.StatusCode,
			message:    strings.TrimSpace(string(respBody)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var vertexResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&vertexResp); err != nil {
		return nil, insight.WrapError(insight.KindSchemaValidation, "model response was not valid JSON", err)
	}
	if len(vertexResp.Candidates) == 0 {
		return nil, insight.NewError(insight.KindSchemaValidation, "model returned no candidates")
	}

	var text strings.Builder
	for _, part := range vertexResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return []byte(stripFences(text.String())), nil
}

// stripFences drops markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// apiError is a non-200 from the model endpoint.
type apiError struct {
	status     int
	message    string
	retryAfter time.Duration
	cause      error
}

func (e *apiError) Error() string {
	return fmt.Sprintf("vertex api error: status %d: %s", e.status, e.message)
}

func (e *apiError) Unwrap() error { return e.cause }

// RetryAfter implements retry.Hinted.
func (e *apiError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.retryAfter > 0
}

// transportError is a network-level failure reaching the endpoint.
type transportError struct {
	cause error
}

func (e *transportError) Error() string { return fmt.Sprintf("vertex transport error: %v", e.cause) }
func (e *transportError) Unwrap() error { return e.cause }

func isRetryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status == http.StatusTooManyRequests || ae.status >= 500
	}
	// Malformed model output is retried with a repair hint.
	return insight.ClassOf(err) == insight.KindSchemaValidation
}

// classify maps the terminal error of the retry loop onto the service
// taxonomy before it leaves the client.
func (c *Client) classify(ctx context.Context, err error) error {
	var ie *insight.Error
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return insight.WrapError(insight.KindTimeout, "model call exceeded the request budget", err)
	}
	var ae *apiError
	if errors.As(err, &ae) {
		switch {
		case ae.status == http.StatusUnauthorized || ae.status == http.StatusForbidden:
			return insight.WrapError(insight.KindUpstreamAuth, "model endpoint rejected our credentials", err)
		case ae.status == http.StatusTooManyRequests || ae.status >= 500:
			return insight.WrapError(insight.KindUpstreamTransient, "model endpoint unavailable after retries", err)
		default:
			return insight.WrapError(insight.KindUpstreamTransient, "model endpoint rejected the request", err)
		}
	}
	return insight.WrapError(insight.KindUpstreamTransient, "model call failed after retries", err)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
