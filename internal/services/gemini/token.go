package gemini

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// TokenSource yields a bearer token for the Vertex AI API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken returns a fixed token, for local runs and tests.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// ServiceAccount authenticates with a Google service account: it signs a
// JWT with the account's RSA key and exchanges it for a short-lived
// access token, refreshing a few minutes before expiry.
type ServiceAccount struct {
	mu       sync.Mutex
	creds    serviceAccountKey
	client   *http.Client
	token    string
	tokenExp time.Time
}

type serviceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

func NewServiceAccountFromFile(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials %s: %w", path, err)
	}
	return NewServiceAccount(data)
}

func NewServiceAccount(credsJSON []byte) (*ServiceAccount, error) {
	var creds serviceAccountKey
	if err := json.Unmarshal(credsJSON, &creds); err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, fmt.Errorf("service account credentials missing client_email or private_key")
	}
	if creds.TokenURI == "" {
		creds.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return &ServiceAccount{
		creds:  creds,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *ServiceAccount) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.tokenExp.Add(-5*time.Minute)) {
		return s.token, nil
	}

	assertion, err := s.signJWT()
	if err != nil {
		return "", fmt.Errorf("signing assertion: %w", err)
	}

	token, expiry, err := s.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}
	s.token = token
	s.tokenExp = expiry
	return token, nil
}

func (s *ServiceAccount) signJWT() (string, error) {
	now := time.Now()
	header := map[string]string{"alg": "RS256", "typ": "JWT", "kid": s.creds.PrivateKeyID}
	claims := map[string]interface{}{
		"iss":   s.creds.ClientEmail,
		"scope": "https://www.googleapis.com/auth/cloud-platform",
		"aud":   s.creds.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}

	headerJSON, _ := json.Marshal(header)
	claimsJSON, _ := json.Marshal(claims)
	input := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	block, _ := pem.Decode([]byte(s.creds.PrivateKey))
	if block == nil {
		return "", fmt.Errorf("private key is not PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private key is not RSA")
	}

	hash := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(nil, rsaKey, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return input + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func (s *ServiceAccount) exchange(ctx context.Context, assertion string) (string, time.Time, error) {
	body := "grant_type=urn:ietf:params:oauth:grant-type:jwt-bearer&assertion=" + assertion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.creds.TokenURI, strings.NewReader(body))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", time.Time{}, fmt.Errorf("token exchange failed: status %d, body: %s",
			resp.StatusCode, string(respBody))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", time.Time{}, err
	}
	return tokenResp.AccessToken, time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second), nil
}
