package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Token is an ephemeral credential for one realtime voice session.
type Token struct {
	ClientSecret string
	Model        string
	ExpiresAt    int64
}

// TokenSource mints ephemeral session tokens.
type TokenSource interface {
	Mint(ctx context.Context) (*Token, error)
}

// HTTPTokenSource mints tokens from the provider's sessions endpoint using
// the long-lived API key. The ephemeral secret is what crosses the SDP
// exchange; the API key never leaves this process.
type HTTPTokenSource struct {
	baseURL string
	apiKey  string
	model   string
	voice   string
	client  *http.Client
}

// NewHTTPTokenSource creates a token source against baseURL, e.g.
// https://api.openai.com/v1/realtime.
func NewHTTPTokenSource(baseURL, apiKey, model, voice string) *HTTPTokenSource {
	return &HTTPTokenSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

type sessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Model string `json:"model"`
}

// Mint requests a fresh ephemeral token.
func (s *HTTPTokenSource) Mint(ctx context.Context) (*Token, error) {
	body, err := json.Marshal(sessionRequest{Model: s.model, Voice: s.voice})
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if out.ClientSecret.Value == "" {
		return nil, fmt.Errorf("token response has no client secret")
	}

	model := out.Model
	if model == "" {
		model = s.model
	}
	return &Token{
		ClientSecret: out.ClientSecret.Value,
		Model:        model,
		ExpiresAt:    out.ClientSecret.ExpiresAt,
	}, nil
}
