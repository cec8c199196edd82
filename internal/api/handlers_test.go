package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conceptviz/narration-gateway/internal/config"
	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/gateway"
	"github.com/conceptviz/narration-gateway/internal/narration"
	"github.com/conceptviz/narration-gateway/internal/realtime"
)

type stubTokens struct {
	token *realtime.Token
	err   error
}

func (s *stubTokens) Mint(context.Context) (*realtime.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func newTestRouter(t *testing.T, tokens realtime.TokenSource) http.Handler {
	t.Helper()
	cfg := &config.Config{
		MaxSessions:    4,
		TickInterval:   5 * time.Millisecond,
		WordsPerMinute: 150,
	}
	catalog := diagram.NewCatalog()
	svc := narration.NewService(&narration.MockTTSClient{DurationMS: 2000},
		&narration.MockLLMClient{}, nil, catalog, "alloy", 150, nil)
	gw := gateway.NewForTest(cfg, svc, catalog, nil, nil, nil, nil)
	t.Cleanup(gw.Shutdown)
	return Router(NewHandlers(gw, tokens, nil), nil)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestNarrationEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/narration/er",
		strings.NewReader(`{"text":"students enroll in courses"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var res narration.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.AudioURL == "" {
		t.Fatal("no audio URL")
	}
	if len(res.WordTimings) != 4 {
		t.Fatalf("got %d timings, want 4", len(res.WordTimings))
	}
}

func TestNarrationDefaultsToTopicScript(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/narration/er", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var res narration.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.WordTimings) == 0 {
		t.Fatal("default script produced no timings")
	}
}

func TestNarrationUnknownTopic(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/narration/unknown", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProcessDoubtEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/process-doubt",
		strings.NewReader(`{"doubt":"what is a key?","topic":"er"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp narration.DoubtResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Explanation == "" {
		t.Fatal("empty explanation")
	}
	if len(resp.WordTimings) == 0 {
		t.Fatal("explanation has no word timings")
	}
}

func TestProcessDoubtRequiresDoubt(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/process-doubt",
		strings.NewReader(`{"topic":"er"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTokenBundlesVisualization(t *testing.T) {
	tokens := &stubTokens{token: &realtime.Token{ClientSecret: "ek_live", Model: "m", ExpiresAt: 1234}}
	router := newTestRouter(t, tokens)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token?topic=er", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	// The client reads the ephemeral key at client_secret.value.
	var tok struct {
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
		Model         string         `json:"model"`
		Visualization *diagram.Graph `json:"visualization_data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok.ClientSecret.Value != "ek_live" {
		t.Fatalf("client_secret.value = %q", tok.ClientSecret.Value)
	}
	if tok.ClientSecret.ExpiresAt != 1234 {
		t.Fatalf("client_secret.expires_at = %d", tok.ClientSecret.ExpiresAt)
	}
	if tok.Model != "m" {
		t.Fatalf("model = %q", tok.Model)
	}
	if tok.Visualization == nil || len(tok.Visualization.Nodes) == 0 {
		t.Fatal("token missing visualization data")
	}
}

func TestTokenBuildsInstructionsFromDoubt(t *testing.T) {
	tokens := &stubTokens{token: &realtime.Token{ClientSecret: "ek_live", Model: "m"}}
	router := newTestRouter(t, tokens)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/token?topic=er&doubt=what+is+an+enrollment%3F", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		Instructions string `json:"instructions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(tok.Instructions, "Doubt: what is an enrollment?") {
		t.Fatalf("instructions = %q", tok.Instructions)
	}
	if !strings.Contains(tok.Instructions, "Visualization Context:") {
		t.Fatalf("instructions missing diagram context: %q", tok.Instructions)
	}
}

func TestTokenWithoutLiveStack(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTokenMintFailure(t *testing.T) {
	router := newTestRouter(t, &stubTokens{err: errors.New("provider down")})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestVisualizationEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/visualization/er", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var g diagram.Graph
	if err := json.Unmarshal(rec.Body.Bytes(), &g); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(g.Nodes))
	}
}
