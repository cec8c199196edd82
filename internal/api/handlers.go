package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/gateway"
	"github.com/conceptviz/narration-gateway/internal/narration"
	"github.com/conceptviz/narration-gateway/internal/realtime"
)

// Handlers holds dependencies for the HTTP surface.
type Handlers struct {
	gw     *gateway.Gateway
	tokens realtime.TokenSource
	logger *zap.Logger
}

// NewHandlers creates the handler set. tokens may be nil when the live voice
// path is not configured.
func NewHandlers(gw *gateway.Gateway, tokens realtime.TokenSource, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{gw: gw, tokens: tokens, logger: logger}
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.gw.SessionCount(),
	})
}

// Topics handles GET /api/topics.
func (h *Handlers) Topics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"topics": h.gw.Catalog().Topics(),
	})
}

// Visualization handles GET /api/visualization/{topic}.
func (h *Handlers) Visualization(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	graph := h.gw.Catalog().Get(topic)
	if graph == nil {
		writeError(w, http.StatusNotFound, "unknown topic")
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

type narrationRequest struct {
	Text string `json:"text"`
}

// Narration handles POST /api/narration/{topic}: synthesize narration for
// the topic and return the audio location plus the full word timeline.
func (h *Handlers) Narration(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")

	var req narrationRequest
	if r.Body != nil {
		// An empty body means "narrate the topic's default script".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Text == "" {
		graph := h.gw.Catalog().Get(topic)
		if graph == nil || graph.Narration == "" {
			writeError(w, http.StatusNotFound, "no narration script for topic")
			return
		}
		req.Text = graph.Narration
	}

	res, err := h.gw.Narration().Generate(r.Context(), topic, req.Text)
	if err != nil {
		h.logger.Warn("narration failed", zap.String("topic", topic), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ProcessDoubt handles POST /api/process-doubt.
func (h *Handlers) ProcessDoubt(w http.ResponseWriter, r *http.Request) {
	var req narration.DoubtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Doubt == "" {
		writeError(w, http.StatusBadRequest, "doubt is required")
		return
	}

	resp, err := h.gw.Narration().ProcessDoubt(r.Context(), req)
	if err != nil {
		h.logger.Warn("doubt failed", zap.String("topic", req.Topic), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type clientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// tokenResponse is the GET /token wire shape. Clients read the ephemeral key
// at client_secret.value.
type tokenResponse struct {
	ClientSecret  clientSecret   `json:"client_secret"`
	Model         string         `json:"model"`
	Instructions  string         `json:"instructions,omitempty"`
	Visualization *diagram.Graph `json:"visualization_data,omitempty"`
}

// Token handles GET /token: mint an ephemeral realtime credential and bundle
// the topic's diagram so the live client gets both in one round trip. When a
// doubt is supplied the context prompt is prebuilt server-side, so a client
// driving its own peer connection does not reassemble it.
func (h *Handlers) Token(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "live sessions not configured")
		return
	}

	token, err := h.tokens.Mint(r.Context())
	if err != nil {
		h.logger.Warn("token mint failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := tokenResponse{
		ClientSecret: clientSecret{Value: token.ClientSecret, ExpiresAt: token.ExpiresAt},
		Model:        token.Model,
	}
	topic := r.URL.Query().Get("topic")
	if topic != "" {
		resp.Visualization = h.gw.Catalog().Get(topic)
	}
	if doubt := r.URL.Query().Get("doubt"); doubt != "" {
		resp.Instructions = realtime.BuildContextPrompt(topic, doubt, resp.Visualization)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
