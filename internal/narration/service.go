package narration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/metrics"
	"github.com/conceptviz/narration-gateway/internal/timing"
)

// Result is a fully generated narration: synthesized audio plus the complete
// word-timing array the highlight scheduler consumes.
type Result struct {
	Topic       string          `json:"topic"`
	Text        string          `json:"text"`
	AudioURL    string          `json:"audio_url"`
	DurationMS  int64           `json:"duration_ms"`
	WordTimings timing.Timeline `json:"word_timings"`
}

// Cache stores generated narrations keyed by topic and script.
type Cache interface {
	Get(ctx context.Context, topic, text string) (*Result, bool)
	Set(ctx context.Context, res *Result)
}

// HighlightElement names a diagram node a doubt answer wants emphasized.
type HighlightElement struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// DoubtResponse is the structured explanation for a Q&A request.
type DoubtResponse struct {
	Explanation       string             `json:"explanation"`
	ComponentDetails  map[string]string  `json:"componentDetails,omitempty"`
	Examples          []string           `json:"examples,omitempty"`
	Recommendations   []string           `json:"recommendations,omitempty"`
	HighlightElements []HighlightElement `json:"highlightElements,omitempty"`
	WordTimings       timing.Timeline    `json:"narration_timestamps,omitempty"`
}

// DoubtRequest carries a user question about the current diagram.
type DoubtRequest struct {
	Doubt         string         `json:"doubt"`
	Topic         string         `json:"topic"`
	CurrentState  map[string]any `json:"currentState,omitempty"`
	RelevantNodes []string       `json:"relevantNodes,omitempty"`
}

// Service generates narrations and doubt explanations.
type Service struct {
	tts     TTSClient
	llm     LLMClient
	cache   Cache
	catalog *diagram.Catalog
	voice   string
	wpm     int
	logger  *zap.Logger
}

// NewService wires the narration service. cache may be nil.
func NewService(tts TTSClient, llm LLMClient, cache Cache, catalog *diagram.Catalog,
	voice string, wpm int, logger *zap.Logger) *Service {

	if logger == nil {
		logger = zap.NewNop()
	}
	if wpm <= 0 {
		wpm = 150
	}
	return &Service{
		tts:     tts,
		llm:     llm,
		cache:   cache,
		catalog: catalog,
		voice:   voice,
		wpm:     wpm,
		logger:  logger,
	}
}

// Generate synthesizes narration audio for the script and derives its word
// timings. Results are cached per topic and script; cache failures degrade to
// regeneration, never a request failure.
func (s *Service) Generate(ctx context.Context, topic, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty narration text")
	}

	if s.cache != nil {
		if res, ok := s.cache.Get(ctx, topic, text); ok {
			metrics.CacheHitsTotal.Inc()
			s.logger.Debug("narration cache hit", zap.String("topic", topic))
			return res, nil
		}
	}

	start := time.Now()
	ttsRes, err := s.tts.Synthesize(ctx, text, s.voice)
	if err != nil {
		metrics.NarrationRequestsTotal.WithLabelValues("tts_error").Inc()
		return nil, fmt.Errorf("synthesize narration: %w", err)
	}
	ttsMS := float64(time.Since(start).Milliseconds())
	metrics.NarrationLatency.WithLabelValues("tts").Observe(ttsMS)

	duration := ttsRes.DurationMS
	if duration <= 0 {
		duration = EstimateDurationMS(text, s.wpm)
	}

	res := &Result{
		Topic:       topic,
		Text:        text,
		AudioURL:    ttsRes.AudioURL,
		DurationMS:  duration,
		WordTimings: GenerateWordTimings(text, duration, s.graph(topic)),
	}

	if s.cache != nil {
		s.cache.Set(ctx, res)
	}

	metrics.NarrationRequestsTotal.WithLabelValues("success").Inc()
	s.logger.Info("narration generated",
		zap.String("topic", topic),
		zap.Int("words", len(res.WordTimings)),
		zap.Int64("durationMS", duration),
		zap.Float64("ttsMS", ttsMS),
	)
	return res, nil
}

const doubtSystemPrompt = `You are an expert in database visualization and education. Your task is to:
1. Provide clear, concise explanations of database concepts
2. Identify relevant components in visualizations
3. Suggest visual highlights to emphasize important elements
4. Give brief practical examples

Respond as JSON with fields: explanation, componentDetails, examples, recommendations, highlightElements (array of {"id","type"}).
Keep the explanation under 300 words so it can be converted to audio.`

// ProcessDoubt answers a question about the current diagram, returning a
// structured explanation plus pre-computed word timings for its narration.
func (s *Service) ProcessDoubt(ctx context.Context, req DoubtRequest) (*DoubtResponse, error) {
	if strings.TrimSpace(req.Doubt) == "" {
		return nil, fmt.Errorf("empty doubt")
	}

	graph := s.graph(req.Topic)
	reply, err := s.llm.Complete(ctx, doubtSystemPrompt, s.doubtUserPrompt(req, graph))
	if err != nil {
		metrics.DoubtRequestsTotal.WithLabelValues("llm_error").Inc()
		return nil, fmt.Errorf("process doubt: %w", err)
	}

	resp := parseDoubtReply(reply, graph)
	resp.WordTimings = GenerateWordTimings(resp.Explanation,
		EstimateDurationMS(resp.Explanation, s.wpm), graph)

	metrics.DoubtRequestsTotal.WithLabelValues("success").Inc()
	return resp, nil
}

func (s *Service) doubtUserPrompt(req DoubtRequest, graph *diagram.Graph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I'm looking at a visualization about %s. Here's my question: %s\n\n", req.Topic, req.Doubt)

	if graph != nil {
		b.WriteString("Visualization structure:\n")
		for _, n := range graph.Nodes {
			fmt.Fprintf(&b, "- %s (ID: %s, Type: %s)\n", n.Name, n.ID, n.Type)
		}
		for _, e := range graph.Edges {
			fmt.Fprintf(&b, "- %s -> %s (%s)\n", e.Source, e.Target, e.Type)
		}
	}
	if len(req.RelevantNodes) > 0 {
		fmt.Fprintf(&b, "\nCurrently visible nodes: %s\n", strings.Join(req.RelevantNodes, ", "))
	}
	if len(req.CurrentState) > 0 {
		state, _ := json.Marshal(req.CurrentState)
		fmt.Fprintf(&b, "\nCurrent state:\n%s\n", state)
	}
	return b.String()
}

// parseDoubtReply decodes a structured reply, falling back to treating the
// whole reply as the explanation and deriving highlights from node names it
// mentions. One malformed reply must not fail the request.
func parseDoubtReply(reply string, graph *diagram.Graph) *DoubtResponse {
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	var resp DoubtResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err == nil && resp.Explanation != "" {
		return &resp
	}

	resp = DoubtResponse{Explanation: reply}
	if graph != nil {
		seen := make(map[string]struct{})
		for _, w := range strings.Fields(reply) {
			id := graph.MatchWord(w)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			resp.HighlightElements = append(resp.HighlightElements,
				HighlightElement{ID: id, Type: "highlight"})
		}
	}
	return &resp
}

func (s *Service) graph(topic string) *diagram.Graph {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Get(topic)
}
