package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/config"
	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/estimator"
	"github.com/conceptviz/narration-gateway/internal/events"
	"github.com/conceptviz/narration-gateway/internal/highlight"
	"github.com/conceptviz/narration-gateway/internal/metrics"
	"github.com/conceptviz/narration-gateway/internal/narration"
	"github.com/conceptviz/narration-gateway/internal/realtime"
	"github.com/conceptviz/narration-gateway/internal/timing"
)

// Broadcaster fans a message out to every client watching a topic.
type Broadcaster interface {
	Broadcast(topic string, msg []byte)
}

// Gateway owns the topic sessions and orchestrates narration, timing
// reassembly, highlight scheduling, and live voice sessions.
type Gateway struct {
	cfg       *config.Config
	logger    *zap.Logger
	svc       *narration.Service
	catalog   *diagram.Catalog
	tokens    realtime.TokenSource
	negotiate realtime.Negotiator
	peers     realtime.PeerFactory

	mu          sync.RWMutex
	broadcaster Broadcaster
	sessions    map[string]*Session
}

// New creates a gateway with a real WebRTC stack for live sessions.
func New(cfg *config.Config, svc *narration.Service, catalog *diagram.Catalog, logger *zap.Logger) (*Gateway, error) {
	peers, err := realtime.NewPionFactory(cfg.STUNServers)
	if err != nil {
		return nil, fmt.Errorf("create peer factory: %w", err)
	}

	tokens := realtime.NewHTTPTokenSource(cfg.RealtimeURL, cfg.OpenAIAPIKey,
		cfg.RealtimeModel, cfg.TTSVoice)
	negotiate := realtime.NewHTTPNegotiator(cfg.RealtimeURL)

	return newGateway(cfg, svc, catalog, tokens, negotiate, peers, logger), nil
}

// NewForTest creates a gateway with injected dependencies. No WebRTC API is
// constructed; peers may be nil when live sessions are not under test.
func NewForTest(cfg *config.Config, svc *narration.Service, catalog *diagram.Catalog,
	tokens realtime.TokenSource, negotiate realtime.Negotiator,
	peers realtime.PeerFactory, logger *zap.Logger) *Gateway {
	return newGateway(cfg, svc, catalog, tokens, negotiate, peers, logger)
}

func newGateway(cfg *config.Config, svc *narration.Service, catalog *diagram.Catalog,
	tokens realtime.TokenSource, negotiate realtime.Negotiator,
	peers realtime.PeerFactory, logger *zap.Logger) *Gateway {

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:       cfg,
		logger:    logger,
		svc:       svc,
		catalog:   catalog,
		tokens:    tokens,
		negotiate: negotiate,
		peers:     peers,
		sessions:  make(map[string]*Session),
	}
}

// SetBroadcaster wires the stream layer in after construction; the hub and
// gateway reference each other.
func (gw *Gateway) SetBroadcaster(b Broadcaster) {
	gw.mu.Lock()
	gw.broadcaster = b
	gw.mu.Unlock()
}

// Narration exposes the narration service to the HTTP surface.
func (gw *Gateway) Narration() *narration.Service {
	return gw.svc
}

// Tokens exposes the ephemeral token source used for live sessions; nil
// when live sessions are not configured.
func (gw *Gateway) Tokens() realtime.TokenSource {
	return gw.tokens
}

// Catalog exposes the topic diagrams.
func (gw *Gateway) Catalog() *diagram.Catalog {
	return gw.catalog
}

// SessionCount returns the current number of topic sessions.
func (gw *Gateway) SessionCount() int {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return len(gw.sessions)
}

// CreateSession starts a topic session: a reassembler, a speech-rate
// estimator, and a running highlight scheduler whose dispatches are
// broadcast to the topic's clients.
func (gw *Gateway) CreateSession(topic string) (*Session, error) {
	gw.mu.Lock()
	if gw.cfg.MaxSessions > 0 && len(gw.sessions) >= gw.cfg.MaxSessions {
		gw.mu.Unlock()
		metrics.SessionsRejectedTotal.Inc()
		return nil, fmt.Errorf("session limit reached (%d)", gw.cfg.MaxSessions)
	}
	gw.mu.Unlock()

	id := uuid.NewString()
	logger := gw.logger.With(zap.String("session", id), zap.String("topic", topic))
	graph := gw.catalog.Get(topic)

	sess := &Session{
		ID:          id,
		Topic:       topic,
		gw:          gw,
		logger:      logger,
		reassembler: timing.NewReassembler(logger),
		estimator: estimator.New(logger,
			estimator.WithMatcher(graph.MatchWord)),
	}
	sess.scheduler = highlight.New(sess.dispatchHighlights, highlight.Options{
		TickInterval:   gw.cfg.TickInterval,
		DebounceWindow: gw.cfg.DebounceWindow,
		QuietPeriod:    gw.cfg.QuietPeriod,
	}, logger)
	sess.scheduler.Start()

	gw.mu.Lock()
	gw.sessions[id] = sess
	gw.mu.Unlock()

	metrics.SessionsCreatedTotal.Inc()
	metrics.ActiveSessions.Inc()
	logger.Info("session created")
	return sess, nil
}

// Session returns the session by ID, or nil.
func (gw *Gateway) Session(id string) *Session {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return gw.sessions[id]
}

// DeleteSession tears down a session and removes it from the registry.
func (gw *Gateway) DeleteSession(id string) {
	gw.mu.Lock()
	sess, ok := gw.sessions[id]
	if ok {
		delete(gw.sessions, id)
	}
	gw.mu.Unlock()

	if ok && sess != nil {
		sess.stop()
		metrics.ActiveSessions.Dec()
		gw.logger.Info("session deleted", zap.String("session", id))
	}
}

// Shutdown stops every session.
func (gw *Gateway) Shutdown() {
	gw.mu.Lock()
	sessions := make(map[string]*Session, len(gw.sessions))
	for k, v := range gw.sessions {
		sessions[k] = v
	}
	gw.sessions = make(map[string]*Session)
	gw.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
	metrics.ActiveSessions.Set(0)
	gw.logger.Info("gateway shutdown complete")
}

func (gw *Gateway) broadcast(topic string, typ string, payload any) {
	gw.mu.RLock()
	b := gw.broadcaster
	gw.mu.RUnlock()
	if b == nil {
		return
	}
	msg, err := events.Marshal(typ, topic, time.Now().UnixMilli(), payload)
	if err != nil {
		gw.logger.Warn("marshal broadcast", zap.String("type", typ), zap.Error(err))
		return
	}
	b.Broadcast(topic, msg)
}

// Session is one topic's synchronization state: the assembled timeline, the
// playback-driven highlight scheduler, the live-speech estimator, and an
// optional live voice controller.
type Session struct {
	ID    string
	Topic string

	gw          *Gateway
	logger      *zap.Logger
	reassembler *timing.Reassembler
	scheduler   *highlight.Scheduler
	estimator   *estimator.Estimator

	mu       sync.Mutex
	live     *realtime.Controller
	anchored bool
	stopped  bool
}

func (s *Session) dispatchHighlights(nodes []string) {
	s.gw.broadcast(s.Topic, events.TypeHighlight, events.Highlight{Nodes: nodes})
}

// HandleTimingChunk buffers one indexed timeline chunk. When the chunk
// completes the set, the flattened timeline replaces the scheduler's.
func (s *Session) HandleTimingChunk(chunk events.TimingChunk) {
	tl, complete := s.reassembler.Receive(chunk.ChunkIndex, chunk.TotalChunks, chunk.Timestamps)
	if !complete {
		return
	}
	s.scheduler.SetTimeline(tl)
	s.logger.Info("timeline assembled", zap.Int("entries", len(tl)))
}

// HandleAudioPosition feeds the client's playback clock into the scheduler,
// and anchors the estimator's projection to the first real playback instant.
// Anchoring only applies to the live path; a session driven by pre-rendered
// chunks has no projection to correct.
func (s *Session) HandleAudioPosition(pos events.AudioPosition) {
	projected := len(s.estimator.Timeline()) > 0

	s.mu.Lock()
	anchor := pos.Playing && !s.anchored && projected
	if anchor {
		s.anchored = true
	}
	s.mu.Unlock()

	if anchor {
		s.estimator.Anchor(pos.PositionMS)
		s.scheduler.SetTimeline(s.estimator.Timeline())
	}
	s.estimator.MarkPlayed(pos.PositionMS)
	s.scheduler.UpdatePosition(pos.PositionMS, pos.Playing)
}

// HandleLiveText projects timings for a streamed text fragment and appends
// them to the scheduler, so highlights track speech that has no
// pre-rendered timeline.
func (s *Session) HandleLiveText(text string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return
	}
	entries := s.estimator.Observe(words)
	s.scheduler.Append(entries)
}

// StartLive begins a realtime voice session for a doubt. Provider text
// deltas stream to the topic's clients and drive estimated highlights.
func (s *Session) StartLive(ctx context.Context, doubt string) error {
	if s.gw.tokens == nil || s.gw.peers == nil {
		return fmt.Errorf("live sessions not configured")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("session is stopped")
	}
	if s.live != nil {
		s.mu.Unlock()
		return fmt.Errorf("live session already running")
	}
	s.mu.Unlock()

	ctrl := realtime.NewController(s.gw.tokens, s.gw.negotiate, s.gw.peers, nil,
		realtime.Options{
			MaxRetries:       s.gw.cfg.MaxRetries,
			RetryBackoff:     s.gw.cfg.RetryBackoff,
			ICEGatherTimeout: s.gw.cfg.ICEGatherTimeout,
		},
		realtime.Callbacks{
			OnEvent:    s.onLiveEvent,
			OnState:    s.onLiveState,
			OnTerminal: s.onLiveTerminal,
		}, s.logger)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ctrl.Stop()
		return fmt.Errorf("session is stopped")
	}
	s.live = ctrl
	s.mu.Unlock()

	// A fresh conversation starts from a clean projection.
	s.estimator.Reset()
	s.resetAnchor()

	if err := ctrl.Start(ctx, s.Topic, doubt, s.gw.catalog.Get(s.Topic)); err != nil {
		s.mu.Lock()
		s.live = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// StopLive tears down the live voice session if one is running.
func (s *Session) StopLive() {
	s.mu.Lock()
	ctrl := s.live
	s.live = nil
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Stop()
	}
	s.scheduler.Clear()
}

func (s *Session) onLiveEvent(env events.Envelope) {
	switch env.Type {
	case events.TypeTextDelta:
		delta, err := events.Decode[events.TextDelta](env)
		if err != nil {
			s.logger.Warn("decode text delta", zap.Error(err))
			return
		}
		s.HandleLiveText(delta.Text)
		s.gw.broadcast(s.Topic, events.TypeDoubtChunk, events.DoubtChunk{Text: delta.Text})
	case events.TypeDoubtComplete:
		s.gw.broadcast(s.Topic, events.TypeDoubtComplete, events.DoubtComplete{})
	case events.TypeError:
		ev, err := events.Decode[events.ErrorEvent](env)
		if err != nil {
			return
		}
		s.logger.Warn("provider error", zap.String("message", ev.Message))
		s.gw.broadcast(s.Topic, events.TypeError, ev)
	}
}

func (s *Session) onLiveState(state realtime.State) {
	s.logger.Info("live session state", zap.String("state", state.String()))
}

func (s *Session) onLiveTerminal(err error) {
	s.gw.broadcast(s.Topic, events.TypeError, events.ErrorEvent{
		Code:    "LIVE_SESSION_FAILED",
		Message: err.Error(),
	})
	s.mu.Lock()
	s.live = nil
	s.mu.Unlock()
	s.scheduler.Clear()
}

func (s *Session) resetAnchor() {
	s.mu.Lock()
	s.anchored = false
	s.mu.Unlock()
}

func (s *Session) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	ctrl := s.live
	s.live = nil
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Stop()
	}
	s.scheduler.Stop()
	s.reassembler.Reset()
}
