package stream

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/events"
	"github.com/conceptviz/narration-gateway/internal/gateway"
	"github.com/conceptviz/narration-gateway/internal/metrics"
	"github.com/conceptviz/narration-gateway/internal/narration"
	"github.com/conceptviz/narration-gateway/internal/relay"
	"github.com/conceptviz/narration-gateway/internal/timing"
)

// Hub upgrades WebSocket clients, routes their messages into the gateway,
// and fans gateway output back out per topic. It is the gateway's
// Broadcaster.
type Hub struct {
	gw        *gateway.Gateway
	chunkSize int
	relay     *relay.Relay
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub. chunkSize bounds how many timeline entries one
// timing_chunk message carries. A nil relay disables server-streamed audio;
// clients then fetch the audio URL themselves.
func NewHub(gw *gateway.Gateway, chunkSize int, rly *relay.Relay, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &Hub{
		gw:        gw,
		chunkSize: chunkSize,
		relay:     rly,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// Broadcast sends msg to every client watching the topic.
func (h *Hub) Broadcast(topic string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.topic == topic {
			c.send(msg)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and runs the client until it disconnects.
// Each client owns one topic session; closing the socket tears it down.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "topic query parameter required", http.StatusBadRequest)
		return
	}

	sess, err := h.gw.CreateSession(topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.gw.DeleteSession(sess.ID)
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, topic, sess)
	h.register(client)

	h.logger.Info("client connected",
		zap.String("topic", topic),
		zap.String("session", sess.ID),
	)

	// Opening frame: the topic's diagram, so the renderer can draw before
	// any narration starts.
	if graph := h.gw.Catalog().Get(topic); graph != nil {
		client.sendEvent(events.TypeVisualization, events.Visualization{Graph: *graph})
	}

	go client.writePump()
	client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.StreamClients.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	if ok {
		metrics.StreamClients.Dec()
		h.gw.DeleteSession(c.sess.ID)
		h.logger.Info("client disconnected", zap.String("session", c.sess.ID))
	}
}

// router builds the per-client dispatch table for inbound messages.
func (h *Hub) router(c *Client) *events.Router {
	r := events.NewRouter(h.logger)

	r.Register(events.TypeNarration, func(env events.Envelope) error {
		req, err := events.Decode[events.Narration](env)
		if err != nil {
			return err
		}
		go h.generateNarration(c, req.Text)
		return nil
	})

	r.Register(events.TypeDoubt, func(env events.Envelope) error {
		req, err := events.Decode[events.Doubt](env)
		if err != nil {
			return err
		}
		go h.processDoubt(c, req)
		return nil
	})

	r.Register(events.TypeTimingChunk, func(env events.Envelope) error {
		chunk, err := events.Decode[events.TimingChunk](env)
		if err != nil {
			return err
		}
		c.sess.HandleTimingChunk(chunk)
		return nil
	})

	r.Register(events.TypeAudioPosition, func(env events.Envelope) error {
		pos, err := events.Decode[events.AudioPosition](env)
		if err != nil {
			return err
		}
		c.sess.HandleAudioPosition(pos)
		return nil
	})

	r.Register(events.TypeSessionStart, func(env events.Envelope) error {
		req, err := events.Decode[events.SessionStart](env)
		if err != nil {
			return err
		}
		if err := c.sess.StartLive(context.Background(), req.Doubt); err != nil {
			c.sendEvent(events.TypeError, events.ErrorEvent{
				Code:    "LIVE_START_FAILED",
				Message: err.Error(),
			})
		}
		return nil
	})

	r.Register(events.TypeSessionStop, func(events.Envelope) error {
		c.sess.StopLive()
		return nil
	})

	return r
}

// generateNarration runs the pre-rendered path: synthesize, then stream the
// timeline in indexed chunks followed by the audio location.
func (h *Hub) generateNarration(c *Client, text string) {
	if text == "" {
		if graph := h.gw.Catalog().Get(c.topic); graph != nil {
			text = graph.Narration
		}
	}

	res, err := h.gw.Narration().Generate(context.Background(), c.topic, text)
	if err != nil {
		h.logger.Warn("narration failed", zap.String("topic", c.topic), zap.Error(err))
		c.sendEvent(events.TypeError, events.ErrorEvent{
			Code:    "NARRATION_FAILED",
			Message: err.Error(),
		})
		return
	}

	h.sendTimingChunks(c, res.WordTimings)
	c.sendEvent(events.TypeNarration, res)
	if h.relay != nil && res.AudioURL != "" {
		h.streamAudio(c, res.AudioURL)
	}
	c.sendEvent(events.TypeAudioComplete, events.AudioComplete{DurationMS: res.DurationMS})
}

// streamAudio relays the synthesized audio to the client as sequenced
// chunks. Relay failures are reported but do not abort the narration; the
// client still holds the audio URL from the narration result.
func (h *Hub) streamAudio(c *Client, audioURL string) {
	seq := 0
	err := h.relay.Stream(context.Background(), audioURL, func(chunk []byte, _ bool) error {
		if len(chunk) == 0 {
			return nil
		}
		c.sendEvent(events.TypeAudioChunk, events.AudioChunk{Data: chunk, Seq: seq})
		seq++
		metrics.AudioBytesRelayedTotal.Add(float64(len(chunk)))
		return nil
	})
	if err != nil {
		h.logger.Warn("audio relay failed", zap.String("url", audioURL), zap.Error(err))
		c.sendEvent(events.TypeError, events.ErrorEvent{
			Code:    "AUDIO_RELAY_FAILED",
			Message: err.Error(),
		})
	}
}

func (h *Hub) processDoubt(c *Client, req events.Doubt) {
	resp, err := h.gw.Narration().ProcessDoubt(context.Background(), narration.DoubtRequest{
		Doubt:         req.Doubt,
		Topic:         req.Topic,
		CurrentState:  req.CurrentState,
		RelevantNodes: req.RelevantNodes,
	})
	if err != nil {
		h.logger.Warn("doubt failed", zap.String("topic", c.topic), zap.Error(err))
		c.sendEvent(events.TypeError, events.ErrorEvent{
			Code:    "DOUBT_FAILED",
			Message: err.Error(),
		})
		return
	}

	h.sendTimingChunks(c, resp.WordTimings)
	c.sendEvent(events.TypeDoubtChunk, events.DoubtChunk{Text: resp.Explanation})
	c.sendEvent(events.TypeDoubtComplete, events.DoubtComplete{})
}

// sendTimingChunks splits a timeline into indexed chunks and feeds them both
// to the client and to the session's reassembler, so server-generated
// timings drive highlights the same way client-supplied ones do.
func (h *Hub) sendTimingChunks(c *Client, tl timing.Timeline) {
	if len(tl) == 0 {
		return
	}
	total := (len(tl) + h.chunkSize - 1) / h.chunkSize
	for i := 0; i < total; i++ {
		start := i * h.chunkSize
		end := start + h.chunkSize
		if end > len(tl) {
			end = len(tl)
		}
		chunk := events.TimingChunk{
			ChunkIndex:  i,
			TotalChunks: total,
			Timestamps:  tl[start:end],
		}
		c.sess.HandleTimingChunk(chunk)
		c.sendEvent(events.TypeTimingChunk, chunk)
	}
}
