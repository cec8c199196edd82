package stream

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conceptviz/narration-gateway/internal/config"
	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/events"
	"github.com/conceptviz/narration-gateway/internal/gateway"
	"github.com/conceptviz/narration-gateway/internal/narration"
	"github.com/conceptviz/narration-gateway/internal/relay"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	return newTestHubWith(t, &narration.MockTTSClient{DurationMS: 3000}, nil)
}

func newTestHubWith(t *testing.T, tts *narration.MockTTSClient, rly *relay.Relay) (*Hub, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		MaxSessions:    4,
		TickInterval:   5 * time.Millisecond,
		DebounceWindow: 20 * time.Millisecond,
		QuietPeriod:    60 * time.Millisecond,
		WordsPerMinute: 150,
	}
	catalog := diagram.NewCatalog()
	svc := narration.NewService(tts,
		&narration.MockLLMClient{}, nil, catalog, "alloy", 150, nil)
	gw := gateway.NewForTest(cfg, svc, catalog, nil, nil, nil, nil)
	hub := NewHub(gw, 2, rly, nil)
	gw.SetBroadcaster(hub)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		gw.Shutdown()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, topic string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?topic=" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env events.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) events.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("never received %s", typ)
	return events.Envelope{}
}

func TestConnectSendsVisualizationFirst(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "er")

	env := readEnvelope(t, conn)
	if env.Type != events.TypeVisualization {
		t.Fatalf("first frame type = %s, want %s", env.Type, events.TypeVisualization)
	}
	viz, err := events.Decode[events.Visualization](env)
	if err != nil {
		t.Fatalf("decode visualization: %v", err)
	}
	if len(viz.Graph.Nodes) == 0 {
		t.Fatal("visualization carries no nodes")
	}
}

func TestMissingTopicRejected(t *testing.T) {
	_, srv := newTestHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure without topic")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %+v", resp)
	}
}

func TestNarrationStreamsChunkedTimings(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "er")
	readEnvelope(t, conn) // visualization

	req, err := events.Marshal(events.TypeNarration, "er", time.Now().UnixMilli(),
		events.Narration{Text: "students enroll in courses today"})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	// 5 words at chunk size 2 means 3 chunks, then the narration result.
	var chunks []events.TimingChunk
	for len(chunks) < 3 {
		env := readUntil(t, conn, events.TypeTimingChunk)
		chunk, err := events.Decode[events.TimingChunk](env)
		if err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.TotalChunks != 3 {
			t.Fatalf("chunk %d reports %d total", i, c.TotalChunks)
		}
	}

	env := readUntil(t, conn, events.TypeNarration)
	var res narration.Result
	if err := json.Unmarshal(env.Payload, &res); err != nil {
		t.Fatalf("decode narration: %v", err)
	}
	if res.AudioURL == "" {
		t.Fatal("narration result has no audio URL")
	}
	if len(res.WordTimings) != 5 {
		t.Fatalf("narration carries %d timings, want 5", len(res.WordTimings))
	}

	readUntil(t, conn, events.TypeAudioComplete)
}

func TestNarrationRelaysAudioChunks(t *testing.T) {
	audio := make([]byte, 20000)
	for i := range audio {
		audio[i] = byte(i % 251)
	}
	audioSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(audio)
	}))
	defer audioSrv.Close()

	tts := &narration.MockTTSClient{DurationMS: 3000, AudioURL: audioSrv.URL + "/narration.mp3"}
	_, srv := newTestHubWith(t, tts, relay.New(true, nil))
	conn := dial(t, srv, "er")
	readEnvelope(t, conn) // visualization

	req, _ := events.Marshal(events.TypeNarration, "er", time.Now().UnixMilli(),
		events.Narration{Text: "students enroll in courses"})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got []byte
	seq := 0
	for {
		env := readEnvelope(t, conn)
		if env.Type == events.TypeAudioComplete {
			break
		}
		if env.Type != events.TypeAudioChunk {
			continue
		}
		chunk, err := events.Decode[events.AudioChunk](env)
		if err != nil {
			t.Fatalf("decode audio chunk: %v", err)
		}
		if chunk.Seq != seq {
			t.Fatalf("chunk seq = %d, want %d", chunk.Seq, seq)
		}
		seq++
		got = append(got, chunk.Data...)
	}

	if !bytes.Equal(got, audio) {
		t.Fatalf("relayed %d bytes, want %d intact", len(got), len(audio))
	}
}

func TestAudioPositionDrivesHighlightBroadcast(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "er")
	readEnvelope(t, conn) // visualization

	req, _ := events.Marshal(events.TypeNarration, "er", time.Now().UnixMilli(),
		events.Narration{Text: "the student enrolls"})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, events.TypeAudioComplete)

	pos, _ := events.Marshal(events.TypeAudioPosition, "er", time.Now().UnixMilli(),
		events.AudioPosition{PositionMS: 1200, Playing: true})
	if err := conn.WriteMessage(websocket.TextMessage, pos); err != nil {
		t.Fatalf("write position: %v", err)
	}

	env := readUntil(t, conn, events.TypeHighlight)
	h, err := events.Decode[events.Highlight](env)
	if err != nil {
		t.Fatalf("decode highlight: %v", err)
	}
	if len(h.Nodes) == 0 {
		t.Fatal("highlight carries no nodes")
	}
}

func TestDoubtRepliesWithTimedExplanation(t *testing.T) {
	_, srv := newTestHub(t)
	conn := dial(t, srv, "er")
	readEnvelope(t, conn) // visualization

	req, _ := events.Marshal(events.TypeDoubt, "er", time.Now().UnixMilli(),
		events.Doubt{Doubt: "what is an enrollment?", Topic: "er"})
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readUntil(t, conn, events.TypeDoubtChunk)
	chunk, err := events.Decode[events.DoubtChunk](env)
	if err != nil {
		t.Fatalf("decode doubt chunk: %v", err)
	}
	if chunk.Text == "" {
		t.Fatal("doubt chunk has no text")
	}
	readUntil(t, conn, events.TypeDoubtComplete)
}
