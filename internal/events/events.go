package events

import (
	"encoding/json"
	"fmt"

	"github.com/conceptviz/narration-gateway/internal/diagram"
	"github.com/conceptviz/narration-gateway/internal/timing"
)

// Message type tags carried in Envelope.Type. Downstream logic only ever sees
// the normalized variants below; transport-specific shapes are mapped to
// these at the boundary.
const (
	TypeVisualization = "visualization"
	TypeNarration     = "narration"
	TypeTextDelta     = "text_delta"
	TypeTimingChunk   = "timing_chunk"
	TypeAudioChunk    = "audio_chunk"
	TypeAudioComplete = "audio_complete"
	TypeDoubt         = "doubt"
	TypeDoubtChunk    = "doubt_chunk"
	TypeDoubtComplete = "doubt_complete"
	TypeAudioPosition = "audio_position"
	TypeSessionStart  = "start_webrtc_session"
	TypeSessionStop   = "stop_webrtc_session"
	TypeHighlight     = "highlight"
	TypeError         = "error"
)

// Envelope is the top-level wrapper for all streaming transport messages.
type Envelope struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Visualization carries the diagram data contract for a topic.
type Visualization struct {
	Graph diagram.Graph `json:"graph"`
}

// Narration requests pre-rendered narration for the given script text.
type Narration struct {
	Text string `json:"text"`
}

// TextDelta is one streamed fragment of narration or answer text.
type TextDelta struct {
	Text string `json:"text"`
}

// TimingChunk is one indexed slice of a narration timeline.
type TimingChunk struct {
	ChunkIndex  int             `json:"chunk_index"`
	TotalChunks int             `json:"total_chunks"`
	Timestamps  timing.Timeline `json:"timestamps"`
}

// AudioChunk is one slice of narration audio, base64 in transit.
type AudioChunk struct {
	Data []byte `json:"data"`
	Seq  int    `json:"seq"`
}

// AudioComplete signals the end of the audio stream.
type AudioComplete struct {
	DurationMS int64 `json:"durationMs,omitempty"`
}

// Doubt is a Q&A request about the current diagram.
type Doubt struct {
	Doubt         string         `json:"doubt"`
	Topic         string         `json:"topic"`
	CurrentState  map[string]any `json:"currentState,omitempty"`
	RelevantNodes []string       `json:"relevantNodes,omitempty"`
}

// DoubtChunk is one streamed fragment of a doubt answer.
type DoubtChunk struct {
	Text string `json:"text"`
}

// DoubtComplete signals the end of a doubt answer stream.
type DoubtComplete struct{}

// AudioPosition reports the client's playback clock.
type AudioPosition struct {
	PositionMS int64 `json:"position_ms"`
	Playing    bool  `json:"playing"`
}

// SessionStart requests a realtime voice session for a doubt.
type SessionStart struct {
	SessionID string `json:"sessionId"`
	Topic     string `json:"topic"`
	Doubt     string `json:"doubt"`
}

// Highlight is the scheduler's output: the node IDs to emphasize now.
type Highlight struct {
	Nodes []string `json:"nodes"`
}

// ErrorEvent reports a failure to the client.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Marshal wraps a typed payload in an envelope and encodes it.
func Marshal(typ, topic string, timestamp int64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{
		Type:      typ,
		Topic:     topic,
		Timestamp: timestamp,
		Payload:   raw,
	})
}

// Decode unmarshals an envelope's payload into the typed variant for its tag.
func Decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, fmt.Errorf("%s event has no payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return v, nil
}
