package realtime

import (
	"encoding/json"
	"time"

	"github.com/conceptviz/narration-gateway/internal/events"
)

// providerEvent covers the wire shapes the realtime data channel carries.
// Older sessions send conversation.item.delta with nested content parts;
// newer ones send response.*.delta with a flat delta string. Both normalize
// to the same text_delta event.
type providerEvent struct {
	Type  string          `json:"type"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code,omitempty"`
	} `json:"error,omitempty"`
}

type itemDelta struct {
	Content []struct {
		Type      string `json:"type"`
		TextDelta struct {
			Text string `json:"text"`
		} `json:"text_delta"`
	} `json:"content"`
}

// Normalize maps one raw provider message to a normalized envelope. The
// second return is false for malformed messages and types downstream logic
// does not consume; the caller drops those.
func Normalize(raw []byte) (events.Envelope, bool) {
	var pe providerEvent
	if err := json.Unmarshal(raw, &pe); err != nil {
		return events.Envelope{}, false
	}

	now := time.Now().UnixMilli()

	switch pe.Type {
	case "conversation.item.delta":
		var d itemDelta
		if err := json.Unmarshal(pe.Delta, &d); err != nil {
			return events.Envelope{}, false
		}
		for _, part := range d.Content {
			if part.Type == "text_delta" && part.TextDelta.Text != "" {
				return envelope(events.TypeTextDelta, now,
					events.TextDelta{Text: part.TextDelta.Text})
			}
		}
		return events.Envelope{}, false

	case "response.text.delta", "response.audio_transcript.delta":
		var text string
		if err := json.Unmarshal(pe.Delta, &text); err != nil {
			return events.Envelope{}, false
		}
		if text == "" {
			return events.Envelope{}, false
		}
		return envelope(events.TypeTextDelta, now, events.TextDelta{Text: text})

	case "conversation.item.complete", "response.done":
		return envelope(events.TypeDoubtComplete, now, events.DoubtComplete{})

	case "error":
		msg := "unknown provider error"
		var code string
		if pe.Error != nil {
			msg = pe.Error.Message
			code = pe.Error.Code
		}
		return envelope(events.TypeError, now, events.ErrorEvent{Code: code, Message: msg})
	}

	return events.Envelope{}, false
}

func envelope(typ string, ts int64, payload any) (events.Envelope, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return events.Envelope{}, false
	}
	return events.Envelope{Type: typ, Timestamp: ts, Payload: raw}, true
}
