package events

import (
	"errors"
	"testing"

	"github.com/conceptviz/narration-gateway/internal/timing"
)

func TestMarshalDecodeRoundTrip(t *testing.T) {
	raw, err := Marshal(TypeTimingChunk, "er", 1234, TimingChunk{
		ChunkIndex:  1,
		TotalChunks: 3,
		Timestamps: timing.Timeline{
			{Word: "student", StartMS: 300, EndMS: 700, NodeID: "student"},
		},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	r := NewRouter(nil)
	var got TimingChunk
	r.Register(TypeTimingChunk, func(env Envelope) error {
		if env.Topic != "er" {
			t.Errorf("topic = %q, want er", env.Topic)
		}
		var err error
		got, err = Decode[TimingChunk](env)
		return err
	})

	if err := r.Dispatch(raw); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.ChunkIndex != 1 || got.TotalChunks != 3 || len(got.Timestamps) != 1 {
		t.Fatalf("decoded chunk = %+v", got)
	}
	if got.Timestamps[0].NodeID != "student" {
		t.Fatalf("entry lost its node: %+v", got.Timestamps[0])
	}
}

func TestDispatchUnknownTypeIsNotAnError(t *testing.T) {
	r := NewRouter(nil)
	if err := r.Dispatch([]byte(`{"type":"something.new","payload":{}}`)); err != nil {
		t.Fatalf("unknown type should be skipped, got %v", err)
	}
}

func TestDispatchMalformedEnvelope(t *testing.T) {
	r := NewRouter(nil)
	if err := r.Dispatch([]byte(`{not json`)); err == nil {
		t.Fatal("malformed envelope must be an error")
	}
}

func TestDispatchHandlerErrorPropagates(t *testing.T) {
	r := NewRouter(nil)
	boom := errors.New("boom")
	r.Register(TypeDoubt, func(Envelope) error { return boom })

	err := r.Dispatch([]byte(`{"type":"doubt","payload":{"doubt":"?","topic":"er"}}`))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want handler error", err)
	}
}

func TestDecodeMissingPayload(t *testing.T) {
	if _, err := Decode[Doubt](Envelope{Type: TypeDoubt}); err == nil {
		t.Fatal("Decode with empty payload must fail")
	}
}
