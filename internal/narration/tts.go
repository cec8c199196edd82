package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TTSClient synthesizes narration audio for a script.
type TTSClient interface {
	Synthesize(ctx context.Context, text, voice string) (*TTSResult, error)
}

// TTSResult is the synthesis output: where the audio lives and how long it runs.
type TTSResult struct {
	AudioURL   string `json:"audio_url"`
	DurationMS int64  `json:"duration_ms"`
}

// HTTPTTSClient speaks to the synthesis service over REST.
type HTTPTTSClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTTSClient creates a TTS client against the given base URL.
func NewHTTPTTSClient(baseURL string) *HTTPTTSClient {
	return &HTTPTTSClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Synthesize posts the script and returns the audio location and duration.
func (c *HTTPTTSClient) Synthesize(ctx context.Context, text, voice string) (*TTSResult, error) {
	body, err := json.Marshal(ttsRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts service returned %d: %s", resp.StatusCode, msg)
	}

	var out TTSResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tts response: %w", err)
	}
	return &out, nil
}

// MockTTSClient returns canned results for testing. A negative DurationMS
// reports unknown duration.
type MockTTSClient struct {
	Delay      time.Duration
	AudioURL   string
	DurationMS int64
	Err        error

	Calls int
}

func (m *MockTTSClient) Synthesize(ctx context.Context, text, voice string) (*TTSResult, error) {
	m.Calls++
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	url := m.AudioURL
	if url == "" {
		url = "http://audio.example.com/narration.mp3"
	}
	dur := m.DurationMS
	if dur == 0 {
		dur = EstimateDurationMS(text, 150)
	}
	if dur < 0 {
		dur = 0
	}
	return &TTSResult{AudioURL: url, DurationMS: dur}, nil
}
