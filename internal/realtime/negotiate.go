package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Negotiator exchanges the local SDP offer for the provider's answer.
type Negotiator interface {
	Exchange(ctx context.Context, offerSDP string, token *Token) (answerSDP string, err error)
}

// HTTPNegotiator posts the offer to the realtime endpoint, authenticated
// with the ephemeral token, and reads the answer SDP from the body.
type HTTPNegotiator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPNegotiator creates a negotiator against baseURL, e.g.
// https://api.openai.com/v1/realtime.
func NewHTTPNegotiator(baseURL string) *HTTPNegotiator {
	return &HTTPNegotiator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Exchange sends the offer and returns the answer SDP.
func (n *HTTPNegotiator) Exchange(ctx context.Context, offerSDP string, token *Token) (string, error) {
	endpoint := n.baseURL + "?model=" + url.QueryEscape(token.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build sdp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token.ClientSecret)

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sdp exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("sdp exchange returned %d: %s", resp.StatusCode, msg)
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read sdp answer: %w", err)
	}
	if len(answer) == 0 {
		return "", fmt.Errorf("empty sdp answer")
	}
	return string(answer), nil
}
