package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	maxURLLength = 2048
	chunkSize    = 8192
)

// Relay fetches synthesized narration audio and hands it to a consumer in
// fixed-size chunks, so the stream layer can forward audio incrementally
// instead of buffering whole files.
type Relay struct {
	client       *http.Client
	allowPrivate bool
	logger       *zap.Logger
}

// New creates a relay. allowPrivate permits audio URLs that resolve to
// private addresses, which is needed when the synthesis service runs on the
// same network.
func New(allowPrivate bool, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		client:       &http.Client{Timeout: 2 * time.Minute},
		allowPrivate: allowPrivate,
		logger:       logger,
	}
}

// ValidateURL checks that an audio URL is safe to fetch:
//   - max length 2048 characters
//   - scheme must be http or https
//   - no embedded credentials (user:pass@host)
//   - hostname must resolve to a public IP unless private is allowed
func (r *Relay) ValidateURL(rawURL string) error {
	if len(rawURL) > maxURLLength {
		return fmt.Errorf("URL too long (%d chars, max %d)", len(rawURL), maxURLLength)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q: only http and https are allowed", u.Scheme)
	}

	if u.User != nil {
		return fmt.Errorf("URLs with embedded credentials are not allowed")
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no hostname")
	}

	if r.allowPrivate {
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("no DNS results for %q", host)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("URL resolves to private/reserved IP %s", ip)
		}
	}
	return nil
}

// Stream fetches the audio at rawURL and calls fn for each chunk in order.
// The final call carries last=true with whatever bytes remain, possibly none.
// A non-nil error from fn aborts the fetch.
func (r *Relay) Stream(ctx context.Context, rawURL string, fn func(chunk []byte, last bool) error) error {
	if err := r.ValidateURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build audio request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio source returned %d", resp.StatusCode)
	}

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, err := io.ReadFull(resp.Body, buf)
		total += int64(n)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if cbErr := fn(buf[:n], true); cbErr != nil {
				return cbErr
			}
			r.logger.Debug("audio relayed", zap.String("url", rawURL), zap.Int64("bytes", total))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		if cbErr := fn(buf[:n], false); cbErr != nil {
			return cbErr
		}
	}
}

var privateRanges []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, network)
	}
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
