package realtime

import (
	"context"
	"time"
)

// ConnState reports peer connection health, decoupled from the underlying
// WebRTC implementation so tests can drive the controller with fakes.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DataChannel is the ordered message channel to the voice provider.
type DataChannel interface {
	OnOpen(func())
	OnMessage(func(data []byte))
	Send(data []byte) error
	Close() error
}

// Peer is one WebRTC peer connection attempt. CreateDataChannel must be
// called before Offer so the channel is negotiated in the SDP.
type Peer interface {
	CreateDataChannel(label string) (DataChannel, error)
	AddAudioSource(stream MicStream) error
	Offer(ctx context.Context, gatherTimeout time.Duration) (sdp string, err error)
	SetAnswer(sdp string) error
	OnConnectionStateChange(func(ConnState))
	Close() error
}

// PeerFactory creates a fresh Peer for each connection attempt.
type PeerFactory interface {
	NewPeer() (Peer, error)
}

// Microphone acquires the local audio capture device.
type Microphone interface {
	Open(ctx context.Context) (MicStream, error)
}

// MicStream is an open capture stream. Close releases the device.
type MicStream interface {
	Close() error
}
