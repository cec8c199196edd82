package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// PionFactory builds peers with Opus registered and a NACK responder
// configured, one PeerConnection per connection attempt.
type PionFactory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

// NewPionFactory configures the WebRTC API once; peers share it.
func NewPionFactory(stunServers []string) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	ir := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	ir.Add(responder)

	urls := make([]string, len(stunServers))
	copy(urls, stunServers)

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
		),
		iceServers: []webrtc.ICEServer{{URLs: urls}},
	}, nil
}

// NewPeer creates a fresh PeerConnection.
func (f *PionFactory) NewPeer() (Peer, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &pionDataChannel{dc: dc}, nil
}

func (p *pionPeer) AddAudioSource(stream MicStream) error {
	provider, ok := stream.(interface{ Track() webrtc.TrackLocal })
	if !ok {
		return fmt.Errorf("stream does not expose a local track")
	}
	if _, err := p.pc.AddTrack(provider.Track()); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	return nil
}

// Offer creates the local description and waits for ICE gathering, capped at
// gatherTimeout. On timeout the partial candidate set is used.
func (p *pionPeer) Offer(ctx context.Context, gatherTimeout time.Duration) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	gatherDone := webrtc.GatheringCompletePromise(p.pc)
	select {
	case <-gatherDone:
	case <-time.After(gatherTimeout):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return p.pc.LocalDescription().SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(ConnState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			fn(ConnConnected)
		case webrtc.PeerConnectionStateDisconnected:
			fn(ConnDisconnected)
		case webrtc.PeerConnectionStateFailed:
			fn(ConnFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(ConnClosed)
		}
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionDataChannel struct {
	dc *webrtc.DataChannel
}

func (d *pionDataChannel) OnOpen(fn func()) {
	d.dc.OnOpen(fn)
}

func (d *pionDataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *pionDataChannel) Send(data []byte) error {
	return d.dc.Send(data)
}

func (d *pionDataChannel) Close() error {
	return d.dc.Close()
}

// SampleMicrophone adapts externally supplied Opus frames into a local
// track, for callers that relay captured audio instead of reading a device.
type SampleMicrophone struct {
	track *webrtc.TrackLocalStaticSample
}

// NewSampleMicrophone creates a microphone backed by a static sample track.
func NewSampleMicrophone() (*SampleMicrophone, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio-in",
		"narration-gateway",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &SampleMicrophone{track: track}, nil
}

// Open returns the stream immediately; the device is whatever feeds Write.
func (m *SampleMicrophone) Open(_ context.Context) (MicStream, error) {
	return &sampleStream{track: m.track}, nil
}

// Write queues one Opus frame for transmission.
func (m *SampleMicrophone) Write(data []byte, duration time.Duration) error {
	return m.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

type sampleStream struct {
	track *webrtc.TrackLocalStaticSample
}

func (s *sampleStream) Track() webrtc.TrackLocal { return s.track }

func (s *sampleStream) Close() error { return nil }
