package voice

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RemoteAudioTrack is the read side of a negotiated inbound audio track.
type RemoteAudioTrack interface {
	ID() string
	ReadRTP() (*rtp.Packet, error)
}

// PeerConnection is the subset of a WebRTC peer connection the voice layer
// drives. Implementations must be safe for use from a single goroutine;
// callbacks may fire from any goroutine.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(cand webrtc.ICECandidateInit) error
	AttachAudio(track webrtc.TrackLocal) error
	OnICECandidate(fn func(cand webrtc.ICECandidateInit))
	OnTrack(fn func(track RemoteAudioTrack))
	OnICEConnectionStateChange(fn func(state webrtc.ICEConnectionState))
	Close() error
}

// PeerConnectionFactory builds peer connections with a shared ICE
// configuration.
type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PionFactory builds pion-backed peer connections.
type PionFactory struct {
	config webrtc.Configuration
	logger *zap.SugaredLogger
}

// NewPionFactory configures a factory with the given STUN/TURN servers.
func NewPionFactory(iceServers []string, logger *zap.SugaredLogger) *PionFactory {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, u := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return &PionFactory{
		config: webrtc.Configuration{ICEServers: servers},
		logger: logger,
	}
}

func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionPeerConnection{pc: pc, logger: f.logger}, nil
}

type pionPeerConnection struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger
}

func (p *pionPeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeerConnection) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *pionPeerConnection) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(cand)
}

// AttachAudio adds the local track to the connection and drains its RTCP
// stream so congestion feedback does not back up the interceptor chain.
func (p *pionPeerConnection) AttachAudio(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}
	go p.drainRTCP(sender)
	return nil
}

func (p *pionPeerConnection) drainRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debugw("rtcp read ended", "error", err)
			}
			return
		}
		for _, pkt := range packets {
			if report, ok := pkt.(*rtcp.ReceiverReport); ok {
				p.logger.Debugw("receiver report",
					"reports", len(report.Reports))
			}
		}
	}
}

func (p *pionPeerConnection) OnICECandidate(fn func(cand webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(cand.ToJSON())
	})
}

func (p *pionPeerConnection) OnTrack(fn func(track RemoteAudioTrack)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		fn(&pionRemoteTrack{remote: remote})
	})
}

func (p *pionPeerConnection) OnICEConnectionStateChange(fn func(state webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(fn)
}

func (p *pionPeerConnection) Close() error {
	return p.pc.Close()
}

type pionRemoteTrack struct {
	remote *webrtc.TrackRemote
}

func (t *pionRemoteTrack) ID() string {
	return t.remote.ID()
}

func (t *pionRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.remote.ReadRTP()
	return pkt, err
}
