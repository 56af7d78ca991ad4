package voice

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
)

// LinkRole records which side of SDP negotiation this client took for a link.
type LinkRole string

const (
	RoleOfferer  LinkRole = "offerer"
	RoleAnswerer LinkRole = "answerer"
)

// PeerLink is one negotiated (or negotiating) connection to a remote
// participant. Channel links carry the channel id; 1:1 call links leave it
// empty. ICE candidates that arrive before the remote description are held in
// pending and flushed in arrival order once it lands.
type PeerLink struct {
	Remote  domain.UserID
	Channel domain.ChannelID
	Role    LinkRole
	PC      PeerConnection

	pending   []webrtc.ICECandidateInit
	remoteSet bool
	gen       uint64
}

// Generation identifies this link instance. Callbacks captured before a
// teardown compare generations to avoid acting on a replaced link.
func (l *PeerLink) Generation() uint64 { return l.gen }

// PeerManager tracks every live PeerLink, at most one per remote user. The
// call and channel subsystems share it; their contexts never overlap because
// a client cannot be in a call and a channel at once.
type PeerManager struct {
	factory PeerConnectionFactory
	media   *MediaRegistry
	logger  *zap.SugaredLogger

	links   map[domain.UserID]*PeerLink
	nextGen uint64
}

func NewPeerManager(factory PeerConnectionFactory, media *MediaRegistry, logger *zap.SugaredLogger) *PeerManager {
	return &PeerManager{
		factory: factory,
		media:   media,
		logger:  logger,
		links:   make(map[domain.UserID]*PeerLink),
	}
}

// LinkCallbacks receive link lifecycle signals. They fire on pion's internal
// goroutines; the orchestrator reposts them onto its task loop.
type LinkCallbacks struct {
	OnCandidate func(link *PeerLink, cand webrtc.ICECandidateInit)
	OnTrack     func(link *PeerLink, track RemoteAudioTrack)
	OnState     func(link *PeerLink, state webrtc.ICEConnectionState)
}

// Create builds a link to the remote user with the local audio track already
// attached. An existing link for the user is returned as-is.
func (m *PeerManager) Create(remote domain.UserID, channel domain.ChannelID, role LinkRole, cb LinkCallbacks) (*PeerLink, error) {
	if link, ok := m.links[remote]; ok {
		return link, nil
	}

	local, err := m.media.EnsureLocal()
	if err != nil {
		return nil, err
	}

	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create link to %s: %w", remote, err)
	}
	if err := pc.AttachAudio(local.Track()); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to attach audio for %s: %w", remote, err)
	}

	m.nextGen++
	link := &PeerLink{
		Remote:  remote,
		Channel: channel,
		Role:    role,
		PC:      pc,
		gen:     m.nextGen,
	}

	pc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		if cb.OnCandidate != nil {
			cb.OnCandidate(link, cand)
		}
	})
	pc.OnTrack(func(track RemoteAudioTrack) {
		if cb.OnTrack != nil {
			cb.OnTrack(link, track)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if cb.OnState != nil {
			cb.OnState(link, state)
		}
	})

	m.links[remote] = link
	m.logger.Debugw("peer link created",
		"remote", string(remote),
		"channel", string(channel),
		"role", string(role))
	return link, nil
}

// Get returns the live link for the remote user, if any.
func (m *PeerManager) Get(remote domain.UserID) (*PeerLink, bool) {
	link, ok := m.links[remote]
	return link, ok
}

// IsCurrent reports whether the given link is still the live one for its
// remote. A stale link means the connection was torn down or replaced after
// the caller captured it.
func (m *PeerManager) IsCurrent(link *PeerLink) bool {
	current, ok := m.links[link.Remote]
	return ok && current.gen == link.gen
}

// SetRemoteDescription applies the remote SDP and flushes any candidates that
// were buffered while waiting for it, in the order they arrived.
func (m *PeerManager) SetRemoteDescription(link *PeerLink, desc webrtc.SessionDescription) error {
	if err := link.PC.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description from %s: %w", link.Remote, err)
	}
	link.remoteSet = true
	for _, cand := range link.pending {
		if err := link.PC.AddICECandidate(cand); err != nil {
			m.logger.Warnw("failed to apply buffered candidate",
				"remote", string(link.Remote), "error", err)
		}
	}
	link.pending = nil
	return nil
}

// AddCandidate applies the candidate immediately when the remote description
// is set, and buffers it otherwise.
func (m *PeerManager) AddCandidate(link *PeerLink, cand webrtc.ICECandidateInit) error {
	if !link.remoteSet {
		link.pending = append(link.pending, cand)
		return nil
	}
	if err := link.PC.AddICECandidate(cand); err != nil {
		return fmt.Errorf("failed to add candidate from %s: %w", link.Remote, err)
	}
	return nil
}

// BufferEarly holds candidates that arrived before the link even existed.
// They land at the front of the pending queue so flush order matches arrival
// order.
func (m *PeerManager) BufferEarly(link *PeerLink, cands []webrtc.ICECandidateInit) {
	if len(cands) == 0 {
		return
	}
	link.pending = append(append([]webrtc.ICECandidateInit{}, cands...), link.pending...)
}

// Close tears down the link to the remote user and its playback output.
func (m *PeerManager) Close(remote domain.UserID) {
	link, ok := m.links[remote]
	if !ok {
		return
	}
	delete(m.links, remote)
	link.pending = nil
	if err := link.PC.Close(); err != nil {
		m.logger.Warnw("failed to close peer link",
			"remote", string(remote), "error", err)
	}
	m.media.DetachRemote(remote)
	m.logger.Debugw("peer link closed", "remote", string(remote))
}

// CloseChannel tears down every link belonging to the given channel.
func (m *PeerManager) CloseChannel(channel domain.ChannelID) {
	for remote, link := range m.links {
		if link.Channel == channel {
			m.Close(remote)
		}
	}
}

// CloseAll tears down every link regardless of context.
func (m *PeerManager) CloseAll() {
	for remote := range m.links {
		m.Close(remote)
	}
}

// Count reports the number of live links.
func (m *PeerManager) Count() int { return len(m.links) }
