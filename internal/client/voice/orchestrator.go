package voice

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/relay"
)

// Orchestrator is the client-side voice engine. All state lives behind a
// single task loop: public methods and relayed events post onto it, so the
// call machine, channel coordinator, peer manager, and media registry never
// see concurrent access. WebRTC callbacks repost themselves onto the loop and
// are discarded when their link has since been torn down.
type Orchestrator struct {
	localID  domain.UserID
	signaler Signaler
	logger   *zap.SugaredLogger

	media   *MediaRegistry
	peers   *PeerManager
	call    *CallStateMachine
	channel *ChannelCoordinator

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewOrchestrator wires the voice engine for the given local user. The
// signaler is typically the websocket transport client; factory, mic, and
// outputs choose the WebRTC and audio backends.
func NewOrchestrator(localID domain.UserID, signaler Signaler, factory PeerConnectionFactory, mic MicrophoneSource, outputs AudioOutputFactory, logger *zap.SugaredLogger) *Orchestrator {
	media := NewMediaRegistry(mic, outputs, logger)
	peers := NewPeerManager(factory, media, logger)

	o := &Orchestrator{
		localID:  localID,
		signaler: signaler,
		logger:   logger,
		media:    media,
		peers:    peers,
		call:     NewCallStateMachine(localID, signaler, peers, logger),
		channel:  NewChannelCoordinator(localID, signaler, peers, media, logger),
		tasks:    make(chan func(), 64),
		done:     make(chan struct{}),
	}

	o.call.SetBusyCheck(o.channel.Joined)
	o.channel.SetBusyCheck(o.call.Busy)
	release := func() {
		o.media.ReleaseLocalIfUnused(o.call.Busy(), o.channel.Joined())
	}
	o.call.SetReleaseHook(release)
	o.channel.SetReleaseHook(release)

	cb := LinkCallbacks{
		OnCandidate: o.onLinkCandidate,
		OnTrack:     o.onLinkTrack,
		OnState:     o.onLinkState,
	}
	o.call.SetLinkCallbacks(cb)
	o.channel.SetLinkCallbacks(cb)

	return o
}

// Start launches the task loop.
func (o *Orchestrator) Start() {
	go o.run()
}

// Close drains in-flight work, tears down every call, channel, link, and
// track, and stops the loop.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.do(func() error {
			o.cleanup()
			return nil
		})
		close(o.done)
	})
	return nil
}

func (o *Orchestrator) run() {
	for {
		select {
		case task := <-o.tasks:
			task()
		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) post(task func()) {
	select {
	case o.tasks <- task:
	case <-o.done:
	}
}

func (o *Orchestrator) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case o.tasks <- func() { result <- fn() }:
	case <-o.done:
		return fmt.Errorf("voice engine closed")
	}
	select {
	case err := <-result:
		return err
	case <-o.done:
		return fmt.Errorf("voice engine closed")
	}
}

// Announce binds this client's user id on the relay. Call it right after the
// transport connects; reconnects re-announce automatically.
func (o *Orchestrator) Announce() error {
	return o.signaler.Invoke(relay.OpSetUserID, relay.SetUserIDPayload{UserID: o.localID})
}

// MakeCall rings the target user.
func (o *Orchestrator) MakeCall(target domain.UserID) error {
	return o.do(func() error { return o.call.MakeCall(target) })
}

// AcceptCall answers the ringing inbound call.
func (o *Orchestrator) AcceptCall() error {
	return o.do(func() error { return o.call.AcceptCall() })
}

// DeclineCall rejects the ringing inbound call.
func (o *Orchestrator) DeclineCall() error {
	return o.do(func() error { return o.call.DeclineCall() })
}

// EndCall hangs up the active call.
func (o *Orchestrator) EndCall() error {
	return o.do(func() error { return o.call.EndCall() })
}

// JoinChannel enters a voice channel, leaving the current one if different.
func (o *Orchestrator) JoinChannel(channel domain.ChannelID, displayName string) error {
	return o.do(func() error { return o.channel.Join(channel, displayName) })
}

// LeaveChannel exits the current voice channel.
func (o *Orchestrator) LeaveChannel() error {
	return o.do(func() error { return o.channel.Leave() })
}

// ToggleMute flips the microphone gate. In a channel the new state is
// advertised through the relay; in a 1:1 call it is purely local.
func (o *Orchestrator) ToggleMute() error {
	return o.do(func() error {
		if o.channel.Joined() {
			state := o.channel.LocalState()
			return o.channel.UpdateVoiceState(!state.IsMuted, state.IsDeafened)
		}
		if o.call.Busy() {
			o.media.SetLocalEnabled(!o.media.LocalEnabled())
			return nil
		}
		return domain.ErrNotConnected
	})
}

// ToggleDeafen flips playback muting of every remote participant.
func (o *Orchestrator) ToggleDeafen() error {
	return o.do(func() error {
		if o.channel.Joined() {
			state := o.channel.LocalState()
			return o.channel.UpdateVoiceState(state.IsMuted, !state.IsDeafened)
		}
		if o.call.Busy() {
			o.media.SetDeafened(!o.media.Deafened())
			return nil
		}
		return domain.ErrNotConnected
	})
}

// CallState reports the current 1:1 call lifecycle state.
func (o *Orchestrator) CallState() domain.CallState {
	var state domain.CallState
	o.do(func() error {
		state = o.call.State()
		return nil
	})
	return state
}

// CurrentChannel reports the joined channel, empty when not in one.
func (o *Orchestrator) CurrentChannel() domain.ChannelID {
	var id domain.ChannelID
	o.do(func() error {
		id = o.channel.Current()
		return nil
	})
	return id
}

// ChannelRoster reports the known members of the joined channel.
func (o *Orchestrator) ChannelRoster() []domain.VoiceParticipant {
	var roster []domain.VoiceParticipant
	o.do(func() error {
		roster = o.channel.Roster()
		return nil
	})
	return roster
}

// HandleEvent dispatches one relayed server event. Wire it to the transport's
// OnEvent callback; processing happens asynchronously on the task loop.
func (o *Orchestrator) HandleEvent(env relay.Envelope) {
	payload, err := relay.DecodeServerPayload(env)
	if err != nil {
		o.logger.Warnw("dropping undecodable event",
			"op", string(env.Op), "error", err)
		return
	}
	o.post(func() { o.dispatch(payload) })
}

// HandleReconnected restores session state after the transport re-established
// the signaling link: re-announce identity, drop the dead call, rejoin the
// remembered channel.
func (o *Orchestrator) HandleReconnected() {
	o.post(func() {
		if err := o.Announce(); err != nil {
			o.logger.Warnw("failed to re-announce after reconnect", "error", err)
		}
		o.call.Reset()
		o.channel.HandleReconnected()
	})
}

// HandleClosed clears all voice state after the transport gave up. Wire it to
// the transport's OnClosed callback.
func (o *Orchestrator) HandleClosed(err error) {
	o.post(func() {
		if err != nil {
			o.logger.Warnw("signaling gone, resetting voice state", "error", err)
		}
		o.cleanup()
	})
}

func (o *Orchestrator) dispatch(payload any) {
	switch p := payload.(type) {
	case relay.ReceiveCallEvent:
		o.call.HandleIncomingCall(p.CallerID)
	case relay.CallAcceptedEvent:
		o.call.HandleAccepted(p.UserID)
	case relay.CallDeclinedEvent:
		o.call.HandleDeclined(p.UserID)
	case relay.CallEndedEvent:
		o.call.HandleEnded(p.UserID)
	case relay.CallUserFailedEvent:
		o.call.HandleCallFailed(p.TargetID, p.Reason)
	case relay.ReceiveSDPEvent:
		o.call.HandleSDP(p.SenderID, p.SDP)
	case relay.ReceiveICECandidateEvent:
		o.call.HandleCandidate(p.SenderID, p.Candidate)
	case relay.ChannelStateEvent:
		o.channel.HandleChannelState(p)
	case relay.UserJoinedChannelEvent:
		o.channel.HandleUserJoined(p)
	case relay.UserLeftChannelEvent:
		o.channel.HandleUserLeft(p)
	case relay.ReceiveChannelOfferEvent:
		o.channel.HandleOffer(p)
	case relay.ReceiveChannelAnswerEvent:
		o.channel.HandleAnswer(p)
	case relay.ReceiveChannelICECandidateEvent:
		o.channel.HandleCandidate(p)
	case relay.UserVoiceStateChangedEvent:
		o.channel.HandleVoiceStateChanged(p)
	default:
		o.logger.Warnw("event with no handler", "payload", payload)
	}
}

// onLinkCandidate forwards a locally gathered candidate through the relay,
// routed by the context the link was created under. Fires on a pion
// goroutine; the work happens on the loop.
func (o *Orchestrator) onLinkCandidate(link *PeerLink, cand webrtc.ICECandidateInit) {
	o.post(func() {
		if !o.peers.IsCurrent(link) {
			return
		}
		raw, err := encodeCandidate(cand)
		if err != nil {
			o.logger.Warnw("failed to encode local candidate", "error", err)
			return
		}
		if link.Channel == "" {
			err = o.signaler.Invoke(relay.OpSendICECandidate, relay.ICECandidatePayload{
				TargetID:  link.Remote,
				Candidate: raw,
			})
		} else {
			err = o.signaler.Invoke(relay.OpSendChannelICECandidate, relay.ChannelICECandidatePayload{
				TargetID:  link.Remote,
				Candidate: raw,
			})
		}
		if err != nil {
			o.logger.Warnw("failed to send local candidate",
				"remote", string(link.Remote), "error", err)
		}
	})
}

func (o *Orchestrator) onLinkTrack(link *PeerLink, track RemoteAudioTrack) {
	o.post(func() {
		if !o.peers.IsCurrent(link) {
			return
		}
		if err := o.media.AttachRemote(link.Remote, track); err != nil {
			o.logger.Errorw("failed to attach remote audio",
				"remote", string(link.Remote), "error", err)
		}
	})
}

func (o *Orchestrator) onLinkState(link *PeerLink, state webrtc.ICEConnectionState) {
	o.post(func() {
		if !o.peers.IsCurrent(link) {
			return
		}
		o.logger.Debugw("link state changed",
			"remote", string(link.Remote), "state", state.String())
		switch state {
		case webrtc.ICEConnectionStateFailed:
			if link.Channel == "" {
				o.call.HandleICEFailure(link.Remote)
			} else {
				// Roster entry stays; the relay announces the actual leave.
				o.peers.Close(link.Remote)
			}
		case webrtc.ICEConnectionStateClosed:
			if link.Channel != "" {
				o.peers.Close(link.Remote)
			}
		}
	})
}

func (o *Orchestrator) cleanup() {
	o.call.Reset()
	o.channel.Reset()
	o.peers.CloseAll()
	o.media.Reset()
}
