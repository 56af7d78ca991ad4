package voice

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/relay"
)

// Signaler sends operations to the relay.
type Signaler interface {
	Invoke(op relay.Op, payload any) error
}

// CallStateMachine drives the 1:1 call lifecycle: idle, ringing, in-call.
// All methods run on the orchestrator's task loop.
type CallStateMachine struct {
	localID  domain.UserID
	signaler Signaler
	peers    *PeerManager
	links    LinkCallbacks
	logger   *zap.SugaredLogger

	// inChannel tells the machine whether a channel session is active, which
	// makes the client busy for call purposes.
	inChannel func() bool
	// released fires after a call ends so shared media can be reclaimed.
	released func()

	session *domain.CallSession
	// early holds candidates from the caller that arrived before the offer
	// did, so the eventual link can flush them in arrival order.
	early []webrtc.ICECandidateInit
}

func NewCallStateMachine(localID domain.UserID, signaler Signaler, peers *PeerManager, logger *zap.SugaredLogger) *CallStateMachine {
	return &CallStateMachine{
		localID:   localID,
		signaler:  signaler,
		peers:     peers,
		logger:    logger,
		inChannel: func() bool { return false },
		released:  func() {},
	}
}

// SetLinkCallbacks installs the candidate/track/state hooks used for every
// link this machine creates.
func (c *CallStateMachine) SetLinkCallbacks(cb LinkCallbacks) { c.links = cb }

// SetBusyCheck installs the channel-session probe.
func (c *CallStateMachine) SetBusyCheck(inChannel func() bool) { c.inChannel = inChannel }

// SetReleaseHook installs the media reclamation hook.
func (c *CallStateMachine) SetReleaseHook(fn func()) { c.released = fn }

// State reports the current call lifecycle state.
func (c *CallStateMachine) State() domain.CallState {
	if c.session == nil {
		return domain.CallIdle
	}
	return c.session.State
}

// Session returns a copy of the active session, if any.
func (c *CallStateMachine) Session() (domain.CallSession, bool) {
	if c.session == nil {
		return domain.CallSession{}, false
	}
	return *c.session, true
}

// Busy reports whether a call is ringing or active.
func (c *CallStateMachine) Busy() bool { return c.session != nil }

// MakeCall rings the target user: it creates the peer link, sends the call
// request, and pushes the SDP offer through the relay.
func (c *CallStateMachine) MakeCall(target domain.UserID) error {
	if c.session != nil || c.inChannel() {
		return domain.ErrBusy
	}

	session := &domain.CallSession{
		CallerID:  c.localID,
		TargetID:  target,
		Initiator: true,
		State:     domain.CallRinging,
	}
	c.session = session

	link, err := c.peers.Create(target, "", RoleOfferer, c.links)
	if err != nil {
		c.abandon()
		return err
	}

	offer, err := link.PC.CreateOffer()
	if err != nil {
		c.abandon()
		return fmt.Errorf("failed to create call offer: %w", err)
	}
	if err := link.PC.SetLocalDescription(offer); err != nil {
		c.abandon()
		return fmt.Errorf("failed to apply call offer: %w", err)
	}
	sdp, err := encodeSDP(offer)
	if err != nil {
		c.abandon()
		return err
	}

	if err := c.signaler.Invoke(relay.OpCallUser, relay.CallUserPayload{
		CallerID: c.localID,
		TargetID: target,
	}); err != nil {
		c.abandon()
		return err
	}
	if err := c.signaler.Invoke(relay.OpSendSDP, relay.SDPPayload{
		TargetID: target,
		SDP:      sdp,
	}); err != nil {
		// The target already got the ring; stop it before tearing down.
		if hangupErr := c.signaler.Invoke(relay.OpEndCall, relay.EndCallPayload{TargetID: target}); hangupErr != nil {
			c.logger.Warnw("failed to cancel half-announced call", "target", string(target), "error", hangupErr)
		}
		c.abandon()
		return err
	}

	c.logger.Infow("calling user", "target", string(target))
	return nil
}

// HandleIncomingCall records a ringing inbound call, or auto-declines when
// the client is already busy with a call or a channel session.
func (c *CallStateMachine) HandleIncomingCall(caller domain.UserID) {
	if c.session != nil || c.inChannel() {
		c.logger.Infow("auto-declining call while busy", "caller", string(caller))
		if err := c.signaler.Invoke(relay.OpDeclineCall, relay.DeclineCallPayload{CallerID: caller}); err != nil {
			c.logger.Warnw("failed to auto-decline", "error", err)
		}
		return
	}
	c.session = &domain.CallSession{
		CallerID:  caller,
		TargetID:  c.localID,
		Initiator: false,
		State:     domain.CallRinging,
	}
	c.logger.Infow("incoming call", "caller", string(caller))
}

// AcceptCall answers a ringing inbound call. The caller's offer must already
// have arrived; without it there is nothing to answer.
func (c *CallStateMachine) AcceptCall() error {
	if c.session == nil || c.session.Initiator || c.session.State != domain.CallRinging {
		return domain.ErrNoActiveCall
	}
	caller := c.session.CallerID

	link, ok := c.peers.Get(caller)
	if !ok || link.PC.RemoteDescription() == nil {
		return domain.ErrNoRemoteOffer
	}

	answer, err := link.PC.CreateAnswer()
	if err != nil {
		return fmt.Errorf("failed to create call answer: %w", err)
	}
	if err := link.PC.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to apply call answer: %w", err)
	}
	sdp, err := encodeSDP(answer)
	if err != nil {
		return err
	}

	if err := c.signaler.Invoke(relay.OpSendSDP, relay.SDPPayload{
		TargetID: caller,
		SDP:      sdp,
	}); err != nil {
		return err
	}
	if err := c.signaler.Invoke(relay.OpAcceptCall, relay.AcceptCallPayload{CallerID: caller}); err != nil {
		return err
	}

	c.session.State = domain.CallActive
	c.logger.Infow("call accepted", "caller", string(caller))
	return nil
}

// DeclineCall rejects a ringing inbound call.
func (c *CallStateMachine) DeclineCall() error {
	if c.session == nil || c.session.Initiator || c.session.State != domain.CallRinging {
		return domain.ErrNoActiveCall
	}
	caller := c.session.CallerID
	if err := c.signaler.Invoke(relay.OpDeclineCall, relay.DeclineCallPayload{CallerID: caller}); err != nil {
		return err
	}
	c.teardown("declined")
	return nil
}

// EndCall hangs up the active call and notifies the remote side.
func (c *CallStateMachine) EndCall() error {
	if c.session == nil || c.session.State != domain.CallActive {
		return domain.ErrNoActiveCall
	}
	remote := c.session.RemoteID()
	if err := c.signaler.Invoke(relay.OpEndCall, relay.EndCallPayload{TargetID: remote}); err != nil {
		return err
	}
	c.teardown("hung_up")
	return nil
}

// HandleSDP applies a relayed offer or answer. Descriptions from anyone but
// the recorded remote party are dropped.
func (c *CallStateMachine) HandleSDP(sender domain.UserID, raw string) {
	desc, err := decodeSDP(raw)
	if err != nil {
		c.logger.Warnw("dropping malformed call sdp",
			"sender", string(sender), "error", err)
		return
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if c.session == nil || c.session.Initiator || c.session.CallerID != sender {
			c.logger.Warnw("ignoring call offer from unexpected sender",
				"sender", string(sender))
			return
		}
		link, err := c.peers.Create(sender, "", RoleAnswerer, c.links)
		if err != nil {
			c.logger.Errorw("failed to create link for inbound call", "error", err)
			c.teardown("media_failed")
			return
		}
		c.peers.BufferEarly(link, c.early)
		c.early = nil
		if err := c.peers.SetRemoteDescription(link, desc); err != nil {
			c.logger.Errorw("failed to apply call offer", "error", err)
			c.teardown("negotiation_failed")
		}

	case webrtc.SDPTypeAnswer:
		if c.session == nil || !c.session.Initiator || c.session.TargetID != sender {
			c.logger.Warnw("ignoring call answer from unexpected sender",
				"sender", string(sender))
			return
		}
		link, ok := c.peers.Get(sender)
		if !ok {
			c.logger.Warnw("call answer with no link", "sender", string(sender))
			return
		}
		if err := c.peers.SetRemoteDescription(link, desc); err != nil {
			c.logger.Errorw("failed to apply call answer", "error", err)
			c.teardown("negotiation_failed")
			return
		}
		// The answer arriving is what moves the initiator into the call,
		// independent of the call_accepted notification's timing.
		c.session.State = domain.CallActive
		c.logger.Infow("call connected", "remote", string(sender))

	default:
		c.logger.Warnw("ignoring call sdp of unexpected type",
			"type", desc.Type.String())
	}
}

// HandleCandidate applies or buffers a relayed ICE candidate.
func (c *CallStateMachine) HandleCandidate(sender domain.UserID, raw string) {
	if c.session == nil || c.session.RemoteID() != sender {
		c.logger.Debugw("dropping call candidate from unexpected sender",
			"sender", string(sender))
		return
	}
	cand, err := decodeCandidate(raw)
	if err != nil {
		c.logger.Warnw("dropping malformed call candidate", "error", err)
		return
	}
	link, ok := c.peers.Get(sender)
	if !ok {
		// Candidate raced ahead of the offer; hold it until the link exists.
		c.early = append(c.early, cand)
		return
	}
	if err := c.peers.AddCandidate(link, cand); err != nil {
		c.logger.Warnw("failed to add call candidate", "error", err)
	}
}

// HandleAccepted processes the remote side picking up. The SDP answer is the
// authoritative transition; this is a fallback when the notification lands
// first or the answer was already applied.
func (c *CallStateMachine) HandleAccepted(user domain.UserID) {
	if c.session == nil || !c.session.Initiator || c.session.TargetID != user {
		return
	}
	c.session.State = domain.CallActive
	c.logger.Infow("call accepted by remote", "remote", string(user))
}

// HandleDeclined processes the remote side rejecting the call.
func (c *CallStateMachine) HandleDeclined(user domain.UserID) {
	if c.session == nil || c.session.RemoteID() != user {
		return
	}
	c.logger.Infow("call declined by remote", "remote", string(user))
	c.teardown("remote_declined")
}

// HandleEnded processes the remote side hanging up.
func (c *CallStateMachine) HandleEnded(user domain.UserID) {
	if c.session == nil || c.session.RemoteID() != user {
		return
	}
	c.logger.Infow("call ended by remote", "remote", string(user))
	c.teardown("remote_ended")
}

// HandleCallFailed processes the relay reporting the target unreachable.
func (c *CallStateMachine) HandleCallFailed(target domain.UserID, reason string) {
	if c.session == nil || !c.session.Initiator || c.session.TargetID != target {
		return
	}
	c.logger.Warnw("call failed",
		"target", string(target), "reason", reason)
	c.teardown("unreachable")
}

// HandleICEFailure ends the call locally when its transport dies. The hangup
// notification is best-effort; the remote's own ICE layer will notice too.
func (c *CallStateMachine) HandleICEFailure(remote domain.UserID) {
	if c.session == nil || c.session.RemoteID() != remote {
		return
	}
	c.logger.Warnw("call transport failed", "remote", string(remote))
	if err := c.signaler.Invoke(relay.OpEndCall, relay.EndCallPayload{TargetID: remote}); err != nil {
		c.logger.Debugw("failed to notify hangup", "error", err)
	}
	c.teardown("transport_failed")
}

// Reset drops all call state without signaling, for transport resets.
func (c *CallStateMachine) Reset() {
	if c.session == nil {
		return
	}
	c.teardown("reset")
}

func (c *CallStateMachine) abandon() {
	c.teardown("setup_failed")
}

func (c *CallStateMachine) teardown(reason string) {
	if c.session == nil {
		return
	}
	remote := c.session.RemoteID()
	c.session = nil
	c.early = nil
	c.peers.Close(remote)
	c.logger.Debugw("call torn down",
		"remote", string(remote), "reason", reason)
	c.released()
}
