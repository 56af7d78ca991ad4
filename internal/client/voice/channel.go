package voice

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/relay"
)

// ChannelCoordinator drives voice-channel membership: joining, the mesh of
// peer links to other members, voice-state flags, and rejoin after a
// transport reconnect. All methods run on the orchestrator's task loop.
type ChannelCoordinator struct {
	localID  domain.UserID
	signaler Signaler
	peers    *PeerManager
	media    *MediaRegistry
	links    LinkCallbacks
	logger   *zap.SugaredLogger

	// inCall tells the coordinator whether a 1:1 call is active, which blocks
	// channel joins.
	inCall func() bool
	// released fires after leaving so shared media can be reclaimed.
	released func()

	current     domain.ChannelID
	displayName string
	local       domain.VoiceParticipant
	roster      map[domain.UserID]domain.VoiceParticipant
}

func NewChannelCoordinator(localID domain.UserID, signaler Signaler, peers *PeerManager, media *MediaRegistry, logger *zap.SugaredLogger) *ChannelCoordinator {
	return &ChannelCoordinator{
		localID:  localID,
		signaler: signaler,
		peers:    peers,
		media:    media,
		logger:   logger,
		inCall:   func() bool { return false },
		released: func() {},
		roster:   make(map[domain.UserID]domain.VoiceParticipant),
	}
}

// SetLinkCallbacks installs the candidate/track/state hooks used for every
// link this coordinator creates.
func (c *ChannelCoordinator) SetLinkCallbacks(cb LinkCallbacks) { c.links = cb }

// SetBusyCheck installs the 1:1 call probe.
func (c *ChannelCoordinator) SetBusyCheck(inCall func() bool) { c.inCall = inCall }

// SetReleaseHook installs the media reclamation hook.
func (c *ChannelCoordinator) SetReleaseHook(fn func()) { c.released = fn }

// Joined reports whether a channel session is active.
func (c *ChannelCoordinator) Joined() bool { return c.current != "" }

// Current returns the joined channel id, empty when not in a channel.
func (c *ChannelCoordinator) Current() domain.ChannelID { return c.current }

// LocalState returns the local participant's advertised voice state.
func (c *ChannelCoordinator) LocalState() domain.VoiceParticipant { return c.local }

// Roster returns the known members of the joined channel, excluding self.
func (c *ChannelCoordinator) Roster() []domain.VoiceParticipant {
	members := make([]domain.VoiceParticipant, 0, len(c.roster))
	for _, m := range c.roster {
		members = append(members, m)
	}
	return members
}

// Join enters a voice channel. Joining while in a 1:1 call fails; joining the
// already-joined channel is a no-op; joining a different channel leaves the
// old one first. Microphone acquisition failure aborts before any signaling.
func (c *ChannelCoordinator) Join(channel domain.ChannelID, displayName string) error {
	if c.inCall() {
		return domain.ErrBusy
	}
	if c.current == channel {
		c.logger.Debugw("already in channel", "channel_id", string(channel))
		return nil
	}
	if c.current != "" {
		if err := c.Leave(); err != nil {
			return fmt.Errorf("failed to leave %s before switching: %w", c.current, err)
		}
	}

	if _, err := c.media.EnsureLocal(); err != nil {
		return err
	}

	prev := c.local
	c.current = channel
	c.displayName = displayName
	c.local = domain.VoiceParticipant{
		ID:         c.localID,
		Username:   displayName,
		IsMuted:    prev.IsMuted,
		IsDeafened: prev.IsDeafened,
	}
	c.roster = make(map[domain.UserID]domain.VoiceParticipant)

	if err := c.signaler.Invoke(relay.OpJoinVoiceChannel, relay.JoinChannelPayload{
		ChannelID:   channel,
		DisplayName: displayName,
	}); err != nil {
		c.current = ""
		c.roster = make(map[domain.UserID]domain.VoiceParticipant)
		c.released()
		return err
	}

	c.media.SetLocalEnabled(!c.local.IsMuted)
	c.logger.Infow("joined voice channel", "channel_id", string(channel))
	return nil
}

// Leave exits the current channel, tearing down every mesh link.
func (c *ChannelCoordinator) Leave() error {
	if c.current == "" {
		return domain.ErrNotInChannel
	}
	channel := c.current
	c.peers.CloseChannel(channel)
	c.current = ""
	c.roster = make(map[domain.UserID]domain.VoiceParticipant)

	if err := c.signaler.Invoke(relay.OpLeaveVoiceChannel, struct{}{}); err != nil {
		c.released()
		return err
	}
	c.logger.Infow("left voice channel", "channel_id", string(channel))
	c.released()
	return nil
}

// HandleChannelState replaces the roster with the relay's snapshot. Links to
// existing members are created in answerer role up front so their candidates
// have somewhere to buffer; the members themselves initiate the offers.
func (c *ChannelCoordinator) HandleChannelState(ev relay.ChannelStateEvent) {
	if c.current != ev.ChannelID {
		c.logger.Debugw("ignoring stale channel state",
			"channel_id", string(ev.ChannelID))
		return
	}
	c.roster = make(map[domain.UserID]domain.VoiceParticipant, len(ev.Users))
	for _, member := range ev.Users {
		if member.ID == c.localID {
			continue
		}
		c.roster[member.ID] = member
		if _, err := c.peers.Create(member.ID, ev.ChannelID, RoleAnswerer, c.links); err != nil {
			c.logger.Errorw("failed to prepare link to member",
				"member", string(member.ID), "error", err)
		}
	}
	c.logger.Debugw("channel roster replaced",
		"channel_id", string(ev.ChannelID), "members", len(c.roster))
}

// HandleUserJoined adds a new member and initiates the offer toward them. The
// side already in the channel always offers; the joiner answers.
func (c *ChannelCoordinator) HandleUserJoined(ev relay.UserJoinedChannelEvent) {
	if c.current != ev.ChannelID || ev.User.ID == c.localID {
		return
	}
	c.roster[ev.User.ID] = ev.User

	link, err := c.peers.Create(ev.User.ID, ev.ChannelID, RoleOfferer, c.links)
	if err != nil {
		c.logger.Errorw("failed to create link to joining member",
			"member", string(ev.User.ID), "error", err)
		return
	}
	offer, err := link.PC.CreateOffer()
	if err != nil {
		c.logger.Errorw("failed to create channel offer", "error", err)
		c.peers.Close(ev.User.ID)
		return
	}
	if err := link.PC.SetLocalDescription(offer); err != nil {
		c.logger.Errorw("failed to apply channel offer", "error", err)
		c.peers.Close(ev.User.ID)
		return
	}
	sdp, err := encodeSDP(offer)
	if err != nil {
		c.logger.Errorw("failed to encode channel offer", "error", err)
		c.peers.Close(ev.User.ID)
		return
	}
	if err := c.signaler.Invoke(relay.OpSendChannelOffer, relay.ChannelOfferPayload{
		TargetID: ev.User.ID,
		SDP:      sdp,
	}); err != nil {
		c.logger.Errorw("failed to send channel offer", "error", err)
		c.peers.Close(ev.User.ID)
		return
	}
	c.logger.Debugw("offered to joining member", "member", string(ev.User.ID))
}

// HandleUserLeft removes a member and tears down the link to them.
func (c *ChannelCoordinator) HandleUserLeft(ev relay.UserLeftChannelEvent) {
	if c.current != ev.ChannelID {
		return
	}
	delete(c.roster, ev.UserID)
	c.peers.Close(ev.UserID)
	c.logger.Debugw("member left channel",
		"member", string(ev.UserID), "reason", string(ev.Reason))
}

// HandleOffer answers an inbound mesh offer from a channel member.
func (c *ChannelCoordinator) HandleOffer(ev relay.ReceiveChannelOfferEvent) {
	if c.current != ev.ChannelID {
		return
	}
	if _, known := c.roster[ev.SenderID]; !known {
		c.logger.Warnw("ignoring channel offer from non-member",
			"sender", string(ev.SenderID))
		return
	}
	desc, err := decodeSDP(ev.SDP)
	if err != nil {
		c.logger.Warnw("dropping malformed channel offer", "error", err)
		return
	}

	link, err := c.peers.Create(ev.SenderID, ev.ChannelID, RoleAnswerer, c.links)
	if err != nil {
		c.logger.Errorw("failed to create link for channel offer", "error", err)
		return
	}
	if err := c.peers.SetRemoteDescription(link, desc); err != nil {
		c.logger.Errorw("failed to apply channel offer", "error", err)
		return
	}

	answer, err := link.PC.CreateAnswer()
	if err != nil {
		c.logger.Errorw("failed to create channel answer", "error", err)
		return
	}
	if err := link.PC.SetLocalDescription(answer); err != nil {
		c.logger.Errorw("failed to apply channel answer", "error", err)
		return
	}
	sdp, err := encodeSDP(answer)
	if err != nil {
		c.logger.Errorw("failed to encode channel answer", "error", err)
		return
	}
	if err := c.signaler.Invoke(relay.OpSendChannelAnswer, relay.ChannelAnswerPayload{
		TargetID: ev.SenderID,
		SDP:      sdp,
	}); err != nil {
		c.logger.Errorw("failed to send channel answer", "error", err)
	}
}

// HandleAnswer completes negotiation with a member this client offered to.
func (c *ChannelCoordinator) HandleAnswer(ev relay.ReceiveChannelAnswerEvent) {
	if c.current != ev.ChannelID {
		return
	}
	link, ok := c.peers.Get(ev.SenderID)
	if !ok {
		c.logger.Warnw("channel answer with no link", "sender", string(ev.SenderID))
		return
	}
	desc, err := decodeSDP(ev.SDP)
	if err != nil {
		c.logger.Warnw("dropping malformed channel answer", "error", err)
		return
	}
	if err := c.peers.SetRemoteDescription(link, desc); err != nil {
		c.logger.Errorw("failed to apply channel answer", "error", err)
	}
}

// HandleCandidate applies or buffers a mesh ICE candidate.
func (c *ChannelCoordinator) HandleCandidate(ev relay.ReceiveChannelICECandidateEvent) {
	if c.current != ev.ChannelID {
		return
	}
	link, ok := c.peers.Get(ev.SenderID)
	if !ok {
		c.logger.Debugw("dropping channel candidate with no link",
			"sender", string(ev.SenderID))
		return
	}
	cand, err := decodeCandidate(ev.Candidate)
	if err != nil {
		c.logger.Warnw("dropping malformed channel candidate", "error", err)
		return
	}
	if err := c.peers.AddCandidate(link, cand); err != nil {
		c.logger.Warnw("failed to add channel candidate", "error", err)
	}
}

// HandleVoiceStateChanged updates a member's advertised flags.
func (c *ChannelCoordinator) HandleVoiceStateChanged(ev relay.UserVoiceStateChangedEvent) {
	if c.current != ev.ChannelID || ev.User.ID == c.localID {
		return
	}
	if _, known := c.roster[ev.User.ID]; !known {
		return
	}
	c.roster[ev.User.ID] = ev.User
}

// UpdateVoiceState applies mute/deafen locally first, then advertises the new
// flags. A relay failure rolls the local effects back so the advertised and
// actual states never diverge.
func (c *ChannelCoordinator) UpdateVoiceState(muted, deafened bool) error {
	if c.current == "" {
		return domain.ErrNotInChannel
	}
	prev := c.local

	c.local.IsMuted = muted
	c.local.IsDeafened = deafened
	c.media.SetLocalEnabled(!muted)
	c.media.SetDeafened(deafened)

	if err := c.signaler.Invoke(relay.OpUpdateVoiceState, relay.UpdateVoiceStatePayload{
		State: c.local,
	}); err != nil {
		c.local = prev
		c.media.SetLocalEnabled(!prev.IsMuted)
		c.media.SetDeafened(prev.IsDeafened)
		return fmt.Errorf("failed to advertise voice state: %w", err)
	}
	return nil
}

// HandleReconnected rebuilds the channel session after the signaling link
// came back: every old mesh link is gone, so tear down and rejoin the
// remembered channel from scratch.
func (c *ChannelCoordinator) HandleReconnected() {
	if c.current == "" {
		return
	}
	channel := c.current
	name := c.displayName
	c.peers.CloseChannel(channel)
	c.current = ""
	c.roster = make(map[domain.UserID]domain.VoiceParticipant)

	if err := c.Join(channel, name); err != nil {
		c.logger.Errorw("failed to rejoin channel after reconnect",
			"channel_id", string(channel), "error", err)
		c.released()
	}
}

// Reset drops all channel state without signaling, for transport resets.
func (c *ChannelCoordinator) Reset() {
	if c.current == "" {
		return
	}
	c.peers.CloseChannel(c.current)
	c.current = ""
	c.roster = make(map[domain.UserID]domain.VoiceParticipant)
	c.released()
}
