package relay

import (
	"context"
	"fmt"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/core/ports"

	"go.uber.org/zap"
)

// Sender delivers an envelope to one live connection. Implemented by the hub.
type Sender interface {
	Send(conn domain.ConnectionID, env Envelope) error
}

// Metrics receives relay-level counters. Implemented by the prometheus
// collector; a no-op implementation is used when monitoring is disabled.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	SignalForwarded(op string)
	DeliveryFailed(op string)
	SetActiveChannels(n int)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()      {}
func (noopMetrics) ConnectionClosed()      {}
func (noopMetrics) SignalForwarded(string) {}
func (noopMetrics) DeliveryFailed(string)  {}
func (noopMetrics) SetActiveChannels(int)  {}

// NoopMetrics is a Metrics implementation that discards everything.
var NoopMetrics Metrics = noopMetrics{}

// Service implements the relay operations: identity binding, 1:1 call
// signaling, channel membership and channel signaling. It never interprets
// SDP or candidate payloads; all delivery is fire-and-forget best effort.
type Service struct {
	dir     ports.ConnectionDirectory
	rosters ports.ChannelRosterRepository
	users   ports.UserDirectory
	sender  Sender
	metrics Metrics
	logger  *zap.SugaredLogger
}

func NewService(
	dir ports.ConnectionDirectory,
	rosters ports.ChannelRosterRepository,
	users ports.UserDirectory,
	sender Sender,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *Service {
	if metrics == nil {
		metrics = NoopMetrics
	}
	return &Service{
		dir:     dir,
		rosters: rosters,
		users:   users,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
	}
}

// Connected binds the authenticated identity to its freshly opened
// connection. Last write wins: a reconnecting user replaces the old entry.
func (s *Service) Connected(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error {
	if err := s.dir.Bind(ctx, user, conn); err != nil {
		return fmt.Errorf("bind %s: %w", user, err)
	}
	s.metrics.ConnectionOpened()
	return nil
}

// Disconnected removes the identity binding (if it still points at this
// connection) and performs an implicit channel leave with reason
// "disconnect".
func (s *Service) Disconnected(ctx context.Context, user domain.UserID, conn domain.ConnectionID) {
	if err := s.dir.Unbind(ctx, user, conn); err != nil {
		s.logger.Warnw("failed to unbind connection", "user_id", user, "error", err)
	}
	s.leaveChannel(ctx, user, domain.LeaveDropped)
	s.metrics.ConnectionClosed()
}

// SetUserID rebinds the connection to a new identity, dropping any binding
// the previous identity held.
func (s *Service) SetUserID(ctx context.Context, current domain.UserID, requested domain.UserID, conn domain.ConnectionID) error {
	if requested == "" {
		return fmt.Errorf("requested user id is empty")
	}
	if current != "" && current != requested {
		if err := s.dir.Unbind(ctx, current, conn); err != nil {
			s.logger.Warnw("failed to unbind previous identity", "user_id", current, "error", err)
		}
	}
	return s.dir.Bind(ctx, requested, conn)
}

// CallUser delivers an incoming-call notice to the target, or a failure
// notice back to the caller when the target has no live connection. Busy
// state is a client concern; the relay only knows about connectivity.
func (s *Service) CallUser(ctx context.Context, caller, target domain.UserID) {
	conn, ok, err := s.dir.Lookup(ctx, target)
	if err != nil {
		s.logger.Errorw("directory lookup failed", "user_id", target, "error", err)
		return
	}
	if !ok {
		s.sendToUser(ctx, caller, MustEnvelope(EvCallUserFailed, CallUserFailedEvent{
			TargetID: target,
			Reason:   "not connected",
		}))
		return
	}
	s.deliver(conn, MustEnvelope(EvReceiveCall, ReceiveCallEvent{CallerID: caller, TargetID: target}))
}

// AcceptCall notifies the original caller that the call was accepted.
// Silently no-ops when the caller is gone (race-safe).
func (s *Service) AcceptCall(ctx context.Context, accepter, caller domain.UserID) {
	s.sendToUser(ctx, caller, MustEnvelope(EvCallAccepted, CallAcceptedEvent{UserID: accepter}))
}

func (s *Service) DeclineCall(ctx context.Context, decliner, caller domain.UserID) {
	s.sendToUser(ctx, caller, MustEnvelope(EvCallDeclined, CallDeclinedEvent{UserID: decliner}))
}

func (s *Service) EndCall(ctx context.Context, ender, target domain.UserID) {
	s.sendToUser(ctx, target, MustEnvelope(EvCallEnded, CallEndedEvent{UserID: ender}))
}

// SendSDP forwards an opaque session description to the target.
func (s *Service) SendSDP(ctx context.Context, sender, target domain.UserID, sdp string) {
	s.sendToUser(ctx, target, MustEnvelope(EvReceiveSDP, ReceiveSDPEvent{SenderID: sender, SDP: sdp}))
}

// SendICECandidate forwards an opaque candidate to the target.
func (s *Service) SendICECandidate(ctx context.Context, sender, target domain.UserID, candidate string) {
	s.sendToUser(ctx, target, MustEnvelope(EvReceiveICECandidate, ReceiveICECandidateEvent{
		SenderID:  sender,
		Candidate: candidate,
	}))
}

// JoinVoiceChannel resolves the joining user's profile, performs an implicit
// leave if the user currently belongs to a different channel, adds the user
// to the roster, replies with the current roster (excluding the joiner) and
// notifies the other members.
func (s *Service) JoinVoiceChannel(ctx context.Context, user domain.UserID, conn domain.ConnectionID, channel domain.ChannelID, displayName string) error {
	profile, err := s.users.FindByID(ctx, user)
	if err != nil {
		return fmt.Errorf("resolve profile for %s: %w", user, err)
	}

	// Display name and avatar come from the directory, not the client, so a
	// client cannot join under another user's name. The client-supplied name
	// is only a fallback when the directory has none.
	username := profile.Username
	if username == "" {
		username = displayName
	}

	if cur, ok, err := s.rosters.ChannelOf(ctx, user); err != nil {
		return fmt.Errorf("resolve current channel for %s: %w", user, err)
	} else if ok && cur != channel {
		s.leaveChannel(ctx, user, domain.LeaveSwitched)
	}

	participant := domain.VoiceParticipant{
		ID:        user,
		Username:  username,
		AvatarURL: profile.AvatarURL,
	}
	if err := s.rosters.Join(ctx, channel, participant); err != nil {
		return fmt.Errorf("join roster %s: %w", channel, err)
	}

	members, err := s.rosters.Members(ctx, channel)
	if err != nil {
		return fmt.Errorf("read roster %s: %w", channel, err)
	}
	others := make([]domain.VoiceParticipant, 0, len(members))
	for _, m := range members {
		if m.ID != user {
			others = append(others, m)
		}
	}

	s.deliver(conn, MustEnvelope(EvChannelState, ChannelStateEvent{ChannelID: channel, Users: others}))
	s.broadcast(ctx, channel, user, MustEnvelope(EvUserJoinedChannel, UserJoinedChannelEvent{
		ChannelID: channel,
		User:      participant,
	}))

	s.refreshChannelGauge(ctx)
	s.logger.Infow("user joined voice channel", "user_id", user, "channel_id", channel)
	return nil
}

// LeaveVoiceChannel removes the user from its current channel, if any.
func (s *Service) LeaveVoiceChannel(ctx context.Context, user domain.UserID) {
	s.leaveChannel(ctx, user, domain.LeaveManual)
}

// SendChannelOffer forwards an offer to a channel member. The sender must
// currently belong to a channel; otherwise the message is silently ignored.
func (s *Service) SendChannelOffer(ctx context.Context, sender, target domain.UserID, sdp string) {
	ch, ok := s.channelOf(ctx, sender)
	if !ok {
		return
	}
	s.sendToUser(ctx, target, MustEnvelope(EvReceiveChannelOffer, ReceiveChannelOfferEvent{
		SenderID:  sender,
		ChannelID: ch,
		SDP:       sdp,
	}))
}

func (s *Service) SendChannelAnswer(ctx context.Context, sender, target domain.UserID, sdp string) {
	ch, ok := s.channelOf(ctx, sender)
	if !ok {
		return
	}
	s.sendToUser(ctx, target, MustEnvelope(EvReceiveChannelAnswer, ReceiveChannelAnswerEvent{
		SenderID:  sender,
		ChannelID: ch,
		SDP:       sdp,
	}))
}

func (s *Service) SendChannelICECandidate(ctx context.Context, sender, target domain.UserID, candidate string) {
	ch, ok := s.channelOf(ctx, sender)
	if !ok {
		return
	}
	s.sendToUser(ctx, target, MustEnvelope(EvReceiveChannelICECandidate, ReceiveChannelICECandidateEvent{
		SenderID:  sender,
		ChannelID: ch,
		Candidate: candidate,
	}))
}

// UpdateVoiceState applies a mute/deafen change to the caller's own roster
// entry and notifies the rest of the channel. The update is rejected when it
// names a different user; username/avatar are server-owned and never copied
// from the client.
func (s *Service) UpdateVoiceState(ctx context.Context, user domain.UserID, state domain.VoiceParticipant) {
	if state.ID != user {
		s.logger.Warnw("voice state update for foreign identity ignored",
			"user_id", user, "claimed_id", state.ID)
		return
	}
	updated, ch, err := s.rosters.UpdateFlags(ctx, user, state.IsMuted, state.IsDeafened)
	if err != nil {
		s.logger.Debugw("voice state update outside a channel ignored", "user_id", user, "error", err)
		return
	}
	s.broadcast(ctx, ch, user, MustEnvelope(EvUserVoiceStateChanged, UserVoiceStateChangedEvent{
		ChannelID: ch,
		User:      updated,
	}))
}

func (s *Service) channelOf(ctx context.Context, user domain.UserID) (domain.ChannelID, bool) {
	ch, ok, err := s.rosters.ChannelOf(ctx, user)
	if err != nil {
		s.logger.Errorw("roster lookup failed", "user_id", user, "error", err)
		return "", false
	}
	return ch, ok
}

// leaveChannel removes the user from its current channel and broadcasts the
// departure to the remaining members. The empty channel entry is discarded
// by the repository.
func (s *Service) leaveChannel(ctx context.Context, user domain.UserID, reason domain.LeaveReason) {
	ch, ok := s.channelOf(ctx, user)
	if !ok {
		return
	}
	if _, err := s.rosters.Leave(ctx, ch, user); err != nil {
		s.logger.Warnw("failed to leave roster", "user_id", user, "channel_id", ch, "error", err)
		return
	}
	s.broadcast(ctx, ch, user, MustEnvelope(EvUserLeftChannel, UserLeftChannelEvent{
		ChannelID: ch,
		UserID:    user,
		Reason:    reason,
	}))
	s.refreshChannelGauge(ctx)
	s.logger.Infow("user left voice channel", "user_id", user, "channel_id", ch, "reason", reason)
}

// broadcast delivers env to every current member of the channel except the
// excluded user.
func (s *Service) broadcast(ctx context.Context, channel domain.ChannelID, except domain.UserID, env Envelope) {
	members, err := s.rosters.Members(ctx, channel)
	if err != nil {
		return // channel already gone
	}
	for _, m := range members {
		if m.ID == except {
			continue
		}
		s.sendToUser(ctx, m.ID, env)
	}
}

// sendToUser resolves the user's live connection and delivers env. Unbound
// targets are a silent drop: client state self-corrects on reconciliation.
func (s *Service) sendToUser(ctx context.Context, user domain.UserID, env Envelope) {
	conn, ok, err := s.dir.Lookup(ctx, user)
	if err != nil {
		s.logger.Errorw("directory lookup failed", "user_id", user, "error", err)
		s.metrics.DeliveryFailed(string(env.Op))
		return
	}
	if !ok {
		s.metrics.DeliveryFailed(string(env.Op))
		return
	}
	s.deliver(conn, env)
}

func (s *Service) deliver(conn domain.ConnectionID, env Envelope) {
	if err := s.sender.Send(conn, env); err != nil {
		s.logger.Debugw("delivery failed", "connection_id", conn, "op", env.Op, "error", err)
		s.metrics.DeliveryFailed(string(env.Op))
		return
	}
	s.metrics.SignalForwarded(string(env.Op))
}

func (s *Service) refreshChannelGauge(ctx context.Context) {
	if n, err := s.rosters.ChannelCount(ctx); err == nil {
		s.metrics.SetActiveChannels(n)
	}
}
