package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/infrastructure/repositories/memory"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[domain.ConnectionID][]Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[domain.ConnectionID][]Envelope)}
}

func (f *fakeSender) Send(conn domain.ConnectionID, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[conn] = append(f.sent[conn], env)
	return nil
}

func (f *fakeSender) ops(conn domain.ConnectionID) []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]Op, 0, len(f.sent[conn]))
	for _, env := range f.sent[conn] {
		ops = append(ops, env.Op)
	}
	return ops
}

// last decodes the most recent envelope with the given op sent to conn.
func (f *fakeSender) last(t *testing.T, conn domain.ConnectionID, op Op, dst any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent[conn]) - 1; i >= 0; i-- {
		if f.sent[conn][i].Op == op {
			require.NoError(t, json.Unmarshal(f.sent[conn][i].Payload, dst))
			return
		}
	}
	t.Fatalf("no %s envelope sent to %s", op, conn)
}

type fixture struct {
	svc    *Service
	sender *fakeSender
	users  *memory.UserDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sender := newFakeSender()
	users := memory.NewUserDirectory()
	svc := NewService(
		memory.NewConnectionDirectory(),
		memory.NewChannelRosterRepository(),
		users,
		sender,
		NoopMetrics,
		zap.NewNop().Sugar(),
	)
	return &fixture{svc: svc, sender: sender, users: users}
}

// connect registers a profile and binds a connection for the user.
func (f *fixture) connect(t *testing.T, user domain.UserID, conn domain.ConnectionID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.users.Upsert(ctx, domain.UserProfile{
		ID:       user,
		Username: "display-" + string(user),
	}))
	require.NoError(t, f.svc.Connected(ctx, user, conn))
}

func TestJoinVoiceChannel_SnapshotExcludesJoiner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "bob", "c-bob")
	f.connect(t, "alice", "c-alice")

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "general", "Alice"))

	var state ChannelStateEvent
	f.sender.last(t, "c-alice", EvChannelState, &state)
	assert.Equal(t, domain.ChannelID("general"), state.ChannelID)
	require.Len(t, state.Users, 1)
	assert.Equal(t, domain.UserID("bob"), state.Users[0].ID)

	var joined UserJoinedChannelEvent
	f.sender.last(t, "c-bob", EvUserJoinedChannel, &joined)
	assert.Equal(t, domain.UserID("alice"), joined.User.ID)
}

func TestJoinVoiceChannel_ProfileIsServerResolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "bob", "c-bob")
	f.connect(t, "mallory", "c-mallory")
	require.NoError(t, f.users.Upsert(ctx, domain.UserProfile{
		ID:        "mallory",
		Username:  "Mallory",
		AvatarURL: "https://cdn/avatar.png",
	}))

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	// The client-supplied display name must not override the directory.
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "mallory", "c-mallory", "general", "Bob impersonator"))

	var joined UserJoinedChannelEvent
	f.sender.last(t, "c-bob", EvUserJoinedChannel, &joined)
	assert.Equal(t, "Mallory", joined.User.Username)
	assert.Equal(t, "https://cdn/avatar.png", joined.User.AvatarURL)
}

func TestJoinVoiceChannel_SwitchLeavesOldChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "general", "Alice"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "gaming", "Alice"))

	var left UserLeftChannelEvent
	f.sender.last(t, "c-bob", EvUserLeftChannel, &left)
	assert.Equal(t, domain.UserID("alice"), left.UserID)
	assert.Equal(t, domain.LeaveSwitched, left.Reason)
	assert.Equal(t, domain.ChannelID("general"), left.ChannelID)
}

func TestLeaveVoiceChannel_ManualReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "general", "Alice"))

	f.svc.LeaveVoiceChannel(ctx, "alice")

	var left UserLeftChannelEvent
	f.sender.last(t, "c-bob", EvUserLeftChannel, &left)
	assert.Equal(t, domain.LeaveManual, left.Reason)
}

func TestDisconnected_ImplicitLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "general", "Alice"))

	f.svc.Disconnected(ctx, "alice", "c-alice")

	var left UserLeftChannelEvent
	f.sender.last(t, "c-bob", EvUserLeftChannel, &left)
	assert.Equal(t, domain.LeaveDropped, left.Reason)

	// The dropped user is no longer reachable.
	f.svc.CallUser(ctx, "bob", "alice")
	var failed CallUserFailedEvent
	f.sender.last(t, "c-bob", EvCallUserFailed, &failed)
	assert.Equal(t, domain.UserID("alice"), failed.TargetID)
}

func TestCallUser_Delivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	f.svc.CallUser(ctx, "alice", "bob")

	var call ReceiveCallEvent
	f.sender.last(t, "c-bob", EvReceiveCall, &call)
	assert.Equal(t, domain.UserID("alice"), call.CallerID)
	assert.Equal(t, domain.UserID("bob"), call.TargetID)
}

func TestCallUser_TargetOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")

	f.svc.CallUser(ctx, "alice", "ghost")

	var failed CallUserFailedEvent
	f.sender.last(t, "c-alice", EvCallUserFailed, &failed)
	assert.Equal(t, domain.UserID("ghost"), failed.TargetID)
	assert.Equal(t, "not connected", failed.Reason)
}

func TestSendSDP_Forwarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	f.svc.SendSDP(ctx, "alice", "bob", `{"type":"offer","sdp":"v=0"}`)

	var sdp ReceiveSDPEvent
	f.sender.last(t, "c-bob", EvReceiveSDP, &sdp)
	assert.Equal(t, domain.UserID("alice"), sdp.SenderID)
	assert.Equal(t, `{"type":"offer","sdp":"v=0"}`, sdp.SDP)
}

func TestSendChannelOffer_RequiresMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	// Alice is not in any channel; the offer must be dropped.
	f.svc.SendChannelOffer(ctx, "alice", "bob", "sdp")
	assert.Empty(t, f.sender.ops("c-bob"))
}

func TestSendChannelOffer_CarriesChannelID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "general", "Alice"))

	f.svc.SendChannelOffer(ctx, "alice", "bob", "offer-sdp")

	var offer ReceiveChannelOfferEvent
	f.sender.last(t, "c-bob", EvReceiveChannelOffer, &offer)
	assert.Equal(t, domain.UserID("alice"), offer.SenderID)
	assert.Equal(t, domain.ChannelID("general"), offer.ChannelID)
	assert.Equal(t, "offer-sdp", offer.SDP)
}

func TestUpdateVoiceState_Broadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "general", "Alice"))

	f.svc.UpdateVoiceState(ctx, "alice", domain.VoiceParticipant{
		ID:       "alice",
		Username: "Totally Bob", // must be ignored
		IsMuted:  true,
	})

	var changed UserVoiceStateChangedEvent
	f.sender.last(t, "c-bob", EvUserVoiceStateChanged, &changed)
	assert.Equal(t, domain.UserID("alice"), changed.User.ID)
	assert.True(t, changed.User.IsMuted)
	assert.False(t, changed.User.IsDeafened)
	// Username stays server-owned.
	assert.Equal(t, "display-alice", changed.User.Username)
}

func TestUpdateVoiceState_ForeignIdentityIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "alice", "c-alice")
	f.connect(t, "bob", "c-bob")

	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "bob", "c-bob", "general", "Bob"))
	require.NoError(t, f.svc.JoinVoiceChannel(ctx, "alice", "c-alice", "general", "Alice"))

	before := len(f.sender.ops("c-alice"))
	f.svc.UpdateVoiceState(ctx, "bob", domain.VoiceParticipant{ID: "alice", IsMuted: true})
	assert.Len(t, f.sender.ops("c-alice"), before)
}

func TestSetUserID_RebindReplaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "temp-id", "c-1")
	f.connect(t, "bob", "c-bob")

	require.NoError(t, f.svc.SetUserID(ctx, "temp-id", "alice", "c-1"))

	// The new identity is reachable, the old one is not.
	f.svc.CallUser(ctx, "bob", "alice")
	var call ReceiveCallEvent
	f.sender.last(t, "c-1", EvReceiveCall, &call)
	assert.Equal(t, domain.UserID("bob"), call.CallerID)

	f.svc.CallUser(ctx, "bob", "temp-id")
	var failed CallUserFailedEvent
	f.sender.last(t, "c-bob", EvCallUserFailed, &failed)
	assert.Equal(t, domain.UserID("temp-id"), failed.TargetID)
}
