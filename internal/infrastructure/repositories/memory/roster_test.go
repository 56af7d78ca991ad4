package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
)

func TestRoster_JoinAndMembers(t *testing.T) {
	ctx := context.Background()
	r := NewChannelRosterRepository()

	require.NoError(t, r.Join(ctx, "general", domain.VoiceParticipant{ID: "alice", Username: "Alice"}))
	require.NoError(t, r.Join(ctx, "general", domain.VoiceParticipant{ID: "bob", Username: "Bob"}))

	members, err := r.Members(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	ch, ok, err := r.ChannelOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ChannelID("general"), ch)
}

func TestRoster_LeaveDiscardsEmptyChannel(t *testing.T) {
	ctx := context.Background()
	r := NewChannelRosterRepository()

	require.NoError(t, r.Join(ctx, "general", domain.VoiceParticipant{ID: "alice"}))
	require.NoError(t, r.Join(ctx, "general", domain.VoiceParticipant{ID: "bob"}))

	empty, err := r.Leave(ctx, "general", "alice")
	require.NoError(t, err)
	assert.False(t, empty)

	empty, err = r.Leave(ctx, "general", "bob")
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = r.Members(ctx, "general")
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)

	n, err := r.ChannelCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRoster_LeaveUnknownChannel(t *testing.T) {
	ctx := context.Background()
	r := NewChannelRosterRepository()

	_, err := r.Leave(ctx, "nowhere", "alice")
	assert.ErrorIs(t, err, domain.ErrChannelNotFound)
}

func TestRoster_UpdateFlags(t *testing.T) {
	ctx := context.Background()
	r := NewChannelRosterRepository()

	require.NoError(t, r.Join(ctx, "general", domain.VoiceParticipant{ID: "alice", Username: "Alice"}))

	p, ch, err := r.UpdateFlags(ctx, "alice", true, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelID("general"), ch)
	assert.True(t, p.IsMuted)
	assert.True(t, p.IsDeafened)
	// Flags only; the identity fields stay intact.
	assert.Equal(t, "Alice", p.Username)
}

func TestRoster_UpdateFlagsOutsideChannel(t *testing.T) {
	ctx := context.Background()
	r := NewChannelRosterRepository()

	_, _, err := r.UpdateFlags(ctx, "alice", true, false)
	assert.ErrorIs(t, err, domain.ErrNotInChannel)
}

func TestDirectory_BindLookupUnbind(t *testing.T) {
	ctx := context.Background()
	d := NewConnectionDirectory()

	require.NoError(t, d.Bind(ctx, "alice", "c-1"))

	conn, ok, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ConnectionID("c-1"), conn)

	require.NoError(t, d.Unbind(ctx, "alice", "c-1"))
	_, ok, err = d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory_StaleUnbindKeepsNewerBinding(t *testing.T) {
	ctx := context.Background()
	d := NewConnectionDirectory()

	require.NoError(t, d.Bind(ctx, "alice", "c-old"))
	require.NoError(t, d.Bind(ctx, "alice", "c-new"))

	// The old connection's teardown races the reconnect; it must not evict
	// the fresh binding.
	require.NoError(t, d.Unbind(ctx, "alice", "c-old"))

	conn, ok, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.ConnectionID("c-new"), conn)
}

func TestUserDirectory_UpsertAndFind(t *testing.T) {
	ctx := context.Background()
	d := NewUserDirectory()

	_, err := d.FindByID(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	require.NoError(t, d.Upsert(ctx, domain.UserProfile{ID: "alice", Username: "Alice"}))
	p, err := d.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Username)

	require.NoError(t, d.Upsert(ctx, domain.UserProfile{ID: "alice", Username: "Alice v2"}))
	p, err = d.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice v2", p.Username)
}
