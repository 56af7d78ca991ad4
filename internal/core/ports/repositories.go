package ports

import (
	"context"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
)

// ConnectionDirectory maps an authenticated identity to its single live
// transport connection. Bind is last-write-wins: a reconnecting or
// re-identifying user replaces the previous entry.
type ConnectionDirectory interface {
	Bind(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error
	// Unbind removes the entry only if it still points at conn, so a stale
	// disconnect cannot evict a newer binding.
	Unbind(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error
	Lookup(ctx context.Context, user domain.UserID) (domain.ConnectionID, bool, error)
}

// ChannelRosterRepository tracks which users are present in which voice
// channel, including each user's public voice state. A user belongs to at
// most one channel; a channel entry disappears once its last member leaves.
type ChannelRosterRepository interface {
	Join(ctx context.Context, channel domain.ChannelID, p domain.VoiceParticipant) error
	// Leave reports whether the channel became empty (and was discarded).
	Leave(ctx context.Context, channel domain.ChannelID, user domain.UserID) (empty bool, err error)
	Members(ctx context.Context, channel domain.ChannelID) ([]domain.VoiceParticipant, error)
	ChannelOf(ctx context.Context, user domain.UserID) (domain.ChannelID, bool, error)
	// UpdateFlags mutates only the mute/deafen flags of the user's roster
	// entry and returns the resulting participant record.
	UpdateFlags(ctx context.Context, user domain.UserID, muted, deafened bool) (domain.VoiceParticipant, domain.ChannelID, error)
	ChannelCount(ctx context.Context) (int, error)
}
