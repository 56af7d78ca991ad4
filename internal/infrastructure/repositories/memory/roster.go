package memory

import (
	"context"
	"sync"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/core/ports"
)

// ChannelRosterRepository tracks channel membership in process memory.
// Channel entries are created on first join and discarded once empty.
type ChannelRosterRepository struct {
	mu          sync.RWMutex
	channels    map[domain.ChannelID]map[domain.UserID]domain.VoiceParticipant
	userChannel map[domain.UserID]domain.ChannelID
}

func NewChannelRosterRepository() ports.ChannelRosterRepository {
	return &ChannelRosterRepository{
		channels:    make(map[domain.ChannelID]map[domain.UserID]domain.VoiceParticipant),
		userChannel: make(map[domain.UserID]domain.ChannelID),
	}
}

func (r *ChannelRosterRepository) Join(ctx context.Context, channel domain.ChannelID, p domain.VoiceParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[domain.UserID]domain.VoiceParticipant)
		r.channels[channel] = members
	}
	members[p.ID] = p
	r.userChannel[p.ID] = channel
	return nil
}

func (r *ChannelRosterRepository) Leave(ctx context.Context, channel domain.ChannelID, user domain.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channel]
	if !ok {
		return false, domain.ErrChannelNotFound
	}
	delete(members, user)
	if r.userChannel[user] == channel {
		delete(r.userChannel, user)
	}
	if len(members) == 0 {
		delete(r.channels, channel)
		return true, nil
	}
	return false, nil
}

func (r *ChannelRosterRepository) Members(ctx context.Context, channel domain.ChannelID) ([]domain.VoiceParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.channels[channel]
	if !ok {
		return nil, domain.ErrChannelNotFound
	}
	out := make([]domain.VoiceParticipant, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	return out, nil
}

func (r *ChannelRosterRepository) ChannelOf(ctx context.Context, user domain.UserID) (domain.ChannelID, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.userChannel[user]
	return ch, ok, nil
}

func (r *ChannelRosterRepository) UpdateFlags(ctx context.Context, user domain.UserID, muted, deafened bool) (domain.VoiceParticipant, domain.ChannelID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.userChannel[user]
	if !ok {
		return domain.VoiceParticipant{}, "", domain.ErrNotInChannel
	}
	members, ok := r.channels[ch]
	if !ok {
		return domain.VoiceParticipant{}, "", domain.ErrChannelNotFound
	}
	p, ok := members[user]
	if !ok {
		return domain.VoiceParticipant{}, "", domain.ErrNotInChannel
	}
	p.IsMuted = muted
	p.IsDeafened = deafened
	members[user] = p
	return p, ch, nil
}

func (r *ChannelRosterRepository) ChannelCount(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels), nil
}
