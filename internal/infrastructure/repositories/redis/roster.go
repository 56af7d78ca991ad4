package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// ChannelRosterRepository keeps channel rosters in Redis hashes: one hash of
// participant records per channel, one hash mapping user -> current channel,
// and a set of live channel ids.
type ChannelRosterRepository struct {
	client *redis.Client
}

func NewChannelRosterRepository(client *redis.Client) ports.ChannelRosterRepository {
	return &ChannelRosterRepository{client: client}
}

func (r *ChannelRosterRepository) membersKey(ch domain.ChannelID) string {
	return fmt.Sprintf("voicehub:channel:%s:members", ch)
}

const (
	userChannelKey = "voicehub:user_channel"
	channelSetKey  = "voicehub:channels"
)

func (r *ChannelRosterRepository) Join(ctx context.Context, channel domain.ChannelID, p domain.VoiceParticipant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.membersKey(channel), string(p.ID), data)
	pipe.HSet(ctx, userChannelKey, string(p.ID), string(channel))
	pipe.SAdd(ctx, channelSetKey, string(channel))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to join channel in Redis: %w", err)
	}
	return nil
}

func (r *ChannelRosterRepository) Leave(ctx context.Context, channel domain.ChannelID, user domain.UserID) (bool, error) {
	key := r.membersKey(channel)

	removed, err := r.client.HDel(ctx, key, string(user)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove member in Redis: %w", err)
	}
	if removed == 0 {
		exists, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check channel in Redis: %w", err)
		}
		if exists == 0 {
			return false, domain.ErrChannelNotFound
		}
	}

	// Clear the user's current-channel pointer only if it still names this
	// channel; a racing join to another channel must not be clobbered.
	if cur, err := r.client.HGet(ctx, userChannelKey, string(user)).Result(); err == nil && cur == string(channel) {
		r.client.HDel(ctx, userChannelKey, string(user))
	}

	remaining, err := r.client.HLen(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count members in Redis: %w", err)
	}
	if remaining == 0 {
		pipe := r.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, channelSetKey, string(channel))
		if _, err := pipe.Exec(ctx); err != nil {
			return true, fmt.Errorf("failed to discard empty channel in Redis: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (r *ChannelRosterRepository) Members(ctx context.Context, channel domain.ChannelID) ([]domain.VoiceParticipant, error) {
	vals, err := r.client.HGetAll(ctx, r.membersKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get members from Redis: %w", err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrChannelNotFound
	}

	out := make([]domain.VoiceParticipant, 0, len(vals))
	for _, raw := range vals {
		var p domain.VoiceParticipant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue // skip corrupt entries
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *ChannelRosterRepository) ChannelOf(ctx context.Context, user domain.UserID) (domain.ChannelID, bool, error) {
	val, err := r.client.HGet(ctx, userChannelKey, string(user)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get user channel from Redis: %w", err)
	}
	return domain.ChannelID(val), true, nil
}

func (r *ChannelRosterRepository) UpdateFlags(ctx context.Context, user domain.UserID, muted, deafened bool) (domain.VoiceParticipant, domain.ChannelID, error) {
	ch, ok, err := r.ChannelOf(ctx, user)
	if err != nil {
		return domain.VoiceParticipant{}, "", err
	}
	if !ok {
		return domain.VoiceParticipant{}, "", domain.ErrNotInChannel
	}

	key := r.membersKey(ch)
	raw, err := r.client.HGet(ctx, key, string(user)).Result()
	if err == redis.Nil {
		return domain.VoiceParticipant{}, "", domain.ErrNotInChannel
	}
	if err != nil {
		return domain.VoiceParticipant{}, "", fmt.Errorf("failed to get participant from Redis: %w", err)
	}

	var p domain.VoiceParticipant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.VoiceParticipant{}, "", fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	p.IsMuted = muted
	p.IsDeafened = deafened

	data, err := json.Marshal(p)
	if err != nil {
		return domain.VoiceParticipant{}, "", fmt.Errorf("failed to marshal participant: %w", err)
	}
	if err := r.client.HSet(ctx, key, string(user), data).Err(); err != nil {
		return domain.VoiceParticipant{}, "", fmt.Errorf("failed to update participant in Redis: %w", err)
	}
	return p, ch, nil
}

func (r *ChannelRosterRepository) ChannelCount(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, channelSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count channels in Redis: %w", err)
	}
	return int(n), nil
}
