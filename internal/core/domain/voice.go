package domain

// Identifier types used across the relay and the client orchestrator.
type (
	UserID       string
	ChannelID    string
	ConnectionID string
)

// VoiceParticipant is the public voice state of one user inside a channel.
// Username and AvatarURL are owned by the server (resolved from the user
// directory on join); only the mute/deafen flags may be updated by the
// owning client afterwards.
type VoiceParticipant struct {
	ID         UserID `json:"id"`
	Username   string `json:"username"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
	IsMuted    bool   `json:"isMuted"`
	IsDeafened bool   `json:"isDeafened"`
}

// ChannelState is the roster snapshot sent to a client right after it joins
// a voice channel. Users never contains the receiving client itself.
type ChannelState struct {
	ChannelID ChannelID          `json:"channelId"`
	Users     []VoiceParticipant `json:"users"`
}

// LeaveReason tags a UserLeftChannel broadcast.
type LeaveReason string

const (
	LeaveManual   LeaveReason = "manual_leave"
	LeaveSwitched LeaveReason = "switched_channel"
	LeaveDropped  LeaveReason = "disconnect"
)

// UserProfile is what the external user directory knows about an identity.
type UserProfile struct {
	ID        UserID
	Username  string
	AvatarURL string
}
