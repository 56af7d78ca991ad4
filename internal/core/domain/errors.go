package domain

import "errors"

var (
	ErrNotConnected     = errors.New("user not connected")
	ErrUserNotFound     = errors.New("user not found")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrNotInChannel     = errors.New("not a member of a voice channel")
	ErrBusy             = errors.New("busy with another call or channel")
	ErrNoActiveCall     = errors.New("no active call")
	ErrNoRemoteOffer    = errors.New("remote offer not set")
	ErrMediaUnavailable = errors.New("local media unavailable")
)
