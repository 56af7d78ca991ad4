package middleware

import "golang.org/x/time/rate"

// MessageLimiter caps the inbound signaling message rate of a single
// connection. Connections that exceed the budget are dropped by the hub.
type MessageLimiter struct {
	limiter *rate.Limiter
}

// NewMessageLimiter returns a limiter allowing perSecond messages with the
// given burst, or nil when disabled.
func NewMessageLimiter(enabled bool, perSecond float64, burst int) *MessageLimiter {
	if !enabled {
		return nil
	}
	return &MessageLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *MessageLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
