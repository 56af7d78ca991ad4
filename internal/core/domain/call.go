package domain

// CallState is the client-side 1:1 call lifecycle.
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallActive:
		return "in_call"
	default:
		return "unknown"
	}
}

// CallSession describes the single 1:1 call a client may hold at a time.
type CallSession struct {
	CallerID  UserID
	TargetID  UserID
	Initiator bool
	State     CallState
}

// RemoteID returns the other party of the call from the local side's view.
func (c *CallSession) RemoteID() UserID {
	if c.Initiator {
		return c.TargetID
	}
	return c.CallerID
}
