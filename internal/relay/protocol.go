package relay

import (
	"encoding/json"
	"fmt"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
)

// Op names one signaling operation or pushed event. Every message on the
// wire is an Envelope whose payload shape is determined by the op, so
// malformed or unknown messages are rejected at the boundary instead of
// leaking loosely-typed objects into the handlers.
type Op string

// Client -> server operations.
const (
	OpSetUserID               Op = "set_user_id"
	OpCallUser                Op = "call_user"
	OpAcceptCall              Op = "accept_call"
	OpDeclineCall             Op = "decline_call"
	OpEndCall                 Op = "end_call"
	OpSendSDP                 Op = "send_sdp"
	OpSendICECandidate        Op = "send_ice_candidate"
	OpJoinVoiceChannel        Op = "join_voice_channel"
	OpLeaveVoiceChannel       Op = "leave_voice_channel"
	OpSendChannelOffer        Op = "send_channel_offer"
	OpSendChannelAnswer       Op = "send_channel_answer"
	OpSendChannelICECandidate Op = "send_channel_ice_candidate"
	OpUpdateVoiceState        Op = "update_voice_state"
)

// Server -> client events.
const (
	EvReceiveCall                Op = "receive_call"
	EvCallAccepted               Op = "call_accepted"
	EvCallDeclined               Op = "call_declined"
	EvCallEnded                  Op = "call_ended"
	EvCallUserFailed             Op = "call_user_failed"
	EvReceiveSDP                 Op = "receive_sdp"
	EvReceiveICECandidate        Op = "receive_ice_candidate"
	EvChannelState               Op = "channel_state"
	EvUserJoinedChannel          Op = "user_joined_channel"
	EvUserLeftChannel            Op = "user_left_channel"
	EvReceiveChannelOffer        Op = "receive_channel_offer"
	EvReceiveChannelAnswer       Op = "receive_channel_answer"
	EvReceiveChannelICECandidate Op = "receive_channel_ice_candidate"
	EvUserVoiceStateChanged      Op = "user_voice_state_changed"
)

type Envelope struct {
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for op.
func NewEnvelope(op Op, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Op: op}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return Envelope{Op: op, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to marshal.
func MustEnvelope(op Op, payload any) Envelope {
	env, err := NewEnvelope(op, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Client -> server payloads. SDP and candidate blobs are opaque to the
// relay; it forwards them verbatim.

type SetUserIDPayload struct {
	UserID domain.UserID `json:"userId"`
}

type CallUserPayload struct {
	CallerID domain.UserID `json:"callerId"`
	TargetID domain.UserID `json:"targetId"`
}

type AcceptCallPayload struct {
	CallerID domain.UserID `json:"callerId"`
}

type DeclineCallPayload struct {
	CallerID domain.UserID `json:"callerId"`
}

type EndCallPayload struct {
	TargetID domain.UserID `json:"targetId"`
}

type SDPPayload struct {
	TargetID domain.UserID `json:"targetId"`
	SDP      string        `json:"sdp"`
}

type ICECandidatePayload struct {
	TargetID  domain.UserID `json:"targetId"`
	Candidate string        `json:"candidate"`
}

type JoinChannelPayload struct {
	ChannelID   domain.ChannelID `json:"channelId"`
	DisplayName string           `json:"displayName"`
}

type ChannelOfferPayload struct {
	TargetID domain.UserID `json:"targetId"`
	SDP      string        `json:"sdp"`
}

type ChannelAnswerPayload struct {
	TargetID domain.UserID `json:"targetId"`
	SDP      string        `json:"sdp"`
}

type ChannelICECandidatePayload struct {
	TargetID  domain.UserID `json:"targetId"`
	Candidate string        `json:"candidate"`
}

type UpdateVoiceStatePayload struct {
	State domain.VoiceParticipant `json:"state"`
}

// Server -> client payloads.

type ReceiveCallEvent struct {
	CallerID domain.UserID `json:"callerId"`
	TargetID domain.UserID `json:"targetId"`
}

type CallAcceptedEvent struct {
	UserID domain.UserID `json:"userId"`
}

type CallDeclinedEvent struct {
	UserID domain.UserID `json:"userId"`
}

type CallEndedEvent struct {
	UserID domain.UserID `json:"userId"`
}

type CallUserFailedEvent struct {
	TargetID domain.UserID `json:"targetId"`
	Reason   string        `json:"reason"`
}

type ReceiveSDPEvent struct {
	SenderID domain.UserID `json:"senderId"`
	SDP      string        `json:"sdp"`
}

type ReceiveICECandidateEvent struct {
	SenderID  domain.UserID `json:"senderId"`
	Candidate string        `json:"candidate"`
}

type ChannelStateEvent struct {
	ChannelID domain.ChannelID          `json:"channelId"`
	Users     []domain.VoiceParticipant `json:"users"`
}

type UserJoinedChannelEvent struct {
	ChannelID domain.ChannelID        `json:"channelId"`
	User      domain.VoiceParticipant `json:"user"`
}

type UserLeftChannelEvent struct {
	ChannelID domain.ChannelID   `json:"channelId"`
	UserID    domain.UserID      `json:"userId"`
	Reason    domain.LeaveReason `json:"reason"`
}

type ReceiveChannelOfferEvent struct {
	SenderID  domain.UserID    `json:"senderId"`
	ChannelID domain.ChannelID `json:"channelId"`
	SDP       string           `json:"sdp"`
}

type ReceiveChannelAnswerEvent struct {
	SenderID  domain.UserID    `json:"senderId"`
	ChannelID domain.ChannelID `json:"channelId"`
	SDP       string           `json:"sdp"`
}

type ReceiveChannelICECandidateEvent struct {
	SenderID  domain.UserID    `json:"senderId"`
	ChannelID domain.ChannelID `json:"channelId"`
	Candidate string           `json:"candidate"`
}

type UserVoiceStateChangedEvent struct {
	ChannelID domain.ChannelID        `json:"channelId"`
	User      domain.VoiceParticipant `json:"user"`
}

// DecodeClientPayload parses and validates the payload of a client
// operation. It returns the concrete payload struct for the envelope's op.
func DecodeClientPayload(env Envelope) (any, error) {
	switch env.Op {
	case OpSetUserID:
		var p SetUserIDPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("%s: userId is required", env.Op)
		}
		return p, nil

	case OpCallUser:
		var p CallUserPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" {
			return nil, fmt.Errorf("%s: targetId is required", env.Op)
		}
		return p, nil

	case OpAcceptCall:
		var p AcceptCallPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.CallerID == "" {
			return nil, fmt.Errorf("%s: callerId is required", env.Op)
		}
		return p, nil

	case OpDeclineCall:
		var p DeclineCallPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.CallerID == "" {
			return nil, fmt.Errorf("%s: callerId is required", env.Op)
		}
		return p, nil

	case OpEndCall:
		var p EndCallPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" {
			return nil, fmt.Errorf("%s: targetId is required", env.Op)
		}
		return p, nil

	case OpSendSDP:
		var p SDPPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" || p.SDP == "" {
			return nil, fmt.Errorf("%s: targetId and sdp are required", env.Op)
		}
		return p, nil

	case OpSendICECandidate:
		var p ICECandidatePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" || p.Candidate == "" {
			return nil, fmt.Errorf("%s: targetId and candidate are required", env.Op)
		}
		return p, nil

	case OpJoinVoiceChannel:
		var p JoinChannelPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.ChannelID == "" {
			return nil, fmt.Errorf("%s: channelId is required", env.Op)
		}
		return p, nil

	case OpLeaveVoiceChannel:
		return struct{}{}, nil

	case OpSendChannelOffer:
		var p ChannelOfferPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" || p.SDP == "" {
			return nil, fmt.Errorf("%s: targetId and sdp are required", env.Op)
		}
		return p, nil

	case OpSendChannelAnswer:
		var p ChannelAnswerPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" || p.SDP == "" {
			return nil, fmt.Errorf("%s: targetId and sdp are required", env.Op)
		}
		return p, nil

	case OpSendChannelICECandidate:
		var p ChannelICECandidatePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" || p.Candidate == "" {
			return nil, fmt.Errorf("%s: targetId and candidate are required", env.Op)
		}
		return p, nil

	case OpUpdateVoiceState:
		var p UpdateVoiceStatePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.State.ID == "" {
			return nil, fmt.Errorf("%s: state.id is required", env.Op)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown op: %q", env.Op)
	}
}

// DecodeServerPayload parses the payload of a server-pushed event. Used by
// the client transport; unknown events are rejected rather than dropped so
// protocol drift is visible.
func DecodeServerPayload(env Envelope) (any, error) {
	switch env.Op {
	case EvReceiveCall:
		var p ReceiveCallEvent
		return p, unmarshalPayload(env, &p)
	case EvCallAccepted:
		var p CallAcceptedEvent
		return p, unmarshalPayload(env, &p)
	case EvCallDeclined:
		var p CallDeclinedEvent
		return p, unmarshalPayload(env, &p)
	case EvCallEnded:
		var p CallEndedEvent
		return p, unmarshalPayload(env, &p)
	case EvCallUserFailed:
		var p CallUserFailedEvent
		return p, unmarshalPayload(env, &p)
	case EvReceiveSDP:
		var p ReceiveSDPEvent
		return p, unmarshalPayload(env, &p)
	case EvReceiveICECandidate:
		var p ReceiveICECandidateEvent
		return p, unmarshalPayload(env, &p)
	case EvChannelState:
		var p ChannelStateEvent
		return p, unmarshalPayload(env, &p)
	case EvUserJoinedChannel:
		var p UserJoinedChannelEvent
		return p, unmarshalPayload(env, &p)
	case EvUserLeftChannel:
		var p UserLeftChannelEvent
		return p, unmarshalPayload(env, &p)
	case EvReceiveChannelOffer:
		var p ReceiveChannelOfferEvent
		return p, unmarshalPayload(env, &p)
	case EvReceiveChannelAnswer:
		var p ReceiveChannelAnswerEvent
		return p, unmarshalPayload(env, &p)
	case EvReceiveChannelICECandidate:
		var p ReceiveChannelICECandidateEvent
		return p, unmarshalPayload(env, &p)
	case EvUserVoiceStateChanged:
		var p UserVoiceStateChangedEvent
		return p, unmarshalPayload(env, &p)
	default:
		return nil, fmt.Errorf("unknown event: %q", env.Op)
	}
}

func unmarshalPayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: payload is required", env.Op)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", env.Op, err)
	}
	return nil
}
