package voice

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Session descriptions and ICE candidates travel through the relay as opaque
// JSON strings; only the two endpoints parse them.

func encodeSDP(desc webrtc.SessionDescription) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("failed to encode session description: %w", err)
	}
	return string(raw), nil
}

func decodeSDP(raw string) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return desc, fmt.Errorf("failed to decode session description: %w", err)
	}
	if desc.Type == webrtc.SDPType(0) || desc.SDP == "" {
		return desc, fmt.Errorf("incomplete session description")
	}
	return desc, nil
}

func encodeCandidate(cand webrtc.ICECandidateInit) (string, error) {
	raw, err := json.Marshal(cand)
	if err != nil {
		return "", fmt.Errorf("failed to encode ice candidate: %w", err)
	}
	return string(raw), nil
}

func decodeCandidate(raw string) (webrtc.ICECandidateInit, error) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(raw), &cand); err != nil {
		return cand, fmt.Errorf("failed to decode ice candidate: %w", err)
	}
	if cand.Candidate == "" {
		return cand, fmt.Errorf("empty ice candidate")
	}
	return cand, nil
}
