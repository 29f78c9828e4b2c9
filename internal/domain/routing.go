package domain

import "time"

// RoutingPolicy is one resolved entry of the static routing directory.
// CalledNumber is the business number the policy was keyed by; a policy
// obtained via reverse lookup carries it too.
type RoutingPolicy struct {
	CalledNumber   string        `json:"calledNumber"`
	TargetNumber   string        `json:"targetNumber,omitempty"`
	RequiresAnswer bool          `json:"requiresAnswer"`
	VoiceAgentID   string        `json:"voiceAgentId,omitempty"`
	MaxRingTime    time.Duration `json:"maxRingTime"`
	Description    string        `json:"description,omitempty"`
	WhisperMessage string        `json:"whisperMessage,omitempty"`
}

// HasTarget reports whether the policy forwards to a real number. Without a
// target the call goes directly to the voice agent and the ring-time and
// answer-requirement fields are irrelevant.
func (p *RoutingPolicy) HasTarget() bool {
	return p.TargetNumber != ""
}
