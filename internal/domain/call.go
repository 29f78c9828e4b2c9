package domain

import (
	"net/url"
	"strconv"
	"time"
)

// CallStatus is the lifecycle status Twilio reports in the CallStatus field.
type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusAnswered   CallStatus = "answered"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusInProgress CallStatus = "in-progress"
)

// DialOutcome is the result of a forwarded dial attempt, reported in the
// DialCallStatus field of the <Dial> action callback. Empty on ordinary
// call-lifecycle events.
type DialOutcome string

const (
	DialOutcomeAnswered DialOutcome = "answered"
	DialOutcomeNoAnswer DialOutcome = "no-answer"
	DialOutcomeBusy     DialOutcome = "busy"
	DialOutcomeFailed   DialOutcome = "failed"
)

// InboundCallEvent is one parsed Twilio webhook payload. Immutable once
// parsed; one instance per inbound request.
type InboundCallEvent struct {
	AccountSID   string
	CallSID      string
	CallStatus   CallStatus
	DialStatus   DialOutcome
	From         string
	To           string
	CallDuration int // seconds, present on completion only
}

// IsDialCallback reports whether the event carries a dial outcome from a
// forwarded leg. Dial callbacks take priority over the call status.
func (e *InboundCallEvent) IsDialCallback() bool {
	return e.DialStatus != ""
}

// ParseCallEvent builds an InboundCallEvent from form-encoded webhook values.
func ParseCallEvent(form url.Values) *InboundCallEvent {
	duration := 0
	if v := form.Get("CallDuration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			duration = n
		}
	}

	return &InboundCallEvent{
		AccountSID:   form.Get("AccountSid"),
		CallSID:      form.Get("CallSid"),
		CallStatus:   CallStatus(form.Get("CallStatus")),
		DialStatus:   DialOutcome(form.Get("DialCallStatus")),
		From:         form.Get("From"),
		To:           form.Get("To"),
		CallDuration: duration,
	}
}

// CallState tracks where a forwarded call is in its lifecycle.
type CallState string

const (
	CallStateForwarding         CallState = "forwarding"
	CallStateAnswered           CallState = "answered"
	CallStateTransferredToAgent CallState = "transferred_to_voice_agent"
)

// CallRecord is the transient routing state held for the lifetime of one
// forwarded call, keyed by call sid. Created when a call is forwarded,
// mutated as dial-status callbacks arrive, deleted on completion.
type CallRecord struct {
	Policy         RoutingPolicy `json:"policy"`
	StartedAt      time.Time     `json:"startedAt"`
	Status         CallState     `json:"status"`
	OriginalCaller string        `json:"originalCaller"`
}
