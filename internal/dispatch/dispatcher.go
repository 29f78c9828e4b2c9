package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/insight-intelligence/call-relay-service/internal/domain"
	"github.com/insight-intelligence/call-relay-service/internal/routing"
	"github.com/insight-intelligence/call-relay-service/internal/state"
	"github.com/insight-intelligence/call-relay-service/internal/twilio"
	"github.com/insight-intelligence/call-relay-service/internal/vapi"
	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	"go.uber.org/zap"
)

const (
	// forwardFallbackMessage plays when a forwarded dial ends unanswered and
	// no further instruction has arrived yet.
	forwardFallbackMessage = "I'm sorry, but no one is available to take your call right now. Please hold while I connect you to our AI assistant who can help you."

	// dialFailureMessage plays when the voice agent cannot be reached after a
	// failed forward.
	dialFailureMessage = "I apologize, but we're experiencing technical difficulties. Please try calling again later."

	// incomingFailureMessage plays when the voice agent cannot be reached on
	// a fresh incoming call.
	incomingFailureMessage = "Sorry, we're experiencing technical difficulties. Please try again later."
)

// Endpoints are the externally visible callback URLs for the current
// request, reconstructed by the HTTP layer.
type Endpoints struct {
	// WebhookURL receives the <Dial> outcome callback.
	WebhookURL string
	// WhisperURL is fetched by Twilio for the pre-connect announcement.
	WhisperURL string
}

// Dispatcher is the call-routing state machine. Given a validated, parsed
// webhook event it decides the next action and produces the TwiML reply,
// consulting the routing directory and the call state store and starting or
// ending voice-agent sessions as needed.
type Dispatcher struct {
	directory          *routing.Directory
	store              state.Store
	agent              vapi.AgentClient
	defaultAssistantID string
	fallbackEnabled    bool
}

func NewDispatcher(directory *routing.Directory, store state.Store, agent vapi.AgentClient, defaultAssistantID string, fallbackEnabled bool) *Dispatcher {
	return &Dispatcher{
		directory:          directory,
		store:              store,
		agent:              agent,
		defaultAssistantID: defaultAssistantID,
		fallbackEnabled:    fallbackEnabled,
	}
}

// HandleEvent runs one webhook event through the state machine and returns
// the TwiML document to reply with. A present dial outcome takes priority
// over the call status. Unrecognized statuses get the safe empty document.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *domain.InboundCallEvent, endpoints Endpoints) string {
	if event.IsDialCallback() {
		return d.handleDialStatus(ctx, event)
	}

	switch event.CallStatus {
	case domain.CallStatusRinging:
		return d.handleIncomingCall(ctx, event, endpoints)
	case domain.CallStatusAnswered:
		d.logCallEvent(event, "answered")
		return twilio.EmptyResponse()
	case domain.CallStatusCompleted:
		return d.handleCompleted(ctx, event)
	default:
		return twilio.EmptyResponse()
	}
}

// handleIncomingCall decides between forwarding and the voice agent for a
// fresh ringing call.
func (d *Dispatcher) handleIncomingCall(ctx context.Context, event *domain.InboundCallEvent, endpoints Endpoints) string {
	logger.Base().Info("incoming call",
		zap.String("call_sid", event.CallSID),
		zap.String("from", event.From),
		zap.String("to", event.To))

	policy, ok := d.directory.ResolveByCalledNumber(event.To)
	switch {
	case ok && policy.HasTarget():
		return d.forwardCall(ctx, event, policy, endpoints)
	case ok:
		// Policy without a target goes straight to its assistant.
		return d.startAgentSession(ctx, event, policy.VoiceAgentID, incomingFailureMessage)
	default:
		return d.startAgentSession(ctx, event, d.defaultAssistantID, incomingFailureMessage)
	}
}

// forwardCall records the in-flight forward and emits the dial instruction.
func (d *Dispatcher) forwardCall(ctx context.Context, event *domain.InboundCallEvent, policy *domain.RoutingPolicy, endpoints Endpoints) string {
	record := &domain.CallRecord{
		Policy:         *policy,
		StartedAt:      time.Now(),
		Status:         domain.CallStateForwarding,
		OriginalCaller: event.From,
	}
	if err := d.store.Put(ctx, event.CallSID, record); err != nil {
		// Still forward; a lost record only disables the agent fallback.
		logger.Base().Error("failed to store call record", zap.String("call_sid", event.CallSID), zap.Error(err))
	}

	logger.Base().Info("forwarding call",
		zap.String("call_sid", event.CallSID),
		zap.String("target", policy.TargetNumber),
		zap.Duration("ring_timeout", policy.MaxRingTime))

	return twilio.ForwardResponse(
		policy.TargetNumber,
		endpoints.WebhookURL,
		endpoints.WhisperURL,
		event.From,
		forwardFallbackMessage,
		policy.MaxRingTime,
	)
}

// handleDialStatus processes the outcome callback of a forwarded dial.
func (d *Dispatcher) handleDialStatus(ctx context.Context, event *domain.InboundCallEvent) string {
	logger.Base().Info("dial status",
		zap.String("call_sid", event.CallSID),
		zap.String("dial_status", string(event.DialStatus)))

	record, ok := d.store.Get(ctx, event.CallSID)
	if !ok {
		logger.Base().Warn("no call record for dial status", zap.String("call_sid", event.CallSID))
		return twilio.EmptyResponse()
	}

	switch event.DialStatus {
	case domain.DialOutcomeAnswered:
		// The forwarded leg carries the call from here.
		d.store.Update(ctx, event.CallSID, func(r *domain.CallRecord) {
			r.Status = domain.CallStateAnswered
		})
		return twilio.EmptyResponse()

	case domain.DialOutcomeNoAnswer, domain.DialOutcomeBusy, domain.DialOutcomeFailed:
		if !d.fallbackEnabled {
			logger.Base().Info("voice agent fallback disabled, ending call", zap.String("call_sid", event.CallSID))
			return twilio.HangupResponse()
		}

		session, err := d.agent.StartSession(ctx, event.From, event.To, record.Policy.VoiceAgentID)
		if err != nil {
			logger.Base().Error("failed to transfer to voice agent", zap.String("call_sid", event.CallSID), zap.Error(err))
			return twilio.SpokenHangupResponse(dialFailureMessage)
		}

		d.store.Update(ctx, event.CallSID, func(r *domain.CallRecord) {
			r.Status = domain.CallStateTransferredToAgent
		})
		return agentMarkup(session)

	default:
		logger.Base().Warn("unknown dial status", zap.String("dial_status", string(event.DialStatus)))
		return twilio.EmptyResponse()
	}
}

// handleCompleted tears down state for a finished call. Running it twice for
// the same call is safe: the second pass finds nothing to remove.
func (d *Dispatcher) handleCompleted(ctx context.Context, event *domain.InboundCallEvent) string {
	d.logCallEvent(event, "completed")
	d.endAgentSessionBestEffort(ctx, event.CallSID)

	if err := d.store.Delete(ctx, event.CallSID); err != nil {
		logger.Base().Error("failed to delete call record", zap.String("call_sid", event.CallSID), zap.Error(err))
	}
	return twilio.EmptyResponse()
}

// startAgentSession starts a voice-agent session and returns its markup,
// recovering any failure into a spoken apology so the caller never hears a
// provider error tone.
func (d *Dispatcher) startAgentSession(ctx context.Context, event *domain.InboundCallEvent, assistantID, failureMessage string) string {
	session, err := d.agent.StartSession(ctx, event.From, event.To, assistantID)
	if err != nil {
		logger.Base().Error("failed to start voice agent session",
			zap.String("call_sid", event.CallSID),
			zap.String("assistant_id", assistantID),
			zap.Error(err))
		return twilio.SpokenHangupResponse(failureMessage)
	}
	return agentMarkup(session)
}

// endAgentSessionBestEffort ends any voice-agent session for the call,
// discarding the result into the log: ending a session must never break the
// webhook response.
func (d *Dispatcher) endAgentSessionBestEffort(ctx context.Context, callID string) {
	if err := d.agent.EndSession(ctx, callID); err != nil {
		logger.Base().Warn("failed to end voice agent session", zap.String("call_sid", callID), zap.Error(err))
	}
}

// agentMarkup returns the backend's markup, or the empty document if the
// backend supplied none, so the reply is always well-formed XML.
func agentMarkup(session *vapi.Session) string {
	if session == nil || session.TwiML == "" {
		return twilio.EmptyResponse()
	}
	return session.TwiML
}

// HandleWhisper composes the announcement played to the answering party of a
// forwarded call. On this leg the called number is the forwarding target,
// so the policy is resolved in reverse. Always returns valid markup, even
// with incomplete caller data.
func (d *Dispatcher) HandleWhisper(event *domain.InboundCallEvent) string {
	policy, ok := d.directory.ResolveByTargetNumber(event.To)

	var message string
	switch {
	case ok && policy.WhisperMessage != "":
		message = policy.WhisperMessage
	case ok && policy.Description != "":
		message = fmt.Sprintf("%s: Call from %s", policy.Description, event.From)
	default:
		message = fmt.Sprintf("Business call forwarded from %s - caller %s", event.To, event.From)
	}

	logger.Base().Info("whisper announcement",
		zap.String("target", event.To),
		zap.String("message", message))

	return twilio.WhisperResponse(message)
}

// ActiveCalls reports the number of tracked in-flight calls.
func (d *Dispatcher) ActiveCalls(ctx context.Context) int {
	return d.store.Count(ctx)
}

// logCallEvent records lifecycle events for monitoring.
func (d *Dispatcher) logCallEvent(event *domain.InboundCallEvent, kind string) {
	logger.Base().Info("call "+kind,
		zap.String("call_sid", event.CallSID),
		zap.String("from", event.From),
		zap.String("to", event.To),
		zap.Int("duration_seconds", event.CallDuration))
}
