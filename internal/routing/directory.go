package routing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/insight-intelligence/call-relay-service/internal/domain"
	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	"go.uber.org/zap"
)

const fallbackRingTime = 30 * time.Second

// mapEntry is one raw entry of the PHONE_ROUTING_MAP JSON, keyed by the
// called business number.
type mapEntry struct {
	TargetNumber    string `json:"targetNumber"`
	RequiresAnswer  *bool  `json:"requiresAnswer"`
	VAPIAssistantID string `json:"vapiAssistantId"`
	MaxRingTime     int    `json:"maxRingTime"` // milliseconds
	Description     string `json:"description"`
	WhisperMessage  string `json:"whisperMessage"`
}

// Directory resolves called numbers to routing policies from the static
// configuration map. A broken or absent configuration degrades to an empty
// directory: webhooks must never fail because the routing map is bad.
type Directory struct {
	entries         map[string]mapEntry
	defaultAgentID  string
	defaultRingTime time.Duration
}

// NewDirectory parses the routing map. Disabled routing and malformed JSON
// are both treated as "no configuration" (logged, not fatal).
func NewDirectory(enabled bool, rawJSON, defaultAgentID string, defaultRingTime time.Duration) *Directory {
	if defaultRingTime <= 0 {
		defaultRingTime = fallbackRingTime
	}

	d := &Directory{
		defaultAgentID:  defaultAgentID,
		defaultRingTime: defaultRingTime,
	}

	if !enabled {
		logger.Base().Info("phone routing disabled, all calls go to the voice agent")
		return d
	}

	if rawJSON == "" {
		rawJSON = "{}"
	}

	entries := make(map[string]mapEntry)
	if err := json.Unmarshal([]byte(rawJSON), &entries); err != nil {
		logger.Base().Error("failed to parse routing map, routing disabled", zap.Error(err))
		return d
	}

	d.entries = entries
	logger.Base().Info("routing directory loaded", zap.Int("entries", len(entries)))
	return d
}

// ResolveByCalledNumber returns the policy for a called number, with
// defaults filled in, or false when routing is disabled, the map is broken,
// or the number has no entry.
func (d *Directory) ResolveByCalledNumber(number string) (*domain.RoutingPolicy, bool) {
	if d.entries == nil {
		return nil, false
	}

	entry, ok := d.entries[number]
	if !ok {
		logger.Base().Debug("no routing entry for called number", zap.String("to", number))
		return nil, false
	}

	return d.buildPolicy(number, entry), true
}

// ResolveByTargetNumber scans for an entry forwarding to the given number,
// returning it enriched with the originating called number. Whisper
// announcements only know the forwarding destination, not the business
// number that was dialed.
func (d *Directory) ResolveByTargetNumber(number string) (*domain.RoutingPolicy, bool) {
	if d.entries == nil || number == "" {
		return nil, false
	}

	for calledNumber, entry := range d.entries {
		if entry.TargetNumber == number {
			return d.buildPolicy(calledNumber, entry), true
		}
	}

	logger.Base().Debug("no routing entry for target number", zap.String("target", number))
	return nil, false
}

func (d *Directory) buildPolicy(calledNumber string, entry mapEntry) *domain.RoutingPolicy {
	policy := &domain.RoutingPolicy{
		CalledNumber:   calledNumber,
		TargetNumber:   entry.TargetNumber,
		RequiresAnswer: entry.RequiresAnswer == nil || *entry.RequiresAnswer,
		VoiceAgentID:   entry.VAPIAssistantID,
		MaxRingTime:    time.Duration(entry.MaxRingTime) * time.Millisecond,
		Description:    entry.Description,
		WhisperMessage: entry.WhisperMessage,
	}

	if policy.VoiceAgentID == "" {
		policy.VoiceAgentID = d.defaultAgentID
	}
	if policy.MaxRingTime <= 0 {
		policy.MaxRingTime = d.defaultRingTime
	}
	if policy.Description == "" && policy.TargetNumber != "" {
		policy.Description = fmt.Sprintf("Forward %s → %s", calledNumber, entry.TargetNumber)
	}

	return policy
}
