package config

import "time"

// DefaultPhoneNumberID is the VAPI phone-number id used when none is
// configured. Matches the number registered for the Twilio trunk.
const DefaultPhoneNumberID = "08b043a5-27ee-4aaa-8438-be91a1975a56"

// RelayConfig holds the call relay configuration, loaded from environment
// variables in cmd/server.
type RelayConfig struct {
	Port          string
	PublicBaseURL string

	// Routing
	RoutingEnabled bool
	RoutingMapJSON string

	// VAPI (voice-AI backend)
	VAPIEndpoint       string
	VAPIAPIKey         string
	VAPIPhoneNumberID  string
	DefaultAssistantID string
	FallbackEnabled    bool

	// Forwarding
	DefaultForwardTimeout time.Duration

	// Request authenticity
	TwilioAuthToken string
	MaxRequestAge   time.Duration

	// Call state store: "memory" (default) or "redis"
	StateStore    string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}
