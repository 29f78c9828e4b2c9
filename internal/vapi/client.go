package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	"go.uber.org/zap"
)

// AgentClient is the contract to the voice-AI backend. StartSession failures
// propagate so the dispatcher can fall back to local markup; EndSession is
// wrapped best-effort at the call site.
type AgentClient interface {
	StartSession(ctx context.Context, caller, called, assistantID string) (*Session, error)
	EndSession(ctx context.Context, callID string) error
}

// Session is a started voice-AI call leg: the TwiML to hand back to Twilio
// and the backend's session id.
type Session struct {
	ID    string
	TwiML string
}

// APIError is a non-2xx reply from the voice-AI backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client talks to the VAPI backend over HTTP with bearer-token auth.
type Client struct {
	Endpoint      string
	APIKey        string
	PhoneNumberID string
	HTTPClient    *http.Client
}

// NewClient creates a VAPI client with a bounded request timeout. No
// operation blocks longer than this; there are no retries.
func NewClient(endpoint, apiKey, phoneNumberID string) *Client {
	return &Client{
		Endpoint:      endpoint,
		APIKey:        apiKey,
		PhoneNumberID: phoneNumberID,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type startCallRequest struct {
	PhoneCallProviderBypassEnabled bool     `json:"phoneCallProviderBypassEnabled"`
	PhoneNumberID                  string   `json:"phoneNumberId"`
	Customer                       customer `json:"customer"`
	AssistantID                    string   `json:"assistantId"`
}

type customer struct {
	Number string `json:"number"`
}

type startCallResponse struct {
	ID                       string `json:"id"`
	PhoneCallProviderDetails struct {
		TwiML string `json:"twiml"`
	} `json:"phoneCallProviderDetails"`
}

// StartSession asks the backend to take over the call with the given
// assistant, bypassing its own telephony provider. The returned TwiML
// connects the live Twilio call to the agent.
func (c *Client) StartSession(ctx context.Context, caller, called, assistantID string) (*Session, error) {
	payload := startCallRequest{
		PhoneCallProviderBypassEnabled: true,
		PhoneNumberID:                  c.PhoneNumberID,
		Customer:                       customer{Number: caller},
		AssistantID:                    assistantID,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start request: %w", err)
	}

	url := fmt.Sprintf("%s/call", c.Endpoint)
	logger.Base().Info("starting voice agent session",
		zap.String("caller", caller),
		zap.String("called", called),
		zap.String("assistant_id", assistantID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var response startCallResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	logger.Base().Info("voice agent session started", zap.String("session_id", response.ID))
	return &Session{
		ID:    response.ID,
		TwiML: response.PhoneCallProviderDetails.TwiML,
	}, nil
}

// EndSession asks the backend to end any session it holds for the given
// call id. The backend maps provider call ids to its own sessions.
func (c *Client) EndSession(ctx context.Context, callID string) error {
	if callID == "" {
		return nil
	}

	url := fmt.Sprintf("%s/call/%s/end", c.Endpoint, callID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	logger.Base().Info("voice agent session ended", zap.String("call_sid", callID))
	return nil
}
