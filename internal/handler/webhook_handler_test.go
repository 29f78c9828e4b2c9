package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insight-intelligence/call-relay-service/internal/dispatch"
	"github.com/insight-intelligence/call-relay-service/internal/routing"
	"github.com/insight-intelligence/call-relay-service/internal/state"
	"github.com/insight-intelligence/call-relay-service/internal/twilio"
	"github.com/insight-intelligence/call-relay-service/internal/vapi"
)

const (
	testAccountSID = "AC1234567890abcdef1234567890abcdee"
	testCallSID    = "CA1234567890abcdef1234567890abcdee"
)

const testRoutingMap = `{"+15551234567": {"targetNumber": "+15034688103", "maxRingTime": 20000}}`

type stubAgent struct{}

func (stubAgent) StartSession(ctx context.Context, caller, called, assistantID string) (*vapi.Session, error) {
	return &vapi.Session{
		ID:    "session-1",
		TwiML: `<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="wss://vapi.example/stream"/></Connect></Response>`,
	}, nil
}

func (stubAgent) EndSession(ctx context.Context, callID string) error { return nil }

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	directory := routing.NewDirectory(true, testRoutingMap, "default-assistant", 30*time.Second)
	dispatcher := dispatch.NewDispatcher(directory, state.NewMemoryStore(), stubAgent{}, "default-assistant", true)
	authenticator := twilio.NewAuthenticator("", 300*time.Second)

	router := mux.NewRouter()
	NewTwilioWebhookHandler(authenticator, dispatcher, "https://relay.example.com").SetupTwilioRoutes(router)
	return router
}

func webhookForm(status string) url.Values {
	form := url.Values{}
	form.Set("AccountSid", testAccountSID)
	form.Set("CallSid", testCallSID)
	form.Set("CallStatus", status)
	form.Set("From", "+15559990000")
	form.Set("To", "+15551234567")
	return form
}

func postWebhook(t *testing.T, router *mux.Router, path string, form url.Values, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("User-Agent", "TwilioProxy/1.1")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("I-Twilio-Idempotency-Token", "token-1")
	req.Header.Set("X-Twilio-Signature", "c2lnbmF0dXJl")
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRingingReturnsForwardingTwiML(t *testing.T) {
	router := newTestRouter(t)

	rec := postWebhook(t, router, "/twilio/webhook", webhookForm("ringing"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "<Dial")
	assert.Contains(t, body, "+15034688103")
	assert.Contains(t, body, `action="https://relay.example.com/twilio/webhook"`)
	assert.Contains(t, body, `url="https://relay.example.com/twilio/webhook/whisper"`)
}

func TestWebhookRejectsNonTwilioUserAgent(t *testing.T) {
	router := newTestRouter(t)

	rec := postWebhook(t, router, "/twilio/webhook", webhookForm("ringing"), func(r *http.Request) {
		r.Header.Set("User-Agent", "curl/8.0")
	})

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Invalid Twilio request", payload["error"])
}

func TestWebhookRejectsMissingHeaders(t *testing.T) {
	router := newTestRouter(t)

	for _, header := range []string{"User-Agent", "I-Twilio-Idempotency-Token", "X-Twilio-Signature"} {
		t.Run(header, func(t *testing.T) {
			rec := postWebhook(t, router, "/twilio/webhook", webhookForm("ringing"), func(r *http.Request) {
				r.Header.Del(header)
			})
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	router := newTestRouter(t)

	stale := time.Now().Add(-10 * time.Minute).UnixMilli()
	rec := postWebhook(t, router, "/twilio/webhook", webhookForm("ringing"), func(r *http.Request) {
		r.Header.Set("X-Request-Timestamp", strconv.FormatInt(stale, 10))
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWhisperPathReturnsAnnouncement(t *testing.T) {
	router := newTestRouter(t)

	form := webhookForm("in-progress")
	form.Set("To", "+15034688103")
	rec := postWebhook(t, router, "/twilio/webhook/whisper", form, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<Say")
	assert.NotContains(t, body, "<Dial")
}

func TestWebhookUnknownStatusReturnsEmptyDocument(t *testing.T) {
	router := newTestRouter(t)

	rec := postWebhook(t, router, "/twilio/webhook", webhookForm("queued"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Response></Response>")
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())
}

func TestStatusEndpointReportsActiveCalls(t *testing.T) {
	router := newTestRouter(t)

	postWebhook(t, router, "/twilio/webhook", webhookForm("ringing"), nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "running", payload["status"])
	assert.Equal(t, float64(1), payload["active_calls"])
}

func TestWebhookGetIsNotRouted(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/twilio/webhook", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
