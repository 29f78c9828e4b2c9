package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/insight-intelligence/call-relay-service/internal/dispatch"
	"github.com/insight-intelligence/call-relay-service/internal/domain"
	"github.com/insight-intelligence/call-relay-service/internal/twilio"
	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	"go.uber.org/zap"
)

const (
	webhookPath = "/twilio/webhook"
	whisperPath = "/twilio/webhook/whisper"

	// headerRequestTimestamp carries the gateway's receive time in epoch
	// milliseconds when the service runs behind one.
	headerRequestTimestamp = "X-Request-Timestamp"
)

// TwilioWebhookHandler handles inbound Twilio call-lifecycle webhooks.
type TwilioWebhookHandler struct {
	authenticator *twilio.Authenticator
	dispatcher    *dispatch.Dispatcher
	publicBaseURL string
}

// NewTwilioWebhookHandler creates the webhook handler. publicBaseURL is the
// externally visible base URL used to reconstruct callback URLs; when empty
// it is derived from the request host.
func NewTwilioWebhookHandler(authenticator *twilio.Authenticator, dispatcher *dispatch.Dispatcher, publicBaseURL string) *TwilioWebhookHandler {
	return &TwilioWebhookHandler{
		authenticator: authenticator,
		dispatcher:    dispatcher,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// SetupTwilioRoutes registers the webhook, whisper and service endpoints.
func (h *TwilioWebhookHandler) SetupTwilioRoutes(router *mux.Router) {
	router.HandleFunc(webhookPath, h.handleWebhook).Methods("POST")
	router.HandleFunc(whisperPath, h.handleWebhook).Methods("POST")

	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/status", h.handleStatus).Methods("GET")

	logger.Base().Info("twilio webhook routes registered")
}

// handleWebhook godoc
// @Summary Handle Twilio call webhook
// @Description Authenticate and process a Twilio call-lifecycle event; a path ending in /whisper returns the pre-connect announcement instead
// @Tags twilio
// @Accept x-www-form-urlencoded
// @Produce xml
// @Success 200 {string} string "TwiML response"
// @Failure 403 {object} object "Invalid Twilio request"
// @Failure 500 {object} object "Internal server error"
// @Router /twilio/webhook [post]
func (h *TwilioWebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Base().Error("panic while processing webhook", zap.Any("panic", rec))
			h.sendJSONError(w, http.StatusInternalServerError, map[string]string{
				"error":   "Internal server error",
				"message": fmt.Sprintf("%v", rec),
			})
		}
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Error("failed to read webhook body", zap.Error(err))
		h.sendJSONError(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	requestURL := h.reconstructURL(r)
	requestTime := h.requestTime(r)

	verdict := h.authenticator.Verify(body, r.Header, requestURL, requestTime)
	if !verdict.OK {
		logger.Base().Warn("security: rejecting webhook",
			zap.String("reason", verdict.Reason),
			zap.String("remote_addr", r.RemoteAddr))
		h.sendJSONError(w, http.StatusForbidden, map[string]string{
			"error": "Invalid Twilio request",
		})
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		// The authenticator already parsed this body; reaching here means
		// something is badly wrong.
		h.sendJSONError(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}
	event := domain.ParseCallEvent(form)

	var markup string
	if strings.HasSuffix(r.URL.Path, "/whisper") {
		markup = h.dispatcher.HandleWhisper(event)
	} else {
		markup = h.dispatcher.HandleEvent(r.Context(), event, dispatch.Endpoints{
			WebhookURL: h.baseURL(r) + webhookPath,
			WhisperURL: h.baseURL(r) + whisperPath,
		})
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markup))
}

// handleHealth godoc
// @Summary Health check
// @Tags twilio
// @Produce json
// @Success 200 {object} object "Service is healthy"
// @Router /health [get]
func (h *TwilioWebhookHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy"}`))
}

// handleStatus godoc
// @Summary Service status
// @Description Current status of the call relay including tracked in-flight calls
// @Tags twilio
// @Produce json
// @Success 200 {object} object "Service status information"
// @Router /status [get]
func (h *TwilioWebhookHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "running",
		"service":      "twilio-call-relay",
		"timestamp":    time.Now().Format(time.RFC3339),
		"active_calls": h.dispatcher.ActiveCalls(r.Context()),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

// baseURL is the externally visible origin for callback URLs.
func (h *TwilioWebhookHandler) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	return "https://" + r.Host
}

// reconstructURL rebuilds the URL Twilio signed, as seen from outside any
// gateway in front of this service.
func (h *TwilioWebhookHandler) reconstructURL(r *http.Request) string {
	return h.baseURL(r) + r.URL.Path
}

// requestTime returns the gateway receive time when provided, else now.
func (h *TwilioWebhookHandler) requestTime(r *http.Request) time.Time {
	if raw := r.Header.Get(headerRequestTimestamp); raw != "" {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.UnixMilli(millis)
		}
	}
	return time.Now()
}

func (h *TwilioWebhookHandler) sendJSONError(w http.ResponseWriter, status int, payload map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
