package handler

import (
	"github.com/gorilla/mux"
	"github.com/insight-intelligence/call-relay-service/internal/config"
	"github.com/insight-intelligence/call-relay-service/internal/dispatch"
	"github.com/insight-intelligence/call-relay-service/internal/routing"
	"github.com/insight-intelligence/call-relay-service/internal/state"
	"github.com/insight-intelligence/call-relay-service/internal/twilio"
	"github.com/insight-intelligence/call-relay-service/internal/vapi"
	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	"go.uber.org/zap"
)

// HandlerManager wires the relay's services together and registers routes.
type HandlerManager struct {
	config     *config.RelayConfig
	dispatcher *dispatch.Dispatcher
	store      state.Store
}

// NewHandlerManager creates all services from the configuration.
func NewHandlerManager(cfg *config.RelayConfig) (*HandlerManager, error) {
	directory := routing.NewDirectory(
		cfg.RoutingEnabled,
		cfg.RoutingMapJSON,
		cfg.DefaultAssistantID,
		cfg.DefaultForwardTimeout,
	)

	store := buildStore(cfg)

	agent := vapi.NewClient(cfg.VAPIEndpoint, cfg.VAPIAPIKey, cfg.VAPIPhoneNumberID)

	dispatcher := dispatch.NewDispatcher(directory, store, agent, cfg.DefaultAssistantID, cfg.FallbackEnabled)

	return &HandlerManager{
		config:     cfg,
		dispatcher: dispatcher,
		store:      store,
	}, nil
}

// buildStore selects the call state store. A failed Redis connection falls
// back to process memory so the relay keeps answering webhooks.
func buildStore(cfg *config.RelayConfig) state.Store {
	if cfg.StateStore == "redis" {
		store, err := state.NewRedisStore(&state.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize redis call state store, falling back to memory", zap.Error(err))
		} else {
			logger.Base().Info("using redis call state store")
			return store
		}
	}
	return state.NewMemoryStore()
}

// SetupAllRoutes sets up all routes with middleware.
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(RequestLoggingMiddleware)

	webhookHandler := NewTwilioWebhookHandler(
		twilio.NewAuthenticator(hm.config.TwilioAuthToken, hm.config.MaxRequestAge),
		hm.dispatcher,
		hm.config.PublicBaseURL,
	)
	webhookHandler.SetupTwilioRoutes(router)

	logger.Base().Info("all application routes registered")
}

// GetDispatcher returns the call event dispatcher.
func (hm *HandlerManager) GetDispatcher() *dispatch.Dispatcher {
	return hm.dispatcher
}
