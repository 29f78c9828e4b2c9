package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/insight-intelligence/call-relay-service/internal/config"
	"github.com/insight-intelligence/call-relay-service/internal/handler"
	"github.com/insight-intelligence/call-relay-service/pkg/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server represents the Twilio call relay server
type Server struct {
	config         *config.RelayConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
}

// NewServer creates a new call relay server
func NewServer(cfg *config.RelayConfig) *Server {
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start starts the call relay server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server", zap.String("addr", addr))
	return server.ListenAndServe()
}

// LoadConfigFromEnv loads the relay configuration from environment variables
func LoadConfigFromEnv() *config.RelayConfig {
	return &config.RelayConfig{
		Port:          getEnvOrDefault("RELAY_PORT", "8082"),
		PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", ""),

		RoutingEnabled: getEnvAsBoolOrDefault("PHONE_ROUTING_ENABLED", false),
		RoutingMapJSON: getEnvOrDefault("PHONE_ROUTING_MAP", "{}"),

		VAPIEndpoint:       getEnvOrDefault("VAPI_ENDPOINT", ""),
		VAPIAPIKey:         getEnvOrDefault("VAPI_API_KEY", ""),
		VAPIPhoneNumberID:  getEnvOrDefault("VAPI_PHONE_NUMBER_ID", config.DefaultPhoneNumberID),
		DefaultAssistantID: getEnvOrDefault("VAPI_ASSISTANT_ID", ""),
		FallbackEnabled:    getEnvAsBoolOrDefault("VAPI_FALLBACK_ENABLED", false),

		DefaultForwardTimeout: time.Duration(getEnvAsIntOrDefault("DEFAULT_FORWARD_TIMEOUT", 30)) * time.Second,

		TwilioAuthToken: getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		MaxRequestAge:   time.Duration(getEnvAsIntOrDefault("MAX_REQUEST_AGE_SECONDS", 300)) * time.Second,

		StateStore:    getEnvOrDefault("CALL_STATE_STORE", "memory"),
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),
	}
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func main() {
	// Load .env file for local development if it exists; does not override
	// variables already set by the deploy environment.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := LoadConfigFromEnv()

	server := NewServer(cfg)
	if server == nil {
		log.Fatal("Failed to create server")
	}
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.Bool("routing_enabled", cfg.RoutingEnabled),
		zap.Bool("fallback_enabled", cfg.FallbackEnabled))

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
