package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all composer configuration.
type Config struct {
	// APIBaseURL is the REST root, e.g. https://exam.example.org/api/rest.
	APIBaseURL string
	// WebsocketBaseURL and WebsocketPath locate the realtime push service.
	// An empty path means the server default (/ws).
	WebsocketBaseURL string
	WebsocketPath    string
	SessionToken     string
	HTTPTimeout      time.Duration
	// AutosaveInterval is how often pending answer edits are pushed.
	AutosaveInterval time.Duration
	ObserverPort     string
	GinMode          string
	LogLevel         string
	LogFormat        string
	// AllowedOrigins controls observer CORS and change-stream origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	apiBase := strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:5000/api/rest"), "/")

	return &Config{
		APIBaseURL:       apiBase,
		WebsocketBaseURL: getEnv("WEBSOCKET_BASE_URL", "ws://localhost:5000"),
		WebsocketPath:    getEnv("WEBSOCKET_PATH", ""),
		SessionToken:     getEnv("SESSION_TOKEN", ""),
		HTTPTimeout:      time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 90)) * time.Second,
		AutosaveInterval: time.Duration(getEnvInt("AUTOSAVE_INTERVAL_SECONDS", 15)) * time.Second,
		ObserverPort:     getEnv("OBSERVER_PORT", "8090"),
		GinMode:          getEnv("GIN_MODE", "release"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "pretty"),
		AllowedOrigins:   parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
