package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	InstanceID  string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// OpenFrame backend (camera CRUD, HA proxy, relay status, token media URLs)
	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration

	// NATS (viewer state events; empty URL disables publishing)
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int

	// Registry refresh cadences
	CameraRefreshInterval time.Duration
	HARefreshInterval     time.Duration

	// Stream negotiation
	WHEPTimeout          time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	AutoReconnect        bool
	WebRTCICEServers     []string

	// Snapshot polling
	DefaultRefreshInterval int // seconds

	// Selection persistence
	StateDir string

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		InstanceID:  getEnv("INSTANCE_ID", "viewer-1"),
		Port:        getEnvInt("PORT", 8600),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy (lightweight web log viewer)
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// Backend
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8500"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),

		// NATS
		NatsURL:            getEnv("NATS_URL", ""),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited

		// Registry
		CameraRefreshInterval: getEnvDuration("CAMERA_REFRESH_INTERVAL", 30*time.Second),
		HARefreshInterval:     getEnvDuration("HA_REFRESH_INTERVAL", 60*time.Second),

		// Stream negotiation
		WHEPTimeout:          getEnvDuration("WHEP_TIMEOUT", 10*time.Second),
		ReconnectInterval:    getEnvDuration("RECONNECT_INTERVAL", 5*time.Second),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 3),
		AutoReconnect:        getEnvBool("AUTO_RECONNECT", true),
		WebRTCICEServers: []string{
			"stun:stun.l.google.com:19302",
		},

		// Snapshot polling
		DefaultRefreshInterval: getEnvInt("DEFAULT_REFRESH_INTERVAL", 5),

		// Selection persistence
		StateDir: getEnv("STATE_DIR", "."),

		// Graceful Shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
