package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the environment-driven settings for the chat engine and the
// development backend.
type Config struct {
	Env string

	// Collaborator endpoints
	APIBaseURL string
	WSURL      string

	// Object storage (attachments)
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOSecure    bool
	// Base URL prepended to uploaded object paths when building public URLs
	MediaBaseURL string

	// Push channel tuning
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration

	// Engine tuning
	TypingQuietWindow time.Duration
	ReconcileWindow   time.Duration

	// Development backend
	DevServerAddr string
}

// Load reads configuration from the environment, honoring a local .env file
// when present.
func Load() *Config {
	// Missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	return &Config{
		Env:               getEnv("ENV", "development"),
		APIBaseURL:        getEnv("CHAT_API_BASE_URL", "http://localhost:8085/api"),
		WSURL:             getEnv("CHAT_WS_URL", "ws://localhost:8085/ws"),
		MinIOEndpoint:     getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:    getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:    getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:       getEnv("MINIO_BUCKET", "chat-media"),
		MinIOSecure:       getEnvBool("MINIO_SECURE", false),
		MediaBaseURL:      getEnv("MEDIA_BASE_URL", "http://localhost:9000"),
		ReconnectAttempts: getEnvInt("CHAT_RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    getEnvDuration("CHAT_RECONNECT_DELAY", time.Second),
		ConnectTimeout:    getEnvDuration("CHAT_CONNECT_TIMEOUT", 10*time.Second),
		TypingQuietWindow: getEnvDuration("CHAT_TYPING_QUIET_WINDOW", time.Second),
		ReconcileWindow:   getEnvDuration("CHAT_RECONCILE_WINDOW", 30*time.Second),
		DevServerAddr:     getEnv("CHAT_DEVSERVER_ADDR", ":8085"),
	}
}

// Hàm helper để lấy env var, nếu không có thì dùng giá trị mặc định
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
