package bootstrap

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BackendURL string
	StatusAddr string

	HeartbeatInterval  time.Duration
	RecoveryHeartbeats int

	BackoffBase          time.Duration
	BackoffGrowth        float64
	BackoffMax           time.Duration
	MaxReconnectAttempts int
	DialTimeout          time.Duration

	HistoryLimit int

	AudioEnabled    bool
	AudioSampleRate int
	AudioChannels   int

	LogLevel string
}

func LoadConfig() *Config {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	return &Config{
		BackendURL: getEnv("BACKEND_URL", "http://localhost:8080"),
		StatusAddr: getEnv("STATUS_ADDR", ":8081"),

		HeartbeatInterval:  getEnvDuration("HEARTBEAT_INTERVAL", 3*time.Second),
		RecoveryHeartbeats: getEnvInt("RECOVERY_HEARTBEATS", 3),

		BackoffBase:          getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffGrowth:        getEnvFloat("BACKOFF_GROWTH", 2.0),
		BackoffMax:           getEnvDuration("BACKOFF_MAX", 30*time.Second),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 10),
		DialTimeout:          getEnvDuration("DIAL_TIMEOUT", 10*time.Second),

		HistoryLimit: getEnvInt("HISTORY_LIMIT", 20),

		AudioEnabled:    getEnv("AUDIO_ENABLED", "true") == "true",
		AudioSampleRate: getEnvInt("AUDIO_SAMPLE_RATE", 24000),
		AudioChannels:   getEnvInt("AUDIO_CHANNELS", 2),

		LogLevel: getEnv("LOG_LEVEL", "info"),
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
