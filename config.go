package upload

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for the pending queue.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the runtime configuration of the upload service.
type Config struct {
	// ServiceURL is the base URL of the gallery service.
	ServiceURL string
	HTTPPort   string
	LogLevel   string

	Store StoreConfig
	Retry RetryConfig

	NATSURL      string
	JPEGQuality  int
	SendTimeout  time.Duration
	ProbeTimeout time.Duration
}

// StoreConfig selects where the pending queue is persisted.
type StoreConfig struct {
	Backend     string
	SQLitePath  string
	DatabaseURL string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	QueueKey    string
}

// RetryConfig controls the background retry sweep.
type RetryConfig struct {
	Interval    time.Duration
	MaxAttempts int
	// RatePerSec paces deliveries within one sweep; 0 disables pacing.
	RatePerSec float64
}

// LoadConfig reads configuration from the environment, after loading a .env
// file when one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceURL: getEnv("UPLOAD_SERVICE_URL", "http://localhost:3000"),
		HTTPPort:   getEnv("HTTP_PORT", "8090"),
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
			SQLitePath:  getEnv("SQLITE_PATH", "data/upload.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPass:   getEnv("REDIS_PASSWORD", ""),
			RedisDB:     getEnvInt("REDIS_DB", 0),
			QueueKey:    getEnv("QUEUE_KEY", DefaultQueueKey),
		},
		Retry: RetryConfig{
			Interval:    getEnvDuration("RETRY_INTERVAL", 30*time.Second),
			MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 10),
			RatePerSec:  getEnvFloat("RETRY_RATE", 2),
		},
		NATSURL:      getEnv("NATS_URL", ""),
		JPEGQuality:  getEnvInt("JPEG_QUALITY", DefaultJPEGQuality),
		SendTimeout:  getEnvDuration("SEND_TIMEOUT", 30*time.Second),
		ProbeTimeout: getEnvDuration("PROBE_TIMEOUT", DefaultProbeTimeout),
	}

	switch cfg.Store.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	if cfg.Retry.Interval <= 0 {
		return nil, fmt.Errorf("RETRY_INTERVAL must be positive")
	}
	if cfg.Retry.MaxAttempts < 0 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("JPEG_QUALITY must be within 1..100")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
