package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"courseview-backend/internal/integrity"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Sessions
	SessionHeartbeatTimeout time.Duration
	SessionMaxAge           time.Duration
	SessionCleanupInterval  time.Duration

	// Event ingestion limits, per session token
	EventsRatePerSec float64
	EventsRateBurst  int

	// Unauthenticated tracking endpoints, per client IP
	IPRatePerSec float64
	IPRateBurst  int

	// Integrity overrides
	FraudAlertThreshold float64
	MergeGapSeconds     float64

	// Alerts
	AdminAlertEmails []string
	AlertWorkers     int

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	defaults := integrity.DefaultConfig()

	cfg := &Config{
		Port:      getEnvOrDefault("PORT", "8080"),
		Env:       getEnvOrDefault("ENV", "development"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		SessionHeartbeatTimeout: getEnvAsDurationOrDefault("SESSION_HEARTBEAT_TIMEOUT", 30*time.Minute),
		SessionMaxAge:           getEnvAsDurationOrDefault("SESSION_MAX_AGE", 8*time.Hour),
		SessionCleanupInterval:  getEnvAsDurationOrDefault("SESSION_CLEANUP_INTERVAL", 5*time.Minute),

		EventsRatePerSec: getEnvAsFloatOrDefault("EVENTS_RATE_PER_SEC", 2),
		EventsRateBurst:  getEnvAsIntOrDefault("EVENTS_RATE_BURST", 10),

		IPRatePerSec: getEnvAsFloatOrDefault("IP_RATE_PER_SEC", 20),
		IPRateBurst:  getEnvAsIntOrDefault("IP_RATE_BURST", 60),

		FraudAlertThreshold: getEnvAsFloatOrDefault("FRAUD_ALERT_THRESHOLD", defaults.Fraud.AlertThreshold),
		MergeGapSeconds:     getEnvAsFloatOrDefault("MERGE_GAP_SECONDS", defaults.Progress.MergeGapSeconds),

		AdminAlertEmails: getEnvAsListOrDefault("ADMIN_ALERT_EMAILS", nil),
		AlertWorkers:     getEnvAsIntOrDefault("ALERT_WORKERS", 2),

		SMTPHost: getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort: getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser: getEnvOrDefault("SMTP_USER", ""),
		SMTPPass: getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom: getEnvOrDefault("SMTP_FROM", "noreply@courseview.app"),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// Integrity returns the default scoring configuration with the
// environment overrides applied.
func (c *Config) Integrity() integrity.Config {
	ic := integrity.DefaultConfig()
	if c.FraudAlertThreshold > 0 {
		ic.Fraud.AlertThreshold = c.FraudAlertThreshold
	}
	if c.MergeGapSeconds > 0 {
		ic.Progress.MergeGapSeconds = c.MergeGapSeconds
	}
	return ic
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// comma separated, blanks dropped
func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
