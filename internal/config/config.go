package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64

	// Vendor document-parse API
	DocParseBaseURL  string
	DocParseAPIToken string
	DocParseModel    string
	SubmitTimeout    time.Duration
	PollMaxAttempts  int
	PollInterval     time.Duration

	// Upload ceilings
	MaxImageSize int64
	MaxPDFSize   int64

	// Collaborator stores
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Usage policy
	RateLimitMax    int
	RateLimitWindow time.Duration
	FreeCredits     int
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	// Optional .env file; system environment wins when both are present
	_ = godotenv.Load()

	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 12*1024*1024),

		DocParseBaseURL:  getEnvOrDefault("DOCPARSE_BASE_URL", "https://ai.gitee.com"),
		DocParseAPIToken: os.Getenv("DOCPARSE_API_TOKEN"),
		DocParseModel:    getEnvOrDefault("DOCPARSE_MODEL", "PaddleOCR-VL"),
		SubmitTimeout:    parseDurationOrDefault("SUBMIT_TIMEOUT", 30*time.Second),
		PollMaxAttempts:  int(parseIntOrDefault("POLL_MAX_ATTEMPTS", 30)),
		PollInterval:     parseDurationOrDefault("POLL_INTERVAL", 1*time.Second),

		MaxImageSize: parseIntOrDefault("MAX_IMAGE_SIZE", 5*1024*1024),
		MaxPDFSize:   parseIntOrDefault("MAX_PDF_SIZE", 10*1024*1024),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       int(parseIntOrDefault("REDIS_DB", 0)),

		RateLimitMax:    int(parseIntOrDefault("RATE_LIMIT_MAX", 5)),
		RateLimitWindow: parseDurationOrDefault("RATE_LIMIT_WINDOW", 60*time.Second),
		FreeCredits:     int(parseIntOrDefault("FREE_CREDITS", 3)),
	}

	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}
	if cfg.DocParseAPIToken == "" {
		return nil, fmt.Errorf("DOCPARSE_API_TOKEN must be set")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.MaxRequestBodySize <= 0 {
		return nil, fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", cfg.MaxRequestBodySize)
	}
	if cfg.MaxImageSize <= 0 || cfg.MaxPDFSize <= 0 {
		return nil, fmt.Errorf("size ceilings must be > 0 (got image=%d, pdf=%d)",
			cfg.MaxImageSize, cfg.MaxPDFSize)
	}
	if cfg.PollMaxAttempts <= 0 || cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("polling budget must be > 0 (got attempts=%d, interval=%s)",
			cfg.PollMaxAttempts, cfg.PollInterval)
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("rate limit must be > 0 (got max=%d, window=%s)",
			cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	if cfg.RequestTimeout <= 0 || cfg.SubmitTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be > 0 (got request=%s, submit=%s)",
			cfg.RequestTimeout, cfg.SubmitTimeout)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
