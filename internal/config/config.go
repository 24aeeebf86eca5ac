// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. It is built once in main and
// injected into the components that need it, so sessions can be tested in
// isolation without ambient process state.
type Config struct {
	Port   string
	DBPath string

	// External tool credentials. Empty keys switch the matching adapter
	// into deterministic mock mode instead of failing startup.
	AMapAPIKey    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	EmbedModel    string

	// AdminToken gates the destructive purge operation.
	AdminToken string

	SessionTTL    time.Duration
	ReapInterval  time.Duration
	MaxTripDays   int
	ToolTimeout   time.Duration
	ModelTimeout  time.Duration
	ToolRetries   int
	RetryBackoff  time.Duration
	DedupSim      float64
	RetrieveMin   float64
	RetrieveDedup float64
	RetrieveTopK  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBPath:        getEnv("DB_PATH", "./data/tripd.db"),
		AMapAPIKey:    getEnv("AMAP_API_KEY", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-3-small"),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		ReapInterval:  getEnvDuration("SESSION_REAP_INTERVAL", 10*time.Minute),
		MaxTripDays:   getEnvInt("TRIP_MAX_DAYS", 7),
		ToolTimeout:   getEnvDuration("TOOL_TIMEOUT", 10*time.Second),
		ModelTimeout:  getEnvDuration("MODEL_TIMEOUT", 60*time.Second),
		ToolRetries:   getEnvInt("TOOL_RETRIES", 2),
		RetryBackoff:  getEnvDuration("TOOL_RETRY_BACKOFF", 100*time.Millisecond),
		DedupSim:      getEnvFloat("PREF_DEDUP_SIMILARITY", 0.75),
		RetrieveMin:   getEnvFloat("PREF_RETRIEVE_MIN_SCORE", 0.3),
		RetrieveDedup: getEnvFloat("PREF_RETRIEVE_DEDUP", 0.7),
		RetrieveTopK:  getEnvInt("PREF_RETRIEVE_TOP_K", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxTripDays <= 0 {
		return fmt.Errorf("TRIP_MAX_DAYS must be > 0")
	}
	if c.ToolRetries < 0 {
		return fmt.Errorf("TOOL_RETRIES must be >= 0")
	}
	if c.DedupSim <= 0 || c.DedupSim > 1 {
		return fmt.Errorf("PREF_DEDUP_SIMILARITY must be in (0, 1]")
	}
	if c.RetrieveTopK <= 0 {
		return fmt.Errorf("PREF_RETRIEVE_TOP_K must be > 0")
	}
	return nil
}

// MockMode reports whether the weather/geocoding adapters run without
// credentials and serve deterministic mock data.
func (c *Config) MockMode() bool {
	return c.AMapAPIKey == ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
