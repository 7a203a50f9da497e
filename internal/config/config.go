package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the settings shared by the converter binaries.
// Values come from the environment, optionally seeded from a .env file.
type Config struct {
	// Conversion
	IncludeMemo bool
	Verbosity   int
	Charset     string

	// Logging
	LogLevel string

	// Google Cloud
	GCPProject string
	BQDataset  string
	GCSBucket  string

	// API server
	Port               string
	CacheTTL           time.Duration
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxUploadSizeBytes int64

	// Batch workers
	Workers int
}

// Load reads .env from the current or parent directory when present and
// then resolves every setting from the environment. Problems with
// individual values are logged to log and replaced by defaults.
func Load(log zerolog.Logger) *Config {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to load .env file, relying on environment")
		}
	}

	l := loader{log: log}
	return &Config{
		IncludeMemo: l.getEnvAsBool("QFX2QIF_INCLUDE_MEMO", false),
		Verbosity:   l.getEnvAsInt("QFX2QIF_VERBOSITY", 1),
		Charset:     l.getEnv("QFX2QIF_CHARSET", "auto"),

		LogLevel: l.getEnv("LOG_LEVEL", "info"),

		GCPProject: l.getEnv("GCP_PROJECT", ""),
		BQDataset:  l.getEnv("BQ_DATASET", "qif"),
		GCSBucket:  l.getEnv("GCS_BUCKET", ""),

		Port:               l.getEnv("PORT", "8080"),
		CacheTTL:           l.getEnvAsDuration("CACHE_TTL", 15*time.Minute),
		RateLimitRPS:       l.getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     l.getEnvAsInt("RATE_LIMIT_BURST", 20),
		MaxUploadSizeBytes: int64(l.getEnvAsInt("MAX_UPLOAD_SIZE_BYTES", 10*1024*1024)),

		Workers: l.getEnvAsInt("WORKERS", 4),
	}
}

// LedgerEnabled reports whether a BigQuery project is configured.
func (c *Config) LedgerEnabled() bool {
	return strings.TrimSpace(c.GCPProject) != ""
}

type loader struct {
	log zerolog.Logger
}

// getEnv retrieves an environment variable or returns a fallback value.
func (l loader) getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	l.log.Debug().Str("key", key).Str("default", fallback).Msg("Environment variable not set, using default")
	return fallback
}

func (l loader) getEnvAsInt(key string, fallback int) int {
	valueStr := l.getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	l.log.Warn().Str("key", key).Str("value", valueStr).Int("default", fallback).Msg("Invalid integer value, using default")
	return fallback
}

func (l loader) getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := l.getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	l.log.Warn().Str("key", key).Str("value", valueStr).Float64("default", fallback).Msg("Invalid number value, using default")
	return fallback
}

func (l loader) getEnvAsBool(key string, fallback bool) bool {
	valueStr := l.getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	l.log.Warn().Str("key", key).Str("value", valueStr).Bool("default", fallback).Msg("Invalid boolean value, using default")
	return fallback
}

func (l loader) getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := l.getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	l.log.Warn().Str("key", key).Str("value", valueStr).Dur("default", fallback).Msg("Invalid duration value, using default")
	return fallback
}
