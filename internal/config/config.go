// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	HTTPAddr           string `mapstructure:"HTTP_ADDR"`
	DBURL              string `mapstructure:"DB_URL"`
	TokenEncryptionKey string `mapstructure:"TOKEN_ENCRYPTION_KEY"`

	GithubBaseURL          string        `mapstructure:"GITHUB_BASE_URL"`
	GithubMaxAttempts      int           `mapstructure:"GITHUB_MAX_ATTEMPTS"`
	GithubBackoffBase      time.Duration `mapstructure:"GITHUB_BACKOFF_BASE"`
	GithubMaxRateLimitWait time.Duration `mapstructure:"GITHUB_MAX_RATE_LIMIT_WAIT"`

	SyncDefaultSinceDate  string        `mapstructure:"SYNC_DEFAULT_SINCE"`
	SyncDefaultSinceTime  time.Time     `mapstructure:"-"`
	SyncRepoConcurrency   int           `mapstructure:"SYNC_REPO_CONCURRENCY"`
	SyncDetailConcurrency int           `mapstructure:"SYNC_DETAIL_CONCURRENCY"`
	SyncIncludeForks      bool          `mapstructure:"SYNC_INCLUDE_FORKS"`
	SyncDefaultInterval   time.Duration `mapstructure:"SYNC_DEFAULT_INTERVAL"`
	SyncSchedulerTick     time.Duration `mapstructure:"SYNC_SCHEDULER_TICK"`
	SyncJobTimeout        time.Duration `mapstructure:"SYNC_JOB_TIMEOUT"`

	AIBaseURL             string        `mapstructure:"AI_BASE_URL"`
	AIAPIKey              string        `mapstructure:"AI_API_KEY"`
	AIModel               string        `mapstructure:"AI_MODEL"`
	AIRequestsPerMinute   int           `mapstructure:"AI_REQUESTS_PER_MINUTE"`
	AIConcurrency         int           `mapstructure:"AI_CONCURRENCY"`
	AITimeout             time.Duration `mapstructure:"AI_TIMEOUT"`
	AIDegradedRetryAfter  time.Duration `mapstructure:"AI_DEGRADED_RETRY_AFTER"`
}

// AIEnabled reports whether a classification provider is configured.
func (c *Config) AIEnabled() bool { return c.AIAPIKey != "" }

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GITHUB_BASE_URL", "")
	v.SetDefault("GITHUB_MAX_ATTEMPTS", 5)
	v.SetDefault("GITHUB_BACKOFF_BASE", "1s")
	v.SetDefault("GITHUB_MAX_RATE_LIMIT_WAIT", "15m")
	v.SetDefault("SYNC_DEFAULT_SINCE", "2023-01-01T00:00:00Z")
	v.SetDefault("SYNC_REPO_CONCURRENCY", 5)
	v.SetDefault("SYNC_DETAIL_CONCURRENCY", 4)
	v.SetDefault("SYNC_INCLUDE_FORKS", false)
	v.SetDefault("SYNC_DEFAULT_INTERVAL", "6h")
	v.SetDefault("SYNC_SCHEDULER_TICK", "1m")
	v.SetDefault("SYNC_JOB_TIMEOUT", "2h")
	v.SetDefault("AI_BASE_URL", "")
	v.SetDefault("AI_API_KEY", "")
	v.SetDefault("AI_MODEL", "gemini-2.5-flash")
	v.SetDefault("AI_REQUESTS_PER_MINUTE", 15)
	v.SetDefault("AI_CONCURRENCY", 3)
	v.SetDefault("AI_TIMEOUT", "60s")
	v.SetDefault("AI_DEGRADED_RETRY_AFTER", "24h")

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	parsedTime, err := time.Parse(time.RFC3339, c.SyncDefaultSinceDate)
	if err != nil {
		return errors.New("SYNC_DEFAULT_SINCE must be in RFC3339 format (e.g. 2023-01-01T00:00:00Z)")
	}
	c.SyncDefaultSinceTime = parsedTime

	// Validate required fields
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	if c.TokenEncryptionKey == "" {
		return errors.New("TOKEN_ENCRYPTION_KEY is a required configuration field")
	}
	if c.GithubMaxAttempts < 1 {
		return errors.New("GITHUB_MAX_ATTEMPTS must be at least 1")
	}
	if c.SyncRepoConcurrency < 1 || c.SyncDetailConcurrency < 1 || c.AIConcurrency < 1 {
		return errors.New("concurrency settings must be at least 1")
	}
	if c.AIRequestsPerMinute < 1 {
		return errors.New("AI_REQUESTS_PER_MINUTE must be at least 1")
	}
	if c.SyncDefaultInterval <= 0 || c.SyncSchedulerTick <= 0 || c.SyncJobTimeout <= 0 {
		return errors.New("sync intervals and timeouts must be positive durations")
	}
	return nil
}
