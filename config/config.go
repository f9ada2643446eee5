// Package config provides environment-driven configuration for the provider
// connection and synchronization subsystem.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	defaultAuthorizeURL = "https://identity.ledgerapi.com/connect/authorize"
	defaultTokenURL     = "https://identity.ledgerapi.com/connect/token"
	defaultAPIBaseURL   = "https://api.ledgerapi.com/api/v2"

	defaultMaxConcurrentRequests = 5
	defaultTokenRefreshBuffer    = 5 * time.Minute
	defaultSyncStaleHours        = 24
	defaultSyncInterval          = time.Minute
	defaultEventRetentionDays    = 30

	minConcurrentRequests = 1
	maxConcurrentRequests = 50
)

// The scopes requested on every authorization: offline_access is mandatory to
// receive a refresh token.
var defaultScopes = []string{
	"offline_access",
	"accounting.transactions.read",
	"accounting.contacts.read",
	"accounting.settings.read",
}

// Config holds the subsystem configuration. All secrets come from durable
// external configuration; nothing is generated at runtime.
type Config struct {
	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProviderClientID     string
	ProviderClientSecret string
	ProviderRedirectURL  string
	ProviderAuthorizeURL string
	ProviderTokenURL     string
	ProviderAPIBaseURL   string
	ProviderScopes       []string

	EncryptionSecret  string
	WebhookSigningKey string

	MaxConcurrentRequests int
	TokenRefreshBuffer    time.Duration
	SyncStaleHours        int
	SyncInterval          time.Duration
	EventRetentionDays    int
}

// NewConfig builds a Config from environment variables, applying defaults and
// validating required fields.
func NewConfig() (*Config, error) {
	cfg := &Config{
		DatabaseDSN:          os.Getenv("DATABASE_DSN"),
		RedisAddr:            getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		ProviderClientID:     os.Getenv("PROVIDER_CLIENT_ID"),
		ProviderClientSecret: os.Getenv("PROVIDER_CLIENT_SECRET"),
		ProviderRedirectURL:  os.Getenv("PROVIDER_REDIRECT_URL"),
		ProviderAuthorizeURL: getEnvOrDefault("PROVIDER_AUTHORIZE_URL", defaultAuthorizeURL),
		ProviderTokenURL:     getEnvOrDefault("PROVIDER_TOKEN_URL", defaultTokenURL),
		ProviderAPIBaseURL:   getEnvOrDefault("PROVIDER_API_BASE_URL", defaultAPIBaseURL),
		ProviderScopes:       defaultScopes,
		EncryptionSecret:     os.Getenv("ENCRYPTION_SECRET"),
		WebhookSigningKey:    os.Getenv("WEBHOOK_SIGNING_KEY"),
		TokenRefreshBuffer:   defaultTokenRefreshBuffer,
		SyncInterval:         defaultSyncInterval,
	}

	if scopes := os.Getenv("PROVIDER_SCOPES"); scopes != "" {
		cfg.ProviderScopes = strings.Fields(scopes)
	}

	var err error

	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if cfg.MaxConcurrentRequests, err = getEnvInt("MAX_CONCURRENT_REQUESTS", defaultMaxConcurrentRequests); err != nil {
		return nil, err
	}

	if cfg.SyncStaleHours, err = getEnvInt("SYNC_STALE_HOURS", defaultSyncStaleHours); err != nil {
		return nil, err
	}

	if cfg.EventRetentionDays, err = getEnvInt("EVENT_RETENTION_DAYS", defaultEventRetentionDays); err != nil {
		return nil, err
	}

	if buffer := os.Getenv("TOKEN_REFRESH_BUFFER"); buffer != "" {
		if cfg.TokenRefreshBuffer, err = time.ParseDuration(buffer); err != nil {
			return nil, fmt.Errorf("invalid TOKEN_REFRESH_BUFFER: %w", err)
		}
	}

	if interval := os.Getenv("SYNC_INTERVAL"); interval != "" {
		if cfg.SyncInterval, err = time.ParseDuration(interval); err != nil {
			return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var err error

	if c.ProviderClientID == "" {
		err = multierr.Append(err, fmt.Errorf("PROVIDER_CLIENT_ID is required"))
	}

	if c.ProviderClientSecret == "" {
		err = multierr.Append(err, fmt.Errorf("PROVIDER_CLIENT_SECRET is required"))
	}

	if c.EncryptionSecret == "" {
		err = multierr.Append(err, fmt.Errorf("ENCRYPTION_SECRET is required"))
	}

	if c.WebhookSigningKey == "" {
		err = multierr.Append(err, fmt.Errorf("WEBHOOK_SIGNING_KEY is required"))
	}

	if c.MaxConcurrentRequests < minConcurrentRequests || c.MaxConcurrentRequests > maxConcurrentRequests {
		err = multierr.Append(err, fmt.Errorf(
			"MAX_CONCURRENT_REQUESTS must be between %d and %d", minConcurrentRequests, maxConcurrentRequests))
	}

	if c.TokenRefreshBuffer <= 0 {
		err = multierr.Append(err, fmt.Errorf("TOKEN_REFRESH_BUFFER must be positive"))
	}

	return err
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return parsed, nil
}
