// Package config provides configuration management for warebridge.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

const (
	DefaultLocale        = "en"
	DefaultMaxReconnects = 100
	DefaultReconnectBase = 5 * time.Second
	DefaultReconnectCap  = 30 * time.Second

	// Environment variable names
	EnvEndpoint         = "WAREBRIDGE_ENDPOINT"
	EnvToken            = "WAREBRIDGE_TOKEN"
	EnvLocale           = "WAREBRIDGE_LOCALE"
	EnvMessagesDir      = "WAREBRIDGE_MESSAGES_DIR"
	EnvMaxReconnects    = "WAREBRIDGE_MAX_RECONNECTS"
	EnvReconnectBaseSec = "WAREBRIDGE_RECONNECT_BASE"
	EnvReconnectCapSec  = "WAREBRIDGE_RECONNECT_CAP"
)

// Config holds all configuration for the warebridge client.
type Config struct {
	// Endpoint is the WebSocket URL of the warehouse backend.
	Endpoint string

	// UserID is the acting user, stamped on every request env.
	UserID string

	// Token is the credential sent with the authentication handshake,
	// sourced from a persisted login session.
	Token string

	// Locale selects the notice translation language.
	Locale string

	// MessagesDir points at the directory holding the three message
	// catalogs (successMessages.json, errorMessages.json,
	// warningMessages.json). Empty means no catalogs: every notice
	// degrades to its placeholder text.
	MessagesDir string

	// MaxReconnects bounds the reconnect loop.
	MaxReconnects int

	// ReconnectBase and ReconnectCap shape the backoff curve.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
}

// New creates a Config with values from environment variables and defaults.
func New(userID string) (*Config, error) {
	cfg := &Config{
		UserID:        userID,
		Locale:        DefaultLocale,
		MaxReconnects: DefaultMaxReconnects,
		ReconnectBase: DefaultReconnectBase,
		ReconnectCap:  DefaultReconnectCap,
	}

	cfg.Endpoint = os.Getenv(EnvEndpoint)
	cfg.Token = os.Getenv(EnvToken)
	cfg.MessagesDir = os.Getenv(EnvMessagesDir)

	if locale := os.Getenv(EnvLocale); locale != "" {
		cfg.Locale = locale
	}

	if maxAttempts := os.Getenv(EnvMaxReconnects); maxAttempts != "" {
		n, err := strconv.Atoi(maxAttempts)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvMaxReconnects, err)
		}
		cfg.MaxReconnects = n
	}

	if baseSeconds := os.Getenv(EnvReconnectBaseSec); baseSeconds != "" {
		seconds, err := strconv.Atoi(baseSeconds)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvReconnectBaseSec, err)
		}
		cfg.ReconnectBase = time.Duration(seconds) * time.Second
	}

	if capSeconds := os.Getenv(EnvReconnectCapSec); capSeconds != "" {
		seconds, err := strconv.Atoi(capSeconds)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvReconnectCapSec, err)
		}
		cfg.ReconnectCap = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return &ConfigError{Field: "UserID", Message: "user id is required"}
	}
	if c.Endpoint == "" {
		return &ConfigError{Field: "Endpoint", Message: EnvEndpoint + " environment variable is required"}
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return &ConfigError{Field: "Endpoint", Message: "endpoint must be a ws:// or wss:// URL"}
	}
	if c.Token == "" {
		return &ConfigError{Field: "Token", Message: EnvToken + " environment variable is required"}
	}
	if c.MaxReconnects <= 0 {
		return &ConfigError{Field: "MaxReconnects", Message: "max reconnects must be positive"}
	}
	if c.ReconnectBase <= 0 || c.ReconnectCap < c.ReconnectBase {
		return &ConfigError{Field: "ReconnectBase", Message: "backoff base must be positive and no larger than the cap"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
