package provider

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores connectivity information for the provider client.
type Config struct {
	BaseURL       string
	TokenID       string
	TokenSecret   string
	CORSOrigin    string
	PlaybackHost  string
	HTTPClient    *http.Client
	Timeout       time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:       strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_PROVIDER_API")),
		TokenID:       strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_PROVIDER_TOKEN_ID")),
		TokenSecret:   strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_PROVIDER_TOKEN_SECRET")),
		CORSOrigin:    strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_UPLOAD_ORIGIN")),
		PlaybackHost:  strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_PLAYBACK_HOST")),
		Timeout:       10 * time.Second,
		MaxAttempts:   2,
		RetryInterval: 500 * time.Millisecond,
	}

	if timeout := strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_PROVIDER_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse FANSTREAM_VIDEO_PROVIDER_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.Timeout = parsed
		}
	}

	if attempts := strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_PROVIDER_MAX_ATTEMPTS")); attempts != "" {
		parsed, err := strconv.Atoi(attempts)
		if err != nil {
			return Config{}, fmt.Errorf("parse FANSTREAM_VIDEO_PROVIDER_MAX_ATTEMPTS: %w", err)
		}
		if parsed > 0 {
			cfg.MaxAttempts = parsed
		}
	}

	if interval := strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_PROVIDER_RETRY_INTERVAL")); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return Config{}, fmt.Errorf("parse FANSTREAM_VIDEO_PROVIDER_RETRY_INTERVAL: %w", err)
		}
		if parsed >= 0 {
			cfg.RetryInterval = parsed
		}
	}

	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.PlaybackHost == "" {
		cfg.PlaybackHost = "stream.mux.com"
	}

	return cfg, nil
}

// Validate reports whether the config can reach a real provider.
func (c Config) Validate() error {
	var errs []string
	if c.BaseURL == "" {
		errs = append(errs, "provider base URL is required")
	}
	if c.TokenID == "" {
		errs = append(errs, "provider token id is required")
	}
	if c.TokenSecret == "" {
		errs = append(errs, "provider token secret is required")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Configured reports whether credentials are present without failing boot.
func (c Config) Configured() bool {
	return c.Validate() == nil
}
