package storage

import (
	"time"

	"fanstream-video/internal/models"
)

// CreateVideoAssetParams seeds the pending record persisted when an upload
// target has been obtained from the provider.
type CreateVideoAssetParams struct {
	UploadID    string
	AssetID     string
	Title       string
	Description string
	Filename    string
}

// AssetCreatedUpdate carries the fields a provider "created" event may attach.
type AssetCreatedUpdate struct {
	AssetID     string
	PlaybackID  string
	Duration    float64
	AspectRatio string
}

// AssetReadyUpdate carries the fields stamped when processing completes.
type AssetReadyUpdate struct {
	AssetID       string
	PlaybackID    string
	Duration      float64
	AspectRatio   string
	MaxResolution string
}

// AssetErroredUpdate carries the provider error payload for a failed asset.
type AssetErroredUpdate struct {
	Errors []models.AssetError
}

// AssetMetadataUpdate merges descriptive fields without altering status.
// Zero values leave the stored field untouched.
type AssetMetadataUpdate struct {
	PlaybackID    string
	Duration      float64
	AspectRatio   string
	MaxResolution string
}

// ApplyResult reports the outcome of a lifecycle transition so callers can
// record metrics and distinguish replays from real state changes.
type ApplyResult struct {
	Asset    models.VideoAsset
	Previous models.AssetStatus
	Changed  bool
}

// Option mutates storage configuration.
type Option func(*config)

type config struct {
	clock func() time.Time

	postgresMaxConns       int32
	postgresMinConns       int32
	postgresMaxLifetime    time.Duration
	postgresMaxIdleTime    time.Duration
	postgresHealthInterval time.Duration
	postgresAcquireTimeout time.Duration
	postgresAppName        string
}

func newConfig(opts ...Option) config {
	cfg := config{clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithPostgresPoolLimits bounds the connection pool for the Postgres driver.
func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return func(cfg *config) {
		cfg.postgresMaxConns = maxConns
		cfg.postgresMinConns = minConns
	}
}

// WithPostgresConnLifetimes configures per-connection lifetime and idle bounds.
func WithPostgresConnLifetimes(maxLifetime, maxIdle time.Duration) Option {
	return func(cfg *config) {
		cfg.postgresMaxLifetime = maxLifetime
		cfg.postgresMaxIdleTime = maxIdle
	}
}

// WithPostgresHealthInterval sets the pool health check period.
func WithPostgresHealthInterval(interval time.Duration) Option {
	return func(cfg *config) {
		cfg.postgresHealthInterval = interval
	}
}

// WithPostgresAcquireTimeout bounds how long connection acquisition may block.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.postgresAcquireTimeout = timeout
	}
}

// WithPostgresAppName sets the application_name reported to Postgres.
func WithPostgresAppName(name string) Option {
	return func(cfg *config) {
		cfg.postgresAppName = name
	}
}
