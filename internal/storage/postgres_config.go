package storage

import (
	"strings"
	"time"
)

// PostgresConfig collects pool tuning applied when opening the Postgres
// repository. Zero values defer to pgx defaults.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := newConfig(opts...)
	return PostgresConfig{
		DSN:                 strings.TrimSpace(dsn),
		MaxConnections:      cfg.postgresMaxConns,
		MinConnections:      cfg.postgresMinConns,
		MaxConnLifetime:     cfg.postgresMaxLifetime,
		MaxConnIdleTime:     cfg.postgresMaxIdleTime,
		HealthCheckInterval: cfg.postgresHealthInterval,
		AcquireTimeout:      cfg.postgresAcquireTimeout,
		ApplicationName:     cfg.postgresAppName,
	}
}
