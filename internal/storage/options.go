package storage

import (
	"strings"
	"time"
)

// Option tunes a repository at construction time. Options apply to whichever
// driver understands them; the other driver ignores them silently, so callers
// can pass one option list regardless of the configured backend.
type Option interface {
	applyJSON(*Storage)
	applyPostgres(*PostgresConfig)
}

// pgOption is an Option that only affects the Postgres driver.
type pgOption func(*PostgresConfig)

func (pgOption) applyJSON(*Storage) {}

func (o pgOption) applyPostgres(cfg *PostgresConfig) {
	if cfg != nil {
		o(cfg)
	}
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return pgOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresAcquireTimeout configures how long the repository waits to
// obtain a connection from the pool.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return pgOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return pgOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return pgOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}
