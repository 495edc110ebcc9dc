package storage

import "time"

const defaultAcquireTimeout = 5 * time.Second

// PostgresConfig carries the pool settings used when opening the Postgres
// repository. Zero values defer to pgxpool defaults except AcquireTimeout.
type PostgresConfig struct {
	DSN                 string
	ApplicationName     string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{DSN: dsn, AcquireTimeout: defaultAcquireTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt.applyPostgres(&cfg)
		}
	}
	return cfg
}
