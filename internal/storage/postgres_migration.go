package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    input_path TEXT NOT NULL DEFAULT '',
    output_dir TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    progress INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    duration_secs DOUBLE PRECISION NOT NULL DEFAULT 0,
    resolution TEXT NOT NULL DEFAULT '',
    size_bytes BIGINT NOT NULL DEFAULT 0,
    processed_files JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS videos_status_idx ON videos (status)`,
	`CREATE TABLE IF NOT EXISTS edge_servers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    protocol TEXT NOT NULL DEFAULT 'http',
    api_key TEXT NOT NULL,
    status TEXT NOT NULL,
    videos_synced BIGINT NOT NULL DEFAULT 0,
    sync_errors BIGINT NOT NULL DEFAULT 0,
    last_sync_time TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS edge_servers_api_key_idx ON edge_servers (api_key)`,
}

func (r *postgresRepository) ensureSchema() error {
	return r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		for _, stmt := range schemaStatements {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}
