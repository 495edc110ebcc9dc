// Command migrate-json-to-postgres copies a JSON datastore into Postgres and
// verifies the imported row counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"edgeriver/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/store.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(context.Background(), logger, *jsonPath, *postgresDSN); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, jsonPath, flagDSN string) error {
	dsn := resolveDSN(flagDSN)
	if dsn == "" {
		return fmt.Errorf("postgres DSN required: set --postgres-dsn, EDGERIVER_POSTGRES_DSN, or DATABASE_URL")
	}

	snapshot, err := storage.LoadSnapshotFromJSON(jsonPath)
	if err != nil {
		return fmt.Errorf("load JSON snapshot: %w", err)
	}
	counts := snapshot.Counts()
	logger.Info("loaded JSON snapshot", "path", jsonPath, "videos", counts.Videos, "edge_servers", counts.EdgeServers)

	repo, err := storage.NewPostgresRepository(dsn)
	if err != nil {
		return fmt.Errorf("open postgres repository: %w", err)
	}
	defer func() {
		if closer, ok := repo.(interface{ Close(context.Context) error }); ok {
			_ = closer.Close(context.Background())
		}
	}()

	if err := storage.ImportSnapshotToPostgres(ctx, repo, snapshot); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	if err := verifyCounts(ctx, dsn, counts); err != nil {
		return fmt.Errorf("verify import: %w", err)
	}

	logger.Info("migration completed", "videos", counts.Videos, "edge_servers", counts.EdgeServers)
	return nil
}

// resolveDSN prefers the flag, then the service-specific env var, then the
// conventional DATABASE_URL.
func resolveDSN(flagDSN string) string {
	for _, candidate := range []string{flagDSN, os.Getenv("EDGERIVER_POSTGRES_DSN"), os.Getenv("DATABASE_URL")} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func verifyCounts(ctx context.Context, dsn string, counts storage.SnapshotCounts) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse verification config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open verification connection: %w", err)
	}
	defer pool.Close()

	for _, table := range []struct {
		name string
		want int
	}{
		{"videos", counts.Videos},
		{"edge_servers", counts.EdgeServers},
	} {
		var got int
		if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table.name).Scan(&got); err != nil {
			return fmt.Errorf("count %s: %w", table.name, err)
		}
		if got != table.want {
			return fmt.Errorf("%s row count: got %d, want %d", table.name, got, table.want)
		}
	}
	return nil
}
