package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"

	"edgeriver/internal/models"
)

// Snapshot is a point-in-time copy of the JSON datastore, used when moving a
// deployment onto Postgres.
type Snapshot struct {
	Videos      []models.Video
	EdgeServers []models.EdgeServer
}

// SnapshotCounts summarises a snapshot for logging and post-import checks.
type SnapshotCounts struct {
	Videos      int
	EdgeServers int
}

func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{Videos: len(s.Videos), EdgeServers: len(s.EdgeServers)}
}

// LoadSnapshotFromJSON reads a JSON datastore file without opening it as a
// live repository.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read datastore %s: %w", path, err)
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return Snapshot{}, fmt.Errorf("decode datastore %s: %w", path, err)
	}

	var snap Snapshot
	for _, video := range data.Videos {
		snap.Videos = append(snap.Videos, video)
	}
	for _, server := range data.EdgeServers {
		snap.EdgeServers = append(snap.EdgeServers, server)
	}
	return snap, nil
}

// ImportSnapshotToPostgres writes every record in the snapshot into the
// Postgres repository in a single transaction. Existing rows with matching
// IDs are overwritten, so the import is safe to re-run.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snap Snapshot) error {
	pg, ok := repo.(*postgresRepository)
	if !ok {
		return fmt.Errorf("snapshot import requires a postgres repository")
	}

	// Bulk imports can outlive the repository's per-operation timeout, so
	// the transaction runs on the caller's context instead.
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, video := range snap.Videos {
		if err := pg.upsertVideo(ctx, tx, video); err != nil {
			return err
		}
	}
	for _, server := range snap.EdgeServers {
		if err := pg.upsertEdgeServer(ctx, tx, server); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
