package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"edgeriver/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg}
	if err := repo.ensureSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	timeout := r.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (r *postgresRepository) withConn(fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	ctx, cancel := r.opContext()
	defer cancel()

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire postgres connection: %w", err)
	}
	defer conn.Release()
	return fn(ctx, conn)
}

func (r *postgresRepository) withTx(fn func(ctx context.Context, tx pgx.Tx) error) error {
	return r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const videoColumns = "id, title, input_path, output_dir, status, progress, error_message, duration_secs, resolution, size_bytes, processed_files, created_at, updated_at, completed_at"

func scanVideo(row pgx.Row) (models.Video, error) {
	var (
		video     models.Video
		status    string
		filesJSON []byte
	)
	err := row.Scan(
		&video.ID,
		&video.Title,
		&video.InputPath,
		&video.OutputDir,
		&status,
		&video.Progress,
		&video.Error,
		&video.DurationSecs,
		&video.Resolution,
		&video.SizeBytes,
		&filesJSON,
		&video.CreatedAt,
		&video.UpdatedAt,
		&video.CompletedAt,
	)
	if err != nil {
		return models.Video{}, err
	}
	video.Status = models.VideoStatus(status)
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &video.ProcessedFiles); err != nil {
			return models.Video{}, fmt.Errorf("decode processed files for %s: %w", video.ID, err)
		}
	}
	return video, nil
}

func (r *postgresRepository) upsertVideo(ctx context.Context, tx pgx.Tx, video models.Video) error {
	filesJSON, err := json.Marshal(video.ProcessedFiles)
	if err != nil {
		return fmt.Errorf("encode processed files for %s: %w", video.ID, err)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO videos (id, title, input_path, output_dir, status, progress, error_message, duration_secs, resolution, size_bytes, processed_files, created_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    input_path = EXCLUDED.input_path,
    output_dir = EXCLUDED.output_dir,
    status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    error_message = EXCLUDED.error_message,
    duration_secs = EXCLUDED.duration_secs,
    resolution = EXCLUDED.resolution,
    size_bytes = EXCLUDED.size_bytes,
    processed_files = EXCLUDED.processed_files,
    updated_at = EXCLUDED.updated_at,
    completed_at = EXCLUDED.completed_at`,
		video.ID, video.Title, video.InputPath, video.OutputDir, string(video.Status),
		video.Progress, video.Error, video.DurationSecs, video.Resolution, video.SizeBytes,
		filesJSON, video.CreatedAt, video.UpdatedAt, video.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert video %s: %w", video.ID, err)
	}
	return nil
}

func (r *postgresRepository) lockVideo(ctx context.Context, tx pgx.Tx, id string) (models.Video, error) {
	row := tx.QueryRow(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1 FOR UPDATE", id)
	video, err := scanVideo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Video{}, ErrVideoNotFound
	}
	if err != nil {
		return models.Video{}, fmt.Errorf("load video %s: %w", id, err)
	}
	return video, nil
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, fmt.Errorf("video title is required")
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Video{}, err
		}
		id = generated
	}

	now := nowUTC()
	video := models.Video{
		ID:        id,
		Title:     title,
		InputPath: strings.TrimSpace(params.InputPath),
		OutputDir: strings.TrimSpace(params.OutputDir),
		Status:    models.VideoStatusUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("check video %s: %w", id, err)
		}
		if exists {
			return ErrVideoExists
		}
		return r.upsertVideo(ctx, tx, video)
	})
	if err != nil {
		return models.Video{}, err
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	var video models.Video
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1", id)
		loaded, err := scanVideo(row)
		if err != nil {
			return err
		}
		video = loaded
		return nil
	})
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) ListVideos() []models.Video {
	var videos []models.Video
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, "SELECT "+videoColumns+" FROM videos ORDER BY created_at DESC, id LIMIT $1", DefaultListLimit)
		if err != nil {
			return fmt.Errorf("list videos: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			video, err := scanVideo(rows)
			if err != nil {
				return err
			}
			videos = append(videos, video)
		}
		return rows.Err()
	})
	if err != nil {
		return nil
	}
	return videos
}

func (r *postgresRepository) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	var result models.Video
	err := r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		video, err := r.lockVideo(ctx, tx, id)
		if err != nil {
			return err
		}
		if update.Title != nil {
			title := strings.TrimSpace(*update.Title)
			if title == "" {
				return fmt.Errorf("video title is required")
			}
			video.Title = title
		}
		if update.Status != nil {
			if !update.Status.Valid() {
				return fmt.Errorf("invalid video status %q", *update.Status)
			}
			video.Status = *update.Status
		}
		if update.Progress != nil {
			video.Progress = clampProgress(video.Progress, *update.Progress)
		}
		if update.Error != nil {
			video.Error = strings.TrimSpace(*update.Error)
		}
		if update.DurationSecs != nil {
			video.DurationSecs = *update.DurationSecs
		}
		if update.Resolution != nil {
			video.Resolution = strings.TrimSpace(*update.Resolution)
		}
		if update.SizeBytes != nil {
			video.SizeBytes = *update.SizeBytes
		}
		if update.ProcessedFiles != nil {
			video.ProcessedFiles = cloneProcessedFiles(*update.ProcessedFiles)
		}
		video.UpdatedAt = nowUTC()
		if err := r.upsertVideo(ctx, tx, video); err != nil {
			return err
		}
		result = video
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return result, nil
}

func (r *postgresRepository) MarkVideoProcessing(id string) (models.Video, error) {
	var result models.Video
	err := r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		video, err := r.lockVideo(ctx, tx, id)
		if err != nil {
			return err
		}
		video.Status = models.VideoStatusProcessing
		video.Progress = 0
		video.Error = ""
		video.CompletedAt = nil
		video.UpdatedAt = nowUTC()
		if err := r.upsertVideo(ctx, tx, video); err != nil {
			return err
		}
		result = video
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return result, nil
}

func (r *postgresRepository) MarkVideoReady(id string, processing ProcessingResult) (models.Video, error) {
	var result models.Video
	err := r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		video, err := r.lockVideo(ctx, tx, id)
		if err != nil {
			return err
		}
		now := nowUTC()
		video.Status = models.VideoStatusReady
		video.Progress = 100
		video.Error = ""
		video.DurationSecs = processing.DurationSecs
		video.Resolution = strings.TrimSpace(processing.Resolution)
		video.SizeBytes = processing.SizeBytes
		video.ProcessedFiles = cloneProcessedFiles(processing.Files)
		video.CompletedAt = &now
		video.UpdatedAt = now
		if err := r.upsertVideo(ctx, tx, video); err != nil {
			return err
		}
		result = video
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return result, nil
}

func (r *postgresRepository) MarkVideoError(id string, message string) (models.Video, error) {
	var result models.Video
	err := r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		video, err := r.lockVideo(ctx, tx, id)
		if err != nil {
			return err
		}
		video.Status = models.VideoStatusError
		video.Error = strings.TrimSpace(message)
		video.UpdatedAt = nowUTC()
		if err := r.upsertVideo(ctx, tx, video); err != nil {
			return err
		}
		result = video
		return nil
	})
	if err != nil {
		return models.Video{}, err
	}
	return result, nil
}

func (r *postgresRepository) DeleteVideo(id string) error {
	return r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, "DELETE FROM videos WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete video %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrVideoNotFound
		}
		return nil
	})
}

const edgeServerColumns = "id, name, host, port, protocol, api_key, status, videos_synced, sync_errors, last_sync_time, created_at, updated_at"

func scanEdgeServer(row pgx.Row) (models.EdgeServer, error) {
	var (
		server models.EdgeServer
		status string
		synced int64
		failed int64
	)
	err := row.Scan(
		&server.ID,
		&server.Name,
		&server.Host,
		&server.Port,
		&server.Protocol,
		&server.APIKey,
		&status,
		&synced,
		&failed,
		&server.Stats.LastSyncTime,
		&server.CreatedAt,
		&server.UpdatedAt,
	)
	if err != nil {
		return models.EdgeServer{}, err
	}
	server.Status = models.EdgeServerStatus(status)
	server.Stats.VideosSynced = uint64(synced)
	server.Stats.SyncErrors = uint64(failed)
	return server, nil
}

func (r *postgresRepository) upsertEdgeServer(ctx context.Context, tx pgx.Tx, server models.EdgeServer) error {
	_, err := tx.Exec(ctx, `
INSERT INTO edge_servers (id, name, host, port, protocol, api_key, status, videos_synced, sync_errors, last_sync_time, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    host = EXCLUDED.host,
    port = EXCLUDED.port,
    protocol = EXCLUDED.protocol,
    api_key = EXCLUDED.api_key,
    status = EXCLUDED.status,
    videos_synced = EXCLUDED.videos_synced,
    sync_errors = EXCLUDED.sync_errors,
    last_sync_time = EXCLUDED.last_sync_time,
    updated_at = EXCLUDED.updated_at`,
		server.ID, server.Name, server.Host, server.Port, server.Protocol,
		server.APIKey, string(server.Status), int64(server.Stats.VideosSynced),
		int64(server.Stats.SyncErrors), server.Stats.LastSyncTime,
		server.CreatedAt, server.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert edge server %s: %w", server.ID, err)
	}
	return nil
}

func (r *postgresRepository) lockEdgeServer(ctx context.Context, tx pgx.Tx, id string) (models.EdgeServer, error) {
	row := tx.QueryRow(ctx, "SELECT "+edgeServerColumns+" FROM edge_servers WHERE id = $1 FOR UPDATE", id)
	server, err := scanEdgeServer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EdgeServer{}, ErrEdgeServerNotFound
	}
	if err != nil {
		return models.EdgeServer{}, fmt.Errorf("load edge server %s: %w", id, err)
	}
	return server, nil
}

func (r *postgresRepository) RegisterEdgeServer(params RegisterEdgeServerParams) (models.EdgeServer, string, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.EdgeServer{}, "", fmt.Errorf("edge server name is required")
	}
	host := strings.TrimSpace(params.Host)
	if host == "" {
		return models.EdgeServer{}, "", fmt.Errorf("edge server host is required")
	}
	if params.Port <= 0 || params.Port > 65535 {
		return models.EdgeServer{}, "", fmt.Errorf("edge server port %d out of range", params.Port)
	}
	protocol := strings.ToLower(strings.TrimSpace(params.Protocol))
	if protocol == "" {
		protocol = "http"
	}
	if protocol != "http" && protocol != "https" {
		return models.EdgeServer{}, "", fmt.Errorf("unsupported edge server protocol %q", params.Protocol)
	}

	id, err := generateID()
	if err != nil {
		return models.EdgeServer{}, "", err
	}
	rawKey, err := generateAPIKey()
	if err != nil {
		return models.EdgeServer{}, "", err
	}

	now := nowUTC()
	server := models.EdgeServer{
		ID:        id,
		Name:      name,
		Host:      host,
		Port:      params.Port,
		Protocol:  protocol,
		APIKey:    rawKey,
		Status:    models.EdgeServerActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		return r.upsertEdgeServer(ctx, tx, server)
	})
	if err != nil {
		return models.EdgeServer{}, "", err
	}
	return server, rawKey, nil
}

func (r *postgresRepository) GetEdgeServer(id string) (models.EdgeServer, bool) {
	var server models.EdgeServer
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, "SELECT "+edgeServerColumns+" FROM edge_servers WHERE id = $1", id)
		loaded, err := scanEdgeServer(row)
		if err != nil {
			return err
		}
		server = loaded
		return nil
	})
	if err != nil {
		return models.EdgeServer{}, false
	}
	return server, true
}

func (r *postgresRepository) listEdgeServers(filterActive bool) []models.EdgeServer {
	query := "SELECT " + edgeServerColumns + " FROM edge_servers ORDER BY name, id"
	if filterActive {
		query = "SELECT " + edgeServerColumns + " FROM edge_servers WHERE status = 'active' ORDER BY name, id"
	}
	var servers []models.EdgeServer
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("list edge servers: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			server, err := scanEdgeServer(rows)
			if err != nil {
				return err
			}
			servers = append(servers, server)
		}
		return rows.Err()
	})
	if err != nil {
		return nil
	}
	return servers
}

func (r *postgresRepository) ListEdgeServers() []models.EdgeServer {
	return r.listEdgeServers(false)
}

func (r *postgresRepository) ListActiveEdgeServers() []models.EdgeServer {
	return r.listEdgeServers(true)
}

func (r *postgresRepository) FindEdgeServerByAPIKey(key string) (models.EdgeServer, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.EdgeServer{}, false
	}
	var server models.EdgeServer
	err := r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, "SELECT "+edgeServerColumns+" FROM edge_servers WHERE api_key = $1", key)
		loaded, err := scanEdgeServer(row)
		if err != nil {
			return err
		}
		server = loaded
		return nil
	})
	if err != nil {
		return models.EdgeServer{}, false
	}
	return server, true
}

func (r *postgresRepository) RotateEdgeServerAPIKey(id string) (models.EdgeServer, string, error) {
	rawKey, err := generateAPIKey()
	if err != nil {
		return models.EdgeServer{}, "", err
	}

	var result models.EdgeServer
	err = r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		server, err := r.lockEdgeServer(ctx, tx, id)
		if err != nil {
			return err
		}
		server.APIKey = rawKey
		server.UpdatedAt = nowUTC()
		if err := r.upsertEdgeServer(ctx, tx, server); err != nil {
			return err
		}
		result = server
		return nil
	})
	if err != nil {
		return models.EdgeServer{}, "", err
	}
	return result, rawKey, nil
}

func (r *postgresRepository) UpdateEdgeServer(id string, update EdgeServerUpdate) (models.EdgeServer, error) {
	var result models.EdgeServer
	err := r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		server, err := r.lockEdgeServer(ctx, tx, id)
		if err != nil {
			return err
		}
		if update.Name != nil {
			name := strings.TrimSpace(*update.Name)
			if name == "" {
				return fmt.Errorf("edge server name is required")
			}
			server.Name = name
		}
		if update.Host != nil {
			host := strings.TrimSpace(*update.Host)
			if host == "" {
				return fmt.Errorf("edge server host is required")
			}
			server.Host = host
		}
		if update.Port != nil {
			if *update.Port <= 0 || *update.Port > 65535 {
				return fmt.Errorf("edge server port %d out of range", *update.Port)
			}
			server.Port = *update.Port
		}
		if update.Protocol != nil {
			protocol := strings.ToLower(strings.TrimSpace(*update.Protocol))
			if protocol != "http" && protocol != "https" {
				return fmt.Errorf("unsupported edge server protocol %q", *update.Protocol)
			}
			server.Protocol = protocol
		}
		if update.Status != nil {
			if !update.Status.Valid() {
				return fmt.Errorf("invalid edge server status %q", *update.Status)
			}
			server.Status = *update.Status
		}
		server.UpdatedAt = nowUTC()
		if err := r.upsertEdgeServer(ctx, tx, server); err != nil {
			return err
		}
		result = server
		return nil
	})
	if err != nil {
		return models.EdgeServer{}, err
	}
	return result, nil
}

func (r *postgresRepository) RecordSyncSuccess(id string) error {
	return r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		server, err := r.lockEdgeServer(ctx, tx, id)
		if err != nil {
			return err
		}
		now := nowUTC()
		server.Stats.VideosSynced++
		server.Stats.LastSyncTime = &now
		if server.Status == models.EdgeServerError {
			server.Status = models.EdgeServerActive
		}
		server.UpdatedAt = now
		return r.upsertEdgeServer(ctx, tx, server)
	})
}

func (r *postgresRepository) RecordSyncFailure(id string) error {
	return r.withTx(func(ctx context.Context, tx pgx.Tx) error {
		server, err := r.lockEdgeServer(ctx, tx, id)
		if err != nil {
			return err
		}
		server.Stats.SyncErrors++
		server.Status = models.EdgeServerError
		server.UpdatedAt = nowUTC()
		return r.upsertEdgeServer(ctx, tx, server)
	})
}

func (r *postgresRepository) DeleteEdgeServer(id string) error {
	return r.withConn(func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, "DELETE FROM edge_servers WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete edge server %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEdgeServerNotFound
		}
		return nil
	})
}

var _ Repository = (*postgresRepository)(nil)
