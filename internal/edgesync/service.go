package edgesync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"edgeriver/internal/models"
	"edgeriver/internal/storage"
)

const (
	defaultMaxAttempts   = 3
	defaultRetryInterval = 2 * time.Second
)

// SyncMetrics receives per-server replication counters. Implementations
// must not block.
type SyncMetrics interface {
	SyncAttempt(serverID string)
	SyncFailure(serverID string)
}

// Config wires the sync service.
type Config struct {
	Store         storage.Repository
	HTTPClient    *http.Client
	MaxAttempts   int
	RetryInterval time.Duration
	Logger        *slog.Logger
	Metrics       SyncMetrics
}

// Service pushes processed videos to every active edge server. Each server
// is synced independently; one server's failure never aborts the others.
type Service struct {
	store         storage.Repository
	httpClient    *http.Client
	maxAttempts   int
	retryInterval time.Duration
	logger        *slog.Logger
	metrics       SyncMetrics
}

func NewService(cfg Config) *Service {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Service{
		store:         cfg.Store,
		httpClient:    httpClient,
		maxAttempts:   maxAttempts,
		retryInterval: interval,
		logger:        logger,
		metrics:       cfg.Metrics,
	}
}

// SyncVideo replicates one video's metadata and artifacts to all active edge
// servers. Exactly one stats outcome is recorded per server per invocation.
func (s *Service) SyncVideo(ctx context.Context, videoID, outputDir string) error {
	video, ok := s.store.GetVideo(videoID)
	if !ok {
		return fmt.Errorf("video %s not found", videoID)
	}
	if outputDir == "" {
		outputDir = video.OutputDir
	}

	artifacts, err := collectArtifacts(outputDir)
	if err != nil {
		return fmt.Errorf("collect artifacts for %s: %w", videoID, err)
	}

	servers := s.store.ListActiveEdgeServers()
	if len(servers) == 0 {
		s.logger.Debug("no active edge servers to sync", "video_id", videoID)
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		group.Go(func() error {
			s.syncServer(groupCtx, server, video, outputDir, artifacts)
			// Per-server failures are recorded, never propagated, so a
			// slow or broken server cannot cancel its siblings.
			return nil
		})
	}
	return group.Wait()
}

func (s *Service) syncServer(ctx context.Context, server models.EdgeServer, video models.Video, outputDir string, artifacts []string) {
	if s.metrics != nil {
		s.metrics.SyncAttempt(server.ID)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = s.pushOnce(ctx, server, video, outputDir, artifacts)
		if lastErr == nil {
			break
		}
		s.logger.Warn("edge sync attempt failed",
			"video_id", video.ID, "server_id", server.ID, "server", server.Name,
			"attempt", attempt, "error", lastErr)
		if attempt == s.maxAttempts {
			break
		}
		backoff := s.retryInterval * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(backoff):
		}
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		if s.metrics != nil {
			s.metrics.SyncFailure(server.ID)
		}
		if err := s.store.RecordSyncFailure(server.ID); err != nil {
			s.logger.Error("failed to record sync failure", "server_id", server.ID, "error", err)
		}
		s.logger.Error("edge sync failed", "video_id", video.ID, "server_id", server.ID, "server", server.Name, "error", lastErr)
		return
	}

	if err := s.store.RecordSyncSuccess(server.ID); err != nil {
		s.logger.Error("failed to record sync success", "server_id", server.ID, "error", err)
	}
	s.logger.Info("video synced to edge", "video_id", video.ID, "server_id", server.ID, "server", server.Name, "files", len(artifacts))
}

func (s *Service) pushOnce(ctx context.Context, server models.EdgeServer, video models.Video, outputDir string, artifacts []string) error {
	client := NewClient(server, s.httpClient)
	if err := client.PushMetadata(ctx, video); err != nil {
		return err
	}
	for _, relPath := range artifacts {
		if err := client.PushFile(ctx, video.ID, relPath, filepath.Join(outputDir, relPath)); err != nil {
			return err
		}
	}
	return nil
}

// collectArtifacts walks outputDir and returns every regular file as a path
// relative to the directory root.
func collectArtifacts(outputDir string) ([]string, error) {
	if outputDir == "" {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(outputDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return files, nil
}
