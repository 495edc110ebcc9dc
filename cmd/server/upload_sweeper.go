package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"edgeriver/internal/models"
)

// videoLookup is the slice of the datastore the sweeper needs.
type videoLookup interface {
	GetVideo(id string) (models.Video, bool)
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// startUploadSweeper periodically removes staged upload directories whose
// video record no longer exists. Uploads are staged under uploadDir/<videoID>,
// so an entry with no matching record is an orphan left behind by a deleted
// or failed video.
func startUploadSweeper(ctx context.Context, logger *slog.Logger, store videoLookup, uploadDir string, interval time.Duration) func() {
	return startUploadSweeperWithTicker(ctx, logger, store, uploadDir, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startUploadSweeperWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	store videoLookup,
	uploadDir string,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if store == nil || uploadDir == "" || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if err := sweepOrphanedUploads(store, uploadDir, logger); err != nil && logger != nil {
					logger.Error("failed to sweep staged uploads", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func sweepOrphanedUploads(store videoLookup, uploadDir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		videoID := entry.Name()
		if _, ok := store.GetVideo(videoID); ok {
			continue
		}
		staged := filepath.Join(uploadDir, videoID)
		if err := os.RemoveAll(staged); err != nil {
			if logger != nil {
				logger.Warn("failed to remove orphaned upload", "video_id", videoID, "error", err)
			}
			continue
		}
		if logger != nil {
			logger.Info("removed orphaned upload", "video_id", videoID, "dir", staged)
		}
	}
	return nil
}
