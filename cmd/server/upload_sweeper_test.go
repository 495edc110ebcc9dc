package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"edgeriver/internal/models"
)

type fakeVideoLookup struct {
	known map[string]bool
	calls chan struct{}
}

func newFakeVideoLookup(known ...string) *fakeVideoLookup {
	f := &fakeVideoLookup{known: make(map[string]bool), calls: make(chan struct{}, 1)}
	for _, id := range known {
		f.known[id] = true
	}
	return f
}

func (f *fakeVideoLookup) GetVideo(id string) (models.Video, bool) {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	if f.known[id] {
		return models.Video{ID: id}, true
	}
	return models.Video{}, false
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestSweepOrphanedUploads(t *testing.T) {
	uploadDir := t.TempDir()
	for _, id := range []string{"vid-live", "vid-orphan"} {
		if err := os.MkdirAll(filepath.Join(uploadDir, id), 0o755); err != nil {
			t.Fatalf("failed to stage upload dir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(uploadDir, "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	store := newFakeVideoLookup("vid-live")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := sweepOrphanedUploads(store, uploadDir, logger); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(uploadDir, "vid-live")); err != nil {
		t.Fatalf("expected staged upload with live record to survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(uploadDir, "vid-orphan")); !os.IsNotExist(err) {
		t.Fatalf("expected orphaned upload to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(uploadDir, "notes.txt")); err != nil {
		t.Fatalf("expected loose files to be left alone: %v", err)
	}
}

func TestSweepOrphanedUploadsMissingDir(t *testing.T) {
	store := newFakeVideoLookup()
	if err := sweepOrphanedUploads(store, filepath.Join(t.TempDir(), "missing"), nil); err != nil {
		t.Fatalf("expected missing upload dir to be a no-op, got %v", err)
	}
}

func TestStartUploadSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uploadDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(uploadDir, "vid-orphan"), 0o755); err != nil {
		t.Fatalf("failed to stage upload dir: %v", err)
	}

	ticker := newManualTicker()
	store := newFakeVideoLookup()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startUploadSweeperWithTicker(ctx, logger, store, uploadDir, time.Minute, func(time.Duration) sweepTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case <-store.calls:
	case <-time.After(time.Second):
		t.Fatal("expected sweep to be invoked")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartUploadSweeperDisabled(t *testing.T) {
	stop := startUploadSweeper(context.Background(), nil, nil, "", 0)
	stop()
}
