package edgesync

import (
	"context"
	"testing"
	"time"

	"edgeriver/internal/models"
	"edgeriver/internal/storage"
)

func TestHealthCheckerFlipsStatus(t *testing.T) {
	store := newSyncStore(t)

	healthy := &fakeEdge{}
	broken := &fakeEdge{alwaysErr: true}
	up := registerFakeEdge(t, store, "edge-up", healthy)
	down := registerFakeEdge(t, store, "edge-down", broken)

	checker := NewHealthChecker(HealthCheckerConfig{
		Store:   store,
		Timeout: time.Second,
		Logger:  discardLogger(),
	})

	checker.CheckAll(context.Background())

	got, _ := store.GetEdgeServer(up.ID)
	if got.Status != models.EdgeServerActive {
		t.Fatalf("reachable server status = %q, want active", got.Status)
	}
	got, _ = store.GetEdgeServer(down.ID)
	if got.Status != models.EdgeServerError {
		t.Fatalf("unreachable server status = %q, want error", got.Status)
	}

	// The replica comes back; the next sweep restores it.
	broken.mu.Lock()
	broken.alwaysErr = false
	broken.mu.Unlock()

	checker.CheckAll(context.Background())

	got, _ = store.GetEdgeServer(down.ID)
	if got.Status != models.EdgeServerActive {
		t.Fatalf("recovered server status = %q, want active", got.Status)
	}
}

func TestHealthCheckerSkipsInactiveServers(t *testing.T) {
	store := newSyncStore(t)

	broken := &fakeEdge{alwaysErr: true}
	server := registerFakeEdge(t, store, "edge-parked", broken)

	inactive := models.EdgeServerInactive
	if _, err := store.UpdateEdgeServer(server.ID, storage.EdgeServerUpdate{Status: &inactive}); err != nil {
		t.Fatalf("failed to deactivate server: %v", err)
	}

	checker := NewHealthChecker(HealthCheckerConfig{
		Store:   store,
		Timeout: time.Second,
		Logger:  discardLogger(),
	})
	checker.CheckAll(context.Background())

	got, _ := store.GetEdgeServer(server.ID)
	if got.Status != models.EdgeServerInactive {
		t.Fatalf("inactive server status = %q, probes must not touch it", got.Status)
	}
}

func TestHealthCheckerShutdown(t *testing.T) {
	store := newSyncStore(t)
	checker := NewHealthChecker(HealthCheckerConfig{
		Store:    store,
		Interval: 10 * time.Millisecond,
		Logger:   discardLogger(),
	})
	checker.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := checker.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown did not complete: %v", err)
	}
}
