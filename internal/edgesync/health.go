package edgesync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"edgeriver/internal/models"
	"edgeriver/internal/storage"
)

const (
	defaultProbeInterval = time.Minute
	defaultProbeTimeout  = 10 * time.Second
)

// HealthMetrics receives edge reachability gauges.
type HealthMetrics interface {
	EdgeHealth(serverID string, healthy bool)
}

// HealthCheckerConfig wires the periodic edge probe loop.
type HealthCheckerConfig struct {
	Store      storage.Repository
	HTTPClient *http.Client
	Interval   time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    HealthMetrics
}

// HealthChecker probes every registered edge server and flips its status
// between active and error based on reachability. Servers an administrator
// marked inactive are left alone.
type HealthChecker struct {
	store      storage.Repository
	httpClient *http.Client
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	metrics    HealthMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func NewHealthChecker(cfg HealthCheckerConfig) *HealthChecker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthChecker{
		store:      cfg.Store,
		httpClient: httpClient,
		interval:   interval,
		timeout:    timeout,
		logger:     logger,
		metrics:    cfg.Metrics,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *HealthChecker) Start() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run()
}

func (h *HealthChecker) Shutdown(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HealthChecker) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.CheckAll(h.ctx)
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.CheckAll(h.ctx)
		}
	}
}

// CheckAll probes every registered server once.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	for _, server := range h.store.ListEdgeServers() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if server.Status == models.EdgeServerInactive {
			continue
		}
		h.probe(ctx, server)
	}
}

func (h *HealthChecker) probe(ctx context.Context, server models.EdgeServer) {
	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := NewClient(server, h.httpClient).Health(probeCtx)
	healthy := err == nil
	if h.metrics != nil {
		h.metrics.EdgeHealth(server.ID, healthy)
	}

	switch {
	case healthy && server.Status == models.EdgeServerError:
		status := models.EdgeServerActive
		if _, updateErr := h.store.UpdateEdgeServer(server.ID, storage.EdgeServerUpdate{Status: &status}); updateErr != nil {
			h.logger.Error("failed to mark edge server active", "server_id", server.ID, "error", updateErr)
			return
		}
		h.logger.Info("edge server recovered", "server_id", server.ID, "server", server.Name)
	case !healthy && server.Status == models.EdgeServerActive:
		status := models.EdgeServerError
		if _, updateErr := h.store.UpdateEdgeServer(server.ID, storage.EdgeServerUpdate{Status: &status}); updateErr != nil {
			h.logger.Error("failed to mark edge server errored", "server_id", server.ID, "error", updateErr)
			return
		}
		h.logger.Warn("edge server unreachable", "server_id", server.ID, "server", server.Name, "error", err)
	}
}
