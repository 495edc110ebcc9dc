package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, queue activity, edge replication, cache behaviour, and edge
// health. It renders Prometheus text exposition without pulling in a client
// library; a RWMutex coordinates concurrent writers.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	queueEvents     map[string]uint64
	queuePending    int64
	queueActive     int64
	syncAttempts    map[string]uint64
	syncFailures    map[string]uint64
	edgeHealth      map[string]float64
	cacheHits       uint64
	cacheMisses     uint64
	cacheEvictions  uint64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		queueEvents:     make(map[string]uint64),
		syncAttempts:    make(map[string]uint64),
		syncFailures:    make(map[string]uint64),
		edgeHealth:      make(map[string]float64),
	}
}

// Default returns the singleton Recorder shared across helper functions for
// packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// QueueEvent records a queue lifecycle event (enqueued, started, completed,
// failed, cancelled).
func (r *Recorder) QueueEvent(event string) {
	name := normalizeName(event)
	r.mu.Lock()
	r.queueEvents[name]++
	r.mu.Unlock()
}

// QueueDepth updates the pending and active job gauges.
func (r *Recorder) QueueDepth(pending, active int) {
	r.mu.Lock()
	r.queuePending = int64(pending)
	r.queueActive = int64(active)
	r.mu.Unlock()
}

// SyncAttempt records an edge replication attempt keyed by server ID.
func (r *Recorder) SyncAttempt(serverID string) {
	id := normalizeName(serverID)
	r.mu.Lock()
	r.syncAttempts[id]++
	r.mu.Unlock()
}

// SyncFailure records an exhausted edge replication keyed by server ID.
func (r *Recorder) SyncFailure(serverID string) {
	id := normalizeName(serverID)
	r.mu.Lock()
	r.syncFailures[id]++
	r.mu.Unlock()
}

// EdgeHealth sets the reachability gauge for an edge server.
func (r *Recorder) EdgeHealth(serverID string, healthy bool) {
	id := normalizeName(serverID)
	value := 0.0
	if healthy {
		value = 1
	}
	r.mu.Lock()
	r.edgeHealth[id] = value
	r.mu.Unlock()
}

// CacheHit increments the metadata cache hit counter.
func (r *Recorder) CacheHit() {
	r.mu.Lock()
	r.cacheHits++
	r.mu.Unlock()
}

// CacheMiss increments the metadata cache miss counter.
func (r *Recorder) CacheMiss() {
	r.mu.Lock()
	r.cacheMisses++
	r.mu.Unlock()
}

// CacheEviction increments the metadata cache eviction counter.
func (r *Recorder) CacheEviction() {
	r.mu.Lock()
	r.cacheEvictions++
	r.mu.Unlock()
}

// QueueCounts returns copies of the queue event counters and the current
// gauge values for testing and reporting purposes.
func (r *Recorder) QueueCounts() (events map[string]uint64, pending, active int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events = make(map[string]uint64, len(r.queueEvents))
	for k, v := range r.queueEvents {
		events[k] = v
	}
	return events, r.queuePending, r.queueActive
}

// SyncCounts returns copies of the per-server sync attempt and failure
// counters.
func (r *Recorder) SyncCounts() (attempts map[string]uint64, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.syncAttempts))
	for k, v := range r.syncAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.syncFailures))
	for k, v := range r.syncFailures {
		failures[k] = v
	}
	return attempts, failures
}

// CacheCounts returns the cumulative cache counters.
func (r *Recorder) CacheCounts() (hits, misses, evictions uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cacheHits, r.cacheMisses, r.cacheEvictions
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.queueEvents = make(map[string]uint64)
	r.queuePending = 0
	r.queueActive = 0
	r.syncAttempts = make(map[string]uint64)
	r.syncFailures = make(map[string]uint64)
	r.edgeHealth = make(map[string]float64)
	r.cacheHits = 0
	r.cacheMisses = 0
	r.cacheEvictions = 0
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	syncServers := r.sortedSyncServers()

	family(w, "edgeriver_http_requests_total", "counter",
		"Total number of HTTP requests processed by the API")
	for _, l := range requestLabels {
		fmt.Fprintf(w, "edgeriver_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n",
			l.method, l.path, l.status, r.requestCount[l])
	}

	family(w, "edgeriver_http_request_duration_seconds_sum", "counter",
		"Cumulative duration of HTTP requests in seconds")
	for _, l := range requestLabels {
		fmt.Fprintf(w, "edgeriver_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n",
			l.method, l.path, l.status, r.requestDuration[l].Seconds())
	}

	family(w, "edgeriver_http_request_duration_seconds_count", "counter",
		"Total number of observations for request durations")
	for _, l := range requestLabels {
		fmt.Fprintf(w, "edgeriver_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n",
			l.method, l.path, l.status, r.requestCount[l])
	}

	family(w, "edgeriver_queue_events_total", "counter",
		"Processing queue lifecycle events by type")
	for _, event := range sortedKeys(r.queueEvents) {
		fmt.Fprintf(w, "edgeriver_queue_events_total{event=\"%s\"} %d\n", event, r.queueEvents[event])
	}

	family(w, "edgeriver_queue_pending_jobs", "gauge",
		"Current number of jobs waiting for a worker")
	fmt.Fprintf(w, "edgeriver_queue_pending_jobs %d\n", r.queuePending)

	family(w, "edgeriver_queue_active_jobs", "gauge",
		"Current number of jobs being processed")
	fmt.Fprintf(w, "edgeriver_queue_active_jobs %d\n", r.queueActive)

	family(w, "edgeriver_edge_sync_attempts_total", "counter",
		"Edge replication attempts by server")
	for _, server := range syncServers {
		fmt.Fprintf(w, "edgeriver_edge_sync_attempts_total{server=\"%s\"} %d\n", server, r.syncAttempts[server])
	}

	family(w, "edgeriver_edge_sync_failures_total", "counter",
		"Edge replications that exhausted their retries by server")
	for _, server := range syncServers {
		fmt.Fprintf(w, "edgeriver_edge_sync_failures_total{server=\"%s\"} %d\n", server, r.syncFailures[server])
	}

	family(w, "edgeriver_edge_health", "gauge",
		"Edge server reachability (1=healthy,0=unreachable)")
	for _, server := range sortedKeys(r.edgeHealth) {
		fmt.Fprintf(w, "edgeriver_edge_health{server=\"%s\"} %f\n", server, r.edgeHealth[server])
	}

	family(w, "edgeriver_cache_hits_total", "counter", "Metadata cache hits")
	fmt.Fprintf(w, "edgeriver_cache_hits_total %d\n", r.cacheHits)

	family(w, "edgeriver_cache_misses_total", "counter", "Metadata cache misses")
	fmt.Fprintf(w, "edgeriver_cache_misses_total %d\n", r.cacheMisses)

	family(w, "edgeriver_cache_evictions_total", "counter",
		"Metadata cache entries evicted by the size bound")
	fmt.Fprintf(w, "edgeriver_cache_evictions_total %d\n", r.cacheEvictions)
}

func family(w io.Writer, name, kind, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedSyncServers() []string {
	seen := make(map[string]struct{}, len(r.syncAttempts)+len(r.syncFailures))
	for server := range r.syncAttempts {
		seen[server] = struct{}{}
	}
	for server := range r.syncFailures {
		seen[server] = struct{}{}
	}
	servers := make([]string, 0, len(seen))
	for server := range seen {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// normalizePath collapses ID-shaped segments to :id so the label space stays
// bounded no matter how many videos or servers exist.
func normalizePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if looksLikeIdentifier(segment) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digits := 0
	for _, c := range segment {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	return digits >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
