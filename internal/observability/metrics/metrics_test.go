package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                       "/",
		"/":                      "/",
		"/videos":                "/videos",
		"/videos/123":            "/videos/:id",
		"/videos/abc123def/":     "/videos/:id",
		"videos/abc/456/extra":   "/videos/abc/:id/extra",
		"/watch/0123456789abcd":  "/watch/:id",
		"/api/edges/srv/refresh": "/api/edges/srv/refresh",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestObserveRequestAggregatesByLabel(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("get", "/videos/123", 200, 50*time.Millisecond)
	recorder.ObserveRequest("GET", "/videos/456/", 200, 25*time.Millisecond)
	recorder.ObserveRequest("POST", "/videos", 201, 100*time.Millisecond)

	label := requestLabel{method: "GET", path: "/videos/:id", status: "200"}
	if got := recorder.requestCount[label]; got != 2 {
		t.Fatalf("GET /videos/:id count = %d, want 2", got)
	}
	if got := recorder.requestDuration[label]; got != 75*time.Millisecond {
		t.Fatalf("GET /videos/:id duration = %s, want 75ms", got)
	}
	if got := recorder.requestCount[requestLabel{method: "POST", path: "/videos", status: "201"}]; got != 1 {
		t.Fatalf("POST /videos count = %d, want 1", got)
	}

	labels := recorder.sortedRequestLabels()
	if len(labels) != 2 {
		t.Fatalf("label count = %d, want 2", len(labels))
	}
	if labels[0].method != "GET" || labels[1].method != "POST" {
		t.Fatalf("labels not sorted by method: %+v", labels)
	}
}

func TestQueueAndSyncCountersConcurrent(t *testing.T) {
	recorder := New()

	const events = 100
	var wg sync.WaitGroup
	wg.Add(events * 2)
	for i := 0; i < events; i++ {
		go func() {
			defer wg.Done()
			recorder.QueueEvent("enqueued")
		}()
		go func() {
			defer wg.Done()
			recorder.SyncAttempt("srv-1")
		}()
	}
	wg.Wait()

	queueEvents, _, _ := recorder.QueueCounts()
	if queueEvents["enqueued"] != uint64(events) {
		t.Fatalf("enqueued count = %d, want %d", queueEvents["enqueued"], events)
	}
	attempts, failures := recorder.SyncCounts()
	if attempts["srv-1"] != uint64(events) {
		t.Fatalf("attempt count = %d, want %d", attempts["srv-1"], events)
	}
	if failures["srv-1"] != 0 {
		t.Fatalf("failure count = %d, want 0", failures["srv-1"])
	}
}

func TestWriteAndHandlerOutput(t *testing.T) {
	recorder := New()

	recorder.ObserveRequest("GET", "/videos/abc123", 200, 150*time.Millisecond)
	recorder.ObserveRequest("get", "/videos/456/", 200, 50*time.Millisecond)
	recorder.ObserveRequest("POST", "/videos", 201, time.Second)

	recorder.QueueEvent("enqueued")
	recorder.QueueEvent("enqueued")
	recorder.QueueEvent("completed")
	recorder.QueueDepth(3, 1)

	recorder.SyncAttempt(" Srv-A ")
	recorder.SyncAttempt("srv-a")
	recorder.SyncFailure("srv-a")
	recorder.SyncAttempt("srv-b")

	recorder.EdgeHealth("srv-a", true)
	recorder.EdgeHealth("srv-b", false)

	recorder.CacheHit()
	recorder.CacheHit()
	recorder.CacheMiss()
	recorder.CacheEviction()

	var buf bytes.Buffer
	recorder.Write(&buf)

	expected := `# HELP edgeriver_http_requests_total Total number of HTTP requests processed by the API
# TYPE edgeriver_http_requests_total counter
edgeriver_http_requests_total{method="GET",path="/videos/:id",status="200"} 2
edgeriver_http_requests_total{method="POST",path="/videos",status="201"} 1
# HELP edgeriver_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds
# TYPE edgeriver_http_request_duration_seconds_sum counter
edgeriver_http_request_duration_seconds_sum{method="GET",path="/videos/:id",status="200"} 0.200000
edgeriver_http_request_duration_seconds_sum{method="POST",path="/videos",status="201"} 1.000000
# HELP edgeriver_http_request_duration_seconds_count Total number of observations for request durations
# TYPE edgeriver_http_request_duration_seconds_count counter
edgeriver_http_request_duration_seconds_count{method="GET",path="/videos/:id",status="200"} 2
edgeriver_http_request_duration_seconds_count{method="POST",path="/videos",status="201"} 1
# HELP edgeriver_queue_events_total Processing queue lifecycle events by type
# TYPE edgeriver_queue_events_total counter
edgeriver_queue_events_total{event="completed"} 1
edgeriver_queue_events_total{event="enqueued"} 2
# HELP edgeriver_queue_pending_jobs Current number of jobs waiting for a worker
# TYPE edgeriver_queue_pending_jobs gauge
edgeriver_queue_pending_jobs 3
# HELP edgeriver_queue_active_jobs Current number of jobs being processed
# TYPE edgeriver_queue_active_jobs gauge
edgeriver_queue_active_jobs 1
# HELP edgeriver_edge_sync_attempts_total Edge replication attempts by server
# TYPE edgeriver_edge_sync_attempts_total counter
edgeriver_edge_sync_attempts_total{server="srv-a"} 2
edgeriver_edge_sync_attempts_total{server="srv-b"} 1
# HELP edgeriver_edge_sync_failures_total Edge replications that exhausted their retries by server
# TYPE edgeriver_edge_sync_failures_total counter
edgeriver_edge_sync_failures_total{server="srv-a"} 1
edgeriver_edge_sync_failures_total{server="srv-b"} 0
# HELP edgeriver_edge_health Edge server reachability (1=healthy,0=unreachable)
# TYPE edgeriver_edge_health gauge
edgeriver_edge_health{server="srv-a"} 1.000000
edgeriver_edge_health{server="srv-b"} 0.000000
# HELP edgeriver_cache_hits_total Metadata cache hits
# TYPE edgeriver_cache_hits_total counter
edgeriver_cache_hits_total 2
# HELP edgeriver_cache_misses_total Metadata cache misses
# TYPE edgeriver_cache_misses_total counter
edgeriver_cache_misses_total 1
# HELP edgeriver_cache_evictions_total Metadata cache entries evicted by the size bound
# TYPE edgeriver_cache_evictions_total counter
edgeriver_cache_evictions_total 1`

	assertExposition(t, "Write", buf.String(), expected)

	res := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(res, httptest.NewRequest("GET", "/metrics", nil))

	if contentType := res.Result().Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/plain") {
		t.Fatalf("unexpected content type: %s", contentType)
	}
	assertExposition(t, "Handler", res.Body.String(), expected)
}

// assertExposition compares line by line so a single drifted sample points at
// the exact metric instead of dumping both documents.
func assertExposition(t *testing.T, source, actual, expected string) {
	t.Helper()

	actualLines := strings.Split(strings.TrimSpace(actual), "\n")
	expectedLines := strings.Split(strings.TrimSpace(expected), "\n")
	for i := 0; i < len(actualLines) && i < len(expectedLines); i++ {
		if actualLines[i] != expectedLines[i] {
			t.Fatalf("%s output line %d:\n got %q\nwant %q", source, i+1, actualLines[i], expectedLines[i])
		}
	}
	if len(actualLines) != len(expectedLines) {
		t.Fatalf("%s output has %d lines, want %d", source, len(actualLines), len(expectedLines))
	}
}
