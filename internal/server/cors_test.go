package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// runCORS sends a request with the given origin through the middleware and
// reports whether the wrapped handler ran.
func runCORS(t *testing.T, cfg CORSConfig, method, target, origin string, decorate func(*http.Request)) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	policy, err := newCORSPolicy(cfg)
	if err != nil {
		t.Fatalf("newCORSPolicy: %v", err)
	}

	reachedNext := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reachedNext = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, target, nil)
	req.Host = "api.example.com"
	req.Header.Set("Origin", origin)
	if decorate != nil {
		decorate(req)
	}

	rec := httptest.NewRecorder()
	corsMiddleware(policy, nil, next).ServeHTTP(rec, req)
	return rec, reachedNext
}

func TestCORSMiddlewareAllowsConfiguredOrigins(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}}
	rec, reachedNext := runCORS(t, cfg, http.MethodGet, "/api/videos", "https://admin.example.com", nil)

	if !reachedNext {
		t.Fatal("allowed origin should reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSMiddlewareAllowsPreflight(t *testing.T) {
	cfg := CORSConfig{AllowedOrigins: []string{"https://player.example.com"}}
	rec, reachedNext := runCORS(t, cfg, http.MethodOptions, "/watch/vid-1", "https://player.example.com", func(req *http.Request) {
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		req.Header.Set("Access-Control-Request-Headers", "Range")
	})

	if reachedNext {
		t.Fatal("preflight must be answered by the middleware")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("Access-Control-Allow-Methods not set")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Range" {
		t.Fatalf("Access-Control-Allow-Headers = %q, want Range", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "Content-Range, Accept-Ranges" {
		t.Fatalf("Access-Control-Expose-Headers = %q", got)
	}
}

func TestCORSMiddlewareBlocksUnknownOrigin(t *testing.T) {
	rec, reachedNext := runCORS(t, CORSConfig{}, http.MethodGet, "/api/videos", "https://evil.example.com", nil)

	if reachedNext {
		t.Fatal("disallowed origin must not reach the handler")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCORSMiddlewareAllowsSameOriginByDefault(t *testing.T) {
	rec, reachedNext := runCORS(t, CORSConfig{}, http.MethodGet, "/api/videos", "http://example.com", func(req *http.Request) {
		req.Host = "example.com"
	})

	if !reachedNext {
		t.Fatal("same-origin request should reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func newCORSTestServer(t *testing.T) *Server {
	t.Helper()
	handler, _ := newTestHandler(t)
	srv, err := New(handler, Config{
		Addr: "127.0.0.1:0",
		CORS: CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestServerCORSAllowsConfiguredOrigins(t *testing.T) {
	srv := newCORSTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health check status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestServerCORSBlocksUnknownOrigin(t *testing.T) {
	srv := newCORSTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}
