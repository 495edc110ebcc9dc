package transcode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"edgeriver/internal/models"
)

type fakeTranscodeService struct {
	mu       sync.Mutex
	statuses []transcodeStatusResponse
	polls    int
	token    string
	lastAuth string
}

func (f *fakeTranscodeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(transcodeJobResponse{JobID: "job-1"})
	})
	mux.HandleFunc("/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		idx := f.polls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status := f.statuses[idx]
		f.polls++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(status)
	})
	return mux
}

func TestHTTPTranscoderProcessRelaysProgress(t *testing.T) {
	service := &fakeTranscodeService{statuses: []transcodeStatusResponse{
		{Status: "running", Progress: 10},
		{Status: "running", Progress: 55},
		{Status: "complete", Progress: 100, DurationSecs: 42, Resolution: "1280x720", SizeBytes: 1024, Files: models.ProcessedFiles{MasterManifest: "master.m3u8"}},
	}}
	server := httptest.NewServer(service.handler())
	defer server.Close()

	transcoder, err := NewHTTPTranscoder(Config{BaseURL: server.URL, Token: "secret", PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPTranscoder: %v", err)
	}

	var progress []int
	result, err := transcoder.Process(context.Background(), ProcessParams{
		VideoID:    "vid-1",
		InputPath:  "/in/vid.mp4",
		OutputDir:  "/out/vid-1",
		OnProgress: func(p int) { progress = append(progress, p) },
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.DurationSecs != 42 || result.Resolution != "1280x720" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Files.MasterManifest != "master.m3u8" {
		t.Fatalf("expected manifest in result, got %+v", result.Files)
	}
	if len(progress) != 3 || progress[0] != 10 || progress[2] != 100 {
		t.Fatalf("unexpected progress relay: %v", progress)
	}
	service.mu.Lock()
	auth := service.lastAuth
	service.mu.Unlock()
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
}

func TestHTTPTranscoderProcessSurfacesFailure(t *testing.T) {
	service := &fakeTranscodeService{statuses: []transcodeStatusResponse{
		{Status: "failed", Error: "unsupported codec"},
	}}
	server := httptest.NewServer(service.handler())
	defer server.Close()

	transcoder, err := NewHTTPTranscoder(Config{BaseURL: server.URL, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPTranscoder: %v", err)
	}

	_, err = transcoder.Process(context.Background(), ProcessParams{VideoID: "vid-2", InputPath: "/in/bad.mp4"})
	if err == nil || !strings.Contains(err.Error(), "unsupported codec") {
		t.Fatalf("expected codec failure surfaced, got %v", err)
	}
}

func TestHTTPTranscoderProcessHonorsContext(t *testing.T) {
	service := &fakeTranscodeService{statuses: []transcodeStatusResponse{
		{Status: "running", Progress: 5},
	}}
	server := httptest.NewServer(service.handler())
	defer server.Close()

	transcoder, err := NewHTTPTranscoder(Config{BaseURL: server.URL, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPTranscoder: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = transcoder.Process(ctx, ProcessParams{VideoID: "vid-3", InputPath: "/in/slow.mp4"})
	if err == nil || ctx.Err() == nil {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestHTTPTranscoderSurfacesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transcoder, err := NewHTTPTranscoder(Config{BaseURL: server.URL, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPTranscoder: %v", err)
	}

	_, err = transcoder.Process(context.Background(), ProcessParams{VideoID: "vid-4", InputPath: "/in/vid.mp4"})
	if err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}
