package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuildTranscodePlan(t *testing.T) {
	outputDir := t.TempDir()
	plan, err := buildTranscodePlan("/tmp/input.mp4", outputDir, []rendition{
		{Name: "720p", Height: 720, Bitrate: 2800},
		{Name: "480p", Height: 480, Bitrate: 1400},
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if len(plan.renditions) != 2 {
		t.Fatalf("expected 2 renditions, got %d", len(plan.renditions))
	}
	joined := strings.Join(plan.args, " ")
	if !strings.Contains(joined, "scale=-2:720") || !strings.Contains(joined, "scale=-2:480") {
		t.Fatalf("expected scale filters in args: %s", joined)
	}
	if !strings.Contains(joined, "-master_pl_name master.m3u8") {
		t.Fatalf("expected master playlist arg: %s", joined)
	}
	if !strings.Contains(joined, "-hls_playlist_type vod") {
		t.Fatalf("expected vod playlist type: %s", joined)
	}
	for _, name := range []string{"720p", "480p"} {
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			t.Fatalf("expected variant dir %s: %v", name, err)
		}
	}
}

func TestBuildTranscodePlanDeduplicatesNames(t *testing.T) {
	plan, err := buildTranscodePlan("/tmp/input.mp4", t.TempDir(), []rendition{
		{Name: "720p"},
		{Name: "720p"},
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if plan.renditions[0].Name == plan.renditions[1].Name {
		t.Fatalf("expected unique variant names, got %q twice", plan.renditions[0].Name)
	}
}

func TestCollectArtifacts(t *testing.T) {
	outputDir := t.TempDir()
	writeArtifact(t, outputDir, "master.m3u8", "#EXTM3U\n")
	writeArtifact(t, outputDir, "720p/index.m3u8", "#EXTM3U\n")
	writeArtifact(t, outputDir, "720p/segment_000000.ts", strings.Repeat("x", 128))
	writeArtifact(t, outputDir, "480p/index.m3u8", "#EXTM3U\n")
	writeArtifact(t, outputDir, "480p/segment_000000.ts", strings.Repeat("x", 64))

	files, size, err := collectArtifacts(outputDir)
	if err != nil {
		t.Fatalf("collect artifacts: %v", err)
	}
	if files.MasterManifest != "master.m3u8" {
		t.Fatalf("master manifest = %q", files.MasterManifest)
	}
	if len(files.Renditions) != 2 {
		t.Fatalf("expected 2 renditions, got %v", files.Renditions)
	}
	if len(files.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %v", files.Segments)
	}
	if size < 192 {
		t.Fatalf("expected total size to cover segments, got %d", size)
	}
}

func TestCollectArtifactsRequiresMaster(t *testing.T) {
	outputDir := t.TempDir()
	writeArtifact(t, outputDir, "720p/index.m3u8", "#EXTM3U\n")
	if _, _, err := collectArtifacts(outputDir); err == nil {
		t.Fatal("expected missing master manifest to fail")
	}
}

func TestResolveLadder(t *testing.T) {
	ladder, err := resolveLadder("")
	if err != nil {
		t.Fatalf("default ladder: %v", err)
	}
	if len(ladder) != len(defaultLadder) {
		t.Fatalf("expected default ladder, got %v", ladder)
	}

	ladder, err = resolveLadder(`[{"name":"540p","height":540,"bitrate":1800}]`)
	if err != nil {
		t.Fatalf("custom ladder: %v", err)
	}
	if len(ladder) != 1 || ladder[0].Name != "540p" {
		t.Fatalf("custom ladder = %v", ladder)
	}

	if _, err := resolveLadder("{broken"); err == nil {
		t.Fatal("expected invalid ladder JSON to fail")
	}
}

func TestFailInterruptedJobs(t *testing.T) {
	workRoot := t.TempDir()
	store, err := newMetadataStore(workRoot)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(&job{ID: "job-1", VideoID: "vid-1", Status: statusRunning}); err != nil {
		t.Fatalf("save job: %v", err)
	}
	if err := store.Save(&job{ID: "job-2", VideoID: "vid-2", Status: statusComplete, Progress: 100}); err != nil {
		t.Fatalf("save job: %v", err)
	}

	srv, err := newServer("", workRoot, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	if got := srv.jobs["job-1"].Status; got != statusFailed {
		t.Fatalf("interrupted job status = %q, want failed", got)
	}
	if got := srv.jobs["job-2"].Status; got != statusComplete {
		t.Fatalf("finished job status = %q, want complete", got)
	}
}

func TestJobEndpointsRejectBadRequests(t *testing.T) {
	srv, err := newServer("secret", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()
	client := ts.Client()

	resp, err := client.Post(ts.URL+"/v1/jobs", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/jobs", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("post empty payload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty payload status = %d", resp.StatusCode)
	}

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/v1/jobs/missing", nil)
	if err != nil {
		t.Fatalf("build status request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("get unknown job: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d", resp.StatusCode)
	}
}

func TestJobLifecycleWithFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires ffmpeg")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}

	tempDir := t.TempDir()
	sample := filepath.Join(tempDir, "sample.mp4")
	generate := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", "testsrc=size=160x120:rate=5",
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=44100",
		"-shortest", "-t", "5",
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac",
		sample,
	)
	if out, err := generate.CombinedOutput(); err != nil {
		t.Fatalf("generate sample: %v (%s)", err, out)
	}

	srv, err := newServer("", tempDir, []rendition{{Name: "120p", Height: 120, Bitrate: 400}})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()
	client := ts.Client()

	outputDir := filepath.Join(tempDir, "output", "vid-1")
	body, err := json.Marshal(jobRequest{VideoID: "vid-1", InputPath: sample, OutputDir: outputDir})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := client.Post(ts.URL+"/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var created jobCreatedResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.JobID == "" {
		t.Fatal("expected job id")
	}

	var final jobStatusResponse
	waitFor(t, 60*time.Second, func() bool {
		statusResp, err := client.Get(ts.URL + "/v1/jobs/" + created.JobID)
		if err != nil {
			return false
		}
		defer statusResp.Body.Close()
		if statusResp.StatusCode != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(statusResp.Body).Decode(&final); err != nil {
			return false
		}
		return final.Status == string(statusComplete) || final.Status == string(statusFailed)
	})

	if final.Status != string(statusComplete) {
		t.Fatalf("job finished with status %q: %s", final.Status, final.Error)
	}
	if final.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", final.Progress)
	}
	if final.Files.MasterManifest == "" {
		t.Fatal("expected master manifest in artifact set")
	}
	if _, err := os.Stat(filepath.Join(outputDir, filepath.FromSlash(final.Files.MasterManifest))); err != nil {
		t.Fatalf("master manifest missing on disk: %v", err)
	}
	if len(final.Files.Segments) == 0 {
		t.Fatal("expected segments in artifact set")
	}
}

func writeArtifact(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("prepare artifact dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
