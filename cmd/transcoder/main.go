// Command transcoder runs the FFmpeg job daemon. The primary submits video
// transcode jobs over REST and polls until they finish; completed jobs leave
// an HLS rendition ladder in the requested output directory.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"edgeriver/internal/models"
	"edgeriver/internal/serverutil"
)

type rendition struct {
	Name    string `json:"name"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"`
}

var defaultLadder = []rendition{
	{Name: "1080p", Height: 1080, Bitrate: 5000},
	{Name: "720p", Height: 720, Bitrate: 2800},
	{Name: "480p", Height: 480, Bitrate: 1400},
}

type jobStatus string

const (
	statusQueued   jobStatus = "queued"
	statusRunning  jobStatus = "running"
	statusComplete jobStatus = "complete"
	statusFailed   jobStatus = "failed"
)

type job struct {
	ID           string                `json:"id"`
	VideoID      string                `json:"videoId"`
	InputPath    string                `json:"inputPath"`
	OutputDir    string                `json:"outputDir"`
	Status       jobStatus             `json:"status"`
	Progress     int                   `json:"progress"`
	Error        string                `json:"error,omitempty"`
	DurationSecs float64               `json:"durationSeconds,omitempty"`
	Resolution   string                `json:"resolution,omitempty"`
	SizeBytes    int64                 `json:"sizeBytes,omitempty"`
	Files        models.ProcessedFiles `json:"files"`
	CreatedAt    time.Time             `json:"createdAt"`
	CompletedAt  *time.Time            `json:"completedAt,omitempty"`
}

type processState struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
}

type server struct {
	httpServer *http.Server
	token      string
	ladder     []rendition
	mu         sync.RWMutex
	jobs       map[string]*job
	processes  map[string]*processState
	store      *metadataStore
}

type jobRequest struct {
	VideoID   string `json:"videoId"`
	InputPath string `json:"inputPath"`
	OutputDir string `json:"outputDir"`
}

type jobCreatedResponse struct {
	JobID string `json:"jobId"`
}

type jobStatusResponse struct {
	Status       string                `json:"status"`
	Progress     int                   `json:"progress"`
	Error        string                `json:"error,omitempty"`
	DurationSecs float64               `json:"durationSeconds,omitempty"`
	Resolution   string                `json:"resolution,omitempty"`
	SizeBytes    int64                 `json:"sizeBytes,omitempty"`
	Files        models.ProcessedFiles `json:"files"`
}

func main() {
	bind := envOrDefault("EDGERIVER_TRANSCODER_BIND", ":9000")
	token := strings.TrimSpace(os.Getenv("EDGERIVER_TRANSCODER_TOKEN"))
	workRoot := envOrDefault("EDGERIVER_TRANSCODER_WORK_ROOT", "./work")

	ladder, err := resolveLadder(os.Getenv("EDGERIVER_TRANSCODER_RENDITIONS"))
	if err != nil {
		log.Fatalf("parse rendition ladder: %v", err)
	}

	srv, err := newServer(token, workRoot, ladder)
	if err != nil {
		log.Fatalf("initialise server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              bind,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.httpServer = httpServer

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("ffmpeg job daemon listening on %s", bind)
	err = serverutil.Run(ctx, serverutil.Config{
		Server: httpServer,
		TLS: serverutil.TLSConfig{
			CertFile: strings.TrimSpace(os.Getenv("EDGERIVER_TRANSCODER_TLS_CERT")),
			KeyFile:  strings.TrimSpace(os.Getenv("EDGERIVER_TRANSCODER_TLS_KEY")),
		},
		ShutdownTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("serve: %v", err)
	}
	log.Println("ffmpeg job daemon stopped")
}

func newServer(token, workRoot string, ladder []rendition) (*server, error) {
	store, err := newMetadataStore(workRoot)
	if err != nil {
		return nil, err
	}
	jobs, err := store.Load()
	if err != nil {
		return nil, err
	}
	srv := &server{
		token:     token,
		ladder:    ladder,
		jobs:      jobs,
		processes: make(map[string]*processState),
		store:     store,
	}
	srv.failInterruptedJobs()
	return srv, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/jobs", s.handleJobs)
	mux.HandleFunc("/v1/jobs/", s.handleJobByID)
	return logRequests(mux)
}

// failInterruptedJobs marks jobs that were mid-encode when the daemon died.
// A partially written VOD ladder cannot be resumed; the primary re-submits.
func (s *server) failInterruptedJobs() {
	now := time.Now().UTC()
	for id, jb := range s.jobs {
		if jb == nil {
			continue
		}
		if jb.Status != statusQueued && jb.Status != statusRunning {
			continue
		}
		jb.Status = statusFailed
		jb.Error = "transcoder restarted during processing"
		jb.CompletedAt = &now
		if err := s.store.Save(jb); err != nil {
			log.Printf("persist interrupted job %s: %v", id, err)
		}
	}
}

func (s *server) authorize(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return false
	}
	return strings.TrimSpace(header[7:]) == s.token
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.VideoID) == "" || strings.TrimSpace(req.InputPath) == "" {
		http.Error(w, "videoId and inputPath are required", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		http.Error(w, "input file not accessible", http.StatusBadRequest)
		return
	}

	jobID := newID("job")
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		outputDir = filepath.Join(s.store.root, "output", req.VideoID)
	}
	plan, err := buildTranscodePlan(req.InputPath, outputDir, s.ladder)
	if err != nil {
		http.Error(w, "unable to prepare transcode", http.StatusInternalServerError)
		return
	}

	meta := &job{
		ID:        jobID,
		VideoID:   req.VideoID,
		InputPath: req.InputPath,
		OutputDir: plan.outputDir,
		Status:    statusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if info, err := probeInput(r.Context(), req.InputPath); err == nil {
		meta.DurationSecs = info.durationSecs
		meta.Resolution = info.resolution
	} else {
		log.Printf("probe %s: %v", req.InputPath, err)
	}

	s.mu.Lock()
	s.jobs[jobID] = meta
	s.mu.Unlock()

	proc, err := s.startFFmpeg(jobID, plan, meta.DurationSecs)
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
		http.Error(w, "failed to start ffmpeg", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	meta.Status = statusRunning
	s.processes[jobID] = proc
	s.mu.Unlock()

	if err := s.store.Save(meta); err != nil {
		s.mu.Lock()
		delete(s.jobs, jobID)
		delete(s.processes, jobID)
		s.mu.Unlock()
		proc.cancel()
		<-proc.done
		http.Error(w, "failed to persist job", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, jobCreatedResponse{JobID: jobID})
}

func (s *server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleJobStatus(w, r, id)
	case http.MethodDelete:
		s.handleJobCancel(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleJobStatus(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.RLock()
	meta, ok := s.jobs[id]
	var snapshot job
	if ok {
		snapshot = *meta
	}
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		Status:       string(snapshot.Status),
		Progress:     snapshot.Progress,
		Error:        snapshot.Error,
		DurationSecs: snapshot.DurationSecs,
		Resolution:   snapshot.Resolution,
		SizeBytes:    snapshot.SizeBytes,
		Files:        snapshot.Files,
	})
}

func (s *server) handleJobCancel(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.RLock()
	meta, ok := s.jobs[id]
	proc := s.processes[id]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if proc != nil {
		proc.cancel()
		select {
		case <-proc.done:
		case <-time.After(15 * time.Second):
			log.Printf("timeout waiting for job %s to stop", id)
		}
	}

	s.mu.Lock()
	if meta.Status == statusQueued || meta.Status == statusRunning {
		now := time.Now().UTC()
		meta.Status = statusFailed
		meta.Error = "cancelled"
		meta.CompletedAt = &now
	}
	delete(s.processes, id)
	s.mu.Unlock()

	if err := s.store.Save(meta); err != nil {
		log.Printf("persist cancelled job %s: %v", id, err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) onJobExit(id string, runErr error) {
	now := time.Now().UTC()

	s.mu.RLock()
	meta, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return
	}

	var files models.ProcessedFiles
	var size int64
	var collectErr error
	if runErr == nil {
		files, size, collectErr = collectArtifacts(meta.OutputDir)
	}

	s.mu.Lock()
	delete(s.processes, id)
	if meta.Status == statusQueued || meta.Status == statusRunning {
		meta.CompletedAt = &now
		switch {
		case runErr != nil:
			meta.Status = statusFailed
			meta.Error = runErr.Error()
		case collectErr != nil:
			meta.Status = statusFailed
			meta.Error = collectErr.Error()
		default:
			meta.Status = statusComplete
			meta.Progress = 100
			meta.Files = files
			meta.SizeBytes = size
		}
	}
	s.mu.Unlock()

	if err := s.store.Save(meta); err != nil {
		log.Printf("persist finished job %s: %v", id, err)
	}
}

func (s *server) setProgress(id string, progress int) {
	s.mu.Lock()
	if meta, ok := s.jobs[id]; ok && meta.Status == statusRunning {
		if progress > meta.Progress && progress < 100 {
			meta.Progress = progress
		}
	}
	s.mu.Unlock()
}

type transcodePlan struct {
	args       []string
	renditions []rendition
	outputDir  string
}

// buildTranscodePlan prepares a single ffmpeg invocation that encodes the
// whole ladder in one pass and writes a VOD HLS master plus per-rendition
// variant playlists under outputDir.
func buildTranscodePlan(input, outputDir string, ladder []rendition) (*transcodePlan, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input source is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	absDir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, err
	}
	if len(ladder) == 0 {
		ladder = defaultLadder
	}

	args := []string{"-y", "-i", input}

	used := make(map[string]int)
	varStreamMap := make([]string, 0, len(ladder))
	renditions := make([]rendition, len(ladder))
	copy(renditions, ladder)
	for idx := range renditions {
		base := sanitizeName(renditions[idx].Name)
		if base == "" {
			base = fmt.Sprintf("variant-%d", idx)
		}
		count := used[base]
		name := base
		if count > 0 {
			name = fmt.Sprintf("%s-%d", base, count)
		}
		used[base] = count + 1
		renditions[idx].Name = name
		if err := os.MkdirAll(filepath.Join(absDir, name), 0o755); err != nil {
			return nil, err
		}

		stream := strconv.Itoa(idx)
		args = append(args, "-map", "0:v:0", "-map", "0:a:0?")
		if renditions[idx].Height > 0 {
			args = append(args, "-filter:v:"+stream, fmt.Sprintf("scale=-2:%d", renditions[idx].Height))
		}
		args = append(args, "-c:v:"+stream, "libx264", "-preset", "veryfast")
		if renditions[idx].Bitrate > 0 {
			args = append(args, "-b:v:"+stream, fmt.Sprintf("%dk", renditions[idx].Bitrate))
		}
		entry := fmt.Sprintf("v:%d,a:%d name:%s", idx, idx, name)
		varStreamMap = append(varStreamMap, entry)
	}

	args = append(args,
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.ToSlash(filepath.Join(absDir, "%v", "segment_%06d.ts")),
		"-master_pl_name", "master.m3u8",
		"-var_stream_map", strings.Join(varStreamMap, " "),
		"-progress", "pipe:1",
		"-nostats",
		filepath.ToSlash(filepath.Join(absDir, "%v", "index.m3u8")),
	)

	return &transcodePlan{args: args, renditions: renditions, outputDir: absDir}, nil
}

func (s *server) startFFmpeg(jobID string, plan *transcodePlan, durationSecs float64) (*processState, error) {
	if plan == nil {
		return nil, fmt.Errorf("transcode plan is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "ffmpeg", plan.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	cmd.Stderr = newLogWriter(jobID, "stderr")
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	proc := &processState{cmd: cmd, cancel: cancel, done: make(chan struct{})}
	go s.trackProgress(jobID, stdout, durationSecs)
	go func() {
		err := cmd.Wait()
		if err != nil {
			log.Printf("ffmpeg %s exited with error: %v", jobID, err)
		} else {
			log.Printf("ffmpeg %s completed", jobID)
		}
		s.onJobExit(jobID, err)
		cancel()
		close(proc.done)
	}()
	return proc, nil
}

// trackProgress consumes ffmpeg's key=value progress stream on stdout and
// converts out_time_ms into a percentage of the probed input duration.
func (s *server) trackProgress(jobID string, stdout io.Reader, durationSecs float64) {
	if durationSecs <= 0 {
		return
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, ok := strings.CutPrefix(line, "out_time_ms=")
		if !ok {
			continue
		}
		micros, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		elapsed := float64(micros) / 1e6
		progress := int(elapsed / durationSecs * 100)
		if progress > 0 {
			s.setProgress(jobID, progress)
		}
	}
}

type probeInfo struct {
	durationSecs float64
	resolution   string
}

func probeInput(ctx context.Context, input string) (probeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		input,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return probeInfo{}, err
	}

	var payload struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		return probeInfo{}, err
	}

	var info probeInfo
	if payload.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
			info.durationSecs = secs
		}
	}
	if len(payload.Streams) > 0 && payload.Streams[0].Width > 0 {
		info.resolution = fmt.Sprintf("%dx%d", payload.Streams[0].Width, payload.Streams[0].Height)
	}
	return info, nil
}

// collectArtifacts walks the output directory after a successful encode and
// assembles the artifact manifest the primary stores on the video record.
// Paths are relative to outputDir with forward slashes.
func collectArtifacts(outputDir string) (models.ProcessedFiles, int64, error) {
	var files models.ProcessedFiles
	var size int64
	renditions := make(map[string]*models.Rendition)

	err := filepath.WalkDir(outputDir, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()

		rel, err := filepath.Rel(outputDir, current)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case rel == "master.m3u8":
			files.MasterManifest = rel
		case strings.HasSuffix(rel, ".m3u8"):
			name := filepath.ToSlash(filepath.Dir(rel))
			renditions[name] = &models.Rendition{Name: name, ManifestPath: rel}
		case strings.HasSuffix(rel, ".ts"):
			files.Segments = append(files.Segments, rel)
		case strings.HasSuffix(rel, ".jpg") || strings.HasSuffix(rel, ".png"):
			files.Thumbnails = append(files.Thumbnails, rel)
		}
		return nil
	})
	if err != nil {
		return models.ProcessedFiles{}, 0, err
	}
	if files.MasterManifest == "" {
		return models.ProcessedFiles{}, 0, fmt.Errorf("master manifest missing from %s", outputDir)
	}
	for _, r := range renditions {
		files.Renditions = append(files.Renditions, *r)
	}
	return files, size, nil
}

type logWriter struct {
	prefix string
}

func newLogWriter(jobID, stream string) *logWriter {
	return &logWriter{prefix: fmt.Sprintf("[%s][%s] ", jobID, stream)}
}

func (w *logWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		var line []byte
		if idx == -1 {
			line = p
			p = nil
		} else {
			line = p[:idx]
			p = p[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		log.Printf("%s%s", w.prefix, string(line))
	}
	return total, nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "variant"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "variant"
	}
	return b.String()
}

func resolveLadder(raw string) ([]rendition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultLadder, nil
	}
	var ladder []rendition
	if err := json.Unmarshal([]byte(raw), &ladder); err != nil {
		return nil, err
	}
	if len(ladder) == 0 {
		return defaultLadder, nil
	}
	return ladder, nil
}

type metadataStore struct {
	root string
}

func newMetadataStore(root string) (*metadataStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("work root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(absRoot, "jobs"), 0o755); err != nil {
		return nil, err
	}
	return &metadataStore{root: absRoot}, nil
}

func (m *metadataStore) Load() (map[string]*job, error) {
	jobs := make(map[string]*job)
	root := filepath.Join(m.root, "jobs")
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		metaPath := filepath.Join(root, entry.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read job metadata %s: %w", metaPath, err)
		}
		var j job
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("decode job metadata %s: %w", metaPath, err)
		}
		if j.ID == "" {
			j.ID = entry.Name()
		}
		jobs[j.ID] = &j
	}
	return jobs, nil
}

func (m *metadataStore) Save(j *job) error {
	if j == nil {
		return nil
	}
	dir := filepath.Join(m.root, "jobs", j.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(dir, "metadata.json"), j)
}

func writeJSONFile(path string, payload any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "meta-*.tmp")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("%s %s -> %d (%s)", r.Method, r.URL.Path, lrw.status, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func newID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, rand.Int63())
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
