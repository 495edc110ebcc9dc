package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"edgeriver/internal/models"
	"edgeriver/internal/notify"
	"edgeriver/internal/storage"
	"edgeriver/internal/transcode"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTranscoder struct {
	mu      sync.Mutex
	block   bool
	release chan struct{}
	started chan string
	errs    map[string]error
	result  transcode.Result
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{
		release: make(chan struct{}),
		started: make(chan string, 16),
		errs:    make(map[string]error),
		result: transcode.Result{
			DurationSecs: 30,
			Resolution:   "1280x720",
			SizeBytes:    4096,
			Files:        models.ProcessedFiles{MasterManifest: "master.m3u8"},
		},
	}
}

func (f *fakeTranscoder) failWith(videoID string, err error) {
	f.mu.Lock()
	f.errs[videoID] = err
	f.mu.Unlock()
}

func (f *fakeTranscoder) Process(ctx context.Context, params transcode.ProcessParams) (transcode.Result, error) {
	f.started <- params.VideoID
	if f.block {
		select {
		case <-f.release:
		case <-ctx.Done():
			return transcode.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.errs[params.VideoID]
	result := f.result
	f.mu.Unlock()
	if err != nil {
		return transcode.Result{}, err
	}
	if params.OnProgress != nil {
		params.OnProgress(50)
		params.OnProgress(100)
	}
	return result, nil
}

func newQueueStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	return store
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func shutdownQueue(t *testing.T, q *ProcessQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestProcessQueueRunsJobToReady(t *testing.T) {
	store := newQueueStore(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{Title: "clip", InputPath: "/in/clip.mp4", OutputDir: "/out/clip"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	hub := notify.NewMemoryHub(16)
	sub := hub.Subscribe()
	defer sub.Close()

	var readyMu sync.Mutex
	var readyIDs []string
	q := New(Config{
		Store:      store,
		Transcoder: newFakeTranscoder(),
		Notifier:   hub,
		Logger:     discardLogger(),
		OnReady: func(videoID, outputDir string) {
			readyMu.Lock()
			readyIDs = append(readyIDs, videoID)
			readyMu.Unlock()
		},
	})
	q.Start()
	defer shutdownQueue(t, q)

	if err := q.Enqueue(video.ID, video.InputPath); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		current, ok := store.GetVideo(video.ID)
		return ok && current.Status == models.VideoStatusReady
	}, "video never became ready")

	current, _ := store.GetVideo(video.ID)
	if current.Progress != 100 || current.CompletedAt == nil {
		t.Fatalf("unexpected ready record: %+v", current)
	}
	if current.ProcessedFiles.MasterManifest != "master.m3u8" {
		t.Fatalf("expected processed files, got %+v", current.ProcessedFiles)
	}

	sawComplete := false
	deadline := time.After(2 * time.Second)
	for !sawComplete {
		select {
		case event := <-sub.Events():
			if event.Type == notify.EventProcessingComplete && event.VideoID == video.ID {
				sawComplete = true
			}
		case <-deadline:
			t.Fatal("never observed completion event")
		}
	}

	waitFor(t, time.Second, func() bool {
		readyMu.Lock()
		defer readyMu.Unlock()
		return len(readyIDs) == 1 && readyIDs[0] == video.ID
	}, "ready hook never fired")
}

func TestProcessQueueRejectsDuplicateEnqueue(t *testing.T) {
	store := newQueueStore(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{Title: "dup", InputPath: "/in/dup.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	transcoder := newFakeTranscoder()
	transcoder.block = true
	q := New(Config{Store: store, Transcoder: transcoder, Logger: discardLogger()})
	q.Start()
	defer func() {
		close(transcoder.release)
		shutdownQueue(t, q)
	}()

	if err := q.Enqueue(video.ID, video.InputPath); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(video.ID, video.InputPath); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	// Still a duplicate once the job moves from pending to in-flight.
	select {
	case <-transcoder.started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}
	if err := q.Enqueue(video.ID, video.InputPath); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob for in-flight job, got %v", err)
	}
}

func TestProcessQueueBoundsConcurrency(t *testing.T) {
	store := newQueueStore(t)
	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		video, err := store.CreateVideo(storage.CreateVideoParams{Title: title, InputPath: "/in/" + title + ".mp4"})
		if err != nil {
			t.Fatalf("CreateVideo: %v", err)
		}
		ids = append(ids, video.ID)
	}

	transcoder := newFakeTranscoder()
	transcoder.block = true
	q := New(Config{Store: store, Transcoder: transcoder, Concurrency: 1, Logger: discardLogger()})
	q.Start()
	defer func() {
		close(transcoder.release)
		shutdownQueue(t, q)
	}()

	for _, id := range ids {
		if err := q.Enqueue(id, ""); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}

	select {
	case first := <-transcoder.started:
		if first != ids[0] {
			t.Fatalf("expected FIFO start with %s, got %s", ids[0], first)
		}
	case <-time.After(time.Second):
		t.Fatal("first job never started")
	}

	status := q.Status()
	if status.Active != 1 {
		t.Fatalf("expected 1 active job, got %d", status.Active)
	}
	if status.Pending != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", status.Pending)
	}
	if status.Limit != 1 {
		t.Fatalf("expected limit 1, got %d", status.Limit)
	}

	select {
	case unexpected := <-transcoder.started:
		t.Fatalf("second job %s started beyond the limit", unexpected)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessQueueCancelRemovesPendingOnly(t *testing.T) {
	store := newQueueStore(t)
	running, err := store.CreateVideo(storage.CreateVideoParams{Title: "running", InputPath: "/in/r.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	waiting, err := store.CreateVideo(storage.CreateVideoParams{Title: "waiting", InputPath: "/in/w.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	transcoder := newFakeTranscoder()
	transcoder.block = true
	q := New(Config{Store: store, Transcoder: transcoder, Concurrency: 1, Logger: discardLogger()})
	q.Start()
	defer func() {
		close(transcoder.release)
		shutdownQueue(t, q)
	}()

	if err := q.Enqueue(running.ID, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(waiting.ID, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-transcoder.started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	if q.Cancel(running.ID) {
		t.Fatal("cancel must not remove an in-flight job")
	}
	if !q.Cancel(waiting.ID) {
		t.Fatal("expected pending job to be cancelled")
	}
	if q.Cancel(waiting.ID) {
		t.Fatal("second cancel should report nothing removed")
	}
	if status := q.Status(); status.Pending != 0 || status.Active != 1 {
		t.Fatalf("unexpected status after cancel: %+v", status)
	}
}

func TestProcessQueueClearDropsAllPending(t *testing.T) {
	store := newQueueStore(t)
	transcoder := newFakeTranscoder()
	transcoder.block = true
	q := New(Config{Store: store, Transcoder: transcoder, Concurrency: 1, Logger: discardLogger()})
	q.Start()
	defer func() {
		close(transcoder.release)
		shutdownQueue(t, q)
	}()

	var ids []string
	for _, title := range []string{"one", "two", "three"} {
		video, err := store.CreateVideo(storage.CreateVideoParams{Title: title, InputPath: "/in/" + title + ".mp4"})
		if err != nil {
			t.Fatalf("CreateVideo: %v", err)
		}
		ids = append(ids, video.ID)
		if err := q.Enqueue(video.ID, ""); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	select {
	case <-transcoder.started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	if dropped := q.Clear(); dropped != 2 {
		t.Fatalf("expected 2 dropped jobs, got %d", dropped)
	}
	if status := q.Status(); status.Pending != 0 {
		t.Fatalf("expected empty pending list, got %d", status.Pending)
	}

	// Cleared videos can be enqueued again.
	if err := q.Enqueue(ids[1], ""); err != nil {
		t.Fatalf("re-enqueue after clear: %v", err)
	}
}

func TestProcessQueueMarksErrorOnFailure(t *testing.T) {
	store := newQueueStore(t)
	video, err := store.CreateVideo(storage.CreateVideoParams{Title: "broken", InputPath: "/in/broken.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}

	hub := notify.NewMemoryHub(16)
	sub := hub.Subscribe()
	defer sub.Close()

	transcoder := newFakeTranscoder()
	transcoder.failWith(video.ID, errors.New("codec not supported"))
	q := New(Config{Store: store, Transcoder: transcoder, Notifier: hub, Logger: discardLogger()})
	q.Start()
	defer shutdownQueue(t, q)

	if err := q.Enqueue(video.ID, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		current, ok := store.GetVideo(video.ID)
		return ok && current.Status == models.VideoStatusError
	}, "video never errored")

	current, _ := store.GetVideo(video.ID)
	if current.Error != "codec not supported" {
		t.Fatalf("unexpected error message %q", current.Error)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			if event.Type == notify.EventProcessingError && event.VideoID == video.ID {
				if event.Error != "codec not supported" {
					t.Fatalf("unexpected event error %q", event.Error)
				}
				return
			}
		case <-deadline:
			t.Fatal("never observed error event")
		}
	}
}

func TestProcessQueueRecoversInterruptedVideos(t *testing.T) {
	store := newQueueStore(t)
	stuck, err := store.CreateVideo(storage.CreateVideoParams{Title: "stuck", InputPath: "/in/stuck.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	if _, err := store.MarkVideoProcessing(stuck.ID); err != nil {
		t.Fatalf("MarkVideoProcessing: %v", err)
	}
	done, err := store.CreateVideo(storage.CreateVideoParams{Title: "done", InputPath: "/in/done.mp4"})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	if _, err := store.MarkVideoProcessing(done.ID); err != nil {
		t.Fatalf("MarkVideoProcessing: %v", err)
	}
	if _, err := store.MarkVideoReady(done.ID, storage.ProcessingResult{}); err != nil {
		t.Fatalf("MarkVideoReady: %v", err)
	}

	transcoder := newFakeTranscoder()
	q := New(Config{Store: store, Transcoder: transcoder, Logger: discardLogger()})
	q.Start()
	defer shutdownQueue(t, q)

	waitFor(t, 2*time.Second, func() bool {
		current, ok := store.GetVideo(stuck.ID)
		return ok && current.Status == models.VideoStatusReady
	}, "interrupted video never recovered")

	select {
	case started := <-transcoder.started:
		if started != stuck.ID {
			t.Fatalf("unexpected recovered job %s", started)
		}
	default:
		t.Fatal("expected recovery to start the stuck job")
	}
	select {
	case started := <-transcoder.started:
		t.Fatalf("ready video %s should not be re-processed", started)
	case <-time.After(50 * time.Millisecond):
	}
}
