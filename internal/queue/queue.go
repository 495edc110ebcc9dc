// Package queue runs transcode jobs with bounded concurrency and a FIFO
// pending list that supports cancellation.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"edgeriver/internal/models"
	"edgeriver/internal/notify"
	"edgeriver/internal/storage"
	"edgeriver/internal/transcode"
)

var (
	// ErrDuplicateJob indicates the video already has a pending or running
	// job.
	ErrDuplicateJob = errors.New("video already queued")
	// ErrQueueClosed indicates the queue no longer accepts jobs.
	ErrQueueClosed = errors.New("queue is shutting down")
)

const (
	defaultConcurrency = 2
	defaultJobTimeout  = 30 * time.Minute
)

// MetricsRecorder receives queue lifecycle counters. Implementations must
// not block.
type MetricsRecorder interface {
	QueueEvent(event string)
	QueueDepth(pending, active int)
}

// Config wires the process queue to its collaborators. OnReady runs after a
// job completes successfully, outside the job's store transaction; the queue
// does not wait for it.
type Config struct {
	Store       storage.Repository
	Transcoder  transcode.Transcoder
	Notifier    notify.Notifier
	Concurrency int
	JobTimeout  time.Duration
	Logger      *slog.Logger
	Metrics     MetricsRecorder
	OnReady     func(videoID, outputDir string)
}

type job struct {
	videoID   string
	inputPath string
}

// ProcessQueue admits pending transcode jobs up to a fixed concurrency
// limit. Pending jobs leave in FIFO order; running jobs always finish.
type ProcessQueue struct {
	store      storage.Repository
	transcoder transcode.Transcoder
	notifier   notify.Notifier
	limit      int
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    MetricsRecorder
	onReady    func(videoID, outputDir string)

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []job
	queued   map[string]struct{}
	inFlight map[string]struct{}
	started  bool
	closed   bool
}

func New(cfg Config) *ProcessQueue {
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessQueue{
		store:      cfg.Store,
		transcoder: cfg.Transcoder,
		notifier:   cfg.Notifier,
		limit:      limit,
		jobTimeout: timeout,
		logger:     logger,
		metrics:    cfg.Metrics,
		onReady:    cfg.OnReady,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		queued:     make(map[string]struct{}),
		inFlight:   make(map[string]struct{}),
	}
}

// Start launches the admission loop and re-enqueues records that were left
// mid-processing by a previous run.
func (q *ProcessQueue) Start() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(1)
	go q.admissionLoop()

	go q.recoverInterrupted()
}

// Shutdown stops admission and waits for running jobs, bounded by ctx. On
// deadline the remaining jobs are cancelled.
func (q *ProcessQueue) Shutdown(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.queued = make(map[string]struct{})
	q.mu.Unlock()
	q.signal()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// Enqueue appends a job for the video. A video with a job already pending or
// running is rejected.
func (q *ProcessQueue) Enqueue(videoID, inputPath string) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return errors.New("videoID is required")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if _, exists := q.queued[videoID]; exists {
		q.mu.Unlock()
		return ErrDuplicateJob
	}
	if _, exists := q.inFlight[videoID]; exists {
		q.mu.Unlock()
		return ErrDuplicateJob
	}
	q.pending = append(q.pending, job{videoID: videoID, inputPath: inputPath})
	q.queued[videoID] = struct{}{}
	q.mu.Unlock()

	q.recordEvent("enqueued")
	q.recordDepth()
	q.signal()
	return nil
}

// Cancel removes a pending job. A job already running is unaffected.
func (q *ProcessQueue) Cancel(videoID string) bool {
	q.mu.Lock()
	removed := false
	for i, pending := range q.pending {
		if pending.videoID == videoID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			delete(q.queued, videoID)
			removed = true
			break
		}
	}
	q.mu.Unlock()

	if removed {
		q.recordEvent("cancelled")
		q.recordDepth()
	}
	return removed
}

// Clear drops every pending job and reports how many were removed.
func (q *ProcessQueue) Clear() int {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.queued = make(map[string]struct{})
	q.mu.Unlock()

	for i := 0; i < dropped; i++ {
		q.recordEvent("cancelled")
	}
	q.recordDepth()
	return dropped
}

// Status reports a consistent snapshot of queue occupancy.
type Status struct {
	Pending  int      `json:"pending"`
	Active   int      `json:"active"`
	InFlight []string `json:"inFlight"`
	Limit    int      `json:"limit"`
}

func (q *ProcessQueue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	inFlight := make([]string, 0, len(q.inFlight))
	for id := range q.inFlight {
		inFlight = append(inFlight, id)
	}
	sort.Strings(inFlight)
	return Status{
		Pending:  len(q.pending),
		Active:   len(q.inFlight),
		InFlight: inFlight,
		Limit:    q.limit,
	}
}

func (q *ProcessQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *ProcessQueue) admissionLoop() {
	defer q.wg.Done()
	for {
		q.admit()

		q.mu.Lock()
		idle := q.closed && len(q.pending) == 0 && len(q.inFlight) == 0
		q.mu.Unlock()
		if idle {
			return
		}

		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}
	}
}

func (q *ProcessQueue) admit() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || len(q.inFlight) >= q.limit {
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		delete(q.queued, next.videoID)
		q.inFlight[next.videoID] = struct{}{}
		q.mu.Unlock()

		q.recordEvent("started")
		q.recordDepth()
		q.wg.Add(1)
		go q.runJob(next)
	}
}

func (q *ProcessQueue) runJob(item job) {
	defer func() {
		q.mu.Lock()
		delete(q.inFlight, item.videoID)
		q.mu.Unlock()
		q.recordDepth()
		q.signal()
		q.wg.Done()
	}()

	q.processVideo(item)
}

// processVideo drives one job through its lifecycle. Failures are recorded
// on the video and never propagate.
func (q *ProcessQueue) processVideo(item job) {
	video, ok := q.store.GetVideo(item.videoID)
	if !ok {
		q.logger.Warn("queued video no longer exists", "video_id", item.videoID)
		return
	}
	if video.Status == models.VideoStatusReady {
		return
	}

	if _, err := q.store.MarkVideoProcessing(item.videoID); err != nil {
		q.logger.Error("failed to mark video processing", "video_id", item.videoID, "error", err)
		return
	}

	inputPath := strings.TrimSpace(item.inputPath)
	if inputPath == "" {
		inputPath = strings.TrimSpace(video.InputPath)
	}
	if inputPath == "" {
		q.failVideo(item.videoID, errors.New("input path is required"))
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.jobTimeout)
	defer cancel()

	result, err := q.transcoder.Process(ctx, transcode.ProcessParams{
		VideoID:   item.videoID,
		InputPath: inputPath,
		OutputDir: video.OutputDir,
		OnProgress: func(percent int) {
			q.relayProgress(item.videoID, percent)
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = ctxErr
			}
		}
		q.failVideo(item.videoID, err)
		return
	}

	ready, err := q.store.MarkVideoReady(item.videoID, storage.ProcessingResult{
		DurationSecs: result.DurationSecs,
		Resolution:   result.Resolution,
		SizeBytes:    result.SizeBytes,
		Files:        result.Files,
	})
	if err != nil {
		q.logger.Error("failed to mark video ready", "video_id", item.videoID, "error", err)
		return
	}

	q.recordEvent("completed")
	q.publish(notify.CompleteEvent(item.videoID))
	q.logger.Info("video processed", "video_id", item.videoID, "resolution", ready.Resolution, "duration_seconds", ready.DurationSecs)

	if q.onReady != nil {
		go q.onReady(ready.ID, ready.OutputDir)
	}
}

func (q *ProcessQueue) relayProgress(videoID string, percent int) {
	progress := percent
	if _, err := q.store.UpdateVideo(videoID, storage.VideoUpdate{Progress: &progress}); err != nil {
		q.logger.Warn("failed to record progress", "video_id", videoID, "error", err)
	}
	q.publish(notify.ProgressEvent(videoID, percent))
}

func (q *ProcessQueue) failVideo(videoID string, cause error) {
	message := strings.TrimSpace(cause.Error())
	if _, err := q.store.MarkVideoError(videoID, message); err != nil {
		q.logger.Error("failed to mark video errored", "video_id", videoID, "error", err, "failure", cause)
	}
	q.recordEvent("failed")
	q.publish(notify.ErrorEvent(videoID, message))
	q.logger.Error("video processing failed", "video_id", videoID, "error", cause)
}

func (q *ProcessQueue) publish(event notify.Event) {
	if q.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.notifier.Publish(ctx, event); err != nil {
		q.logger.Warn("failed to publish event", "type", event.Type, "video_id", event.VideoID, "error", err)
	}
}

// recoverInterrupted re-enqueues records a previous process left mid-flight.
func (q *ProcessQueue) recoverInterrupted() {
	if q.store == nil {
		return
	}
	for _, video := range q.store.ListVideos() {
		select {
		case <-q.ctx.Done():
			return
		default:
		}
		if video.Status != models.VideoStatusProcessing {
			continue
		}
		if err := q.Enqueue(video.ID, video.InputPath); err != nil && !errors.Is(err, ErrDuplicateJob) {
			q.logger.Warn("failed to re-enqueue interrupted video", "video_id", video.ID, "error", err)
		}
	}
}

func (q *ProcessQueue) recordEvent(event string) {
	if q.metrics != nil {
		q.metrics.QueueEvent(event)
	}
}

func (q *ProcessQueue) recordDepth() {
	if q.metrics == nil {
		return
	}
	q.mu.Lock()
	pending := len(q.pending)
	active := len(q.inFlight)
	q.mu.Unlock()
	q.metrics.QueueDepth(pending, active)
}
