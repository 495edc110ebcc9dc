package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"edgeriver/internal/models"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Config wires the HTTP transcoder client to its backing service.
type Config struct {
	BaseURL      string
	Token        string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// HTTPTranscoder submits jobs to an external transcoding service over REST
// and polls until the job reaches a terminal state.
type HTTPTranscoder struct {
	config Config
}

func NewHTTPTranscoder(cfg Config) (*HTTPTranscoder, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("transcoder base URL required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &HTTPTranscoder{config: cfg}, nil
}

type transcodeJobRequest struct {
	VideoID   string `json:"videoId"`
	InputPath string `json:"inputPath"`
	OutputDir string `json:"outputDir"`
}

type transcodeJobResponse struct {
	JobID string `json:"jobId"`
}

type transcodeStatusResponse struct {
	Status       string                `json:"status"`
	Progress     int                   `json:"progress"`
	Error        string                `json:"error"`
	DurationSecs float64               `json:"durationSeconds"`
	Resolution   string                `json:"resolution"`
	SizeBytes    int64                 `json:"sizeBytes"`
	Files        models.ProcessedFiles `json:"files"`
}

func (t *HTTPTranscoder) Process(ctx context.Context, params ProcessParams) (Result, error) {
	if params.VideoID == "" || params.InputPath == "" {
		return Result{}, fmt.Errorf("videoID and inputPath are required")
	}

	client := t.config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	payload := transcodeJobRequest{VideoID: params.VideoID, InputPath: params.InputPath, OutputDir: params.OutputDir}
	var created transcodeJobResponse
	if err := t.post(ctx, client, fmt.Sprintf("%s/v1/jobs", strings.TrimRight(t.config.BaseURL, "/")), payload, &created); err != nil {
		return Result{}, fmt.Errorf("submit transcode job for %s: %w", params.VideoID, err)
	}
	if created.JobID == "" {
		return Result{}, fmt.Errorf("transcoder returned no job id for %s", params.VideoID)
	}

	statusURL := fmt.Sprintf("%s/v1/jobs/%s", strings.TrimRight(t.config.BaseURL, "/"), created.JobID)
	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		var status transcodeStatusResponse
		if err := t.get(ctx, client, statusURL, &status); err != nil {
			return Result{}, fmt.Errorf("poll transcode job %s: %w", created.JobID, err)
		}

		if params.OnProgress != nil && status.Progress != lastProgress {
			lastProgress = status.Progress
			params.OnProgress(status.Progress)
		}

		switch status.Status {
		case "complete":
			return Result{
				DurationSecs: status.DurationSecs,
				Resolution:   status.Resolution,
				SizeBytes:    status.SizeBytes,
				Files:        status.Files,
			}, nil
		case "failed":
			message := status.Error
			if message == "" {
				message = "transcode failed"
			}
			return Result{}, fmt.Errorf("transcode job %s: %s", created.JobID, message)
		case "queued", "running", "":
			// keep polling
		default:
			return Result{}, fmt.Errorf("transcode job %s: unknown status %q", created.JobID, status.Status)
		}
	}
}

func (t *HTTPTranscoder) post(ctx context.Context, client *http.Client, url string, payload interface{}, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)
	return t.do(client, req, dest)
}

func (t *HTTPTranscoder) get(ctx context.Context, client *http.Client, url string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	t.authorize(req)
	return t.do(client, req, dest)
}

func (t *HTTPTranscoder) authorize(req *http.Request) {
	if t.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.Token)
	}
}

func (t *HTTPTranscoder) do(client *http.Client, req *http.Request, dest interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
