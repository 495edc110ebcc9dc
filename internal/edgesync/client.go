// Package edgesync replicates processed videos to registered edge servers.
package edgesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"edgeriver/internal/models"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to one edge server's replication endpoints. Every request
// carries the server's API key in the X-Api-Key header.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(server models.EdgeServer, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(server.BaseURL(), "/"),
		apiKey:     server.APIKey,
		httpClient: httpClient,
	}
}

type metadataRequest struct {
	VideoID   string       `json:"videoId"`
	VideoData models.Video `json:"videoData"`
}

// PushMetadata registers the video record on the edge server. The far side
// treats an existing record as success.
func (c *Client) PushMetadata(ctx context.Context, video models.Video) error {
	payload, err := json.Marshal(metadataRequest{VideoID: video.ID, VideoData: video})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/edge/video/metadata", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push metadata: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// PushFile uploads one artifact file as multipart form data. relPath is the
// file's path relative to the video's output directory and is preserved on
// the edge server.
func (c *Client) PushFile(ctx context.Context, videoID, relPath, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact %s: %w", localPath, err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("videoId", videoID); err != nil {
		return fmt.Errorf("write videoId field: %w", err)
	}
	if err := writer.WriteField("path", filepath.ToSlash(relPath)); err != nil {
		return fmt.Errorf("write path field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(relPath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy artifact %s: %w", localPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/edge/video/files", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("push file %s: %s: %s", relPath, resp.Status, strings.TrimSpace(string(data)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Health probes the edge server's replication health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/edge/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("edge health: %s", resp.Status)
	}
	return nil
}
