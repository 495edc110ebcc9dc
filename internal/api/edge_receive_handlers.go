package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"edgeriver/internal/models"
	"edgeriver/internal/storage"
)

type edgeMetadataRequest struct {
	VideoID   string       `json:"videoId"`
	VideoData models.Video `json:"videoData"`
}

type edgeResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// EdgeVideoMetadata receives a replicated video record from the primary.
// Pushing a record that already exists is a no-op success so retried syncs
// stay safe.
func (h *Handler) EdgeVideoMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req edgeMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	videoID := strings.TrimSpace(req.VideoID)
	if videoID == "" {
		videoID = strings.TrimSpace(req.VideoData.ID)
	}
	if videoID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("videoId is required"))
		return
	}

	if _, exists := h.Store.GetVideo(videoID); exists {
		writeJSON(w, http.StatusOK, edgeResult{Success: true, Message: "video already registered"})
		return
	}

	outputDir := ""
	if h.MediaRoot != "" {
		outputDir = filepath.Join(h.MediaRoot, videoID)
	}
	if _, err := h.Store.CreateVideo(storage.CreateVideoParams{
		ID:        videoID,
		Title:     req.VideoData.Title,
		InputPath: req.VideoData.InputPath,
		OutputDir: outputDir,
	}); err != nil {
		if errors.Is(err, storage.ErrVideoExists) {
			writeJSON(w, http.StatusOK, edgeResult{Success: true, Message: "video already registered"})
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.VideoData.Status == models.VideoStatusReady {
		if _, err := h.Store.MarkVideoReady(videoID, storage.ProcessingResult{
			DurationSecs: req.VideoData.DurationSecs,
			Resolution:   req.VideoData.Resolution,
			SizeBytes:    req.VideoData.SizeBytes,
			Files:        req.VideoData.ProcessedFiles,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if h.Cache != nil {
		h.Cache.Invalidate(videoID)
	}

	h.logger().Info("video metadata replicated", "video_id", videoID)
	writeJSON(w, http.StatusCreated, edgeResult{Success: true, Message: "video registered"})
}

type edgeFilesResult struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// EdgeVideoFiles receives artifact files from the primary as multipart form
// data. Destination paths derive from the video ID and the declared relative
// path, so a retried push overwrites the same files.
func (h *Handler) EdgeVideoFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload: %w", err))
		return
	}
	videoID := strings.TrimSpace(r.FormValue("videoId"))
	if videoID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("videoId is required"))
		return
	}
	if strings.ContainsAny(videoID, `/\`) || videoID == ".." {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid videoId"))
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}
	declaredPath := strings.TrimSpace(r.FormValue("path"))

	count := 0
	for _, header := range files {
		relPath := declaredPath
		if relPath == "" || len(files) > 1 {
			relPath = header.Filename
		}
		cleaned, err := sanitizeArtifactPath(relPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.storeArtifact(videoID, cleaned, header); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		count++
	}

	if h.Cache != nil {
		h.Cache.Invalidate(videoID)
	}
	h.logger().Info("artifact files replicated", "video_id", videoID, "files", count)
	writeJSON(w, http.StatusOK, edgeFilesResult{Success: true, Count: count})
}

func (h *Handler) storeArtifact(videoID, relPath string, header *multipart.FileHeader) error {
	src, err := header.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	destination := filepath.Join(h.MediaRoot, videoID, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("prepare artifact directory: %w", err)
	}
	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(destination)
		return fmt.Errorf("store artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destination)
		return fmt.Errorf("store artifact: %w", err)
	}
	return nil
}

func sanitizeArtifactPath(relPath string) (string, error) {
	cleaned := strings.TrimSpace(relPath)
	cleaned = strings.ReplaceAll(cleaned, `\`, "/")
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("invalid artifact path %q", relPath)
		}
	}
	return cleaned, nil
}

// EdgeHealthProbe answers the authenticated liveness probe.
func (h *Handler) EdgeHealthProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
