package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"edgeriver/internal/models"
	"edgeriver/internal/storage"
)

type videoResponse struct {
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	InputPath      string                `json:"inputPath,omitempty"`
	OutputDir      string                `json:"outputDir,omitempty"`
	Status         string                `json:"status"`
	Progress       int                   `json:"progress"`
	Error          string                `json:"error,omitempty"`
	DurationSecs   float64               `json:"durationSeconds,omitempty"`
	Resolution     string                `json:"resolution,omitempty"`
	SizeBytes      int64                 `json:"sizeBytes,omitempty"`
	ProcessedFiles models.ProcessedFiles `json:"processedFiles"`
	CreatedAt      string                `json:"createdAt"`
	UpdatedAt      string                `json:"updatedAt"`
	CompletedAt    *string               `json:"completedAt,omitempty"`
}

func newVideoResponse(video models.Video) videoResponse {
	resp := videoResponse{
		ID:             video.ID,
		Title:          video.Title,
		InputPath:      video.InputPath,
		OutputDir:      video.OutputDir,
		Status:         string(video.Status),
		Progress:       video.Progress,
		Error:          video.Error,
		DurationSecs:   video.DurationSecs,
		Resolution:     video.Resolution,
		SizeBytes:      video.SizeBytes,
		ProcessedFiles: video.ProcessedFiles,
		CreatedAt:      video.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      video.UpdatedAt.Format(time.RFC3339Nano),
	}
	if video.CompletedAt != nil {
		completed := video.CompletedAt.Format(time.RFC3339Nano)
		resp.CompletedAt = &completed
	}
	return resp
}

type createVideoRequest struct {
	Title     string `json:"title"`
	InputPath string `json:"inputPath"`
}

// Videos serves the collection routes: listing and registration. A JSON body
// registers an already-staged source file; a multipart body uploads the
// source through the acceptance rules. Both enqueue a transcode job.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		videos := h.Store.ListVideos()
		response := make([]videoResponse, 0, len(videos))
		for _, video := range videos {
			response = append(response, newVideoResponse(video))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
		if strings.HasPrefix(contentType, "multipart/form-data") {
			h.createVideoFromMultipart(w, r)
			return
		}
		h.createVideoFromJSON(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) createVideoFromJSON(w http.ResponseWriter, r *http.Request) {
	var req createVideoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	inputPath := strings.TrimSpace(req.InputPath)
	if inputPath == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("inputPath is required"))
		return
	}
	if _, err := os.Stat(inputPath); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("input file not accessible: %w", err))
		return
	}
	h.registerAndEnqueue(w, r, req.Title, inputPath, "")
}

func (h *Handler) createVideoFromMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}
	defer file.Close()

	videoID, err := storage.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	decision := EvaluateUpload(videoID, header.Filename, header.Header.Get("Content-Type"))
	if !decision.Accept {
		writeError(w, http.StatusUnsupportedMediaType, errors.New(decision.Reason))
		return
	}

	destination := filepath.Join(h.UploadDir, filepath.FromSlash(decision.Destination))
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("prepare upload directory: %w", err))
		return
	}
	out, err := os.Create(destination)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(destination)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}
	if err := out.Close(); err != nil {
		os.Remove(destination)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	h.registerAndEnqueue(w, r, title, destination, videoID)
}

func (h *Handler) registerAndEnqueue(w http.ResponseWriter, r *http.Request, title, inputPath, videoID string) {
	title = strings.TrimSpace(title)
	if title == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title is required"))
		return
	}
	if videoID == "" {
		generated, err := storage.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		videoID = generated
	}

	params := storage.CreateVideoParams{
		ID:        videoID,
		Title:     title,
		InputPath: inputPath,
	}
	if h.MediaRoot != "" {
		params.OutputDir = filepath.Join(h.MediaRoot, videoID)
	}
	video, err := h.Store.CreateVideo(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if h.Queue != nil {
		if err := h.Queue.Enqueue(video.ID, video.InputPath); err != nil {
			h.logger().Error("failed to enqueue video", "video_id", video.ID, "error", err)
			writeError(w, http.StatusConflict, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, newVideoResponse(video))
}

type updateVideoRequest struct {
	Title  *string `json:"title"`
	Status *string `json:"status"`
}

// VideoByID serves the item routes: fetch, partial update, and delete.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	videoID, rest := trailingID(r.URL.Path, "/api/videos/")
	if videoID == "" || rest != "" {
		WriteError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		video, ok := h.Store.GetVideo(videoID)
		if !ok {
			WriteError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
			return
		}
		writeJSON(w, http.StatusOK, newVideoResponse(video))
	case http.MethodPatch:
		var req updateVideoRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.VideoUpdate{Title: req.Title}
		if req.Status != nil {
			status := models.VideoStatus(strings.TrimSpace(*req.Status))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", *req.Status))
				return
			}
			update.Status = &status
		}
		video, err := h.Store.UpdateVideo(videoID, update)
		if err != nil {
			if errors.Is(err, storage.ErrVideoNotFound) {
				WriteError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// Invalidate after the write so a reader interleaving with the
		// update cannot re-cache the old record, but before the response
		// so the caller never sees its own write shadowed.
		if h.Cache != nil {
			h.Cache.Invalidate(videoID)
		}
		writeJSON(w, http.StatusOK, newVideoResponse(video))
	case http.MethodDelete:
		if h.Queue != nil {
			if h.Queue.Cancel(videoID) {
				h.logger().Info("cancelled pending job for deleted video", "video_id", videoID)
			}
		}
		if err := h.Store.DeleteVideo(videoID); err != nil {
			if errors.Is(err, storage.ErrVideoNotFound) {
				WriteError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if h.Cache != nil {
			h.Cache.Invalidate(videoID)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}
