package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"edgeriver/internal/models"
)

// Watch serves processed artifacts and the original source file:
// GET /watch/{videoId}/{path...}. Existence and readiness come from the
// metadata cache so segment fetches do not hit the record store; content is
// streamed straight from disk with byte-range support.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, "GET, HEAD")
		return
	}

	videoID, rest := trailingID(r.URL.Path, "/watch/")
	if videoID == "" {
		WriteError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}

	video, found, err := h.Cache.Get(r.Context(), videoID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		WriteError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}

	if rest == "original" {
		h.serveOriginal(w, r, video)
		return
	}

	if video.Status != models.VideoStatusReady {
		WriteError(w, http.StatusConflict, fmt.Errorf("video %s is not ready (status %s)", videoID, video.Status))
		return
	}
	if rest == "" {
		rest = video.ProcessedFiles.MasterManifest
	}
	cleaned, err := sanitizeArtifactPath(rest)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	outputDir := video.OutputDir
	if outputDir == "" && h.MediaRoot != "" {
		outputDir = filepath.Join(h.MediaRoot, videoID)
	}
	h.serveFile(w, r, filepath.Join(outputDir, filepath.FromSlash(cleaned)), cleaned)
}

func (h *Handler) serveOriginal(w http.ResponseWriter, r *http.Request, video models.Video) {
	if video.InputPath == "" {
		WriteError(w, http.StatusNotFound, fmt.Errorf("no source file for video %s", video.ID))
		return
	}
	h.serveFile(w, r, video.InputPath, video.InputPath)
}

// serveFile streams a file with the content type derived from its extension.
// http.ServeContent handles Range requests and conditional gets.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, fullPath, displayName string) {
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			WriteError(w, http.StatusNotFound, fmt.Errorf("file not found"))
			return
		}
		WriteError(w, http.StatusInternalServerError, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		WriteError(w, http.StatusNotFound, fmt.Errorf("file not found"))
		return
	}

	if contentType := contentTypeForExtension(filepath.Ext(displayName)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	http.ServeContent(w, r, filepath.Base(displayName), info.ModTime(), file)
}

func contentTypeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}
