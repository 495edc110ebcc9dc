package api

import (
	"fmt"
	"net/http"
)

// QueueStatus reports the pending list, in-flight set, and concurrency limit.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if h.Queue == nil {
		WriteError(w, http.StatusServiceUnavailable, fmt.Errorf("queue is not available on this node"))
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.Status())
}

// QueuePending serves DELETE /api/queue/pending (drop every pending job) and
// DELETE /api/queue/pending/{videoId} (cancel one pending job). In-flight
// jobs are never interrupted.
func (h *Handler) QueuePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, "DELETE")
		return
	}
	if h.Queue == nil {
		WriteError(w, http.StatusServiceUnavailable, fmt.Errorf("queue is not available on this node"))
		return
	}

	videoID, rest := trailingID(r.URL.Path, "/api/queue/pending")
	if rest != "" {
		WriteError(w, http.StatusNotFound, fmt.Errorf("unknown queue resource"))
		return
	}
	if videoID == "" {
		removed := h.Queue.Clear()
		h.logger().Info("cleared pending jobs", "removed", removed)
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
		return
	}

	if !h.Queue.Cancel(videoID) {
		WriteError(w, http.StatusNotFound, fmt.Errorf("no pending job for video %s", videoID))
		return
	}
	h.logger().Info("cancelled pending job", "video_id", videoID)
	w.WriteHeader(http.StatusNoContent)
}
