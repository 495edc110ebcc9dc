package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"edgeriver/internal/cache"
	"edgeriver/internal/notify"
	"edgeriver/internal/queue"
	"edgeriver/internal/storage"
)

// Handler hosts the HTTP endpoints for both node roles. The primary wires
// every field; an edge node runs without Queue and Notifier and only mounts
// the replication and playback routes.
type Handler struct {
	Store     storage.Repository
	Queue     *queue.ProcessQueue
	Cache     *cache.VideoCache
	Notifier  notify.Notifier
	MediaRoot string
	UploadDir string
	Logger    *slog.Logger

	// VerifyAPIKey authenticates replication calls. The primary resolves
	// the key against the edge registry; an edge node compares against its
	// configured pre-shared key.
	VerifyAPIKey func(key string) bool
}

func NewHandler(store storage.Repository) *Handler {
	return &Handler{Store: store, Logger: slog.Default()}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteJSON is an exported helper for returning JSON API responses.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

// trailingID extracts the path segment following the given prefix, along with
// any remaining sub-path.
func trailingID(path, prefix string) (id, rest string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return "", ""
	}
	id, rest, _ = strings.Cut(trimmed, "/")
	return strings.TrimSpace(id), rest
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Health reports liveness of the datastore behind /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}

	overall, statusCode := "ok", http.StatusOK
	components := make([]componentStatus, 0, 1)
	if h.Store != nil {
		component := componentStatus{Component: "datastore", Status: "ok"}
		if err := h.Store.Ping(r.Context()); err != nil {
			component.Status = "degraded"
			component.Error = err.Error()
			overall = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		components = append(components, component)
	}

	writeJSON(w, statusCode, map[string]any{
		"status":     overall,
		"components": components,
	})
}
