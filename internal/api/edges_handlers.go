package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"edgeriver/internal/models"
	"edgeriver/internal/storage"
)

type edgeServerResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Host         string  `json:"host"`
	Port         int     `json:"port"`
	Protocol     string  `json:"protocol"`
	Status       string  `json:"status"`
	VideosSynced uint64  `json:"videosSynced"`
	SyncErrors   uint64  `json:"syncErrors"`
	LastSyncTime *string `json:"lastSyncTime,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

type registeredEdgeServerResponse struct {
	edgeServerResponse
	// APIKey is returned exactly once, at registration time.
	APIKey string `json:"apiKey"`
}

func newEdgeServerResponse(server models.EdgeServer) edgeServerResponse {
	resp := edgeServerResponse{
		ID:           server.ID,
		Name:         server.Name,
		Host:         server.Host,
		Port:         server.Port,
		Protocol:     server.Protocol,
		Status:       string(server.Status),
		VideosSynced: server.Stats.VideosSynced,
		SyncErrors:   server.Stats.SyncErrors,
		CreatedAt:    server.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    server.UpdatedAt.Format(time.RFC3339Nano),
	}
	if server.Stats.LastSyncTime != nil {
		last := server.Stats.LastSyncTime.Format(time.RFC3339Nano)
		resp.LastSyncTime = &last
	}
	return resp
}

type registerEdgeServerRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// EdgeServers serves the admin registry collection routes.
func (h *Handler) EdgeServers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		servers := h.Store.ListEdgeServers()
		response := make([]edgeServerResponse, 0, len(servers))
		for _, server := range servers {
			response = append(response, newEdgeServerResponse(server))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		var req registerEdgeServerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		server, apiKey, err := h.Store.RegisterEdgeServer(storage.RegisterEdgeServerParams{
			Name:     req.Name,
			Host:     req.Host,
			Port:     req.Port,
			Protocol: req.Protocol,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger().Info("edge server registered", "server_id", server.ID, "server", server.Name)
		writeJSON(w, http.StatusCreated, registeredEdgeServerResponse{
			edgeServerResponse: newEdgeServerResponse(server),
			APIKey:             apiKey,
		})
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

type updateEdgeServerRequest struct {
	Name     *string `json:"name"`
	Host     *string `json:"host"`
	Port     *int    `json:"port"`
	Protocol *string `json:"protocol"`
	Status   *string `json:"status"`
}

// EdgeServerByID serves the admin registry item routes.
func (h *Handler) EdgeServerByID(w http.ResponseWriter, r *http.Request) {
	serverID, rest := trailingID(r.URL.Path, "/api/edges/")
	if serverID == "" || rest != "" {
		WriteError(w, http.StatusNotFound, fmt.Errorf("edge server id missing"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		server, ok := h.Store.GetEdgeServer(serverID)
		if !ok {
			WriteError(w, http.StatusNotFound, fmt.Errorf("edge server %s not found", serverID))
			return
		}
		writeJSON(w, http.StatusOK, newEdgeServerResponse(server))
	case http.MethodPatch:
		var req updateEdgeServerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.EdgeServerUpdate{
			Name:     req.Name,
			Host:     req.Host,
			Port:     req.Port,
			Protocol: req.Protocol,
		}
		if req.Status != nil {
			status := models.EdgeServerStatus(strings.TrimSpace(*req.Status))
			switch status {
			case models.EdgeServerActive, models.EdgeServerInactive, models.EdgeServerError:
			default:
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", *req.Status))
				return
			}
			update.Status = &status
		}
		server, err := h.Store.UpdateEdgeServer(serverID, update)
		if err != nil {
			if errors.Is(err, storage.ErrEdgeServerNotFound) {
				WriteError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, newEdgeServerResponse(server))
	case http.MethodDelete:
		if err := h.Store.DeleteEdgeServer(serverID); err != nil {
			if errors.Is(err, storage.ErrEdgeServerNotFound) {
				WriteError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger().Info("edge server deleted", "server_id", serverID)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}
