package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"edgeriver/internal/notify"
)

const wsPingInterval = 30 * time.Second

// NotificationsWebsocket streams processing events to a connected client.
// Each client gets its own subscription; a slow client drops events rather
// than stalling the publisher.
func (h *Handler) NotificationsWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if h.Notifier == nil {
		WriteError(w, http.StatusServiceUnavailable, fmt.Errorf("notifications are not available on this node"))
		return
	}

	conn, err := notify.Accept(w, r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}
	defer conn.Close()

	sub := h.Notifier.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so pings and close frames are handled; any read
	// error means the peer went away.
	go func() {
		defer cancel()
		for {
			if _, err := conn.ReadMessage(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(nil); err != nil {
				return
			}
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger().Error("failed to encode notification", "error", err)
				continue
			}
			if err := conn.WriteText(payload); err != nil {
				return
			}
		}
	}
}
