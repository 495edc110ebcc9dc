package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"edgeriver/internal/observability/logging"
)

type idGenerator func() string

// requestIDMiddleware tags every request with an ID, reusing one supplied in
// X-Request-Id, and seeds the context with a logger that carries it. An
// X-Video-Id header rides along the same way so handlers and the transcode
// pipeline log against the same video.
func requestIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(logger, newRequestID, next)
}

func requestIDMiddlewareWithGenerator(logger *slog.Logger, generate idGenerator, next http.Handler) http.Handler {
	if generate == nil {
		generate = newRequestID
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = generate()
		}

		ctx := logging.ContextWithRequestID(r.Context(), id)
		if videoID := strings.TrimSpace(r.Header.Get("X-Video-Id")); videoID != "" {
			ctx = logging.ContextWithVideoID(ctx, videoID)
		}
		ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logger))

		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(raw[:])
}

func loggerWithRequestContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if scoped := logging.LoggerFromContext(ctx); scoped != nil {
		return scoped
	}
	return logging.WithContext(ctx, logger)
}
