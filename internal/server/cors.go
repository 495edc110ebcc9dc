package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// CORSConfig declares the origins allowed to reach the API across domains,
// typically the admin console and any player pages hosted elsewhere. When
// the list is empty, only same-origin requests are permitted.
type CORSConfig struct {
	AllowedOrigins []string
}

const (
	corsAllowedMethods  = "GET, POST, PATCH, DELETE, OPTIONS"
	corsFallbackHeaders = "Content-Type, Range"
	corsExposedHeaders  = "Content-Range, Accept-Ranges"
)

type corsPolicy struct {
	allowed map[string]struct{}
}

func newCORSPolicy(cfg CORSConfig) (corsPolicy, error) {
	policy := corsPolicy{allowed: make(map[string]struct{}, len(cfg.AllowedOrigins))}
	for _, raw := range cfg.AllowedOrigins {
		origin, err := canonicalOrigin(raw)
		if err != nil {
			return corsPolicy{}, fmt.Errorf("parse origin %q: %w", raw, err)
		}
		if origin != "" {
			policy.allowed[origin] = struct{}{}
		}
	}
	return policy, nil
}

// canonicalOrigin lowercases scheme://host; an empty input stays empty.
func canonicalOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("origin must include scheme and host")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// allows accepts configured origins plus the server's own origin, so a
// console served from "/" works without configuration.
func (p corsPolicy) allows(origin, selfOrigin string) bool {
	canonical, err := canonicalOrigin(origin)
	if err != nil || canonical == "" {
		return false
	}
	if _, ok := p.allowed[canonical]; ok {
		return true
	}
	return selfOrigin != "" && canonical == selfOrigin
}

func corsMiddleware(policy corsPolicy, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !policy.allows(origin, requestOrigin(r)) {
			if logger != nil {
				logger.Warn("blocked CORS origin", "origin", origin, "path", r.URL.Path)
			}
			writeMiddlewareError(w, http.StatusForbidden, "origin not allowed")
			return
		}

		headers := w.Header()
		headers.Set("Access-Control-Allow-Origin", origin)
		headers.Set("Vary", "Origin")
		headers.Set("Access-Control-Expose-Headers", corsExposedHeaders)

		if r.Method == http.MethodOptions {
			answerPreflight(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func answerPreflight(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Access-Control-Request-Method") != "" {
		w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
		requested := r.Header.Get("Access-Control-Request-Headers")
		if requested == "" {
			requested = corsFallbackHeaders
		}
		w.Header().Set("Access-Control-Allow-Headers", requested)
	}
	w.WriteHeader(http.StatusNoContent)
}

func requestOrigin(r *http.Request) string {
	host := strings.ToLower(strings.TrimSpace(r.Host))
	if host == "" {
		return ""
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + host
}
