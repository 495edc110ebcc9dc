package server

import (
	"net/http"
	"strings"
)

// SecurityConfig controls the HTTP response headers that harden the server
// against clickjacking, MIME sniffing, referrer leakage, and unintended
// resource loading. Zero-valued fields fall back to safe defaults; override
// the ContentSecurityPolicy directive when a player page needs to embed the
// manifests from another host.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	orDefault := func(field *string, fallback string) {
		if *field == "" {
			*field = fallback
		}
	}
	orDefault(&cfg.FrameAncestors, "'none'")
	orDefault(&cfg.FrameOptions, "DENY")
	orDefault(&cfg.ReferrerPolicy, "no-referrer")
	orDefault(&cfg.PermissionsPolicy, "camera=(), microphone=(), geolocation=()")
	orDefault(&cfg.ContentTypeOptions, "nosniff")
	orDefault(&cfg.ContentSecurityPolicy, buildCSP(cfg.FrameAncestors))
	return cfg
}

// buildCSP returns the locked-down policy the console and playback pages
// are written against: local assets only, blob media for the player.
func buildCSP(frameAncestors string) string {
	directives := []string{
		"default-src 'self'",
		"connect-src 'self'",
		"img-src 'self' data:",
		"media-src 'self' blob:",
		"script-src 'self'",
		"style-src 'self'",
		"font-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors " + frameAncestors,
		"form-action 'self'",
	}
	return strings.Join(directives, "; ")
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()
	pairs := [...][2]string{
		{"Content-Security-Policy", effective.ContentSecurityPolicy},
		{"X-Frame-Options", effective.FrameOptions},
		{"X-Content-Type-Options", effective.ContentTypeOptions},
		{"Referrer-Policy", effective.ReferrerPolicy},
		{"Permissions-Policy", effective.PermissionsPolicy},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, pair := range pairs {
			if pair[1] != "" {
				w.Header().Set(pair[0], pair[1])
			}
		}
		next.ServeHTTP(w, r)
	})
}
