package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"edgeriver/internal/api"
	"edgeriver/internal/observability/metrics"
	"edgeriver/web"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string

	// ACMEDomains switches the server to certificates obtained from Let's
	// Encrypt for the listed hostnames. Mutually exclusive with
	// CertFile/KeyFile.
	ACMEDomains  []string
	ACMECacheDir string
}

type Config struct {
	Addr        string
	TLS         TLSConfig
	RateLimit   RateLimitConfig
	Security    SecurityConfig
	CORS        CORSConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder

	// EdgeMode mounts the replication receive routes instead of the
	// admin API. Edge nodes require handler.VerifyAPIKey to be set.
	EdgeMode bool
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	auditLogger *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
	acme        *autocert.Manager
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/watch/", handler.Watch)

	if cfg.EdgeMode {
		if handler.VerifyAPIKey == nil {
			return nil, fmt.Errorf("edge mode requires an api key verifier")
		}
		mux.HandleFunc("/edge/video/metadata", handler.EdgeVideoMetadata)
		mux.HandleFunc("/edge/video/files", handler.EdgeVideoFiles)
		mux.HandleFunc("/edge/health", handler.EdgeHealthProbe)
	} else {
		mux.HandleFunc("/api/videos", handler.Videos)
		mux.HandleFunc("/api/videos/", handler.VideoByID)
		mux.HandleFunc("/api/queue/status", handler.QueueStatus)
		mux.HandleFunc("/api/queue/pending", handler.QueuePending)
		mux.HandleFunc("/api/queue/pending/", handler.QueuePending)
		mux.HandleFunc("/api/edges", handler.EdgeServers)
		mux.HandleFunc("/api/edges/", handler.EdgeServerByID)
		mux.HandleFunc("/api/notifications/ws", handler.NotificationsWebsocket)

		staticFS, err := web.Static()
		if err != nil {
			return nil, fmt.Errorf("load console assets: %w", err)
		}
		mux.Handle("/", http.FileServer(http.FS(staticFS)))
	}

	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure rate limiter: %w", err)
	}
	corsPolicy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors: %w", err)
	}

	handlerChain := http.Handler(mux)
	handlerChain = apiKeyMiddleware(handler.VerifyAPIKey, handlerChain)
	handlerChain = rateLimitMiddleware(rl, cfg.Logger, handlerChain)
	handlerChain = corsMiddleware(corsPolicy, cfg.Logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metricsMiddleware(recorder, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(cfg.Logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		auditLogger: cfg.AuditLogger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if len(cfg.TLS.ACMEDomains) > 0 {
		if srv.tlsCertFile != "" || srv.tlsKeyFile != "" {
			return nil, fmt.Errorf("static TLS certificate and ACME domains are mutually exclusive")
		}
		cacheDir := strings.TrimSpace(cfg.TLS.ACMECacheDir)
		if cacheDir == "" {
			cacheDir = "data/acme"
		}
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.TLS.ACMEDomains...),
			Cache:      autocert.DirCache(cacheDir),
		}
		tlsConfig := manager.TLSConfig()
		tlsConfig.MinVersion = tls.VersionTLS12
		httpServer.TLSConfig = tlsConfig
		srv.acme = manager
	} else if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}

	if s.acme != nil {
		// ACME certificates come from the manager via TLSConfig, and the
		// manager answers HTTP-01 challenges on port 80.
		go func() {
			challenge := &http.Server{
				Addr:              ":80",
				Handler:           s.acme.HTTPHandler(nil),
				ReadHeaderTimeout: 5 * time.Second,
			}
			if err := challenge.ListenAndServe(); err != nil && err != http.ErrServerClosed && s.logger != nil {
				s.logger.Warn("acme challenge listener stopped", "error", err)
			}
		}()
		return s.httpServer.ListenAndServeTLS("", "")
	}

	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if s.rateLimiter != nil {
		defer s.rateLimiter.Close(ctx)
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the assembled middleware chain for in-process tests.
func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

// observeRequest runs next and reports the response status and elapsed time.
func observeRequest(w http.ResponseWriter, r *http.Request, next http.Handler) (status int, elapsed time.Duration) {
	rr := metrics.NewResponseRecorder(w)
	start := time.Now()
	next.ServeHTTP(rr, r)
	return rr.Status(), time.Since(start)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, elapsed := observeRequest(w, r, next)
		loggerWithRequestContext(r.Context(), logger).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, elapsed := observeRequest(w, r, next)
		recorder.ObserveRequest(r.Method, r.URL.Path, status, elapsed)
	})
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/videos" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowUpload(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many uploads")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware guards the replication receive routes with the node's
// pre-shared key, carried by the primary in X-Api-Key.
func apiKeyMiddleware(verify func(key string) bool, next http.Handler) http.Handler {
	if verify == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/edge/") {
			next.ServeHTTP(w, r)
			return
		}
		key := strings.TrimSpace(r.Header.Get("X-Api-Key"))
		if key == "" || !verify(key) {
			writeMiddlewareError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func auditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, elapsed := observeRequest(w, r, next)
		if !shouldAudit(r) {
			return
		}
		logger.Info("audit",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

// shouldAudit keeps the audit trail to mutations of the API and replication
// surfaces.
func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/edge/")
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
