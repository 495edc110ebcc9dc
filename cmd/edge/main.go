// Command edge starts an EdgeRiver edge node: it receives replicated video
// artifacts from the primary and serves playback from its local media root.
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"edgeriver/internal/api"
	"edgeriver/internal/cache"
	"edgeriver/internal/observability/logging"
	"edgeriver/internal/observability/metrics"
	"edgeriver/internal/server"
	"edgeriver/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	mediaRoot := flag.String("media-root", "", "directory holding replicated video artifacts")
	apiKey := flag.String("api-key", "", "pre-shared key the primary presents when replicating")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	acmeDomains := flag.String("acme-domains", "", "comma separated hostnames for automatic Let's Encrypt certificates")
	acmeCacheDir := flag.String("acme-cache-dir", "", "directory for cached ACME certificates")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	cacheTTL := flag.Duration("cache-ttl", 0, "metadata cache entry lifetime")
	cacheMaxEntries := flag.Int("cache-max-entries", 0, "maximum metadata cache entries")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to fetch media")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("EDGERIVER_LOG_LEVEL"))})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("EDGERIVER_EDGE_ADDR"), ":8090")
	presharedKey := firstNonEmpty(*apiKey, os.Getenv("EDGERIVER_EDGE_API_KEY"))
	if presharedKey == "" {
		logger.Error("edge node requires a pre-shared API key")
		os.Exit(1)
	}

	mediaRootPath := firstNonEmpty(*mediaRoot, os.Getenv("EDGERIVER_MEDIA_ROOT"), "data/media")
	if err := os.MkdirAll(mediaRootPath, 0o755); err != nil {
		logger.Error("failed to prepare media root", "dir", mediaRootPath, "error", err)
		os.Exit(1)
	}

	dataFile := firstNonEmpty(*dataPath, os.Getenv("EDGERIVER_DATA"), "data/edge-store.json")
	store, err := storage.NewJSONRepository(dataFile)
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store)
	handler.Cache = cache.New(cache.Config{
		Loader:     store.GetVideo,
		TTL:        resolveDuration(*cacheTTL, "EDGERIVER_CACHE_TTL"),
		MaxEntries: resolveIntEnv(*cacheMaxEntries, "EDGERIVER_CACHE_MAX_ENTRIES"),
		Metrics:    recorder,
	})
	handler.MediaRoot = mediaRootPath
	handler.Logger = logging.WithComponent(logger, "api")
	handler.VerifyAPIKey = func(key string) bool {
		return subtle.ConstantTimeCompare([]byte(key), []byte(presharedKey)) == 1
	}

	srv, err := server.New(handler, server.Config{
		Addr:     listenAddr,
		EdgeMode: true,
		TLS: server.TLSConfig{
			CertFile:     firstNonEmpty(*tlsCert, os.Getenv("EDGERIVER_TLS_CERT")),
			KeyFile:      firstNonEmpty(*tlsKey, os.Getenv("EDGERIVER_TLS_KEY")),
			ACMEDomains:  splitAndTrim(firstNonEmpty(*acmeDomains, os.Getenv("EDGERIVER_ACME_DOMAINS"))),
			ACMECacheDir: firstNonEmpty(*acmeCacheDir, os.Getenv("EDGERIVER_ACME_CACHE_DIR")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:   resolveFloatEnv(*globalRPS, "EDGERIVER_RATE_GLOBAL_RPS"),
			GlobalBurst: resolveIntEnv(*globalBurst, "EDGERIVER_RATE_GLOBAL_BURST"),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("EDGERIVER_CORS_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("EdgeRiver edge node listening", "addr", listenAddr, "media_root", mediaRootPath)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	logger.Info("edge node stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveDuration(flagValue time.Duration, envKey string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveIntEnv(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveFloatEnv(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}
