// Command server starts the EdgeRiver primary node: the admin API, the
// transcode queue, edge replication, and playback from one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"edgeriver/internal/api"
	"edgeriver/internal/cache"
	"edgeriver/internal/edgesync"
	"edgeriver/internal/notify"
	"edgeriver/internal/observability/logging"
	"edgeriver/internal/observability/metrics"
	"edgeriver/internal/queue"
	"edgeriver/internal/server"
	"edgeriver/internal/storage"
	"edgeriver/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "runtime mode (development or production)")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mediaRoot := flag.String("media-root", "", "directory holding processed video artifacts")
	uploadDir := flag.String("upload-dir", "", "directory for staged source uploads")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	acmeDomains := flag.String("acme-domains", "", "comma separated hostnames for automatic Let's Encrypt certificates")
	acmeCacheDir := flag.String("acme-cache-dir", "", "directory for cached ACME certificates")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	transcoderURL := flag.String("transcoder-url", "", "base URL of the transcoding service")
	transcoderToken := flag.String("transcoder-token", "", "bearer token for the transcoding service")
	transcoderPoll := flag.Duration("transcoder-poll-interval", 0, "interval between transcode job status polls")
	queueConcurrency := flag.Int("queue-concurrency", 0, "number of videos processed in parallel")
	queueLight := flag.Bool("queue-light", false, "process one video at a time")
	queueJobTimeout := flag.Duration("queue-job-timeout", 0, "per-video processing timeout")
	notifierDriver := flag.String("notifier", "", "notifier driver (memory or redis)")
	notifierRedisAddr := flag.String("notifier-redis-addr", "", "Redis address for the notification stream")
	notifierRedisPassword := flag.String("notifier-redis-password", "", "Redis password for the notification stream")
	notifierRedisStream := flag.String("notifier-redis-stream", "", "Redis stream key for notification events")
	notifierRedisGroup := flag.String("notifier-redis-group", "", "prefix for the per-subscriber Redis consumer groups")
	syncMaxAttempts := flag.Int("sync-max-attempts", 0, "attempts per edge server before a sync is recorded as failed")
	syncRetryInterval := flag.Duration("sync-retry-interval", 0, "base delay between sync retries")
	syncTimeout := flag.Duration("sync-timeout", 0, "overall timeout for replicating one video")
	healthInterval := flag.Duration("edge-health-interval", 0, "interval between edge server health probes")
	healthTimeout := flag.Duration("edge-health-timeout", 0, "timeout for a single edge health probe")
	cacheTTL := flag.Duration("cache-ttl", 0, "metadata cache entry lifetime")
	cacheMaxEntries := flag.Int("cache-max-entries", 0, "maximum metadata cache entries")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	rateRedisTLSCA := flag.String("rate-redis-tls-ca", "", "path to Redis TLS CA certificate for upload throttling")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	sweepInterval := flag.Duration("upload-sweep-interval", 0, "interval between orphaned upload sweeps")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("EDGERIVER_LOG_LEVEL"))})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("EDGERIVER_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("EDGERIVER_ADDR"))

	mediaRootPath := resolvePath(*mediaRoot, "EDGERIVER_MEDIA_ROOT", "data/media")
	uploadDirPath := resolvePath(*uploadDir, "EDGERIVER_UPLOAD_DIR", "data/uploads")
	for _, dir := range []string{mediaRootPath, uploadDirPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to prepare directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("EDGERIVER_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("EDGERIVER_DATA"), "data/store.json")
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "EDGERIVER_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "EDGERIVER_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "EDGERIVER_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "EDGERIVER_POSTGRES_MAX_CONN_IDLE", 0)
		health := resolveDuration(*postgresHealthInterval, "EDGERIVER_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || health > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, health))
		}
		if acquire := resolveDuration(*postgresAcquireTimeout, "EDGERIVER_POSTGRES_ACQUIRE_TIMEOUT", 0); acquire > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquire))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("EDGERIVER_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	notifier, err := configureNotifier(*notifierDriver, notify.RedisHubConfig{
		Addr:     firstNonEmpty(*notifierRedisAddr, os.Getenv("EDGERIVER_NOTIFIER_REDIS_ADDR")),
		Password: firstNonEmpty(*notifierRedisPassword, os.Getenv("EDGERIVER_NOTIFIER_REDIS_PASSWORD")),
		Stream:   firstNonEmpty(*notifierRedisStream, os.Getenv("EDGERIVER_NOTIFIER_REDIS_STREAM")),
		Group:    firstNonEmpty(*notifierRedisGroup, os.Getenv("EDGERIVER_NOTIFIER_REDIS_GROUP")),
		Logger:   logging.WithComponent(logger, "notify"),
	})
	if err != nil {
		logger.Error("failed to configure notifier", "error", err)
		os.Exit(1)
	}

	videoCache := cache.New(cache.Config{
		Loader:     store.GetVideo,
		TTL:        resolveDuration(*cacheTTL, "EDGERIVER_CACHE_TTL", 0),
		MaxEntries: resolveInt(*cacheMaxEntries, "EDGERIVER_CACHE_MAX_ENTRIES"),
		Metrics:    recorder,
	})

	transcoder, err := transcode.NewHTTPTranscoder(transcode.Config{
		BaseURL:      firstNonEmpty(*transcoderURL, os.Getenv("EDGERIVER_TRANSCODER_URL")),
		Token:        firstNonEmpty(*transcoderToken, os.Getenv("EDGERIVER_TRANSCODER_TOKEN")),
		PollInterval: resolveDuration(*transcoderPoll, "EDGERIVER_TRANSCODER_POLL_INTERVAL", 0),
	})
	if err != nil {
		logger.Error("failed to configure transcoder", "error", err)
		os.Exit(1)
	}

	syncService := edgesync.NewService(edgesync.Config{
		Store:         store,
		MaxAttempts:   resolveInt(*syncMaxAttempts, "EDGERIVER_SYNC_MAX_ATTEMPTS"),
		RetryInterval: resolveDuration(*syncRetryInterval, "EDGERIVER_SYNC_RETRY_INTERVAL", 0),
		Logger:        logging.WithComponent(logger, "edge-sync"),
		Metrics:       recorder,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	replicationTimeout := resolveDuration(*syncTimeout, "EDGERIVER_SYNC_TIMEOUT", 10*time.Minute)
	processQueue := queue.New(queue.Config{
		Store:       store,
		Transcoder:  transcoder,
		Notifier:    notifier,
		Concurrency: resolveQueueConcurrency(*queueConcurrency, *queueLight),
		JobTimeout:  resolveDuration(*queueJobTimeout, "EDGERIVER_QUEUE_JOB_TIMEOUT", 0),
		Logger:      logging.WithComponent(logger, "queue"),
		Metrics:     recorder,
		OnReady: func(videoID, outputDir string) {
			ctx, cancel := context.WithTimeout(workerCtx, replicationTimeout)
			defer cancel()
			videoCache.Invalidate(videoID)
			if err := syncService.SyncVideo(ctx, videoID, outputDir); err != nil {
				logger.Error("edge replication failed", "video_id", videoID, "error", err)
			}
		},
	})

	healthChecker := edgesync.NewHealthChecker(edgesync.HealthCheckerConfig{
		Store:    store,
		Interval: resolveDuration(*healthInterval, "EDGERIVER_EDGE_HEALTH_INTERVAL", 0),
		Timeout:  resolveDuration(*healthTimeout, "EDGERIVER_EDGE_HEALTH_TIMEOUT", 0),
		Logger:   logging.WithComponent(logger, "edge-health"),
		Metrics:  recorder,
	})

	handler := api.NewHandler(store)
	handler.Queue = processQueue
	handler.Cache = videoCache
	handler.Notifier = notifier
	handler.MediaRoot = mediaRootPath
	handler.UploadDir = uploadDirPath
	handler.Logger = logging.WithComponent(logger, "api")
	handler.VerifyAPIKey = func(key string) bool {
		_, ok := store.FindEdgeServerByAPIKey(key)
		return ok
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile:     firstNonEmpty(*tlsCert, os.Getenv("EDGERIVER_TLS_CERT")),
			KeyFile:      firstNonEmpty(*tlsKey, os.Getenv("EDGERIVER_TLS_KEY")),
			ACMEDomains:  splitAndTrim(firstNonEmpty(*acmeDomains, os.Getenv("EDGERIVER_ACME_DOMAINS"))),
			ACMECacheDir: firstNonEmpty(*acmeCacheDir, os.Getenv("EDGERIVER_ACME_CACHE_DIR")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:    resolveFloat(*globalRPS, "EDGERIVER_RATE_GLOBAL_RPS"),
			GlobalBurst:  resolveInt(*globalBurst, "EDGERIVER_RATE_GLOBAL_BURST"),
			UploadLimit:  resolveInt(*uploadLimit, "EDGERIVER_RATE_UPLOAD_LIMIT"),
			UploadWindow: resolveDuration(*uploadWindow, "EDGERIVER_RATE_UPLOAD_WINDOW", time.Minute),
			Redis: server.RedisConfig{
				Addr:     firstNonEmpty(*rateRedisAddr, os.Getenv("EDGERIVER_RATE_REDIS_ADDR")),
				Password: firstNonEmpty(*rateRedisPassword, os.Getenv("EDGERIVER_RATE_REDIS_PASSWORD")),
				Timeout:  resolveDuration(*rateRedisTimeout, "EDGERIVER_RATE_REDIS_TIMEOUT", 2*time.Second),
				TLS: server.RedisTLSConfig{
					CAFile: firstNonEmpty(*rateRedisTLSCA, os.Getenv("EDGERIVER_RATE_REDIS_TLS_CA")),
				},
			},
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("EDGERIVER_CORS_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	processQueue.Start()
	healthChecker.Start()
	sweepStop := startUploadSweeper(workerCtx, logging.WithComponent(logger, "upload-sweeper"), store, uploadDirPath,
		resolveDuration(*sweepInterval, "EDGERIVER_UPLOAD_SWEEP_INTERVAL", time.Hour))
	defer sweepStop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("EdgeRiver primary listening", "addr", listenAddr, "mode", serverMode)
		logger.Info("metrics endpoint available", "path", "/metrics")
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

	workerCancel()
	sweepStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := processQueue.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop process queue", "error", err)
	}
	if err := healthChecker.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop health checker", "error", err)
	}

	if closer, ok := notifier.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close notifier", "error", err)
		}
	}
	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

func configureNotifier(driver string, cfg notify.RedisHubConfig) (notify.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(firstNonEmpty(driver, os.Getenv("EDGERIVER_NOTIFIER")))) {
	case "redis":
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the redis notifier")
		}
		return notify.NewRedisHub(cfg)
	case "", "memory":
		return notify.NewMemoryHub(64), nil
	default:
		return nil, fmt.Errorf("unsupported notifier driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	if addr := firstNonEmpty(flagValue, envAddr); addr != "" {
		return addr
	}
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func modeValue(flagMode, envMode string) string {
	if mode := strings.ToLower(firstNonEmpty(flagMode, envMode)); mode != "" {
		return mode
	}
	return "development"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(firstNonEmpty(flagValue, envValue)); driver != "" {
		return driver, nil
	}
	// A configured DSN selects Postgres without an explicit driver flag.
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func validateProductionDatastore(driver, dsn string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("EDGERIVER_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func resolvePath(flagValue, envKey, fallback string) string {
	if v := firstNonEmpty(flagValue, os.Getenv(envKey)); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// The resolve* helpers give flags precedence over their environment variable,
// ignoring unparseable values.

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(envKey)), 64)
	if err != nil {
		return 0
	}
	return value
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envKey)))
	if err != nil {
		return 0
	}
	return value
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(envKey)))
	if err != nil {
		return false
	}
	return value
}

// resolveQueueConcurrency prefers an explicit worker count; light mode caps
// processing at one video at a time. Zero lets the queue apply its default.
func resolveQueueConcurrency(flagValue int, light bool) int {
	if value := resolveInt(flagValue, "EDGERIVER_QUEUE_CONCURRENCY"); value > 0 {
		return value
	}
	if resolveBool(light, "EDGERIVER_QUEUE_LIGHT") {
		return 1
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if value, err := time.ParseDuration(os.Getenv(envKey)); err == nil && value > 0 {
		return value
	}
	return fallback
}
