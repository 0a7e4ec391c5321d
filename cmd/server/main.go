// Command server starts the FanStream video API HTTP service.
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

	"golang.org/x/sync/errgroup"

	"fanstream-video/internal/api"
	"fanstream-video/internal/auth"
	"fanstream-video/internal/observability/logging"
	"fanstream-video/internal/observability/metrics"
	"fanstream-video/internal/provider"
	"fanstream-video/internal/server"
	"fanstream-video/internal/storage"
	"fanstream-video/internal/webhook"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
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
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	webhookMaxAge := flag.Duration("webhook-max-age", 0, "reject webhook signatures older than this (0 disables the check)")
	dedupDriver := flag.String("webhook-dedup-driver", "", "webhook dedup driver (memory or redis)")
	dedupTTL := flag.Duration("webhook-dedup-ttl", 0, "retention for webhook delivery ids")
	dedupRedisAddr := flag.String("webhook-dedup-redis-addr", "", "Redis address for shared webhook dedup")
	dedupRedisUsername := flag.String("webhook-dedup-redis-username", "", "Redis username for webhook dedup")
	dedupRedisPassword := flag.String("webhook-dedup-redis-password", "", "Redis password for webhook dedup")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	webhookLimit := flag.Int("rate-webhook-limit", 0, "maximum webhook deliveries per window for a single source")
	webhookWindow := flag.Duration("rate-webhook-window", 0, "window for counting webhook deliveries")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed webhook throttling")
	rateRedisUsername := flag.String("rate-redis-username", "", "Redis username for distributed webhook throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed webhook throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limit operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated browser origins allowed to call the API")
	apiKeyHashes := flag.String("api-key-hashes", "", "comma separated PBKDF2 hashes of accepted API keys")
	reapInterval := flag.Duration("upload-reap-interval", 0, "interval between stale upload sweeps")
	reapMaxAge := flag.Duration("upload-reap-max-age", 0, "age after which a pending upload is failed")
	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("FANSTREAM_VIDEO_LOG_LEVEL"))})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("FANSTREAM_VIDEO_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("FANSTREAM_VIDEO_ADDR"))

	providerConfig, err := provider.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load provider configuration", "error", err)
		os.Exit(1)
	}
	var uploader provider.Uploader = provider.NoopUploader{}
	if providerConfig.Configured() {
		client, err := provider.NewHTTPClient(providerConfig, recorder)
		if err != nil {
			logger.Error("failed to initialise provider client", "error", err)
			os.Exit(1)
		}
		uploader = client
	} else {
		logger.Warn("provider credentials missing, uploads disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("FANSTREAM_VIDEO_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("FANSTREAM_VIDEO_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "FANSTREAM_VIDEO_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "FANSTREAM_VIDEO_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "FANSTREAM_VIDEO_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "FANSTREAM_VIDEO_POSTGRES_MAX_CONN_IDLE", 0)
		if maxLifetime > 0 || maxIdle > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresConnLifetimes(maxLifetime, maxIdle))
		}
		if healthInterval := resolveDuration(*postgresHealthInterval, "FANSTREAM_VIDEO_POSTGRES_HEALTH_INTERVAL", 0); healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresHealthInterval(healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "FANSTREAM_VIDEO_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("FANSTREAM_VIDEO_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresAppName(appName))
		}
		store, err = storage.NewPostgresRepository(ctx, postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	webhookSecret := strings.TrimSpace(os.Getenv("FANSTREAM_VIDEO_WEBHOOK_SECRET"))
	if webhookSecret == "" {
		// Verification fails closed without a secret; the endpoint stays up
		// but rejects every delivery.
		logger.Warn("webhook secret missing, deliveries will be rejected")
	}
	verifier := webhook.NewVerifier(webhook.VerifierConfig{
		Secret: webhookSecret,
		MaxAge: resolveDuration(*webhookMaxAge, "FANSTREAM_VIDEO_WEBHOOK_MAX_AGE", 0),
	})

	deduper, err := configureDeduper(
		firstNonEmpty(*dedupDriver, os.Getenv("FANSTREAM_VIDEO_WEBHOOK_DEDUP_DRIVER")),
		webhook.RedisDeduperConfig{
			Addr:     firstNonEmpty(*dedupRedisAddr, os.Getenv("FANSTREAM_VIDEO_WEBHOOK_DEDUP_REDIS_ADDR")),
			Username: firstNonEmpty(*dedupRedisUsername, os.Getenv("FANSTREAM_VIDEO_WEBHOOK_DEDUP_REDIS_USERNAME")),
			Password: firstNonEmpty(*dedupRedisPassword, os.Getenv("FANSTREAM_VIDEO_WEBHOOK_DEDUP_REDIS_PASSWORD")),
			TTL:      resolveDuration(*dedupTTL, "FANSTREAM_VIDEO_WEBHOOK_DEDUP_TTL", 0),
		},
		resolveDuration(*dedupTTL, "FANSTREAM_VIDEO_WEBHOOK_DEDUP_TTL", 0),
	)
	if err != nil {
		logger.Error("failed to configure webhook dedup", "error", err)
		os.Exit(1)
	}

	processor, err := webhook.NewProcessor(webhook.ProcessorConfig{
		Store:   store,
		Deduper: deduper,
		Logger:  logging.WithComponent(logger, "webhook"),
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise webhook processor", "error", err)
		os.Exit(1)
	}

	keyHashes := splitAndTrim(firstNonEmpty(*apiKeyHashes, os.Getenv("FANSTREAM_VIDEO_API_KEY_HASHES")))
	keys := auth.NewAPIKeyManager(keyHashes)
	if serverMode == "production" && !keys.Enabled() {
		logger.Warn("no API keys configured, management endpoints are unauthenticated")
	}

	handler := api.NewHandler(store)
	handler.Uploader = uploader
	handler.Verifier = verifier
	handler.Processor = processor
	handler.Keys = keys
	handler.Logger = logging.WithComponent(logger, "api")
	handler.Metrics = recorder
	handler.PlaybackHost = providerConfig.PlaybackHost
	handler.UploadOrigin = providerConfig.CORSOrigin

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("FANSTREAM_VIDEO_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("FANSTREAM_VIDEO_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "FANSTREAM_VIDEO_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "FANSTREAM_VIDEO_RATE_GLOBAL_BURST"),
			WebhookLimit:  resolveInt(*webhookLimit, "FANSTREAM_VIDEO_RATE_WEBHOOK_LIMIT"),
			WebhookWindow: resolveDuration(*webhookWindow, "FANSTREAM_VIDEO_RATE_WEBHOOK_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("FANSTREAM_VIDEO_RATE_REDIS_ADDR")),
			RedisUsername: firstNonEmpty(*rateRedisUsername, os.Getenv("FANSTREAM_VIDEO_RATE_REDIS_USERNAME")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("FANSTREAM_VIDEO_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "FANSTREAM_VIDEO_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("FANSTREAM_VIDEO_CORS_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	reapStop := startUploadReapWorker(ctx,
		logging.WithComponent(logger, "upload-reaper"),
		store,
		resolveDuration(*reapInterval, "FANSTREAM_VIDEO_UPLOAD_REAP_INTERVAL", 15*time.Minute),
		resolveDuration(*reapMaxAge, "FANSTREAM_VIDEO_UPLOAD_REAP_MAX_AGE", 24*time.Hour),
	)
	defer reapStop()

	group, groupCtx := errgroup.WithContext(ctx)
	ready := make(chan struct{})
	group.Go(func() error {
		return srv.Run(groupCtx, ready)
	})
	group.Go(func() error {
		select {
		case <-ready:
			logger.Info("FanStream video API listening", "addr", listenAddr, "mode", serverMode)
			logger.Info("metrics endpoint available", "path", "/metrics")
		case <-groupCtx.Done():
		}
		return nil
	})

	err = group.Wait()
	stop()
	reapStop()

	if deduper != nil {
		if closeErr := deduper.Close(); closeErr != nil {
			logger.Warn("failed to close webhook dedup store", "error", closeErr)
		}
	}
	if closeErr := store.Close(context.Background()); closeErr != nil {
		logger.Warn("failed to close datastore", "error", closeErr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func configureDeduper(driver string, redisCfg webhook.RedisDeduperConfig, ttl time.Duration) (webhook.Deduper, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "redis":
		if strings.TrimSpace(redisCfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for webhook dedup")
		}
		return webhook.NewRedisDeduper(redisCfg)
	case "", "memory":
		return webhook.NewMemoryDeduper(ttl), nil
	default:
		return nil, fmt.Errorf("unsupported webhook dedup driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/videos.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("FANSTREAM_VIDEO_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
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

func resolveFloat(flagValue float64, envKey string) float64 {
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

func resolveInt(flagValue int, envKey string) int {
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

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}
