package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/korisu-sushi/sushi-bot/internal/di"
	"github.com/korisu-sushi/sushi-bot/internal/handlers"
	"github.com/korisu-sushi/sushi-bot/internal/platform/auth"
	"github.com/korisu-sushi/sushi-bot/internal/platform/config"
	"github.com/korisu-sushi/sushi-bot/internal/platform/idempotency"
	"github.com/korisu-sushi/sushi-bot/internal/platform/observability"
	"github.com/korisu-sushi/sushi-bot/internal/platform/secrets"
)

const (
	defaultEventRateLimit  = 30
	defaultEventRateWindow = time.Minute
	shutdownTimeout        = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("sushi-bot")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	secretOpts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(secretProjectFromEnv(envValues)),
	}
	if path := strings.TrimSpace(envValues["BOT_SECRETS_FALLBACK_FILE"]); path != "" {
		secretOpts = append(secretOpts, secrets.WithFallbackFile(path))
	}
	resolver, err := secrets.NewResolver(ctx, secretOpts...)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithMetrics(metrics),
	)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	eventMiddlewares, err := buildEventMiddlewares(logger, cfg, container, metrics)
	if err != nil {
		logger.Fatal("failed to initialise event middleware", zap.Error(err))
	}

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(metrics),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(container.Health),
	)
	eventHandlers := handlers.NewEventHandlers(
		container.Services.Conversation,
		container.Localizer,
		handlers.WithEventRateLimit(defaultEventRateLimit, defaultEventRateWindow),
	)
	menuHandlers := handlers.NewMenuHandlers(container.Services.Catalog, container.Localizer)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithMenuRoutes(menuHandlers.Routes),
		handlers.WithEventRoutes(eventHandlers.Routes),
		handlers.WithEventMiddlewares(eventMiddlewares...),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("sushi-bot listening",
			zap.String("storage", cfg.Storage.Driver),
			zap.String("ledger", cfg.Ledger.Driver),
			zap.String("counters", cfg.Counters.Driver),
			zap.String("notifier", cfg.Notifier.Driver),
			zap.Bool("signedEvents", strings.TrimSpace(cfg.Webhook.Secret) != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	for sig := range signals {
		if sig != syscall.SIGHUP {
			break
		}
		reloadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := container.Services.Catalog.Reload(reloadCtx); err != nil {
			logger.Error("menu reload failed", zap.Error(err))
		} else {
			logger.Info("menu reloaded", zap.String("path", cfg.Catalog.MenuPath))
		}
		cancel()
	}
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildEventMiddlewares returns signature verification followed by duplicate suppression.
// Both share Redis when a Redis driver is configured so replicas agree on what they have seen.
func buildEventMiddlewares(logger *zap.Logger, cfg config.Config, container *di.Container, metrics *observability.Metrics) ([]func(http.Handler) http.Handler, error) {
	var (
		nonces auth.NonceStore
		store  idempotency.Store
	)
	if container.Redis != nil {
		nonces = auth.NewRedisNonceStore(container.Redis, cfg.Redis.KeyPrefix)
		redisStore, err := idempotency.NewRedisStore(container.Redis, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, err
		}
		store = redisStore
	} else {
		nonces = auth.NewInMemoryNonceStore()
		store = idempotency.NewMemoryStore()
	}

	var out []func(http.Handler) http.Handler
	verifier := auth.NewWebhookVerifier(cfg.Webhook.Secret, nonces,
		auth.WithLogger(logger.Named("webhook")),
		auth.WithMetrics(metrics),
		auth.WithHeaders(cfg.Webhook.SignatureHeader, cfg.Webhook.TimestampHeader, cfg.Webhook.NonceHeader),
		auth.WithClockSkew(cfg.Webhook.ClockSkew),
		auth.WithNonceTTL(cfg.Webhook.NonceTTL),
	)
	if verifier.Enabled() {
		out = append(out, verifier.Middleware)
	} else {
		logger.Warn("webhook secret not configured; events are accepted unsigned")
	}

	out = append(out, idempotency.Middleware(store,
		idempotency.WithKeyFunc(idempotency.JSONFieldKey("event_id")),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	))
	return out, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["BOT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["BOT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func secretProjectFromEnv(env map[string]string) string {
	for _, key := range []string{"BOT_SECRETS_PROJECT_ID", "BOT_FIRESTORE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"} {
		if value := strings.TrimSpace(env[key]); value != "" {
			return value
		}
	}
	return ""
}
