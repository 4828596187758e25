// Package main is the entry point for the vehicleflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/vehicleflow/internal/capability"
	"github.com/pitabwire/vehicleflow/internal/config"
	"github.com/pitabwire/vehicleflow/internal/definition"
	"github.com/pitabwire/vehicleflow/internal/notify"
	"github.com/pitabwire/vehicleflow/internal/observability"
	"github.com/pitabwire/vehicleflow/internal/openapi"
	"github.com/pitabwire/vehicleflow/internal/transport"
	"github.com/pitabwire/vehicleflow/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	registry, err := buildRegistry(cfg.Registry, logger)
	if err != nil {
		logger.Error("location registry load failed", zap.Error(err))
		return 1
	}

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "vehicleflow", version,
		observability.RegistryAttributes(registry.Checksum(), len(registry.Locations()))...)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)
	metrics.SetRegistryLocations(len(registry.Locations()))

	store, storeCloser, err := buildVehicleStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("vehicle store initialization failed", zap.Error(err))
		return 1
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	idempotencyStore, idempotencyCloser := buildIdempotencyStore(cfg.Idempotency, logger)
	if idempotencyCloser != nil {
		defer idempotencyCloser()
	}

	notifier, notifierCloser, err := buildNotifier(cfg.Notifications, logger)
	if err != nil {
		logger.Error("notifier initialization failed", zap.Error(err))
		return 1
	}
	if notifierCloser != nil {
		defer notifierCloser()
	}
	dispatcher := notify.NewDispatcher(notifier, notify.DispatcherConfig{
		QueueSize:      cfg.Notifications.QueueSize,
		Workers:        cfg.Notifications.Workers,
		MaxAttempts:    cfg.Notifications.MaxAttempts,
		BackoffInitial: cfg.Notifications.BackoffInitial,
		BackoffMax:     cfg.Notifications.BackoffMax,

		BreakerThreshold: cfg.Notifications.BreakerThreshold,
		BreakerCooldown:  cfg.Notifications.BreakerCooldown,
	}, logger, metrics)

	opts := []workflow.Option{
		workflow.WithPublisher(dispatcher),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
	}
	if idempotencyStore != nil {
		opts = append(opts, workflow.WithIdempotency(idempotencyStore, cfg.Idempotency.Store.DefaultTTL))
	}
	engine := workflow.NewEngine(registry, store, opts...)

	if cfg.Store.SeedFile != "" {
		reqs, err := workflow.LoadSeedFile(cfg.Store.SeedFile)
		if err != nil {
			logger.Error("seed file load failed", zap.Error(err))
			return 1
		}
		if _, err := engine.Seed(ctx, reqs); err != nil {
			logger.Error("inventory seeding failed", zap.Error(err))
			return 1
		}
	}

	readiness := observability.ReadinessChecks{
		RegistryLoaded: func() bool { return len(registry.Locations()) > 0 },
		Notifier:       dispatcher,
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.VehicleStore = hc
	}
	if hc, ok := idempotencyStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	capabilities, err := buildCapabilities(cfg.Authorization, logger)
	if err != nil {
		logger.Error("authorization policy load failed", zap.Error(err))
		return 1
	}
	if capabilities != nil {
		go reloadOnHangup(ctx, capabilities, metrics, logger)
	}

	contract, err := openapi.Default()
	if err != nil {
		logger.Error("API contract load failed", zap.Error(err))
		return 1
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Engine:       engine,
		Logger:       logger,
		Metrics:      metrics,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, []byte(cfg.Identity.Secret())),
		Capabilities: capabilities,
		Contract:     contract,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("locations", len(registry.Locations())),
		zap.String("registry_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Drain HTTP first so no new moves are published after the dispatcher closes.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("notification dispatcher shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildRegistry loads the location table from cfg.File, or uses the built-in
// table when no file is configured.
func buildRegistry(cfg config.RegistryConfig, logger *zap.Logger) (*definition.Registry, error) {
	if cfg.File == "" {
		logger.Info("using built-in location table")
		return definition.NewRegistry(definition.DefaultLocations())
	}

	table, err := definition.NewLoader().LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	registry, err := definition.NewRegistry(table.Locations)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", table.SourceFile, err)
	}
	logger.Info("location table loaded",
		zap.String("file", table.SourceFile),
		zap.String("file_checksum", table.Checksum),
	)
	return registry, nil
}

// buildCapabilities loads the role policy. It returns nil when no policy file
// is configured, which leaves authorization disabled.
func buildCapabilities(cfg config.AuthorizationConfig, logger *zap.Logger) (*capability.Resolver, error) {
	if cfg.PolicyFile == "" {
		logger.Warn("no authorization policy configured, all authenticated callers are allowed")
		return nil, nil
	}
	policy, err := capability.LoadStaticPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	logger.Info("authorization policy loaded", zap.String("file", cfg.PolicyFile))
	return capability.NewResolver(policy, cfg.CacheTTL), nil
}

// reloadOnHangup rereads the authorization policy on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, resolver *capability.Resolver, metrics *observability.Metrics, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := resolver.Reload(); err != nil {
				metrics.RecordPolicyReload("failure")
				logger.Error("authorization policy reload failed", zap.Error(err))
				continue
			}
			metrics.RecordPolicyReload("success")
			logger.Info("authorization policy reloaded")
		}
	}
}

// buildVehicleStore creates the vehicle store based on config.
func buildVehicleStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory vehicle store")
		return workflow.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("vehicle store: %s is not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("vehicle store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("vehicle store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("vehicle store: ping: %w", err)
		}

		store := workflow.NewPgStore(pool)
		if cfg.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("vehicle store: %w", err)
			}
		}
		logger.Info("using postgres vehicle store")
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported vehicle store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (workflow.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: os.Getenv(cfg.Store.AddrEnv),
			DB:   cfg.Store.DB,
		})
		logger.Info("using redis idempotency store")
		return workflow.NewRedisIdempotencyStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return workflow.NewMemoryIdempotencyStore(), nil
	}
}

// buildNotifier creates the delivery transport behind the dispatcher.
func buildNotifier(cfg config.NotificationsConfig, logger *zap.Logger) (notify.Notifier, func(), error) {
	switch cfg.Driver {
	case "log":
		return notify.NewLogNotifier(logger), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("notifications: %s is not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("publishing notifications to redis streams", zap.String("prefix", cfg.StreamPrefix))
		var n notify.Notifier = notify.NewRedisStreamNotifier(client, cfg.StreamPrefix, cfg.StreamMaxLen, logger)
		if cfg.MirrorToLog {
			n = notify.MultiNotifier{n, notify.NewLogNotifier(logger)}
		}
		return n, func() { client.Close() }, nil
	case "none":
		return notify.NotifierFunc(func(context.Context, notify.Message) error { return nil }), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notifications driver: %q", cfg.Driver)
	}
}
