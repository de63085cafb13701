package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/prizmrun/prizm/pkg/access"
	"github.com/prizmrun/prizm/pkg/accesscache"
	"github.com/prizmrun/prizm/pkg/api"
	"github.com/prizmrun/prizm/pkg/audit"
	"github.com/prizmrun/prizm/pkg/config"
	"github.com/prizmrun/prizm/pkg/membership"
	"github.com/prizmrun/prizm/pkg/middleware"
	"github.com/prizmrun/prizm/pkg/observability"
	"github.com/prizmrun/prizm/pkg/storage/postgres"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	flag.Parse()

	if err := run(*migrateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "prizm: %v\n", err)
		os.Exit(1)
	}
}

func run(migrateOnly bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate || migrateOnly {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	}
	if migrateOnly {
		return nil
	}

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var redisClient *redis.Client
	if cfg.Cache.Backend == config.CacheRedis || cfg.Cache.Backend == config.CacheTiered {
		redisClient, err = accesscache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
	}

	cache, err := accesscache.New(cfg.Cache, redisClient)
	if err != nil {
		return err
	}

	store := postgres.NewStore(db)
	resolver := access.NewResolver(store,
		access.WithCache(cache, cfg.Cache.Backend),
		access.WithDirectory(store),
		access.WithLogger(logger),
		access.WithMetrics(metrics),
	)
	gate := access.NewGate(resolver, logger, metrics)

	auditLogger, auditTrail, err := newAuditLogger(cfg.Audit, db, logger)
	if err != nil {
		return err
	}
	members := membership.NewService(store, resolver, logger, membership.WithAudit(auditLogger))

	server := api.NewServer(gate, members, logger, cfg.Server.UserIDHeader, api.WithAuditTrail(auditTrail))
	router := server.Router()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}

	stats, err := newStatsReporter(cfg.Cache.StatsSchedule, cache, db, metrics, logger)
	if err != nil {
		return err
	}
	if cfg.RateLimit.Enabled {
		limiter, err := newRateLimiter(cfg.RateLimit, redisClient, stats, cfg.Cache.StatsSchedule)
		if err != nil {
			return err
		}
		router.Use(middleware.NewRateLimitMiddleware(limiter).Handler)
	}
	stats.Start()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      observability.TraceHandler(server, "prizm"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("stats", stats.Stop)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otel, logger)
	})

	go func() {
		logger.WithField("addr", httpServer.Addr).
			WithField("cache", cfg.Cache.Backend).
			Info("prizm listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			shutdown.Shutdown()
			os.Exit(1)
		}
	}()

	return shutdown.Wait(ctx)
}

// newStatsReporter publishes the in-process cache size and the connection
// pool gauges on spec
func newStatsReporter(spec string, cache access.Cache, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) (*accesscache.StatsReporter, error) {
	sizers := map[string]accesscache.Sizer{}
	if sizer, ok := cache.(accesscache.Sizer); ok {
		sizers["l1"] = sizer
	}
	reporter, err := accesscache.NewStatsReporter(spec, sizers, metrics, logger)
	if err != nil {
		return nil, err
	}
	if err := reporter.AddJob(spec, func() { postgres.PublishPoolStats(db, metrics) }); err != nil {
		return nil, err
	}
	return reporter, nil
}

// newRateLimiter shares counters through Redis when a client is configured.
// In-process buckets are swept on the stats schedule.
func newRateLimiter(cfg config.RateLimitConfig, client *redis.Client, stats *accesscache.StatsReporter, spec string) (middleware.Limiter, error) {
	limits := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RequestsPerWindow,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.Burst,
	}
	if client != nil {
		return middleware.NewRedisLimiter(client, limits, "prizm:ratelimit"), nil
	}

	limiter := middleware.NewTokenBucketLimiter(limits)
	if err := stats.AddJob(spec, limiter.Cleanup); err != nil {
		return nil, err
	}
	return limiter, nil
}

// newAuditLogger returns the destinations for membership events and, when
// events are stored, the trail the API reads back
func newAuditLogger(cfg config.AuditConfig, db *sql.DB, logger *observability.Logger) (audit.Logger, audit.Searcher, error) {
	var (
		loggers []audit.Logger
		trail   audit.Searcher
	)
	if cfg.Enabled {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, dbLogger)
		trail = dbLogger
	}
	if cfg.LogEvents {
		loggers = append(loggers, audit.NewLogWriter(logger))
	}
	return audit.NewMultiLogger(loggers...), trail, nil
}
