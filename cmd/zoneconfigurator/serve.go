package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/detailhub/zoneconfigurator/internal/asset"
	"github.com/detailhub/zoneconfigurator/internal/capability"
	"github.com/detailhub/zoneconfigurator/internal/catalog"
	"github.com/detailhub/zoneconfigurator/internal/config"
	"github.com/detailhub/zoneconfigurator/internal/jobzone"
	"github.com/detailhub/zoneconfigurator/internal/observability"
	"github.com/detailhub/zoneconfigurator/internal/openapi"
	"github.com/detailhub/zoneconfigurator/internal/selection"
	"github.com/detailhub/zoneconfigurator/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// closers releases backend connections in reverse order of creation.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "zoneconfigurator", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	var cleanup closers
	defer cleanup.run()

	// Zone and service catalog.
	tables, err := catalog.NewLoader().Load(cfg.Catalog.Directory)
	if err != nil {
		return err
	}
	if verrs := catalog.NewValidator().Validate(tables); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("catalog validation error", zap.String("error", ve.Error()))
		}
		return fmt.Errorf("catalog validation failed: %d errors", len(verrs))
	}
	registry := catalog.NewRegistry(tables, logger)
	stats := registry.Stats()
	metrics.SetCatalogZones("2d", stats.Zones2D)
	metrics.SetCatalogZones("3d", stats.Zones3D)

	apiIndex, err := openapi.Load()
	if err != nil {
		return fmt.Errorf("API document: %w", err)
	}

	capResolver, err := buildCapabilityResolver(cfg.Capability, metrics)
	if err != nil {
		return err
	}

	backends := &backendSet{logger: logger, closers: &cleanup}

	sessionStore, err := backends.sessionStore(cfg.Session)
	if err != nil {
		return err
	}
	assetRepo, assetCache, err := backends.assetRepository(ctx, cfg.Assets, metrics)
	if err != nil {
		return err
	}
	jobWriter, err := backends.jobWriter(ctx, cfg.Jobs)
	if err != nil {
		return err
	}
	idemStore, err := backends.idempotencyStore(cfg.Jobs.Idempotency)
	if err != nil {
		return err
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	tracker := asset.NewTracker(bgCtx)
	loader := asset.NewLoader(assetRepo, asset.NewFetcher(cfg.Assets.Fetch, metrics), 0, logger, metrics)
	engine := selection.NewEngine(
		selection.NewController(registry, cfg.Session.OrphanPolicy),
		registry,
		sessionStore,
		loader,
		tracker,
		cfg.Session.TTL,
		logger,
		metrics,
	)
	committer := jobzone.NewCommitter(jobWriter, idemStore, cfg.Jobs.Idempotency.DefaultTTL, logger, metrics)

	readiness := observability.ReadinessChecks{
		CatalogLoaded: func() bool {
			st := registry.Stats()
			return st.Zones2D > 0 && st.Zones3D > 0
		},
		JobWriter:        jobWriter,
		IdempotencyStore: idemStore,
	}
	if hc, ok := sessionStore.(observability.HealthChecker); ok {
		readiness.SessionStore = hc
	}
	if hc, ok := assetRepo.(observability.HealthChecker); ok {
		readiness.AssetRepository = hc
	}
	if assetCache != nil {
		readiness.AssetCache = assetCache
	}

	var hmacSecret []byte
	if cfg.Identity.HMACSecretEnv != "" {
		hmacSecret = []byte(os.Getenv(cfg.Identity.HMACSecretEnv))
	}
	var jwks *transport.JWKSClient
	if cfg.Identity.JWKSURL != "" {
		jwks = transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks, hmacSecret),
		CapabilityResolver: capResolver,
		Catalog:            registry,
		Sessions:           engine,
		Assets:             loader,
		Committer:          committer,
		API:                apiIndex,
		Metrics:            metrics,
		MetricsHandler:     observability.Handler(),
		Readiness:          readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go runSessionSweeper(bgCtx, engine, cfg.Session.SweepInterval, logger)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("catalog", tables.Source),
		zap.String("catalog_checksum", tables.Checksum),
		zap.String("session_store", cfg.Session.Store),
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
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// In-flight model loads observe the tracker's context.
	bgCancel()
	tracker.Close()
	engine.Wait()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// buildCapabilityResolver creates the appropriate resolver based on config.
func buildCapabilityResolver(cfg config.CapabilityConfig, metrics *observability.Metrics) (*capability.Resolver, error) {
	switch cfg.Evaluator {
	case "static", "":
		evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		return capability.NewResolver(evaluator, cfg.Cache, metrics), nil
	default:
		return nil, fmt.Errorf("unsupported capability evaluator: %q", cfg.Evaluator)
	}
}

// backendSet opens Redis clients and PostgreSQL pools for the configured
// drivers and registers their closers.
type backendSet struct {
	logger  *zap.Logger
	closers *closers
}

func (b *backendSet) redis(name string, cfg config.RedisConfig) (*redis.Client, error) {
	addr := os.Getenv(cfg.AddrEnv)
	if addr == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", name, cfg.AddrEnv)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	b.closers.add(func() { _ = client.Close() })
	b.logger.Info("using redis", zap.String("component", name), zap.Int("db", cfg.DB))
	return client, nil
}

func (b *backendSet) postgres(ctx context.Context, name string, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn := os.Getenv(cfg.DSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", name, cfg.DSNEnv)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: parse DSN: %w", name, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", name, err)
	}
	b.closers.add(pool.Close)
	b.logger.Info("using postgres", zap.String("component", name))
	return pool, nil
}

func (b *backendSet) sessionStore(cfg config.SessionConfig) (selection.SessionStore, error) {
	switch cfg.Store {
	case "redis":
		client, err := b.redis("session store", cfg.Redis)
		if err != nil {
			return nil, err
		}
		return selection.NewRedisSessionStore(client, cfg.Redis.KeyPrefix, cfg.TTL), nil
	default:
		b.logger.Info("using in-memory session store")
		return selection.NewMemorySessionStore(), nil
	}
}

// assetRepository returns the record repository, wrapped in a cache unless
// the cache driver is "none", along with the cache itself.
func (b *backendSet) assetRepository(ctx context.Context, cfg config.AssetsConfig, metrics *observability.Metrics) (asset.Repository, observability.HealthChecker, error) {
	var repo asset.Repository
	switch cfg.Repository {
	case "postgres":
		pool, err := b.postgres(ctx, "asset repository", cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		repo = asset.NewPgRepository(pool)
	default:
		var records []asset.Record
		if cfg.SeedFile != "" {
			var err error
			records, err = asset.LoadSeedFile(cfg.SeedFile)
			if err != nil {
				return nil, nil, err
			}
		}
		b.logger.Info("using in-memory asset repository", zap.Int("records", len(records)))
		repo = asset.NewMemoryRepository(records...)
	}

	var cache interface {
		asset.Cache
		observability.HealthChecker
	}
	switch cfg.Cache.Driver {
	case "none":
		return repo, nil, nil
	case "redis":
		client, err := b.redis("asset cache", cfg.Cache.Redis)
		if err != nil {
			return nil, nil, err
		}
		cache = asset.NewRedisCache(client, cfg.Cache.Redis.KeyPrefix, cfg.Cache.TTL)
	default:
		cache = asset.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxEntries)
	}
	return asset.NewCachedRepository(repo, cache, b.logger, metrics), cache, nil
}

func (b *backendSet) jobWriter(ctx context.Context, cfg config.JobsConfig) (interface {
	jobzone.Writer
	observability.HealthChecker
}, error) {
	switch cfg.Writer {
	case "postgres":
		pool, err := b.postgres(ctx, "job writer", cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return jobzone.NewPgWriter(pool), nil
	default:
		b.logger.Info("using in-memory job zone writer")
		return jobzone.NewMemoryWriter(), nil
	}
}

func (b *backendSet) idempotencyStore(cfg config.IdempotencyConfig) (interface {
	jobzone.IdempotencyStore
	observability.HealthChecker
}, error) {
	switch cfg.Driver {
	case "redis":
		client, err := b.redis("idempotency store", cfg.Redis)
		if err != nil {
			return nil, err
		}
		return jobzone.NewRedisIdempotencyStore(client, cfg.Redis.KeyPrefix), nil
	default:
		b.logger.Info("using in-memory idempotency store")
		return jobzone.NewMemoryIdempotencyStore(), nil
	}
}

// runSessionSweeper periodically removes expired configurator sessions.
func runSessionSweeper(ctx context.Context, engine *selection.Engine, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := engine.Sweep(ctx); err != nil {
				logger.Error("session sweep failed", zap.Error(err))
			}
		}
	}
}
