package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cardgift/cardgift/internal/cache"
	"github.com/cardgift/cardgift/internal/config"
	"github.com/cardgift/cardgift/internal/dataservice"
	"github.com/cardgift/cardgift/internal/infra"
	"github.com/cardgift/cardgift/internal/ledger"
	"github.com/cardgift/cardgift/internal/logging"
	"github.com/cardgift/cardgift/internal/notification"
	"github.com/cardgift/cardgift/internal/ratelimit"
	"github.com/cardgift/cardgift/internal/routes"
	"github.com/cardgift/cardgift/internal/secure"
	"github.com/cardgift/cardgift/internal/server"
	"github.com/cardgift/cardgift/internal/store"
)

type connections struct {
	db    *pgxpool.Pool
	redis *redis.Client
	mongo *mongo.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName)
	slog.SetDefault(logger)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			logger.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	conns, err := connect(ctx, cfg)
	if err != nil {
		logger.Error("connect backends", "error", err)
		os.Exit(1)
	}
	defer conns.close(ctx, logger)

	backend, err := storeBackend(ctx, cfg, conns)
	if err != nil {
		logger.Error("build store", "error", err)
		os.Exit(1)
	}

	var readCache cache.Cache = cache.NewMemory()
	if cfg.CacheBackend == config.BackendRedis {
		readCache = cache.NewRedis(conns.redis)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.RateLimit.MaxPerWindow, cfg.RateLimit.Window)
	if cfg.RateLimitBackend == config.BackendRedis {
		limiter = ratelimit.NewRedis(conns.redis, cfg.RateLimit.MaxPerWindow, cfg.RateLimit.Window, logger)
	}

	gateway, err := ledgerGateway(ctx, cfg, conns, logger)
	if err != nil {
		logger.Error("build ledger gateway", "error", err)
		os.Exit(1)
	}

	svc, err := dataservice.NewService(cfg, dataservice.Deps{
		Store:   store.New(backend, cfg.Limits.StoreMaxBytes, logger),
		Cache:   readCache,
		Limiter: limiter,
		Crypto:  secure.New(secure.WithLogger(logger)),
		Gateway: gateway,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("build data service", "error", err)
		os.Exit(1)
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	sweeperDone := cache.StartSweeper(bgCtx, readCache, cfg.Cache.SweepInterval, logger)
	notifier := notification.NewDeduplicator(notification.NewLoggerNotifier(logger), 10*time.Minute)
	watchDone := svc.WatchMirror(bgCtx, notifier)

	srv, err := server.New(cfg, routes.Deps{
		Service: svc,
		DB:      conns.db,
		Redis:   conns.redis,
		Mongo:   conns.mongo,
		Gateway: gateway,
		Limiter: limiter,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		exitCode = 1
	}

	// Drain queued ledger writes before the watcher and sweeper stop.
	svc.Close(shutdownCtx)
	<-watchDone
	stopBackground()
	<-sweeperDone

	if exitCode != 0 {
		conns.close(ctx, logger)
		os.Exit(exitCode)
	}
	logger.Info("server exited cleanly")
}

func connect(ctx context.Context, cfg config.Config) (*connections, error) {
	c := &connections{}
	needs := func(backend string) bool {
		return cfg.StoreBackend == backend || cfg.CacheBackend == backend ||
			cfg.RateLimitBackend == backend || cfg.LedgerBackend == backend
	}

	var err error
	if needs(config.BackendPostgres) || cfg.DatabaseURL != "" {
		if c.db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
	}
	if needs(config.BackendRedis) || cfg.RedisURL != "" {
		if c.redis, err = infra.NewRedisClient(ctx, cfg.RedisURL); err != nil {
			c.close(ctx, slog.Default())
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	if needs(config.BackendMongo) {
		if c.mongo, err = infra.NewMongoClient(ctx, cfg.MongoURL); err != nil {
			c.close(ctx, slog.Default())
			return nil, fmt.Errorf("mongo: %w", err)
		}
	}
	return c, nil
}

func (c *connections) close(ctx context.Context, logger *slog.Logger) {
	if c.mongo != nil {
		if err := c.mongo.Disconnect(ctx); err != nil {
			logger.Warn("close mongo", "error", err)
		}
		c.mongo = nil
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
		c.redis = nil
	}
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

func storeBackend(ctx context.Context, cfg config.Config, c *connections) (store.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg := store.NewPostgresBackend(c.db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case config.BackendMongo:
		return store.NewMongoBackend(c.mongo.Database(cfg.MongoDB)), nil
	case config.BackendRedis:
		return store.NewRedisBackend(c.redis), nil
	default:
		return store.NewMemoryBackend(), nil
	}
}

// ledgerGateway builds and connects the configured gateway. A gateway that
// fails to connect is still returned; writes then stay local-only.
func ledgerGateway(ctx context.Context, cfg config.Config, c *connections, logger *slog.Logger) (ledger.Gateway, error) {
	prices := ledger.Prices{
		Activation: cfg.Ledger.ActivationPrice,
		MiniAdmin:  cfg.Ledger.MiniAdminPrice,
		SuperAdmin: cfg.Ledger.SuperAdminPrice,
	}

	var gw ledger.Gateway
	switch cfg.LedgerBackend {
	case config.BackendNone:
		return nil, nil
	case config.BackendPostgres:
		pl := ledger.NewPostgresLedger(c.db, cfg.Ledger.WalletAddress, prices)
		if err := pl.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		gw = pl
	default:
		gw = ledger.NewInMemory(cfg.Ledger.WalletAddress, ledger.WithPrices(prices))
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.CallTimeout)
	defer cancel()
	address, err := gw.Connect(connectCtx)
	if err != nil {
		logger.Warn("ledger wallet not connected, writes stay local", "error", err)
		return gw, nil
	}
	if n, ok := gw.(ledger.Network); ok {
		if err := ledger.EnsureNetwork(connectCtx, n, routes.NetworkParams(cfg)); err != nil {
			logger.Warn("ledger network check failed", "error", err)
		}
	}
	logger.Info("ledger wallet connected", "address", address, "backend", cfg.LedgerBackend)
	return gw, nil
}
