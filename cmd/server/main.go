// Package main runs the analytics service: HTTP request path, live channel,
// background refresh and cache warm start.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"solana-token-analytics/internal/analytics"
	"solana-token-analytics/internal/cache"
	"solana-token-analytics/internal/config"
	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/gateway"
	"solana-token-analytics/internal/logger"
	"solana-token-analytics/internal/metrics"
	"solana-token-analytics/internal/price"
	"solana-token-analytics/internal/scheduler"
	"solana-token-analytics/internal/server"
	"solana-token-analytics/internal/solana"
	"solana-token-analytics/internal/storage"
	chstore "solana-token-analytics/internal/storage/clickhouse"
	"solana-token-analytics/internal/storage/memory"
	"solana-token-analytics/internal/storage/migrations"
	pgstore "solana-token-analytics/internal/storage/postgres"
	"solana-token-analytics/internal/subscription"
)

func main() {
	app := &cli.App{
		Name:  "server",
		Usage: "Solana token analytics and live holder streaming",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "http-addr", Aliases: []string{"a"}, Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-url", Usage: "Solana RPC HTTP endpoint"},
			&cli.StringFlag{Name: "ws-url", Usage: "Solana WebSocket endpoint, empty disables live watches"},
			&cli.StringFlag{Name: "price-url", Usage: "Price API endpoint"},
			&cli.StringFlag{Name: "postgres-dsn", Usage: "PostgreSQL connection string"},
			&cli.StringFlag{Name: "clickhouse-dsn", Usage: "ClickHouse connection string"},
			&cli.BoolFlag{Name: "use-memory", Usage: "Use in-memory storage instead of PostgreSQL and ClickHouse"},
			&cli.BoolFlag{Name: "no-warm-start", Usage: "Skip loading recent snapshots into the cache"},
			&cli.DurationFlag{Name: "refresh-interval", Usage: "Background refresh interval"},
			&cli.BoolFlag{Name: "dev", Usage: "Development logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.IsSet("http-addr") {
		cfg.HTTPAddr = c.String("http-addr")
	}
	if c.IsSet("rpc-url") {
		cfg.SolanaRPCURL = c.String("rpc-url")
	}
	if c.IsSet("ws-url") {
		cfg.SolanaWSURL = c.String("ws-url")
	}
	if c.IsSet("price-url") {
		cfg.PriceAPIURL = c.String("price-url")
	}
	if c.IsSet("postgres-dsn") {
		cfg.PostgresDSN = c.String("postgres-dsn")
	}
	if c.IsSet("clickhouse-dsn") {
		cfg.ClickHouseDSN = c.String("clickhouse-dsn")
	}
	if c.Bool("use-memory") {
		cfg.PostgresDSN = ""
		cfg.ClickHouseDSN = ""
	}
	if c.IsSet("refresh-interval") {
		cfg.RefreshInterval = c.Duration("refresh-interval")
	}
	if c.IsSet("dev") {
		cfg.Development = c.Bool("dev")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case sig := <-sigCh:
			log.Infow("received signal, initiating graceful shutdown", "signal", sig.String())
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			log.Warnw("received second signal, forcing immediate shutdown", "signal", sig.String())
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warnw("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	rpc := solana.NewHTTPClient(cfg.SolanaRPCURL, solana.WithTimeout(cfg.UpstreamTimeout))
	prices := price.NewClient(cfg.PriceAPIURL)

	gwOpts := []gateway.Option{gateway.WithLogger(log.Named("gateway"))}
	if cfg.SolanaWSURL != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = log.Named("ws")
		ws, err := solana.NewWSClient(ctx, cfg.SolanaWSURL, &wsCfg)
		if err != nil {
			// The request path still works; only live watches are unavailable.
			log.Warnw("websocket connect failed, live watches disabled", "url", cfg.SolanaWSURL, "error", err)
		} else {
			defer ws.Close()
			gwOpts = append(gwOpts, gateway.WithWatcher(ws))
		}
	}

	gw := gateway.New(rpc, prices, gateway.Config{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		QueueTimeout:   cfg.RateLimitQueueTimeout,
		CallTimeout:    cfg.UpstreamTimeout,
		Retry: gateway.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
			Multiplier:      cfg.RetryMultiplier,
			Jitter:          cfg.RetryJitter,
		},
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerCooldown:  cfg.BreakerCooldown,
		PoolSize:         cfg.WorkerPoolSize,
		MaxTransactions:  cfg.MaxTransactions,
	}, gwOpts...)

	metricCache := cache.New(
		cache.WithTTLs(map[domain.MetricKind]time.Duration{
			domain.KindPrice:         cfg.TTLPrice,
			domain.KindMarketCap:     cfg.TTLMarketCap,
			domain.KindHolders:       cfg.TTLHolders,
			domain.KindConcentration: cfg.TTLConcentration,
			domain.KindVelocity:      cfg.TTLVelocity,
			domain.KindTransactions:  cfg.TTLTransactions,
			domain.KindBehavior:      cfg.TTLBehavior,
			domain.KindMetadata:      cfg.TTLMetadata,
		}),
		cache.WithLogger(log.Named("cache")),
	)

	engine := metrics.NewEngine(metrics.Params{
		VelocityWindow:      cfg.VelocityWindow,
		PaperhandWindow:     cfg.PaperhandWindow,
		DiamondThreshold:    cfg.DiamondThreshold,
		BehaviorLookback:    cfg.BehaviorLookback,
		MinActiveWallets:    cfg.MinActiveWallets,
		MinTransactions:     cfg.MinBehaviorTransactions,
		ExcludeProgramOwned: cfg.ExcludeProgramOwned,
	})

	activity := scheduler.NewActivity(cfg.ActivityWindow, nil)

	svc := analytics.New(analytics.Options{
		Source:              gw,
		Engine:              engine,
		Cache:               metricCache,
		TokenStore:          stores.tokens,
		HolderSnapshotStore: stores.holders,
		MetricSnapshotStore: stores.snapshots,
		Activity:            activity,
		RefreshInterval:     cfg.RefreshInterval,
		Logger:              log.Named("analytics"),
	})

	live := subscription.NewManager(gw, svc, metricCache, subscription.Config{
		QueueSize:           cfg.SessionQueueSize,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		MaxMissedHeartbeats: cfg.HeartbeatMaxMissed,
		VolatilityThreshold: cfg.VolatilityThreshold,
	}, subscription.WithLogger(log.Named("live")))

	sched := scheduler.New(scheduler.Options{
		Refresher: svc,
		Interval:  cfg.RefreshInterval,
		Sessions:  live,
		Activity:  activity,
		Sweeper:   metricCache,
		Logger:    log.Named("scheduler"),
	})

	if !c.Bool("no-warm-start") {
		if _, err := svc.WarmStart(ctx); err != nil {
			log.Warnw("cache warm start failed", "error", err)
		}
	}

	srv := server.New(server.Options{
		Analytics: svc,
		Live:      live,
		Upstream:  gw,
		Cache:     metricCache,
		Logger:    log.Named("http"),
	})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		live.Run(egCtx)
		return nil
	})
	eg.Go(func() error {
		return sched.Run(egCtx)
	})
	eg.Go(func() error {
		if err := srv.Start(egCtx, cfg.HTTPAddr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		// Server stopped without an error: shut the rest down too.
		cancel()
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infow("shutdown complete")
	return nil
}

// allStores holds the persistence layer. Nil stores disable persistence.
type allStores struct {
	tokens    storage.TokenStore
	holders   storage.HolderSnapshotStore
	snapshots storage.MetricSnapshotStore
}

// createStores opens PostgreSQL and ClickHouse when configured and applies
// migrations; otherwise falls back to in-memory stores.
func createStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*allStores, func(), error) {
	if cfg.PostgresDSN == "" || cfg.ClickHouseDSN == "" {
		log.Infow("using in-memory storage")
		stores := &allStores{
			tokens:    memory.NewTokenStore(),
			holders:   memory.NewHolderSnapshotStore(),
			snapshots: memory.NewMetricSnapshotStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := migrations.ApplyPostgres(ctx, pool.Pool, log.Named("migrations")); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse
	chConn, err := chstore.EnsureDatabase(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if _, err := migrations.ApplyClickhouse(ctx, chConn.Conn, log.Named("migrations")); err != nil {
		chConn.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (tokens + holder snapshots)
		tokens:  pgstore.NewTokenStore(pool),
		holders: pgstore.NewHolderSnapshotStore(pool),

		// ClickHouse stores (metric snapshots)
		snapshots: chstore.NewMetricSnapshotStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	log.Infow("connected to storage", "postgres", true, "clickhouse", true)
	return stores, cleanup, nil
}
