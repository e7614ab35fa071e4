// Package app wires the engine's components from configuration. Each process
// builds one App and passes its handles explicitly; nothing is process-global.
package app

import (
	"context"
	"fmt"

	"github.com/pick-aggregator/internal/adapter"
	"github.com/pick-aggregator/internal/aggregation"
	"github.com/pick-aggregator/internal/calculator"
	"github.com/pick-aggregator/internal/config"
	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/fetcher"
	"github.com/pick-aggregator/internal/leaderboard"
	"github.com/pick-aggregator/internal/lock"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/notify"
	"github.com/pick-aggregator/internal/ratelimit"
	"github.com/pick-aggregator/internal/retry"
	"github.com/pick-aggregator/internal/scheduler"
	"github.com/pick-aggregator/internal/storage"
	"github.com/pick-aggregator/internal/worker"
)

// App holds the connections and the wired scheduler
type App struct {
	Config     *config.Config
	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB
	Cache      *storage.CacheService
	Fetcher    *fetcher.Fetcher
	Scheduler  *scheduler.Scheduler
	// Forwarder is set when NOTIFY_MODE=listen
	Forwarder *notify.Forwarder
}

// New connects to every store and builds the scheduler
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg}

	var err error
	a.Postgres, err = storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	a.Redis, err = storage.NewRedisCache(ctx, &cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
	}

	picks := storage.NewPickRepository(a.Postgres)
	a.Cache = storage.NewCacheService(a.Redis, cfg.Cache.TTL)

	fetcherConfig := fetcher.Config{
		CallTimeout:       cfg.Provider.Timeout,
		StorageTimeout:    cfg.Cycle.StorageTimeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Retry: &retry.RetryConfig{
			MaxAttempts:  cfg.Provider.RetryAttempts,
			InitialDelay: cfg.Provider.RetryInitialDelay,
			MaxDelay:     cfg.Provider.RetryMaxDelay,
			Multiplier:   2,
		},
	}
	if cfg.Provider.CUBudget > 0 {
		budget, err := newProviderBudget(a.Redis, cfg.Provider)
		if err != nil {
			a.Close()
			return nil, err
		}
		fetcherConfig.Budget = budget
		fetcherConfig.BudgetEndpoint = ratelimit.EndpointTokenOverview
	}

	a.Fetcher = fetcher.New(
		adapter.NewMarketDataClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout),
		picks,
		fetcherConfig,
		logger,
	)

	pool, err := worker.NewPool(worker.PoolConfig{
		BatchSize:      cfg.Cycle.BatchSize,
		WorkerCount:    cfg.Cycle.WorkerCount,
		ShutdownGrace:  cfg.Cycle.ShutdownGrace,
		StorageTimeout: cfg.Cycle.StorageTimeout,
	}, calculator.New(cfg.Cycle.HitThreshold), picks, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	sink := notify.NewStreamSink(a.Redis, cfg.Notify.Stream, cfg.Notify.StreamMaxLen)
	listenMode := cfg.Notify.Mode == "listen"
	if listenMode {
		a.Forwarder = notify.NewForwarder(storage.NewChangeFeed(a.Postgres, cfg.Notify.ListenChannels), sink, cfg.Notify.ListenChannels, logger)
	}

	isMiss := func(err error) bool { return errors.Is(err, storage.ErrCacheMiss) }
	components := scheduler.Components{
		Locks:     lock.NewManager(a.Redis, cfg.InstanceID, isMiss, logger),
		Picks:     picks,
		Fetcher:   a.Fetcher,
		Pool:      pool,
		Engine:    aggregation.NewEngine(calculator.NewQualifier(cfg.Qualify)),
		Builder:   leaderboard.NewBuilder(),
		Publisher: notify.NewCachePublisher(a.Cache, cfg.Cache.Timeout, logger),
		Notifier:  notify.NewNotifier(sink, !listenMode, logger),
	}
	if a.ClickHouse != nil {
		components.Archive = storage.NewLeaderboardArchive(a.ClickHouse)
	}

	a.Scheduler, err = scheduler.New(scheduler.Config{
		LockKey:        cfg.LockKey(),
		LockTTL:        cfg.Cycle.LockTTL,
		Interval:       cfg.Cycle.Interval,
		Retention:      cfg.Cycle.Retention,
		StorageTimeout: cfg.Cycle.StorageTimeout,
	}, components, logger.WithField("instance_id", cfg.InstanceID))
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// newProviderBudget charges cycle fetches to the low priority pool so interactive
// readers sharing the API key keep their reserved share.
func newProviderBudget(rc *storage.RedisCache, cfg config.ProviderConfig) (*ratelimit.RateController, error) {
	shared, err := ratelimit.NewSharedBudget(&ratelimit.SharedBudgetConfig{
		Redis:          rc.Client(),
		TotalBudget:    cfg.CUBudget,
		ReservedBudget: cfg.CUReserved,
		WindowSize:     cfg.CUWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("provider budget: %w", err)
	}
	return ratelimit.NewRateController(&ratelimit.RateControllerConfig{
		Budget:   shared,
		Priority: ratelimit.PriorityLow,
	})
}

// Close releases every connection that was opened
func (a *App) Close() {
	if a.ClickHouse != nil {
		_ = a.ClickHouse.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
