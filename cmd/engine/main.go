// Package main runs the pick aggregation engine: the cycle scheduler plus the ops
// HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pick-aggregator/internal/api"
	"github.com/pick-aggregator/internal/app"
	"github.com/pick-aggregator/internal/config"
	"github.com/pick-aggregator/internal/logging"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Default().WithError(err).Fatal("Failed to load configuration")
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logging.SetDefault(logger)
	logger.WithFields(map[string]interface{}{
		"environment": cfg.Environment,
		"instance_id": cfg.InstanceID,
		"interval":    cfg.Cycle.Interval.String(),
		"batchSize":   cfg.Cycle.BatchSize,
		"workers":     cfg.Cycle.WorkerCount,
		"notifyMode":  cfg.Notify.Mode,
	}).Info("Pick aggregation engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}
	defer a.Close()

	opts := []api.Option{
		api.WithHealthCheck("postgres", a.Postgres.Ping),
		api.WithHealthCheck("redis", a.Redis.Ping),
		api.WithBreakerState(a.Fetcher.BreakerState),
	}
	if a.ClickHouse != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", a.ClickHouse.Ping))
	}

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Ops.Host,
		Port:              cfg.Ops.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		TriggerRPS:        cfg.Ops.TriggerRPS,
		TriggerBurst:      cfg.Ops.TriggerBurst,
		CycleWriteTimeout: cfg.Ops.CycleWriteTimeout,
	}, a.Scheduler, a.Cache, logger, opts...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.Scheduler.Run(gctx)
	})

	if a.Forwarder != nil {
		g.Go(func() error {
			return a.Forwarder.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Engine stopped with error")
		os.Exit(1)
	}
	logger.Info("Engine exited")
}
