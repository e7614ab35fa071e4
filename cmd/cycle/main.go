// Package main runs exactly one aggregation cycle and prints its summary, or the
// cycle lock status with -status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pick-aggregator/internal/app"
	"github.com/pick-aggregator/internal/config"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/types"
)

func main() {
	status := flag.Bool("status", false, "print the cycle lock status and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}
	defer a.Close()

	if *status {
		st, err := a.Scheduler.LockStatus(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Failed to read lock status")
		}
		printJSON(st)
		return
	}

	summary, err := a.Scheduler.RunCycle(ctx)
	printJSON(summary)
	if err != nil || summary.Outcome == types.OutcomeAborted {
		a.Close()
		os.Exit(2)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
