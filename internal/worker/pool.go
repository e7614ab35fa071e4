// Package worker partitions pending picks into batches and drives them through the
// fetcher and calculator on a bounded pool.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/pick-aggregator/internal/calculator"
	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/storage"
	"golang.org/x/sync/errgroup"
)

// PickStore persists refreshed picks
type PickStore interface {
	UpsertPick(ctx context.Context, pick *models.TokenPick) error
}

// BatchFetcher returns one snapshot per distinct token of a batch
type BatchFetcher interface {
	FetchBatch(ctx context.Context, picks []*models.TokenPick) (map[models.TokenKey]*models.MarketSnapshot, error)
}

// PoolConfig holds worker pool configuration
type PoolConfig struct {
	BatchSize      int
	WorkerCount    int
	ShutdownGrace  time.Duration
	StorageTimeout time.Duration
}

// PickUpdate is a pick whose performance fields were persisted this cycle
type PickUpdate struct {
	Pick   *models.TokenPick
	NewHit bool
}

// RunResult summarizes one pass over the pending picks
type RunResult struct {
	Batches       int
	Dispatched    int
	FailedBatches int
	Processed     int
	Failed        int
	Skipped       int
	Updated       int
	NewHits       int
	Updates       []PickUpdate
	// Interrupted is set when shutdown or a lost lease stopped dispatch early
	Interrupted bool
}

// Pool runs batches with at most WorkerCount in flight. Picks inside a batch are
// processed sequentially.
type Pool struct {
	cfg    PoolConfig
	calc   *calculator.Calculator
	store  PickStore
	logger *logging.Logger
	now    func() time.Time
}

// NewPool creates a worker pool
func NewPool(cfg PoolConfig, calc *calculator.Calculator, store PickStore, logger *logging.Logger) (*Pool, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.WorkerCount)
	}
	if calc == nil || store == nil {
		return nil, fmt.Errorf("calculator and pick store are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pool{
		cfg:    cfg,
		calc:   calc,
		store:  store,
		logger: logger.WithField("component", "worker_pool"),
		now:    time.Now,
	}, nil
}

// Partition splits picks into consecutive batches of at most size picks
func Partition(picks []*models.TokenPick, size int) [][]*models.TokenPick {
	if size <= 0 || len(picks) == 0 {
		return nil
	}
	batches := make([][]*models.TokenPick, 0, (len(picks)+size-1)/size)
	for start := 0; start < len(picks); start += size {
		end := start + size
		if end > len(picks) {
			end = len(picks)
		}
		batches = append(batches, picks[start:end])
	}
	return batches
}

type batchResult struct {
	processed int
	failed    int
	skipped   int
	updates   []PickUpdate
	firstErr  error
}

// Run processes every pick once.
//
// Cancelling ctx stops dispatch of new batches; batches already running get
// ShutdownGrace to finish before their context is cancelled too. A storage error
// aborts the remaining work and is returned. Any other failure stays inside its pick
// or batch.
func (p *Pool) Run(ctx context.Context, fetcher BatchFetcher, picks []*models.TokenPick) (*RunResult, error) {
	batches := Partition(picks, p.cfg.BatchSize)
	res := &RunResult{Batches: len(batches)}
	if len(batches) == 0 {
		return res, nil
	}

	finished := make(chan struct{})
	defer close(finished)

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	go func() {
		select {
		case <-finished:
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(p.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-finished:
		case <-timer.C:
			p.logger.Warn("Shutdown grace period elapsed; cancelling in-flight batches")
			cancelWork()
		}
	}()

	g, gctx := errgroup.WithContext(logging.WithLogger(workCtx, logging.FromContext(ctx)))
	g.SetLimit(p.cfg.WorkerCount)

	var mu sync.Mutex
	for i, batch := range batches {
		if ctx.Err() != nil || gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			// Shutdown may have arrived while waiting for a free worker.
			if ctx.Err() != nil {
				return nil
			}
			mu.Lock()
			res.Dispatched++
			mu.Unlock()

			br, err := p.runBatch(gctx, i, batch, fetcher)

			mu.Lock()
			defer mu.Unlock()
			res.Processed += br.processed
			res.Failed += br.failed
			res.Skipped += br.skipped
			res.Updates = append(res.Updates, br.updates...)
			if err != nil {
				if errors.IsStorage(err) {
					return err
				}
				res.FailedBatches++
				return nil
			}
			if br.processed == 0 {
				res.FailedBatches++
			}
			return nil
		})
	}

	err := g.Wait()
	res.Interrupted = ctx.Err() != nil

	sort.Slice(res.Updates, func(a, b int) bool { return res.Updates[a].Pick.ID < res.Updates[b].Pick.ID })
	for _, u := range res.Updates {
		res.Updated++
		if u.NewHit {
			res.NewHits++
		}
	}

	return res, err
}

func (p *Pool) runBatch(ctx context.Context, index int, batch []*models.TokenPick, fetcher BatchFetcher) (br batchResult, err error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"batch": index,
		"picks": len(batch),
	})

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("stack", string(debug.Stack())).Errorf("Batch panicked: %v", r)
			err = errors.NewInternalError(fmt.Sprintf("batch %d panicked", index), fmt.Errorf("%v", r))
		}
	}()

	snaps, err := fetcher.FetchBatch(ctx, batch)
	if err != nil {
		return br, err
	}

	for _, pick := range batch {
		if ctx.Err() != nil {
			logger.Warn("Batch cancelled before completion")
			break
		}

		snap, ok := snaps[pick.TokenKey()]
		if !ok {
			// Token skipped this cycle; stored fields stay as they are.
			br.skipped++
			continue
		}

		update, err := p.processPick(ctx, pick, snap)
		if err != nil {
			if errors.IsStorage(err) {
				return br, err
			}
			br.failed++
			if br.firstErr == nil {
				br.firstErr = err
			}
			logger.WithField("pick_id", pick.ID).WithError(err).Debug("Pick failed")
			continue
		}
		br.processed++
		if update != nil {
			br.updates = append(br.updates, *update)
		}
	}

	if br.failed > 0 {
		logger.WithError(errors.NewPartialBatchFailure(index, br.failed, len(batch), br.firstErr)).Warn("Batch finished with failed picks")
	}
	logger.WithFields(map[string]interface{}{
		"processed": br.processed,
		"skipped":   br.skipped,
		"updated":   len(br.updates),
	}).Debug("Batch finished")

	return br, nil
}

func (p *Pool) processPick(ctx context.Context, pick *models.TokenPick, snap *models.MarketSnapshot) (*PickUpdate, error) {
	result, err := p.calc.Apply(pick, snap, p.now())
	if err != nil {
		return nil, err
	}
	if !result.Changed {
		return nil, nil
	}

	storeCtx := ctx
	if p.cfg.StorageTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, p.cfg.StorageTimeout)
		defer cancel()
	}
	if err := p.store.UpsertPick(storeCtx, result.Pick); err != nil {
		if errors.Is(err, storage.ErrPickNotFound) {
			return nil, errors.NewPermanentDataError(pick.TokenKey().String(), fmt.Sprintf("pick %d no longer exists", pick.ID))
		}
		return nil, errors.NewStorageError("upsert pick", err)
	}

	return &PickUpdate{Pick: result.Pick, NewHit: result.NewHit}, nil
}
