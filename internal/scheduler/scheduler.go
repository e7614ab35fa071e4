// Package scheduler drives the aggregation cycle: lock, refresh pending picks,
// aggregate, rank, publish, release.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pick-aggregator/internal/aggregation"
	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/fetcher"
	"github.com/pick-aggregator/internal/leaderboard"
	"github.com/pick-aggregator/internal/lock"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/notify"
	"github.com/pick-aggregator/internal/types"
	"github.com/pick-aggregator/internal/worker"
)

var (
	errLeaseLost = errors.New("lock lease lost")
	errShutdown  = errors.New("shutdown requested")
)

// PickSource reads picks from the relational store
type PickSource interface {
	ListPendingPicks(ctx context.Context, filter models.PickFilter) ([]*models.TokenPick, error)
}

// Archive keeps leaderboard history
type Archive interface {
	Append(ctx context.Context, snapshots []*models.LeaderboardSnapshot) error
}

// Config holds cycle settings
type Config struct {
	LockKey        string
	LockTTL        time.Duration
	Interval       time.Duration
	Retention      time.Duration
	StorageTimeout time.Duration
	ReleaseTimeout time.Duration
	Chains         []types.ChainID
}

// Components are the collaborators of a cycle. Archive is optional.
type Components struct {
	Locks     *lock.Manager
	Picks     PickSource
	Fetcher   *fetcher.Fetcher
	Pool      *worker.Pool
	Engine    *aggregation.Engine
	Builder   *leaderboard.Builder
	Publisher *notify.CachePublisher
	Notifier  *notify.Notifier
	Archive   Archive
}

// Scheduler runs cycles. RunCycle is the only entry point that mutates state.
type Scheduler struct {
	cfg    Config
	c      Components
	logger *logging.Logger
	now    func() time.Time

	running atomic.Bool

	mu   sync.RWMutex
	last *models.CycleSummary
}

// New creates a scheduler
func New(cfg Config, c Components, logger *logging.Logger) (*Scheduler, error) {
	if cfg.LockKey == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if cfg.LockTTL <= 0 || cfg.Interval <= 0 {
		return nil, fmt.Errorf("lock ttl and interval must be positive")
	}
	if c.Locks == nil || c.Picks == nil || c.Fetcher == nil || c.Pool == nil ||
		c.Engine == nil || c.Builder == nil || c.Publisher == nil || c.Notifier == nil {
		return nil, fmt.Errorf("scheduler is missing a required component")
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Scheduler{
		cfg:    cfg,
		c:      c,
		logger: logger.WithField("component", "scheduler"),
		now:    time.Now,
	}, nil
}

// Run starts a cycle immediately and then Interval after each cycle finishes, until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithFields(map[string]interface{}{
		"interval": s.cfg.Interval.String(),
		"lockKey":  s.cfg.LockKey,
	}).Info("Scheduler started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-timer.C:
		}

		_, _ = s.RunCycle(ctx)
		timer.Reset(s.cfg.Interval)
	}
}

// RunCycle executes one cycle. The returned error is set only for aborted cycles;
// a skipped cycle is not a failure.
func (s *Scheduler) RunCycle(ctx context.Context) (*models.CycleSummary, error) {
	start := s.now()
	sum := &models.CycleSummary{CycleID: uuid.NewString(), StartedAt: start}
	logger := s.logger.WithField("cycle_id", sum.CycleID)
	ctx = logging.WithLogger(ctx, logger)

	if !s.running.CompareAndSwap(false, true) {
		return s.finish(logger, sum, types.OutcomeSkipped, "cycle already running in this process", nil), nil
	}
	defer s.running.Store(false)

	lease, err := s.c.Locks.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.IsLockContention(err) {
			return s.finish(logger, sum, types.OutcomeSkipped, err.Error(), nil), nil
		}
		return s.finish(logger, sum, types.OutcomeAborted, "lock unavailable", err), err
	}
	logger = logger.WithField("owner", lease.Owner())
	ctx = logging.WithLogger(ctx, logger)

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ReleaseTimeout)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			logger.WithError(err).Warn("Failed to release cycle lock; it will expire")
		}
	}()
	lease.StartHeartbeat(ctx)

	cycleCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-lease.Lost():
			cancel(errLeaseLost)
		case <-cycleCtx.Done():
		}
	}()

	err = s.execute(cycleCtx, sum, start.UnixMilli())
	if err != nil {
		reason := err.Error()
		if cause := context.Cause(cycleCtx); cause != nil && !errors.Is(cause, context.Canceled) {
			reason = cause.Error()
		}
		return s.finish(logger, sum, types.OutcomeAborted, reason, err), err
	}
	return s.finish(logger, sum, types.OutcomeCompleted, "", nil), nil
}

func (s *Scheduler) execute(ctx context.Context, sum *models.CycleSummary, version int64) error {
	logger := logging.FromContext(ctx)

	pending, err := s.listPicks(ctx, models.PickFilter{
		CalledAfter: sum.StartedAt.Add(-s.cfg.Retention),
		Chains:      s.cfg.Chains,
	})
	if err != nil {
		return err
	}
	sum.PendingPicks = len(pending)

	session := s.c.Fetcher.NewSession()
	run, err := s.c.Pool.Run(ctx, session, pending)
	sum.TokensFetched, sum.TokensSkipped = session.Stats()
	if run != nil {
		sum.Batches = run.Batches
		sum.FailedBatches = run.FailedBatches
		sum.Processed = run.Processed
		sum.Failed = run.Failed
		sum.Skipped = run.Skipped
		sum.Updated = run.Updated
		sum.NewHits = run.NewHits
	}
	if err != nil {
		return err
	}
	if run.Interrupted {
		return s.interruption(ctx)
	}

	// Projections are rebuilt from every pick, not only the refreshed ones.
	all, err := s.listPicks(ctx, models.PickFilter{Chains: s.cfg.Chains})
	if err != nil {
		return err
	}

	agg := s.c.Engine.Aggregate(all, sum.StartedAt)
	out := s.c.Builder.Build(agg, version)
	sum.UsersRanked = len(agg.Users)
	sum.GroupsAggregated = len(agg.Groups)
	sum.Snapshots = len(out.Snapshots)

	// A holder that lost the lease must not overwrite the new holder's projections.
	if ctx.Err() != nil {
		return s.interruption(ctx)
	}

	if res, err := s.c.Publisher.Publish(ctx, agg, out); err != nil {
		logger.WithError(err).WithField("failedWrites", res.Failed).Warn("Cache refresh incomplete; readers keep previous values")
	}

	if s.c.Archive != nil {
		actx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
		if err := s.c.Archive.Append(actx, out.Snapshots); err != nil {
			logger.WithError(err).Warn("Failed to archive leaderboard snapshots")
		}
		cancel()
	}

	picked, err := s.c.Notifier.PickUpdates(ctx, run.Updates, version)
	if err != nil {
		logger.WithError(err).Warn("Some pick events were not published")
	}
	boards, err := s.c.Notifier.LeaderboardRefreshed(ctx, out.Snapshots)
	if err != nil {
		logger.WithError(err).Warn("Some leaderboard events were not published")
	}
	sum.EventsPublished = picked + boards

	return nil
}

func (s *Scheduler) listPicks(ctx context.Context, filter models.PickFilter) ([]*models.TokenPick, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	picks, err := s.c.Picks.ListPendingPicks(sctx, filter)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.interruption(ctx)
		}
		return nil, errors.NewStorageError("list picks", err)
	}
	return picks, nil
}

func (s *Scheduler) interruption(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), errLeaseLost) {
		return errLeaseLost
	}
	return errShutdown
}

func (s *Scheduler) finish(logger *logging.Logger, sum *models.CycleSummary, outcome types.CycleOutcome, reason string, err error) *models.CycleSummary {
	sum.Outcome = outcome
	sum.Reason = reason
	sum.FinishedAt = s.now()

	fields := map[string]interface{}{
		"outcome":    outcome,
		"duration":   sum.Duration().String(),
		"pending":    sum.PendingPicks,
		"batches":    sum.Batches,
		"processed":  sum.Processed,
		"skipped":    sum.Skipped,
		"updated":    sum.Updated,
		"newHits":    sum.NewHits,
		"snapshots":  sum.Snapshots,
		"eventsSent": sum.EventsPublished,
	}
	switch outcome {
	case types.OutcomeCompleted:
		logger.WithFields(fields).Info("Cycle completed")
	case types.OutcomeSkipped:
		logger.WithField("reason", reason).Info("Cycle skipped")
	default:
		logger.WithFields(fields).WithError(err).Error("Cycle aborted")
	}

	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()
	return sum
}

// LastResult returns a copy of the most recent cycle summary, or nil
func (s *Scheduler) LastResult() *models.CycleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	c := *s.last
	return &c
}

// Running reports whether a cycle is in progress in this process
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LockStatus reports who holds the cycle lock
func (s *Scheduler) LockStatus(ctx context.Context) (*lock.Status, error) {
	return s.c.Locks.Status(ctx, s.cfg.LockKey)
}
