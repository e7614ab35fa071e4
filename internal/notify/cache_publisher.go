package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/pick-aggregator/internal/aggregation"
	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/leaderboard"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
)

// ProjectionStore writes derived read models to the shared cache
type ProjectionStore interface {
	PutLeaderboard(ctx context.Context, snap *models.LeaderboardSnapshot) error
	PutProfileStats(ctx context.Context, stats *models.SubjectStats) error
	PutGroupStats(ctx context.Context, groupID int64, stats *models.SubjectStats) error
	PutGroupBoard(ctx context.Context, board *models.GroupPickBoard) error
}

// PublishResult counts cache writes of one cycle
type PublishResult struct {
	Written int
	Failed  int
}

// CachePublisher replaces the cached projections with the output of a cycle.
// A failed write leaves the previous value in place until its TTL runs out.
type CachePublisher struct {
	store   ProjectionStore
	timeout time.Duration
	logger  *logging.Logger
}

// NewCachePublisher creates a publisher; every write is bounded by timeout
func NewCachePublisher(store ProjectionStore, timeout time.Duration, logger *logging.Logger) *CachePublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &CachePublisher{store: store, timeout: timeout, logger: logger}
}

// Publish writes every snapshot, profile, group aggregate and group board. It keeps
// going past failures and returns the first one as a CacheError.
func (p *CachePublisher) Publish(ctx context.Context, agg *aggregation.Result, out *leaderboard.Output) (*PublishResult, error) {
	res := &PublishResult{}
	var first error

	write := func(kind, id string, fn func(ctx context.Context) error) {
		wctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		if err := fn(wctx); err != nil {
			res.Failed++
			if first == nil {
				first = errors.NewCacheError("put "+kind+" "+id, err)
			}
			p.logger.WithFields(map[string]interface{}{
				"kind": kind,
				"id":   id,
			}).WithError(err).Warn("Failed to write projection")
			return
		}
		res.Written++
	}

	for _, snap := range out.Snapshots {
		write("leaderboard", string(snap.Timeframe)+":"+string(snap.Metric), func(ctx context.Context) error {
			return p.store.PutLeaderboard(ctx, snap)
		})
	}

	for _, userID := range agg.UserIDs() {
		stats := agg.Users[userID]
		write("profile", userID, func(ctx context.Context) error {
			return p.store.PutProfileStats(ctx, stats)
		})
	}

	for _, groupID := range agg.GroupIDs() {
		stats := agg.Groups[groupID]
		write("group", strconv.FormatInt(groupID, 10), func(ctx context.Context) error {
			return p.store.PutGroupStats(ctx, groupID, stats)
		})
	}

	for _, board := range out.Boards {
		write("group_board", strconv.FormatInt(board.GroupID, 10)+":"+string(board.Timeframe), func(ctx context.Context) error {
			return p.store.PutGroupBoard(ctx, board)
		})
	}

	return res, first
}
