package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pick-aggregator/internal/aggregation"
	apperrors "github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/leaderboard"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/storage"
	"github.com/pick-aggregator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cycleOutput() (*aggregation.Result, *leaderboard.Output) {
	picks := []*models.TokenPick{
		pick(1, "alice", 9, time.Hour, "3"),
		pick(2, "bob", 9, 2*time.Hour, "1.5"),
		pick(3, "bob", 0, 3*time.Hour, "2"),
	}
	agg := aggregation.NewEngine(nil).Aggregate(picks, now)
	return agg, leaderboard.NewBuilder().Build(agg, now.UnixMilli())
}

func TestCachePublisher_Publish(t *testing.T) {
	cache, mr := newRedis(t)
	svc := storage.NewCacheService(cache, 12*time.Minute)
	pub := NewCachePublisher(svc, time.Second, logging.Nop())
	ctx := testCtx(t)

	agg, out := cycleOutput()
	res, err := pub.Publish(ctx, agg, out)
	require.NoError(t, err)

	// 15 snapshots, 2 profiles, 1 group, 5 group boards
	assert.Equal(t, 23, res.Written)
	assert.Zero(t, res.Failed)

	snap, err := svc.GetLeaderboard(ctx, types.TimeframeDay, types.MetricReturns)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "alice", snap.Entries[0].UserID)

	profile, err := svc.GetProfileStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, profile.Window(types.TimeframeDay).TotalPicks)

	assert.True(t, mr.Exists(svc.GroupStatsKey(9)))
	assert.False(t, mr.Exists(svc.GroupStatsKey(0)))

	board, err := svc.GetGroupBoard(ctx, 9, types.TimeframeSixHours)
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, int64(1), board.Entries[0].PickID)

	assert.Equal(t, 12*time.Minute, mr.TTL(svc.LeaderboardKey(types.TimeframeDay, types.MetricReturns)))
}

type flakyStore struct {
	ProjectionStore
	profiles int
}

func (f *flakyStore) PutProfileStats(ctx context.Context, stats *models.SubjectStats) error {
	f.profiles++
	return errors.New("connection reset")
}

func TestCachePublisher_KeepsGoingAfterFailure(t *testing.T) {
	cache, _ := newRedis(t)
	svc := storage.NewCacheService(cache, time.Minute)
	store := &flakyStore{ProjectionStore: svc}
	pub := NewCachePublisher(store, time.Second, logging.Nop())
	ctx := testCtx(t)

	agg, out := cycleOutput()
	res, err := pub.Publish(ctx, agg, out)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryCache, apperrors.CategoryOf(err))

	assert.Equal(t, 2, store.profiles)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 21, res.Written)

	_, err = svc.GetGroupBoard(ctx, 9, types.TimeframeAllTime)
	assert.NoError(t, err, "writes after the failure still happen")
}
