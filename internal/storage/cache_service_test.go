package storage

import (
	"testing"
	"time"

	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheService_Keys(t *testing.T) {
	cs := NewCacheService(nil, time.Minute)

	assert.Equal(t, "leaderboard:week:returns", cs.LeaderboardKey(types.TimeframeWeek, types.MetricReturns))
	assert.Equal(t, "profile:stats:u1", cs.ProfileStatsKey("u1"))
	assert.Equal(t, "group:stats:42", cs.GroupStatsKey(42))
	assert.Equal(t, "group:leaderboard:42:day", cs.GroupBoardKey(42, types.TimeframeDay))
}

func TestCacheService_LeaderboardRoundTrip(t *testing.T) {
	redis, mr := newTestRedis(t)
	cs := NewCacheService(redis, 12*time.Minute)
	ctx := testContext(t)

	snap := &models.LeaderboardSnapshot{
		Timeframe:   types.TimeframeDay,
		Metric:      types.MetricHitRate,
		Version:     1700000000000,
		GeneratedAt: time.Unix(1700000000, 0).UTC(),
		Entries: []models.LeaderboardEntry{
			{Rank: 1, UserID: "alice", Value: decimal.RequireFromString("66.67"), TotalPicks: 3, Hits: 2},
		},
	}
	require.NoError(t, cs.PutLeaderboard(ctx, snap))
	assert.Equal(t, 12*time.Minute, mr.TTL("leaderboard:day:hit_rate"))

	got, err := cs.GetLeaderboard(ctx, types.TimeframeDay, types.MetricHitRate)
	require.NoError(t, err)
	assert.Equal(t, snap.Version, got.Version)
	require.Len(t, got.Entries, 1)
	assert.True(t, got.Entries[0].Value.Equal(snap.Entries[0].Value))

	_, err = cs.GetLeaderboard(ctx, types.TimeframeWeek, types.MetricHitRate)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCacheService_ReplacesPreviousProjection(t *testing.T) {
	redis, _ := newTestRedis(t)
	cs := NewCacheService(redis, time.Minute)
	ctx := testContext(t)

	board := &models.GroupPickBoard{GroupID: 7, Timeframe: types.TimeframeWeek, Version: 1}
	require.NoError(t, cs.PutGroupBoard(ctx, board))

	board2 := &models.GroupPickBoard{GroupID: 7, Timeframe: types.TimeframeWeek, Version: 2}
	require.NoError(t, cs.PutGroupBoard(ctx, board2))

	got, err := cs.GetGroupBoard(ctx, 7, types.TimeframeWeek)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestCacheService_ProfileStats(t *testing.T) {
	redis, _ := newTestRedis(t)
	cs := NewCacheService(redis, time.Minute)
	ctx := testContext(t)

	stats := &models.SubjectStats{
		SubjectID: "bob",
		Windows: map[types.Timeframe]*models.WindowStats{
			types.TimeframeAllTime: {Timeframe: types.TimeframeAllTime, TotalPicks: 4, Hits: 1, Misses: 3},
		},
	}
	require.NoError(t, cs.PutProfileStats(ctx, stats))

	got, err := cs.GetProfileStats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Window(types.TimeframeAllTime).TotalPicks)
	assert.Equal(t, 0, got.Window(types.TimeframeDay).TotalPicks)
}
