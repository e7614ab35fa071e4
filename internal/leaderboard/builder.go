// Package leaderboard ranks users per (timeframe, metric) and builds per-group pick boards.
package leaderboard

import (
	"sort"
	"time"

	"github.com/pick-aggregator/internal/aggregation"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// Builder produces immutable snapshots from one aggregation result
type Builder struct {
	timeframes []types.Timeframe
	metrics    []types.Metric
}

// NewBuilder creates a builder over every timeframe and metric
func NewBuilder() *Builder {
	return &Builder{timeframes: types.AllTimeframes, metrics: types.AllMetrics}
}

// Output is everything the builder produced for one cycle
type Output struct {
	Snapshots []*models.LeaderboardSnapshot
	Boards    []*models.GroupPickBoard
}

// Build ranks every (timeframe, metric) pair and builds group boards. version must
// be the same for every snapshot of a cycle.
func (b *Builder) Build(agg *aggregation.Result, version int64) *Output {
	out := &Output{}
	for _, tf := range b.timeframes {
		for _, metric := range b.metrics {
			out.Snapshots = append(out.Snapshots, b.Rank(agg, tf, metric, version))
		}
	}
	out.Boards = b.GroupBoards(agg, version)
	return out
}

// MetricValue extracts the ranking value of a window
func MetricValue(w *models.WindowStats, metric types.Metric) decimal.Decimal {
	switch metric {
	case types.MetricReturns:
		return w.AverageMultiplier
	case types.MetricHitRate:
		return w.HitRate
	default:
		return decimal.NewFromInt(int64(w.TotalPicks))
	}
}

// Less orders entries by value desc, then total picks desc, then user id asc.
// It is a strict total order for distinct user ids.
func Less(a, b models.LeaderboardEntry) bool {
	if c := a.Value.Cmp(b.Value); c != 0 {
		return c > 0
	}
	if a.TotalPicks != b.TotalPicks {
		return a.TotalPicks > b.TotalPicks
	}
	return a.UserID < b.UserID
}

// Rank builds the snapshot of one pair. Users without picks in the window are left out.
func (b *Builder) Rank(agg *aggregation.Result, tf types.Timeframe, metric types.Metric, version int64) *models.LeaderboardSnapshot {
	entries := make([]models.LeaderboardEntry, 0, len(agg.Users))
	for user, stats := range agg.Users {
		w := stats.Window(tf)
		if w.TotalPicks == 0 {
			continue
		}
		entries = append(entries, models.LeaderboardEntry{
			UserID:     user,
			Value:      MetricValue(w, metric),
			TotalPicks: w.TotalPicks,
			Hits:       w.Hits,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return &models.LeaderboardSnapshot{
		Timeframe:   tf,
		Metric:      metric,
		Version:     version,
		GeneratedAt: agg.GeneratedAt,
		Entries:     entries,
	}
}

// GroupBoards ranks each group's eligible picks by highest multiplier per timeframe.
// Every aggregated group gets a board for every timeframe, possibly empty.
func (b *Builder) GroupBoards(agg *aggregation.Result, version int64) []*models.GroupPickBoard {
	byGroup := make(map[int64][]*models.TokenPick)
	for _, p := range agg.Eligible {
		if p.GroupID > 0 {
			byGroup[p.GroupID] = append(byGroup[p.GroupID], p)
		}
	}

	var boards []*models.GroupPickBoard
	for _, group := range agg.GroupIDs() {
		for _, tf := range b.timeframes {
			boards = append(boards, groupBoard(group, tf, byGroup[group], agg.GeneratedAt, version))
		}
	}
	return boards
}

func groupBoard(group int64, tf types.Timeframe, picks []*models.TokenPick, now time.Time, version int64) *models.GroupPickBoard {
	inWindow := make([]*models.TokenPick, 0, len(picks))
	for _, p := range picks {
		if tf.Contains(p.CallDate, now) {
			inWindow = append(inWindow, p)
		}
	}
	aggregation.SortByMultiplier(inWindow)

	entries := make([]models.GroupPickEntry, 0, len(inWindow))
	for i, p := range inWindow {
		entries = append(entries, models.GroupPickEntry{
			Rank:              i + 1,
			PickID:            p.ID,
			UserID:            p.UserID,
			TokenAddress:      p.TokenAddress,
			Chain:             p.Chain,
			MarketCapAtCall:   p.MarketCapAtCall,
			HighestMarketCap:  p.HighestMarketCap,
			HighestMultiplier: aggregation.MultiplierOf(p),
			CallDate:          p.CallDate,
			HitDate:           p.HitDate,
		})
	}

	return &models.GroupPickBoard{
		GroupID:     group,
		Timeframe:   tf,
		Version:     version,
		GeneratedAt: now,
		Entries:     entries,
	}
}
