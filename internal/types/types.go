// Package types provides common type definitions for the pick aggregation engine.
package types

import (
	"fmt"
	"time"
)

// ChainID represents a supported blockchain network for picked tokens
type ChainID string

const (
	// ChainSolana represents Solana mainnet
	ChainSolana ChainID = "solana"
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainID = "arbitrum"
	// ChainBSC represents the BNB Smart Chain
	ChainBSC ChainID = "bsc"
)

// IsEVM reports whether addresses on the chain are 20-byte hex addresses
func (c ChainID) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainBase, ChainArbitrum, ChainBSC:
		return true
	default:
		return false
	}
}

// Timeframe is a rolling (or unbounded) window used for statistics
type Timeframe string

const (
	TimeframeSixHours Timeframe = "six_hours"
	TimeframeDay      Timeframe = "day"
	TimeframeWeek     Timeframe = "week"
	TimeframeMonth    Timeframe = "month"
	TimeframeAllTime  Timeframe = "all_time"
)

// AllTimeframes lists every window in ascending length
var AllTimeframes = []Timeframe{
	TimeframeSixHours,
	TimeframeDay,
	TimeframeWeek,
	TimeframeMonth,
	TimeframeAllTime,
}

// Duration returns the window length; zero means unbounded
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TimeframeSixHours:
		return 6 * time.Hour
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeWeek:
		return 7 * 24 * time.Hour
	case TimeframeMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Contains reports whether t falls inside the right-open window [now-d, now)
func (tf Timeframe) Contains(t, now time.Time) bool {
	if !t.Before(now) {
		return false
	}
	d := tf.Duration()
	if d == 0 {
		return true
	}
	return !t.Before(now.Add(-d))
}

// ParseTimeframe parses a timeframe name
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range AllTimeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Metric is a leaderboard ranking metric
type Metric string

const (
	// MetricReturns ranks by average highest multiplier
	MetricReturns Metric = "returns"
	// MetricHitRate ranks by share of picks that hit
	MetricHitRate Metric = "hit_rate"
	// MetricTotalPicks ranks by number of eligible picks
	MetricTotalPicks Metric = "total_picks"
)

// AllMetrics lists every leaderboard metric
var AllMetrics = []Metric{MetricReturns, MetricHitRate, MetricTotalPicks}

// ParseMetric parses a metric name
func ParseMetric(s string) (Metric, error) {
	for _, m := range AllMetrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// CycleOutcome is the terminal state of one cycle
type CycleOutcome string

const (
	// OutcomeCompleted means every stage ran (individual items may still have failed)
	OutcomeCompleted CycleOutcome = "completed"
	// OutcomeSkipped means the lock was held elsewhere or a cycle was already running
	OutcomeSkipped CycleOutcome = "skipped"
	// OutcomeAborted means a storage failure, lost lease or shutdown stopped the cycle
	OutcomeAborted CycleOutcome = "aborted"
)

// EventType names a published change event
type EventType string

const (
	// EventPickUpdated is emitted when a pick's performance fields change
	EventPickUpdated EventType = "social.token_pick"
	// EventLeaderboardRefreshed is emitted once per refreshed snapshot
	EventLeaderboardRefreshed EventType = "social.leaderboard"
)
