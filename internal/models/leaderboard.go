package models

import (
	"time"

	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// LeaderboardEntry is one ranked row of a snapshot
type LeaderboardEntry struct {
	Rank       int             `json:"rank"`
	UserID     string          `json:"userId"`
	Value      decimal.Decimal `json:"value"`
	TotalPicks int             `json:"totalPicks"`
	Hits       int             `json:"hits"`
}

// LeaderboardSnapshot is the immutable ranking for one (timeframe, metric) pair
type LeaderboardSnapshot struct {
	Timeframe   types.Timeframe    `json:"timeframe"`
	Metric      types.Metric       `json:"metric"`
	Version     int64              `json:"version"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Entries     []LeaderboardEntry `json:"entries"`
}

// GroupPickEntry is one row of a group's per-timeframe pick board
type GroupPickEntry struct {
	Rank              int                 `json:"rank"`
	PickID            int64               `json:"pickId"`
	UserID            string              `json:"userId"`
	TokenAddress      string              `json:"tokenAddress"`
	Chain             types.ChainID       `json:"chain"`
	MarketCapAtCall   decimal.Decimal     `json:"marketCapAtCall"`
	HighestMarketCap  decimal.NullDecimal `json:"highestMarketCap"`
	HighestMultiplier decimal.Decimal     `json:"highestMultiplier"`
	CallDate          time.Time           `json:"callDate"`
	HitDate           *time.Time          `json:"hitDate,omitempty"`
}

// GroupPickBoard ranks a group's picks by highest multiplier for one timeframe
type GroupPickBoard struct {
	GroupID     int64            `json:"groupId"`
	Timeframe   types.Timeframe  `json:"timeframe"`
	Version     int64            `json:"version"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Entries     []GroupPickEntry `json:"entries"`
}
