package models

import (
	"time"

	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// BestPick is the highest-multiplier pick inside a window
type BestPick struct {
	PickID       int64           `json:"pickId"`
	TokenAddress string          `json:"tokenAddress"`
	Chain        types.ChainID   `json:"chain"`
	TokenSymbol  string          `json:"tokenSymbol,omitempty"`
	Multiplier   decimal.Decimal `json:"multiplier"`
	CallDate     time.Time       `json:"callDate"`
}

// WindowStats are the rolled-up statistics of one subject over one timeframe.
// A subject without eligible picks yields the zero value with Timeframe set.
type WindowStats struct {
	Timeframe         types.Timeframe `json:"timeframe"`
	TotalPicks        int             `json:"totalPicks"`
	Hits              int             `json:"hits"`
	Misses            int             `json:"misses"`
	HitRate           decimal.Decimal `json:"hitRate"`
	AverageMultiplier decimal.Decimal `json:"averageMultiplier"`
	BestPick          *BestPick       `json:"bestPick,omitempty"`
}

// SubjectStats holds every window for a user or a group
type SubjectStats struct {
	SubjectID string                           `json:"subjectId"`
	Windows   map[types.Timeframe]*WindowStats `json:"windows"`
}

// Window returns the stats for tf, never nil
func (s *SubjectStats) Window(tf types.Timeframe) *WindowStats {
	if w, ok := s.Windows[tf]; ok && w != nil {
		return w
	}
	return &WindowStats{Timeframe: tf, HitRate: decimal.Zero, AverageMultiplier: decimal.Zero}
}
