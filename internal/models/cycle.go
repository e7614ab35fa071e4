package models

import (
	"time"

	"github.com/pick-aggregator/internal/types"
)

// CycleSummary reports what one cycle did
type CycleSummary struct {
	CycleID          string             `json:"cycleId"`
	Outcome          types.CycleOutcome `json:"outcome"`
	Reason           string             `json:"reason,omitempty"`
	StartedAt        time.Time          `json:"startedAt"`
	FinishedAt       time.Time          `json:"finishedAt"`
	PendingPicks     int                `json:"pendingPicks"`
	Batches          int                `json:"batches"`
	FailedBatches    int                `json:"failedBatches"`
	Processed        int                `json:"processed"`
	Failed           int                `json:"failed"`
	Skipped          int                `json:"skipped"`
	Updated          int                `json:"updated"`
	NewHits          int                `json:"newHits"`
	TokensFetched    int                `json:"tokensFetched"`
	TokensSkipped    int                `json:"tokensSkipped"`
	UsersRanked      int                `json:"usersRanked"`
	GroupsAggregated int                `json:"groupsAggregated"`
	Snapshots        int                `json:"snapshots"`
	EventsPublished  int                `json:"eventsPublished"`
}

// Duration returns the wall time of the cycle
func (s *CycleSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
