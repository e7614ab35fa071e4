package storage

import (
	"context"
	"fmt"

	"github.com/pick-aggregator/internal/models"
)

// LeaderboardArchive appends every generated snapshot to ClickHouse so rank history
// survives the cache TTL. Rows are keyed by (timeframe, metric, version, rank); a
// replayed cycle writes the same version and ReplacingMergeTree collapses it.
type LeaderboardArchive struct {
	db *ClickHouseDB
}

// NewLeaderboardArchive creates a new archive
func NewLeaderboardArchive(db *ClickHouseDB) *LeaderboardArchive {
	return &LeaderboardArchive{db: db}
}

// Append writes all entries of the given snapshots in one batch
func (a *LeaderboardArchive) Append(ctx context.Context, snapshots []*models.LeaderboardSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := a.db.Conn().PrepareBatch(ctx, `
		INSERT INTO leaderboard_snapshots (timeframe, metric, version, generated_at, rank, user_id, value, total_picks, hits)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	rows := 0
	for _, s := range snapshots {
		for _, e := range s.Entries {
			if err := batch.Append(
				string(s.Timeframe), string(s.Metric), s.Version, s.GeneratedAt,
				uint32(e.Rank), e.UserID, e.Value, uint32(e.TotalPicks), uint32(e.Hits), // #nosec G115 - non-negative counts
			); err != nil {
				return fmt.Errorf("failed to append to batch: %w", err)
			}
			rows++
		}
	}

	if rows == 0 {
		return batch.Abort()
	}

	return batch.Send()
}
