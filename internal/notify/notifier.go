package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/retry"
	"github.com/pick-aggregator/internal/types"
	"github.com/pick-aggregator/internal/worker"
)

// PickEventData is the payload of a pick update event
type PickEventData struct {
	EventDate time.Time         `json:"eventDate"`
	NewHit    bool              `json:"newHit"`
	TokenPick *models.TokenPick `json:"tokenPick"`
}

// LeaderboardEventData is the payload of a leaderboard refresh event
type LeaderboardEventData struct {
	Timeframe   types.Timeframe `json:"timeframe"`
	Metric      types.Metric    `json:"metric"`
	Version     int64           `json:"version"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Entries     int             `json:"entries"`
	Leader      string          `json:"leader,omitempty"`
}

// Notifier emits change events for a finished cycle
type Notifier struct {
	sink   Sink
	retry  *retry.RetryConfig
	logger *logging.Logger
	now    func() time.Time

	// pickEvents is false when pick changes reach the sink through the change feed
	pickEvents bool
}

// NewNotifier creates a notifier. With pickEvents false only leaderboard refreshes
// are published directly.
func NewNotifier(sink Sink, pickEvents bool, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{
		sink: sink,
		retry: &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
		},
		logger:     logger,
		now:        time.Now,
		pickEvents: pickEvents,
	}
}

// PickUpdates publishes one event per persisted pick update
func (n *Notifier) PickUpdates(ctx context.Context, updates []worker.PickUpdate, version int64) (int, error) {
	if !n.pickEvents {
		return 0, nil
	}

	at := n.now()
	events := make([]*Event, 0, len(updates))
	for _, u := range updates {
		ev, err := NewEvent(types.EventPickUpdated, strconv.FormatInt(u.Pick.ID, 10), version, &PickEventData{
			EventDate: at.UTC(),
			NewHit:    u.NewHit,
			TokenPick: u.Pick,
		}, at)
		if err != nil {
			return 0, errors.NewInternalError("build pick event", err)
		}
		events = append(events, ev)
	}
	return n.publishAll(ctx, events)
}

// LeaderboardRefreshed publishes one event per snapshot
func (n *Notifier) LeaderboardRefreshed(ctx context.Context, snapshots []*models.LeaderboardSnapshot) (int, error) {
	at := n.now()
	events := make([]*Event, 0, len(snapshots))
	for _, snap := range snapshots {
		data := &LeaderboardEventData{
			Timeframe:   snap.Timeframe,
			Metric:      snap.Metric,
			Version:     snap.Version,
			GeneratedAt: snap.GeneratedAt,
			Entries:     len(snap.Entries),
		}
		if len(snap.Entries) > 0 {
			data.Leader = snap.Entries[0].UserID
		}

		ev, err := NewEvent(types.EventLeaderboardRefreshed, string(snap.Timeframe)+":"+string(snap.Metric), snap.Version, data, at)
		if err != nil {
			return 0, errors.NewInternalError("build leaderboard event", err)
		}
		events = append(events, ev)
	}
	return n.publishAll(ctx, events)
}

// publishAll keeps going past failed events and returns the first failure
func (n *Notifier) publishAll(ctx context.Context, events []*Event) (int, error) {
	published := 0
	var first error

	for _, ev := range events {
		if ctx.Err() != nil {
			if first == nil {
				first = ctx.Err()
			}
			break
		}

		result := retry.WithExponentialBackoff(ctx, n.retry, func(ctx context.Context, attempt int) error {
			return n.sink.Publish(ctx, ev)
		})
		if err := result.Err(); err != nil {
			if first == nil {
				first = err
			}
			n.logger.WithFields(map[string]interface{}{
				"eventId":   ev.EventID,
				"eventName": ev.EventName,
				"entityId":  ev.EntityID,
			}).WithError(err).Warn("Failed to publish event")
			continue
		}
		published++
	}

	return published, first
}
