// Package notify hands cycle results to the read side: cached projections and change
// events. Delivery is at-least-once; consumers deduplicate on EventID.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pick-aggregator/internal/types"
)

// eventNamespace scopes deterministic event ids
var eventNamespace = uuid.MustParse("6f1c9a52-3d0e-4c1b-9a8e-2f7b5d4c3a10")

// Event is the envelope published to the sink
type Event struct {
	EventID    string          `json:"eventId"`
	EventName  types.EventType `json:"eventName"`
	EntityID   string          `json:"entityId"`
	Version    int64           `json:"version"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// NewEvent builds an event whose id depends only on (type, entity, version), so a
// replayed cycle produces the same ids.
func NewEvent(eventType types.EventType, entityID string, version int64, payload interface{}, at time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		EventID:    EventID(eventType, entityID, version),
		EventName:  eventType,
		EntityID:   entityID,
		Version:    version,
		OccurredAt: at.UTC(),
		Data:       data,
	}, nil
}

// EventID returns the deterministic id of an event
func EventID(eventType types.EventType, entityID string, version int64) string {
	name := string(eventType) + "|" + entityID + "|" + strconv.FormatInt(version, 10)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// Sink receives events
type Sink interface {
	Publish(ctx context.Context, event *Event) error
}
