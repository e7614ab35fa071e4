package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// StreamAppender appends an entry to a capped stream
type StreamAppender interface {
	XAdd(ctx context.Context, stream string, maxLen int64, fields map[string]interface{}) (string, error)
}

// StreamSink publishes events to a Redis stream
type StreamSink struct {
	redis  StreamAppender
	stream string
	maxLen int64
}

// NewStreamSink creates a sink writing to stream, trimmed to about maxLen entries
func NewStreamSink(redis StreamAppender, stream string, maxLen int64) *StreamSink {
	return &StreamSink{redis: redis, stream: stream, maxLen: maxLen}
}

// Publish appends the event. Routing fields are duplicated outside the JSON body so
// consumers can filter without decoding it.
func (s *StreamSink) Publish(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.redis.XAdd(ctx, s.stream, s.maxLen, map[string]interface{}{
		"eventId":   event.EventID,
		"eventName": string(event.EventName),
		"entityId":  event.EntityID,
		"version":   strconv.FormatInt(event.Version, 10),
		"event":     string(body),
	})
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", event.EventID, err)
	}
	return nil
}
