package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/storage"
	"github.com/pick-aggregator/internal/types"
)

// Feed delivers storage change notifications until ctx ends or the connection drops
type Feed interface {
	Listen(ctx context.Context, handle storage.NotificationHandler, onError func(error)) error
}

// feedPayload is the part of a trigger payload the forwarder needs. Pick triggers
// nest the row under tokenPick; other triggers carry entityId or id at the top level.
type feedPayload struct {
	EventDate time.Time       `json:"eventDate"`
	EntityID  json.RawMessage `json:"entityId"`
	ID        json.RawMessage `json:"id"`
	TokenPick *struct {
		ID int64 `json:"id"`
	} `json:"tokenPick"`
}

func (p *feedPayload) entity() string {
	if p.TokenPick != nil {
		if p.TokenPick.ID == 0 {
			return ""
		}
		return strconv.FormatInt(p.TokenPick.ID, 10)
	}
	if id := rawID(p.EntityID); id != "" {
		return id
	}
	return rawID(p.ID)
}

// rawID accepts a JSON string or number
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "0" {
		return n.String()
	}
	return ""
}

// Forwarder relays change notifications emitted by storage triggers to the sink
type Forwarder struct {
	feed     Feed
	channels map[string]types.EventType
	sink     Sink
	logger   *logging.Logger
	minDelay time.Duration
	maxDelay time.Duration
	now      func() time.Time
}

// NewForwarder creates a forwarder for the given channels. Each channel is published
// as the event type of the same name.
func NewForwarder(feed Feed, sink Sink, channels []string, logger *logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.Default()
	}
	routes := make(map[string]types.EventType, len(channels))
	for _, ch := range channels {
		routes[ch] = types.EventType(ch)
	}
	return &Forwarder{
		feed:     feed,
		channels: routes,
		sink:     sink,
		logger:   logger.WithField("component", "forwarder"),
		minDelay: time.Second,
		maxDelay: 30 * time.Second,
		now:      time.Now,
	}
}

// Run listens until ctx is cancelled, reconnecting with backoff when the feed fails
func (f *Forwarder) Run(ctx context.Context) error {
	delay := f.minDelay
	for {
		err := f.feed.Listen(ctx, f.Handle, func(err error) {
			f.logger.WithError(err).Warn("Dropped change notification")
		})
		if ctx.Err() != nil {
			return nil
		}

		f.logger.WithError(err).WithField("retryIn", delay.String()).Warn("Change feed disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.maxDelay {
			delay = f.maxDelay
		}
	}
}

// Handle converts one notification into an event and publishes it
func (f *Forwarder) Handle(ctx context.Context, n storage.Notification) error {
	eventType, ok := f.channels[n.Channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", n.Channel)
	}

	var p feedPayload
	if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", n.Channel, err)
	}
	entityID := p.entity()
	if entityID == "" {
		return fmt.Errorf("%s payload without entity id", n.Channel)
	}

	at := p.EventDate
	if at.IsZero() {
		at = f.now()
	}

	ev := &Event{
		EventID:    EventID(eventType, entityID, at.UnixMilli()),
		EventName:  eventType,
		EntityID:   entityID,
		Version:    at.UnixMilli(),
		OccurredAt: at.UTC(),
		Data:       json.RawMessage(n.Payload),
	}
	return f.sink.Publish(ctx, ev)
}
