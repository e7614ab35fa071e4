package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Notification is one NOTIFY payload received from Postgres
type Notification struct {
	Channel string
	Payload string
}

// NotificationHandler consumes a notification. Returning an error only logs upstream;
// the feed keeps running.
type NotificationHandler func(ctx context.Context, n Notification) error

// ChangeFeed subscribes to the NOTIFY channels fired by database triggers on write
type ChangeFeed struct {
	db       *PostgresDB
	channels []string
}

// NewChangeFeed creates a change feed over the given channels
func NewChangeFeed(db *PostgresDB, channels []string) *ChangeFeed {
	return &ChangeFeed{db: db, channels: channels}
}

// Channels returns the subscribed channel names
func (f *ChangeFeed) Channels() []string {
	return f.channels
}

// Listen holds a dedicated connection, LISTENs on every channel and calls handle for
// each notification until ctx is cancelled or the connection fails.
func (f *ChangeFeed) Listen(ctx context.Context, handle NotificationHandler, onError func(error)) error {
	if len(f.channels) == 0 {
		return fmt.Errorf("no channels to listen on")
	}

	conn, err := f.db.Pool().Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	for _, ch := range f.channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", ch, err)
		}
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("failed waiting for notification: %w", err)
		}

		if err := handle(ctx, Notification{Channel: n.Channel, Payload: n.Payload}); err != nil && onError != nil {
			onError(err)
		}
	}
}
