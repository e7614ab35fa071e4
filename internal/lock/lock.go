// Package lock provides the cross-instance cycle lock: a TTL lease held in the shared
// cache, renewed by a heartbeat while the owner is alive and left to expire on crash.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/logging"
)

// ErrCacheMiss must be returned by Cache.Get when the key does not exist
var ErrCacheMiss = errors.New("lock key not found")

// Cache is the subset of the shared cache the lock needs. Extend and delete compare
// the stored value with the caller's owner token atomically.
type Cache interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ExtendIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	PTTL(ctx context.Context, key string) (time.Duration, error)
}

// record is the value stored under the lock key
type record struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
	TTLMillis  int64     `json:"ttlMs"`
}

// Status describes who holds a lock and for how much longer
type Status struct {
	Key          string        `json:"key"`
	Held         bool          `json:"held"`
	Owner        string        `json:"owner,omitempty"`
	AcquiredAt   *time.Time    `json:"acquiredAt,omitempty"`
	TTL          time.Duration `json:"ttl,omitempty"`
	TTLRemaining time.Duration `json:"ttlRemaining,omitempty"`
}

// Manager hands out leases
type Manager struct {
	cache      Cache
	instanceID string
	logger     *logging.Logger
	now        func() time.Time
	isMiss     func(error) bool
}

// NewManager creates a lock manager. isMiss recognizes the cache's not-found error;
// nil means errors.Is(err, ErrCacheMiss).
func NewManager(cache Cache, instanceID string, isMiss func(error) bool, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	if isMiss == nil {
		isMiss = func(err error) bool { return errors.Is(err, ErrCacheMiss) }
	}
	return &Manager{
		cache:      cache,
		instanceID: instanceID,
		logger:     logger.WithField("component", "lock"),
		now:        time.Now,
		isMiss:     isMiss,
	}
}

// Acquire tries to take key for ttl. When another owner holds it, Acquire returns a
// lock-contention error and writes nothing.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		return nil, errors.NewValidationError("ttl", "must be positive")
	}

	now := m.now()
	owner := fmt.Sprintf("%s:%s", m.instanceID, uuid.NewString())
	value, err := json.Marshal(record{Owner: owner, AcquiredAt: now.UTC(), TTLMillis: ttl.Milliseconds()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lock record: %w", err)
	}

	ok, err := m.cache.SetIfAbsent(ctx, key, string(value), ttl)
	if err != nil {
		return nil, errors.NewCacheError("acquire lock", err)
	}
	if !ok {
		holder := ""
		if st, err := m.Status(ctx, key); err == nil {
			holder = st.Owner
		}
		return nil, errors.NewLockContentionError(key, holder)
	}

	m.logger.WithFields(map[string]interface{}{
		"key":   key,
		"owner": owner,
		"ttl":   ttl.String(),
	}).Debug("Lock acquired")

	return &Lease{
		m:           m,
		key:         key,
		owner:       owner,
		value:       string(value),
		ttl:         ttl,
		acquiredAt:  now,
		lastRenewed: now,
		lost:        make(chan struct{}),
	}, nil
}

// Status reports the current holder of key and its remaining TTL
func (m *Manager) Status(ctx context.Context, key string) (*Status, error) {
	raw, err := m.cache.Get(ctx, key)
	if err != nil {
		if m.isMiss(err) {
			return &Status{Key: key}, nil
		}
		return nil, errors.NewCacheError("lock status", err)
	}

	st := &Status{Key: key, Held: true}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err == nil {
		st.Owner = rec.Owner
		at := rec.AcquiredAt
		st.AcquiredAt = &at
		st.TTL = time.Duration(rec.TTLMillis) * time.Millisecond
	} else {
		// Foreign value, e.g. set by hand; still a live holder.
		st.Owner = raw
	}

	remaining, err := m.cache.PTTL(ctx, key)
	if err != nil {
		return nil, errors.NewCacheError("lock ttl", err)
	}
	if remaining > 0 {
		st.TTLRemaining = remaining
	}

	return st, nil
}

// Lease is a held lock. It is safe for concurrent use.
type Lease struct {
	m          *Manager
	key        string
	owner      string
	value      string
	ttl        time.Duration
	acquiredAt time.Time

	mu          sync.Mutex
	lastRenewed time.Time
	released    bool

	lost     chan struct{}
	lostOnce sync.Once

	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// Key returns the lock key
func (l *Lease) Key() string { return l.key }

// Owner returns the owner token (instance id plus run id)
func (l *Lease) Owner() string { return l.owner }

// AcquiredAt returns when the lease was taken
func (l *Lease) AcquiredAt() time.Time { return l.acquiredAt }

// Lost is closed once the lease is known to be gone or owned by someone else
func (l *Lease) Lost() <-chan struct{} { return l.lost }

func (l *Lease) markLost(reason string) {
	l.lostOnce.Do(func() {
		l.m.logger.WithFields(map[string]interface{}{
			"key":    l.key,
			"owner":  l.owner,
			"reason": reason,
		}).Warn("Lock lease lost")
		close(l.lost)
	})
}

// Renew extends the lease to a full TTL from now
func (l *Lease) Renew(ctx context.Context) error {
	select {
	case <-l.lost:
		return errors.NewLockContentionError(l.key, "")
	default:
	}

	ok, err := l.m.cache.ExtendIfValue(ctx, l.key, l.value, l.ttl)
	if err != nil {
		l.mu.Lock()
		expired := l.m.now().Sub(l.lastRenewed) >= l.ttl
		l.mu.Unlock()
		if expired {
			l.markLost("renewal failed past ttl")
		}
		return errors.NewCacheError("renew lock", err)
	}
	if !ok {
		l.markLost("owner token no longer matches")
		return errors.NewLockContentionError(l.key, "")
	}

	l.mu.Lock()
	l.lastRenewed = l.m.now()
	l.mu.Unlock()
	return nil
}

// renewIfDue renews once more than half of the TTL has elapsed since the last renewal
func (l *Lease) renewIfDue(ctx context.Context) error {
	l.mu.Lock()
	due := l.m.now().Sub(l.lastRenewed) >= l.ttl/2
	l.mu.Unlock()
	if !due {
		return nil
	}
	return l.Renew(ctx)
}

// StartHeartbeat renews the lease in the background until Release or ctx is done.
// Calling it more than once has no effect.
func (l *Lease) StartHeartbeat(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hbCancel != nil || l.released {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	l.hbCancel = cancel
	l.hbDone = make(chan struct{})

	interval := l.ttl / 4
	if interval <= 0 {
		interval = time.Millisecond
	}

	go func() {
		defer close(l.hbDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.lost:
				return
			case <-ticker.C:
				rctx, rcancel := context.WithTimeout(ctx, interval)
				err := l.renewIfDue(rctx)
				rcancel()
				if err != nil && !errors.IsLockContention(err) {
					l.m.logger.WithError(err).Warn("Lock heartbeat failed")
				}
			}
		}
	}()
}

// Release stops the heartbeat and deletes the key if this lease still owns it.
// Releasing twice is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	cancel, done := l.hbCancel, l.hbDone
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	ok, err := l.m.cache.DeleteIfValue(ctx, l.key, l.value)
	if err != nil {
		return errors.NewCacheError("release lock", err)
	}
	if !ok {
		l.m.logger.WithField("key", l.key).Warn("Lock already expired or taken over at release")
	}
	return nil
}
