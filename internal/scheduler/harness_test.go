package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pick-aggregator/internal/aggregation"
	"github.com/pick-aggregator/internal/calculator"
	"github.com/pick-aggregator/internal/circuitbreaker"
	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/fetcher"
	"github.com/pick-aggregator/internal/leaderboard"
	"github.com/pick-aggregator/internal/lock"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/notify"
	"github.com/pick-aggregator/internal/retry"
	"github.com/pick-aggregator/internal/storage"
	"github.com/pick-aggregator/internal/types"
	"github.com/pick-aggregator/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testLockKey = "test-processing-lock"

// memStore mimics the pick repository: highest market cap only grows, hit date is
// written once, the multiplier is derived on read.
type memStore struct {
	mu      sync.Mutex
	picks   map[int64]*models.TokenPick
	tokens  map[models.TokenKey]*models.Token
	listErr error
	lists   int
	writes  int
	onList  func()
}

func newMemStore(picks ...*models.TokenPick) *memStore {
	s := &memStore{picks: make(map[int64]*models.TokenPick), tokens: make(map[models.TokenKey]*models.Token)}
	for _, p := range picks {
		s.picks[p.ID] = p.Clone()
	}
	return s
}

func (s *memStore) ListPendingPicks(ctx context.Context, filter models.PickFilter) ([]*models.TokenPick, error) {
	s.mu.Lock()
	s.lists++
	hook := s.onList
	if s.listErr != nil {
		s.mu.Unlock()
		return nil, s.listErr
	}

	out := make([]*models.TokenPick, 0, len(s.picks))
	for _, p := range s.picks {
		if !filter.CalledAfter.IsZero() && p.CallDate.Before(filter.CalledAfter) {
			continue
		}
		c := p.Clone()
		c.HighestMultiplier = calculator.Multiplier(c.HighestMarketCap, c.MarketCapAtCall)
		out = append(out, c)
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) UpsertPick(ctx context.Context, pick *models.TokenPick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.picks[pick.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", storage.ErrPickNotFound, pick.ID)
	}
	s.writes++
	if pick.HighestMarketCap.Valid &&
		(!stored.HighestMarketCap.Valid || pick.HighestMarketCap.Decimal.GreaterThan(stored.HighestMarketCap.Decimal)) {
		stored.HighestMarketCap = pick.HighestMarketCap
	}
	if stored.HitDate == nil && pick.HitDate != nil {
		hd := *pick.HitDate
		stored.HitDate = &hd
	}
	return nil
}

func (s *memStore) UpsertToken(ctx context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Key()] = token
	return nil
}

func (s *memStore) get(id int64) *models.TokenPick {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.picks[id].Clone()
	c.HighestMultiplier = calculator.Multiplier(c.HighestMarketCap, c.MarketCapAtCall)
	return c
}

// marketProvider serves a fixed market cap per token; tokens in down always fail.
// When delay is set every call first signals started, then stalls.
type marketProvider struct {
	mu    sync.Mutex
	caps  map[string]int64
	down  map[string]bool
	calls int

	delay       time.Duration
	started     chan struct{}
	startedOnce sync.Once
}

func (p *marketProvider) set(address string, marketCap int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.caps == nil {
		p.caps = make(map[string]int64)
	}
	p.caps[address] = marketCap
}

func (p *marketProvider) Fetch(ctx context.Context, key models.TokenKey) (*models.MarketSnapshot, error) {
	if p.delay > 0 {
		if p.started != nil {
			p.startedOnce.Do(func() { close(p.started) })
		}
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.down[key.Address] {
		return nil, errors.NewTransientProviderError("test", key.Address, fmt.Errorf("503"))
	}
	mc, ok := p.caps[key.Address]
	if !ok {
		return nil, errors.NewPermanentDataError(key.Address, "unknown token")
	}
	return &models.MarketSnapshot{Key: key, Price: decimal.NewFromInt(1), MarketCap: decimal.NewFromInt(mc)}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (s *recordingSink) Publish(ctx context.Context, ev *notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count(eventType types.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.EventName == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	sched    *Scheduler
	store    *memStore
	provider *marketProvider
	sink     *recordingSink
	cache    *storage.CacheService
	mr       *miniredis.Miniredis
	locks    *lock.Manager
}

func newHarness(t *testing.T, store *memStore, provider *marketProvider) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache := storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = redisCache.Close() })

	isMiss := func(err error) bool { return errors.Is(err, storage.ErrCacheMiss) }
	locks := lock.NewManager(redisCache, "test-instance", isMiss, logging.Nop())

	f := fetcher.New(provider, store, fetcher.Config{
		CallTimeout:    time.Second,
		StorageTimeout: time.Second,
		Retry:          &retry.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		Breaker: &circuitbreaker.Config{
			Name:             "test",
			MaxFailures:      1000,
			FailureThreshold: 1,
			Timeout:          time.Minute,
			HalfOpenMaxCalls: 1,
		},
	}, logging.Nop())

	pool, err := worker.NewPool(worker.PoolConfig{
		BatchSize:      50,
		WorkerCount:    4,
		ShutdownGrace:  time.Second,
		StorageTimeout: time.Second,
	}, calculator.New(decimal.NewFromInt(2)), store, logging.Nop())
	require.NoError(t, err)

	cache := storage.NewCacheService(redisCache, 12*time.Minute)
	sink := &recordingSink{}

	sched, err := New(Config{
		LockKey:        testLockKey,
		LockTTL:        3 * time.Minute,
		Interval:       10 * time.Minute,
		Retention:      30 * 24 * time.Hour,
		StorageTimeout: time.Second,
	}, Components{
		Locks:     locks,
		Picks:     store,
		Fetcher:   f,
		Pool:      pool,
		Engine:    aggregation.NewEngine(nil),
		Builder:   leaderboard.NewBuilder(),
		Publisher: notify.NewCachePublisher(cache, time.Second, logging.Nop()),
		Notifier:  notify.NewNotifier(sink, true, logging.Nop()),
	}, logging.Nop())
	require.NoError(t, err)

	return &harness{sched: sched, store: store, provider: provider, sink: sink, cache: cache, mr: mr, locks: locks}
}

func newPick(id int64, user, token string, age time.Duration, capAtCall int64) *models.TokenPick {
	return &models.TokenPick{
		ID:              id,
		UserID:          user,
		TokenAddress:    token,
		Chain:           types.ChainSolana,
		PriceAtCall:     decimal.NewFromInt(1),
		MarketCapAtCall: decimal.NewFromInt(capAtCall),
		CallDate:        time.Now().Add(-age),
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
