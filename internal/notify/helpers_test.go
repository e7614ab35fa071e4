package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/storage"
	"github.com/pick-aggregator/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newRedis(t *testing.T) (*storage.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func pick(id int64, user string, group int64, age time.Duration, multiplier string) *models.TokenPick {
	m := decimal.RequireFromString(multiplier)
	return &models.TokenPick{
		ID:                id,
		UserID:            user,
		GroupID:           group,
		TokenAddress:      "So11111111111111111111111111111111111111112",
		Chain:             types.ChainSolana,
		MarketCapAtCall:   decimal.NewFromInt(100),
		CallDate:          now.Add(-age),
		HighestMarketCap:  decimal.NewNullDecimal(m.Mul(decimal.NewFromInt(100))),
		HighestMultiplier: decimal.NewNullDecimal(m),
	}
}

// recordingSink keeps published events and can fail the first n calls
type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	failN  int
	calls  int
}

func (s *recordingSink) Publish(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return context.DeadlineExceeded
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) published() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}
