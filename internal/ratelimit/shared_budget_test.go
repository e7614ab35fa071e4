package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBudget(t *testing.T, total, reserved int, clock *time.Time) *SharedBudget {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	budget, err := NewSharedBudget(&SharedBudgetConfig{
		Redis:          client,
		TotalBudget:    total,
		ReservedBudget: reserved,
	})
	require.NoError(t, err)
	budget.now = func() time.Time { return *clock }
	return budget
}

func TestSharedBudgetConfig_Validate(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	tests := []struct {
		name    string
		cfg     SharedBudgetConfig
		wantErr string
	}{
		{"missing redis", SharedBudgetConfig{}, "redis client is required"},
		{"negative total", SharedBudgetConfig{Redis: client, TotalBudget: -1}, "total budget"},
		{"negative reserved", SharedBudgetConfig{Redis: client, ReservedBudget: -1}, "reserved budget"},
		{"reserved above total", SharedBudgetConfig{Redis: client, TotalBudget: 50, ReservedBudget: 50}, "must be below"},
		{"defaults", SharedBudgetConfig{Redis: client}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSharedBudget_SharedPoolExhausts(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 100*int(time.Millisecond), time.UTC)
	budget := newTestBudget(t, 100, 40, &clock)
	ctx := context.Background()

	ok, _ := budget.TryConsume(ctx, 30, PriorityLow)
	assert.True(t, ok)
	ok, _ = budget.TryConsume(ctx, 30, PriorityLow)
	assert.True(t, ok)

	ok, wait := budget.TryConsume(ctx, 30, PriorityLow)
	assert.False(t, ok, "shared pool holds 60 CU")
	assert.InDelta(t, float64(900*time.Millisecond), float64(wait), float64(5*time.Millisecond))

	ok, _ = budget.TryConsume(ctx, 30, PriorityHigh)
	assert.True(t, ok, "reserved pool is untouched by low priority use")

	stats, err := budget.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, stats.TotalUsed)
	assert.Equal(t, 60, stats.SharedUsed)
	assert.Equal(t, 30, stats.ReservedUsed)
}

func TestSharedBudget_NextWindowResets(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	budget := newTestBudget(t, 100, 40, &clock)
	ctx := context.Background()

	ok, _ := budget.TryConsume(ctx, 60, PriorityLow)
	require.True(t, ok)
	ok, _ = budget.TryConsume(ctx, 1, PriorityLow)
	require.False(t, ok)

	clock = clock.Add(time.Second)
	ok, _ = budget.TryConsume(ctx, 60, PriorityLow)
	assert.True(t, ok)

	available, err := budget.Available(ctx, PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 40, available)
}

func TestSharedBudget_ZeroCostAlwaysAllowed(t *testing.T) {
	clock := time.Now()
	budget := newTestBudget(t, 10, 5, &clock)

	ok, wait := budget.TryConsume(context.Background(), 0, PriorityLow)
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "unknown", Priority(9).String())
}
