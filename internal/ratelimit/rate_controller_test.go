package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostTable(t *testing.T) {
	costs := NewCostTable(map[string]int{EndpointPrice: 5, "/defi/ohlcv": 0})

	assert.Equal(t, CostTokenOverview, costs.GetCost(EndpointTokenOverview))
	assert.Equal(t, 5, costs.GetCost(EndpointPrice))
	assert.Equal(t, DefaultCUCost, costs.GetCost("/defi/ohlcv"), "non-positive overrides are ignored")

	costs.SetCost(EndpointTokenOverview, 40)
	costs.SetCost(EndpointPrice, -1)
	assert.Equal(t, 40, costs.GetCost(EndpointTokenOverview))
	assert.Equal(t, 5, costs.GetCost(EndpointPrice))
}

func TestNewRateController_Validation(t *testing.T) {
	_, err := NewRateController(nil)
	assert.Error(t, err)

	clock := time.Now()
	budget := newTestBudget(t, 100, 40, &clock)

	_, err = NewRateController(&RateControllerConfig{Budget: budget, BaseDelay: time.Minute, MaxDelay: time.Second})
	assert.Error(t, err)

	rc, err := NewRateController(&RateControllerConfig{Budget: budget})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseDelay, rc.GetCurrentDelay())
}

func TestRateController_WaitGrantsWithinBudget(t *testing.T) {
	clock := time.Now()
	budget := newTestBudget(t, 100, 40, &clock)
	rc, err := NewRateController(&RateControllerConfig{Budget: budget, Priority: PriorityLow})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rc.Wait(ctx, EndpointTokenOverview))
	require.NoError(t, rc.Wait(ctx, EndpointTokenOverview))

	stats, err := budget.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, stats.SharedUsed)
	assert.Zero(t, rc.GetConsecutiveFailures())
}

func TestRateController_WaitHonoursCancellation(t *testing.T) {
	clock := time.Now()
	budget := newTestBudget(t, 100, 40, &clock)
	rc, err := NewRateController(&RateControllerConfig{
		Budget:    budget,
		Priority:  PriorityLow,
		BaseDelay: 5 * time.Millisecond,
		MaxDelay:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	// The frozen clock keeps the window full, so only cancellation ends the wait.
	require.NoError(t, rc.WaitForBudget(context.Background(), 60))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = rc.Wait(ctx, EndpointPrice)
	assert.ErrorIs(t, err, ErrContextCancelled)
	assert.Greater(t, rc.GetConsecutiveFailures(), 0)
}

func TestRateController_BackoffCapped(t *testing.T) {
	clock := time.Now()
	budget := newTestBudget(t, 100, 40, &clock)
	rc, err := NewRateController(&RateControllerConfig{
		Budget:    budget,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
	})
	require.NoError(t, err)

	rc.RecordFailure()
	assert.Equal(t, 200*time.Millisecond, rc.GetCurrentDelay())
	for i := 0; i < 10; i++ {
		rc.RecordFailure()
	}
	assert.Equal(t, time.Second, rc.GetCurrentDelay())

	rc.RecordSuccess()
	assert.Equal(t, 100*time.Millisecond, rc.GetCurrentDelay())
}
