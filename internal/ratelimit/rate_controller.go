package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default rate controller configuration values.
const (
	DefaultBaseDelay = 100 * time.Millisecond
	DefaultMaxDelay  = 10 * time.Second
)

// ErrContextCancelled is returned when the context is cancelled while waiting for budget.
var ErrContextCancelled = errors.New("context cancelled while waiting for budget")

// RateController paces one priority class against the shared CU budget, backing off
// exponentially while the budget is exhausted.
type RateController struct {
	budget   *SharedBudget
	costs    *CostTable
	priority Priority

	baseDelay        time.Duration
	maxDelay         time.Duration
	mu               sync.Mutex
	currentDelay     time.Duration
	consecutiveFails int
}

// RateControllerConfig holds configuration for the rate controller.
type RateControllerConfig struct {
	Budget    *SharedBudget // required
	Costs     *CostTable    // nil uses the defaults
	Priority  Priority
	BaseDelay time.Duration // Default: 100ms
	MaxDelay  time.Duration // Default: 10s
}

// NewRateController creates a new controller with the given configuration.
func NewRateController(cfg *RateControllerConfig) (*RateController, error) {
	if cfg == nil || cfg.Budget == nil {
		return nil, errors.New("budget is required")
	}
	if cfg.BaseDelay < 0 || cfg.MaxDelay < 0 {
		return nil, errors.New("delays cannot be negative")
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	if baseDelay > maxDelay {
		return nil, errors.New("base delay cannot exceed max delay")
	}
	costs := cfg.Costs
	if costs == nil {
		costs = NewCostTable(nil)
	}

	return &RateController{
		budget:       cfg.Budget,
		costs:        costs,
		priority:     cfg.Priority,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		currentDelay: baseDelay,
	}, nil
}

// Wait blocks until the cost of endpoint fits the budget or ctx is done.
func (c *RateController) Wait(ctx context.Context, endpoint string) error {
	return c.WaitForBudget(ctx, c.costs.GetCost(endpoint))
}

// WaitForBudget blocks until requiredCU is granted or ctx is done.
func (c *RateController) WaitForBudget(ctx context.Context, requiredCU int) error {
	if requiredCU <= 0 {
		return nil
	}

	for {
		if ctx.Err() != nil {
			return ErrContextCancelled
		}

		allowed, waitTime := c.budget.TryConsume(ctx, requiredCU, c.priority)
		if allowed {
			c.RecordSuccess()
			return nil
		}

		c.RecordFailure()

		// Use the longer of the suggested wait time or our backoff delay
		delay := c.GetCurrentDelay()
		if waitTime > delay {
			delay = waitTime
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrContextCancelled
		case <-timer.C:
		}
	}
}

// RecordSuccess resets backoff.
func (c *RateController) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails = 0
	c.currentDelay = c.baseDelay
}

// RecordFailure doubles the backoff, capped at maxDelay.
func (c *RateController) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++

	newDelay := c.baseDelay
	for i := 0; i < c.consecutiveFails; i++ {
		newDelay *= 2
		if newDelay > c.maxDelay {
			newDelay = c.maxDelay
			break
		}
	}
	c.currentDelay = newDelay
}

// GetCurrentDelay returns the current backoff delay.
func (c *RateController) GetCurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

// GetConsecutiveFailures returns the number of consecutive denials.
func (c *RateController) GetConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFails
}
