// Package ratelimit meters market-data provider compute units (CU) in Redis so every
// service sharing one API key stays inside the plan's per-window allowance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Budget defaults
const (
	DefaultTotalBudget    = 100 // CU per window
	DefaultReservedBudget = 40  // kept for interactive readers
	DefaultWindowSize     = time.Second
	DefaultKeyTTL         = 2 * time.Second
)

// Redis key prefixes, suffixed with the window start in unix millis
const (
	KeyPrefixTotal    = "provider:cu:total:"
	KeyPrefixReserved = "provider:cu:reserved:"
	KeyPrefixShared   = "provider:cu:shared:"
)

// Priority selects the pool a caller draws from
type Priority int

const (
	// PriorityHigh draws from the reserved pool (request-path lookups)
	PriorityHigh Priority = iota
	// PriorityLow draws from the shared pool (aggregation cycles)
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// chargeScript grants cu only when both the window total and the pool stay within
// their limits. Returns {granted, total, pool}.
var chargeScript = redis.NewScript(`
local total = tonumber(redis.call('GET', KEYS[1]) or '0')
local pool = tonumber(redis.call('GET', KEYS[2]) or '0')
local cu = tonumber(ARGV[1])

if total + cu > tonumber(ARGV[2]) or pool + cu > tonumber(ARGV[3]) then
	return {0, total, pool}
end

redis.call('INCRBY', KEYS[1], cu)
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('INCRBY', KEYS[2], cu)
redis.call('EXPIRE', KEYS[2], ARGV[4])
return {1, total + cu, pool + cu}
`)

// SharedBudget splits a fixed-window CU allowance into a reserved pool for high
// priority callers and a shared pool for the rest. Counters live in Redis so the
// split holds across processes.
type SharedBudget struct {
	redis    redis.Cmdable
	total    int
	reserved int
	shared   int
	window   time.Duration
	keyTTL   time.Duration
	now      func() time.Time
}

// SharedBudgetConfig configures a SharedBudget. Zero values take the defaults.
type SharedBudgetConfig struct {
	Redis          redis.Cmdable
	TotalBudget    int
	ReservedBudget int
	WindowSize     time.Duration
	KeyTTL         time.Duration
}

// Usage is the consumption of the current window
type Usage struct {
	TotalUsed      int
	ReservedUsed   int
	SharedUsed     int
	TotalBudget    int
	ReservedBudget int
	SharedBudget   int
	WindowStart    time.Time
}

func (c *SharedBudgetConfig) withDefaults() SharedBudgetConfig {
	out := *c
	if out.TotalBudget == 0 {
		out.TotalBudget = DefaultTotalBudget
	}
	if out.ReservedBudget == 0 {
		out.ReservedBudget = DefaultReservedBudget
	}
	if out.WindowSize == 0 {
		out.WindowSize = DefaultWindowSize
	}
	if out.KeyTTL == 0 {
		out.KeyTTL = DefaultKeyTTL
	}
	return out
}

// Validate checks the configuration after defaults are applied
func (c *SharedBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	d := c.withDefaults()
	if d.ReservedBudget >= d.TotalBudget {
		return fmt.Errorf("reserved budget (%d) must be below total budget (%d)", d.ReservedBudget, d.TotalBudget)
	}
	return nil
}

// NewSharedBudget validates cfg and builds the budget
func NewSharedBudget(cfg *SharedBudgetConfig) (*SharedBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := cfg.withDefaults()
	return &SharedBudget{
		redis:    d.Redis,
		total:    d.TotalBudget,
		reserved: d.ReservedBudget,
		shared:   d.TotalBudget - d.ReservedBudget,
		window:   d.WindowSize,
		keyTTL:   d.KeyTTL,
		now:      time.Now,
	}, nil
}

func (b *SharedBudget) windowStart() int64 {
	return b.now().Truncate(b.window).UnixMilli()
}

func (b *SharedBudget) keys(window int64) (total, reserved, shared string) {
	ts := strconv.FormatInt(window, 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume charges cu to the pool of priority. When the charge is refused it
// returns the time left until the next window.
func (b *SharedBudget) TryConsume(ctx context.Context, cu int, priority Priority) (bool, time.Duration) {
	if cu <= 0 {
		return true, 0
	}

	window := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(window)

	poolKey, poolLimit := sharedKey, b.shared
	if priority == PriorityHigh {
		poolKey, poolLimit = reservedKey, b.reserved
	}

	ttl := int(b.keyTTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	res, err := chargeScript.Run(ctx, b.redis, []string{totalKey, poolKey}, cu, b.total, poolLimit, ttl).Int64Slice()
	if err != nil || len(res) == 0 || res[0] != 1 {
		// Redis errors refuse as well; the caller retries next window.
		return false, b.untilNextWindow(window)
	}
	return true, 0
}

func (b *SharedBudget) untilNextWindow(window int64) time.Duration {
	wait := time.UnixMilli(window).Add(b.window).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Usage reads the counters of the current window
func (b *SharedBudget) Usage(ctx context.Context) (*Usage, error) {
	window := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(window)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)

	// Untouched pools come back as redis.Nil.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read CU usage: %w", err)
	}

	return &Usage{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    b.total,
		ReservedBudget: b.reserved,
		SharedBudget:   b.shared,
		WindowStart:    time.UnixMilli(window),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}

// Available returns the CU left in the pool of priority for this window
func (b *SharedBudget) Available(ctx context.Context, priority Priority) (int, error) {
	u, err := b.Usage(ctx)
	if err != nil {
		return 0, err
	}

	left := b.shared - u.SharedUsed
	if priority == PriorityHigh {
		left = b.reserved - u.ReservedUsed
	}
	if left < 0 {
		left = 0
	}
	return left, nil
}

// Window returns the accounting window
func (b *SharedBudget) Window() time.Duration {
	return b.window
}
