// Package fetcher refreshes token market data from the external provider, at most
// once per token per cycle.
package fetcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pick-aggregator/internal/circuitbreaker"
	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/logging"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/retry"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Provider fetches one market snapshot. Errors should be categorized as transient
// provider or permanent data errors.
type Provider interface {
	Fetch(ctx context.Context, key models.TokenKey) (*models.MarketSnapshot, error)
}

// TokenStore persists refreshed token rows
type TokenStore interface {
	UpsertToken(ctx context.Context, token *models.Token) error
}

// Budget gates provider calls on a compute-unit budget shared with other services
type Budget interface {
	Wait(ctx context.Context, endpoint string) error
}

// Config holds fetcher tuning
type Config struct {
	CallTimeout       time.Duration
	StorageTimeout    time.Duration
	RequestsPerSecond float64
	Retry             *retry.RetryConfig
	Breaker           *circuitbreaker.Config

	// Budget is optional. Endpoint names the provider call it is charged as.
	Budget         Budget
	BudgetEndpoint string
}

// Fetcher wraps the provider with rate limiting, a circuit breaker and retries.
// It is shared by all cycles of a process; per-cycle state lives in Session.
type Fetcher struct {
	provider     Provider
	store        TokenStore
	limiter      *rate.Limiter
	budget       Budget
	endpoint     string
	breaker      *circuitbreaker.CircuitBreaker
	retryConfig  retry.RetryConfig
	callTimeout  time.Duration
	storeTimeout time.Duration
	logger       *logging.Logger
}

// New creates a fetcher
func New(provider Provider, store TokenStore, cfg Config, logger *logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.Default()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	retryConfig := *retry.DefaultRetryConfig()
	if cfg.Retry != nil {
		retryConfig = *cfg.Retry
	}
	retryConfig.ShouldRetry = errors.IsRetryable

	breakerConfig := cfg.Breaker
	if breakerConfig == nil {
		breakerConfig = circuitbreaker.DefaultConfig("market-data")
	}
	if breakerConfig.Logger == nil {
		breakerConfig.Logger = logger
	}

	return &Fetcher{
		provider:     provider,
		store:        store,
		limiter:      rate.NewLimiter(limit, burst),
		budget:       cfg.Budget,
		endpoint:     cfg.BudgetEndpoint,
		breaker:      circuitbreaker.NewCircuitBreaker(breakerConfig),
		retryConfig:  retryConfig,
		callTimeout:  cfg.CallTimeout,
		storeTimeout: cfg.StorageTimeout,
		logger:       logger.WithField("component", "fetcher"),
	}
}

// BreakerState exposes the provider circuit state for health reporting
func (f *Fetcher) BreakerState() circuitbreaker.State {
	return f.breaker.GetState()
}

// NewSession starts the per-cycle memo. Every token is fetched at most once per
// session, even when several batches ask for it concurrently.
func (f *Fetcher) NewSession() *Session {
	return &Session{
		f:       f,
		results: make(map[models.TokenKey]*outcome),
	}
}

type outcome struct {
	snap *models.MarketSnapshot
	err  error
}

// Session is the fetch state of one cycle
type Session struct {
	f *Fetcher

	mu      sync.Mutex
	results map[models.TokenKey]*outcome
	group   singleflight.Group

	fetched atomic.Int64
	skipped atomic.Int64
}

// Stats returns how many distinct tokens were refreshed and skipped so far
func (s *Session) Stats() (fetched, skipped int) {
	return int(s.fetched.Load()), int(s.skipped.Load())
}

// FetchBatch resolves the distinct tokens referenced by picks and returns a snapshot
// for each token that could be fetched. Tokens whose fetch failed are absent from the
// result and their stored rows are left untouched. The returned error is non-nil only
// for storage failures, which abort the cycle.
func (s *Session) FetchBatch(ctx context.Context, picks []*models.TokenPick) (map[models.TokenKey]*models.MarketSnapshot, error) {
	seen := make(map[models.TokenKey]struct{}, len(picks))
	keys := make([]models.TokenKey, 0, len(picks))
	for _, p := range picks {
		k := p.TokenKey()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	snaps := make(map[models.TokenKey]*models.MarketSnapshot, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return snaps, nil
		}
		snap, err := s.Fetch(ctx, k)
		if err != nil {
			if errors.IsStorage(err) {
				return snaps, err
			}
			continue
		}
		snaps[k] = snap
	}
	return snaps, nil
}

// Fetch returns the snapshot of one token, from the session memo when present
func (s *Session) Fetch(ctx context.Context, key models.TokenKey) (*models.MarketSnapshot, error) {
	s.mu.Lock()
	if o, ok := s.results[key]; ok {
		s.mu.Unlock()
		return o.snap, o.err
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do(key.String(), func() (interface{}, error) {
		s.mu.Lock()
		if o, ok := s.results[key]; ok {
			s.mu.Unlock()
			return o, nil
		}
		s.mu.Unlock()

		o := s.fetchOnce(ctx, key)
		// Cancellation is not a property of the token; let a later caller try again.
		if o.err == nil || ctx.Err() == nil {
			s.mu.Lock()
			s.results[key] = o
			s.mu.Unlock()
		}
		return o, nil
	})

	o := v.(*outcome)
	return o.snap, o.err
}

func (s *Session) fetchOnce(ctx context.Context, key models.TokenKey) *outcome {
	f := s.f
	logger := logging.FromContext(ctx).WithField("token", key.String())

	var snap *models.MarketSnapshot
	result := retry.WithExponentialBackoff(ctx, &f.retryConfig, func(ctx context.Context, attempt int) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		if f.budget != nil {
			if err := f.budget.Wait(ctx, f.endpoint); err != nil {
				return err
			}
		}
		return f.breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx := ctx
			if f.callTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, f.callTimeout)
				defer cancel()
			}
			var err error
			snap, err = f.provider.Fetch(callCtx, key)
			return err
		})
	})

	if err := result.Err(); err != nil {
		s.skipped.Add(1)
		entry := logger.WithFields(map[string]interface{}{
			"attempts": result.Attempts,
			"category": errors.CategoryOf(result.LastError),
		}).WithError(result.LastError)
		if errors.IsPermanent(result.LastError) {
			entry.Warn("Skipping token with bad market data")
		} else {
			entry.Warn("Skipping token after provider failures")
		}
		return &outcome{err: result.LastError}
	}

	if snap.MarketCap.Sign() <= 0 && snap.Supply.Valid {
		snap.MarketCap = snap.Price.Mul(snap.Supply.Decimal)
	}

	// A snapshot without a usable market cap is still returned so picks can fall back
	// to their own supply, but it never overwrites the stored token row.
	if snap.MarketCap.Sign() > 0 {
		storeCtx := ctx
		if f.storeTimeout > 0 {
			var cancel context.CancelFunc
			storeCtx, cancel = context.WithTimeout(ctx, f.storeTimeout)
			defer cancel()
		}
		if err := f.store.UpsertToken(storeCtx, snap.ToToken()); err != nil {
			return &outcome{err: errors.NewStorageError("upsert token", err)}
		}
	}

	s.fetched.Add(1)
	return &outcome{snap: snap}
}
