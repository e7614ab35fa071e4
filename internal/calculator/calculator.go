// Package calculator derives the performance fields of a pick from a fresh market
// observation and decides which picks are eligible for statistics.
package calculator

import (
	"time"

	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/models"
	"github.com/shopspring/decimal"
)

// Result is the outcome of applying one observation to a pick
type Result struct {
	Pick              *models.TokenPick
	ObservedMarketCap decimal.Decimal
	Changed           bool
	NewHit            bool
}

// Calculator applies market observations to picks
type Calculator struct {
	threshold decimal.Decimal
}

// New creates a calculator with the hit multiplier threshold
func New(threshold decimal.Decimal) *Calculator {
	return &Calculator{threshold: threshold}
}

// Threshold returns the hit multiplier threshold
func (c *Calculator) Threshold() decimal.Decimal {
	return c.threshold
}

// ObservedMarketCap returns the market cap to apply to pick. The provider's value is
// used when positive, otherwise the current price times the pick's supply at call.
func ObservedMarketCap(pick *models.TokenPick, snap *models.MarketSnapshot) (decimal.Decimal, error) {
	if snap.MarketCap.Sign() > 0 {
		return snap.MarketCap, nil
	}
	if pick.SupplyAtCall.Valid && pick.SupplyAtCall.Decimal.Sign() > 0 && snap.Price.Sign() > 0 {
		return snap.Price.Mul(pick.SupplyAtCall.Decimal), nil
	}
	return decimal.Zero, errors.NewPermanentDataError(pick.TokenKey().String(), "no market cap and no supply at call")
}

// Multiplier returns highest / atCall, or null when atCall is not positive
func Multiplier(highest decimal.NullDecimal, atCall decimal.Decimal) decimal.NullDecimal {
	if atCall.Sign() <= 0 || !highest.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(highest.Decimal.Div(atCall))
}

// Apply computes the new performance fields of pick for one observation. pick is not
// modified; Result.Pick is a copy. highest_market_cap never decreases and a set
// hit_date is never changed.
func (c *Calculator) Apply(pick *models.TokenPick, snap *models.MarketSnapshot, now time.Time) (*Result, error) {
	m, err := ObservedMarketCap(pick, snap)
	if err != nil {
		return nil, err
	}

	next := pick.Clone()
	res := &Result{Pick: next, ObservedMarketCap: m}

	if !pick.HighestMarketCap.Valid || m.GreaterThan(pick.HighestMarketCap.Decimal) {
		next.HighestMarketCap = decimal.NewNullDecimal(m)
		res.Changed = true
	}
	next.HighestMultiplier = Multiplier(next.HighestMarketCap, next.MarketCapAtCall)

	if next.HitDate == nil && next.HighestMultiplier.Valid && next.HighestMultiplier.Decimal.GreaterThanOrEqual(c.threshold) {
		hit := now.UTC()
		next.HitDate = &hit
		res.Changed = true
		res.NewHit = true
	}

	return res, nil
}
