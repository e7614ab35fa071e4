package calculator

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pick-aggregator/internal/models"
	"github.com/shopspring/decimal"
)

// runCycles applies each observed market cap in order, one cycle per minute
func runCycles(calc *Calculator, pick *models.TokenPick, caps []uint32) []*models.TokenPick {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := make([]*models.TokenPick, 0, len(caps))
	current := pick
	for i, c := range caps {
		snap := &models.MarketSnapshot{Price: decimal.NewFromInt(1), MarketCap: decimal.NewFromInt(int64(c) + 1)}
		res, err := calc.Apply(current, snap, start.Add(time.Duration(i)*time.Minute))
		if err != nil {
			return nil
		}
		current = res.Pick
		history = append(history, current)
	}
	return history
}

func TestCalculatorProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	calc := New(decimal.NewFromInt(2))

	properties.Property("highest market cap never decreases", prop.ForAll(
		func(atCall uint32, caps []uint32) bool {
			pick := &models.TokenPick{MarketCapAtCall: decimal.NewFromInt(int64(atCall))}
			prev := decimal.Zero
			for _, p := range runCycles(calc, pick, caps) {
				if p.HighestMarketCap.Decimal.LessThan(prev) {
					return false
				}
				prev = p.HighestMarketCap.Decimal
			}
			return true
		},
		gen.UInt32Range(0, 1_000_000),
		gen.SliceOf(gen.UInt32Range(0, 5_000_000)),
	))

	properties.Property("multiplier is null when market cap at call is zero", prop.ForAll(
		func(caps []uint32) bool {
			pick := &models.TokenPick{MarketCapAtCall: decimal.Zero}
			for _, p := range runCycles(calc, pick, caps) {
				if p.HighestMultiplier.Valid {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt32Range(0, 5_000_000)),
	))

	properties.Property("hit date is written once", prop.ForAll(
		func(atCall uint32, caps []uint32) bool {
			pick := &models.TokenPick{MarketCapAtCall: decimal.NewFromInt(int64(atCall) + 1)}
			var first *time.Time
			for _, p := range runCycles(calc, pick, caps) {
				if first == nil {
					first = p.HitDate
					continue
				}
				if p.HitDate == nil || !p.HitDate.Equal(*first) {
					return false
				}
			}
			return true
		},
		gen.UInt32Range(0, 1_000_000),
		gen.SliceOf(gen.UInt32Range(0, 5_000_000)),
	))

	properties.Property("multiplier equals highest over baseline", prop.ForAll(
		func(atCall uint32, caps []uint32) bool {
			base := decimal.NewFromInt(int64(atCall) + 1)
			pick := &models.TokenPick{MarketCapAtCall: base}
			for _, p := range runCycles(calc, pick, caps) {
				if !p.HighestMultiplier.Decimal.Equal(p.HighestMarketCap.Decimal.Div(base)) {
					return false
				}
			}
			return true
		},
		gen.UInt32Range(0, 1_000_000),
		gen.SliceOf(gen.UInt32Range(0, 5_000_000)),
	))

	properties.TestingRun(t)
}
