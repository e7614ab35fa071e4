package calculator

import (
	"github.com/pick-aggregator/internal/config"
	"github.com/pick-aggregator/internal/models"
	"github.com/shopspring/decimal"
)

// Qualifier decides whether a pick counts towards statistics and leaderboards.
//
// A pick qualifies when its market cap at call is above MinMarketCap and the token
// is liquid enough: below LargeCap, liquidity must cover LiquidityRatio of the 24h
// volume; at or above it, liquidity must reach LargeCapMinLiquidity. Tokens without
// liquidity or volume data never qualify. When disabled, every pick with a positive
// market cap at call qualifies.
type Qualifier struct {
	enabled              bool
	minMarketCap         decimal.Decimal
	liquidityRatio       decimal.Decimal
	largeCap             decimal.Decimal
	largeCapMinLiquidity decimal.Decimal
}

// NewQualifier creates a qualifier from configuration
func NewQualifier(cfg config.QualifyConfig) *Qualifier {
	return &Qualifier{
		enabled:              cfg.Enabled,
		minMarketCap:         cfg.MinMarketCap,
		liquidityRatio:       cfg.LiquidityRatio,
		largeCap:             cfg.LargeCap,
		largeCapMinLiquidity: cfg.LargeCapMinLiquidity,
	}
}

// IsQualified reports whether pick is eligible
func (q *Qualifier) IsQualified(pick *models.TokenPick) bool {
	fdv := pick.MarketCapAtCall
	if fdv.Sign() <= 0 {
		return false
	}
	if !q.enabled {
		return true
	}
	if fdv.LessThanOrEqual(q.minMarketCap) {
		return false
	}
	if pick.Token == nil || !pick.Token.Liquidity.Valid || !pick.Token.Volume24h.Valid {
		return false
	}

	liq := pick.Token.Liquidity.Decimal
	if fdv.LessThan(q.largeCap) {
		return liq.GreaterThanOrEqual(pick.Token.Volume24h.Decimal.Mul(q.liquidityRatio))
	}
	return liq.GreaterThanOrEqual(q.largeCapMinLiquidity)
}
