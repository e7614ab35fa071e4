package models

import (
	"time"

	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// TokenPick is a user's public call on a token.
//
// PriceAtCall, MarketCapAtCall, SupplyAtCall and CallDate are set at creation and never
// modified here. HighestMarketCap only grows; HitDate is written at most once.
type TokenPick struct {
	ID                int64               `json:"id" db:"id"`
	TokenAddress      string              `json:"tokenAddress" db:"token_address"`
	Chain             types.ChainID       `json:"chain" db:"chain"`
	UserID            string              `json:"userId" db:"user_id"`
	Username          string              `json:"username,omitempty" db:"username"`
	GroupID           int64               `json:"groupId" db:"group_id"`
	PriceAtCall       decimal.Decimal     `json:"priceAtCall" db:"price_at_call"`
	MarketCapAtCall   decimal.Decimal     `json:"marketCapAtCall" db:"market_cap_at_call"`
	SupplyAtCall      decimal.NullDecimal `json:"supplyAtCall" db:"supply_at_call"`
	CallDate          time.Time           `json:"callDate" db:"call_date"`
	HighestMarketCap  decimal.NullDecimal `json:"highestMarketCap" db:"highest_market_cap"`
	HighestMultiplier decimal.NullDecimal `json:"highestMultiplier" db:"highest_multiplier"`
	HitDate           *time.Time          `json:"hitDate,omitempty" db:"hit_date"`

	// Token is the joined current token row, nil when the token was never refreshed.
	Token *Token `json:"token,omitempty" db:"-"`
}

// TokenKey returns the identity of the picked token
func (p *TokenPick) TokenKey() TokenKey {
	return TokenKey{Address: p.TokenAddress, Chain: p.Chain}.Normalize()
}

// IsHit reports whether the pick has crossed the hit threshold
func (p *TokenPick) IsHit() bool {
	return p.HitDate != nil
}

// Clone returns a copy that shares no mutable state with p
func (p *TokenPick) Clone() *TokenPick {
	c := *p
	if p.HitDate != nil {
		hd := *p.HitDate
		c.HitDate = &hd
	}
	if p.Token != nil {
		tok := *p.Token
		c.Token = &tok
	}
	return &c
}

// PickFilter selects picks from storage
type PickFilter struct {
	// CalledAfter excludes picks called before this instant; zero means no lower bound.
	CalledAfter time.Time
	// Chains restricts the result to these chains; empty means all.
	Chains []types.ChainID
}
