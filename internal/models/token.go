// Package models defines the entities the aggregation engine reads and writes.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// TokenKey identifies a token across chains
type TokenKey struct {
	Address string        `json:"address"`
	Chain   types.ChainID `json:"chain"`
}

// String returns "<chain>:<address>"
func (k TokenKey) String() string {
	return fmt.Sprintf("%s:%s", k.Chain, k.Address)
}

// Normalize lowercases EVM addresses; Solana addresses are case sensitive
func (k TokenKey) Normalize() TokenKey {
	if k.Chain.IsEVM() {
		k.Address = strings.ToLower(k.Address)
	}
	return k
}

// Token holds the latest market data for a token, refreshed once per cycle
type Token struct {
	Address   string              `json:"address" db:"address"`
	Chain     types.ChainID       `json:"chain" db:"chain"`
	Symbol    string              `json:"symbol,omitempty" db:"symbol"`
	Name      string              `json:"name,omitempty" db:"name"`
	Price     decimal.Decimal     `json:"price" db:"price"`
	MarketCap decimal.Decimal     `json:"marketCap" db:"market_cap"`
	Volume24h decimal.NullDecimal `json:"volume24h" db:"volume_24h"`
	Liquidity decimal.NullDecimal `json:"liquidity" db:"liquidity"`
	UpdatedAt time.Time           `json:"updatedAt" db:"updated_at"`
}

// Key returns the token identity
func (t *Token) Key() TokenKey {
	return TokenKey{Address: t.Address, Chain: t.Chain}
}

// MarketSnapshot is one provider observation for a token
type MarketSnapshot struct {
	Key        TokenKey
	Symbol     string
	Name       string
	Price      decimal.Decimal
	MarketCap  decimal.Decimal
	Supply     decimal.NullDecimal
	Volume24h  decimal.NullDecimal
	Liquidity  decimal.NullDecimal
	ObservedAt time.Time
}

// ToToken converts a snapshot into the stored token row
func (s *MarketSnapshot) ToToken() *Token {
	return &Token{
		Address:   s.Key.Address,
		Chain:     s.Key.Chain,
		Symbol:    s.Symbol,
		Name:      s.Name,
		Price:     s.Price,
		MarketCap: s.MarketCap,
		Volume24h: s.Volume24h,
		Liquidity: s.Liquidity,
		UpdatedAt: s.ObservedAt,
	}
}
