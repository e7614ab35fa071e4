package adapter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	solMint = "So11111111111111111111111111111111111111112"
	ethUSDC = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *MarketDataClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewMarketDataClient(srv.URL, "test-key", 2*time.Second)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestMarketDataClient_Fetch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/defi/token_overview", r.URL.Path)
		assert.Equal(t, solMint, r.URL.Query().Get("address"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "solana", r.Header.Get("x-chain"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"address":"` + solMint + `","symbol":"SOL","name":"Wrapped SOL",
			"price":151.25,"marketCap":70000000000,"liquidity":"12000000","v24hUSD":900000000,"supply":462000000}}`))
	})

	snap, err := c.Fetch(testCtx(t), models.TokenKey{Address: solMint, Chain: types.ChainSolana})
	require.NoError(t, err)

	assert.Equal(t, "SOL", snap.Symbol)
	assert.True(t, snap.Price.Equal(decimal.RequireFromString("151.25")))
	assert.True(t, snap.MarketCap.Equal(decimal.NewFromInt(70000000000)))
	assert.True(t, snap.Liquidity.Valid)
	assert.True(t, snap.Liquidity.Decimal.Equal(decimal.NewFromInt(12000000)))
	assert.True(t, snap.Supply.Valid)
	assert.Equal(t, int64(1700000000), snap.ObservedAt.Unix())
}

func TestMarketDataClient_FallsBackToMC(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"price":1,"mc":5000}}`))
	})

	snap, err := c.Fetch(testCtx(t), models.TokenKey{Address: ethUSDC, Chain: types.ChainEthereum})
	require.NoError(t, err)
	assert.True(t, snap.MarketCap.Equal(decimal.NewFromInt(5000)))
	assert.False(t, snap.Liquidity.Valid)
}

func TestMarketDataClient_MissingMarketCapIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"price":0.5}}`))
	})

	snap, err := c.Fetch(testCtx(t), models.TokenKey{Address: solMint, Chain: types.ChainSolana})
	require.NoError(t, err)
	assert.True(t, snap.MarketCap.IsZero())
}

func TestMarketDataClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category errors.ErrorCategory
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, errors.CategoryTransientProvider},
		{"server error", http.StatusBadGateway, `bad gateway`, errors.CategoryTransientProvider},
		{"not found", http.StatusNotFound, `{}`, errors.CategoryPermanentData},
		{"unsuccessful", http.StatusOK, `{"success":false,"message":"unknown token"}`, errors.CategoryPermanentData},
		{"no price", http.StatusOK, `{"success":true,"data":{"marketCap":10}}`, errors.CategoryPermanentData},
		{"garbage", http.StatusOK, `<html>`, errors.CategoryPermanentData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Fetch(testCtx(t), models.TokenKey{Address: solMint, Chain: types.ChainSolana})
			require.Error(t, err)
			assert.Equal(t, tt.category, errors.CategoryOf(err))
		})
	}
}

func TestMarketDataClient_NetworkErrorIsTransient(t *testing.T) {
	c := NewMarketDataClient("http://127.0.0.1:1", "k", 200*time.Millisecond)

	_, err := c.Fetch(testCtx(t), models.TokenKey{Address: solMint, Chain: types.ChainSolana})
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestMarketDataClient_InvalidAddressSkipsCall(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.Fetch(testCtx(t), models.TokenKey{Address: "not-an-address", Chain: types.ChainBase})
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
	assert.False(t, called)
}
