// Package adapter talks to the external market-data provider.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pick-aggregator/internal/errors"
	"github.com/pick-aggregator/internal/models"
	"github.com/shopspring/decimal"
)

const providerName = "birdeye"

// MarketDataClient fetches token overviews from the Birdeye public API.
// It performs exactly one HTTP call per Fetch; retries belong to the caller.
type MarketDataClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewMarketDataClient creates a client. timeout bounds a single HTTP round trip.
func NewMarketDataClient(baseURL, apiKey string, timeout time.Duration) *MarketDataClient {
	return &MarketDataClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// tokenOverviewResponse is the envelope of GET /defi/token_overview
type tokenOverviewResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message,omitempty"`
	Data    *tokenOverviewData `json:"data"`
}

type tokenOverviewData struct {
	Address   string              `json:"address"`
	Name      string              `json:"name"`
	Symbol    string              `json:"symbol"`
	Price     decimal.NullDecimal `json:"price"`
	MarketCap decimal.NullDecimal `json:"marketCap"`
	MC        decimal.NullDecimal `json:"mc"`
	Liquidity decimal.NullDecimal `json:"liquidity"`
	Volume24h decimal.NullDecimal `json:"v24hUSD"`
	Supply    decimal.NullDecimal `json:"supply"`
}

// Fetch returns the current market snapshot for a token.
//
// Errors are categorized: network failures, 429 and 5xx are transient; malformed
// addresses, 4xx and payloads without a price are permanent. A zero or missing
// market cap is not an error here; the snapshot carries a zero MarketCap and the
// caller decides on a fallback.
func (c *MarketDataClient) Fetch(ctx context.Context, key models.TokenKey) (*models.MarketSnapshot, error) {
	if err := ValidateTokenAddress(key); err != nil {
		return nil, errors.NewPermanentDataError(key.String(), err.Error())
	}

	endpoint := fmt.Sprintf("%s/defi/token_overview?address=%s", c.baseURL, url.QueryEscape(key.Address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("x-chain", string(key.Chain))
	req.Header.Set("accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransientProviderError(providerName, key.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewTransientProviderError(providerName, key.String(), fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.NewTransientProviderError(providerName, key.String(),
			fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewPermanentDataError(key.String(),
			fmt.Sprintf("HTTP error: %d - %s", resp.StatusCode, truncate(body)))
	}

	var overview tokenOverviewResponse
	if err := json.Unmarshal(body, &overview); err != nil {
		return nil, errors.NewPermanentDataError(key.String(), fmt.Sprintf("malformed response: %v", err))
	}
	if !overview.Success || overview.Data == nil {
		return nil, errors.NewPermanentDataError(key.String(), fmt.Sprintf("no token data: %s", overview.Message))
	}

	d := overview.Data
	if !d.Price.Valid || d.Price.Decimal.Sign() <= 0 {
		return nil, errors.NewPermanentDataError(key.String(), "missing price")
	}

	marketCap := d.MarketCap
	if !marketCap.Valid {
		marketCap = d.MC
	}

	return &models.MarketSnapshot{
		Key:        key,
		Symbol:     d.Symbol,
		Name:       d.Name,
		Price:      d.Price.Decimal,
		MarketCap:  marketCap.Decimal,
		Supply:     d.Supply,
		Volume24h:  d.Volume24h,
		Liquidity:  d.Liquidity,
		ObservedAt: c.now().UTC(),
	}, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
