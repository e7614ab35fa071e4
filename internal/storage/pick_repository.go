package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

// ErrPickNotFound is returned when an update matched no row
var ErrPickNotFound = fmt.Errorf("token pick not found")

// PickRepository reads pending picks and writes refreshed performance fields
type PickRepository struct {
	db *PostgresDB
}

// NewPickRepository creates a new pick repository
func NewPickRepository(db *PostgresDB) *PickRepository {
	return &PickRepository{db: db}
}

// ListPendingPicks returns picks matching filter, joined with their current token row.
// highest_multiplier is derived on read and is NULL when market_cap_at_call <= 0.
func (r *PickRepository) ListPendingPicks(ctx context.Context, filter models.PickFilter) ([]*models.TokenPick, error) {
	query := `
		SELECT tp.id, tp.token_address, tp.chain, tp.user_id, COALESCE(u.username, ''), tp.group_id,
		       tp.price_at_call, tp.market_cap_at_call, tp.supply_at_call, tp.call_date,
		       tp.highest_market_cap,
		       CASE WHEN tp.market_cap_at_call > 0 AND tp.highest_market_cap IS NOT NULL
		            THEN tp.highest_market_cap / tp.market_cap_at_call END,
		       tp.hit_date,
		       t.address, t.symbol, t.name, t.price, t.market_cap, t.volume_24h, t.liquidity, t.updated_at
		FROM social.token_picks tp
		LEFT JOIN social.tokens t ON t.address = tp.token_address AND t.chain = tp.chain
		LEFT JOIN public.user u ON u.id = tp.user_id
		WHERE ($1::timestamptz IS NULL OR tp.call_date >= $1)
		  AND (cardinality($2::text[]) = 0 OR tp.chain = ANY($2))
		ORDER BY tp.id
	`

	var calledAfter *time.Time
	if !filter.CalledAfter.IsZero() {
		calledAfter = &filter.CalledAfter
	}
	chains := make([]string, 0, len(filter.Chains))
	for _, c := range filter.Chains {
		chains = append(chains, string(c))
	}

	rows, err := r.db.Pool().Query(ctx, query, calledAfter, chains)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending picks: %w", err)
	}
	defer rows.Close()

	var picks []*models.TokenPick
	for rows.Next() {
		pick, err := scanPick(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token pick: %w", err)
		}
		picks = append(picks, pick)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token picks: %w", err)
	}

	return picks, nil
}

func scanPick(rows pgx.Rows) (*models.TokenPick, error) {
	var (
		p        models.TokenPick
		chain    string
		tAddress *string
		tSymbol  *string
		tName    *string
		tPrice   decimal.NullDecimal
		tCap     decimal.NullDecimal
		tVolume  decimal.NullDecimal
		tLiq     decimal.NullDecimal
		tUpdated *time.Time
	)

	err := rows.Scan(
		&p.ID, &p.TokenAddress, &chain, &p.UserID, &p.Username, &p.GroupID,
		&p.PriceAtCall, &p.MarketCapAtCall, &p.SupplyAtCall, &p.CallDate,
		&p.HighestMarketCap, &p.HighestMultiplier, &p.HitDate,
		&tAddress, &tSymbol, &tName, &tPrice, &tCap, &tVolume, &tLiq, &tUpdated,
	)
	if err != nil {
		return nil, err
	}
	p.Chain = types.ChainID(chain)

	if tAddress != nil {
		tok := &models.Token{
			Address:   *tAddress,
			Chain:     p.Chain,
			Price:     tPrice.Decimal,
			MarketCap: tCap.Decimal,
			Volume24h: tVolume,
			Liquidity: tLiq,
		}
		if tSymbol != nil {
			tok.Symbol = *tSymbol
		}
		if tName != nil {
			tok.Name = *tName
		}
		if tUpdated != nil {
			tok.UpdatedAt = *tUpdated
		}
		p.Token = tok
	}

	return &p, nil
}

// UpsertPick writes the mutable performance fields of a pick. The statement is
// idempotent: highest_market_cap never decreases and hit_date is only set when NULL,
// so a replay after a lost lease cannot regress stored values.
func (r *PickRepository) UpsertPick(ctx context.Context, pick *models.TokenPick) error {
	query := `
		UPDATE social.token_picks
		SET highest_market_cap = GREATEST(highest_market_cap, $2),
		    hit_date = COALESCE(hit_date, $3)
		WHERE id = $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, pick.ID, pick.HighestMarketCap, pick.HitDate)
	if err != nil {
		return fmt.Errorf("failed to update token pick %d: %w", pick.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrPickNotFound, pick.ID)
	}

	return nil
}

// UpsertToken inserts or refreshes the market data of a token
func (r *PickRepository) UpsertToken(ctx context.Context, token *models.Token) error {
	query := `
		INSERT INTO social.tokens (address, chain, name, symbol, price, market_cap, volume_24h, liquidity, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address, chain) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), social.tokens.name),
			symbol = COALESCE(NULLIF(EXCLUDED.symbol, ''), social.tokens.symbol),
			price = EXCLUDED.price,
			market_cap = EXCLUDED.market_cap,
			volume_24h = COALESCE(EXCLUDED.volume_24h, social.tokens.volume_24h),
			liquidity = COALESCE(EXCLUDED.liquidity, social.tokens.liquidity),
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		token.Address,
		string(token.Chain),
		token.Name,
		token.Symbol,
		token.Price,
		token.MarketCap,
		token.Volume24h,
		token.Liquidity,
		token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert token %s: %w", token.Key(), err)
	}

	return nil
}
