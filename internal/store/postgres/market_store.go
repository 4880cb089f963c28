package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, description, creator, creation_time, resolution_time,
	total_staked, yes_shares, no_shares, liquidity_pool, total_volume,
	fees_collected, treasury_fees, claimed_shares, claimed_stake,
	resolved, outcome, resolver, resolved_at, source, version`

// Upsert writes m unless the stored row already carries the same or a newer
// version, so concurrent writers can finish in any order.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	var source []byte
	if m.Source != nil {
		var err error
		if source, err = json.Marshal(m.Source); err != nil {
			return fmt.Errorf("postgres: marshal market %d source: %w", m.ID, err)
		}
	}

	const query = `
		INSERT INTO markets (` + marketCols + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
		ON CONFLICT (id) DO UPDATE SET
			total_staked   = EXCLUDED.total_staked,
			yes_shares     = EXCLUDED.yes_shares,
			no_shares      = EXCLUDED.no_shares,
			liquidity_pool = EXCLUDED.liquidity_pool,
			total_volume   = EXCLUDED.total_volume,
			fees_collected = EXCLUDED.fees_collected,
			treasury_fees  = EXCLUDED.treasury_fees,
			claimed_shares = EXCLUDED.claimed_shares,
			claimed_stake  = EXCLUDED.claimed_stake,
			resolved       = EXCLUDED.resolved,
			outcome        = EXCLUDED.outcome,
			resolver       = EXCLUDED.resolver,
			resolved_at    = EXCLUDED.resolved_at,
			version        = EXCLUDED.version,
			updated_at     = NOW()
		WHERE markets.version < EXCLUDED.version`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Description, m.Creator, m.CreationTime, m.ResolutionTime,
		m.TotalStaked, m.YesShares, m.NoShares, m.LiquidityPool, m.TotalVolume,
		m.FeesCollected, m.TreasuryFees, m.ClaimedShares, m.ClaimedStake,
		m.Resolved, m.Outcome, m.Resolver, m.ResolvedAt, source, m.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m      domain.Market
		source []byte
	)
	err := row.Scan(
		&m.ID, &m.Description, &m.Creator, &m.CreationTime, &m.ResolutionTime,
		&m.TotalStaked, &m.YesShares, &m.NoShares, &m.LiquidityPool, &m.TotalVolume,
		&m.FeesCollected, &m.TreasuryFees, &m.ClaimedShares, &m.ClaimedStake,
		&m.Resolved, &m.Outcome, &m.Resolver, &m.ResolvedAt, &source, &m.Version,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if len(source) > 0 {
		var sig domain.CrisisSignal
		if err := json.Unmarshal(source, &sig); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal source: %w", err)
		}
		m.Source = &sig
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListAll returns every market in ascending id order.
func (s *MarketStore) ListAll(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketCols+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the number of stored markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}
