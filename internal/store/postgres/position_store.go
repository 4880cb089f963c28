package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `account, market_id, prediction, shares_held, amount_staked,
	claimed, payout, version, updated_at`

// UpsertBatch writes positions in one round trip. Rows already at the same or
// a newer version are left alone.
func (s *PositionStore) UpsertBatch(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	const query = `
		INSERT INTO positions (` + positionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account, market_id, prediction) DO UPDATE SET
			shares_held   = EXCLUDED.shares_held,
			amount_staked = EXCLUDED.amount_staked,
			claimed       = EXCLUDED.claimed,
			payout        = EXCLUDED.payout,
			version       = EXCLUDED.version,
			updated_at    = EXCLUDED.updated_at
		WHERE positions.version < EXCLUDED.version`

	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(query,
			p.Account, p.MarketID, bool(p.Prediction), p.SharesHeld, p.AmountStaked,
			p.Claimed, p.Payout, p.Version, p.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range positions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert position batch item %d: %w", i, err)
		}
	}
	return nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var (
			p          domain.Position
			prediction bool
		)
		if err := rows.Scan(
			&p.Account, &p.MarketID, &prediction, &p.SharesHeld, &p.AmountStaked,
			&p.Claimed, &p.Payout, &p.Version, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Prediction = domain.Side(prediction)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListByMarket returns every position held on one market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID int64) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 ORDER BY account, prediction DESC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of market %d: %w", marketID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions of market %d: %w", marketID, err)
	}
	return positions, nil
}

// ListAll returns every stored position.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions ORDER BY market_id, account, prediction DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}
