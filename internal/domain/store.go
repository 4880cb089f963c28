package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Status MarketStatus // empty = any
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market state. Upserts must be version guarded: a
// write carrying an older version than the stored row is a no-op.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id int64) (Market, error)
	ListAll(ctx context.Context) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists account positions.
type PositionStore interface {
	UpsertBatch(ctx context.Context, positions []Position) error
	ListByMarket(ctx context.Context, marketID int64) ([]Position, error)
	ListAll(ctx context.Context) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByMarket(ctx context.Context, marketID int64, opts ListOpts) ([]AuditEntry, error)
}
