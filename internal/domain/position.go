package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an account's holding on one side of one market. An account
// that staked on both sides holds two positions.
type Position struct {
	Account      string          `json:"account"`
	MarketID     int64           `json:"marketId"`
	Prediction   Side            `json:"prediction"`
	SharesHeld   decimal.Decimal `json:"sharesHeld"`
	AmountStaked decimal.Decimal `json:"amountStaked"`
	Claimed      bool            `json:"claimed"`
	Payout       decimal.Decimal `json:"payout"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Version      int64           `json:"version"` // market version of the last change
}

// UserStats aggregates an account's activity across markets.
type UserStats struct {
	Account       string          `json:"account"`
	Markets       int             `json:"markets"`
	TotalStaked   decimal.Decimal `json:"totalStaked"`
	TotalWinnings decimal.Decimal `json:"totalWinnings"`
}

// LedgerState is a complete, self-consistent copy of the ledger used for
// restores and snapshots.
type LedgerState struct {
	Markets   []Market   `json:"markets"`
	Positions []Position `json:"positions"`
	TakenAt   time.Time  `json:"takenAt"`
}
