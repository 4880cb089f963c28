package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a ledger state change.
type EventType string

const (
	EventMarketCreated  EventType = "market_created"
	EventStaked         EventType = "stake"
	EventMarketResolved EventType = "market_resolved"
	EventPayoutClaimed  EventType = "payout_claimed"
	EventLedgerFatal    EventType = "ledger_fatal"
)

// LedgerEvent is published after every successful mutation.
type LedgerEvent struct {
	Type       EventType        `json:"type"`
	MarketID   int64            `json:"marketId"`
	Account    string           `json:"account,omitempty"`
	Prediction *Side            `json:"prediction,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Shares     *decimal.Decimal `json:"shares,omitempty"`
	Market     Market           `json:"market"`
	At         time.Time        `json:"at"`
}
