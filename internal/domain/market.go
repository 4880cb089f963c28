package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusExpired  MarketStatus = "expired" // deadline passed, awaiting resolution
	MarketStatusResolved MarketStatus = "resolved"
)

// Side is the binary prediction of a stake. It serialises as a JSON bool to
// match the external API (true = YES).
type Side bool

const (
	SideNo  Side = false
	SideYes Side = true
)

func (s Side) String() string {
	if s {
		return "YES"
	}
	return "NO"
}

// Market is a single binary-outcome prediction market and its pooled
// accounting state.
type Market struct {
	ID             int64           `json:"id"`
	Description    string          `json:"description"`
	Creator        string          `json:"creator"`
	CreationTime   time.Time       `json:"creationTime"`
	ResolutionTime time.Time       `json:"resolutionTime"`
	TotalStaked    decimal.Decimal `json:"totalStaked"`
	YesShares      decimal.Decimal `json:"yesShares"`
	NoShares       decimal.Decimal `json:"noShares"`
	LiquidityPool  decimal.Decimal `json:"liquidityPool"`
	TotalVolume    decimal.Decimal `json:"totalVolume"`
	Resolved       bool            `json:"resolved"`
	Outcome        bool            `json:"outcome"`

	FeesCollected decimal.Decimal `json:"feesCollected"`
	TreasuryFees  decimal.Decimal `json:"treasuryFees"`  // part of FeesCollected routed out of the pool
	ClaimedShares decimal.Decimal `json:"claimedShares"` // winning shares already paid
	ClaimedStake  decimal.Decimal `json:"claimedStake"`  // stake already refunded (empty winning side)
	Resolver      string          `json:"resolver,omitempty"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
	Source        *CrisisSignal   `json:"source,omitempty"`
	Version       int64           `json:"version"`
}

// Status derives the lifecycle state at the given instant.
func (m Market) Status(now time.Time) MarketStatus {
	switch {
	case m.Resolved:
		return MarketStatusResolved
	case !now.Before(m.ResolutionTime):
		return MarketStatusExpired
	default:
		return MarketStatusActive
	}
}

// TotalShares is the outstanding share supply across both sides.
func (m Market) TotalShares() decimal.Decimal {
	return m.YesShares.Add(m.NoShares)
}

// SideShares returns the share counter of one side.
func (m Market) SideShares(s Side) decimal.Decimal {
	if s == SideYes {
		return m.YesShares
	}
	return m.NoShares
}

// RiskToken is the marketplace view of a market's share supply.
type RiskToken struct {
	MarketID    int64           `json:"marketId"`
	Symbol      string          `json:"symbol"`
	TotalSupply decimal.Decimal `json:"totalSupply"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
}

// RiskTokenSymbol derives the token symbol of a market.
func RiskTokenSymbol(marketID int64) string {
	return "RISK-" + strconv.FormatInt(marketID, 10)
}

// Quote is the current price of each side plus the staking fee.
type Quote struct {
	MarketID int64           `json:"marketId"`
	YesPrice decimal.Decimal `json:"yesPrice"`
	NoPrice  decimal.Decimal `json:"noPrice"`
	FeeBps   int64           `json:"feeBps"`
}
