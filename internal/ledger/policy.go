package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FeeSink selects where the staking fee goes.
type FeeSink string

const (
	// FeeSinkPool keeps the fee in the market's liquidity pool, so winners
	// share it.
	FeeSinkPool FeeSink = "pool"
	// FeeSinkTreasury routes the fee to the ledger-wide treasury balance.
	FeeSinkTreasury FeeSink = "treasury"
)

// storeIntegerDigits is the integer precision of the NUMERIC(78,18) money
// columns. Totals must stay below 10^storeIntegerDigits.
const storeIntegerDigits = 60

// stakeHeadroomDigits keeps MaxStake/PriceFloor this many orders of magnitude
// under the column limit, so no realistic number of stakes can overflow a
// market's share or volume totals.
const stakeHeadroomDigits = 15

// Policy holds the tunable rules of the ledger.
type Policy struct {
	FeeBps               int64
	FeeSink              FeeSink
	PriceFloor           decimal.Decimal
	PriceCeiling         decimal.Decimal
	MinHorizon           time.Duration
	MaxHorizon           time.Duration
	MaxDescriptionLength int
	// MaxStake caps a single stake amount.
	MaxStake decimal.Decimal
	// Oracles may resolve any market at any time. Creators may only resolve
	// their own markets after the resolution time.
	Oracles []string
}

// DefaultPolicy returns the production defaults: a 2.5% fee kept in the pool
// and a one hour to one week horizon.
func DefaultPolicy() Policy {
	return Policy{
		FeeBps:               250,
		FeeSink:              FeeSinkPool,
		PriceFloor:           decimal.New(1, -2),
		PriceCeiling:         decimal.New(99, -2),
		MinHorizon:           time.Hour,
		MaxHorizon:           7 * 24 * time.Hour,
		MaxDescriptionLength: 512,
		MaxStake:             decimal.New(1, 12),
	}
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	var errs []error
	if p.FeeBps < 0 || p.FeeBps >= 10000 {
		errs = append(errs, fmt.Errorf("fee_bps must be in [0, 10000), got %d", p.FeeBps))
	}
	if p.FeeSink != FeeSinkPool && p.FeeSink != FeeSinkTreasury {
		errs = append(errs, fmt.Errorf("fee_sink must be %q or %q, got %q", FeeSinkPool, FeeSinkTreasury, p.FeeSink))
	}
	if !p.PriceFloor.IsPositive() || !p.PriceCeiling.LessThan(decimal.NewFromInt(1)) || !p.PriceFloor.LessThan(p.PriceCeiling) {
		errs = append(errs, fmt.Errorf("price band must satisfy 0 < floor < ceiling < 1, got [%s, %s]", p.PriceFloor, p.PriceCeiling))
	}
	if p.MinHorizon < 0 || p.MaxHorizon <= 0 || p.MinHorizon > p.MaxHorizon {
		errs = append(errs, fmt.Errorf("horizon must satisfy 0 <= min <= max, got [%s, %s]", p.MinHorizon, p.MaxHorizon))
	}
	if p.MaxDescriptionLength <= 0 {
		errs = append(errs, errors.New("max_description_length must be positive"))
	}
	if !p.MaxStake.IsPositive() {
		errs = append(errs, fmt.Errorf("max_stake must be positive, got %s", p.MaxStake))
	} else if p.PriceFloor.IsPositive() {
		limit := decimal.New(1, storeIntegerDigits-stakeHeadroomDigits)
		if p.MaxStake.Div(p.PriceFloor).GreaterThanOrEqual(limit) {
			errs = append(errs, fmt.Errorf("max_stake %s over price_floor %s exceeds %s shares per stake", p.MaxStake, p.PriceFloor, limit))
		}
	}
	for _, o := range p.Oracles {
		if strings.TrimSpace(o) == "" {
			errs = append(errs, errors.New("oracle accounts must not be empty"))
			break
		}
	}
	return errors.Join(errs...)
}

// ClampHorizon pulls d into the allowed [MinHorizon, MaxHorizon] window.
func (p Policy) ClampHorizon(d time.Duration) time.Duration {
	if d < p.MinHorizon {
		return p.MinHorizon
	}
	if d > p.MaxHorizon {
		return p.MaxHorizon
	}
	return d
}
