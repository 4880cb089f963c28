package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// Scale is the number of fractional digits carried by every amount.
const Scale = 18

// extra digits kept on division before truncating back to Scale
const guardDigits = 4

var parPrice = decimal.New(5, -1)

// sidePrice returns the per-share price of one side of m: the par price while
// the side holds no shares, otherwise the side's share of total supply,
// clamped to the policy band.
func sidePrice(m domain.Market, side domain.Side, p Policy) decimal.Decimal {
	shares := m.SideShares(side)
	if shares.IsZero() {
		return parPrice
	}
	price := shares.DivRound(m.TotalShares(), Scale+guardDigits).Truncate(Scale)
	if price.LessThan(p.PriceFloor) {
		return p.PriceFloor
	}
	if price.GreaterThan(p.PriceCeiling) {
		return p.PriceCeiling
	}
	return price
}

// stakeFee is amount × bps / 10000, truncated.
func stakeFee(amount decimal.Decimal, bps int64) decimal.Decimal {
	if bps == 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(bps)).Shift(-4).Truncate(Scale)
}

func sharesFor(net, price decimal.Decimal) decimal.Decimal {
	return net.DivRound(price, Scale+guardDigits).Truncate(Scale)
}

// proRata returns pool × part / remaining truncated to Scale. The holder of the
// last outstanding part receives the whole pool so no dust is left behind.
func proRata(pool, part, remaining decimal.Decimal) decimal.Decimal {
	if part.GreaterThanOrEqual(remaining) {
		return pool
	}
	return pool.Mul(part).DivRound(remaining, Scale+guardDigits).Truncate(Scale)
}

// hasScale reports whether d fits in Scale fractional digits.
func hasScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(Scale))
}
