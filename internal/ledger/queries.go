package ledger

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// GetMarketInfo returns a copy of a market.
func (l *Ledger) GetMarketInfo(marketID int64) (domain.Market, error) {
	e, ok := l.lookup(marketID)
	if !ok {
		return domain.Market{}, fail("get", marketID, "", domain.ErrNotFound)
	}
	e.mu.Lock()
	m := copyMarket(e.market)
	e.mu.Unlock()
	return m, nil
}

// MarketCount returns the number of markets ever created.
func (l *Ledger) MarketCount() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.markets))
}

// ListMarkets returns markets in ascending id order, filtered by status and
// paginated by opts. A zero Limit means no limit.
func (l *Ledger) ListMarkets(opts domain.ListOpts) []domain.Market {
	now := l.now()
	l.mu.RLock()
	entries := l.sortedEntries()
	l.mu.RUnlock()

	out := make([]domain.Market, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		e.mu.Lock()
		m := copyMarket(e.market)
		e.mu.Unlock()

		if opts.Status != "" && m.Status(now) != opts.Status {
			continue
		}
		if opts.Since != nil && m.CreationTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !m.CreationTime.Before(*opts.Until) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, m)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// GetUserMarkets returns the ids of every market the account has staked on,
// ascending and without duplicates.
func (l *Ledger) GetUserMarkets(account string) []int64 {
	l.accMu.Lock()
	set := l.accounts[accountKey(account)]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	l.accMu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetPositions returns the account's positions ordered by market id, YES
// before NO.
func (l *Ledger) GetPositions(account string) []domain.Position {
	acct := accountKey(account)
	var out []domain.Position
	for _, id := range l.GetUserMarkets(account) {
		e, ok := l.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
			if p, ok := e.positions[posKey{account: acct, side: side}]; ok {
				out = append(out, *p)
			}
		}
		e.mu.Unlock()
	}
	return out
}

// UserTotalStaked sums the lifetime stake of an account.
func (l *Ledger) UserTotalStaked(account string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.GetPositions(account) {
		total = total.Add(p.AmountStaked)
	}
	return total
}

// UserTotalWinnings sums the payouts an account has claimed.
func (l *Ledger) UserTotalWinnings(account string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.GetPositions(account) {
		if p.Claimed {
			total = total.Add(p.Payout)
		}
	}
	return total
}

// UserStats aggregates an account's activity in one pass.
func (l *Ledger) UserStats(account string) domain.UserStats {
	st := domain.UserStats{Account: account}
	seen := make(map[int64]struct{})
	for _, p := range l.GetPositions(account) {
		seen[p.MarketID] = struct{}{}
		st.TotalStaked = st.TotalStaked.Add(p.AmountStaked)
		if p.Claimed {
			st.TotalWinnings = st.TotalWinnings.Add(p.Payout)
		}
	}
	st.Markets = len(seen)
	return st
}

func (l *Ledger) riskToken(m domain.Market) domain.RiskToken {
	return domain.RiskToken{
		MarketID:    m.ID,
		Symbol:      domain.RiskTokenSymbol(m.ID),
		TotalSupply: m.TotalShares(),
		Price:       sidePrice(m, domain.SideYes, l.policy),
		Active:      !m.Resolved,
	}
}

// GetRiskToken returns the marketplace view of a market's share supply.
func (l *Ledger) GetRiskToken(marketID int64) (domain.RiskToken, error) {
	m, err := l.GetMarketInfo(marketID)
	if err != nil {
		return domain.RiskToken{}, err
	}
	return l.riskToken(m), nil
}

// RiskTokens lists the risk token of every market.
func (l *Ledger) RiskTokens() []domain.RiskToken {
	markets := l.ListMarkets(domain.ListOpts{})
	out := make([]domain.RiskToken, len(markets))
	for i, m := range markets {
		out[i] = l.riskToken(m)
	}
	return out
}

// Quote returns the current price of both sides of a market.
func (l *Ledger) Quote(marketID int64) (domain.Quote, error) {
	m, err := l.GetMarketInfo(marketID)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{
		MarketID: m.ID,
		YesPrice: sidePrice(m, domain.SideYes, l.policy),
		NoPrice:  sidePrice(m, domain.SideNo, l.policy),
		FeeBps:   l.policy.FeeBps,
	}, nil
}

// Treasury returns the fees routed out of market pools.
func (l *Ledger) Treasury() decimal.Decimal {
	total := decimal.Zero
	for _, m := range l.ListMarkets(domain.ListOpts{}) {
		total = total.Add(m.TreasuryFees)
	}
	return total
}

// ListExpired returns unresolved markets whose resolution time has passed.
func (l *Ledger) ListExpired() []domain.Market {
	return l.ListMarkets(domain.ListOpts{Status: domain.MarketStatusExpired})
}

// OpenMarketForSource returns the id of the unresolved market created for the
// signal key, if there is one.
func (l *Ledger) OpenMarketForSource(key string) (int64, bool) {
	l.mu.RLock()
	id, ok := l.sources[key]
	var e *entry
	if ok {
		e = l.markets[id]
	}
	l.mu.RUnlock()
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return id, !e.market.Resolved
}

// MarketPositions returns every position held on a market.
func (l *Ledger) MarketPositions(marketID int64) ([]domain.Position, error) {
	e, ok := l.lookup(marketID)
	if !ok {
		return nil, fail("positions", marketID, "", domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedPositions(e.positions), nil
}
