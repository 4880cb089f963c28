// Package ledger implements the in-memory market ledger: share pricing,
// pooled liquidity, resolution and pull-based payouts.
//
// The ledger performs no I/O. Every mutation returns copies of the changed
// market and positions so callers can persist and publish them afterwards.
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

type posKey struct {
	account string
	side    domain.Side
}

// entry is one market and its positions, guarded by its own mutex.
type entry struct {
	mu        sync.Mutex
	market    domain.Market
	positions map[posKey]*domain.Position
}

// Ledger is safe for concurrent use. Operations on different markets never
// contend with each other.
type Ledger struct {
	policy  Policy
	now     func() time.Time
	oracles map[string]struct{}

	mu      sync.RWMutex // guards markets, nextID, sources
	markets map[int64]*entry
	nextID  int64
	sources map[string]int64 // signal key -> latest market id

	accMu    sync.Mutex // guards accounts; always taken after an entry lock
	accounts map[string]map[int64]struct{}
}

// StakeResult describes an accepted stake.
type StakeResult struct {
	Shares   decimal.Decimal
	Fee      decimal.Decimal
	Price    decimal.Decimal
	Market   domain.Market
	Position domain.Position
}

// ClaimResult describes a settled claim. Positions holds every position of
// the account that the claim marked as claimed.
type ClaimResult struct {
	Amount    decimal.Decimal
	Market    domain.Market
	Positions []domain.Position
}

// New builds an empty ledger. A nil clock means time.Now.
func New(policy Policy, clock func() time.Time) (*Ledger, error) {
	if err := policy.Validate(); err != nil {
		return nil, &domain.LedgerError{Op: "new", Err: domain.Invalid(err.Error())}
	}
	if clock == nil {
		clock = time.Now
	}
	oracles := make(map[string]struct{}, len(policy.Oracles))
	for _, o := range policy.Oracles {
		oracles[accountKey(o)] = struct{}{}
	}
	return &Ledger{
		policy:   policy,
		now:      clock,
		oracles:  oracles,
		markets:  make(map[int64]*entry),
		sources:  make(map[string]int64),
		accounts: make(map[string]map[int64]struct{}),
	}, nil
}

// Policy returns the rules the ledger was built with.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Accounts are EVM addresses and compare case-insensitively.
func accountKey(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

func fail(op string, marketID int64, account string, err error) error {
	return &domain.LedgerError{Op: op, MarketID: marketID, Account: account, Err: err}
}

// CreateMarket opens a new market and returns it.
func (l *Ledger) CreateMarket(description string, resolutionTime time.Time, creator string) (domain.Market, error) {
	return l.create(description, resolutionTime, creator, nil)
}

// CreateCrisisMarket opens a market backed by a crisis signal. It fails with
// domain.ErrDuplicate while an earlier market for the same subject is still
// unresolved.
func (l *Ledger) CreateCrisisMarket(sig domain.CrisisSignal, description string, resolutionTime time.Time, creator string) (domain.Market, error) {
	if !sig.Kind.Valid() || sig.Target == "" {
		return domain.Market{}, fail("create", 0, creator, domain.Invalid("signal needs a known kind and a target"))
	}
	return l.create(description, resolutionTime, creator, &sig)
}

func (l *Ledger) create(description string, resolutionTime time.Time, creator string, sig *domain.CrisisSignal) (domain.Market, error) {
	description = strings.TrimSpace(description)
	creator = strings.TrimSpace(creator)
	now := l.now()

	switch {
	case description == "":
		return domain.Market{}, fail("create", 0, creator, domain.Invalid("description must not be empty"))
	case len(description) > l.policy.MaxDescriptionLength:
		return domain.Market{}, fail("create", 0, creator, domain.Invalid("description too long"))
	case creator == "":
		return domain.Market{}, fail("create", 0, creator, domain.Invalid("creator must not be empty"))
	case !resolutionTime.After(now):
		return domain.Market{}, fail("create", 0, creator, domain.Invalid("resolution time must be in the future"))
	}
	horizon := resolutionTime.Sub(now)
	if horizon < l.policy.MinHorizon || horizon > l.policy.MaxHorizon {
		return domain.Market{}, fail("create", 0, creator,
			domain.Invalid("resolution time must be between "+l.policy.MinHorizon.String()+" and "+l.policy.MaxHorizon.String()+" ahead"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sig != nil {
		if id, ok := l.sources[sig.Key()]; ok {
			e := l.markets[id]
			e.mu.Lock()
			open := !e.market.Resolved
			e.mu.Unlock()
			if open {
				return domain.Market{}, fail("create", id, creator, domain.ErrDuplicate)
			}
		}
	}

	l.nextID++
	m := domain.Market{
		ID:             l.nextID,
		Description:    description,
		Creator:        creator,
		CreationTime:   now,
		ResolutionTime: resolutionTime,
		Version:        1,
	}
	if sig != nil {
		s := *sig
		m.Source = &s
		l.sources[sig.Key()] = m.ID
	}
	l.markets[m.ID] = &entry{market: m, positions: make(map[posKey]*domain.Position)}
	return copyMarket(m), nil
}

func (l *Ledger) lookup(id int64) (*entry, bool) {
	l.mu.RLock()
	e, ok := l.markets[id]
	l.mu.RUnlock()
	return e, ok
}

// Stake buys shares on one side of a market.
func (l *Ledger) Stake(marketID int64, side domain.Side, amount decimal.Decimal, account string) (StakeResult, error) {
	account = strings.TrimSpace(account)
	switch {
	case account == "":
		return StakeResult{}, fail("stake", marketID, account, domain.Invalid("account must not be empty"))
	case !amount.IsPositive():
		return StakeResult{}, fail("stake", marketID, account, domain.Invalid("amount must be positive"))
	case !hasScale(amount):
		return StakeResult{}, fail("stake", marketID, account, domain.Invalid("amount has more than 18 fractional digits"))
	case amount.GreaterThan(l.policy.MaxStake):
		return StakeResult{}, fail("stake", marketID, account, domain.Invalid("amount exceeds max stake "+l.policy.MaxStake.String()))
	}

	e, ok := l.lookup(marketID)
	if !ok {
		return StakeResult{}, fail("stake", marketID, account, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.market
	if m.Resolved {
		return StakeResult{}, fail("stake", marketID, account, domain.ErrAlreadyResolved)
	}
	now := l.now()
	if !now.Before(m.ResolutionTime) {
		return StakeResult{}, fail("stake", marketID, account, domain.ErrMarketClosed)
	}

	price := sidePrice(m, side, l.policy)
	fee := stakeFee(amount, l.policy.FeeBps)
	net := amount.Sub(fee)
	shares := sharesFor(net, price)
	if !shares.IsPositive() {
		return StakeResult{}, fail("stake", marketID, account, domain.Invalid("amount too small to issue shares"))
	}

	m.TotalStaked = m.TotalStaked.Add(amount)
	m.TotalVolume = m.TotalVolume.Add(amount)
	m.FeesCollected = m.FeesCollected.Add(fee)
	if side == domain.SideYes {
		m.YesShares = m.YesShares.Add(shares)
	} else {
		m.NoShares = m.NoShares.Add(shares)
	}
	if l.policy.FeeSink == FeeSinkTreasury {
		m.LiquidityPool = m.LiquidityPool.Add(net)
		m.TreasuryFees = m.TreasuryFees.Add(fee)
	} else {
		m.LiquidityPool = m.LiquidityPool.Add(amount)
	}
	m.Version++

	key := posKey{account: accountKey(account), side: side}
	p, ok := e.positions[key]
	if !ok {
		p = &domain.Position{Account: account, MarketID: marketID, Prediction: side}
		e.positions[key] = p
	}
	p.SharesHeld = p.SharesHeld.Add(shares)
	p.AmountStaked = p.AmountStaked.Add(amount)
	p.UpdatedAt = now
	p.Version = m.Version
	e.market = m

	l.accMu.Lock()
	ids, ok := l.accounts[key.account]
	if !ok {
		ids = make(map[int64]struct{})
		l.accounts[key.account] = ids
	}
	ids[marketID] = struct{}{}
	l.accMu.Unlock()

	return StakeResult{
		Shares:   shares,
		Fee:      fee,
		Price:    price,
		Market:   copyMarket(m),
		Position: *p,
	}, nil
}

// ResolveMarket records the outcome of a market. It moves no funds.
func (l *Ledger) ResolveMarket(marketID int64, outcome bool, resolver string) (domain.Market, error) {
	resolver = strings.TrimSpace(resolver)
	e, ok := l.lookup(marketID)
	if !ok {
		return domain.Market{}, fail("resolve", marketID, resolver, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.market
	if m.Resolved {
		return domain.Market{}, fail("resolve", marketID, resolver, domain.ErrAlreadyResolved)
	}
	now := l.now()
	if !l.canResolve(m, resolver, now) {
		return domain.Market{}, fail("resolve", marketID, resolver, domain.ErrUnauthorized)
	}

	m.Resolved = true
	m.Outcome = outcome
	m.Resolver = resolver
	m.ResolvedAt = &now
	m.Version++
	e.market = m
	return copyMarket(m), nil
}

func (l *Ledger) canResolve(m domain.Market, resolver string, now time.Time) bool {
	if resolver == "" {
		return false
	}
	key := accountKey(resolver)
	if _, ok := l.oracles[key]; ok {
		return true
	}
	return key == accountKey(m.Creator) && !now.Before(m.ResolutionTime)
}

// IsOracle reports whether account may resolve any market at any time.
func (l *Ledger) IsOracle(account string) bool {
	_, ok := l.oracles[accountKey(account)]
	return ok
}

// ClaimPayout settles every unclaimed position the account holds on a
// resolved market and returns the amount paid.
func (l *Ledger) ClaimPayout(marketID int64, account string) (ClaimResult, error) {
	account = strings.TrimSpace(account)
	e, ok := l.lookup(marketID)
	if !ok {
		return ClaimResult{}, fail("claim", marketID, account, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.market
	if !m.Resolved {
		return ClaimResult{}, fail("claim", marketID, account, domain.ErrNotResolved)
	}

	acct := accountKey(account)
	var held []*domain.Position
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		if p, ok := e.positions[posKey{account: acct, side: side}]; ok {
			held = append(held, p)
		}
	}
	if len(held) == 0 {
		return ClaimResult{}, fail("claim", marketID, account, domain.ErrNotFound)
	}

	winning := domain.Side(m.Outcome)
	refund := m.SideShares(winning).IsZero()
	now := l.now()

	// Work on copies; commit only when every payout fits in the pool.
	var (
		total   decimal.Decimal
		settled []domain.Position
	)
	for _, p := range held {
		if p.Claimed {
			continue
		}
		c := *p
		pay := decimal.Zero
		switch {
		case refund:
			pay = proRata(m.LiquidityPool, c.AmountStaked, m.TotalStaked.Sub(m.ClaimedStake))
			m.ClaimedStake = m.ClaimedStake.Add(c.AmountStaked)
		case c.Prediction == winning:
			pay = proRata(m.LiquidityPool, c.SharesHeld, m.SideShares(winning).Sub(m.ClaimedShares))
			m.ClaimedShares = m.ClaimedShares.Add(c.SharesHeld)
		}
		if pay.GreaterThan(m.LiquidityPool) {
			return ClaimResult{}, fail("claim", marketID, account, domain.ErrInsufficientLiquidity)
		}
		m.LiquidityPool = m.LiquidityPool.Sub(pay)
		total = total.Add(pay)
		c.Claimed = true
		c.Payout = pay
		c.UpdatedAt = now
		settled = append(settled, c)
	}
	if len(settled) == 0 {
		return ClaimResult{}, fail("claim", marketID, account, domain.ErrAlreadyClaimed)
	}

	m.Version++
	for i := range settled {
		settled[i].Version = m.Version
		p := e.positions[posKey{account: acct, side: settled[i].Prediction}]
		*p = settled[i]
	}
	e.market = m

	return ClaimResult{Amount: total, Market: copyMarket(m), Positions: settled}, nil
}

// copyMarket detaches pointer fields so callers cannot alias ledger state.
func copyMarket(m domain.Market) domain.Market {
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		m.ResolvedAt = &t
	}
	if m.Source != nil {
		s := *m.Source
		m.Source = &s
	}
	return m
}

// sortedEntries returns the entries in ascending id order. Callers must hold
// l.mu.
func (l *Ledger) sortedEntries() []*entry {
	ids := make([]int64, 0, len(l.markets))
	for id := range l.markets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*entry, len(ids))
	for i, id := range ids {
		out[i] = l.markets[id]
	}
	return out
}
