package ledger

import (
	"fmt"
	"sort"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// Snapshot returns a consistent copy of the whole ledger. Every market lock is
// held at once so no mutation lands halfway through the copy.
func (l *Ledger) Snapshot() domain.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.sortedEntries()
	for _, e := range entries {
		e.mu.Lock()
	}
	defer func() {
		for _, e := range entries {
			e.mu.Unlock()
		}
	}()

	st := domain.LedgerState{
		Markets: make([]domain.Market, 0, len(entries)),
		TakenAt: l.now(),
	}
	for _, e := range entries {
		st.Markets = append(st.Markets, copyMarket(e.market))
		st.Positions = append(st.Positions, sortedPositions(e.positions)...)
	}
	return st
}

func sortedPositions(ps map[posKey]*domain.Position) []domain.Position {
	out := make([]domain.Position, 0, len(ps))
	for _, p := range ps {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return bool(out[i].Prediction) && !bool(out[j].Prediction)
	})
	return out
}

// Restore loads a previously captured state into an empty ledger. The id
// sequence continues after the highest restored id.
func (l *Ledger) Restore(st domain.LedgerState) error {
	markets := make(map[int64]*entry, len(st.Markets))
	sources := make(map[string]int64)
	var maxID int64
	for _, m := range st.Markets {
		if m.ID <= 0 {
			return fail("restore", m.ID, "", domain.Invalid("market id must be positive"))
		}
		if _, dup := markets[m.ID]; dup {
			return fail("restore", m.ID, "", domain.Invalid("duplicate market id"))
		}
		if m.LiquidityPool.IsNegative() {
			return fail("restore", m.ID, "", domain.Invalid("negative liquidity pool"))
		}
		markets[m.ID] = &entry{market: copyMarket(m), positions: make(map[posKey]*domain.Position)}
		if m.Source != nil {
			if prev, ok := sources[m.Source.Key()]; !ok || prev < m.ID {
				sources[m.Source.Key()] = m.ID
			}
		}
		if m.ID > maxID {
			maxID = m.ID
		}
	}

	accounts := make(map[string]map[int64]struct{})
	for _, p := range st.Positions {
		e, ok := markets[p.MarketID]
		if !ok {
			return fail("restore", p.MarketID, p.Account, fmt.Errorf("%w: position references unknown market", domain.ErrInvalidInput))
		}
		key := posKey{account: accountKey(p.Account), side: p.Prediction}
		if _, dup := e.positions[key]; dup {
			return fail("restore", p.MarketID, p.Account, domain.Invalid("duplicate position"))
		}
		cp := p
		e.positions[key] = &cp
		ids, ok := accounts[key.account]
		if !ok {
			ids = make(map[int64]struct{})
			accounts[key.account] = ids
		}
		ids[p.MarketID] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.markets) != 0 {
		return fail("restore", 0, "", domain.Invalid("ledger is not empty"))
	}
	l.markets = markets
	l.sources = sources
	l.nextID = maxID

	l.accMu.Lock()
	l.accounts = accounts
	l.accMu.Unlock()
	return nil
}
