package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

const (
	alice  = "0x1111111111111111111111111111111111111111"
	bob    = "0x2222222222222222222222222222222222222222"
	carol  = "0x3333333333333333333333333333333333333333"
	oracle = "0x9999999999999999999999999999999999999999"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T, mutate func(*Policy)) (*Ledger, *fakeClock) {
	t.Helper()
	p := DefaultPolicy()
	p.Oracles = []string{oracle}
	if mutate != nil {
		mutate(&p)
	}
	clock := newFakeClock()
	l, err := New(p, clock.Now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, clock
}

func zeroFee(p *Policy) { p.FeeBps = 0 }

func mustCreate(t *testing.T, l *Ledger, clock *fakeClock) domain.Market {
	t.Helper()
	m, err := l.CreateMarket("UPS package 1Z999 delayed >30min", clock.Now().Add(2*time.Hour), alice)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func mustStake(t *testing.T, l *Ledger, id int64, side domain.Side, amount, account string) StakeResult {
	t.Helper()
	res, err := l.Stake(id, side, dec(amount), account)
	if err != nil {
		t.Fatalf("Stake(%d, %s, %s): %v", id, side, amount, err)
	}
	return res
}

func TestCreateMarketSequentialIDs(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	for want := int64(1); want <= 3; want++ {
		m := mustCreate(t, l, clock)
		if m.ID != want {
			t.Fatalf("id = %d, want %d", m.ID, want)
		}
		if !m.TotalStaked.IsZero() || !m.LiquidityPool.IsZero() || m.Resolved {
			t.Errorf("market %d not created empty: %+v", m.ID, m)
		}
	}
	if got := l.MarketCount(); got != 3 {
		t.Errorf("MarketCount() = %d, want 3", got)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	now := clock.Now()
	tests := []struct {
		name       string
		desc       string
		resolution time.Time
		creator    string
	}{
		{"empty description", "", now.Add(2 * time.Hour), alice},
		{"blank description", "   ", now.Add(2 * time.Hour), alice},
		{"resolution in past", "x", now.Add(-time.Minute), alice},
		{"resolution now", "x", now, alice},
		{"horizon too short", "x", now.Add(30 * time.Minute), alice},
		{"horizon too long", "x", now.Add(8 * 24 * time.Hour), alice},
		{"no creator", "x", now.Add(2 * time.Hour), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CreateMarket(tt.desc, tt.resolution, tt.creator)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if got := l.MarketCount(); got != 0 {
		t.Errorf("MarketCount() = %d after rejected creates, want 0", got)
	}
}

func TestStakeFirstSharesAtPar(t *testing.T) {
	l, clock := newTestLedger(t, zeroFee)
	m := mustCreate(t, l, clock)

	res := mustStake(t, l, m.ID, domain.SideYes, "600", alice)
	if !res.Shares.Equal(dec("1200")) {
		t.Errorf("shares = %s, want 1200", res.Shares)
	}
	if !res.Price.Equal(dec("0.5")) {
		t.Errorf("price = %s, want 0.5", res.Price)
	}
	if !res.Market.LiquidityPool.Equal(dec("600")) || !res.Market.TotalVolume.Equal(dec("600")) {
		t.Errorf("pool = %s volume = %s, want 600/600", res.Market.LiquidityPool, res.Market.TotalVolume)
	}
	if res.Market.Version != 2 || res.Position.Version != 2 {
		t.Errorf("versions = %d/%d, want 2/2", res.Market.Version, res.Position.Version)
	}
}

func TestStakeFeeToPool(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)

	res := mustStake(t, l, m.ID, domain.SideNo, "100", bob)
	if !res.Fee.Equal(dec("2.5")) {
		t.Errorf("fee = %s, want 2.5", res.Fee)
	}
	// (100 - 2.5) / 0.5
	if !res.Shares.Equal(dec("195")) {
		t.Errorf("shares = %s, want 195", res.Shares)
	}
	if !res.Market.LiquidityPool.Equal(dec("100")) {
		t.Errorf("pool = %s, want 100", res.Market.LiquidityPool)
	}
	if !l.Treasury().IsZero() {
		t.Errorf("treasury = %s, want 0", l.Treasury())
	}
}

func TestStakeFeeToTreasury(t *testing.T) {
	l, clock := newTestLedger(t, func(p *Policy) { p.FeeSink = FeeSinkTreasury })
	m := mustCreate(t, l, clock)

	res := mustStake(t, l, m.ID, domain.SideYes, "100", bob)
	if !res.Market.LiquidityPool.Equal(dec("97.5")) {
		t.Errorf("pool = %s, want 97.5", res.Market.LiquidityPool)
	}
	if !res.Market.TotalStaked.Equal(dec("100")) {
		t.Errorf("totalStaked = %s, want 100", res.Market.TotalStaked)
	}
	if !l.Treasury().Equal(dec("2.5")) {
		t.Errorf("treasury = %s, want 2.5", l.Treasury())
	}
}

func TestStakeRejections(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)

	tests := []struct {
		name    string
		id      int64
		amount  string
		account string
		want    error
	}{
		{"zero amount", m.ID, "0", bob, domain.ErrInvalidInput},
		{"negative amount", m.ID, "-1", bob, domain.ErrInvalidInput},
		{"too precise", m.ID, "0.0000000000000000001", bob, domain.ErrInvalidInput},
		{"above max stake", m.ID, "1000000000000.000000000000000001", bob, domain.ErrInvalidInput},
		{"beyond store precision", m.ID, "1e61", bob, domain.ErrInvalidInput},
		{"huge exponent", m.ID, "1e200000", bob, domain.ErrInvalidInput},
		{"no account", m.ID, "1", "", domain.ErrInvalidInput},
		{"unknown market", 42, "1", bob, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Stake(tt.id, domain.SideYes, dec(tt.amount), tt.account)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	got, _ := l.GetMarketInfo(m.ID)
	if !got.TotalStaked.IsZero() || got.Version != 1 {
		t.Errorf("rejected stakes mutated market: %+v", got)
	}
}

func TestStakeAfterDeadline(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	clock.Advance(2 * time.Hour)

	_, err := l.Stake(m.ID, domain.SideYes, dec("10"), bob)
	if !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("err = %v, want ErrMarketClosed", err)
	}
}

func TestPriceMovesWithShares(t *testing.T) {
	l, clock := newTestLedger(t, zeroFee)
	m := mustCreate(t, l, clock)

	mustStake(t, l, m.ID, domain.SideYes, "600", alice) // 1200 YES
	mustStake(t, l, m.ID, domain.SideNo, "400", bob)    // 800 NO at par

	q, err := l.Quote(m.ID)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !q.YesPrice.Equal(dec("0.6")) || !q.NoPrice.Equal(dec("0.4")) {
		t.Errorf("quote = %s/%s, want 0.6/0.4", q.YesPrice, q.NoPrice)
	}

	res := mustStake(t, l, m.ID, domain.SideYes, "60", carol)
	if !res.Shares.Equal(dec("100")) {
		t.Errorf("shares = %s, want 100", res.Shares)
	}
}

func TestPriceClampedToBand(t *testing.T) {
	l, clock := newTestLedger(t, zeroFee)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "10", alice)

	// only YES shares exist: raw price 1, clamped to the ceiling
	res := mustStake(t, l, m.ID, domain.SideYes, "99", bob)
	if !res.Price.Equal(dec("0.99")) {
		t.Errorf("price = %s, want 0.99", res.Price)
	}
	if !res.Shares.Equal(dec("100")) {
		t.Errorf("shares = %s, want 100", res.Shares)
	}
}

func TestResolveAuthorization(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)

	if _, err := l.ResolveMarket(m.ID, true, bob); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("stranger: err = %v, want ErrUnauthorized", err)
	}
	if _, err := l.ResolveMarket(m.ID, true, alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("creator before deadline: err = %v, want ErrUnauthorized", err)
	}

	clock.Advance(2 * time.Hour)
	got, err := l.ResolveMarket(m.ID, true, alice)
	if err != nil {
		t.Fatalf("creator after deadline: %v", err)
	}
	if !got.Resolved || !got.Outcome || got.Resolver != alice || got.ResolvedAt == nil {
		t.Errorf("resolved market = %+v", got)
	}
}

func TestOracleResolvesEarly(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "10", bob)

	before, _ := l.GetMarketInfo(m.ID)
	got, err := l.ResolveMarket(m.ID, false, oracle)
	if err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	if !got.LiquidityPool.Equal(before.LiquidityPool) || !got.TotalShares().Equal(before.TotalShares()) {
		t.Errorf("resolution moved funds: before %+v after %+v", before, got)
	}
}

func TestResolveIsOneWay(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	if _, err := l.ResolveMarket(m.ID, true, oracle); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := l.ResolveMarket(m.ID, false, oracle); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("second resolve: err = %v, want ErrAlreadyResolved", err)
	}
	if _, err := l.Stake(m.ID, domain.SideYes, dec("1"), bob); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("stake after resolve: err = %v, want ErrAlreadyResolved", err)
	}
	got, _ := l.GetMarketInfo(m.ID)
	if !got.Outcome {
		t.Errorf("outcome changed to %v", got.Outcome)
	}
	if _, err := l.ResolveMarket(99, true, oracle); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market: err = %v, want ErrNotFound", err)
	}
}

func TestClaimScenario600400(t *testing.T) {
	l, clock := newTestLedger(t, zeroFee)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "600", alice)
	mustStake(t, l, m.ID, domain.SideNo, "400", bob)

	if _, err := l.ResolveMarket(m.ID, true, oracle); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	a, err := l.ClaimPayout(m.ID, alice)
	if err != nil {
		t.Fatalf("claim alice: %v", err)
	}
	if !a.Amount.Equal(dec("1000")) {
		t.Errorf("alice payout = %s, want 1000", a.Amount)
	}
	b, err := l.ClaimPayout(m.ID, bob)
	if err != nil {
		t.Fatalf("claim bob: %v", err)
	}
	if !b.Amount.IsZero() {
		t.Errorf("bob payout = %s, want 0", b.Amount)
	}
	if !b.Market.LiquidityPool.IsZero() {
		t.Errorf("pool = %s, want 0", b.Market.LiquidityPool)
	}

	if _, err := l.ClaimPayout(m.ID, alice); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("second claim: err = %v, want ErrAlreadyClaimed", err)
	}
	if got := l.UserTotalWinnings(alice); !got.Equal(dec("1000")) {
		t.Errorf("UserTotalWinnings(alice) = %s, want 1000", got)
	}
	if got := l.UserTotalStaked(bob); !got.Equal(dec("400")) {
		t.Errorf("UserTotalStaked(bob) = %s, want 400", got)
	}
}

func TestClaimSplitsPoolExactly(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "100", alice)
	mustStake(t, l, m.ID, domain.SideYes, "33.333333333333333333", bob)
	mustStake(t, l, m.ID, domain.SideNo, "77.7", carol)
	if _, err := l.ResolveMarket(m.ID, true, oracle); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	before, _ := l.GetMarketInfo(m.ID)
	total := decimal.Zero
	for _, acct := range []string{bob, carol, alice} {
		res, err := l.ClaimPayout(m.ID, acct)
		if err != nil {
			t.Fatalf("claim %s: %v", acct, err)
		}
		total = total.Add(res.Amount)
	}
	after, _ := l.GetMarketInfo(m.ID)
	if !after.LiquidityPool.IsZero() {
		t.Errorf("pool = %s after all claims, want 0", after.LiquidityPool)
	}
	if !total.Equal(before.LiquidityPool) {
		t.Errorf("paid %s, want %s", total, before.LiquidityPool)
	}
}

func TestClaimRefundsWhenWinningSideEmpty(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideNo, "40", alice)
	mustStake(t, l, m.ID, domain.SideNo, "60", bob)
	if _, err := l.ResolveMarket(m.ID, true, oracle); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	a, err := l.ClaimPayout(m.ID, alice)
	if err != nil {
		t.Fatalf("claim alice: %v", err)
	}
	if !a.Amount.Equal(dec("40")) {
		t.Errorf("alice refund = %s, want 40", a.Amount)
	}
	b, err := l.ClaimPayout(m.ID, bob)
	if err != nil {
		t.Fatalf("claim bob: %v", err)
	}
	if !b.Amount.Equal(dec("60")) || !b.Market.LiquidityPool.IsZero() {
		t.Errorf("bob refund = %s pool = %s, want 60/0", b.Amount, b.Market.LiquidityPool)
	}
}

func TestClaimBothSides(t *testing.T) {
	l, clock := newTestLedger(t, zeroFee)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "50", alice)
	mustStake(t, l, m.ID, domain.SideNo, "50", alice)
	if _, err := l.ResolveMarket(m.ID, false, oracle); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	res, err := l.ClaimPayout(m.ID, alice)
	if err != nil {
		t.Fatalf("ClaimPayout: %v", err)
	}
	if !res.Amount.Equal(dec("100")) || len(res.Positions) != 2 {
		t.Errorf("payout = %s over %d positions, want 100 over 2", res.Amount, len(res.Positions))
	}
	if got := l.GetUserMarkets(alice); len(got) != 1 || got[0] != m.ID {
		t.Errorf("GetUserMarkets = %v, want [%d]", got, m.ID)
	}
}

func TestClaimRejections(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "10", alice)

	if _, err := l.ClaimPayout(m.ID, alice); !errors.Is(err, domain.ErrNotResolved) {
		t.Errorf("unresolved: err = %v, want ErrNotResolved", err)
	}
	if _, err := l.ResolveMarket(m.ID, true, oracle); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	if _, err := l.ClaimPayout(m.ID, bob); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("no position: err = %v, want ErrNotFound", err)
	}
	if _, err := l.ClaimPayout(7, alice); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market: err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentStakes(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m1 := mustCreate(t, l, clock)
	m2 := mustCreate(t, l, clock)

	const workers = 16
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := m1.ID
				if i%2 == 1 {
					id = m2.ID
				}
				if _, err := l.Stake(id, domain.Side(w%2 == 0), dec("1"), alice); err != nil {
					t.Errorf("Stake: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	total := decimal.Zero
	var versions int64
	for _, id := range []int64{m1.ID, m2.ID} {
		got, _ := l.GetMarketInfo(id)
		total = total.Add(got.TotalStaked)
		versions += got.Version - 1
		if !got.LiquidityPool.Equal(got.TotalStaked) {
			t.Errorf("market %d pool %s != staked %s", id, got.LiquidityPool, got.TotalStaked)
		}
	}
	want := decimal.NewFromInt(workers * perWorker)
	if !total.Equal(want) {
		t.Errorf("total staked = %s, want %s", total, want)
	}
	if versions != workers*perWorker {
		t.Errorf("versions advanced %d times, want %d", versions, workers*perWorker)
	}
	if got := l.UserTotalStaked(alice); !got.Equal(want) {
		t.Errorf("UserTotalStaked = %s, want %s", got, want)
	}
}

func TestSharesNeverDecrease(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	prev := decimal.Zero
	for i, amt := range []string{"5", "1.5", "300", "0.01", "42"} {
		res := mustStake(t, l, m.ID, domain.Side(i%2 == 0), amt, bob)
		if res.Market.TotalShares().LessThanOrEqual(prev) {
			t.Fatalf("supply %s did not grow past %s", res.Market.TotalShares(), prev)
		}
		prev = res.Market.TotalShares()
	}
	if _, err := l.ResolveMarket(m.ID, true, oracle); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ClaimPayout(m.ID, bob); err != nil {
		t.Fatal(err)
	}
	got, _ := l.GetMarketInfo(m.ID)
	if !got.TotalShares().Equal(prev) {
		t.Errorf("claim changed supply: %s, want %s", got.TotalShares(), prev)
	}
}

func TestRiskToken(t *testing.T) {
	l, clock := newTestLedger(t, zeroFee)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "600", alice)
	mustStake(t, l, m.ID, domain.SideNo, "400", bob)

	tok, err := l.GetRiskToken(m.ID)
	if err != nil {
		t.Fatalf("GetRiskToken: %v", err)
	}
	if tok.Symbol != "RISK-1" || !tok.TotalSupply.Equal(dec("2000")) || !tok.Price.Equal(dec("0.6")) || !tok.Active {
		t.Errorf("token = %+v", tok)
	}
	if _, err := l.GetRiskToken(5); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market: err = %v, want ErrNotFound", err)
	}
}

func TestListMarketsFilters(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	for i := 0; i < 4; i++ {
		mustCreate(t, l, clock)
	}
	if _, err := l.ResolveMarket(2, true, oracle); err != nil {
		t.Fatal(err)
	}

	if got := l.ListMarkets(domain.ListOpts{Status: domain.MarketStatusResolved}); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("resolved filter = %v", got)
	}
	page := l.ListMarkets(domain.ListOpts{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Errorf("page = %v, want ids 2,3", page)
	}

	clock.Advance(3 * time.Hour)
	if got := l.ListExpired(); len(got) != 3 {
		t.Errorf("ListExpired() returned %d markets, want 3", len(got))
	}
}

func TestCrisisMarketDuplicateSuppression(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	sig := domain.CrisisSignal{Kind: domain.CrisisDelivery, Provider: "ups", Target: "1Z999", Probability: 0.7}
	m, err := l.CreateCrisisMarket(sig, "UPS package 1Z999 delayed >45min", clock.Now().Add(8*time.Hour), oracle)
	if err != nil {
		t.Fatalf("CreateCrisisMarket: %v", err)
	}
	if m.Source == nil || m.Source.Target != "1Z999" {
		t.Errorf("source = %+v", m.Source)
	}
	if _, err := l.CreateCrisisMarket(sig, "again", clock.Now().Add(8*time.Hour), oracle); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("duplicate: err = %v, want ErrDuplicate", err)
	}
	if id, open := l.OpenMarketForSource(sig.Key()); !open || id != m.ID {
		t.Errorf("OpenMarketForSource = %d,%v want %d,true", id, open, m.ID)
	}

	if _, err := l.ResolveMarket(m.ID, true, oracle); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CreateCrisisMarket(sig, "again", clock.Now().Add(8*time.Hour), oracle); err != nil {
		t.Errorf("after resolution: %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)
	mustStake(t, l, m.ID, domain.SideYes, "600", alice)
	mustStake(t, l, m.ID, domain.SideNo, "400", bob)
	mustCreate(t, l, clock)

	st := l.Snapshot()
	if len(st.Markets) != 2 || len(st.Positions) != 2 {
		t.Fatalf("snapshot has %d markets %d positions, want 2/2", len(st.Markets), len(st.Positions))
	}

	r, _ := newTestLedger(t, nil)
	if err := r.Restore(st); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := r.MarketCount(); got != 2 {
		t.Errorf("MarketCount() = %d, want 2", got)
	}
	if got := r.UserTotalStaked(alice); !got.Equal(dec("600")) {
		t.Errorf("UserTotalStaked(alice) = %s, want 600", got)
	}
	next, err := r.CreateMarket("next", clock.Now().Add(2*time.Hour), carol)
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != 3 {
		t.Errorf("next id = %d, want 3", next.ID)
	}
	if err := r.Restore(st); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("restore into non-empty ledger: err = %v, want ErrInvalidInput", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	p.FeeBps = 10000
	p.FeeSink = "burn"
	if err := p.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if _, err := New(p, nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("New with bad policy: err = %v, want ErrInvalidInput", err)
	}
}

func TestPolicyValidateMaxStake(t *testing.T) {
	tests := []struct {
		name     string
		maxStake string
		wantErr  bool
	}{
		{"default", "1000000000000", false},
		{"zero", "0", true},
		{"negative", "-5", true},
		{"overflows store with floor 0.01", "1e43", true},
		{"just under limit", "9e42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			p.MaxStake = dec(tt.maxStake)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStakeAtMaxStake(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	m := mustCreate(t, l, clock)

	if _, err := l.Stake(m.ID, domain.SideYes, l.Policy().MaxStake, bob); err != nil {
		t.Fatalf("stake of exactly MaxStake: %v", err)
	}
}
