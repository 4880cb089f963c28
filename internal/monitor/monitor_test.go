package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/ledger"
	"github.com/sahil75416/crisisCapital/internal/predictor"
	"github.com/sahil75416/crisisCapital/internal/service"
)

const oracleAccount = "0x9999999999999999999999999999999999999999"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixedPredictor struct {
	kind     domain.CrisisKind
	provider string
	prob     float64
	delay    int
	fail     bool
}

func (p fixedPredictor) Kind() domain.CrisisKind { return p.kind }

func (p fixedPredictor) Predict(_ context.Context, target string) (domain.CrisisSignal, error) {
	if p.fail {
		return domain.CrisisSignal{}, errors.New("feeder unavailable")
	}
	return domain.CrisisSignal{
		Kind:                  p.kind,
		Provider:              p.provider,
		Target:                target,
		Probability:           p.prob,
		PredictedDelayMinutes: p.delay,
		Confidence:            0.9,
	}, nil
}

type fixture struct {
	clock  *clock
	book   *ledger.Ledger
	svc    *service.LedgerService
	reg    *predictor.Registry
	logger *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)}
	p := ledger.DefaultPolicy()
	p.Oracles = []string{oracleAccount}
	book, err := ledger.New(p, c.Now)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		clock:  c,
		book:   book,
		svc:    service.NewLedgerService(book, service.LedgerDeps{}, testLogger()),
		reg:    predictor.NewRegistry(),
		logger: testLogger(),
	}
}

func (f *fixture) monitor(targets ...Target) *CrisisMonitor {
	m := NewCrisisMonitor(f.reg, f.svc, f.book, CrisisConfig{Targets: targets, Creator: oracleAccount}, f.logger)
	m.now = f.clock.Now
	return m
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		sig  domain.CrisisSignal
		want string
	}{
		{domain.CrisisSignal{Kind: domain.CrisisDelivery, Provider: "ups", Target: "1Z9", PredictedDelayMinutes: 90}, "UPS package 1Z9 delayed >90min"},
		{domain.CrisisSignal{Kind: domain.CrisisFlight, Target: "AA100", PredictedDelayMinutes: 45, Confidence: 0.9}, "Flight AA100 delay >45min - Confidence 90%"},
		{domain.CrisisSignal{Kind: domain.CrisisTransit, Provider: "nyc_subway", Target: "L", PredictedDelayMinutes: 3}, "NYC_SUBWAY L delayed >15min"},
	}
	for _, tt := range tests {
		if got := Describe(tt.sig); got != tt.want {
			t.Errorf("Describe() = %q, want %q", got, tt.want)
		}
	}
}

func TestScanOpensMarketsAboveThreshold(t *testing.T) {
	f := newFixture(t)
	f.reg.Register("ups", fixedPredictor{kind: domain.CrisisDelivery, provider: "ups", prob: 0.7, delay: 60})
	f.reg.Register("nyc_subway", fixedPredictor{kind: domain.CrisisTransit, provider: "nyc_subway", prob: 0.35, delay: 20})
	f.reg.Register("", fixedPredictor{kind: domain.CrisisFlight, fail: true})

	m := f.monitor(
		Target{Kind: domain.CrisisDelivery, Provider: "ups", ID: "1Z1"},
		Target{Kind: domain.CrisisTransit, Provider: "nyc_subway", ID: "L"},
		Target{Kind: domain.CrisisFlight, ID: "UA1"},
	)
	rep, err := m.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if rep.Checked != 3 || rep.Created != 1 || rep.Skipped != 1 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}

	mk, err := f.book.GetMarketInfo(1)
	if err != nil {
		t.Fatalf("GetMarketInfo: %v", err)
	}
	if mk.Description != "UPS package 1Z1 delayed >60min" {
		t.Errorf("description = %q", mk.Description)
	}
	if got := mk.ResolutionTime.Sub(mk.CreationTime); got != 8*time.Hour {
		t.Errorf("horizon = %s, want 8h", got)
	}

	// a second scan must not duplicate the open market
	rep, _ = m.Scan(context.Background())
	if rep.Created != 0 || f.book.MarketCount() != 1 {
		t.Errorf("second scan created %d, count %d", rep.Created, f.book.MarketCount())
	}
}

func TestEvaluateReportsExistingMarket(t *testing.T) {
	f := newFixture(t)
	f.reg.Register("", fixedPredictor{kind: domain.CrisisFlight, provider: "aviation", prob: 0.8, delay: 50})
	m := f.monitor()

	first, err := m.Evaluate(context.Background(), Target{Kind: domain.CrisisFlight, ID: "DL7"})
	if err != nil || first.Market == nil {
		t.Fatalf("Evaluate = %+v, %v", first, err)
	}
	second, err := m.Evaluate(context.Background(), Target{Kind: domain.CrisisFlight, ID: "DL7"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Market != nil || second.ExistingID != first.Market.ID {
		t.Errorf("second evaluation = %+v", second)
	}
	if _, err := m.Evaluate(context.Background(), Target{Kind: "weather", ID: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown kind: err = %v", err)
	}
}

type stubOracle struct {
	outcomes map[string]predictor.Outcome
	calls    int
}

func (o *stubOracle) Outcome(_ context.Context, src domain.CrisisSignal, _ int) (predictor.Outcome, error) {
	o.calls++
	return o.outcomes[src.Target], nil
}

func TestSweepResolvesKnownOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	known, _ := f.svc.CreateCrisisMarket(ctx, domain.CrisisSignal{Kind: domain.CrisisTransit, Provider: "bus", Target: "M15"}, "BUS M15 delayed >15min", now.Add(4*time.Hour), oracleAccount)
	pending, _ := f.svc.CreateCrisisMarket(ctx, domain.CrisisSignal{Kind: domain.CrisisTransit, Provider: "bus", Target: "B44"}, "BUS B44 delayed >15min", now.Add(4*time.Hour), oracleAccount)
	user, _ := f.svc.CreateMarket(ctx, "Will it rain", now.Add(4*time.Hour), "0x1111111111111111111111111111111111111111")
	if _, err := f.svc.Stake(ctx, known.ID, domain.SideYes, decimal.NewFromInt(10), "0x2222222222222222222222222222222222222222"); err != nil {
		t.Fatal(err)
	}

	oracle := &stubOracle{outcomes: map[string]predictor.Outcome{
		"M15": {Known: true, Delayed: true, ActualMinute: 30},
		"B44": {Known: false},
	}}
	sw := NewExpirySweeper(f.book, f.svc, oracle, oracleAccount, f.logger)

	if n, err := sw.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("sweep before expiry = %d, %v", n, err)
	}
	f.clock.Advance(5 * time.Hour)

	n, err := sw.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("resolved %d markets, want 1", n)
	}
	if got, _ := f.book.GetMarketInfo(known.ID); !got.Resolved || !got.Outcome {
		t.Errorf("known market = %+v", got)
	}
	if got, _ := f.book.GetMarketInfo(pending.ID); got.Resolved {
		t.Errorf("pending market resolved early")
	}
	if got, _ := f.book.GetMarketInfo(user.ID); got.Resolved {
		t.Errorf("user market resolved by sweeper")
	}
	if oracle.calls != 2 {
		t.Errorf("oracle called %d times, want 2", oracle.calls)
	}
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

func TestSchedulerSkipsWhenLockHeld(t *testing.T) {
	locks := &memLocks{held: map[string]bool{"job:busy": true}}
	s := NewScheduler(locks, testLogger())

	var ran, skipped atomic.Int32
	s.runOnce("free", time.Second, func(context.Context) error { ran.Add(1); return nil })
	s.runOnce("busy", time.Second, func(context.Context) error { skipped.Add(1); return nil })

	if ran.Load() != 1 || skipped.Load() != 0 {
		t.Errorf("ran=%d skipped-job-ran=%d, want 1/0", ran.Load(), skipped.Load())
	}
	if locks.held["job:free"] {
		t.Error("lock for job:free not released")
	}
	if err := s.Add("bad", "not a spec", time.Second, nil); err == nil {
		t.Error("Add with invalid spec succeeded")
	}
	for _, spec := range []string{"*/5 * * * *", "0 */15 * * * *", "@every 10m"} {
		if err := s.Add("ok", spec, time.Second, func(context.Context) error { return nil }); err != nil {
			t.Errorf("Add(%q): %v", spec, err)
		}
	}
}
