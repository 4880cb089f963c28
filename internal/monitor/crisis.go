package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/ledger"
	"github.com/sahil75416/crisisCapital/internal/predictor"
)

// Target is a real-world subject the monitor watches.
type Target struct {
	Kind     domain.CrisisKind `toml:"kind"`
	Provider string            `toml:"provider"` // carrier or transit system; empty routes by kind default
	ID       string            `toml:"id"`       // tracking number, line[@station], flight IATA
}

// MarketOpener creates crisis markets and runs their side effects.
type MarketOpener interface {
	CreateCrisisMarket(ctx context.Context, sig domain.CrisisSignal, description string, resolutionTime time.Time, creator string) (domain.Market, error)
}

// CrisisConfig tunes the crisis monitor.
type CrisisConfig struct {
	Targets     []Target
	Thresholds  map[domain.CrisisKind]float64
	Horizons    map[domain.CrisisKind]time.Duration
	Creator     string // account recorded as market creator
	Concurrency int
}

// ScanReport summarises one scan.
type ScanReport struct {
	Checked int `json:"checked"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Evaluation is the result of checking one target.
type Evaluation struct {
	Signal    domain.CrisisSignal `json:"signal"`
	Threshold float64             `json:"threshold"`
	Market    *domain.Market      `json:"market,omitempty"`
	// ExistingID is set when an open market for the subject already exists.
	ExistingID int64 `json:"existingMarketId,omitempty"`
}

// CrisisMonitor polls predictors and opens markets for signals that cross
// their kind's probability threshold.
type CrisisMonitor struct {
	registry *predictor.Registry
	opener   MarketOpener
	book     *ledger.Ledger
	cfg      CrisisConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewCrisisMonitor creates a CrisisMonitor. Missing thresholds and horizons
// fall back to the per-kind defaults.
func NewCrisisMonitor(registry *predictor.Registry, opener MarketOpener, book *ledger.Ledger, cfg CrisisConfig, logger *slog.Logger) *CrisisMonitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &CrisisMonitor{
		registry: registry,
		opener:   opener,
		book:     book,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "crisis_monitor")),
	}
}

func (m *CrisisMonitor) threshold(kind domain.CrisisKind) float64 {
	if t, ok := m.cfg.Thresholds[kind]; ok {
		return t
	}
	return DefaultThreshold(kind)
}

func (m *CrisisMonitor) horizon(kind domain.CrisisKind) time.Duration {
	h, ok := m.cfg.Horizons[kind]
	if !ok {
		h = DefaultHorizon(kind)
	}
	return m.book.Policy().ClampHorizon(h)
}

// Predict asks the matching predictor about one target without touching the
// ledger.
func (m *CrisisMonitor) Predict(ctx context.Context, t Target) (domain.CrisisSignal, error) {
	if !t.Kind.Valid() {
		return domain.CrisisSignal{}, domain.Invalid("unknown crisis kind " + string(t.Kind))
	}
	p, err := m.registry.Lookup(t.Kind, t.Provider)
	if err != nil {
		return domain.CrisisSignal{}, err
	}
	sig, err := p.Predict(ctx, t.ID)
	if err != nil {
		return domain.CrisisSignal{}, fmt.Errorf("monitor: predict %s %s: %w", t.Kind, t.ID, err)
	}
	return sig, nil
}

// Evaluate predicts one target and opens a market when the probability is
// above threshold and no market for the subject is open yet.
func (m *CrisisMonitor) Evaluate(ctx context.Context, t Target) (Evaluation, error) {
	sig, err := m.Predict(ctx, t)
	if err != nil {
		return Evaluation{}, err
	}
	return m.consider(ctx, sig)
}

func (m *CrisisMonitor) consider(ctx context.Context, sig domain.CrisisSignal) (Evaluation, error) {
	ev := Evaluation{Signal: sig, Threshold: m.threshold(sig.Kind)}
	if sig.Probability <= ev.Threshold {
		return ev, nil
	}
	if id, open := m.book.OpenMarketForSource(sig.Key()); open {
		ev.ExistingID = id
		return ev, nil
	}

	mk, err := m.opener.CreateCrisisMarket(ctx, sig, Describe(sig), m.now().Add(m.horizon(sig.Kind)), m.cfg.Creator)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			ev.ExistingID, _ = m.book.OpenMarketForSource(sig.Key())
			return ev, nil
		}
		return ev, fmt.Errorf("monitor: open market for %s: %w", sig.Key(), err)
	}
	ev.Market = &mk
	return ev, nil
}

// Scan checks every configured target. Predictions run concurrently; market
// creation happens in target order afterwards.
func (m *CrisisMonitor) Scan(ctx context.Context) (ScanReport, error) {
	targets := m.cfg.Targets
	signals := make([]*domain.CrisisSignal, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			sig, err := m.Predict(gctx, t)
			if err != nil {
				// one broken feeder must not stop the scan
				m.logger.WarnContext(gctx, "prediction failed",
					slog.String("kind", string(t.Kind)),
					slog.String("target", t.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			signals[i] = &sig
			return nil
		})
	}
	_ = g.Wait()

	rep := ScanReport{Checked: len(targets)}
	for _, sig := range signals {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if sig == nil {
			rep.Failed++
			continue
		}
		ev, err := m.consider(ctx, *sig)
		switch {
		case err != nil:
			rep.Failed++
			m.logger.ErrorContext(ctx, "market creation failed",
				slog.String("subject", sig.Key()),
				slog.String("error", err.Error()),
			)
		case ev.Market != nil:
			rep.Created++
			m.logger.InfoContext(ctx, "crisis market opened",
				slog.Int64("market_id", ev.Market.ID),
				slog.String("subject", sig.Key()),
				slog.Float64("probability", sig.Probability),
			)
		default:
			rep.Skipped++
		}
	}

	m.logger.InfoContext(ctx, "crisis scan complete",
		slog.Int("checked", rep.Checked),
		slog.Int("created", rep.Created),
		slog.Int("skipped", rep.Skipped),
		slog.Int("failed", rep.Failed),
	)
	return rep, nil
}
