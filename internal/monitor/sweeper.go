package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/ledger"
	"github.com/sahil75416/crisisCapital/internal/predictor"
)

// MarketResolver resolves markets and runs their side effects.
type MarketResolver interface {
	Resolve(ctx context.Context, marketID int64, outcome bool, resolver string) (domain.Market, error)
}

// ExpirySweeper resolves expired crisis markets from the feeder's recorded
// outcome. User markets without a source are left to their creator.
type ExpirySweeper struct {
	book     *ledger.Ledger
	resolver MarketResolver
	oracle   predictor.OutcomeOracle
	account  string
	logger   *slog.Logger
}

// NewExpirySweeper creates a sweeper that resolves as account, which must be
// one of the ledger's oracle accounts.
func NewExpirySweeper(book *ledger.Ledger, resolver MarketResolver, oracle predictor.OutcomeOracle, account string, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		book:     book,
		resolver: resolver,
		oracle:   oracle,
		account:  account,
		logger:   logger.With(slog.String("component", "expiry_sweeper")),
	}
}

// Sweep resolves every expired crisis market whose outcome is known and
// returns how many it resolved. Pending outcomes are retried next time.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	var (
		resolved int
		errs     []error
	)
	for _, m := range s.book.ListExpired() {
		if m.Source == nil {
			continue
		}
		out, err := s.oracle.Outcome(ctx, *m.Source, DelayThreshold(*m.Source))
		if err != nil {
			errs = append(errs, fmt.Errorf("market %d: %w", m.ID, err))
			continue
		}
		if !out.Known {
			continue
		}
		if _, err := s.resolver.Resolve(ctx, m.ID, out.Delayed, s.account); err != nil {
			if errors.Is(err, domain.ErrAlreadyResolved) {
				continue
			}
			errs = append(errs, fmt.Errorf("market %d: %w", m.ID, err))
			continue
		}
		resolved++
		s.logger.InfoContext(ctx, "crisis market resolved",
			slog.Int64("market_id", m.ID),
			slog.Bool("delayed", out.Delayed),
			slog.Int("actual_delay", out.ActualMinute),
		)
	}
	if len(errs) > 0 {
		return resolved, fmt.Errorf("monitor: sweep: %w", errors.Join(errs...))
	}
	return resolved, nil
}
