package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/ledger"
)

// Bus channel and stream names for ledger events.
const (
	ChannelLedgerEvents = "ledger:events"
	StreamLedgerEvents  = "ledger:stream"
)

// EventNotifier forwards operator alerts.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LedgerDeps are the optional collaborators of a LedgerService. Nil fields
// switch the matching side effect off.
type LedgerDeps struct {
	Markets   domain.MarketStore
	Positions domain.PositionStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Notifier  EventNotifier
}

// LedgerService runs ledger mutations and then persists, audits, publishes
// and notifies. The ledger stays authoritative: a failed side effect is
// logged and retried, never rolled back.
type LedgerService struct {
	ledger *ledger.Ledger
	deps   LedgerDeps
	logger *slog.Logger

	dirtyMu sync.Mutex
	dirty   map[int64]struct{} // markets whose last write failed
}

// NewLedgerService creates a LedgerService around l.
func NewLedgerService(l *ledger.Ledger, deps LedgerDeps, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		ledger: l,
		deps:   deps,
		logger: logger.With(slog.String("component", "ledger_service")),
		dirty:  make(map[int64]struct{}),
	}
}

// Ledger exposes the underlying ledger for read-only queries.
func (s *LedgerService) Ledger() *ledger.Ledger {
	return s.ledger
}

// CreateMarket opens a user market.
func (s *LedgerService) CreateMarket(ctx context.Context, description string, resolutionTime time.Time, creator string) (domain.Market, error) {
	m, err := s.ledger.CreateMarket(description, resolutionTime, creator)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger_service: create market: %w", err)
	}
	s.commit(ctx, domain.LedgerEvent{Type: domain.EventMarketCreated, MarketID: m.ID, Account: creator, Market: m}, nil)
	return m, nil
}

// CreateCrisisMarket opens a market for a crisis signal.
func (s *LedgerService) CreateCrisisMarket(ctx context.Context, sig domain.CrisisSignal, description string, resolutionTime time.Time, creator string) (domain.Market, error) {
	m, err := s.ledger.CreateCrisisMarket(sig, description, resolutionTime, creator)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger_service: create crisis market: %w", err)
	}
	s.commit(ctx, domain.LedgerEvent{Type: domain.EventMarketCreated, MarketID: m.ID, Account: creator, Market: m}, nil)
	return m, nil
}

// Stake buys shares for account.
func (s *LedgerService) Stake(ctx context.Context, marketID int64, side domain.Side, amount decimal.Decimal, account string) (ledger.StakeResult, error) {
	res, err := s.ledger.Stake(marketID, side, amount, account)
	if err != nil {
		return ledger.StakeResult{}, fmt.Errorf("ledger_service: stake: %w", err)
	}
	s.commit(ctx, domain.LedgerEvent{
		Type:       domain.EventStaked,
		MarketID:   marketID,
		Account:    account,
		Prediction: &side,
		Amount:     &amount,
		Shares:     &res.Shares,
		Market:     res.Market,
	}, []domain.Position{res.Position})
	return res, nil
}

// Resolve records a market's outcome.
func (s *LedgerService) Resolve(ctx context.Context, marketID int64, outcome bool, resolver string) (domain.Market, error) {
	m, err := s.ledger.ResolveMarket(marketID, outcome, resolver)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger_service: resolve: %w", err)
	}
	s.commit(ctx, domain.LedgerEvent{Type: domain.EventMarketResolved, MarketID: marketID, Account: resolver, Market: m}, nil)
	return m, nil
}

// Claim pays out every unclaimed position of account on a resolved market.
func (s *LedgerService) Claim(ctx context.Context, marketID int64, account string) (ledger.ClaimResult, error) {
	res, err := s.ledger.ClaimPayout(marketID, account)
	if err != nil {
		if domain.IsFatal(err) {
			s.fatal(ctx, marketID, account, err)
		}
		return ledger.ClaimResult{}, fmt.Errorf("ledger_service: claim: %w", err)
	}
	amount := res.Amount
	s.commit(ctx, domain.LedgerEvent{
		Type:     domain.EventPayoutClaimed,
		MarketID: marketID,
		Account:  account,
		Amount:   &amount,
		Market:   res.Market,
	}, res.Positions)
	return res, nil
}

func (s *LedgerService) fatal(ctx context.Context, marketID int64, account string, err error) {
	s.logger.ErrorContext(ctx, "ledger_service: accounting invariant violated",
		slog.Int64("market_id", marketID),
		slog.String("account", account),
		slog.String("error", err.Error()),
	)
	if s.deps.Notifier != nil {
		msg := fmt.Sprintf("market %d, account %s: %v", marketID, account, err)
		if nErr := s.deps.Notifier.Notify(ctx, string(domain.EventLedgerFatal), "Ledger invariant violated", msg); nErr != nil {
			s.logger.WarnContext(ctx, "ledger_service: notify failed", slog.String("error", nErr.Error()))
		}
	}
}

// commit runs the side effects of a successful mutation.
func (s *LedgerService) commit(ctx context.Context, evt domain.LedgerEvent, positions []domain.Position) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	if err := s.persist(ctx, evt.Market, positions); err != nil {
		s.markDirty(evt.MarketID)
		s.logger.WarnContext(ctx, "ledger_service: persist failed, queued for retry",
			slog.Int64("market_id", evt.MarketID),
			slog.String("error", err.Error()),
		)
	}

	if s.deps.Audit != nil {
		if err := s.deps.Audit.Log(ctx, string(evt.Type), auditDetail(evt)); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: audit log failed",
				slog.Int64("market_id", evt.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Bus != nil {
		payload, err := json.Marshal(evt)
		if err == nil {
			if pubErr := s.deps.Bus.Publish(ctx, ChannelLedgerEvents, payload); pubErr != nil {
				s.logger.WarnContext(ctx, "ledger_service: publish event failed",
					slog.Int64("market_id", evt.MarketID),
					slog.String("error", pubErr.Error()),
				)
			}
			if appErr := s.deps.Bus.StreamAppend(ctx, StreamLedgerEvents, payload); appErr != nil {
				s.logger.WarnContext(ctx, "ledger_service: stream append failed",
					slog.Int64("market_id", evt.MarketID),
					slog.String("error", appErr.Error()),
				)
			}
		}
	}

	s.notify(ctx, evt)

	s.logger.InfoContext(ctx, "ledger_service: "+string(evt.Type),
		slog.Int64("market_id", evt.MarketID),
		slog.String("account", evt.Account),
		slog.Int64("version", evt.Market.Version),
	)
}

func (s *LedgerService) notify(ctx context.Context, evt domain.LedgerEvent) {
	if s.deps.Notifier == nil {
		return
	}
	var title, msg string
	switch evt.Type {
	case domain.EventMarketCreated:
		title = "New market"
		msg = fmt.Sprintf("#%d %s (resolves %s)", evt.MarketID, evt.Market.Description, evt.Market.ResolutionTime.Format(time.RFC3339))
	case domain.EventMarketResolved:
		outcome := domain.Side(evt.Market.Outcome).String()
		title = "Market resolved"
		msg = fmt.Sprintf("#%d %s resolved %s, pool %s", evt.MarketID, evt.Market.Description, outcome, evt.Market.LiquidityPool)
	default:
		return
	}
	if err := s.deps.Notifier.Notify(ctx, string(evt.Type), title, msg); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: notify failed",
			slog.Int64("market_id", evt.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func auditDetail(evt domain.LedgerEvent) map[string]any {
	d := map[string]any{
		"market_id": evt.MarketID,
		"version":   evt.Market.Version,
	}
	if evt.Account != "" {
		d["account"] = evt.Account
	}
	if evt.Prediction != nil {
		d["prediction"] = evt.Prediction.String()
	}
	if evt.Amount != nil {
		d["amount"] = evt.Amount.String()
	}
	if evt.Shares != nil {
		d["shares"] = evt.Shares.String()
	}
	if evt.Type == domain.EventMarketResolved {
		d["outcome"] = evt.Market.Outcome
	}
	return d
}

func (s *LedgerService) persist(ctx context.Context, m domain.Market, positions []domain.Position) error {
	if s.deps.Markets == nil {
		return nil
	}
	if err := s.deps.Markets.Upsert(ctx, m); err != nil {
		return fmt.Errorf("upsert market %d: %w", m.ID, err)
	}
	if len(positions) > 0 && s.deps.Positions != nil {
		if err := s.deps.Positions.UpsertBatch(ctx, positions); err != nil {
			return fmt.Errorf("upsert positions of market %d: %w", m.ID, err)
		}
	}
	return nil
}

func (s *LedgerService) markDirty(id int64) {
	s.dirtyMu.Lock()
	s.dirty[id] = struct{}{}
	s.dirtyMu.Unlock()
}

// Pending returns the ids of markets waiting for a persistence retry.
func (s *LedgerService) Pending() []int64 {
	s.dirtyMu.Lock()
	ids := make([]int64, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	s.dirtyMu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Flush rewrites the current state of every market whose earlier write
// failed. Markets that still fail stay queued.
func (s *LedgerService) Flush(ctx context.Context) error {
	var errs []error
	for _, id := range s.Pending() {
		m, err := s.ledger.GetMarketInfo(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		positions, err := s.ledger.MarketPositions(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.persist(ctx, m, positions); err != nil {
			errs = append(errs, err)
			continue
		}
		s.dirtyMu.Lock()
		delete(s.dirty, id)
		s.dirtyMu.Unlock()
	}
	if len(errs) > 0 {
		return fmt.Errorf("ledger_service: flush: %w", errors.Join(errs...))
	}
	return nil
}

// RunFlusher retries failed writes every interval until ctx is cancelled.
func (s *LedgerService) RunFlusher(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// last attempt with a fresh deadline so shutdown does not drop writes
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			err := s.Flush(flushCtx)
			cancel()
			if err != nil {
				s.logger.Error("ledger_service: final flush failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.WarnContext(ctx, "ledger_service: flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// LoadFromStore restores the ledger from the persistent store. It returns the
// number of markets loaded.
func (s *LedgerService) LoadFromStore(ctx context.Context) (int, error) {
	if s.deps.Markets == nil || s.deps.Positions == nil {
		return 0, nil
	}
	markets, err := s.deps.Markets.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger_service: load markets: %w", err)
	}
	positions, err := s.deps.Positions.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger_service: load positions: %w", err)
	}
	if err := s.ledger.Restore(domain.LedgerState{Markets: markets, Positions: positions}); err != nil {
		return 0, fmt.Errorf("ledger_service: restore: %w", err)
	}
	return len(markets), nil
}

// Restore loads a snapshot into the ledger and writes it through to the
// store so both agree.
func (s *LedgerService) Restore(ctx context.Context, st domain.LedgerState) error {
	if err := s.ledger.Restore(st); err != nil {
		return fmt.Errorf("ledger_service: restore: %w", err)
	}
	byMarket := make(map[int64][]domain.Position)
	for _, p := range st.Positions {
		byMarket[p.MarketID] = append(byMarket[p.MarketID], p)
	}
	for _, m := range st.Markets {
		if err := s.persist(ctx, m, byMarket[m.ID]); err != nil {
			s.markDirty(m.ID)
		}
	}
	return nil
}
