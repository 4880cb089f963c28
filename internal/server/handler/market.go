package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/ledger"
)

// LedgerService defines the ledger mutations the handlers need. Declared
// locally so the handler package does not depend on the service package.
type LedgerService interface {
	CreateMarket(ctx context.Context, description string, resolutionTime time.Time, creator string) (domain.Market, error)
	Stake(ctx context.Context, marketID int64, side domain.Side, amount decimal.Decimal, account string) (ledger.StakeResult, error)
	Resolve(ctx context.Context, marketID int64, outcome bool, resolver string) (domain.Market, error)
	Claim(ctx context.Context, marketID int64, account string) (ledger.ClaimResult, error)
}

// LedgerReader defines the read-only ledger queries the handlers need.
type LedgerReader interface {
	GetMarketInfo(marketID int64) (domain.Market, error)
	MarketCount() int64
	ListMarkets(opts domain.ListOpts) []domain.Market
	Quote(marketID int64) (domain.Quote, error)
	GetRiskToken(marketID int64) (domain.RiskToken, error)
	RiskTokens() []domain.RiskToken
	MarketPositions(marketID int64) ([]domain.Position, error)
	GetUserMarkets(account string) []int64
	GetPositions(account string) []domain.Position
	UserStats(account string) domain.UserStats
	Treasury() decimal.Decimal
}

// AuditReader lists a market's audit trail.
type AuditReader interface {
	ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	svc    LedgerService
	book   LedgerReader
	audit  AuditReader
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. audit may be nil, in which case
// the history endpoint answers 503.
func NewMarketHandler(svc LedgerService, book LedgerReader, audit AuditReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		svc:    svc,
		book:   book,
		audit:  audit,
		logger: logger.With(slog.String("handler", "markets")),
	}
}

type createMarketRequest struct {
	Description    string       `json:"description"`
	ResolutionTime resolveTime  `json:"resolutionTime"`
	UnixSeconds    *resolveTime `json:"resolutionTimeUnixSeconds"`
}

// resolveTime decodes either integer unix seconds or an RFC 3339 string.
type resolveTime struct {
	time.Time
}

func (t *resolveTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		return nil
	case strings.HasPrefix(s, `"`):
		return t.Time.UnmarshalJSON(b)
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("resolution time must be unix seconds or an RFC 3339 string, got %s", s)
	}
	t.Time = time.Unix(sec, 0).UTC()
	return nil
}

// CreateMarket opens a market owned by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	account, err := caller(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	at := req.ResolutionTime.Time
	if req.UnixSeconds != nil {
		at = req.UnixSeconds.Time
	}
	if at.IsZero() {
		writeError(w, http.StatusBadRequest, "resolutionTime is required")
		return
	}
	m, err := h.svc.CreateMarket(r.Context(), req.Description, at, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"marketId": m.ID, "market": m})
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets in id order.
// GET /api/markets?limit=50&offset=0&status=active
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	markets := h.book.ListMarkets(opts)
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   h.book.MarketCount(),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// Count returns the number of markets ever created.
// GET /api/markets/count
func (h *MarketHandler) Count(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"count": h.book.MarketCount()})
}

// GetMarket returns a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	m, err := h.book.GetMarketInfo(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Quote returns the current side prices and fee.
// GET /api/markets/{id}/quote
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	q, err := h.book.Quote(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// prediction accepts either a JSON bool (true = YES) or "yes"/"no".
type prediction domain.Side

func (p *prediction) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*p = prediction(flag)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Invalid("prediction must be a bool or \"yes\"/\"no\"")
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		*p = prediction(domain.SideYes)
	case "no", "false":
		*p = prediction(domain.SideNo)
	default:
		return domain.Invalid("prediction must be a bool or \"yes\"/\"no\"")
	}
	return nil
}

type stakeRequest struct {
	Prediction *prediction      `json:"prediction"`
	Amount     *decimal.Decimal `json:"amount"`
}

type stakeResponse struct {
	SharesIssued decimal.Decimal `json:"sharesIssued"`
	Fee          decimal.Decimal `json:"fee"`
	Price        decimal.Decimal `json:"price"`
	Position     domain.Position `json:"position"`
	Market       domain.Market   `json:"market"`
}

// Stake buys shares on one side of a market for the caller.
// POST /api/markets/{id}/stake
func (h *MarketHandler) Stake(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "stake", err)
		return
	}
	account, err := caller(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "stake", err)
		return
	}
	var req stakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "stake", err)
		return
	}
	if req.Prediction == nil || req.Amount == nil {
		writeError(w, http.StatusBadRequest, "prediction and amount are required")
		return
	}
	res, err := h.svc.Stake(r.Context(), id, domain.Side(*req.Prediction), *req.Amount, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "stake", err)
		return
	}
	writeJSON(w, http.StatusOK, stakeResponse{
		SharesIssued: res.Shares,
		Fee:          res.Fee,
		Price:        res.Price,
		Position:     res.Position,
		Market:       res.Market,
	})
}

type resolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// Resolve fixes a market's outcome. Only the creator (after the deadline) or
// an oracle account may resolve.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	account, err := caller(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	m, err := h.svc.Resolve(r.Context(), id, *req.Outcome, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Claim pays out the caller's winning (or refunded) positions.
// POST /api/markets/{id}/claim
func (h *MarketHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	account, err := caller(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	res, err := h.svc.Claim(r.Context(), id, account)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"amountPaid": res.Amount,
		"positions":  res.Positions,
	})
}

// Token returns the market's risk token view.
// GET /api/markets/{id}/token
func (h *MarketHandler) Token(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "get token", err)
		return
	}
	tok, err := h.book.GetRiskToken(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get token", err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// Tokens lists every risk token.
// GET /api/tokens
func (h *MarketHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	tokens := h.book.RiskTokens()
	if tokens == nil {
		tokens = []domain.RiskToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

// Positions lists every position in a market.
// GET /api/markets/{id}/positions
func (h *MarketHandler) Positions(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	ps, err := h.book.MarketPositions(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if ps == nil {
		ps = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": ps})
}

// History returns the audit trail of a market, newest first.
// GET /api/markets/{id}/history
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "history", err)
		return
	}
	if _, err := h.book.GetMarketInfo(id); err != nil {
		writeServiceError(w, r, h.logger, "history", err)
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "history", err)
		return
	}
	entries, err := h.audit.ListByMarket(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "history", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Treasury returns the fees routed out of market pools.
// GET /api/treasury
func (h *MarketHandler) Treasury(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"treasury": h.book.Treasury()})
}
