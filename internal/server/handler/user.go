package handler

import (
	"log/slog"
	"net/http"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// UserHandler serves per-account views.
type UserHandler struct {
	book   LedgerReader
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(book LedgerReader, logger *slog.Logger) *UserHandler {
	return &UserHandler{book: book, logger: logger.With(slog.String("handler", "users"))}
}

// Markets lists the ids of markets the account has staked in.
// GET /api/users/{account}/markets
func (h *UserHandler) Markets(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "user markets", err)
		return
	}
	ids := h.book.GetUserMarkets(account)
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "marketIds": ids})
}

// Positions lists the account's positions.
// GET /api/users/{account}/positions
func (h *UserHandler) Positions(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "user positions", err)
		return
	}
	ps := h.book.GetPositions(account)
	if ps == nil {
		ps = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "positions": ps})
}

// Stats returns the account's staked and won totals.
// GET /api/users/{account}/stats
func (h *UserHandler) Stats(w http.ResponseWriter, r *http.Request) {
	account, err := accountParam(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "user stats", err)
		return
	}
	writeJSON(w, http.StatusOK, h.book.UserStats(account))
}
