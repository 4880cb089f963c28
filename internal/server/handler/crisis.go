package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sahil75416/crisisCapital/internal/monitor"
)

// CrisisRunner checks targets against the predictors and opens markets when
// warranted.
type CrisisRunner interface {
	Evaluate(ctx context.Context, t monitor.Target) (monitor.Evaluation, error)
	Scan(ctx context.Context) (monitor.ScanReport, error)
}

// Sweeper resolves expired crisis markets.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CrisisHandler serves the crisis endpoints. They run in the process that
// owns the ledger, so a separate monitor process triggers them over HTTP.
type CrisisHandler struct {
	runner  CrisisRunner
	sweeper Sweeper
	logger  *slog.Logger
}

// NewCrisisHandler creates a CrisisHandler. sweeper may be nil when no
// oracle account is configured.
func NewCrisisHandler(runner CrisisRunner, sweeper Sweeper, logger *slog.Logger) *CrisisHandler {
	return &CrisisHandler{
		runner:  runner,
		sweeper: sweeper,
		logger:  logger.With(slog.String("handler", "crisis")),
	}
}

// Evaluate asks the matching predictor about a target. It answers 201 with
// the new market when one was opened and 200 otherwise.
// POST /api/crisis
func (h *CrisisHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var t monitor.Target
	if err := decodeJSON(r, &t); err != nil {
		writeServiceError(w, r, h.logger, "crisis check", err)
		return
	}
	if t.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	ev, err := h.runner.Evaluate(r.Context(), t)
	if err != nil {
		writeServiceError(w, r, h.logger, "crisis check", err)
		return
	}
	status := http.StatusOK
	if ev.Market != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, ev)
}

// Scan checks every configured target once.
// POST /api/crisis/scan
func (h *CrisisHandler) Scan(w http.ResponseWriter, r *http.Request) {
	rep, err := h.runner.Scan(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "crisis scan", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Sweep resolves expired crisis markets once.
// POST /api/crisis/sweep
func (h *CrisisHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "expiry sweep not configured")
		return
	}
	n, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "crisis sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resolved": n})
}
