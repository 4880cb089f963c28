// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/server/handler"
	"github.com/sahil75416/crisisCapital/internal/server/middleware"
	"github.com/sahil75416/crisisCapital/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeyHash is the bcrypt hash guarding admin routes. Empty disables
	// admin authentication.
	APIKeyHash string
	RateLimit  int
	RateWindow time.Duration
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Crisis may be nil when no predictors are configured.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Users   *handler.UserHandler
	Crisis  *handler.CrisisHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()
	admin := middleware.Auth(cfg.APIKeyHash)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	m := handlers.Markets
	mux.HandleFunc("POST /api/markets", m.CreateMarket)
	mux.HandleFunc("GET /api/markets", m.ListMarkets)
	mux.HandleFunc("GET /api/markets/count", m.Count)
	mux.HandleFunc("GET /api/markets/{id}", m.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", m.Quote)
	mux.HandleFunc("POST /api/markets/{id}/stake", m.Stake)
	mux.HandleFunc("POST /api/markets/{id}/resolve", m.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/claim", m.Claim)
	mux.HandleFunc("GET /api/markets/{id}/token", m.Token)
	mux.HandleFunc("GET /api/markets/{id}/positions", m.Positions)
	mux.Handle("GET /api/markets/{id}/history", admin(http.HandlerFunc(m.History)))
	mux.HandleFunc("GET /api/tokens", m.Tokens)
	mux.Handle("GET /api/treasury", admin(http.HandlerFunc(m.Treasury)))

	u := handlers.Users
	mux.HandleFunc("GET /api/users/{account}/markets", u.Markets)
	mux.HandleFunc("GET /api/users/{account}/positions", u.Positions)
	mux.HandleFunc("GET /api/users/{account}/stats", u.Stats)

	if handlers.Crisis != nil {
		mux.Handle("POST /api/crisis", admin(http.HandlerFunc(handlers.Crisis.Evaluate)))
		mux.Handle("POST /api/crisis/scan", admin(http.HandlerFunc(handlers.Crisis.Scan)))
		mux.Handle("POST /api/crisis/sweep", admin(http.HandlerFunc(handlers.Crisis.Sweep)))
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, cfg.TrustProxy, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
