// Package server assembles the HTTP and WebSocket API surface of the ad
// exchange.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openadx/adexchange/internal/domain"
	"github.com/openadx/adexchange/internal/server/handler"
	"github.com/openadx/adexchange/internal/server/middleware"
	"github.com/openadx/adexchange/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter enables per-client request limiting when non-nil.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Bid        *handler.BidHandler
	Bidders    *handler.BidderHandler
	Placements *handler.PlacementHandler
	Activity   *handler.ActivityHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server for the ad exchange.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required once the chain sees an empty key).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bid request endpoint, the hot path.
	mux.HandleFunc("POST /api/bid", handlers.Bid.RequestBid)

	// Bidder management endpoints.
	mux.HandleFunc("POST /api/bidders", handlers.Bidders.RegisterBidder)
	mux.HandleFunc("GET /api/bidders", handlers.Bidders.ListBidders)
	mux.HandleFunc("GET /api/bidders/{id}", handlers.Bidders.GetBidder)
	mux.HandleFunc("POST /api/bidders/{id}/creatives", handlers.Bidders.RegisterCreative)

	// Placement catalog endpoints.
	mux.HandleFunc("POST /api/placements", handlers.Placements.RegisterPlacement)
	mux.HandleFunc("GET /api/placements", handlers.Placements.ListPlacements)
	mux.HandleFunc("GET /api/placements/{id}", handlers.Placements.GetPlacement)

	// Behavioral data endpoints.
	mux.HandleFunc("POST /api/activity", handlers.Activity.CollectActivity)
	mux.HandleFunc("GET /api/users/{id}/segments", handlers.Activity.GetSegments)

	// Audit trail endpoints.
	mux.HandleFunc("GET /api/audit/recent", handlers.Audit.ListRecent)
	mux.HandleFunc("GET /api/audit/archives", handlers.Audit.ListArchives)
	mux.HandleFunc("GET /api/audit/{opportunityId}", handlers.Audit.GetRecord)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if cfg.RateLimiter != nil {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
