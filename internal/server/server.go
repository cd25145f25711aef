// Package server exposes the payment pipeline over HTTP: the public deposit
// and webhook endpoints, operator read endpoints behind an API key, and the
// WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
	"github.com/tiltvault/vaultd/internal/server/handler"
	"github.com/tiltvault/vaultd/internal/server/middleware"
	"github.com/tiltvault/vaultd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects the operator endpoints (position listing, audit log).
	// If empty, those endpoints are open; the public endpoints never require
	// it.
	APIKey string

	// PaymentRateLimit / PaymentRateWindow bound deposit submissions per
	// client IP. Zero disables the limiter.
	PaymentRateLimit  int
	PaymentRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Payments  *handler.PaymentHandler
	Webhook   *handler.WebhookHandler
	Positions *handler.PositionHandler
	Audit     *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server for the deposit pipeline.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and tracker may be nil (rate limiting and request metrics off).
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	tracker middleware.RequestTracker,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Operator endpoints sit behind the API key; everything the browser or
	// the gateway calls is public.
	protect := middleware.Auth(cfg.APIKey)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.Check)

	// Deposit submission, rate limited per client IP.
	var payments http.Handler = http.HandlerFunc(handlers.Payments.CreatePayment)
	if limiter != nil && cfg.PaymentRateLimit > 0 {
		payments = middleware.RateLimit(limiter, "payments", cfg.PaymentRateLimit, cfg.PaymentRateWindow)(payments)
	}
	mux.Handle("POST /api/payments", payments)

	// Gateway webhook deliveries, authenticated by HMAC signature.
	mux.HandleFunc("POST /api/webhooks/square", handlers.Webhook.HandleSquareWebhook)

	// Position endpoints. Single lookup is public (the browser polls its own
	// position by id); the status listing is an operator view.
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.Handle("GET /api/positions", protect(http.HandlerFunc(handlers.Positions.ListPositions)))

	// Audit log (operator only).
	mux.Handle("GET /api/audit", protect(http.HandlerFunc(handlers.Audit.ListAudit)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply request logging and metrics middleware.
	h = middleware.Logging(logger, tracker)(h)

	// Apply CORS middleware.
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
