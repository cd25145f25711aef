package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tiltvault/vaultd/internal/server"
	"github.com/tiltvault/vaultd/internal/server/handler"
	"github.com/tiltvault/vaultd/internal/server/ws"
)

// serverShutdownTimeout bounds graceful HTTP shutdown after the run context
// is cancelled.
const serverShutdownTimeout = 5 * time.Second

// archiveSweepInterval is how often the archiver checks for rows past the
// retention window.
const archiveSweepInterval = 24 * time.Hour

// ServerMode runs the HTTP and WebSocket surface without chain
// connectivity. Deposits are charged and claimed but execution is deferred;
// use it for staging the payment surface or running webhook intake next to a
// full-mode peer.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)
	a.startHTTPServer(gctx, g, deps)
	return g.Wait()
}

// FullMode runs the complete pipeline: the HTTP surface, the WebSocket
// event hub, synchronous on-chain execution, and the retention archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)
	a.startHTTPServer(gctx, g, deps)
	a.startArchiver(gctx, g, deps)
	return g.Wait()
}

// startHTTPServer builds the handler set, starts the WebSocket hub, and runs
// the HTTP server until the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.Warn("http server disabled; deposits and webhooks are not reachable")
		g.Go(func() error {
			<-ctx.Done()
			return ctx.Err()
		})
		return
	}

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	checks := map[string]handler.HealthCheck{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
	}
	if deps.Chain != nil {
		hubAddr := a.cfg.Engine.HubAddress
		checks["chain"] = func(ctx context.Context) error {
			_, err := deps.Chain.NativeBalance(ctx, hubAddr)
			return err
		}
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Payments:  handler.NewPaymentHandler(deps.Intake, a.logger),
		Webhook:   handler.NewWebhookHandler(deps.Reconciler, a.logger),
		Positions: handler.NewPositionHandler(deps.Positions, a.logger),
		Audit:     handler.NewAuditHandler(deps.Audit, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		PaymentRateLimit:  a.cfg.Server.PaymentRateLimit,
		PaymentRateWindow: a.cfg.Server.PaymentRateWindow.Duration,
	}, handlers, hub, deps.Limiter, deps.Tracker, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiver sweeps rows past the retention window to the bucket once a
// day. A failed sweep logs and retries on the next tick; the pipeline never
// stops over archival.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil || a.cfg.S3.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(archiveSweepInterval)
		defer ticker.Stop()
		for {
			if err := deps.Archiver.Sweep(ctx, retention); err != nil {
				a.logger.Error("archive sweep failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}
