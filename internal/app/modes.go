package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/server"
	"github.com/intelliDean/PhantomBet/internal/server/handler"
)

// OnceMode runs a single pass and returns. Per-market failures are only
// logged; the error is non-nil when the pass could not start.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	report, err := deps.Sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}
	logReport(ctx, a.logger, report)
	return nil
}

// PollMode runs the sweep loop until ctx is cancelled, plus the ops server
// when it is enabled.
func (a *App) PollMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting poll mode",
		slog.Duration("interval", a.cfg.Sweep.Interval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Sweeper.Run(ctx, a.cfg.Sweep.Interval.Duration)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ServeMode is poll mode with the ops server always on.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Sweeper.Run(ctx, a.cfg.Sweep.Interval.Duration)
	})
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the ops server and the websocket hub to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	h := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.NodeID, a.cfg.Mode, deps.Sweeper, deps.Store, a.logger),
		Sweep:       handler.NewSweepHandler(deps.Sweeper, a.logger),
		Settlements: handler.NewSettlementHandler(deps.Store, a.logger),
	}
	if deps.BlobReader != nil {
		h.Evidence = handler.NewEvidenceHandler(deps.BlobReader, a.logger)
	}
	if deps.SignalBus != nil {
		h.Events = handler.NewEventsHandler(deps.SignalBus, a.logger)
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if deps.RateLimiter != nil && a.cfg.Server.RateLimit > 0 {
		srvCfg.Limiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimit
		srvCfg.RateWindow = a.cfg.Server.RateLimitWindow.Duration
	}
	srv := server.New(srvCfg, h, deps.Hub, a.logger)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func logReport(ctx context.Context, logger *slog.Logger, report domain.SweepReport) {
	s := report.Summary
	logger.InfoContext(ctx, "sweep report",
		slog.String("sweep_id", s.ID),
		slog.Int("eligible", s.Eligible),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int("skipped", s.Skipped),
		slog.Int("held", s.Held),
		slog.Bool("cancelled", s.Cancelled),
		slog.Duration("took", s.FinishedAt.Sub(s.StartedAt)),
	)
	for _, at := range report.Attempts {
		if at.Status != domain.AttemptFailed {
			continue
		}
		logger.WarnContext(ctx, "market not settled",
			slog.Uint64("market_id", at.MarketID),
			slog.String("stage", at.Stage),
			slog.String("error", at.Error),
		)
	}
}
