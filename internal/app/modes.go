package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/eventmarket/internal/ledger"
	"github.com/alanyoungcy/eventmarket/internal/pipeline"
	"github.com/alanyoungcy/eventmarket/internal/server"
	"github.com/alanyoungcy/eventmarket/internal/server/handler"
	"github.com/alanyoungcy/eventmarket/internal/server/ws"
	"github.com/alanyoungcy/eventmarket/internal/service"
)

const shutdownTimeout = 10 * time.Second

// newLedger builds the ledger over the wired store and custodian.
func (a *App) newLedger(ctx context.Context, deps *Dependencies) (*ledger.Ledger, error) {
	opts := []ledger.Option{ledger.WithAuditStore(deps.AuditStore)}
	if deps.LockManager != nil {
		opts = append(opts, ledger.WithLockManager(deps.LockManager))
	}
	if deps.EventCache != nil {
		opts = append(opts, ledger.WithEventCache(deps.EventCache))
	}
	l, err := ledger.New(ctx, ledger.Config{
		Admin:             common.HexToAddress(a.cfg.Ledger.Admin),
		Address:           deps.LedgerAddress,
		CommissionPercent: uint8(a.cfg.Ledger.CommissionPercent),
		ListingPrice:      listingPrice(a.cfg),
		LockTTL:           a.cfg.Ledger.LockTTL.Duration,
	}, deps.Store, deps.Custodian, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return l, nil
}

// ServeMode runs the HTTP API and WebSocket hub, relays notifications, and
// runs the scheduled archive when enabled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	l, err := a.newLedger(ctx, deps)
	if err != nil {
		return err
	}
	defer l.Close()

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(ws.Config{
		LedgerAddress:     l.LedgerAddress().Hex(),
		CommissionPercent: l.CommissionPercent(),
		AllowedOrigins:    a.cfg.Server.CORSOrigins,
	}, a.logger)
	g.Go(func() error { return stopped(hub.Run(ctx)) })

	l.Subscribe(service.NewAlertRelay(deps.Notifier, l.CommissionPercent(), a.logger))

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Events: handler.NewEventHandler(l, a.logger),
		Fees:   handler.NewFeeHandler(l, a.logger),
		Items:  handler.NewItemHandler(l, a.logger),
	}

	if deps.SignalBus != nil {
		// Every instance publishes to the bus and feeds its hub from it, so
		// clients see sales made through any instance.
		relay := service.NewBusRelay(deps.SignalBus, a.logger)
		l.Subscribe(relay)
		handlers.Notifications = handler.NewNotificationHandler(relay, a.logger)
		g.Go(func() error { return stopped(relay.Listen(ctx, hub.Broadcast)) })
	} else {
		l.Subscribe(hub)
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		schedule, err := pipeline.ParseSchedule(a.cfg.Archive.Cron)
		if err != nil {
			return fmt.Errorf("app: archive cron: %w", err)
		}
		archiver := pipeline.NewArchiver(deps.Archiver, a.retention(), nil, a.logger)
		g.Go(func() error { return stopped(archiver.RunCron(ctx, schedule)) })
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// ArchiveMode runs one archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode needs s3 configured")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.retention(), nil, a.logger)
	if err := archiver.Run(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int("retention_days", a.cfg.Archive.RetentionDays))
	return nil
}

func (a *App) retention() time.Duration {
	return time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
}
