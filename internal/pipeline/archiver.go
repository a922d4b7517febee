// Package pipeline runs the background jobs around the ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/eventmarket/internal/clock"
	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// Archiver exports sold items older than the retention window to cold
// storage.
type Archiver struct {
	blob      domain.Archiver
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewArchiver creates an Archiver keeping retention worth of sales out of the
// archive.
func NewArchiver(blob domain.Archiver, retention time.Duration, clk clock.Clock, logger *slog.Logger) *Archiver {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		blob:      blob,
		retention: retention,
		clock:     clk,
		logger:    logger.With(slog.String("component", "pipeline.archiver")),
	}
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	start := a.clock.Now()
	cutoff := start.Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blob.ArchiveSoldItems(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving sold items before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("sold_items_archived", n),
		slog.Duration("took", a.clock.Now().Sub(start)),
	)
	return nil
}

// RunCron runs the archiver on schedule until ctx is cancelled. A failed run
// is logged and the next trigger is awaited.
func (a *Archiver) RunCron(ctx context.Context, schedule Schedule) error {
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", schedule.String()))

	for {
		now := a.clock.Now()
		next, err := schedule.Next(now)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		wait := next.Sub(now)
		a.logger.DebugContext(ctx, "archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
