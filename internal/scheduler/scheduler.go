package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pricewatch/game-price-bot/internal/engine"
	"github.com/pricewatch/game-price-bot/internal/models"
)

// Sweeper is the single entry point the trigger needs; the scheduler knows
// nothing about what a sweep does.
type Sweeper interface {
	Sweep(ctx context.Context) (engine.SweepReport, error)
}

// Run fires the daily sweep at hour:minute local time and blocks until ctx
// is cancelled. A tick that lands while a sweep is still running is simply
// dropped: the engine reports ErrSweepInProgress and the next day's tick
// catches up.
func Run(ctx context.Context, sweeper Sweeper, hour, minute int) {
	slog.Info("Scheduler started", "hour", hour, "minute", minute)

	for {
		next := nextRun(time.Now(), hour, minute)
		slog.Info("Next sweep scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Scheduler stopped")
			return
		case <-timer.C:
		}

		if _, err := sweeper.Sweep(ctx); err != nil {
			if errors.Is(err, models.ErrSweepInProgress) {
				slog.Warn("Scheduled sweep skipped, previous one still running")
				continue
			}
			slog.Error("Scheduled sweep failed", "error", err)
		}
	}
}

// nextRun returns the next hour:minute strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
