package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pricewatch/game-price-bot/internal/config"
	"github.com/pricewatch/game-price-bot/internal/models"
	"github.com/pricewatch/game-price-bot/internal/scraper"
	"github.com/pricewatch/game-price-bot/internal/util"
	"github.com/pricewatch/game-price-bot/internal/validator"
)

// Engine orchestrates scrape -> normalize -> store -> evaluate -> notify.
// It owns no persistent state of its own; everything durable lives in the
// price store and tracking registry.
type Engine struct {
	store    PriceStore
	registry TrackingRegistry
	notifier Notifier
	fetcher  Fetcher

	cooldown      time.Duration
	concurrency   int
	sweepTimeout  time.Duration
	scrapeRetries int
	scrapeBackoff time.Duration

	// now is swappable so tests can pin the clock.
	now func() time.Time

	validate *validator.Validator

	// sweepMu guards against overlapping sweeps. A trigger that fires
	// while a sweep is running is skipped, not queued; the next tick
	// catches up.
	sweepMu sync.Mutex
}

func New(store PriceStore, registry TrackingRegistry, n Notifier, f Fetcher, cfg *config.Config) *Engine {
	return &Engine{
		store:         store,
		registry:      registry,
		notifier:      n,
		fetcher:       f,
		cooldown:      cfg.CooldownInterval,
		concurrency:   cfg.SweepConcurrency,
		sweepTimeout:  cfg.SweepTimeout,
		scrapeRetries: cfg.ScrapeRetries,
		scrapeBackoff: cfg.ScrapeBackoff,
		now:           time.Now,
		validate:      validator.New(),
	}
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Games    int       `json:"games"`
	Checked  int       `json:"checked"`
	Failed   int       `json:"failed"`
	Notified int       `json:"notified"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Sweep scrapes every game with at least one active tracking rule, appends
// the snapshots, evaluates the rules and dispatches notifications. Games are
// processed concurrently up to the configured limit; one game's failure
// never aborts the others. Returns models.ErrSweepInProgress if a sweep is
// already running.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	if !e.sweepMu.TryLock() {
		slog.Warn("Sweep trigger ignored, previous sweep still running")
		return SweepReport{}, models.ErrSweepInProgress
	}
	defer e.sweepMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.sweepTimeout)
	defer cancel()

	report := SweepReport{Started: e.now()}

	gameIDs, err := e.registry.TrackedGameIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list tracked games: %w", err)
	}
	report.Games = len(gameIDs)
	slog.Info("Sweep started", "games", len(gameIDs))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for _, gameID := range gameIDs {
		g.Go(func() error {
			notified, err := e.sweepGame(ctx, gameID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
			} else {
				report.Checked++
				report.Notified += notified
			}
			// Never propagate: per-game failures are isolated.
			return nil
		})
	}
	g.Wait()

	report.Finished = e.now()
	slog.Info("Sweep finished",
		"games", report.Games,
		"checked", report.Checked,
		"failed", report.Failed,
		"notified", report.Notified,
		"elapsed", report.Finished.Sub(report.Started))
	return report, nil
}

// sweepGame runs the strictly sequential per-game pipeline:
// scrape -> store -> evaluate -> notify.
func (e *Engine) sweepGame(ctx context.Context, gameID string) (int, error) {
	locator, err := models.LocatorFromGameID(gameID)
	if err != nil {
		slog.Error("Skipping unsweepable game", "game", gameID, "error", err)
		return 0, err
	}

	game, snap, err := e.fetchAndStore(ctx, locator)
	if err != nil {
		e.logScrapeFailure(gameID, err)
		return 0, err
	}

	return e.evaluate(ctx, game, *snap)
}

// fetchAndStore scrapes a locator (retrying transient failures with backoff)
// and appends the normalized snapshot. A failed scrape leaves the stored
// price untouched.
func (e *Engine) fetchAndStore(ctx context.Context, locator models.Locator) (*models.Game, *models.PriceSnapshot, error) {
	var norm models.NormalizedSnapshot
	err := util.RetryWithBackoff(ctx, e.scrapeRetries, e.scrapeBackoff, func(attempt int) (bool, error) {
		var ferr error
		norm, ferr = e.fetcher.Fetch(ctx, locator)
		if ferr != nil && attempt < e.scrapeRetries && scraper.IsTransient(ferr) {
			slog.Warn("Scrape attempt failed, will retry",
				"game", locator.GameID(), "attempt", attempt+1, "error", ferr)
			return true, ferr
		}
		return false, ferr
	})
	if err != nil {
		return nil, nil, err
	}

	// A snapshot that fails normalization checks means the scraper
	// extracted garbage; treat it like a page-structure failure rather
	// than storing it.
	if err := e.validate.ValidateStruct(norm); err != nil {
		return nil, nil, scraper.NewParseFailure(locator.Platform, err)
	}

	return e.store.RecordSnapshot(ctx, locator, norm, e.now())
}

// Lookup is the on-demand price path: same normalize/store pipeline as the
// sweep, but no rule evaluation. Used by the get-price command and by rule
// creation to materialize the Game record.
func (e *Engine) Lookup(ctx context.Context, locator models.Locator) (*models.Game, *models.PriceSnapshot, error) {
	return e.fetchAndStore(ctx, locator)
}

// EvaluateOnDemand re-runs rule evaluation for a game against its stored
// latest snapshot. Called right after a user creates a rule so that a game
// already on sale notifies immediately instead of waiting for the next
// sweep. The cooldown gate still applies.
func (e *Engine) EvaluateOnDemand(ctx context.Context, gameID string) (int, error) {
	game, err := e.store.GetGame(ctx, gameID)
	if err != nil {
		return 0, err
	}
	snap, err := e.store.LatestSnapshot(ctx, gameID)
	if err != nil {
		return 0, err
	}
	return e.evaluate(ctx, game, *snap)
}

// evaluate applies every active rule for the game to the snapshot and
// dispatches notifications through the cooldown gate. Returns how many
// notifications were delivered.
func (e *Engine) evaluate(ctx context.Context, game *models.Game, snap models.PriceSnapshot) (int, error) {
	rules, err := e.registry.RulesForGame(ctx, game.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load rules for %s: %w", game.ID, err)
	}

	notified := 0
	for i := range rules {
		rule := rules[i]

		if rule.Inert() {
			// Creation rejects these; one slipping through is a
			// configuration error worth flagging, not a silent skip.
			slog.Error("Inert tracking rule can never fire", "rule", rule.ID, "user", rule.UserID)
			continue
		}
		if !rule.Qualifies(snap) {
			continue
		}

		now := e.now()
		if rule.Cooling(now, e.cooldown) {
			slog.Debug("Rule in cooldown, skipping notification",
				"rule", rule.ID, "lastNotified", *rule.LastNotifiedAt)
			continue
		}

		alert := models.PriceAlert{
			GameTitle:       game.Title,
			Platform:        game.Platform,
			NewPrice:        snap.Price,
			OriginalPrice:   snap.OriginalPrice,
			DiscountPercent: snap.DiscountPercent,
			TargetPrice:     rule.TargetPrice,
			Currency:        snap.Currency,
			URL:             game.URL,
		}
		if err := e.notifier.Send(ctx, rule.UserID, alert); err != nil {
			// Leave LastNotifiedAt untouched so delivery is retried
			// on the next sweep.
			slog.Warn("Notification dispatch failed, will retry next sweep",
				"rule", rule.ID, "user", rule.UserID, "error", err)
			continue
		}
		notified++

		// Dispatch succeeded; advance the cooldown and log the event.
		// If either write fails we accept a possible duplicate next
		// sweep rather than a silent loss.
		if err := e.registry.MarkNotified(ctx, rule.ID, now); err != nil {
			slog.Error("Failed to advance cooldown after dispatch", "rule", rule.ID, "error", err)
		}
		event := models.NotificationEvent{
			RuleID: rule.ID,
			UserID: rule.UserID,
			GameID: game.ID,
			Price:  snap.Price,
			SentAt: now,
		}
		if err := e.registry.AppendNotificationEvent(ctx, event); err != nil {
			slog.Error("Failed to log notification event", "rule", rule.ID, "error", err)
		}
		slog.Info("Notification sent", "rule", rule.ID, "user", rule.UserID, "game", game.ID, "price", snap.Price)
	}

	return notified, nil
}

func (e *Engine) logScrapeFailure(gameID string, err error) {
	switch scraper.KindOf(err) {
	case scraper.KindNotFound:
		slog.Warn("Game no longer resolves, keeping last known price", "game", gameID, "error", err)
	case scraper.KindParseFailure:
		slog.Error("Page structure changed, scraper needs attention", "game", gameID, "error", err)
	default:
		slog.Warn("Scrape failed after retries, skipping game this sweep", "game", gameID, "error", err)
	}
}
