package engine

import (
	"context"
	"time"

	"github.com/pricewatch/game-price-bot/internal/models"
)

// PriceStore abstracts the append-only price history and the cached Game
// records.
type PriceStore interface {
	GetGame(ctx context.Context, gameID string) (*models.Game, error)
	RecordSnapshot(ctx context.Context, locator models.Locator, norm models.NormalizedSnapshot, observedAt time.Time) (*models.Game, *models.PriceSnapshot, error)
	LatestSnapshot(ctx context.Context, gameID string) (*models.PriceSnapshot, error)
	BestPrice(ctx context.Context, gameID string, windowDays int) (*models.PriceSnapshot, error)
}

// TrackingRegistry abstracts the (user, game) tracking rules and the
// notification bookkeeping.
type TrackingRegistry interface {
	TrackedGameIDs(ctx context.Context) ([]string, error)
	RulesForGame(ctx context.Context, gameID string) ([]models.TrackingRule, error)
	MarkNotified(ctx context.Context, ruleID string, at time.Time) error
	AppendNotificationEvent(ctx context.Context, event models.NotificationEvent) error
}

// Notifier delivers a fully-formed price alert to a user.
type Notifier interface {
	Send(ctx context.Context, userID string, alert models.PriceAlert) error
}

// Fetcher resolves a locator to a normalized snapshot. Satisfied by
// *scraper.Registry.
type Fetcher interface {
	Fetch(ctx context.Context, locator models.Locator) (models.NormalizedSnapshot, error)
}
