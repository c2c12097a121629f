package storage

import (
	"context"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pricewatch/game-price-bot/internal/models"
)

const (
	gamesCollection         = "games"
	snapshotsCollection     = "priceSnapshots"
	rulesCollection         = "trackingRules"
	notificationsCollection = "notificationEvents"
)

// Client is the Firestore-backed price store and tracking registry.
type Client struct {
	client *firestore.Client
}

func New(ctx context.Context, projectID string) (*Client, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// GetGame retrieves a game by its canonical ID (platform:productID).
// Returns models.ErrGameNotFound if the locator has never been scraped.
func (c *Client) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	doc, err := c.client.Collection(gamesCollection).Doc(gameID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, models.ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game %s: %w", gameID, err)
	}

	var game models.Game
	if err := doc.DataTo(&game); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game %s: %w", gameID, err)
	}
	game.ID = doc.Ref.ID
	return &game, nil
}

// RecordSnapshot appends an immutable price snapshot and, in the same
// transaction, creates the Game record or refreshes its cached current-price
// fields. The cache update only happens when the snapshot is not older than
// the game's LastChecked, so a retried or overlapping fetch that lands late
// can never regress the current price.
func (c *Client) RecordSnapshot(ctx context.Context, locator models.Locator, norm models.NormalizedSnapshot, observedAt time.Time) (*models.Game, *models.PriceSnapshot, error) {
	gameID := locator.GameID()
	gameRef := c.client.Collection(gamesCollection).Doc(gameID)
	snapRef := c.client.Collection(snapshotsCollection).NewDoc()
	snap := norm.Snapshot(gameID, observedAt)

	var result models.Game
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(gameRef)
		exists := true
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			exists = false
		}

		if !exists {
			result = models.NewGame(locator, norm, observedAt)
			if err := tx.Create(gameRef, result); err != nil {
				return err
			}
			return tx.Create(snapRef, snap)
		}

		if err := doc.DataTo(&result); err != nil {
			return fmt.Errorf("failed to unmarshal game %s: %w", gameID, err)
		}
		result.ID = gameID

		if result.ApplySnapshot(norm, observedAt) {
			if err := tx.Set(gameRef, result); err != nil {
				return err
			}
		}
		return tx.Create(snapRef, snap)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record snapshot for %s: %w", gameID, err)
	}
	return &result, &snap, nil
}

// LatestSnapshot returns the most recent snapshot for a game, or
// models.ErrGameNotFound when none exists.
func (c *Client) LatestSnapshot(ctx context.Context, gameID string) (*models.PriceSnapshot, error) {
	iterDocs := c.client.Collection(snapshotsCollection).
		Where("gameID", "==", gameID).
		OrderBy("observedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iterDocs.Stop()

	doc, err := iterDocs.Next()
	if err == iterator.Done {
		return nil, models.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot for %s: %w", gameID, err)
	}

	var snap models.PriceSnapshot
	if err := doc.DataTo(&snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot for %s: %w", gameID, err)
	}
	return &snap, nil
}

// History yields the game's snapshots observed at or after since, ordered by
// observedAt ascending. Each call issues a fresh query, so the sequence is
// restartable.
func (c *Client) History(ctx context.Context, gameID string, since time.Time) iter.Seq2[models.PriceSnapshot, error] {
	return func(yield func(models.PriceSnapshot, error) bool) {
		iterDocs := c.client.Collection(snapshotsCollection).
			Where("gameID", "==", gameID).
			Where("observedAt", ">=", since).
			OrderBy("observedAt", firestore.Asc).
			Documents(ctx)
		defer iterDocs.Stop()

		for {
			doc, err := iterDocs.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(models.PriceSnapshot{}, fmt.Errorf("failed to iterate history for %s: %w", gameID, err))
				return
			}
			var snap models.PriceSnapshot
			if err := doc.DataTo(&snap); err != nil {
				yield(models.PriceSnapshot{}, fmt.Errorf("failed to unmarshal snapshot for %s: %w", gameID, err))
				return
			}
			if !yield(snap, nil) {
				return
			}
		}
	}
}

// BestPrice returns the snapshot with the lowest price observed within the
// last windowDays. Ties go to the earliest observation. Returns
// models.ErrGameNotFound when the window holds no snapshots.
func (c *Client) BestPrice(ctx context.Context, gameID string, windowDays int) (*models.PriceSnapshot, error) {
	since := time.Now().AddDate(0, 0, -windowDays)

	best, err := models.BestSnapshot(c.History(ctx, gameID, since))
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, models.ErrGameNotFound
	}
	return best, nil
}
