package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pricewatch/game-price-bot/internal/models"
)

// CreateRule registers (or re-registers) a user's interest in a game.
// Tracking an already-tracked game updates the target price and
// notify-on-any-sale flag but keeps the cooldown state, so re-tracking
// cannot be used to dodge the notification cooldown. Inert rules are
// rejected with models.ErrInertRule.
func (c *Client) CreateRule(ctx context.Context, rule models.TrackingRule) (*models.TrackingRule, error) {
	if rule.Inert() {
		return nil, models.ErrInertRule
	}
	rule.ID = models.RuleID(rule.UserID, rule.GameID)
	ruleRef := c.client.Collection(rulesCollection).Doc(rule.ID)

	var stored models.TrackingRule
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ruleRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			stored = rule
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = time.Now()
			}
			stored.LastNotifiedAt = nil
			return tx.Create(ruleRef, stored)
		}

		if err := doc.DataTo(&stored); err != nil {
			return fmt.Errorf("failed to unmarshal rule %s: %w", rule.ID, err)
		}
		stored.ID = rule.ID
		stored.TargetPrice = rule.TargetPrice
		stored.NotifyOnAnySale = rule.NotifyOnAnySale
		return tx.Set(ruleRef, stored)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rule %s: %w", rule.ID, err)
	}
	return &stored, nil
}

// DeleteRule removes a tracking rule. The game and its history stay.
func (c *Client) DeleteRule(ctx context.Context, userID, gameID string) error {
	ruleID := models.RuleID(userID, gameID)
	ruleRef := c.client.Collection(rulesCollection).Doc(ruleID)

	if _, err := ruleRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return models.ErrRuleNotFound
		}
		return fmt.Errorf("failed to load rule %s: %w", ruleID, err)
	}
	if _, err := ruleRef.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	return nil
}

// RulesForGame returns every active rule for a game.
func (c *Client) RulesForGame(ctx context.Context, gameID string) ([]models.TrackingRule, error) {
	return c.queryRules(ctx, c.client.Collection(rulesCollection).Where("gameID", "==", gameID))
}

// RulesForUser returns every rule a user holds.
func (c *Client) RulesForUser(ctx context.Context, userID string) ([]models.TrackingRule, error) {
	return c.queryRules(ctx, c.client.Collection(rulesCollection).Where("userID", "==", userID))
}

func (c *Client) queryRules(ctx context.Context, q firestore.Query) ([]models.TrackingRule, error) {
	iterDocs := q.Documents(ctx)
	defer iterDocs.Stop()

	var rules []models.TrackingRule
	for {
		doc, err := iterDocs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate rules: %w", err)
		}
		var rule models.TrackingRule
		if err := doc.DataTo(&rule); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rule %s: %w", doc.Ref.ID, err)
		}
		rule.ID = doc.Ref.ID
		rules = append(rules, rule)
	}
	return rules, nil
}

// TrackedGameIDs returns the distinct set of games that have at least one
// active rule; this is the sweep's work list.
func (c *Client) TrackedGameIDs(ctx context.Context) ([]string, error) {
	iterDocs := c.client.Collection(rulesCollection).Select("gameID").Documents(ctx)
	defer iterDocs.Stop()

	seen := make(map[string]bool)
	var ids []string
	for {
		doc, err := iterDocs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate tracked games: %w", err)
		}
		gameID, err := doc.DataAt("gameID")
		if err != nil {
			continue
		}
		id, ok := gameID.(string)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// MarkNotified advances a rule's LastNotifiedAt. The timestamp is
// forward-only: a stale writer racing a newer one can never move it back.
func (c *Client) MarkNotified(ctx context.Context, ruleID string, at time.Time) error {
	ruleRef := c.client.Collection(rulesCollection).Doc(ruleID)
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ruleRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return models.ErrRuleNotFound
			}
			return err
		}
		var rule models.TrackingRule
		if err := doc.DataTo(&rule); err != nil {
			return fmt.Errorf("failed to unmarshal rule %s: %w", ruleID, err)
		}
		if rule.LastNotifiedAt != nil && !at.After(*rule.LastNotifiedAt) {
			return nil
		}
		return tx.Update(ruleRef, []firestore.Update{
			{Path: "lastNotifiedAt", Value: at},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to mark rule %s notified: %w", ruleID, err)
	}
	return nil
}

// AppendNotificationEvent logs a dispatched notification. The log is the
// audit trail that makes re-processing visible after a crash between
// dispatch and bookkeeping.
func (c *Client) AppendNotificationEvent(ctx context.Context, event models.NotificationEvent) error {
	_, _, err := c.client.Collection(notificationsCollection).Add(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to append notification event for %s: %w", event.RuleID, err)
	}
	return nil
}
