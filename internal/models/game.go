package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSweepInProgress is returned when a sweep is requested while another
// sweep is still running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// ErrRuleNotFound is returned when a tracking rule does not exist.
var ErrRuleNotFound = errors.New("tracking rule not found")

// ErrGameNotFound is returned when a game has never been scraped.
var ErrGameNotFound = errors.New("game not found")

// ErrInertRule is returned when a rule has no target price and
// notify-on-any-sale disabled. Such a rule could never fire, so it is
// rejected at creation time instead of silently doing nothing.
var ErrInertRule = errors.New("tracking rule has no target price and notify-on-any-sale is disabled")

// Locator identifies a game on a specific storefront.
type Locator struct {
	Platform  string `json:"platform" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
}

// GameID is the canonical document ID for a locator: "platform:productID".
// At most one Game record exists per locator.
func (l Locator) GameID() string {
	return l.Platform + ":" + l.ProductID
}

func (l Locator) String() string {
	return l.GameID()
}

// LocatorFromGameID parses a canonical game ID back into a locator.
func LocatorFromGameID(gameID string) (Locator, error) {
	platform, productID, ok := strings.Cut(gameID, ":")
	if !ok || platform == "" || productID == "" {
		return Locator{}, fmt.Errorf("malformed game ID %q", gameID)
	}
	return Locator{Platform: platform, ProductID: productID}, nil
}

// Game is the canonical record for a storefront product. The Current* fields
// cache the most recent successfully normalized snapshot; a failed scrape
// never overwrites them. Games are never deleted, even when nobody tracks
// them anymore.
type Game struct {
	ID              string    `firestore:"-" json:"id"`
	Platform        string    `firestore:"platform" json:"platform" validate:"required"`
	ProductID       string    `firestore:"productID" json:"product_id" validate:"required"`
	Title           string    `firestore:"title" json:"title" validate:"required"`
	URL             string    `firestore:"url" json:"url" validate:"required,url"`
	ImageURL        string    `firestore:"imageURL,omitempty" json:"image_url,omitempty"`
	CurrentPrice    float64   `firestore:"currentPrice" json:"current_price" validate:"gte=0"`
	OriginalPrice   float64   `firestore:"originalPrice" json:"original_price" validate:"gte=0"`
	DiscountPercent int       `firestore:"discountPercent" json:"discount_percent" validate:"gte=0,lte=100"`
	Currency        string    `firestore:"currency" json:"currency" validate:"required"`
	OnSale          bool      `firestore:"onSale" json:"on_sale"`
	LastChecked     time.Time `firestore:"lastChecked" json:"last_checked"`
	CreatedAt       time.Time `firestore:"createdAt" json:"created_at"`
}

func (g *Game) Locator() Locator {
	return Locator{Platform: g.Platform, ProductID: g.ProductID}
}

// PriceSnapshot is one observation of a game's price. Snapshots are
// append-only: never mutated, never deleted. They are the audit trail behind
// "best price in N days" queries.
type PriceSnapshot struct {
	GameID          string    `firestore:"gameID" json:"game_id"`
	Price           float64   `firestore:"price" json:"price" validate:"gte=0"`
	OriginalPrice   float64   `firestore:"originalPrice" json:"original_price"`
	DiscountPercent int       `firestore:"discountPercent" json:"discount_percent"`
	Currency        string    `firestore:"currency" json:"currency"`
	OnSale          bool      `firestore:"onSale" json:"on_sale"`
	ObservedAt      time.Time `firestore:"observedAt" json:"observed_at"`
}

// NormalizedSnapshot is what a platform scraper produces for a single
// product page. Price zero is valid (free games), not an error.
type NormalizedSnapshot struct {
	Title           string  `validate:"required"`
	URL             string  `validate:"required,url"`
	ImageURL        string  `validate:"omitempty,url"`
	Price           float64 `validate:"gte=0"`
	OriginalPrice   float64 `validate:"gte=0"`
	DiscountPercent int     `validate:"gte=0,lte=100"`
	Currency        string  `validate:"required,currency_code"`
	OnSale          bool
}

// Snapshot converts a normalized scrape result into a stored snapshot.
func (n NormalizedSnapshot) Snapshot(gameID string, observedAt time.Time) PriceSnapshot {
	return PriceSnapshot{
		GameID:          gameID,
		Price:           n.Price,
		OriginalPrice:   n.OriginalPrice,
		DiscountPercent: n.DiscountPercent,
		Currency:        n.Currency,
		OnSale:          n.OnSale,
		ObservedAt:      observedAt,
	}
}

// TrackingRule is one user's interest in one game. Identity is (user, game).
// LastNotifiedAt only ever moves forward; it is advanced by the engine after
// a successful dispatch and gates the notification cooldown.
type TrackingRule struct {
	ID              string     `firestore:"-" json:"id"`
	UserID          string     `firestore:"userID" json:"user_id"`
	GameID          string     `firestore:"gameID" json:"game_id"`
	TargetPrice     *float64   `firestore:"targetPrice,omitempty" json:"target_price,omitempty"`
	NotifyOnAnySale bool       `firestore:"notifyOnAnySale" json:"notify_on_any_sale"`
	LastNotifiedAt  *time.Time `firestore:"lastNotifiedAt,omitempty" json:"last_notified_at,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt" json:"created_at"`
}

// RuleID is the canonical document ID for a (user, game) pair.
func RuleID(userID, gameID string) string {
	return userID + ":" + gameID
}

// Inert reports whether the rule could never qualify: no target price and
// notify-on-any-sale disabled.
func (r *TrackingRule) Inert() bool {
	return r.TargetPrice == nil && !r.NotifyOnAnySale
}

// Qualifies reports whether a snapshot satisfies this rule. Only on-sale
// snapshots qualify; beyond that either any sale is enough or the price must
// be at or below the target.
func (r *TrackingRule) Qualifies(snap PriceSnapshot) bool {
	if !snap.OnSale {
		return false
	}
	if r.NotifyOnAnySale {
		return true
	}
	return r.TargetPrice != nil && snap.Price <= *r.TargetPrice
}

// Cooling reports whether the rule is inside its notification cooldown
// window at the given instant.
func (r *TrackingRule) Cooling(now time.Time, cooldown time.Duration) bool {
	return r.LastNotifiedAt != nil && now.Sub(*r.LastNotifiedAt) < cooldown
}

// NotificationEvent is an append-only log entry for a dispatched
// notification.
type NotificationEvent struct {
	RuleID string    `firestore:"ruleID" json:"rule_id"`
	UserID string    `firestore:"userID" json:"user_id"`
	GameID string    `firestore:"gameID" json:"game_id"`
	Price  float64   `firestore:"price" json:"price"`
	SentAt time.Time `firestore:"sentAt" json:"sent_at"`
}

// PriceAlert is the fully-formed payload handed to the notifier.
type PriceAlert struct {
	GameTitle       string
	Platform        string
	NewPrice        float64
	OriginalPrice   float64
	DiscountPercent int
	TargetPrice     *float64
	Currency        string
	URL             string
}

// SearchResult is one storefront search hit, used by the front-end to
// resolve a human query to a locator before tracking.
type SearchResult struct {
	Locator  Locator `json:"locator"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	ImageURL string  `json:"image_url,omitempty"`
	Price    float64 `json:"price"`
	OnSale   bool    `json:"on_sale"`
	Currency string  `json:"currency"`
}

// TrackedGame pairs a rule with the game's current cached price for
// wishlist listings.
type TrackedGame struct {
	Rule TrackingRule `json:"rule"`
	Game Game         `json:"game"`
}

// ValidateLocator checks the minimal shape of a locator before it reaches a
// scraper.
func ValidateLocator(l Locator) error {
	if l.Platform == "" || l.ProductID == "" {
		return fmt.Errorf("incomplete locator %q", l.GameID())
	}
	return nil
}
