package models

import (
	"iter"
	"time"
)

// NewGame builds the initial Game record from the first successful scrape of
// a locator.
func NewGame(locator Locator, norm NormalizedSnapshot, observedAt time.Time) Game {
	return Game{
		ID:              locator.GameID(),
		Platform:        locator.Platform,
		ProductID:       locator.ProductID,
		Title:           norm.Title,
		URL:             norm.URL,
		ImageURL:        norm.ImageURL,
		CurrentPrice:    norm.Price,
		OriginalPrice:   norm.OriginalPrice,
		DiscountPercent: norm.DiscountPercent,
		Currency:        norm.Currency,
		OnSale:          norm.OnSale,
		LastChecked:     observedAt,
		CreatedAt:       observedAt,
	}
}

// ApplySnapshot refreshes the game's cached current-price fields from a
// normalized scrape, but only when the observation is not older than what
// the cache already reflects. Retried or overlapping fetches that land late
// therefore can never regress the current price. Reports whether the cache
// changed.
func (g *Game) ApplySnapshot(norm NormalizedSnapshot, observedAt time.Time) bool {
	if observedAt.Before(g.LastChecked) {
		return false
	}
	g.Title = norm.Title
	g.URL = norm.URL
	if norm.ImageURL != "" {
		g.ImageURL = norm.ImageURL
	}
	g.CurrentPrice = norm.Price
	g.OriginalPrice = norm.OriginalPrice
	g.DiscountPercent = norm.DiscountPercent
	g.Currency = norm.Currency
	g.OnSale = norm.OnSale
	g.LastChecked = observedAt
	return true
}

// BestSnapshot scans an ascending-by-observedAt history and returns the
// cheapest snapshot, keeping the earliest observation on price ties.
// Returns nil when the sequence is empty.
func BestSnapshot(history iter.Seq2[PriceSnapshot, error]) (*PriceSnapshot, error) {
	var best *PriceSnapshot
	for snap, err := range history {
		if err != nil {
			return nil, err
		}
		if best == nil || snap.Price < best.Price {
			s := snap
			best = &s
		}
	}
	return best, nil
}
