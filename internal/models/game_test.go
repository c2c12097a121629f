package models

import (
	"iter"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }

func TestLocatorGameIDRoundTrip(t *testing.T) {
	l := Locator{Platform: "steam", ProductID: "367520"}
	if got := l.GameID(); got != "steam:367520" {
		t.Fatalf("GameID() = %q, want steam:367520", got)
	}

	parsed, err := LocatorFromGameID(l.GameID())
	if err != nil {
		t.Fatalf("LocatorFromGameID failed: %v", err)
	}
	if parsed != l {
		t.Errorf("round trip = %+v, want %+v", parsed, l)
	}
}

func TestLocatorFromGameIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "steam", ":367520", "steam:"} {
		if _, err := LocatorFromGameID(id); err == nil {
			t.Errorf("LocatorFromGameID(%q) = nil error, want failure", id)
		}
	}
}

func TestRuleQualifies(t *testing.T) {
	onSale := PriceSnapshot{Price: 29.99, OnSale: true}
	fullPrice := PriceSnapshot{Price: 29.99, OnSale: false}

	tests := []struct {
		name string
		rule TrackingRule
		snap PriceSnapshot
		want bool
	}{
		{"at target on sale", TrackingRule{TargetPrice: floatPtr(29.99)}, onSale, true},
		{"below target on sale", TrackingRule{TargetPrice: floatPtr(30)}, onSale, true},
		{"above target on sale", TrackingRule{TargetPrice: floatPtr(29.98)}, onSale, false},
		{"at target not on sale", TrackingRule{TargetPrice: floatPtr(29.99)}, fullPrice, false},
		{"any sale", TrackingRule{NotifyOnAnySale: true}, onSale, true},
		{"any sale but full price", TrackingRule{NotifyOnAnySale: true}, fullPrice, false},
		{"any sale free game", TrackingRule{NotifyOnAnySale: true}, PriceSnapshot{Price: 0, OnSale: true}, true},
		{"inert rule", TrackingRule{}, onSale, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Qualifies(tt.snap); got != tt.want {
				t.Errorf("Qualifies() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRuleInert(t *testing.T) {
	if !(&TrackingRule{}).Inert() {
		t.Error("rule with no target and no any-sale flag must be inert")
	}
	if (&TrackingRule{TargetPrice: floatPtr(10)}).Inert() {
		t.Error("rule with a target price is not inert")
	}
	if (&TrackingRule{NotifyOnAnySale: true}).Inert() {
		t.Error("any-sale rule is not inert")
	}
}

func TestRuleCooling(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	cooldown := 24 * time.Hour

	never := TrackingRule{}
	if never.Cooling(t0, cooldown) {
		t.Error("a rule that has never notified is not cooling")
	}

	rule := TrackingRule{LastNotifiedAt: &t0}
	for _, tt := range []struct {
		elapsed time.Duration
		want    bool
	}{
		{1 * time.Hour, true},
		{23 * time.Hour, true},
		{24 * time.Hour, false},
		{25 * time.Hour, false},
	} {
		if got := rule.Cooling(t0.Add(tt.elapsed), cooldown); got != tt.want {
			t.Errorf("Cooling after %v = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestApplySnapshotRejectsStaleObservations(t *testing.T) {
	locator := Locator{Platform: "steam", ProductID: "367520"}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	game := NewGame(locator, NormalizedSnapshot{
		Title: "Hollow Knight", URL: "https://example.com/1", Price: 59.99, Currency: "BRL",
	}, t0)

	// A newer observation refreshes the cache.
	if !game.ApplySnapshot(NormalizedSnapshot{
		Title: "Hollow Knight", URL: "https://example.com/1", Price: 29.99, OnSale: true, Currency: "BRL",
	}, t0.Add(time.Hour)) {
		t.Fatal("newer observation must update the cache")
	}
	if game.CurrentPrice != 29.99 || !game.OnSale {
		t.Fatalf("cache after update = %v on_sale=%v, want 29.99 on sale", game.CurrentPrice, game.OnSale)
	}

	// A late-arriving older observation appends to history elsewhere but
	// must not roll the cache back.
	if game.ApplySnapshot(NormalizedSnapshot{
		Title: "Hollow Knight", URL: "https://example.com/1", Price: 59.99, Currency: "BRL",
	}, t0.Add(30*time.Minute)) {
		t.Fatal("stale observation must not update the cache")
	}
	if game.CurrentPrice != 29.99 {
		t.Errorf("CurrentPrice regressed to %v", game.CurrentPrice)
	}
	if !game.LastChecked.Equal(t0.Add(time.Hour)) {
		t.Errorf("LastChecked regressed to %v", game.LastChecked)
	}
}

func TestApplySnapshotKeepsImageWhenMissing(t *testing.T) {
	locator := Locator{Platform: "steam", ProductID: "367520"}
	t0 := time.Now()
	game := NewGame(locator, NormalizedSnapshot{
		Title: "Hollow Knight", URL: "https://example.com/1", ImageURL: "https://example.com/header.jpg",
		Price: 59.99, Currency: "BRL",
	}, t0)

	game.ApplySnapshot(NormalizedSnapshot{
		Title: "Hollow Knight", URL: "https://example.com/1", Price: 59.99, Currency: "BRL",
	}, t0.Add(time.Hour))
	if game.ImageURL != "https://example.com/header.jpg" {
		t.Errorf("ImageURL = %q, want previous value kept", game.ImageURL)
	}
}

func historyOf(snaps ...PriceSnapshot) iter.Seq2[PriceSnapshot, error] {
	return func(yield func(PriceSnapshot, error) bool) {
		for _, s := range snaps {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func TestBestSnapshot(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day := func(n int) time.Time { return t0.AddDate(0, 0, n) }

	best, err := BestSnapshot(historyOf(
		PriceSnapshot{Price: 59.99, ObservedAt: day(0)},
		PriceSnapshot{Price: 29.99, ObservedAt: day(1)},
		PriceSnapshot{Price: 39.99, ObservedAt: day(2)},
		PriceSnapshot{Price: 29.99, ObservedAt: day(3)},
	))
	if err != nil {
		t.Fatalf("BestSnapshot failed: %v", err)
	}
	if best.Price != 29.99 {
		t.Errorf("best price = %v, want 29.99", best.Price)
	}
	// Ties resolve to the earliest observation.
	if !best.ObservedAt.Equal(day(1)) {
		t.Errorf("best observed at %v, want %v (earliest tie)", best.ObservedAt, day(1))
	}

	empty, err := BestSnapshot(historyOf())
	if err != nil {
		t.Fatalf("BestSnapshot on empty history failed: %v", err)
	}
	if empty != nil {
		t.Errorf("empty history best = %+v, want nil", empty)
	}
}
