package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pricewatch/game-price-bot/internal/engine"
	"github.com/pricewatch/game-price-bot/internal/models"
	"github.com/pricewatch/game-price-bot/internal/scraper"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func floatPtr(v float64) *float64 { return &v }

func testGame() *models.Game {
	return &models.Game{
		ID:           "steam:367520",
		Platform:     "steam",
		ProductID:    "367520",
		Title:        "Hollow Knight",
		URL:          "https://store.steampowered.com/app/367520/",
		CurrentPrice: 29.99,
		Currency:     "BRL",
		OnSale:       true,
	}
}

type fakeTracker struct {
	lookupGame *models.Game
	lookupSnap *models.PriceSnapshot
	lookupErr  error
	evaluated  []string
	sweeps     int
}

func (f *fakeTracker) Sweep(context.Context) (engine.SweepReport, error) {
	f.sweeps++
	return engine.SweepReport{}, nil
}

func (f *fakeTracker) Lookup(context.Context, models.Locator) (*models.Game, *models.PriceSnapshot, error) {
	return f.lookupGame, f.lookupSnap, f.lookupErr
}

func (f *fakeTracker) EvaluateOnDemand(_ context.Context, gameID string) (int, error) {
	f.evaluated = append(f.evaluated, gameID)
	return 0, nil
}

type fakeRegistry struct {
	created   []models.TrackingRule
	createErr error
	deleteErr error
	rules     []models.TrackingRule
}

func (f *fakeRegistry) CreateRule(_ context.Context, rule models.TrackingRule) (*models.TrackingRule, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	rule.ID = models.RuleID(rule.UserID, rule.GameID)
	f.created = append(f.created, rule)
	return &rule, nil
}

func (f *fakeRegistry) DeleteRule(context.Context, string, string) error {
	return f.deleteErr
}

func (f *fakeRegistry) RulesForUser(context.Context, string) ([]models.TrackingRule, error) {
	return f.rules, nil
}

type fakeGames struct {
	game    *models.Game
	gameErr error
	best    *models.PriceSnapshot
	bestErr error
}

func (f *fakeGames) GetGame(context.Context, string) (*models.Game, error) {
	return f.game, f.gameErr
}

func (f *fakeGames) BestPrice(context.Context, string, int) (*models.PriceSnapshot, error) {
	return f.best, f.bestErr
}

type fakeSearcher struct {
	results []models.SearchResult
	err     error
}

func (f *fakeSearcher) Platform() string { return scraper.PlatformSteam }

func (f *fakeSearcher) Fetch(context.Context, models.Locator) (models.NormalizedSnapshot, error) {
	return models.NormalizedSnapshot{}, nil
}

func (f *fakeSearcher) Search(context.Context, string) ([]models.SearchResult, error) {
	return f.results, f.err
}

func newTestServer(tracker *fakeTracker, registry *fakeRegistry, games *fakeGames, search *fakeSearcher) *gin.Engine {
	reg := scraper.NewRegistryWith(search)
	return NewServer(tracker, registry, games, reg).Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := newTestServer(&fakeTracker{}, &fakeRegistry{}, &fakeGames{}, &fakeSearcher{})
	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestCreateTracking(t *testing.T) {
	tracker := &fakeTracker{lookupGame: testGame(), lookupSnap: &models.PriceSnapshot{Price: 29.99}}
	registry := &fakeRegistry{}
	router := newTestServer(tracker, registry, &fakeGames{}, &fakeSearcher{})

	w := doJSON(t, router, http.MethodPost, "/api/tracking", map[string]any{
		"user_id":      "user-1",
		"url":          "https://store.steampowered.com/app/367520/Hollow_Knight/",
		"target_price": 29.99,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}

	if len(registry.created) != 1 {
		t.Fatalf("created %d rules, want 1", len(registry.created))
	}
	rule := registry.created[0]
	if rule.UserID != "user-1" || rule.GameID != "steam:367520" {
		t.Errorf("rule = %+v", rule)
	}
	if rule.TargetPrice == nil || *rule.TargetPrice != 29.99 {
		t.Errorf("target price = %v, want 29.99", rule.TargetPrice)
	}

	// Creation immediately re-evaluates so an ongoing sale notifies now.
	if len(tracker.evaluated) != 1 || tracker.evaluated[0] != "steam:367520" {
		t.Errorf("evaluated = %v, want [steam:367520]", tracker.evaluated)
	}
}

func TestCreateTrackingValidation(t *testing.T) {
	tracker := &fakeTracker{lookupGame: testGame(), lookupSnap: &models.PriceSnapshot{}}

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing user", map[string]any{"url": "https://store.steampowered.com/app/1/"}},
		{"missing url", map[string]any{"user_id": "user-1"}},
		{"not a store url", map[string]any{"user_id": "user-1", "url": "https://example.com/game"}},
		{"negative target", map[string]any{"user_id": "user-1", "url": "https://store.steampowered.com/app/1/", "target_price": -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := &fakeRegistry{}
			router := newTestServer(tracker, registry, &fakeGames{}, &fakeSearcher{})
			w := doJSON(t, router, http.MethodPost, "/api/tracking", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(registry.created) != 0 {
				t.Error("invalid request must not create a rule")
			}
		})
	}
}

func TestCreateTrackingRejectsInertRule(t *testing.T) {
	tracker := &fakeTracker{lookupGame: testGame(), lookupSnap: &models.PriceSnapshot{}}
	registry := &fakeRegistry{createErr: models.ErrInertRule}
	router := newTestServer(tracker, registry, &fakeGames{}, &fakeSearcher{})

	w := doJSON(t, router, http.MethodPost, "/api/tracking", map[string]any{
		"user_id": "user-1",
		"url":     "https://store.steampowered.com/app/367520/",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "target price") {
		t.Errorf("body %q should explain how to fix the rule", w.Body.String())
	}
}

func TestCreateTrackingScrapeErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"dead locator", scraper.NewNotFound("steam", fmt.Errorf("410")), http.StatusNotFound},
		{"layout change", scraper.NewParseFailure("steam", fmt.Errorf("selector")), http.StatusBadGateway},
		{"storefront down", scraper.NewTransient("steam", fmt.Errorf("503")), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &fakeTracker{lookupErr: tt.err}
			router := newTestServer(tracker, &fakeRegistry{}, &fakeGames{}, &fakeSearcher{})
			w := doJSON(t, router, http.MethodPost, "/api/tracking", map[string]any{
				"user_id": "user-1",
				"url":     "https://store.steampowered.com/app/367520/",
			})
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestDeleteTracking(t *testing.T) {
	router := newTestServer(&fakeTracker{}, &fakeRegistry{}, &fakeGames{}, &fakeSearcher{})
	w := doJSON(t, router, http.MethodDelete, "/api/users/user-1/tracking/steam:367520", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}

	router = newTestServer(&fakeTracker{}, &fakeRegistry{deleteErr: models.ErrRuleNotFound}, &fakeGames{}, &fakeSearcher{})
	w = doJSON(t, router, http.MethodDelete, "/api/users/user-1/tracking/steam:367520", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status for unknown rule = %d, want 404", w.Code)
	}
}

func TestListTracking(t *testing.T) {
	registry := &fakeRegistry{rules: []models.TrackingRule{
		{ID: "user-1:steam:367520", UserID: "user-1", GameID: "steam:367520", TargetPrice: floatPtr(29.99), CreatedAt: time.Now()},
	}}
	games := &fakeGames{game: testGame()}
	router := newTestServer(&fakeTracker{}, registry, games, &fakeSearcher{})

	w := doJSON(t, router, http.MethodGet, "/api/users/user-1/tracking", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Tracking []models.TrackedGame `json:"tracking"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Tracking) != 1 {
		t.Fatalf("got %d tracked games, want 1", len(resp.Tracking))
	}
	if resp.Tracking[0].Game.Title != "Hollow Knight" {
		t.Errorf("joined game title = %q", resp.Tracking[0].Game.Title)
	}
}

func TestListTrackingSkipsMissingGames(t *testing.T) {
	registry := &fakeRegistry{rules: []models.TrackingRule{
		{ID: "user-1:steam:1", UserID: "user-1", GameID: "steam:1"},
	}}
	games := &fakeGames{gameErr: models.ErrGameNotFound}
	router := newTestServer(&fakeTracker{}, registry, games, &fakeSearcher{})

	w := doJSON(t, router, http.MethodGet, "/api/users/user-1/tracking", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even with a dangling rule", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"tracking":[]`) {
		t.Errorf("body = %s, want empty tracking list", w.Body.String())
	}
}

func TestGetPrice(t *testing.T) {
	tracker := &fakeTracker{lookupGame: testGame(), lookupSnap: &models.PriceSnapshot{Price: 29.99, OnSale: true}}
	router := newTestServer(tracker, &fakeRegistry{}, &fakeGames{}, &fakeSearcher{})

	w := doJSON(t, router, http.MethodGet, "/api/price?url=https%3A%2F%2Fstore.steampowered.com%2Fapp%2F367520%2F", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/price", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d, want 400", w.Code)
	}
}

func TestSearch(t *testing.T) {
	search := &fakeSearcher{results: []models.SearchResult{
		{Locator: models.Locator{Platform: "steam", ProductID: "367520"}, Title: "Hollow Knight"},
	}}
	router := newTestServer(&fakeTracker{}, &fakeRegistry{}, &fakeGames{}, search)

	w := doJSON(t, router, http.MethodGet, "/api/search?q=hollow", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Hollow Knight") {
		t.Errorf("body = %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing query: status = %d, want 400", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/search?q=hollow&platform=dreamcast", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown platform: status = %d, want 400", w.Code)
	}
}

func TestBestPrice(t *testing.T) {
	games := &fakeGames{best: &models.PriceSnapshot{GameID: "steam:367520", Price: 24.99}}
	router := newTestServer(&fakeTracker{}, &fakeRegistry{}, games, &fakeSearcher{})

	w := doJSON(t, router, http.MethodGet, "/api/games/steam:367520/best-price", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"window_days":180`) {
		t.Errorf("body = %s, want default 180-day window", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/games/steam:367520/best-price?days=30", nil)
	if !strings.Contains(w.Body.String(), `"window_days":30`) {
		t.Errorf("body = %s, want 30-day window", w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/games/steam:367520/best-price?days=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad days: status = %d, want 400", w.Code)
	}

	games.bestErr = models.ErrGameNotFound
	games.best = nil
	w = doJSON(t, router, http.MethodGet, "/api/games/steam:999/best-price", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("empty window: status = %d, want 404", w.Code)
	}
}

func TestTriggerSweep(t *testing.T) {
	tracker := &fakeTracker{}
	router := newTestServer(tracker, &fakeRegistry{}, &fakeGames{}, &fakeSearcher{})

	w := doJSON(t, router, http.MethodPost, "/sweep", nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
}

func TestListPlatforms(t *testing.T) {
	router := newTestServer(&fakeTracker{}, &fakeRegistry{}, &fakeGames{}, &fakeSearcher{})
	w := doJSON(t, router, http.MethodGet, "/api/platforms", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), scraper.PlatformSteam) {
		t.Errorf("body = %s, want steam listed", w.Body.String())
	}
}
