package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pricewatch/game-price-bot/internal/engine"
	"github.com/pricewatch/game-price-bot/internal/models"
	"github.com/pricewatch/game-price-bot/internal/scraper"
)

// Tracker is the engine surface the API needs.
type Tracker interface {
	Sweep(ctx context.Context) (engine.SweepReport, error)
	Lookup(ctx context.Context, locator models.Locator) (*models.Game, *models.PriceSnapshot, error)
	EvaluateOnDemand(ctx context.Context, gameID string) (int, error)
}

// Registry is the tracking-rule surface the API needs.
type Registry interface {
	CreateRule(ctx context.Context, rule models.TrackingRule) (*models.TrackingRule, error)
	DeleteRule(ctx context.Context, userID, gameID string) error
	RulesForUser(ctx context.Context, userID string) ([]models.TrackingRule, error)
}

// GameReader is the read-only price-store surface the API needs.
type GameReader interface {
	GetGame(ctx context.Context, gameID string) (*models.Game, error)
	BestPrice(ctx context.Context, gameID string, windowDays int) (*models.PriceSnapshot, error)
}

// Searcher resolves platform names to their scrapers for search queries.
type Searcher interface {
	Get(platform string) (scraper.Scraper, error)
	Platforms() []string
}

type Server struct {
	tracker  Tracker
	registry Registry
	games    GameReader
	search   Searcher
}

func NewServer(tracker Tracker, registry Registry, games GameReader, search Searcher) *Server {
	return &Server{tracker: tracker, registry: registry, games: games, search: search}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/sweep", s.triggerSweep)

	api := r.Group("/api")
	{
		api.POST("/tracking", s.createTracking)
		api.GET("/users/:user/tracking", s.listTracking)
		api.DELETE("/users/:user/tracking/:game", s.deleteTracking)
		api.GET("/price", s.getPrice)
		api.GET("/search", s.searchGames)
		api.GET("/games/:game/best-price", s.bestPrice)
		api.GET("/platforms", s.listPlatforms)
	}
	return r
}

// triggerSweep starts a sweep in the background and returns immediately; a
// sweep can outlive any sane request timeout. Mirrors how the scheduler
// trigger behaves.
func (s *Server) triggerSweep(c *gin.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic in sweep", "panic", r)
			}
		}()
		if _, err := s.tracker.Sweep(context.Background()); err != nil && !errors.Is(err, models.ErrSweepInProgress) {
			slog.Error("Sweep failed", "error", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "sweep started"})
}

type createTrackingRequest struct {
	UserID          string   `json:"user_id" binding:"required"`
	URL             string   `json:"url" binding:"required,url"`
	TargetPrice     *float64 `json:"target_price" binding:"omitempty,gte=0"`
	NotifyOnAnySale bool     `json:"notify_on_any_sale"`
}

func (s *Server) createTracking(c *gin.Context) {
	var req createTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	locator, err := scraper.LocatorFromURL(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Materialize (or refresh) the game before attaching a rule so the
	// wishlist has a price to show and on-demand evaluation has a
	// snapshot to work with.
	game, _, err := s.tracker.Lookup(c.Request.Context(), locator)
	if err != nil {
		s.renderScrapeError(c, err)
		return
	}

	rule, err := s.registry.CreateRule(c.Request.Context(), models.TrackingRule{
		UserID:          req.UserID,
		GameID:          game.ID,
		TargetPrice:     req.TargetPrice,
		NotifyOnAnySale: req.NotifyOnAnySale,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		if errors.Is(err, models.ErrInertRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "set a target price or enable notify_on_any_sale; this rule would never notify"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// A game already on sale should notify right away, not at the next
	// sweep. Still goes through the cooldown gate.
	if _, err := s.tracker.EvaluateOnDemand(c.Request.Context(), game.ID); err != nil {
		slog.Warn("On-demand evaluation after tracking failed", "game", game.ID, "error", err)
	}

	c.JSON(http.StatusCreated, gin.H{"rule": rule, "game": game})
}

func (s *Server) deleteTracking(c *gin.Context) {
	err := s.registry.DeleteRule(c.Request.Context(), c.Param("user"), c.Param("game"))
	if err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "you are not tracking this game"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listTracking(c *gin.Context) {
	rules, err := s.registry.RulesForUser(c.Request.Context(), c.Param("user"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tracked := make([]models.TrackedGame, 0, len(rules))
	for _, rule := range rules {
		game, err := s.games.GetGame(c.Request.Context(), rule.GameID)
		if err != nil {
			// A rule without a game record is an anomaly worth
			// logging, but it should not hide the rest of the list.
			slog.Warn("Tracked game missing from price store", "rule", rule.ID, "error", err)
			continue
		}
		tracked = append(tracked, models.TrackedGame{Rule: rule, Game: *game})
	}
	c.JSON(http.StatusOK, gin.H{"tracking": tracked})
}

func (s *Server) getPrice(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}
	locator, err := scraper.LocatorFromURL(rawURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, snap, err := s.tracker.Lookup(c.Request.Context(), locator)
	if err != nil {
		s.renderScrapeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"game": game, "snapshot": snap})
}

func (s *Server) searchGames(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q query parameter is required"})
		return
	}
	platform := c.DefaultQuery("platform", scraper.PlatformSteam)

	sc, err := s.search.Get(platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := sc.Search(c.Request.Context(), query)
	if err != nil {
		s.renderScrapeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) bestPrice(c *gin.Context) {
	days := 180
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	best, err := s.games.BestPrice(c.Request.Context(), c.Param("game"), days)
	if err != nil {
		if errors.Is(err, models.ErrGameNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no price history in that window"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"best": best, "window_days": days})
}

func (s *Server) listPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.search.Platforms()})
}

// renderScrapeError maps the scrape error taxonomy onto response codes so
// callers can tell "gone" from "try again later".
func (s *Server) renderScrapeError(c *gin.Context, err error) {
	switch scraper.KindOf(err) {
	case scraper.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found on the storefront"})
	case scraper.KindParseFailure:
		c.JSON(http.StatusBadGateway, gin.H{"error": "storefront page could not be read"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storefront temporarily unavailable"})
	}
}
