package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pricewatch/game-price-bot/internal/config"
	"github.com/pricewatch/game-price-bot/internal/models"
)

// Scraper is the capability every storefront adapter implements. The engine
// is generic over this interface and never branches on platform identity;
// adding a storefront means adding an implementation and registering it.
type Scraper interface {
	Platform() string
	// Fetch resolves a locator to a normalized snapshot. Failures are
	// always a *Error carrying a Kind. A free game is a valid snapshot
	// with price zero, never an error.
	Fetch(ctx context.Context, locator models.Locator) (models.NormalizedSnapshot, error)
	// Search resolves a human query to candidate locators. Used by the
	// front-end before tracking; never part of the sweep path.
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

const (
	PlatformSteam       = "steam"
	PlatformPlayStation = "playstation"
)

// aliases maps user-facing platform spellings to canonical names.
var aliases = map[string]string{
	"steam":       PlatformSteam,
	"playstation": PlatformPlayStation,
	"psn":         PlatformPlayStation,
	"ps":          PlatformPlayStation,
}

// Registry holds the configured platform scrapers.
type Registry struct {
	scrapers map[string]Scraper
	order    []string
}

// NewRegistry builds scrapers for every supported platform.
func NewRegistry(cfg *config.Config, selectors SelectorConfig) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper)}
	r.register(NewSteam(cfg, selectors.Steam))
	r.register(NewPlayStation(cfg))
	return r
}

// NewRegistryWith wires explicit scrapers; used by tests.
func NewRegistryWith(scrapers ...Scraper) *Registry {
	r := &Registry{scrapers: make(map[string]Scraper)}
	for _, s := range scrapers {
		r.register(s)
	}
	return r
}

func (r *Registry) register(s Scraper) {
	r.scrapers[s.Platform()] = s
	r.order = append(r.order, s.Platform())
}

// Get resolves a platform name or alias to its scraper.
func (r *Registry) Get(platform string) (Scraper, error) {
	name := strings.ToLower(strings.TrimSpace(platform))
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	s, ok := r.scrapers[name]
	if !ok {
		return nil, fmt.Errorf("platform %q not supported (available: %s)", platform, strings.Join(r.Platforms(), ", "))
	}
	return s, nil
}

// Platforms lists the canonical supported platform names.
func (r *Registry) Platforms() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Fetch dispatches a locator to the scraper for its platform.
func (r *Registry) Fetch(ctx context.Context, locator models.Locator) (models.NormalizedSnapshot, error) {
	s, err := r.Get(locator.Platform)
	if err != nil {
		return models.NormalizedSnapshot{}, err
	}
	return s.Fetch(ctx, locator)
}

var (
	steamAppURLRe = regexp.MustCompile(`store\.steampowered\.com/app/(\d+)`)
	psnProductRe  = regexp.MustCompile(`store\.playstation\.com/(?:[a-z]{2}-[a-z]{2}/)?(?:product|concept)/([A-Za-z0-9._-]+)`)
)

// LocatorFromURL maps a storefront product URL to a locator. This is how the
// track command resolves what the user pasted.
func LocatorFromURL(rawURL string) (models.Locator, error) {
	if m := steamAppURLRe.FindStringSubmatch(rawURL); m != nil {
		return models.Locator{Platform: PlatformSteam, ProductID: m[1]}, nil
	}
	if m := psnProductRe.FindStringSubmatch(rawURL); m != nil {
		return models.Locator{Platform: PlatformPlayStation, ProductID: m[1]}, nil
	}
	return models.Locator{}, fmt.Errorf("unrecognized store URL %q", rawURL)
}
