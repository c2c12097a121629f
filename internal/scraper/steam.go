package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/pricewatch/game-price-bot/internal/config"
	"github.com/pricewatch/game-price-bot/internal/models"
	"github.com/pricewatch/game-price-bot/internal/util"
)

const (
	steamBaseURL   = "https://store.steampowered.com"
	steamUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Steam scrapes the Steam store. Its pages are server-rendered, so a plain
// HTTP client plus goquery is enough; no browser needed.
type Steam struct {
	httpClient *http.Client
	selectors  SteamSelectors
	baseURL    string
	region     string
	currency   string
	limiter    *rate.Limiter
}

func NewSteam(cfg *config.Config, selectors SteamSelectors) *Steam {
	return &Steam{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		selectors:  selectors,
		baseURL:    steamBaseURL,
		region:     cfg.StoreRegion,
		currency:   cfg.StoreCurrency,
		// One page per second keeps us well under Steam's limits.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (s *Steam) Platform() string { return PlatformSteam }

func (s *Steam) Fetch(ctx context.Context, locator models.Locator) (models.NormalizedSnapshot, error) {
	pageURL := fmt.Sprintf("%s/app/%s/?cc=%s", s.baseURL, locator.ProductID, s.region)
	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return models.NormalizedSnapshot{}, err
	}

	title := strings.TrimSpace(doc.Find(s.selectors.App.Title).First().Text())
	if title == "" {
		// The page came back 200 but without an app header: either an
		// age gate, a regional redirect, or a layout change.
		return models.NormalizedSnapshot{}, NewParseFailure(PlatformSteam, fmt.Errorf("no title at %s (selector %q)", pageURL, s.selectors.App.Title))
	}

	snap := models.NormalizedSnapshot{
		Title:    title,
		URL:      fmt.Sprintf("%s/app/%s/", s.baseURL, locator.ProductID),
		Currency: s.currency,
	}

	if img, ok := doc.Find(s.selectors.App.HeaderImage).First().Attr("src"); ok {
		snap.ImageURL = img
	}

	purchase := doc.Find(s.selectors.App.PurchaseBlock).First()
	if purchase.Length() == 0 {
		// Some pages (free to play) put the price outside a purchase
		// wrapper; fall back to the whole document.
		purchase = doc.Selection
	}

	if discounted := purchase.Find(s.selectors.App.FinalPrice).First(); discounted.Length() > 0 {
		price, err := util.ParsePrice(discounted.Text())
		if err != nil {
			return models.NormalizedSnapshot{}, NewParseFailure(PlatformSteam, fmt.Errorf("discounted price at %s: %w", pageURL, err))
		}
		snap.Price = price
		snap.OnSale = true
		snap.OriginalPrice = price
		if orig := purchase.Find(s.selectors.App.OriginalPrice).First(); orig.Length() > 0 {
			if parsed, err := util.ParsePrice(orig.Text()); err == nil {
				snap.OriginalPrice = parsed
			}
		}
		snap.DiscountPercent = util.ParseDiscount(purchase.Find(s.selectors.App.DiscountPct).First().Text())
		return snap, nil
	}

	plain := purchase.Find(s.selectors.App.Price).First()
	if plain.Length() == 0 {
		return models.NormalizedSnapshot{}, NewParseFailure(PlatformSteam, fmt.Errorf("no price element at %s", pageURL))
	}
	price, err := util.ParsePrice(plain.Text())
	if err != nil {
		return models.NormalizedSnapshot{}, NewParseFailure(PlatformSteam, fmt.Errorf("price at %s: %w", pageURL, err))
	}
	snap.Price = price
	snap.OriginalPrice = price
	return snap, nil
}

func (s *Steam) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	searchURL := fmt.Sprintf("%s/search/?term=%s&cc=%s", s.baseURL, url.QueryEscape(query), s.region)
	doc, err := s.fetchDocument(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult
	doc.Find(s.selectors.Search.Row).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		appID, ok := row.Attr("data-ds-appid")
		if !ok || appID == "" {
			return true
		}
		result := models.SearchResult{
			Locator:  models.Locator{Platform: PlatformSteam, ProductID: appID},
			Title:    strings.TrimSpace(row.Find(s.selectors.Search.Title).First().Text()),
			URL:      fmt.Sprintf("%s/app/%s/", s.baseURL, appID),
			Currency: s.currency,
		}
		if img, ok := row.Find(s.selectors.Search.Image).First().Attr("src"); ok {
			result.ImageURL = img
		}
		if final := row.Find(s.selectors.Search.FinalPrice).First(); final.Length() > 0 {
			if price, err := util.ParsePrice(final.Text()); err == nil {
				result.Price = price
			}
			result.OnSale = row.Find(s.selectors.Search.OriginalPrice).Length() > 0
		}
		results = append(results, result)
		return len(results) < 5 // top results only, like the wishlist flow needs
	})

	return results, nil
}

func (s *Steam) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, NewTransient(PlatformSteam, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, NewTransient(PlatformSteam, fmt.Errorf("building request for %s: %w", pageURL, err))
	}
	req.Header.Set("User-Agent", steamUserAgent)
	// Skip the age gate so mature-rated pages still render a price.
	req.Header.Set("Cookie", "birthtime=568022401; mature_content=1")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, NewTransient(PlatformSteam, fmt.Errorf("fetching %s: %w", pageURL, err))
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return nil, NewNotFound(PlatformSteam, fmt.Errorf("%s returned %d", pageURL, res.StatusCode))
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, NewTransient(PlatformSteam, fmt.Errorf("%s returned %d", pageURL, res.StatusCode))
	default:
		return nil, NewParseFailure(PlatformSteam, fmt.Errorf("%s returned unexpected status %d", pageURL, res.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, NewParseFailure(PlatformSteam, fmt.Errorf("parsing %s: %w", pageURL, err))
	}
	return doc, nil
}
