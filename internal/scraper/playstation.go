package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/pricewatch/game-price-bot/internal/config"
	"github.com/pricewatch/game-price-bot/internal/models"
	"github.com/pricewatch/game-price-bot/internal/util"
)

const psnBaseURL = "https://store.playstation.com"

// PSN page selectors. The store is a JS app, so these only exist after
// rendering; that is why this scraper drives a headless browser instead of
// goquery.
const (
	psnTitleSel    = `h1[data-qa="mfe-game-title#name"]`
	psnPriceSel    = `span[data-qa="mfeCtaMain#offer0#finalPrice"]`
	psnOriginalSel = `span[data-qa="mfeCtaMain#offer0#originalPrice"]`
	psnDiscountSel = `span[data-qa="mfeCtaMain#offer0#discountInfo"]`
)

// PlayStation scrapes the PlayStation store with chromedp.
type PlayStation struct {
	headless bool
	locale   string
	currency string
	limiter  *rate.Limiter
	timeout  time.Duration
}

func NewPlayStation(cfg *config.Config) *PlayStation {
	locale := "en-us"
	if cfg.StoreRegion == "br" {
		locale = "pt-br"
	}
	return &PlayStation{
		headless: cfg.Headless,
		locale:   locale,
		currency: cfg.StoreCurrency,
		// Browser navigation is heavy; one page every two seconds.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		timeout: 45 * time.Second,
	}
}

func (p *PlayStation) Platform() string { return PlatformPlayStation }

func (p *PlayStation) Fetch(ctx context.Context, locator models.Locator) (models.NormalizedSnapshot, error) {
	pageURL := fmt.Sprintf("%s/%s/product/%s", psnBaseURL, p.locale, locator.ProductID)

	var title, priceText, originalText, discountText string
	var notFound bool
	err := p.run(ctx, pageURL, []chromedp.Action{
		chromedp.WaitReady("body"),
		// The store renders an error page with no title element for dead
		// product IDs; probe for it before waiting on the price.
		chromedp.Evaluate(`document.querySelector('h1[data-qa="mfe-game-title#name"]') === null && document.title.toLowerCase().includes('page not found')`, &notFound),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if notFound {
				return errProductGone
			}
			return nil
		}),
		chromedp.WaitVisible(psnPriceSel, chromedp.ByQuery),
		chromedp.Text(psnTitleSel, &title, chromedp.ByQuery),
		chromedp.Text(psnPriceSel, &priceText, chromedp.ByQuery),
		chromedp.Evaluate(textOrEmpty(psnOriginalSel), &originalText),
		chromedp.Evaluate(textOrEmpty(psnDiscountSel), &discountText),
	})
	if err != nil {
		if errors.Is(err, errProductGone) {
			return models.NormalizedSnapshot{}, NewNotFound(PlatformPlayStation, fmt.Errorf("product %s no longer resolves", locator.ProductID))
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.NormalizedSnapshot{}, NewTransient(PlatformPlayStation, err)
		}
		return models.NormalizedSnapshot{}, NewTransient(PlatformPlayStation, fmt.Errorf("rendering %s: %w", pageURL, err))
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return models.NormalizedSnapshot{}, NewParseFailure(PlatformPlayStation, fmt.Errorf("no title rendered at %s", pageURL))
	}
	price, perr := util.ParsePrice(priceText)
	if perr != nil {
		return models.NormalizedSnapshot{}, NewParseFailure(PlatformPlayStation, fmt.Errorf("price at %s: %w", pageURL, perr))
	}

	snap := models.NormalizedSnapshot{
		Title:         title,
		URL:           pageURL,
		Price:         price,
		OriginalPrice: price,
		Currency:      p.currency,
	}
	if strings.TrimSpace(originalText) != "" {
		if orig, err := util.ParsePrice(originalText); err == nil && orig > price {
			snap.OriginalPrice = orig
			snap.OnSale = true
			snap.DiscountPercent = util.ParseDiscount(discountText)
		}
	}
	return snap, nil
}

type psnSearchHit struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
	Image string `json:"image"`
}

func (p *PlayStation) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	searchURL := fmt.Sprintf("%s/%s/search/%s", psnBaseURL, p.locale, strings.ReplaceAll(strings.TrimSpace(query), " ", "%20"))

	// Collect the rendered result tiles in one evaluation rather than a
	// node walk; the tile markup changes more often than the data-qa ids.
	const collect = `Array.from(document.querySelectorAll('a[href*="/product/"]')).slice(0, 10).map(a => {
		const m = a.href.match(/\/product\/([^/?#]+)/);
		return {
			id: m ? m[1] : '',
			title: (a.querySelector('[data-qa$="product-name"]') || {textContent: ''}).textContent,
			price: (a.querySelector('[data-qa$="display-price"]') || {textContent: ''}).textContent,
			image: (a.querySelector('img') || {src: ''}).src || ''
		};
	}).filter(r => r.id && r.title)`

	var hits []psnSearchHit
	err := p.run(ctx, searchURL, []chromedp.Action{
		chromedp.WaitReady("body"),
		chromedp.Sleep(2 * time.Second), // let the tile grid hydrate
		chromedp.Evaluate(collect, &hits),
	})
	if err != nil {
		return nil, NewTransient(PlatformPlayStation, fmt.Errorf("searching %q: %w", query, err))
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		result := models.SearchResult{
			Locator:  models.Locator{Platform: PlatformPlayStation, ProductID: hit.ID},
			Title:    strings.TrimSpace(hit.Title),
			URL:      fmt.Sprintf("%s/%s/product/%s", psnBaseURL, p.locale, hit.ID),
			ImageURL: hit.Image,
			Currency: p.currency,
		}
		if price, err := util.ParsePrice(hit.Price); err == nil {
			result.Price = price
		}
		results = append(results, result)
		if len(results) == 5 {
			break
		}
	}
	return results, nil
}

var errProductGone = errors.New("product page not found")

// run navigates to pageURL in a fresh headless browser context and executes
// the actions under this scraper's timeout.
func (p *PlayStation) run(parent context.Context, pageURL string, actions []chromedp.Action) error {
	if err := p.limiter.Wait(parent); err != nil {
		return err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(steamUserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, p.timeout)
	defer cancelRun()

	all := append([]chromedp.Action{chromedp.Navigate(pageURL)}, actions...)
	return chromedp.Run(runCtx, all...)
}

// textOrEmpty builds a JS expression returning an element's text or "".
func textOrEmpty(selector string) string {
	return fmt.Sprintf(`(document.querySelector(%q) || {textContent: ''}).textContent`, selector)
}
