package scraper

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

//go:embed selectors.json
var embeddedSelectors embed.FS

// SelectorConfig externalizes the CSS selectors used by HTML scrapers so a
// storefront layout change can be fixed without a rebuild.
type SelectorConfig struct {
	Steam SteamSelectors `json:"steam"`
}

type SteamSelectors struct {
	App    SteamAppSelectors    `json:"app"`
	Search SteamSearchSelectors `json:"search"`
}

type SteamAppSelectors struct {
	Title         string `json:"title"`
	PurchaseBlock string `json:"purchase_block"`
	Price         string `json:"price"`
	FinalPrice    string `json:"final_price"`
	OriginalPrice string `json:"original_price"`
	DiscountPct   string `json:"discount_pct"`
	HeaderImage   string `json:"header_image"`
}

type SteamSearchSelectors struct {
	Row           string `json:"row"`
	Title         string `json:"title"`
	FinalPrice    string `json:"final_price"`
	OriginalPrice string `json:"original_price"`
	Image         string `json:"image"`
}

// LoadSelectors tries the embedded config first, then the path from
// SELECTORS_CONFIG_PATH, then the hardcoded defaults.
func LoadSelectors() SelectorConfig {
	if data, err := embeddedSelectors.ReadFile("selectors.json"); err == nil {
		sel, parseErr := parseSelectors(data)
		if parseErr == nil {
			return sel
		}
		slog.Warn("Embedded selectors failed to parse. Trying file fallback.", "error", parseErr)
	}

	if path := os.Getenv("SELECTORS_CONFIG_PATH"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if sel, parseErr := parseSelectors(data); parseErr == nil {
				slog.Info("Loaded selectors from external file", "path", path)
				return sel
			}
		} else {
			slog.Warn("Failed to read external selectors", "path", path, "error", err)
		}
	}

	slog.Info("Using hardcoded default selectors")
	return DefaultSelectors()
}

func parseSelectors(data []byte) (SelectorConfig, error) {
	var cfg SelectorConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	return cfg, nil
}

// DefaultSelectors is the fallback if no JSON config can be loaded. Keep it
// in sync with the embedded selectors.json.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Steam: SteamSelectors{
			App: SteamAppSelectors{
				Title:         ".apphub_AppName",
				PurchaseBlock: ".game_area_purchase_game_wrapper",
				Price:         ".game_purchase_price",
				FinalPrice:    ".discount_final_price",
				OriginalPrice: ".discount_original_price",
				DiscountPct:   ".discount_pct",
				HeaderImage:   "img.game_header_image_full",
			},
			Search: SteamSearchSelectors{
				Row:           "#search_resultsRows > a",
				Title:         ".title",
				FinalPrice:    ".discount_final_price",
				OriginalPrice: ".discount_original_price",
				Image:         ".search_capsule img",
			},
		},
	}
}
