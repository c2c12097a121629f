package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Client wraps an optional Gemini model that normalizes scraped game titles.
// Storefront titles carry edition suffixes, trademark glyphs and promo text
// ("GAME™ — Deluxe Edition | Now 75% off!") that look bad in DMs.
// A nil *Client is valid and degrades to the raw title.
type Client struct {
	model *genai.GenerativeModel
}

type titleResult struct {
	CleanTitle string `json:"clean_title"`
}

func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelID)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"clean_title": {
				Type:        genai.TypeString,
				Description: "The game's plain title. Strip edition suffixes, trademark symbols, platform tags and promotional text. Keep the base title and, when relevant, the edition name.",
			},
		},
		Required: []string{"clean_title"},
	}

	return &Client{model: model}, nil
}

// CleanTitle returns a normalized title for display. On any failure (or with
// a nil client) the raw title is returned so notifications never block on
// the model.
func (c *Client) CleanTitle(ctx context.Context, rawTitle string) string {
	if c == nil || c.model == nil || strings.TrimSpace(rawTitle) == "" {
		return rawTitle
	}

	prompt := fmt.Sprintf(`Normalize this storefront game title for display in a notification: %q.
Remove trademark glyphs, storefront promo text and redundant platform tags. Output JSON adhering to the schema.`, rawTitle)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return rawTitle
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		txt, ok := part.(genai.Text)
		if !ok {
			continue
		}
		jsonStr := strings.TrimSpace(string(txt))
		jsonStr = strings.TrimPrefix(jsonStr, "```json")
		jsonStr = strings.TrimPrefix(jsonStr, "```")
		jsonStr = strings.TrimSuffix(jsonStr, "```")

		var result titleResult
		if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
			return rawTitle
		}
		if cleaned := strings.TrimSpace(result.CleanTitle); cleaned != "" {
			return cleaned
		}
	}
	return rawTitle
}
