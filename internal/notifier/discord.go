package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pricewatch/game-price-bot/internal/ai"
	"github.com/pricewatch/game-price-bot/internal/models"
)

const (
	defaultAPIBase = "https://discord.com/api/v10"

	colorSale   = 5763719  // #57F287 (green)
	colorTarget = 16705372 // #FEE75C (yellow)
)

// Client delivers price alerts as Discord DMs through the bot REST API:
// open (or reuse) the DM channel for the user, then post an embed.
type Client struct {
	token   string
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
	titles  *ai.Client // optional; nil degrades to raw titles

	// Sends for different games run concurrently during a sweep, so the
	// DM channel cache needs its own lock.
	mu       sync.Mutex
	channels map[string]string // userID -> DM channel ID
}

func New(botToken string) *Client {
	return &Client{
		token:   botToken,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		// Discord allows bursts but sustained DM sends get rate
		// limited fast; one per second matches the old bot's pacing.
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		channels: make(map[string]string),
	}
}

// NewWithBase is used by tests to point the client at a fake Discord API.
func NewWithBase(botToken, apiBase string) *Client {
	c := New(botToken)
	c.apiBase = apiBase
	return c
}

// WithTitleCleaner attaches an optional Gemini title normalizer.
func (c *Client) WithTitleCleaner(titles *ai.Client) *Client {
	c.titles = titles
	return c
}

// Send delivers a price alert to the user. Any failure is a delivery error
// the engine treats as retryable on the next sweep.
func (c *Client) Send(ctx context.Context, userID string, alert models.PriceAlert) error {
	if c.token == "" {
		// Notifications disabled; skip silently rather than fail
		// every rule.
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	channelID, err := c.dmChannel(ctx, userID)
	if err != nil {
		return fmt.Errorf("opening DM channel for %s: %w", userID, err)
	}

	alert.GameTitle = c.titles.CleanTitle(ctx, alert.GameTitle)

	payload := messagePayload{Embeds: []discordEmbed{formatAlertEmbed(alert)}}
	var resp struct{}
	if err := c.post(ctx, fmt.Sprintf("%s/channels/%s/messages", c.apiBase, channelID), payload, &resp); err != nil {
		return fmt.Errorf("sending DM to %s: %w", userID, err)
	}
	return nil
}

// dmChannel resolves (and caches) the DM channel for a user.
func (c *Client) dmChannel(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	id, ok := c.channels[userID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var channel struct {
		ID string `json:"id"`
	}
	body := map[string]string{"recipient_id": userID}
	if err := c.post(ctx, c.apiBase+"/users/@me/channels", body, &channel); err != nil {
		return "", err
	}
	if channel.ID == "" {
		return "", fmt.Errorf("discord returned empty channel ID for user %s", userID)
	}
	c.mu.Lock()
	c.channels[userID] = channel.ID
	c.mu.Unlock()
	return channel.ID, nil
}

type messagePayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

func formatAlertEmbed(alert models.PriceAlert) discordEmbed {
	fields := []discordEmbedField{
		{Name: "Platform", Value: alert.Platform, Inline: true},
		{Name: "Price", Value: formatPrice(alert.Currency, alert.NewPrice), Inline: true},
	}
	if alert.OriginalPrice > alert.NewPrice {
		fields = append(fields,
			discordEmbedField{Name: "Was", Value: formatPrice(alert.Currency, alert.OriginalPrice), Inline: true},
			discordEmbedField{Name: "Discount", Value: fmt.Sprintf("%d%% OFF", alert.DiscountPercent), Inline: true},
		)
	}

	color := colorSale
	if alert.TargetPrice != nil {
		fields = append(fields, discordEmbedField{
			Name: "Your target", Value: formatPrice(alert.Currency, *alert.TargetPrice), Inline: true,
		})
		color = colorTarget
	}

	return discordEmbed{
		Title:       fmt.Sprintf("%s is on sale!", alert.GameTitle),
		URL:         alert.URL,
		Description: fmt.Sprintf("[Open store page](%s)", alert.URL),
		Color:       color,
		Fields:      fields,
	}
}

func formatPrice(currency string, value float64) string {
	if value == 0 {
		return "Free"
	}
	return fmt.Sprintf("%s %.2f", currency, value)
}

func (c *Client) post(ctx context.Context, url string, payload any, out any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("decoding discord response: %w", err)
		}
	}
	return nil
}
