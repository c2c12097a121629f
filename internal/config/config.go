package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds every recognized runtime option. Values come from the
// environment; main loads .env first via godotenv.
type Config struct {
	ProjectID       string
	DiscordBotToken string
	Port            string

	// Tracking engine knobs.
	CooldownInterval time.Duration
	SweepConcurrency int
	SweepTimeout     time.Duration
	ScrapeRetries    int
	ScrapeBackoff    time.Duration

	// Daily sweep schedule (local time of the process).
	NotificationHour   int
	NotificationMinute int

	// Scraper knobs.
	Headless      bool
	StoreRegion   string
	StoreCurrency string

	// Optional Gemini title cleanup.
	GeminiAPIKey string
}

func Load() (*Config, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required but not set")
	}

	botToken := os.Getenv("DISCORD_BOT_TOKEN")
	if botToken == "" {
		slog.Warn("DISCORD_BOT_TOKEN not set, Discord notifications will be skipped")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		slog.Info("Defaulting to port", "port", port)
	}

	cooldownHours, err := intEnv("COOLDOWN_HOURS", 24)
	if err != nil {
		return nil, err
	}
	if cooldownHours <= 0 {
		return nil, fmt.Errorf("COOLDOWN_HOURS must be positive, got %d", cooldownHours)
	}

	concurrency, err := intEnv("SWEEP_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("SWEEP_CONCURRENCY must be positive, got %d", concurrency)
	}

	sweepTimeout, err := durationEnv("SWEEP_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	retries, err := intEnv("SCRAPE_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	backoff, err := durationEnv("SCRAPE_RETRY_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, err
	}

	hour, err := intEnv("NOTIFICATION_HOUR", 15)
	if err != nil {
		return nil, err
	}
	minute, err := intEnv("NOTIFICATION_MINUTE", 0)
	if err != nil {
		return nil, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid schedule %02d:%02d", hour, minute)
	}

	headless := true
	if v := os.Getenv("HEADLESS"); v != "" {
		headless = v == "true" || v == "1"
	}

	region := os.Getenv("STORE_REGION")
	if region == "" {
		region = "br"
	}
	currency := os.Getenv("STORE_CURRENCY")
	if currency == "" {
		currency = "BRL"
	}

	return &Config{
		ProjectID:          projectID,
		DiscordBotToken:    botToken,
		Port:               port,
		CooldownInterval:   time.Duration(cooldownHours) * time.Hour,
		SweepConcurrency:   concurrency,
		SweepTimeout:       sweepTimeout,
		ScrapeRetries:      retries,
		ScrapeBackoff:      backoff,
		NotificationHour:   hour,
		NotificationMinute: minute,
		Headless:           headless,
		StoreRegion:        region,
		StoreCurrency:      currency,
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
	}, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return parsed, nil
}
