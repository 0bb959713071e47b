package main

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds everything the service reads from the environment, assembled
// once at startup.
type Config struct {
	Port string

	RedisURL string

	ChannelSecret      string
	ChannelAccessToken string
	LineAPIBase        string

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string
	InstallationID     string

	CalendarID string
	TimeZone   string
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		ChannelSecret:      strings.TrimSpace(os.Getenv("LINE_CHANNEL_SECRET")),
		ChannelAccessToken: strings.TrimSpace(os.Getenv("LINE_CHANNEL_ACCESS_TOKEN")),
		LineAPIBase:        strings.TrimSpace(os.Getenv("LINE_API_BASE")),
		GoogleClientID:     strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID")),
		GoogleClientSecret: strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_SECRET")),
		OAuthRedirectURL:   getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/oauth/callback"),
		InstallationID:     getEnv("INSTALLATION_ID", "default"),
		CalendarID:         getEnv("CALENDAR_ID", "primary"),
		TimeZone:           getEnv("TIMEZONE", "Asia/Taipei"),
	}

	if cfg.ChannelSecret == "" {
		return nil, fmt.Errorf("LINE_CHANNEL_SECRET environment variable is required")
	}
	if cfg.ChannelAccessToken == "" {
		return nil, fmt.Errorf("LINE_CHANNEL_ACCESS_TOKEN environment variable is required")
	}
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables are required")
	}

	return cfg, nil
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}
