// Package config loads application configuration from environment
// variables, with defaults suitable for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// HTTP server
	Port           int
	AllowedOrigins []string // CORS

	// Storage: "sqlite" (default), "postgres" or "memory"
	DatabaseDriver string
	SQLitePath     string
	DatabaseURL    string // Postgres DSN

	// Auth
	SessionSecret string
	SessionTTL    time.Duration
	AdminIDs      []string // bootstrap allow-list

	// Notifications; empty token disables the notifier
	TelegramBotToken string

	// Ledger policy
	CardBonus     decimal.Decimal
	ReferralBonus decimal.Decimal
	LockWait      time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             8080,
		AllowedOrigins:   []string{"*"},
		DatabaseDriver:   "sqlite",
		SQLitePath:       "rewards.db",
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SessionSecret:    os.Getenv("SESSION_SECRET"),
		SessionTTL:       24 * time.Hour,
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		CardBonus:        decimal.NewFromInt(500),
		ReferralBonus:    decimal.NewFromInt(200),
		LockWait:         3 * time.Second,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.DatabaseDriver = driver
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.SQLitePath = path
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	if ids := os.Getenv("ADMIN_IDS"); ids != "" {
		for _, id := range strings.Split(ids, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.AdminIDs = append(cfg.AdminIDs, id)
			}
		}
	}
	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}
	if raw := os.Getenv("CARD_BONUS"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CARD_BONUS: %w", err)
		}
		cfg.CardBonus = d
	}
	if raw := os.Getenv("REFERRAL_BONUS"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REFERRAL_BONUS: %w", err)
		}
		cfg.ReferralBonus = d
	}
	if wait := os.Getenv("LOCK_WAIT"); wait != "" {
		d, err := time.ParseDuration(wait)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCK_WAIT: %w", err)
		}
		cfg.LockWait = d
	}

	switch cfg.DatabaseDriver {
	case "sqlite", "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required with DATABASE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	return cfg, nil
}
