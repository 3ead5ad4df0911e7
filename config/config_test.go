package config_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-ledger/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "rewards.db", cfg.SQLitePath)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.CardBonus.Equal(decimal.NewFromInt(500)))
	assert.True(t, cfg.ReferralBonus.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("ADMIN_IDS", "TG1, TG2,,")
	t.Setenv("CARD_BONUS", "750.50")
	t.Setenv("LOCK_WAIT", "500ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseDriver)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"TG1", "TG2"}, cfg.AdminIDs)
	assert.True(t, cfg.CardBonus.Equal(decimal.RequireFromString("750.50")))
	assert.Equal(t, 500*time.Millisecond, cfg.LockWait)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing session secret", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("postgres requires a DSN", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "test-secret")
		t.Setenv("DATABASE_DRIVER", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "test-secret")
		t.Setenv("DATABASE_DRIVER", "oracle")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("bad port", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "test-secret")
		t.Setenv("PORT", "eighty")
		_, err := config.Load()
		assert.Error(t, err)
	})
}
