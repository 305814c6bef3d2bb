package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.True(t, cfg.PortfolioUSD.Equal(decimal.NewFromInt(10000)))
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.StabilityCheck)
	assert.Equal(t, 300, cfg.PositionMonitorMs)
	assert.True(t, cfg.TakeProfitPct.Equal(decimal.NewFromFloat(0.004)))
	assert.True(t, cfg.StopLossPct.Equal(decimal.NewFromFloat(0.0025)))
	assert.Equal(t, "data/fadebot.db", cfg.DatabasePath)
}

func TestLoadSymbolList(t *testing.T) {
	t.Setenv("TRADING_SYMBOLS", "btcusdt, ethusdt ,SOLUSDT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Symbols)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORTFOLIO_USD", "250000")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("STABILITY_CHECK", "no")
	t.Setenv("POSITION_MONITOR_MS", "100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.PortfolioUSD.Equal(decimal.NewFromInt(250000)))
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.StabilityCheck)
	assert.Equal(t, 100, cfg.PositionMonitorMs)
}

func TestLoadBadChatID(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadChatID(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "-1001234567890")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890), cfg.TelegramChatID)
}
