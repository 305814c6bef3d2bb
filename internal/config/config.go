package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Trading
	Symbols      []string
	PortfolioUSD decimal.Decimal

	// Mode
	DryRun bool
	Debug  bool

	// Entry/exit brackets as fractions of entry price
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal

	// Execution
	StabilityCheck    bool
	PositionMonitorMs int

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Persistence
	DatabasePath string
	DatabaseURL  string
	RedisURL     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Symbols:      getEnvList("TRADING_SYMBOLS", []string{"BTCUSDT"}),
		PortfolioUSD: getEnvDecimal("PORTFOLIO_USD", decimal.NewFromFloat(10000)),

		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		TakeProfitPct: getEnvDecimal("TAKE_PROFIT_PCT", decimal.NewFromFloat(0.004)),
		StopLossPct:   getEnvDecimal("STOP_LOSS_PCT", decimal.NewFromFloat(0.0025)),

		StabilityCheck:    getEnvBool("STABILITY_CHECK", true),
		PositionMonitorMs: getEnvInt("POSITION_MONITOR_MS", 300),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/fadebot.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("TRADING_SYMBOLS must name at least one symbol")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(strings.ToUpper(p)); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
