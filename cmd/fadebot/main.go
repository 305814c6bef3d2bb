// Fadebot - Liquidation-Fade Trading Bot for Binance USDT-M Futures
//
// The bot fades forced liquidation cascades: when a liquidation storm
// drains one side of the book and the drain regime looks like real
// panic rather than spoof cleanup, it enters against the flow with a
// post-only limit and exits on stop, target or time decay.
//
// Pipeline:
// 1. Stream aggTrade / depth / forceOrder / markPrice from Binance
// 2. Adapt the drain threshold to realized volatility and session
// 3. Classify the drain regime (real pressure, panic, spoof, noise)
// 4. Gate through circuit breaker, VPIN toxicity and catastrophe state
// 5. Size by account phase, place adaptive maker limit, manage exits
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fadebot/bot"
	"github.com/web3guy0/fadebot/core"
	"github.com/web3guy0/fadebot/execution"
	"github.com/web3guy0/fadebot/feeds"
	"github.com/web3guy0/fadebot/internal/config"
	"github.com/web3guy0/fadebot/risk"
	"github.com/web3guy0/fadebot/signals"
	"github.com/web3guy0/fadebot/storage"
)

const version = "1.2.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("mode", "liquidation_fade").
		Strs("symbols", cfg.Symbols).
		Bool("dry_run", cfg.DryRun).
		Msg("⚡ Fadebot starting...")

	// ====== STORAGE ======

	journal, err := storage.NewJournal(cfg.DatabasePath, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize trade journal")
	}
	log.Info().Msg("💾 Trade journal ready")

	live, err := storage.NewLiveState(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Redis unavailable - live state publishing disabled")
	} else if live != nil {
		log.Info().Msg("📡 Redis live state publisher connected")
		defer live.Close()
	}

	// ====== SIGNAL PIPELINE ======

	sessions := signals.NewSessionManager()
	thresholds := signals.NewThresholdManager()
	vpin := signals.NewVPINCalculator()

	// ====== RISK ======

	sizer := risk.NewPositionSizer(cfg.PortfolioUSD)
	breaker := risk.NewCircuitBreaker(sessions, vpin)
	exits := risk.NewExitManager()
	catastrophe := risk.NewCatastropheHandler([]string{
		"exchange_connected",
		"market_data_fresh",
		"positions_reconciled",
	})

	// ====== FEED + EXECUTION ======

	feed := feeds.NewBinanceFeed(cfg.Symbols)
	feed.OnDisconnect(func() {
		catastrophe.ReportFailure(risk.FailureExchangeDisconnect, "websocket stream dropped")
	})

	// Paper client only for now; a live Binance order client slots in
	// behind the same interface.
	client := execution.NewPaperClient()
	if !cfg.DryRun {
		log.Warn().Msg("⛔ DRY_RUN=false but no live order client is wired; paper orders will time out unfilled")
	}
	exec := execution.NewEngine(client, feed)
	exec.OnRejection(func(details string) {
		catastrophe.ReportRejection(details)
	})

	// ====== ENGINE ======

	engine := core.NewEngine(cfg, core.Deps{
		Feed:        feed,
		Exec:        exec,
		Sizer:       sizer,
		Breaker:     breaker,
		Catastrophe: catastrophe,
		Exits:       exits,
		Sessions:    sessions,
		Thresholds:  thresholds,
		VPIN:        vpin,
		Journal:     journal,
		Live:        live,
	})

	// ====== TELEGRAM ======

	var tg *bot.TelegramBot
	if cfg.TelegramToken != "" {
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, engine, catastrophe)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		} else {
			engine.SetNotifier(tg)
			tg.Start()
			log.Info().Msg("🤖 Telegram bot started")
		}
	}

	catastrophe.OnTransition(func(from, to risk.CatastropheState, failure risk.FailureType, details string) {
		journal.LogCatastrophe(string(failure), details, string(from), string(to))
		if tg != nil {
			tg.NotifyCatastrophe(from, to, failure)
		}
	})

	engine.Start()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutdown signal received")
	engine.Stop()
	if tg != nil {
		tg.Stop()
	}
	log.Info().Msg("✅ Fadebot stopped")
}
