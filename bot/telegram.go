package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fadebot/risk"
	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Ops notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
//   💰 Trade open/close notifications
//   🚨 Catastrophe state-change alerts
//   🎛️ /status /positions /trades /reset
//
// /reset forwards the typed confirmation to the catastrophe handler -
// the bot never supplies the phrase itself.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatusProvider exposes runtime state for display.
type StatusProvider interface {
	GetStats() (trades, wins, losses int, pnl decimal.Decimal)
	GetOpenPositions() []types.Position
	GetRecentTrades(limit int) ([]types.TradeRecord, error)
}

// TelegramBot manages the Telegram interface.
type TelegramBot struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	status      StatusProvider
	catastrophe *risk.CatastropheHandler
}

// NewTelegramBot creates the bot. Token/chat come from config, not env,
// so tests can construct it directly.
func NewTelegramBot(token string, chatID int64, status StatusProvider, catastrophe *risk.CatastropheHandler) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:         api,
		chatID:      chatID,
		stopCh:      make(chan struct{}),
		status:      status,
		catastrophe: catastrophe,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
}

// Stop stops the command loop.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stopCh)
}

// NotifyTrade sends a trade open notification.
func (b *TelegramBot) NotifyTrade(pos types.Position) {
	b.send(fmt.Sprintf("💰 OPEN %s %s\nentry %s  size $%s\nSL %s  TP %s",
		pos.Symbol, pos.Direction,
		pos.EntryPrice.StringFixed(2), pos.SizeUSD.StringFixed(2),
		pos.StopLoss.StringFixed(2), pos.TakeProfit.StringFixed(2)))
}

// NotifyExit sends a trade close notification.
func (b *TelegramBot) NotifyExit(rec types.TradeRecord) {
	emoji := "🟢"
	if rec.PnL.IsNegative() {
		emoji = "🔴"
	}
	b.send(fmt.Sprintf("%s CLOSE %s %s (%s)\nexit %s  pnl $%s",
		emoji, rec.Symbol, rec.Direction, rec.Reason,
		rec.Exit.StringFixed(2), rec.PnL.StringFixed(2)))
}

// NotifyCatastrophe alerts on a failure-escalation transition.
func (b *TelegramBot) NotifyCatastrophe(from, to risk.CatastropheState, failure risk.FailureType) {
	b.send(fmt.Sprintf("🚨 CATASTROPHE: %s → %s\nfailure: %s", from, to, failure))
	if to == risk.StateHalted {
		b.send("⛔ System HALTED. New orders blocked. Reply /reset CONFIRM RESET to recover.")
	}
}

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || update.Message.Chat.ID != b.chatID {
				continue
			}
			b.handleCommand(update.Message.Text)
		}
	}
}

func (b *TelegramBot) handleCommand(text string) {
	switch {
	case strings.HasPrefix(text, "/status"):
		b.sendStatus()
	case strings.HasPrefix(text, "/positions"):
		b.sendPositions()
	case strings.HasPrefix(text, "/trades"):
		b.sendTrades()
	case strings.HasPrefix(text, "/reset"):
		b.handleReset(strings.TrimSpace(strings.TrimPrefix(text, "/reset")))
	}
}

func (b *TelegramBot) sendStatus() {
	trades, wins, losses, pnl := b.status.GetStats()
	summary := b.catastrophe.Summary()

	winRate := 0.0
	if trades > 0 {
		winRate = float64(wins) / float64(trades) * 100
	}

	b.send(fmt.Sprintf("📊 Status: %s\ntrades %d  wins %d  losses %d  win%% %.1f\npnl $%s\nevents %d",
		summary.State, trades, wins, losses, winRate, pnl.StringFixed(2), summary.EventCount))
}

func (b *TelegramBot) sendPositions() {
	positions := b.status.GetOpenPositions()
	if len(positions) == 0 {
		b.send("No open positions")
		return
	}

	var sb strings.Builder
	for _, p := range positions {
		fmt.Fprintf(&sb, "%s %s  entry %s  $%s  held %s\n",
			p.Symbol, p.Direction, p.EntryPrice.StringFixed(2),
			p.SizeUSD.StringFixed(2), time.Since(p.EntryTime).Round(time.Second))
	}
	b.send(sb.String())
}

func (b *TelegramBot) sendTrades() {
	trades, err := b.status.GetRecentTrades(10)
	if err != nil || len(trades) == 0 {
		b.send("No recent trades")
		return
	}

	var sb strings.Builder
	for _, t := range trades {
		fmt.Fprintf(&sb, "%s %s %s  pnl $%s\n", t.Symbol, t.Direction, t.Reason, t.PnL.StringFixed(2))
	}
	b.send(sb.String())
}

func (b *TelegramBot) handleReset(confirmation string) {
	if err := b.catastrophe.ForceReset(confirmation); err != nil {
		b.send("❌ " + err.Error())
		return
	}
	b.send("✅ Catastrophe handler reset to NORMAL")
}

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Telegram send failed")
	}
}
