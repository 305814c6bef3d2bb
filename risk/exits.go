package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TIME-BASED EXIT MANAGER - Half-life driven breakeven and stagnation exits
// ═══════════════════════════════════════════════════════════════════════════════
//
// Liquidation-fade edge decays fast. Per-symbol half-life is the
// empirical median time for the dislocation to revert; holding past it
// without progress is dead risk. Per check, in order:
//
//   1. stop loss          2. take profit
//   3. breakeven stop move once time_in_trade >= half_life and in profit
//   4. stagnation exit once MFE hasn't improved for 0.5 * half_life
//
// ═══════════════════════════════════════════════════════════════════════════════

// ExitReason labels why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStagnation ExitReason = "STAGNATION"
)

// Empirical median reversion times. Unknown symbols get the default.
var halfLives = map[string]time.Duration{
	"BTCUSDT": 180 * time.Second,
	"ETHUSDT": 240 * time.Second,
	"SOLUSDT": 300 * time.Second,
}

const defaultHalfLife = 200 * time.Second

// ExitSignal is the terminal result for one trade.
type ExitSignal struct {
	TradeID     string
	Reason      ExitReason
	ExitPrice   decimal.Decimal
	ExitTime    time.Time
	PnL         decimal.Decimal // USD
	MFE         float64         // best favorable excursion, fraction
	TimeInTrade time.Duration
}

// tradeState is the mutable per-position tracking record.
type tradeState struct {
	pos types.Position

	stopLoss    decimal.Decimal // may move to breakeven
	mfe         float64         // monotonically non-decreasing
	lastMFEPeak time.Time       // updates only on a new MFE high
	stopAtEntry bool            // breakeven move already done
}

// ExitManager tracks open positions and applies the exit policy.
type ExitManager struct {
	mu sync.Mutex

	active map[string]*tradeState
}

// NewExitManager creates an empty exit manager.
func NewExitManager() *ExitManager {
	return &ExitManager{active: make(map[string]*tradeState)}
}

// Track registers a newly opened position.
func (em *ExitManager) Track(pos types.Position) {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.active[pos.ID] = &tradeState{
		pos:         pos,
		stopLoss:    pos.StopLoss,
		lastMFEPeak: pos.EntryTime,
	}
}

// CheckExit evaluates one position against the current price. Exits
// are terminal and idempotent: after the first exit the trade leaves
// the active set and further checks return nil.
func (em *ExitManager) CheckExit(tradeID string, price decimal.Decimal, now time.Time) *ExitSignal {
	em.mu.Lock()
	defer em.mu.Unlock()

	st, ok := em.active[tradeID]
	if !ok {
		return nil
	}

	pnlFrac := unrealized(st.pos, price)

	// MFE and its peak time move together, and only upward.
	if pnlFrac > st.mfe {
		st.mfe = pnlFrac
		st.lastMFEPeak = now
	}

	if stopHit(st.pos.Direction, price, st.stopLoss) {
		return em.closeLocked(st, st.stopLoss, now, ExitStopLoss)
	}

	if takeProfitHit(st.pos.Direction, price, st.pos.TakeProfit) {
		return em.closeLocked(st, st.pos.TakeProfit, now, ExitTakeProfit)
	}

	halfLife := halfLifeFor(st.pos.Symbol)
	inTrade := now.Sub(st.pos.EntryTime)

	// One-way, one-time breakeven move.
	if inTrade >= halfLife && pnlFrac > 0 && !st.stopAtEntry {
		st.stopLoss = st.pos.EntryPrice
		st.stopAtEntry = true
		log.Info().
			Str("trade_id", tradeID).
			Str("symbol", st.pos.Symbol).
			Msg("Stop moved to breakeven")
	}

	if now.Sub(st.lastMFEPeak) >= halfLife/2 {
		return em.closeLocked(st, price, now, ExitStagnation)
	}

	return nil
}

// Forget drops a position without an exit signal (e.g. closed by the
// catastrophe path).
func (em *ExitManager) Forget(tradeID string) {
	em.mu.Lock()
	defer em.mu.Unlock()
	delete(em.active, tradeID)
}

// ActiveCount returns the number of tracked positions.
func (em *ExitManager) ActiveCount() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.active)
}

func (em *ExitManager) closeLocked(st *tradeState, exitPrice decimal.Decimal, now time.Time, reason ExitReason) *ExitSignal {
	delete(em.active, st.pos.ID)

	frac := unrealized(st.pos, exitPrice)
	pnl := st.pos.SizeUSD.Mul(decimal.NewFromFloat(frac))

	log.Info().
		Str("trade_id", st.pos.ID).
		Str("symbol", st.pos.Symbol).
		Str("reason", string(reason)).
		Str("pnl", pnl.StringFixed(2)).
		Float64("mfe", st.mfe).
		Dur("held", now.Sub(st.pos.EntryTime)).
		Msg("📊 Position exit")

	return &ExitSignal{
		TradeID:     st.pos.ID,
		Reason:      reason,
		ExitPrice:   exitPrice,
		ExitTime:    now,
		PnL:         pnl,
		MFE:         st.mfe,
		TimeInTrade: now.Sub(st.pos.EntryTime),
	}
}

// unrealized returns the fractional P&L of a position at a price.
func unrealized(pos types.Position, price decimal.Decimal) float64 {
	if pos.EntryPrice.IsZero() {
		return 0
	}
	frac, _ := price.Sub(pos.EntryPrice).Div(pos.EntryPrice).Float64()
	if pos.Direction == types.Short {
		return -frac
	}
	return frac
}

func stopHit(dir types.Direction, price, stop decimal.Decimal) bool {
	if stop.IsZero() {
		return false
	}
	if dir == types.Long {
		return price.LessThanOrEqual(stop)
	}
	return price.GreaterThanOrEqual(stop)
}

func takeProfitHit(dir types.Direction, price, tp decimal.Decimal) bool {
	if tp.IsZero() {
		return false
	}
	if dir == types.Long {
		return price.GreaterThanOrEqual(tp)
	}
	return price.LessThanOrEqual(tp)
}

func halfLifeFor(symbol string) time.Duration {
	if hl, ok := halfLives[symbol]; ok {
		return hl
	}
	return defaultHalfLife
}
