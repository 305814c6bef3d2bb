package risk

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZER - Phased scaling with drawdown protection
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three-phase schedule, advancing only forward once performance
// criteria are met:
//
//   PHASE_1_TINY   0.10% of portfolio per trade
//   PHASE_2_SMALL  0.25%
//   PHASE_3_NORMAL 0.50%
//
// final = portfolio * base_pct * confidence_mult * drawdown_mult * session_mult
//
// Exposure is reserved atomically with the sizing decision: an approved
// Sizing holds its slice of the 1% concurrent-exposure cap until the
// caller commits it to a trade or releases it.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Phase of the scaling schedule.
type Phase string

const (
	Phase1Tiny   Phase = "PHASE_1_TINY"
	Phase2Small  Phase = "PHASE_2_SMALL"
	Phase3Normal Phase = "PHASE_3_NORMAL"
)

const (
	minConfidence  = 60.0
	highConfidence = 85.0

	highConfidenceMult   = 1.0
	mediumConfidenceMult = 0.75
	drawdownMult         = 0.5

	maxConcurrentExposurePct = 0.01 // 1% of portfolio across all open trades

	drawdownEntryLosses = 2 // consecutive losses that trigger protection
	drawdownExitWins    = 2 // consecutive wins that clear it
)

type phaseParams struct {
	sizePct float64 // portfolio fraction per trade

	// Forward-advance criteria, checked after every closed trade.
	minTrades    int
	minWinRate   float64
	minProfitFct float64
}

var phaseTable = map[Phase]phaseParams{
	Phase1Tiny:   {sizePct: 0.001, minTrades: 20, minWinRate: 0.45, minProfitFct: 1.1},
	Phase2Small:  {sizePct: 0.0025, minTrades: 50, minWinRate: 0.50, minProfitFct: 1.3},
	Phase3Normal: {sizePct: 0.005},
}

// Sizing is an approved size with its exposure reservation.
type Sizing struct {
	Quantity   decimal.Decimal
	SizeUSD    decimal.Decimal
	SizePct    float64
	Phase      Phase
	InDrawdown bool

	reserved bool
}

// SkipReason explains why no size was allocated.
type SkipReason string

const (
	SkipLowConfidence SkipReason = "LOW_CONFIDENCE"
	SkipExposureCap   SkipReason = "EXPOSURE_CAP"
)

// PositionSizer computes per-trade size from the phase schedule,
// confidence tier, drawdown state and the portfolio exposure cap.
type PositionSizer struct {
	mu sync.Mutex

	portfolio decimal.Decimal

	phase           Phase
	totalTrades     int
	winningTrades   int
	consecutiveLoss int
	consecutiveWin  int
	inDrawdown      bool
	grossProfit     decimal.Decimal
	grossLoss       decimal.Decimal

	active  map[string]decimal.Decimal // trade_id -> exposure USD
	pending decimal.Decimal            // reserved but not yet committed
}

// NewPositionSizer creates a sizer starting in PHASE_1_TINY.
func NewPositionSizer(portfolio decimal.Decimal) *PositionSizer {
	return &PositionSizer{
		portfolio: portfolio,
		phase:     Phase1Tiny,
		active:    make(map[string]decimal.Decimal),
	}
}

// Calculate sizes a trade and reserves its exposure. A nil Sizing with
// a SkipReason is a policy decision, not an error.
func (ps *PositionSizer) Calculate(confidence float64, entryPrice decimal.Decimal, sessionMult float64) (*Sizing, SkipReason) {
	if confidence < minConfidence {
		log.Debug().Float64("confidence", confidence).Msg("Sizing skipped: confidence below floor")
		return nil, SkipLowConfidence
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	confMult := mediumConfidenceMult
	if confidence >= highConfidence {
		confMult = highConfidenceMult
	}

	ddMult := 1.0
	if ps.inDrawdown {
		ddMult = drawdownMult
	}

	basePct := phaseTable[ps.phase].sizePct
	sizeUSD := ps.portfolio.Mul(decimal.NewFromFloat(basePct * confMult * ddMult * sessionMult))

	capUSD := ps.portfolio.Mul(decimal.NewFromFloat(maxConcurrentExposurePct))
	if ps.exposureLocked().Add(sizeUSD).GreaterThan(capUSD) {
		log.Info().
			Str("size_usd", sizeUSD.StringFixed(2)).
			Str("exposure", ps.exposureLocked().StringFixed(2)).
			Str("cap", capUSD.StringFixed(2)).
			Msg("Sizing skipped: exposure cap")
		return nil, SkipExposureCap
	}
	ps.pending = ps.pending.Add(sizeUSD)

	return &Sizing{
		Quantity:   sizeUSD.Div(entryPrice),
		SizeUSD:    sizeUSD,
		SizePct:    basePct * confMult * ddMult * sessionMult,
		Phase:      ps.phase,
		InDrawdown: ps.inDrawdown,
		reserved:   true,
	}, ""
}

// Commit converts a reservation into an active position's exposure.
func (ps *PositionSizer) Commit(s *Sizing, tradeID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if s.reserved {
		ps.pending = ps.pending.Sub(s.SizeUSD)
		s.reserved = false
	}
	ps.active[tradeID] = s.SizeUSD
}

// Release abandons a reservation that never became a trade.
func (ps *PositionSizer) Release(s *Sizing) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if s.reserved {
		ps.pending = ps.pending.Sub(s.SizeUSD)
		s.reserved = false
	}
}

// RecordResult updates performance state after a trade closes and
// drops its exposure. Phase only ever advances forward.
func (ps *PositionSizer) RecordResult(tradeID string, pnl decimal.Decimal) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.active, tradeID)

	ps.totalTrades++
	if pnl.GreaterThan(decimal.Zero) {
		ps.winningTrades++
		ps.consecutiveWin++
		ps.consecutiveLoss = 0
		ps.grossProfit = ps.grossProfit.Add(pnl)

		if ps.inDrawdown && ps.consecutiveWin >= drawdownExitWins {
			ps.inDrawdown = false
			ps.consecutiveWin = 0
			log.Info().Msg("✅ Drawdown protection cleared")
		}
	} else {
		ps.consecutiveLoss++
		ps.consecutiveWin = 0
		ps.grossLoss = ps.grossLoss.Add(pnl.Abs())

		if !ps.inDrawdown && ps.consecutiveLoss >= drawdownEntryLosses {
			ps.inDrawdown = true
			log.Warn().Int("consecutive_losses", ps.consecutiveLoss).Msg("🚨 Drawdown protection engaged")
		}
	}

	ps.maybeAdvanceLocked()
}

// maybeAdvanceLocked checks the forward-only phase schedule.
func (ps *PositionSizer) maybeAdvanceLocked() {
	next, has := map[Phase]Phase{Phase1Tiny: Phase2Small, Phase2Small: Phase3Normal}[ps.phase]
	if !has {
		return
	}

	p := phaseTable[ps.phase]
	if ps.totalTrades < p.minTrades {
		return
	}
	winRate := float64(ps.winningTrades) / float64(ps.totalTrades)
	if winRate < p.minWinRate {
		return
	}
	if !ps.grossLoss.IsPositive() {
		return // no losses yet: profit factor undefined, wait for them
	}
	pf, _ := ps.grossProfit.Div(ps.grossLoss).Float64()
	if pf < p.minProfitFct {
		return
	}

	log.Info().
		Str("from", string(ps.phase)).
		Str("to", string(next)).
		Int("trades", ps.totalTrades).
		Float64("win_rate", winRate).
		Float64("profit_factor", pf).
		Msg("📈 Sizing phase advanced")
	ps.phase = next
}

func (ps *PositionSizer) exposureLocked() decimal.Decimal {
	total := ps.pending
	for _, usd := range ps.active {
		total = total.Add(usd)
	}
	return total
}

// Exposure returns current reserved plus committed exposure in USD.
func (ps *PositionSizer) Exposure() decimal.Decimal {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.exposureLocked()
}

// Stats returns sizer performance counters.
func (ps *PositionSizer) Stats() (phase Phase, trades, wins, consecLoss int, inDrawdown bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.phase, ps.totalTrades, ps.winningTrades, ps.consecutiveLoss, ps.inDrawdown
}
