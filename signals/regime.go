package signals

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DRAIN REGIME CLASSIFIER - Real selling pressure vs spoofed liquidity
// ═══════════════════════════════════════════════════════════════════════════════
//
// A depth drain can be:
//   REAL_PRESSURE - aggressive one-sided taker flow ate the book
//   PANIC         - same, but the book absorbed nearly all of it
//   SPOOF_CLEANUP - resting size was cancelled, not executed
//   NOISE         - nothing conclusive
//
// Classification and tradeability are deliberately separate decisions:
// Classify answers "is this real", ShouldTrade answers "do we fade it".
//
// ═══════════════════════════════════════════════════════════════════════════════

// Regime labels a classified drain.
type Regime string

const (
	RegimeRealPressure Regime = "REAL_PRESSURE"
	RegimePanic        Regime = "PANIC"
	RegimeSpoofCleanup Regime = "SPOOF_CLEANUP"
	RegimeNoise        Regime = "NOISE"
)

const (
	maxTradeWindow = 100              // retained taker executions
	maxDepthWindow = 60               // retained depth snapshots (~60s at 1/s)
	sanityWindow   = 1500 * time.Millisecond

	// Decision constants. Active ratio above 1.8 means taker flow was
	// dominantly one-sided; absorption above 0.8 means the decline is
	// almost fully explained by executions (panic-grade selling).
	activeRatioMin     = 1.8
	panicAbsorption    = 0.8
	spoofPassiveRatio  = 2.0
	panicMinConfidence = 85.0
)

// Classification is the per-drain result. Ephemeral - produced per
// detected drain, not persisted here.
type Classification struct {
	Regime               Regime
	ActiveDrain          float64 // executed volume inside the drain window
	PassiveDrain         float64 // decline not explained by executions
	DepthDecline         float64
	AbsorptionEfficiency float64
	ActiveRatio          float64 // taker aggressor/contra volume ratio
	SanityCheckPassed    bool
}

type takerFill struct {
	side types.Side
	qty  float64
	ts   time.Time
}

type depthPoint struct {
	bid float64
	ask float64
	ts  time.Time
}

// RegimeClassifier consumes trades and depth snapshots for one symbol
// and classifies detected drains.
type RegimeClassifier struct {
	mu sync.Mutex

	symbol string
	trades []takerFill
	depth  []depthPoint

	regimeCounts map[Regime]int
}

// NewRegimeClassifier creates a classifier for one symbol.
func NewRegimeClassifier(symbol string) *RegimeClassifier {
	return &RegimeClassifier{
		symbol:       symbol,
		trades:       make([]takerFill, 0, maxTradeWindow),
		depth:        make([]depthPoint, 0, maxDepthWindow),
		regimeCounts: make(map[Regime]int),
	}
}

// UpdateTrade appends a taker execution to the bounded trade window.
func (rc *RegimeClassifier) UpdateTrade(t types.Trade) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.trades = append(rc.trades, takerFill{
		side: t.TakerSide(),
		qty:  t.Quantity.InexactFloat64(),
		ts:   t.Timestamp,
	})
	if len(rc.trades) > maxTradeWindow {
		rc.trades = rc.trades[len(rc.trades)-maxTradeWindow:]
	}
}

// UpdateDepth appends a depth snapshot to the bounded depth window.
func (rc *RegimeClassifier) UpdateDepth(d types.DepthSnapshot) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.depth = append(rc.depth, depthPoint{
		bid: d.BidDepth.InexactFloat64(),
		ask: d.AskDepth.InexactFloat64(),
		ts:  d.Timestamp,
	})
	if len(rc.depth) > maxDepthWindow {
		rc.depth = rc.depth[len(rc.depth)-maxDepthWindow:]
	}
}

// Classify decides the regime of a drain on the given side of the book
// over [start, end]. side==Sell means selling pressure draining the bids.
func (rc *RegimeClassifier) Classify(side types.Side, start, end time.Time) Classification {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	// PRIMARY: taker volume strictly within the drain window.
	var aggressor, contra float64
	for _, t := range rc.trades {
		if t.ts.Before(start) || t.ts.After(end) {
			continue
		}
		if t.side == side {
			aggressor += t.qty
		} else {
			contra += t.qty
		}
	}

	// SECONDARY sanity check: aggressor flow must continue into the
	// trailing window, otherwise the "pressure" evaporated with the drain.
	var trailing float64
	sanityEnd := end.Add(sanityWindow)
	for _, t := range rc.trades {
		if t.side == side && t.ts.After(end) && !t.ts.After(sanityEnd) {
			trailing += t.qty
		}
	}
	sanityPassed := trailing > 0

	decline := rc.depthDeclineLocked(side, start, end)

	passive := decline - aggressor
	if passive < 0 {
		passive = 0
	}

	absorption := 0.0
	if decline > 0 {
		absorption = aggressor / decline
	}

	// Zero contra volume with any aggressor volume is treated as an
	// infinite ratio - the sanity check is the only remaining gate.
	ratio := math.Inf(1)
	if contra > 0 {
		ratio = aggressor / contra
	} else if aggressor == 0 {
		ratio = 0
	}

	regime := RegimeNoise
	switch {
	case ratio > activeRatioMin && sanityPassed:
		if absorption > panicAbsorption {
			regime = RegimePanic
		} else {
			regime = RegimeRealPressure
		}
	case passive > spoofPassiveRatio*aggressor:
		regime = RegimeSpoofCleanup
	}

	rc.regimeCounts[regime]++

	log.Debug().
		Str("symbol", rc.symbol).
		Str("regime", string(regime)).
		Float64("active", aggressor).
		Float64("passive", passive).
		Float64("absorption", absorption).
		Bool("sanity", sanityPassed).
		Msg("Drain classified")

	return Classification{
		Regime:               regime,
		ActiveDrain:          aggressor,
		PassiveDrain:         passive,
		DepthDecline:         decline,
		AbsorptionEfficiency: absorption,
		ActiveRatio:          ratio,
		SanityCheckPassed:    sanityPassed,
	}
}

// depthDeclineLocked computes max(start_depth - end_depth, 0) on the
// drained side from the two snapshots nearest to the window bounds.
func (rc *RegimeClassifier) depthDeclineLocked(side types.Side, start, end time.Time) float64 {
	startPt, okStart := rc.nearestLocked(start)
	endPt, okEnd := rc.nearestLocked(end)
	if !okStart || !okEnd {
		return 0
	}

	// Selling pressure eats the bids, buying pressure eats the asks.
	var before, after float64
	if side == types.Sell {
		before, after = startPt.bid, endPt.bid
	} else {
		before, after = startPt.ask, endPt.ask
	}

	if d := before - after; d > 0 {
		return d
	}
	return 0
}

func (rc *RegimeClassifier) nearestLocked(ts time.Time) (depthPoint, bool) {
	if len(rc.depth) == 0 {
		return depthPoint{}, false
	}
	best := rc.depth[0]
	bestDist := absDuration(ts.Sub(best.ts))
	for _, p := range rc.depth[1:] {
		if d := absDuration(ts.Sub(p.ts)); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, true
}

// ShouldTrade is the tradeability lookup, separate from classification.
// Confidence comes from the drain detector, scaled 0-100.
func ShouldTrade(regime Regime, confidence float64) bool {
	switch regime {
	case RegimeRealPressure:
		return true
	case RegimePanic:
		return confidence > panicMinConfidence
	default:
		return false
	}
}

// Stats returns the regime histogram.
func (rc *RegimeClassifier) Stats() map[Regime]int {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	out := make(map[Regime]int, len(rc.regimeCounts))
	for k, v := range rc.regimeCounts {
		out[k] = v
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
