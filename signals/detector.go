package signals

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DRAIN DETECTOR - Flags one-sided depth declines worth classifying
// ═══════════════════════════════════════════════════════════════════════════════
//
// The detector only raises a candidate event; the regime classifier is
// the authority on whether the drain is real. Confidence blends the
// decline magnitude over the threshold with recent liquidation volume
// on the same side (liquidation cascades are the signal we fade).
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	drainLookback   = 3 * time.Second  // reference depth this far back
	drainCooldown   = 5 * time.Second  // per-side retrigger guard
	liqBoostWindow  = 10 * time.Second // liquidations counted toward confidence
	baseConfidence  = 55.0
	magnitudeWeight = 30.0 // confidence per 1x excess over threshold
	liqBoostPerUnit = 3.0  // confidence per unit of liquidated volume
	maxLiqBoost     = 15.0
)

// DrainEvent is a candidate liquidity drain handed to the classifier.
type DrainEvent struct {
	Symbol     string
	Side       types.Side // Sell = bid side drained
	Start      time.Time
	End        time.Time
	Decline    float64 // fraction of side depth lost
	Confidence float64 // 0-100
}

// DrainDetector watches depth for one symbol.
type DrainDetector struct {
	mu sync.Mutex

	symbol  string
	history []depthPoint

	lastFired map[types.Side]time.Time
	liqVolume map[types.Side][]liqPoint
}

type liqPoint struct {
	qty float64
	ts  time.Time
}

// NewDrainDetector creates a detector for one symbol.
func NewDrainDetector(symbol string) *DrainDetector {
	return &DrainDetector{
		symbol:    symbol,
		history:   make([]depthPoint, 0, 64),
		lastFired: make(map[types.Side]time.Time),
		liqVolume: make(map[types.Side][]liqPoint),
	}
}

// OnLiquidation records a forced order for confidence blending.
func (dd *DrainDetector) OnLiquidation(l types.Liquidation) {
	dd.mu.Lock()
	defer dd.mu.Unlock()
	dd.liqVolume[l.Side] = append(dd.liqVolume[l.Side], liqPoint{
		qty: l.Quantity.InexactFloat64(),
		ts:  l.Timestamp,
	})
}

// OnDepth consumes a depth snapshot and returns a drain event when a
// one-sided decline exceeds the adaptive threshold, nil otherwise.
func (dd *DrainDetector) OnDepth(d types.DepthSnapshot, threshold float64) *DrainEvent {
	dd.mu.Lock()
	defer dd.mu.Unlock()

	now := d.Timestamp
	pt := depthPoint{bid: d.BidDepth.InexactFloat64(), ask: d.AskDepth.InexactFloat64(), ts: now}

	// Evict beyond lookback, keeping one reference point at the edge.
	cutoff := now.Add(-drainLookback)
	for len(dd.history) > 1 && dd.history[1].ts.Before(cutoff) {
		dd.history = dd.history[1:]
	}

	var ev *DrainEvent
	if len(dd.history) > 0 {
		ref := dd.history[0]
		if e := dd.checkSideLocked(types.Sell, ref.bid, pt.bid, ref.ts, now, threshold); e != nil {
			ev = e
		} else if e := dd.checkSideLocked(types.Buy, ref.ask, pt.ask, ref.ts, now, threshold); e != nil {
			ev = e
		}
	}

	dd.history = append(dd.history, pt)
	return ev
}

func (dd *DrainDetector) checkSideLocked(side types.Side, before, after float64, start, end time.Time, threshold float64) *DrainEvent {
	if before <= 0 {
		return nil
	}
	decline := (before - after) / before
	if decline < threshold {
		return nil
	}
	if end.Sub(dd.lastFired[side]) < drainCooldown {
		return nil
	}
	dd.lastFired[side] = end

	conf := baseConfidence + magnitudeWeight*(decline/threshold-1) + dd.liqBoostLocked(side, end)
	if conf > 100 {
		conf = 100
	}

	log.Info().
		Str("symbol", dd.symbol).
		Str("side", string(side)).
		Float64("decline_pct", decline*100).
		Float64("threshold_pct", threshold*100).
		Float64("confidence", conf).
		Msg("💧 Liquidity drain detected")

	return &DrainEvent{
		Symbol:     dd.symbol,
		Side:       side,
		Start:      start,
		End:        end,
		Decline:    decline,
		Confidence: conf,
	}
}

// liqBoostLocked sums recent liquidation volume on the drained side.
func (dd *DrainDetector) liqBoostLocked(side types.Side, now time.Time) float64 {
	pts := dd.liqVolume[side]
	cutoff := now.Add(-liqBoostWindow)

	kept := pts[:0]
	var vol float64
	for _, p := range pts {
		if p.ts.Before(cutoff) {
			continue
		}
		kept = append(kept, p)
		vol += p.qty
	}
	dd.liqVolume[side] = kept

	boost := vol * liqBoostPerUnit
	if boost > maxLiqBoost {
		boost = maxLiqBoost
	}
	return boost
}
