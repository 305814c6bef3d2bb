package signals

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VOLATILITY CALCULATOR - Rolling realized volatility of mid-price log returns
// ═══════════════════════════════════════════════════════════════════════════════

const (
	volatilityWindow = 300 * time.Second // trailing observation window
	minReturnSamples = 60                // below this, volatility is "insufficient data"
)

// Session baselines: typical log-return stddev per symbol per session,
// measured over rolling 5-minute windows. Safety-critical lookup - an
// unregistered symbol is a configuration error, never a silent default.
var volatilityBaselines = map[string]map[Session]float64{
	"BTCUSDT": {SessionAsia: 0.00035, SessionEurope: 0.00045, SessionUS: 0.00055},
	"ETHUSDT": {SessionAsia: 0.00048, SessionEurope: 0.00060, SessionUS: 0.00072},
	"SOLUSDT": {SessionAsia: 0.00075, SessionEurope: 0.00090, SessionUS: 0.00110},
}

type pricePoint struct {
	ts    time.Time
	price float64
}

// VolatilityCalculator tracks realized volatility for a single symbol.
// Purely a function of the (timestamp, price) sequence in the trailing
// window - no state beyond its own buffers.
type VolatilityCalculator struct {
	mu sync.Mutex

	symbol   string
	sessions *SessionManager

	prices  []pricePoint
	returns []float64 // log returns between consecutive retained prices
}

// NewVolatilityCalculator creates a calculator for one symbol.
func NewVolatilityCalculator(symbol string, sessions *SessionManager) *VolatilityCalculator {
	return &VolatilityCalculator{
		symbol:   symbol,
		sessions: sessions,
		prices:   make([]pricePoint, 0, 512),
		returns:  make([]float64, 0, 512),
	}
}

// UpdatePrice appends an observation, evicts entries older than the
// window, and records the log return against the previous retained price.
func (vc *VolatilityCalculator) UpdatePrice(ts time.Time, price float64) {
	if price <= 0 {
		return
	}

	vc.mu.Lock()
	defer vc.mu.Unlock()

	cutoff := ts.Add(-volatilityWindow)
	evicted := 0
	for evicted < len(vc.prices) && vc.prices[evicted].ts.Before(cutoff) {
		evicted++
	}
	if evicted > 0 {
		vc.prices = vc.prices[evicted:]
		// One return per retained price pair.
		if evicted <= len(vc.returns) {
			vc.returns = vc.returns[evicted:]
		} else {
			vc.returns = vc.returns[:0]
		}
	}

	if len(vc.prices) > 0 {
		prev := vc.prices[len(vc.prices)-1].price
		vc.returns = append(vc.returns, math.Log(price/prev))
	}
	vc.prices = append(vc.prices, pricePoint{ts: ts, price: price})
}

// Current returns the population standard deviation of retained log
// returns. ok is false while fewer than minReturnSamples are present.
func (vc *VolatilityCalculator) Current() (vol float64, ok bool) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.currentLocked()
}

func (vc *VolatilityCalculator) currentLocked() (float64, bool) {
	n := len(vc.returns)
	if n < minReturnSamples {
		return 0, false
	}

	var sum float64
	for _, r := range vc.returns {
		sum += r
	}
	mean := sum / float64(n)

	var variance float64
	for _, r := range vc.returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n)

	return math.Sqrt(variance), true
}

// Ratio divides current volatility by the session baseline for this
// symbol. Errors on an unregistered symbol (configuration error) or
// when there is not yet enough data.
func (vc *VolatilityCalculator) Ratio(ts time.Time) (float64, error) {
	baselines, found := volatilityBaselines[vc.symbol]
	if !found {
		return 0, fmt.Errorf("no volatility baseline registered for symbol %s", vc.symbol)
	}

	vc.mu.Lock()
	vol, ok := vc.currentLocked()
	vc.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("insufficient samples for %s volatility (need %d)", vc.symbol, minReturnSamples)
	}

	baseline := baselines[vc.sessions.Current(ts)]
	return vol / baseline, nil
}

// SampleCount returns the number of retained log returns.
func (vc *VolatilityCalculator) SampleCount() int {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return len(vc.returns)
}
