package signals

import "fmt"

// ═══════════════════════════════════════════════════════════════════════════════
// ADAPTIVE THRESHOLD - Volatility-scaled liquidity drain detection threshold
// ═══════════════════════════════════════════════════════════════════════════════
//
// threshold = base * (1 + beta*(ratio-1)) * symbol_multiplier, clamped
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	baseThreshold = 0.25 // fraction of one-sided depth that must drain
	volBeta       = 0.6  // sensitivity to the volatility ratio
	minThreshold  = 0.10
	maxThreshold  = 0.60
)

// Thinner books need a larger relative decline before it means anything.
var symbolMultipliers = map[string]float64{
	"BTCUSDT": 1.0,
	"ETHUSDT": 1.15,
	"SOLUSDT": 1.35,
}

// ThresholdSummary reports how a threshold was derived, including
// whether clamping fired. Observability only - same code path.
type ThresholdSummary struct {
	Symbol          string
	VolatilityRatio float64
	VolScaling      float64
	Preliminary     float64
	Threshold       float64
	Capped          bool
	CapReason       string
}

// ThresholdManager converts a volatility ratio into a drain detection
// threshold. Pure function of its locked constants plus the per-symbol
// multiplier table - no internal state.
type ThresholdManager struct{}

// NewThresholdManager creates a threshold manager.
func NewThresholdManager() *ThresholdManager {
	return &ThresholdManager{}
}

// Calculate returns the clamped detection threshold for a symbol.
// Errors on an unregistered symbol - thresholds are safety-critical,
// never silently defaulted.
func (tm *ThresholdManager) Calculate(symbol string, volatilityRatio float64) (float64, error) {
	s, err := tm.Summary(symbol, volatilityRatio)
	if err != nil {
		return 0, err
	}
	return s.Threshold, nil
}

// Summary computes the threshold and reports whether/why capping occurred.
func (tm *ThresholdManager) Summary(symbol string, volatilityRatio float64) (ThresholdSummary, error) {
	mult, found := symbolMultipliers[symbol]
	if !found {
		return ThresholdSummary{}, fmt.Errorf("unsupported symbol %s: no threshold multiplier registered", symbol)
	}

	volScaling := 1 + volBeta*(volatilityRatio-1)
	prelim := baseThreshold * volScaling * mult

	s := ThresholdSummary{
		Symbol:          symbol,
		VolatilityRatio: volatilityRatio,
		VolScaling:      volScaling,
		Preliminary:     prelim,
		Threshold:       prelim,
	}

	switch {
	case prelim < minThreshold:
		s.Threshold = minThreshold
		s.Capped = true
		s.CapReason = fmt.Sprintf("floor: %.4f < %.2f", prelim, minThreshold)
	case prelim > maxThreshold:
		s.Threshold = maxThreshold
		s.Capped = true
		s.CapReason = fmt.Sprintf("ceiling: %.4f > %.2f", prelim, maxThreshold)
	}

	return s, nil
}
