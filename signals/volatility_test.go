package signals

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolatilityInsufficientSamples(t *testing.T) {
	vc := NewVolatilityCalculator("BTCUSDT", NewSessionManager())

	ts := atUTC(3, 0)
	for i := 0; i < 30; i++ {
		vc.UpdatePrice(ts.Add(time.Duration(i)*time.Second), 50000)
	}

	_, ok := vc.Current()
	assert.False(t, ok)

	_, err := vc.Ratio(ts)
	assert.Error(t, err)
}

func TestVolatilityUnregisteredSymbol(t *testing.T) {
	vc := NewVolatilityCalculator("DOGEUSDT", NewSessionManager())

	_, err := vc.Ratio(atUTC(3, 0))
	assert.Error(t, err)
}

func TestVolatilityAlternatingReturns(t *testing.T) {
	vc := NewVolatilityCalculator("BTCUSDT", NewSessionManager())

	// 61 prices alternating between p and p*e^r give 60 log returns of
	// exactly +/-r, mean zero, population stddev r.
	const r = 0.001
	base := 50000.0
	high := base * math.Exp(r)

	ts := atUTC(3, 0) // ASIA session
	for i := 0; i <= 60; i++ {
		p := base
		if i%2 == 1 {
			p = high
		}
		vc.UpdatePrice(ts.Add(time.Duration(i)*time.Second), p)
	}

	vol, ok := vc.Current()
	require.True(t, ok)
	assert.InDelta(t, r, vol, 1e-9)

	// ASIA baseline for BTCUSDT is 0.00035.
	ratio, err := vc.Ratio(ts.Add(61 * time.Second))
	require.NoError(t, err)
	assert.InDelta(t, r/0.00035, ratio, 1e-6)
}

func TestVolatilityEvictsOldSamples(t *testing.T) {
	vc := NewVolatilityCalculator("BTCUSDT", NewSessionManager())

	ts := atUTC(3, 0)
	vc.UpdatePrice(ts, 50000)
	vc.UpdatePrice(ts.Add(1*time.Second), 50100)
	assert.Equal(t, 1, vc.SampleCount())

	// A price 400s later evicts everything in the old window, so no
	// return can be computed against an evicted point.
	vc.UpdatePrice(ts.Add(400*time.Second), 50200)
	assert.Equal(t, 0, vc.SampleCount())
}

func TestVolatilityIgnoresNonPositivePrices(t *testing.T) {
	vc := NewVolatilityCalculator("BTCUSDT", NewSessionManager())

	ts := atUTC(3, 0)
	vc.UpdatePrice(ts, 0)
	vc.UpdatePrice(ts.Add(time.Second), -5)
	assert.Equal(t, 0, vc.SampleCount())
}
