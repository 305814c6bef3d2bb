package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fadebot/signals"
	"github.com/web3guy0/fadebot/types"
)

func newTestBreaker() (*CircuitBreaker, *signals.VPINCalculator) {
	vpin := signals.NewVPINCalculator()
	return NewCircuitBreaker(signals.NewSessionManager(), vpin), vpin
}

func euSession(min int) time.Time {
	return time.Date(2025, 6, 15, 10, min, 0, 0, time.UTC)
}

func TestBreakerAdmitsBaseline(t *testing.T) {
	cb, _ := newTestBreaker()

	ok, reason := cb.CheckSignal(euSession(0))
	assert.True(t, ok, reason)

	admitted, rejected, sessionSignals := cb.Stats()
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 0, rejected)
	assert.Equal(t, 1, sessionSignals)
}

func TestBreakerSessionCapPausesFiveMinutes(t *testing.T) {
	cb, _ := newTestBreaker()

	// The Europe cap is 12 signals per session.
	for i := 0; i < 12; i++ {
		ok, reason := cb.CheckSignal(euSession(i))
		require.True(t, ok, "signal %d: %s", i, reason)
	}

	ok, reason := cb.CheckSignal(euSession(13))
	assert.False(t, ok)
	assert.Contains(t, reason, "session signal cap")

	paused, why, resume := cb.IsPaused()
	assert.True(t, paused)
	assert.Equal(t, PauseSessionLimit, why)
	assert.Equal(t, euSession(13).Add(5*time.Minute), resume)

	// Still inside the cooldown.
	ok, reason = cb.CheckSignal(euSession(15))
	assert.False(t, ok)
	assert.Contains(t, reason, "paused")
}

func TestBreakerResumesAfterCooldown(t *testing.T) {
	cb, _ := newTestBreaker()

	for i := 0; i < 13; i++ {
		cb.CheckSignal(euSession(i))
	}
	paused, _, _ := cb.IsPaused()
	require.True(t, paused)

	// Cooldown over, but the session cap still holds: re-pause rather
	// than admit.
	ok, _ := cb.CheckSignal(euSession(20))
	assert.False(t, ok)

	// A fresh session resets the count and admits again.
	usTime := time.Date(2025, 6, 15, 16, 30, 0, 0, time.UTC)
	ok, reason := cb.CheckSignal(usTime)
	assert.True(t, ok, reason)
}

func TestBreakerZScoreAnomaly(t *testing.T) {
	cb, _ := newTestBreaker()

	// Build three sessions of history at modest, slightly varying rates.
	day := func(d, hour int) time.Time {
		return time.Date(2025, 6, d, hour, 0, 0, 0, time.UTC)
	}
	cb.CheckSignal(day(14, 0))  // ASIA: 1 signal
	cb.CheckSignal(day(14, 9))  // EUROPE: rolls ASIA into history
	cb.CheckSignal(day(14, 10)) // EUROPE: 2 signals
	cb.CheckSignal(day(14, 17)) // US: rolls EUROPE
	cb.CheckSignal(day(15, 1))  // ASIA next day: rolls US (1 signal)

	// History is now [0.125, 0.25, 0.125] signals/hour. A burst in the
	// new session pushes the current rate far above it.
	burst := day(15, 1)
	var lastReason string
	tripped := false
	for i := 0; i < 11; i++ {
		ok, reason := cb.CheckSignal(burst.Add(time.Duration(i+1) * time.Minute))
		if !ok {
			lastReason = reason
			tripped = true
			break
		}
	}
	require.True(t, tripped)
	assert.Contains(t, lastReason, "signal rate anomaly")

	_, why, _ := cb.IsPaused()
	assert.Equal(t, PauseSignalZScore, why)
}

func TestBreakerVPINToxicityPause(t *testing.T) {
	cb, vpin := newTestBreaker()

	// Force an extreme one-sided VPIN reading.
	vpin.UpdateTrade(types.Trade{
		Symbol:       "BTCUSDT",
		Quantity:     decimal.NewFromInt(5000),
		IsBuyerMaker: true,
		Timestamp:    euSession(0),
	})

	ok, reason := cb.CheckSignal(euSession(1))
	assert.False(t, ok)
	assert.Contains(t, reason, "toxicity")

	paused, why, resume := cb.IsPaused()
	assert.True(t, paused)
	assert.Equal(t, PauseVPINToxicity, why)
	assert.Equal(t, euSession(1).Add(15*time.Minute), resume)
}

func TestBreakerSessionCapBeatsVPIN(t *testing.T) {
	cb, vpin := newTestBreaker()

	// Fill the session cap first, then poison the order flow.
	for i := 0; i < 12; i++ {
		ok, reason := cb.CheckSignal(euSession(i))
		require.True(t, ok, reason)
	}
	vpin.UpdateTrade(types.Trade{
		Symbol:       "BTCUSDT",
		Quantity:     decimal.NewFromInt(5000),
		IsBuyerMaker: true,
		Timestamp:    euSession(12),
	})

	// Both conditions now hold; the session cap is checked first.
	ok, _ := cb.CheckSignal(euSession(13))
	assert.False(t, ok)
	_, why, _ := cb.IsPaused()
	assert.Equal(t, PauseSessionLimit, why)
}

func TestBreakerZScoreSkipsThinHistory(t *testing.T) {
	cb, _ := newTestBreaker()

	// With fewer than three banked sessions the z-score cannot fire, no
	// matter how fast signals arrive.
	for i := 0; i < 12; i++ {
		ok, reason := cb.CheckSignal(euSession(i))
		require.True(t, ok, reason)
	}
	_, why, _ := cb.IsPaused()
	assert.NotEqual(t, PauseSignalZScore, why)
}
