package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fadebot/signals"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Signal admission control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three pause conditions, evaluated in fixed priority order:
//   1. Session signal cap        -> pause 5 min
//   2. Signal-rate Z-score > 2.5 -> pause 10 min
//   3. VPIN toxicity HIGH+       -> pause 15 min
//
// First match wins; exactly one reason is recorded per pause.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PauseReason identifies which condition tripped the breaker.
type PauseReason string

const (
	PauseSessionLimit PauseReason = "SESSION_LIMIT"
	PauseSignalZScore PauseReason = "SIGNAL_RATE_ZSCORE"
	PauseVPINToxicity PauseReason = "VPIN_TOXICITY"
)

const (
	sessionLimitPause = 5 * time.Minute
	zscorePause       = 10 * time.Minute
	vpinPause         = 15 * time.Minute

	zscoreLimit        = 2.5
	minHistorySessions = 3
	sessionHours       = 8.0
)

// CircuitBreaker gates signal admission for one deployment.
type CircuitBreaker struct {
	mu sync.Mutex

	sessions *signals.SessionManager
	vpin     *signals.VPINCalculator

	sessionSignals int
	sessionStart   time.Time
	currentSession signals.Session
	sessionRates   []float64 // historical per-session hourly rates

	paused      bool
	pauseReason PauseReason
	resumeTime  time.Time

	admitted int
	rejected int
}

// NewCircuitBreaker creates a breaker wired to the session tables and
// the VPIN calculator.
func NewCircuitBreaker(sessions *signals.SessionManager, vpin *signals.VPINCalculator) *CircuitBreaker {
	return &CircuitBreaker{
		sessions:     sessions,
		vpin:         vpin,
		sessionRates: make([]float64, 0, 32),
	}
}

// CheckSignal decides whether a signal may proceed. Rejections are
// policy outcomes with a reason, not errors.
func (cb *CircuitBreaker) CheckSignal(now time.Time) (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollLocked(now)

	// Resume first if the cooldown elapsed.
	if cb.paused {
		if now.Before(cb.resumeTime) {
			cb.rejected++
			return false, fmt.Sprintf("paused (%s) until %s", cb.pauseReason, cb.resumeTime.UTC().Format(time.RFC3339))
		}
		cb.paused = false
		cb.pauseReason = ""
		log.Info().Msg("✅ Circuit breaker resumed")
	}

	session := cb.sessions.Current(now)

	if cb.sessions.IsOvertrading(session, cb.sessionSignals) {
		cb.pauseLocked(PauseSessionLimit, sessionLimitPause, now)
		cb.rejected++
		return false, fmt.Sprintf("session signal cap reached (%d)", cb.sessionSignals)
	}

	if z, ok := cb.zscoreLocked(now); ok && z > zscoreLimit {
		cb.pauseLocked(PauseSignalZScore, zscorePause, now)
		cb.rejected++
		return false, fmt.Sprintf("signal rate anomaly (z=%.2f)", z)
	}

	if tox := cb.vpin.CurrentToxicity(); tox != signals.ToxicityNormal {
		cb.pauseLocked(PauseVPINToxicity, vpinPause, now)
		cb.rejected++
		return false, fmt.Sprintf("order flow toxicity %s", tox)
	}

	cb.sessionSignals++
	cb.admitted++
	return true, ""
}

// rollLocked advances the session bucket, banking the finished
// session's hourly rate for the z-score history.
func (cb *CircuitBreaker) rollLocked(now time.Time) {
	session := cb.sessions.Current(now)
	if cb.sessionStart.IsZero() {
		cb.currentSession = session
		cb.sessionStart = now
	} else if session != cb.currentSession || now.Sub(cb.sessionStart) >= 8*time.Hour {
		cb.sessionRates = append(cb.sessionRates, float64(cb.sessionSignals)/sessionHours)
		if len(cb.sessionRates) > 21 {
			cb.sessionRates = cb.sessionRates[1:]
		}
		cb.sessionSignals = 0
		cb.currentSession = session
		cb.sessionStart = now
	}
}

// zscoreLocked compares the current session's hourly signal rate
// against the historical per-session rates.
func (cb *CircuitBreaker) zscoreLocked(now time.Time) (float64, bool) {
	if len(cb.sessionRates) < minHistorySessions {
		return 0, false
	}

	elapsed := now.Sub(cb.sessionStart).Hours()
	if elapsed < 0.25 {
		elapsed = 0.25 // avoid exploding rates in a session's first minutes
	}
	currentRate := float64(cb.sessionSignals) / elapsed

	var sum float64
	for _, r := range cb.sessionRates {
		sum += r
	}
	mean := sum / float64(len(cb.sessionRates))

	var variance float64
	for _, r := range cb.sessionRates {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(cb.sessionRates))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0, false
	}

	return (currentRate - mean) / std, true
}

func (cb *CircuitBreaker) pauseLocked(reason PauseReason, cooldown time.Duration, now time.Time) {
	cb.paused = true
	cb.pauseReason = reason
	cb.resumeTime = now.Add(cooldown)
	log.Warn().
		Str("reason", string(reason)).
		Time("resume", cb.resumeTime).
		Msg("🚨 CIRCUIT BREAKER PAUSED")
}

// IsPaused reports the pause state with its reason.
func (cb *CircuitBreaker) IsPaused() (bool, PauseReason, time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.paused, cb.pauseReason, cb.resumeTime
}

// Stats returns admission counters.
func (cb *CircuitBreaker) Stats() (admitted, rejected, sessionSignals int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.admitted, cb.rejected, cb.sessionSignals
}
