package signals

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// SESSION MANAGER - Trading session parameter tables
// ═══════════════════════════════════════════════════════════════════════════════
//
// UTC hour buckets:
//   ASIA   [00:00, 08:00)
//   EUROPE [08:00, 16:00)
//   US     [16:00, 24:00)
//
// Every method is a pure lookup - no state.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Session is one of the three 8-hour trading sessions.
type Session string

const (
	SessionAsia   Session = "ASIA"
	SessionEurope Session = "EUROPE"
	SessionUS     Session = "US"
)

// normalSignalsPerSession is the empirical signal count in a typical
// 8-hour session. The circuit breaker cap is set at 2x this.
const normalSignalsPerSession = 6

type sessionParams struct {
	maxSignals          int     // circuit breaker cap (2x normal)
	thresholdMultiplier float64 // applied on top of the adaptive threshold
	riskMultiplier      float64 // position-size scaling
	maxPositions        int     // concurrent position cap
}

var sessionTable = map[Session]sessionParams{
	SessionAsia:   {maxSignals: 2 * normalSignalsPerSession, thresholdMultiplier: 1.15, riskMultiplier: 0.8, maxPositions: 2},
	SessionEurope: {maxSignals: 2 * normalSignalsPerSession, thresholdMultiplier: 1.0, riskMultiplier: 1.0, maxPositions: 3},
	SessionUS:     {maxSignals: 2 * normalSignalsPerSession, thresholdMultiplier: 0.95, riskMultiplier: 1.0, maxPositions: 3},
}

// SessionManager maps wall-clock time to session parameters.
type SessionManager struct{}

// NewSessionManager creates a session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{}
}

// Current returns the session the given instant falls in (UTC).
func (sm *SessionManager) Current(ts time.Time) Session {
	switch hour := ts.UTC().Hour(); {
	case hour < 8:
		return SessionAsia
	case hour < 16:
		return SessionEurope
	default:
		return SessionUS
	}
}

// MaxSignals returns the circuit breaker signal cap for a session.
func (sm *SessionManager) MaxSignals(s Session) int {
	return sessionTable[s].maxSignals
}

// ThresholdMultiplier returns the session threshold scaling factor.
func (sm *SessionManager) ThresholdMultiplier(s Session) float64 {
	return sessionTable[s].thresholdMultiplier
}

// RiskMultiplier returns the session position-size scaling factor.
func (sm *SessionManager) RiskMultiplier(s Session) float64 {
	return sessionTable[s].riskMultiplier
}

// MaxPositions returns the concurrent position cap for a session.
func (sm *SessionManager) MaxPositions(s Session) int {
	return sessionTable[s].maxPositions
}

// IsOvertrading reports whether the signal count breaches the session cap.
func (sm *SessionManager) IsOvertrading(s Session, signalCount int) bool {
	return signalCount >= sessionTable[s].maxSignals
}
