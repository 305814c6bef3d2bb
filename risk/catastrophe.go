package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CATASTROPHE HANDLER - Global failure escalation state machine
// ═══════════════════════════════════════════════════════════════════════════════
//
//   NORMAL → DEGRADED → CRITICAL → HALTED
//
// Severity only escalates through the transition table; the only ways
// back are AttemptRecovery (from DEGRADED/CRITICAL, one step at a
// time) and ForceReset with the operator confirmation phrase. HALTED
// is a sink: nothing but ForceReset leaves it.
//
// The central safety property is the asymmetry between entries and
// exits: new positions only in NORMAL, but exits and order submission
// stay possible everywhere short of HALTED.
//
// ═══════════════════════════════════════════════════════════════════════════════

// CatastropheState is the global degradation level.
type CatastropheState string

const (
	StateNormal   CatastropheState = "NORMAL"
	StateDegraded CatastropheState = "DEGRADED"
	StateCritical CatastropheState = "CRITICAL"
	StateHalted   CatastropheState = "HALTED"
)

// FailureType classifies a reported system failure.
type FailureType string

const (
	FailureExchangeDisconnect FailureType = "EXCHANGE_DISCONNECT"
	FailureRejectionStorm     FailureType = "ORDER_REJECTION_STORM"
	FailureRateLimitStorm     FailureType = "RATE_LIMIT_STORM"
	FailureStaleMarketData    FailureType = "STALE_MARKET_DATA"
	FailurePositionDesync     FailureType = "POSITION_DESYNC"
	FailureAuthError          FailureType = "API_AUTH_FAILURE"
	FailureExchangeHalt       FailureType = "EXCHANGE_HALT"
)

var allStates = []CatastropheState{StateNormal, StateDegraded, StateCritical, StateHalted}

var allFailures = []FailureType{
	FailureExchangeDisconnect, FailureRejectionStorm, FailureRateLimitStorm,
	FailureStaleMarketData, FailurePositionDesync, FailureAuthError, FailureExchangeHalt,
}

type transitionKey struct {
	state   CatastropheState
	failure FailureType
}

// stateTransitions is the complete (state, failure) -> state table.
// Severity never decreases; HALTED maps every failure back to HALTED.
var stateTransitions = map[transitionKey]CatastropheState{
	{StateNormal, FailureExchangeDisconnect}: StateDegraded,
	{StateNormal, FailureRejectionStorm}:     StateDegraded,
	{StateNormal, FailureRateLimitStorm}:     StateDegraded,
	{StateNormal, FailureStaleMarketData}:    StateDegraded,
	{StateNormal, FailurePositionDesync}:     StateCritical,
	{StateNormal, FailureAuthError}:          StateCritical,
	{StateNormal, FailureExchangeHalt}:       StateHalted,

	{StateDegraded, FailureExchangeDisconnect}: StateCritical,
	{StateDegraded, FailureRejectionStorm}:     StateCritical,
	{StateDegraded, FailureRateLimitStorm}:     StateDegraded,
	{StateDegraded, FailureStaleMarketData}:    StateCritical,
	{StateDegraded, FailurePositionDesync}:     StateCritical,
	{StateDegraded, FailureAuthError}:          StateHalted,
	{StateDegraded, FailureExchangeHalt}:       StateHalted,

	{StateCritical, FailureExchangeDisconnect}: StateHalted,
	{StateCritical, FailureRejectionStorm}:     StateHalted,
	{StateCritical, FailureRateLimitStorm}:     StateCritical,
	{StateCritical, FailureStaleMarketData}:    StateCritical,
	{StateCritical, FailurePositionDesync}:     StateHalted,
	{StateCritical, FailureAuthError}:          StateHalted,
	{StateCritical, FailureExchangeHalt}:       StateHalted,

	{StateHalted, FailureExchangeDisconnect}: StateHalted,
	{StateHalted, FailureRejectionStorm}:     StateHalted,
	{StateHalted, FailureRateLimitStorm}:     StateHalted,
	{StateHalted, FailureStaleMarketData}:    StateHalted,
	{StateHalted, FailurePositionDesync}:     StateHalted,
	{StateHalted, FailureAuthError}:          StateHalted,
	{StateHalted, FailureExchangeHalt}:       StateHalted,
}

func init() {
	// The table must cover the full transition surface; a hole here is
	// a programming error, not a runtime condition.
	for _, s := range allStates {
		for _, f := range allFailures {
			if _, ok := stateTransitions[transitionKey{s, f}]; !ok {
				panic(fmt.Sprintf("catastrophe transition table missing (%s, %s)", s, f))
			}
		}
	}
}

const (
	// ForceResetPhrase is the exact operator confirmation required to
	// leave HALTED.
	ForceResetPhrase = "CONFIRM RESET"

	rejectionStormCount  = 5
	rejectionStormWindow = 10 * time.Second
	rateLimitStormCount  = 3
	rateLimitStormWindow = 60 * time.Second

	maxCatastropheEvents = 200
)

// CatastropheEvent records one state transition.
type CatastropheEvent struct {
	Timestamp     time.Time
	Type          FailureType
	Details       string
	PreviousState CatastropheState
	NewState      CatastropheState
}

// StateSummary is the snapshot exposed to persistence and ops tooling.
type StateSummary struct {
	State              CatastropheState
	EventCount         int
	LastEventTsNs      int64
	LastEventType      FailureType
	FailureCounters    map[FailureType]int
	RecoveryConditions []string
}

type windowedCounter struct {
	count       int
	windowStart time.Time
}

// CatastropheHandler is the process-wide failure escalation machine.
type CatastropheHandler struct {
	mu sync.RWMutex

	state  CatastropheState
	events []CatastropheEvent

	failureCounts map[FailureType]int
	rejections    windowedCounter
	rateLimits    windowedCounter

	// Named conditions that must all be true for AttemptRecovery.
	recoveryConditions []string

	onTransition func(from, to CatastropheState, failure FailureType, details string)
}

// NewCatastropheHandler creates a handler in NORMAL with the given
// recovery condition names.
func NewCatastropheHandler(recoveryConditions []string) *CatastropheHandler {
	return &CatastropheHandler{
		state:              StateNormal,
		failureCounts:      make(map[FailureType]int),
		recoveryConditions: recoveryConditions,
	}
}

// OnTransition sets a callback fired after every state change.
func (ch *CatastropheHandler) OnTransition(fn func(from, to CatastropheState, failure FailureType, details string)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onTransition = fn
}

// ReportFailure feeds a failure through the transition table.
func (ch *CatastropheHandler) ReportFailure(failure FailureType, details string) CatastropheState {
	ch.mu.Lock()

	prev := ch.state
	next := stateTransitions[transitionKey{prev, failure}]
	ch.failureCounts[failure]++
	ch.state = next
	ch.appendEventLocked(CatastropheEvent{
		Timestamp:     time.Now(),
		Type:          failure,
		Details:       details,
		PreviousState: prev,
		NewState:      next,
	})
	cb := ch.onTransition
	ch.mu.Unlock()

	if next != prev {
		log.Error().
			Str("failure", string(failure)).
			Str("from", string(prev)).
			Str("to", string(next)).
			Str("details", details).
			Msg("🚨 CATASTROPHE STATE ESCALATED")
		if cb != nil {
			cb(prev, next, failure, details)
		}
	} else {
		log.Warn().
			Str("failure", string(failure)).
			Str("state", string(prev)).
			Msg("Failure reported, state unchanged")
	}

	return next
}

// ReportRejection counts an order rejection; a storm of them within
// the window synthesizes an ORDER_REJECTION_STORM failure.
func (ch *CatastropheHandler) ReportRejection(details string) {
	if ch.bump(&ch.rejections, rejectionStormCount, rejectionStormWindow) {
		ch.ReportFailure(FailureRejectionStorm, fmt.Sprintf("%d rejections within %s: %s",
			rejectionStormCount, rejectionStormWindow, details))
	}
}

// ReportRateLimit counts an exchange rate-limit response; repeated
// hits within the window synthesize a RATE_LIMIT_STORM failure.
func (ch *CatastropheHandler) ReportRateLimit(details string) {
	if ch.bump(&ch.rateLimits, rateLimitStormCount, rateLimitStormWindow) {
		ch.ReportFailure(FailureRateLimitStorm, fmt.Sprintf("%d rate limits within %s: %s",
			rateLimitStormCount, rateLimitStormWindow, details))
	}
}

// bump advances a windowed counter, resetting it when its window
// lapses, and reports whether the threshold was crossed.
func (ch *CatastropheHandler) bump(c *windowedCounter, threshold int, window time.Duration) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	now := time.Now()
	if c.windowStart.IsZero() || now.Sub(c.windowStart) > window {
		c.count = 0
		c.windowStart = now
	}
	c.count++
	if c.count >= threshold {
		c.count = 0
		c.windowStart = time.Time{}
		return true
	}
	return false
}

// CanEnterPosition permits new positions only in NORMAL.
func (ch *CatastropheHandler) CanEnterPosition() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state == StateNormal
}

// CanExitPosition permits closing positions in every state but HALTED.
func (ch *CatastropheHandler) CanExitPosition() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state != StateHalted
}

// CanSubmitOrder permits order submission in every state but HALTED.
func (ch *CatastropheHandler) CanSubmitOrder() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state != StateHalted
}

// AttemptRecovery moves one step toward NORMAL when every named
// condition is satisfied. Refused outright from HALTED.
func (ch *CatastropheHandler) AttemptRecovery(conditions map[string]bool) (CatastropheState, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch ch.state {
	case StateHalted:
		return ch.state, fmt.Errorf("recovery refused from HALTED: force reset required")
	case StateNormal:
		return ch.state, nil
	}

	for _, name := range ch.recoveryConditions {
		ok, present := conditions[name]
		if !present || !ok {
			return ch.state, fmt.Errorf("recovery condition %q not satisfied", name)
		}
	}

	prev := ch.state
	if ch.state == StateCritical {
		ch.state = StateDegraded
	} else {
		ch.state = StateNormal
	}

	log.Info().
		Str("from", string(prev)).
		Str("to", string(ch.state)).
		Msg("✅ Catastrophe recovery step")

	return ch.state, nil
}

// ForceReset is the only path out of HALTED. The confirmation must
// match ForceResetPhrase exactly.
func (ch *CatastropheHandler) ForceReset(confirmation string) error {
	if confirmation != ForceResetPhrase {
		return fmt.Errorf("force reset refused: confirmation phrase mismatch")
	}

	ch.mu.Lock()
	prev := ch.state
	ch.state = StateNormal
	ch.rejections = windowedCounter{}
	ch.rateLimits = windowedCounter{}
	ch.mu.Unlock()

	log.Warn().
		Str("from", string(prev)).
		Msg("⚠️ Catastrophe handler force reset by operator")
	return nil
}

// State returns the current degradation level.
func (ch *CatastropheHandler) State() CatastropheState {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state
}

// Summary snapshots the handler for persistence and ops tooling.
func (ch *CatastropheHandler) Summary() StateSummary {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	s := StateSummary{
		State:              ch.state,
		EventCount:         len(ch.events),
		FailureCounters:    make(map[FailureType]int, len(ch.failureCounts)),
		RecoveryConditions: append([]string(nil), ch.recoveryConditions...),
	}
	for k, v := range ch.failureCounts {
		s.FailureCounters[k] = v
	}
	if n := len(ch.events); n > 0 {
		last := ch.events[n-1]
		s.LastEventTsNs = last.Timestamp.UnixNano()
		s.LastEventType = last.Type
	}
	return s
}

// Events returns a copy of the bounded event log.
func (ch *CatastropheHandler) Events() []CatastropheEvent {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return append([]CatastropheEvent(nil), ch.events...)
}

func (ch *CatastropheHandler) appendEventLocked(ev CatastropheEvent) {
	ch.events = append(ch.events, ev)
	if len(ch.events) > maxCatastropheEvents {
		ch.events = ch.events[len(ch.events)-maxCatastropheEvents:]
	}
}
