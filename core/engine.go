package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fadebot/execution"
	"github.com/web3guy0/fadebot/feeds"
	"github.com/web3guy0/fadebot/internal/config"
	"github.com/web3guy0/fadebot/risk"
	"github.com/web3guy0/fadebot/signals"
	"github.com/web3guy0/fadebot/storage"
	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow per symbol:
//
//   feed → volatility/session → adaptive threshold → drain detector
//        → regime classifier → breaker/catastrophe gates → sizer
//        → execution → exit manager
//
// Each drain signal is processed in its own goroutine so the execution
// engine's stability delay never starves other symbols.
//
// ═══════════════════════════════════════════════════════════════════════════════

// staleDataAfter is how long the feed may stay silent before the
// catastrophe handler hears about it.
const staleDataAfter = 30 * time.Second

// Notifier receives trade and catastrophe notifications (Telegram).
type Notifier interface {
	NotifyTrade(pos types.Position)
	NotifyExit(rec types.TradeRecord)
}

// pendingEntry holds the sizing reservation of an order that has been
// placed but not yet resolved into a fill or a cancel.
type pendingEntry struct {
	sizing    *risk.Sizing
	direction types.Direction
}

// symbolState bundles the per-symbol pipeline components.
type symbolState struct {
	vol        *signals.VolatilityCalculator
	classifier *signals.RegimeClassifier
	detector   *signals.DrainDetector
}

// Engine wires the decision pipeline together.
type Engine struct {
	mu sync.RWMutex

	cfg *config.Config

	feed        *feeds.BinanceFeed
	exec        *execution.Engine
	sizer       *risk.PositionSizer
	breaker     *risk.CircuitBreaker
	catastrophe *risk.CatastropheHandler
	exits       *risk.ExitManager
	sessions    *signals.SessionManager
	thresholds  *signals.ThresholdManager
	vpin        *signals.VPINCalculator
	journal     *storage.Journal
	live        *storage.LiveState
	notifier    Notifier

	symbols   map[string]*symbolState
	pending   map[string]pendingEntry // order ID -> unresolved reservation
	positions map[string]*types.Position
	lastPrice map[string]decimal.Decimal
	lastEvent time.Time

	running bool
	stopCh  chan struct{}

	totalTrades int
	winCount    int
	lossCount   int
	totalPnL    decimal.Decimal
}

// Deps are the externally constructed collaborators.
type Deps struct {
	Feed        *feeds.BinanceFeed
	Exec        *execution.Engine
	Sizer       *risk.PositionSizer
	Breaker     *risk.CircuitBreaker
	Catastrophe *risk.CatastropheHandler
	Exits       *risk.ExitManager
	Sessions    *signals.SessionManager
	Thresholds  *signals.ThresholdManager
	VPIN        *signals.VPINCalculator
	Journal     *storage.Journal
	Live        *storage.LiveState
}

// NewEngine creates the orchestrator.
func NewEngine(cfg *config.Config, d Deps) *Engine {
	e := &Engine{
		cfg:         cfg,
		feed:        d.Feed,
		exec:        d.Exec,
		sizer:       d.Sizer,
		breaker:     d.Breaker,
		catastrophe: d.Catastrophe,
		exits:       d.Exits,
		sessions:    d.Sessions,
		thresholds:  d.Thresholds,
		vpin:        d.VPIN,
		journal:     d.Journal,
		live:        d.Live,
		symbols:     make(map[string]*symbolState),
		pending:     make(map[string]pendingEntry),
		positions:   make(map[string]*types.Position),
		lastPrice:   make(map[string]decimal.Decimal),
		stopCh:      make(chan struct{}),
		totalPnL:    decimal.Zero,
	}

	for _, sym := range cfg.Symbols {
		e.symbols[sym] = &symbolState{
			vol:        signals.NewVolatilityCalculator(sym, d.Sessions),
			classifier: signals.NewRegimeClassifier(sym),
			detector:   signals.NewDrainDetector(sym),
		}
	}

	// Fill reports resolve reservations: a fill commits into a
	// position, a cancel releases the reserved exposure.
	e.exec.OnFill(e.onOrderFill)
	e.exec.OnCancel(e.onOrderCancel)
	return e
}

// SetNotifier wires the Telegram notifier.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Start launches the event and monitor loops.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.lastEvent = time.Now()
	e.mu.Unlock()

	e.feed.Start()
	go e.eventLoop()
	go e.monitorLoop()

	log.Info().Strs("symbols", e.cfg.Symbols).Msg("⚡ Engine started")
}

// Stop shuts the engine down.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
	e.feed.Stop()
	log.Info().Msg("Engine stopped")
}

// eventLoop consumes the market data streams.
func (e *Engine) eventLoop() {
	trades := e.feed.Trades()
	depth := e.feed.Depth()
	liquidations := e.feed.Liquidations()
	ticks := e.feed.Ticks()

	for {
		select {
		case <-e.stopCh:
			return
		case t := <-trades:
			e.touch()
			if st := e.state(t.Symbol); st != nil {
				st.classifier.UpdateTrade(t)
			}
			e.vpin.UpdateTrade(t)
		case d := <-depth:
			e.touch()
			e.onDepth(d)
		case l := <-liquidations:
			e.touch()
			if st := e.state(l.Symbol); st != nil {
				st.detector.OnLiquidation(l)
			}
		case tick := <-ticks:
			e.touch()
			e.onTick(tick)
		}
	}
}

func (e *Engine) state(symbol string) *symbolState {
	return e.symbols[symbol]
}

func (e *Engine) touch() {
	e.mu.Lock()
	e.lastEvent = time.Now()
	e.mu.Unlock()
}

func (e *Engine) onTick(tick types.PriceTick) {
	st := e.state(tick.Symbol)
	if st == nil {
		return
	}

	st.vol.UpdatePrice(tick.Timestamp, tick.Price.InexactFloat64())

	e.mu.Lock()
	e.lastPrice[tick.Symbol] = tick.Price
	e.mu.Unlock()
}

// onDepth feeds the classifier's depth window and runs drain detection
// against the current adaptive threshold.
func (e *Engine) onDepth(d types.DepthSnapshot) {
	st := e.state(d.Symbol)
	if st == nil {
		return
	}

	st.classifier.UpdateDepth(d)

	ratio, err := st.vol.Ratio(d.Timestamp)
	if err != nil {
		return // still warming up, or unregistered symbol caught at startup
	}

	threshold, err := e.thresholds.Calculate(d.Symbol, ratio)
	if err != nil {
		log.Error().Err(err).Str("symbol", d.Symbol).Msg("Threshold lookup failed")
		return
	}
	session := e.sessions.Current(d.Timestamp)
	threshold *= e.sessions.ThresholdMultiplier(session)

	if ev := st.detector.OnDepth(d, threshold); ev != nil {
		go e.handleDrain(st, *ev)
	}
}

// handleDrain runs classification, admission gates, sizing and
// execution for one detected drain. Runs in its own goroutine.
func (e *Engine) handleDrain(st *symbolState, ev signals.DrainEvent) {
	c := st.classifier.Classify(ev.Side, ev.Start, ev.End)

	if !signals.ShouldTrade(c.Regime, ev.Confidence) {
		e.suppress(ev, c, "regime not tradeable: "+string(c.Regime))
		return
	}

	if !e.catastrophe.CanEnterPosition() {
		e.suppress(ev, c, "catastrophe state "+string(e.catastrophe.State()))
		return
	}

	now := time.Now()
	if ok, reason := e.breaker.CheckSignal(now); !ok {
		e.suppress(ev, c, "circuit breaker: "+reason)
		return
	}

	session := e.sessions.Current(now)
	e.mu.RLock()
	openCount := len(e.positions)
	entryPrice := e.lastPrice[ev.Symbol]
	e.mu.RUnlock()

	if openCount >= e.sessions.MaxPositions(session) {
		e.suppress(ev, c, "session position cap")
		return
	}
	if entryPrice.IsZero() {
		e.suppress(ev, c, "no reference price")
		return
	}

	sizing, skip := e.sizer.Calculate(ev.Confidence, entryPrice, e.sessions.RiskMultiplier(session))
	if sizing == nil {
		e.suppress(ev, c, "sizer: "+string(skip))
		return
	}

	// Fade the drain: selling pressure into the bids is our long.
	direction := types.Long
	if ev.Side == types.Buy {
		direction = types.Short
	}

	e.journal.LogSignal(ev.Symbol, ev.Side, string(c.Regime), ev.Confidence, true, "")

	sig := execution.Signal{
		Symbol:     ev.Symbol,
		Direction:  direction,
		Confidence: ev.Confidence,
		Quantity:   sizing.Quantity,
	}

	order, reject := e.exec.ProcessSignal(context.Background(), sig, e.cfg.StabilityCheck)
	if order == nil {
		e.sizer.Release(sizing)
		log.Info().
			Str("symbol", ev.Symbol).
			Str("reason", string(reject)).
			Msg("Signal dropped at execution")
		return
	}

	// The reservation stays pending until the order resolves: OnFill
	// commits it into a position, OnCancel releases it.
	e.mu.Lock()
	e.pending[order.ID] = pendingEntry{sizing: sizing, direction: direction}
	e.mu.Unlock()

	// Dry run fills at the limit immediately; live fills arrive from
	// the user-data stream via UpdateFillStatus.
	if e.cfg.DryRun {
		e.exec.UpdateFillStatus(order.ID, order.Quantity)
	}
}

// onOrderFill turns an accepted fill into an open position, committing
// the pending reservation.
func (e *Engine) onOrderFill(order *execution.Order) {
	e.mu.Lock()
	pend, ok := e.pending[order.ID]
	delete(e.pending, order.ID)
	e.mu.Unlock()

	if !ok {
		log.Warn().Str("order_id", order.ID).Msg("Fill report for unknown order")
		return
	}
	e.openPosition(order, pend.sizing, pend.direction)
}

// onOrderCancel releases the exposure reserved for an order that never
// became a position (fill timeout or sub-floor fill).
func (e *Engine) onOrderCancel(order *execution.Order) {
	e.mu.Lock()
	pend, ok := e.pending[order.ID]
	delete(e.pending, order.ID)
	e.mu.Unlock()

	if !ok {
		return
	}
	e.sizer.Release(pend.sizing)
	log.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Msg("Exposure reservation released: order cancelled unfilled")
}

// openPosition registers a filled entry everywhere it needs to exist.
func (e *Engine) openPosition(order *execution.Order, sizing *risk.Sizing, direction types.Direction) {
	one := decimal.NewFromInt(1)
	var sl, tp decimal.Decimal
	if direction == types.Long {
		sl = order.Price.Mul(one.Sub(e.cfg.StopLossPct))
		tp = order.Price.Mul(one.Add(e.cfg.TakeProfitPct))
	} else {
		sl = order.Price.Mul(one.Add(e.cfg.StopLossPct))
		tp = order.Price.Mul(one.Sub(e.cfg.TakeProfitPct))
	}

	pos := types.Position{
		ID:         order.ID,
		Symbol:     order.Symbol,
		Direction:  direction,
		EntryPrice: order.Price,
		Size:       order.FilledQuantity,
		SizeUSD:    sizing.SizeUSD,
		EntryTime:  time.Now(),
		StopLoss:   sl,
		TakeProfit: tp,
	}

	e.sizer.Commit(sizing, pos.ID)
	e.exits.Track(pos)

	e.mu.Lock()
	e.positions[pos.ID] = &pos
	e.totalTrades++
	e.mu.Unlock()

	log.Info().
		Str("trade_id", pos.ID).
		Str("symbol", pos.Symbol).
		Str("direction", string(direction)).
		Str("entry", pos.EntryPrice.StringFixed(2)).
		Str("size_usd", pos.SizeUSD.StringFixed(2)).
		Msg("✅ Position opened")

	if e.notifier != nil {
		e.notifier.NotifyTrade(pos)
	}
}

// suppress journals a suppressed signal with its reason.
func (e *Engine) suppress(ev signals.DrainEvent, c signals.Classification, reason string) {
	log.Info().
		Str("symbol", ev.Symbol).
		Str("regime", string(c.Regime)).
		Str("reason", reason).
		Msg("Signal suppressed")
	e.journal.LogSignal(ev.Symbol, ev.Side, string(c.Regime), ev.Confidence, false, reason)
}

// monitorLoop polls open positions, order timeouts and feed liveness.
func (e *Engine) monitorLoop() {
	ticker := time.NewTicker(time.Duration(e.cfg.PositionMonitorMs) * time.Millisecond)
	defer ticker.Stop()

	staleTicker := time.NewTicker(staleDataAfter)
	defer staleTicker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.exec.CheckFillTimeouts(context.Background(), time.Now())
			e.checkPositions()
			e.publishLiveState()
		case <-staleTicker.C:
			e.checkFeedLiveness()
		}
	}
}

func (e *Engine) checkPositions() {
	e.mu.RLock()
	open := make([]*types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		open = append(open, p)
	}
	e.mu.RUnlock()

	now := time.Now()
	for _, pos := range open {
		e.mu.RLock()
		price := e.lastPrice[pos.Symbol]
		e.mu.RUnlock()
		if price.IsZero() {
			continue
		}

		exit := e.exits.CheckExit(pos.ID, price, now)
		if exit == nil {
			continue
		}

		if !e.catastrophe.CanExitPosition() {
			// HALTED: even exits are blocked; the position stays until
			// an operator force-resets.
			log.Error().Str("trade_id", pos.ID).Msg("Exit blocked: system HALTED")
			e.exits.Track(*pos) // re-arm so the exit fires after reset
			continue
		}

		e.closePosition(pos, exit)
	}
}

func (e *Engine) closePosition(pos *types.Position, exit *risk.ExitSignal) {
	e.mu.Lock()
	delete(e.positions, pos.ID)
	e.totalPnL = e.totalPnL.Add(exit.PnL)
	if exit.PnL.IsPositive() {
		e.winCount++
	} else {
		e.lossCount++
	}
	e.mu.Unlock()

	e.sizer.RecordResult(pos.ID, exit.PnL)

	rec := types.TradeRecord{
		ID:        pos.ID,
		Symbol:    pos.Symbol,
		Direction: pos.Direction,
		Entry:     pos.EntryPrice,
		Exit:      exit.ExitPrice,
		Size:      pos.Size,
		PnL:       exit.PnL,
		Reason:    string(exit.Reason),
		ClosedAt:  exit.ExitTime,
	}
	e.journal.LogTrade(rec, exit.MFE, exit.TimeInTrade)

	if e.notifier != nil {
		e.notifier.NotifyExit(rec)
	}
}

// checkFeedLiveness escalates when the feed goes quiet.
func (e *Engine) checkFeedLiveness() {
	e.mu.RLock()
	last := e.lastEvent
	e.mu.RUnlock()

	if since := time.Since(last); since > staleDataAfter {
		e.catastrophe.ReportFailure(risk.FailureStaleMarketData,
			"no market data for "+since.Round(time.Second).String())
	}
}

func (e *Engine) publishLiveState() {
	if e.live == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.live.PublishPositions(ctx, e.GetOpenPositions())
	e.live.PublishCatastrophe(ctx, e.catastrophe.Summary())
}

// GetStats implements bot.StatusProvider.
func (e *Engine) GetStats() (trades, wins, losses int, pnl decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalTrades, e.winCount, e.lossCount, e.totalPnL
}

// GetOpenPositions implements bot.StatusProvider.
func (e *Engine) GetOpenPositions() []types.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// GetRecentTrades implements bot.StatusProvider.
func (e *Engine) GetRecentTrades(limit int) ([]types.TradeRecord, error) {
	logs, err := e.journal.RecentTrades(limit)
	if err != nil {
		return nil, err
	}

	out := make([]types.TradeRecord, len(logs))
	for i, t := range logs {
		out[i] = types.TradeRecord{
			ID:        t.ID,
			Symbol:    t.Symbol,
			Direction: types.Direction(t.Direction),
			Entry:     t.Entry,
			Exit:      t.Exit,
			Size:      t.Size,
			PnL:       t.PnL,
			Reason:    t.Reason,
			ClosedAt:  t.CreatedAt,
		}
	}
	return out, nil
}
