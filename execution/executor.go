package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION ENGINE - Stability check + adaptive limit placement
// ═══════════════════════════════════════════════════════════════════════════════
//
// Per-signal order state machine:
//
//   PENDING → PLACED → { FILLED | PARTIALLY_FILLED | CANCELLED | REJECTED }
//
// The stability check is a cooperative wait: ProcessSignal runs in its
// own goroutine per signal, so the 1.5s delay never stalls other
// symbols. No order is placed before the delay elapses and the
// re-check passes.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderPlaced          OrderStatus = "PLACED"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

const (
	mediumConfidence = 60.0
	highConfidence   = 85.0

	stabilityDelay   = 1500 * time.Millisecond
	stabilityMaxMove = 0.0005 // 5 bps

	fillTimeout       = 1 * time.Second
	minFillAcceptance = 0.30 // partial fills below this are treated as unfilled

	aggressiveFillRate   = 0.575 // best +/- 1 tick, measured
	conservativeFillRate = 0.325 // at best

	timeInForcePostOnly = "GTX"
)

// Futures price increments per symbol.
var tickSizes = map[string]decimal.Decimal{
	"BTCUSDT": decimal.NewFromFloat(0.1),
	"ETHUSDT": decimal.NewFromFloat(0.01),
	"SOLUSDT": decimal.NewFromFloat(0.001),
}

var defaultTick = decimal.NewFromFloat(0.01)

// Signal is a directional entry request from the decision pipeline.
type Signal struct {
	Symbol     string
	Direction  types.Direction
	Confidence float64 // 0-100
	Quantity   decimal.Decimal
}

// Order is the exposed order object.
type Order struct {
	ID               string
	Symbol           string
	Side             types.Side
	Type             string
	Price            decimal.Decimal
	Quantity         decimal.Decimal
	FilledQuantity   decimal.Decimal
	TimeInForce      string
	Confidence       float64
	ExpectedFillRate float64
	Timestamp        time.Time
	Status           OrderStatus
}

// BookSource provides live orderbook snapshots.
type BookSource interface {
	Book(symbol string) *types.OrderBook
}

// ExchangeClient places and cancels orders. The wire protocol lives
// behind this interface - out of scope here.
type ExchangeClient interface {
	PlaceLimitOrder(ctx context.Context, order *Order) error
	CancelOrder(ctx context.Context, orderID string) error
}

// RejectReason explains a dropped signal. Drops are counted outcomes,
// not errors.
type RejectReason string

const (
	RejectLowConfidence RejectReason = "LOW_CONFIDENCE"
	RejectUnstablePrice RejectReason = "UNSTABLE_PRICE"
	RejectNoBook        RejectReason = "NO_ORDERBOOK"
	RejectPlacement     RejectReason = "PLACEMENT_FAILED"
)

// Stats are the engine's operational counters.
type Stats struct {
	Placed        int
	Filled        int
	Partial       int
	TimedOut      int
	LowConfidence int
	Unstable      int
}

// Engine is the execution engine.
type Engine struct {
	mu sync.Mutex

	client ExchangeClient
	books  BookSource

	orders map[string]*Order // live (PLACED) orders
	stats  Stats

	onRejection func(details string) // wired to the catastrophe handler
	onFill      func(o *Order)       // order reached FILLED / PARTIALLY_FILLED
	onCancel    func(o *Order)       // order cancelled without an accepted fill
}

// NewEngine creates an execution engine.
func NewEngine(client ExchangeClient, books BookSource) *Engine {
	return &Engine{
		client: client,
		books:  books,
		orders: make(map[string]*Order),
	}
}

// OnRejection sets a callback invoked when the exchange rejects an order.
func (e *Engine) OnRejection(fn func(details string)) {
	e.onRejection = fn
}

// OnFill sets a callback invoked when an order reaches an accepted
// fill state (FILLED or PARTIALLY_FILLED).
func (e *Engine) OnFill(fn func(o *Order)) {
	e.onFill = fn
}

// OnCancel sets a callback invoked when a placed order is cancelled,
// by the fill timeout or by a fill below the acceptance floor. The
// owner uses it to unwind sizing reservations.
func (e *Engine) OnCancel(fn func(o *Order)) {
	e.onCancel = fn
}

// ProcessSignal runs the full placement path for one signal. Blocking
// for up to the stability delay - callers run it in its own goroutine.
// A nil order with a RejectReason is a policy outcome.
func (e *Engine) ProcessSignal(ctx context.Context, sig Signal, waitForStability bool) (*Order, RejectReason) {
	if sig.Confidence < mediumConfidence {
		e.count(func(s *Stats) { s.LowConfidence++ })
		log.Debug().
			Str("symbol", sig.Symbol).
			Float64("confidence", sig.Confidence).
			Msg("Signal dropped: confidence below floor")
		return nil, RejectLowConfidence
	}

	if waitForStability {
		if ok := e.stabilityCheck(ctx, sig.Symbol); !ok {
			e.count(func(s *Stats) { s.Unstable++ })
			return nil, RejectUnstablePrice
		}
	}

	book := e.books.Book(sig.Symbol)
	if book == nil || book.BestBid().IsZero() || book.BestAsk().IsZero() {
		return nil, RejectNoBook
	}

	price, fillRate := adaptivePrice(sig, book)

	order := &Order{
		ID:               uuid.NewString(),
		Symbol:           sig.Symbol,
		Side:             sideFor(sig.Direction),
		Type:             "LIMIT",
		Price:            price,
		Quantity:         sig.Quantity,
		TimeInForce:      timeInForcePostOnly,
		Confidence:       sig.Confidence,
		ExpectedFillRate: fillRate,
		Timestamp:        time.Now(),
		Status:           OrderPending,
	}

	if err := e.client.PlaceLimitOrder(ctx, order); err != nil {
		order.Status = OrderRejected
		log.Error().Err(err).Str("symbol", sig.Symbol).Msg("Order placement failed")
		if e.onRejection != nil {
			e.onRejection(err.Error())
		}
		return nil, RejectPlacement
	}

	order.Status = OrderPlaced
	e.mu.Lock()
	e.orders[order.ID] = order
	e.stats.Placed++
	e.mu.Unlock()

	log.Info().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("price", order.Price.String()).
		Str("qty", order.Quantity.String()).
		Float64("expected_fill", order.ExpectedFillRate).
		Msg("🎯 Limit order placed")

	return order, ""
}

// stabilityCheck captures a reference mid price, waits the fixed delay
// and fails the signal if the market moved more than 5 bps meanwhile.
func (e *Engine) stabilityCheck(ctx context.Context, symbol string) bool {
	book := e.books.Book(symbol)
	if book == nil {
		return false
	}
	ref := book.MidPrice()
	if ref.IsZero() {
		return false
	}

	timer := time.NewTimer(stabilityDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	book = e.books.Book(symbol)
	if book == nil {
		return false
	}
	now := book.MidPrice()
	if now.IsZero() {
		return false
	}

	move, _ := now.Sub(ref).Div(ref).Abs().Float64()
	if move > stabilityMaxMove {
		log.Info().
			Str("symbol", symbol).
			Float64("move_bps", move*10000).
			Msg("Signal dropped: price unstable during confirmation delay")
		return false
	}
	return true
}

// adaptivePrice picks the limit price by confidence tier. High
// confidence pays up one tick for queue priority; medium rests at the
// touch. SHORT mirrors LONG.
func adaptivePrice(sig Signal, book *types.OrderBook) (decimal.Decimal, float64) {
	tick := tickFor(sig.Symbol)

	if sig.Direction == types.Long {
		if sig.Confidence >= highConfidence {
			return book.BestBid().Add(tick), aggressiveFillRate
		}
		return book.BestBid(), conservativeFillRate
	}

	if sig.Confidence >= highConfidence {
		return book.BestAsk().Sub(tick), aggressiveFillRate
	}
	return book.BestAsk(), conservativeFillRate
}

// CheckFillTimeouts flags orders unfilled past the timeout window and
// cancels them. Called by the owner's monitor loop.
func (e *Engine) CheckFillTimeouts(ctx context.Context, now time.Time) []*Order {
	e.mu.Lock()
	var expired []*Order
	for _, o := range e.orders {
		if o.Status == OrderPlaced && now.Sub(o.Timestamp) >= fillTimeout {
			expired = append(expired, o)
		}
	}
	e.mu.Unlock()

	for _, o := range expired {
		if err := e.client.CancelOrder(ctx, o.ID); err != nil {
			log.Error().Err(err).Str("order_id", o.ID).Msg("Cancel failed")
			continue
		}
		e.mu.Lock()
		o.Status = OrderCancelled
		delete(e.orders, o.ID)
		e.stats.TimedOut++
		e.mu.Unlock()
		log.Info().
			Str("order_id", o.ID).
			Str("symbol", o.Symbol).
			Msg("Order cancelled: fill timeout")
		if e.onCancel != nil {
			e.onCancel(o)
		}
	}
	return expired
}

// UpdateFillStatus applies a fill report. Fills below the 30%
// acceptance floor are treated as effectively unfilled.
func (e *Engine) UpdateFillStatus(orderID string, filled decimal.Decimal) OrderStatus {
	e.mu.Lock()

	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return OrderCancelled
	}

	o.FilledQuantity = filled
	ratio := decimal.Zero
	if o.Quantity.IsPositive() {
		ratio = filled.Div(o.Quantity)
	}

	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(1)):
		o.Status = OrderFilled
		e.stats.Filled++
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(minFillAcceptance)):
		o.Status = OrderPartiallyFilled
		e.stats.Partial++
	default:
		o.Status = OrderCancelled
	}

	if o.Status != OrderPlaced {
		delete(e.orders, orderID)
	}
	status := o.Status
	e.mu.Unlock()

	log.Debug().
		Str("order_id", orderID).
		Str("filled", filled.String()).
		Str("status", string(status)).
		Msg("Fill status updated")

	switch status {
	case OrderFilled, OrderPartiallyFilled:
		if e.onFill != nil {
			e.onFill(o)
		}
	case OrderCancelled:
		if e.onCancel != nil {
			e.onCancel(o)
		}
	}

	return status
}

// OpenOrders returns the live order count.
func (e *Engine) OpenOrders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

// GetStats returns a copy of the operational counters.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) count(fn func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.stats)
}

func sideFor(d types.Direction) types.Side {
	if d == types.Long {
		return types.Buy
	}
	return types.Sell
}

func tickFor(symbol string) decimal.Decimal {
	if t, ok := tickSizes[symbol]; ok {
		return t
	}
	return defaultTick
}
