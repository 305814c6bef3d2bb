package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/fadebot/execution"
	"github.com/web3guy0/fadebot/feeds"
	"github.com/web3guy0/fadebot/internal/config"
	"github.com/web3guy0/fadebot/risk"
	"github.com/web3guy0/fadebot/signals"
	"github.com/web3guy0/fadebot/storage"
	"github.com/web3guy0/fadebot/types"
)

type fixedBooks struct {
	book *types.OrderBook
}

func (fb *fixedBooks) Book(symbol string) *types.OrderBook { return fb.book }

type testRig struct {
	engine *Engine
	client *execution.PaperClient
	cat    *risk.CatastropheHandler
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	cfg := &config.Config{
		Symbols:           []string{"BTCUSDT"},
		PortfolioUSD:      decimal.NewFromInt(100000),
		DryRun:            true,
		TakeProfitPct:     decimal.NewFromFloat(0.004),
		StopLossPct:       decimal.NewFromFloat(0.0025),
		StabilityCheck:    false,
		PositionMonitorMs: 300,
		DatabasePath:      filepath.Join(t.TempDir(), "test.db"),
	}

	journal, err := storage.NewJournal(cfg.DatabasePath, "")
	require.NoError(t, err)

	sessions := signals.NewSessionManager()
	vpin := signals.NewVPINCalculator()
	cat := risk.NewCatastropheHandler([]string{"exchange_connected"})

	books := &fixedBooks{book: &types.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []types.Level{{Price: decimal.NewFromInt(50000), Size: decimal.NewFromInt(5)}},
		Asks:   []types.Level{{Price: decimal.NewFromFloat(50000.1), Size: decimal.NewFromInt(5)}},
	}}
	client := execution.NewPaperClient()

	engine := NewEngine(cfg, Deps{
		Feed:        feeds.NewBinanceFeed(cfg.Symbols),
		Exec:        execution.NewEngine(client, books),
		Sizer:       risk.NewPositionSizer(cfg.PortfolioUSD),
		Breaker:     risk.NewCircuitBreaker(sessions, vpin),
		Catastrophe: cat,
		Exits:       risk.NewExitManager(),
		Sessions:    sessions,
		Thresholds:  signals.NewThresholdManager(),
		VPIN:        vpin,
		Journal:     journal,
	})
	return &testRig{engine: engine, client: client, cat: cat}
}

// pressureDrain primes the classifier so the drain reads REAL_PRESSURE
// and returns the matching event.
func pressureDrain(e *Engine) signals.DrainEvent {
	st := e.symbols["BTCUSDT"]
	end := time.Now()
	start := end.Add(-time.Second)

	st.classifier.UpdateDepth(types.DepthSnapshot{
		Symbol:    "BTCUSDT",
		BidDepth:  decimal.NewFromInt(1000),
		AskDepth:  decimal.NewFromInt(1000),
		Timestamp: start,
	})
	st.classifier.UpdateDepth(types.DepthSnapshot{
		Symbol:    "BTCUSDT",
		BidDepth:  decimal.NewFromInt(600),
		AskDepth:  decimal.NewFromInt(1000),
		Timestamp: end,
	})
	st.classifier.UpdateTrade(types.Trade{
		Symbol:       "BTCUSDT",
		Price:        decimal.NewFromInt(50000),
		Quantity:     decimal.NewFromInt(300),
		IsBuyerMaker: true, // taker sold
		Timestamp:    start.Add(200 * time.Millisecond),
	})
	st.classifier.UpdateTrade(types.Trade{
		Symbol:       "BTCUSDT",
		Price:        decimal.NewFromInt(50000),
		Quantity:     decimal.NewFromInt(100),
		IsBuyerMaker: false,
		Timestamp:    start.Add(300 * time.Millisecond),
	})
	st.classifier.UpdateTrade(types.Trade{
		Symbol:       "BTCUSDT",
		Price:        decimal.NewFromInt(50000),
		Quantity:     decimal.NewFromInt(20),
		IsBuyerMaker: true,
		Timestamp:    end.Add(500 * time.Millisecond),
	})

	return signals.DrainEvent{
		Symbol:     "BTCUSDT",
		Side:       types.Sell,
		Start:      start,
		End:        end,
		Decline:    0.4,
		Confidence: 70,
	}
}

func seedPrice(e *Engine, price float64) {
	e.onTick(types.PriceTick{
		Symbol:    "BTCUSDT",
		Price:     decimal.NewFromFloat(price),
		Timestamp: time.Now(),
	})
}

func TestEngineOpensPositionOnRealPressure(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	seedPrice(e, 50000)

	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))

	open := e.GetOpenPositions()
	require.Len(t, open, 1)
	// A bid-side drain is sold into; the fade is long.
	assert.Equal(t, types.Long, open[0].Direction)
	assert.True(t, open[0].EntryPrice.Equal(decimal.NewFromInt(50000)))
	// SL -0.25%, TP +0.40% around the fill.
	assert.True(t, open[0].StopLoss.Equal(decimal.NewFromFloat(49875)), "got %s", open[0].StopLoss)
	assert.True(t, open[0].TakeProfit.Equal(decimal.NewFromFloat(50200)), "got %s", open[0].TakeProfit)

	trades, _, _, _ := e.GetStats()
	assert.Equal(t, 1, trades)
	assert.Len(t, rig.client.Placed(), 1)
	assert.False(t, e.sizer.Exposure().IsZero())
}

func TestEngineClosesOnTakeProfit(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	seedPrice(e, 50000)
	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))
	require.Len(t, e.GetOpenPositions(), 1)

	seedPrice(e, 50250) // through the 50200 target
	e.checkPositions()

	assert.Empty(t, e.GetOpenPositions())
	trades, wins, losses, pnl := e.GetStats()
	assert.Equal(t, 1, trades)
	assert.Equal(t, 1, wins)
	assert.Equal(t, 0, losses)
	assert.True(t, pnl.IsPositive())
	assert.True(t, e.sizer.Exposure().IsZero())

	recent, err := e.GetRecentTrades(5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "TAKE_PROFIT", recent[0].Reason)
}

func TestEngineClosesOnStopLoss(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	seedPrice(e, 50000)
	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))
	require.Len(t, e.GetOpenPositions(), 1)

	seedPrice(e, 49800) // through the 49875 stop
	e.checkPositions()

	assert.Empty(t, e.GetOpenPositions())
	_, _, losses, pnl := e.GetStats()
	assert.Equal(t, 1, losses)
	assert.True(t, pnl.IsNegative())
}

func TestEngineSuppressesUntradeableRegime(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	seedPrice(e, 50000)

	// No taker flow behind the drain: the classifier reads NOISE.
	st := e.symbols["BTCUSDT"]
	ev := signals.DrainEvent{
		Symbol:     "BTCUSDT",
		Side:       types.Sell,
		Start:      time.Now().Add(-time.Second),
		End:        time.Now(),
		Decline:    0.4,
		Confidence: 70,
	}
	e.handleDrain(st, ev)

	assert.Empty(t, e.GetOpenPositions())
	assert.Empty(t, rig.client.Placed())
}

func TestEngineSuppressesOutsideNormalState(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	seedPrice(e, 50000)

	rig.cat.ReportFailure(risk.FailureExchangeDisconnect, "ws dropped")
	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))

	assert.Empty(t, e.GetOpenPositions())
	assert.Empty(t, rig.client.Placed())
}

func TestEngineSuppressesWithoutReferencePrice(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine

	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))

	assert.Empty(t, e.GetOpenPositions())
	assert.Empty(t, rig.client.Placed())
}

func TestEngineReleasesExposureOnFillTimeout(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	e.cfg.DryRun = false
	seedPrice(e, 50000)

	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))

	// Placed but unfilled: the reservation is held, no position yet.
	require.Len(t, rig.client.Placed(), 1)
	assert.Empty(t, e.GetOpenPositions())
	assert.False(t, e.sizer.Exposure().IsZero())

	// The timeout sweep cancels the stale order and the reservation
	// must come back.
	e.exec.CheckFillTimeouts(context.Background(), time.Now().Add(2*time.Second))

	assert.NotEmpty(t, rig.client.Cancelled())
	assert.Empty(t, e.GetOpenPositions())
	assert.True(t, e.sizer.Exposure().IsZero(), "exposure held after cancel: %s", e.sizer.Exposure())
}

func TestEngineOpensPositionOnLiveFillReport(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	e.cfg.DryRun = false
	seedPrice(e, 50000)

	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))
	require.Len(t, rig.client.Placed(), 1)
	require.Empty(t, e.GetOpenPositions())

	order := rig.client.Placed()[0]
	e.exec.UpdateFillStatus(order.ID, order.Quantity)

	open := e.GetOpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, order.ID, open[0].ID)
	assert.False(t, e.sizer.Exposure().IsZero())
}

func TestEngineReleasesExposureOnSubFloorFill(t *testing.T) {
	rig := newTestRig(t)
	e := rig.engine
	e.cfg.DryRun = false
	seedPrice(e, 50000)

	e.handleDrain(e.symbols["BTCUSDT"], pressureDrain(e))
	require.Len(t, rig.client.Placed(), 1)

	// A 20% fill is below the acceptance floor: treated as unfilled.
	order := rig.client.Placed()[0]
	e.exec.UpdateFillStatus(order.ID, order.Quantity.Mul(decimal.NewFromFloat(0.2)))

	assert.Empty(t, e.GetOpenPositions())
	assert.True(t, e.sizer.Exposure().IsZero())
}

func TestEngineImplementsStatusProvider(t *testing.T) {
	rig := newTestRig(t)

	trades, wins, losses, pnl := rig.engine.GetStats()
	assert.Zero(t, trades)
	assert.Zero(t, wins)
	assert.Zero(t, losses)
	assert.True(t, pnl.IsZero())

	recent, err := rig.engine.GetRecentTrades(5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
