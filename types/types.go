package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction of a position or signal
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Side of an order or drain
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Trade is a single taker execution from the aggTrade stream.
// IsBuyerMaker=true means the buyer was passive, i.e. the taker sold.
type Trade struct {
	Symbol       string
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool
	Timestamp    time.Time
}

// TakerSide returns who crossed the spread.
func (t Trade) TakerSide() Side {
	if t.IsBuyerMaker {
		return Sell
	}
	return Buy
}

// DepthSnapshot is the summed resting depth on each side of the book.
type DepthSnapshot struct {
	Symbol    string
	BidDepth  decimal.Decimal
	AskDepth  decimal.Decimal
	Timestamp time.Time
}

// Level is a single price level in the order book.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a top-of-book snapshot. Bids and Asks are sorted best-first.
type OrderBook struct {
	Symbol string
	Bids   []Level
	Asks   []Level
}

// BestBid returns the highest bid, or zero if the book is empty.
func (ob *OrderBook) BestBid() decimal.Decimal {
	if len(ob.Bids) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero if the book is empty.
func (ob *OrderBook) BestAsk() decimal.Decimal {
	if len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Asks[0].Price
}

// MidPrice returns (bid+ask)/2, or zero if either side is empty.
func (ob *OrderBook) MidPrice() decimal.Decimal {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Zero
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}

// Liquidation is a forced order from the forceOrder stream. A SELL
// liquidation is a long position being force-closed into the bids.
type Liquidation struct {
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// PriceTick is a mark/mid price update for one symbol.
type PriceTick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// Position is one open trade tracked by the exit manager.
type Position struct {
	ID         string
	Symbol     string
	Direction  Direction
	EntryPrice decimal.Decimal
	Size       decimal.Decimal
	SizeUSD    decimal.Decimal
	EntryTime  time.Time
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// TradeRecord is a closed trade for display (Telegram, journal queries).
type TradeRecord struct {
	ID        string
	Symbol    string
	Direction Direction
	Entry     decimal.Decimal
	Exit      decimal.Decimal
	Size      decimal.Decimal
	PnL       decimal.Decimal
	Reason    string
	ClosedAt  time.Time
}
