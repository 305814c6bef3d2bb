package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE FUTURES FEED - aggTrade / depth / forceOrder / markPrice
// ═══════════════════════════════════════════════════════════════════════════════
//
// One combined-stream websocket per process. Per symbol we subscribe:
//
//   <sym>@aggTrade       taker executions with the maker flag
//   <sym>@depth20@100ms  top-20 book (summed into DepthSnapshots)
//   <sym>@forceOrder     liquidations - the fade trigger
//   <sym>@markPrice@1s   mark price ticks for volatility/exit checks
//
// Consumers read from buffered channels; a slow consumer drops events
// rather than stalling the read loop.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	futuresWSBase  = "wss://fstream.binance.com/stream"
	channelBuffer  = 512
	reconnectDelay = 5 * time.Second
)

// BinanceFeed streams futures market data for a set of symbols.
type BinanceFeed struct {
	mu sync.RWMutex

	url     string
	symbols []string
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}

	books map[string]*types.OrderBook

	trades       chan types.Trade
	depth        chan types.DepthSnapshot
	liquidations chan types.Liquidation
	ticks        chan types.PriceTick

	onDisconnect func() // wired to the catastrophe handler
}

// NewBinanceFeed creates a feed for the given symbols.
func NewBinanceFeed(symbols []string) *BinanceFeed {
	streams := make([]string, 0, len(symbols)*4)
	for _, s := range symbols {
		ls := strings.ToLower(s)
		streams = append(streams,
			ls+"@aggTrade",
			ls+"@depth20@100ms",
			ls+"@forceOrder",
			ls+"@markPrice@1s",
		)
	}

	return &BinanceFeed{
		url:          futuresWSBase + "?streams=" + strings.Join(streams, "/"),
		symbols:      symbols,
		stopCh:       make(chan struct{}),
		books:        make(map[string]*types.OrderBook),
		trades:       make(chan types.Trade, channelBuffer),
		depth:        make(chan types.DepthSnapshot, channelBuffer),
		liquidations: make(chan types.Liquidation, channelBuffer),
		ticks:        make(chan types.PriceTick, channelBuffer),
	}
}

// OnDisconnect sets a callback fired when the stream drops.
func (f *BinanceFeed) OnDisconnect(fn func()) {
	f.onDisconnect = fn
}

// Start connects and begins streaming.
func (f *BinanceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.runWebSocket()
	log.Info().Strs("symbols", f.symbols).Msg("📈 Binance futures feed started")
}

// Stop closes the connection and stops the read loop.
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Binance feed stopped")
}

// Trades returns the taker execution stream.
func (f *BinanceFeed) Trades() <-chan types.Trade { return f.trades }

// Depth returns the depth snapshot stream.
func (f *BinanceFeed) Depth() <-chan types.DepthSnapshot { return f.depth }

// Liquidations returns the forced-order stream.
func (f *BinanceFeed) Liquidations() <-chan types.Liquidation { return f.liquidations }

// Ticks returns the mark price stream.
func (f *BinanceFeed) Ticks() <-chan types.PriceTick { return f.ticks }

// Book returns the latest orderbook for a symbol (nil before the
// first depth message). Implements execution.BookSource.
func (f *BinanceFeed) Book(symbol string) *types.OrderBook {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.books[symbol]
}

func (f *BinanceFeed) runWebSocket() {
	for f.isRunning() {
		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket connection failed")
			time.Sleep(reconnectDelay)
			continue
		}

		f.readMessages()

		if f.isRunning() {
			log.Warn().Msg("WebSocket disconnected, reconnecting...")
			if f.onDisconnect != nil {
				f.onDisconnect()
			}
			time.Sleep(time.Second)
		}
	}
}

func (f *BinanceFeed) isRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

func (f *BinanceFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	return nil
}

// streamMessage is the combined-stream envelope.
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (f *BinanceFeed) readMessages() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Msg("Unparseable stream message")
			continue
		}
		f.dispatch(msg)
	}
}

func (f *BinanceFeed) dispatch(msg streamMessage) {
	switch {
	case strings.Contains(msg.Stream, "@aggTrade"):
		f.handleAggTrade(msg.Data)
	case strings.Contains(msg.Stream, "@depth"):
		f.handleDepth(msg.Stream, msg.Data)
	case strings.Contains(msg.Stream, "@forceOrder"):
		f.handleForceOrder(msg.Data)
	case strings.Contains(msg.Stream, "@markPrice"):
		f.handleMarkPrice(msg.Data)
	}
}

func (f *BinanceFeed) handleAggTrade(data json.RawMessage) {
	var ev struct {
		Symbol   string `json:"s"`
		Price    string `json:"p"`
		Quantity string `json:"q"`
		Maker    bool   `json:"m"`
		TradeTs  int64  `json:"T"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	price, err1 := decimal.NewFromString(ev.Price)
	qty, err2 := decimal.NewFromString(ev.Quantity)
	if err1 != nil || err2 != nil {
		return
	}

	send(f.trades, types.Trade{
		Symbol:       ev.Symbol,
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: ev.Maker,
		Timestamp:    time.UnixMilli(ev.TradeTs),
	})
}

func (f *BinanceFeed) handleDepth(stream string, data json.RawMessage) {
	var ev struct {
		Symbol  string     `json:"s"`
		EventTs int64      `json:"E"`
		Bids    [][]string `json:"b"`
		Asks    [][]string `json:"a"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	symbol := ev.Symbol
	if symbol == "" {
		symbol = strings.ToUpper(strings.SplitN(stream, "@", 2)[0])
	}

	book := &types.OrderBook{Symbol: symbol}
	bidDepth, askDepth := decimal.Zero, decimal.Zero

	for _, lvl := range ev.Bids {
		if l, ok := parseLevel(lvl); ok {
			book.Bids = append(book.Bids, l)
			bidDepth = bidDepth.Add(l.Size)
		}
	}
	for _, lvl := range ev.Asks {
		if l, ok := parseLevel(lvl); ok {
			book.Asks = append(book.Asks, l)
			askDepth = askDepth.Add(l.Size)
		}
	}

	f.mu.Lock()
	f.books[symbol] = book
	f.mu.Unlock()

	send(f.depth, types.DepthSnapshot{
		Symbol:    symbol,
		BidDepth:  bidDepth,
		AskDepth:  askDepth,
		Timestamp: time.UnixMilli(ev.EventTs),
	})
}

func (f *BinanceFeed) handleForceOrder(data json.RawMessage) {
	var ev struct {
		Order struct {
			Symbol   string `json:"s"`
			Side     string `json:"S"`
			Quantity string `json:"q"`
			AvgPrice string `json:"ap"`
			TradeTs  int64  `json:"T"`
		} `json:"o"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	price, err1 := decimal.NewFromString(ev.Order.AvgPrice)
	qty, err2 := decimal.NewFromString(ev.Order.Quantity)
	if err1 != nil || err2 != nil {
		return
	}

	send(f.liquidations, types.Liquidation{
		Symbol:    ev.Order.Symbol,
		Side:      types.Side(ev.Order.Side),
		Price:     price,
		Quantity:  qty,
		Timestamp: time.UnixMilli(ev.Order.TradeTs),
	})
}

func (f *BinanceFeed) handleMarkPrice(data json.RawMessage) {
	var ev struct {
		Symbol  string `json:"s"`
		Price   string `json:"p"`
		EventTs int64  `json:"E"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return
	}

	send(f.ticks, types.PriceTick{
		Symbol:    ev.Symbol,
		Price:     price,
		Timestamp: time.UnixMilli(ev.EventTs),
	})
}

func parseLevel(lvl []string) (types.Level, bool) {
	if len(lvl) < 2 {
		return types.Level{}, false
	}
	price, err1 := decimal.NewFromString(lvl[0])
	size, err2 := decimal.NewFromString(lvl[1])
	if err1 != nil || err2 != nil {
		return types.Level{}, false
	}
	return types.Level{Price: price, Size: size}, true
}

// send drops the event if the consumer is behind.
func send[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
