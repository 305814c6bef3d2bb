package execution

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER CLIENT - Dry-run exchange client
// ═══════════════════════════════════════════════════════════════════════════════
//
// Stands in for the real order gateway. Keeps the same rate limiting
// discipline the live client needs (Binance futures order endpoints
// are weight-limited) so dry runs exercise the same waits.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	ordersPerSecond = 5
	orderBurst      = 10
)

// PaperClient acknowledges every order without touching an exchange.
type PaperClient struct {
	mu      sync.Mutex
	limiter *rate.Limiter

	placed    []Order
	cancelled []string
}

// NewPaperClient creates a dry-run client.
func NewPaperClient() *PaperClient {
	return &PaperClient{
		limiter: rate.NewLimiter(rate.Limit(ordersPerSecond), orderBurst),
	}
}

// PlaceLimitOrder records the order and acks it.
func (pc *PaperClient) PlaceLimitOrder(ctx context.Context, order *Order) error {
	if err := pc.limiter.Wait(ctx); err != nil {
		return err
	}

	pc.mu.Lock()
	pc.placed = append(pc.placed, *order)
	pc.mu.Unlock()

	log.Debug().
		Str("order_id", order.ID).
		Str("symbol", order.Symbol).
		Msg("[paper] order accepted")
	return nil
}

// CancelOrder records the cancel and acks it.
func (pc *PaperClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := pc.limiter.Wait(ctx); err != nil {
		return err
	}

	pc.mu.Lock()
	pc.cancelled = append(pc.cancelled, orderID)
	pc.mu.Unlock()
	return nil
}

// Placed returns a copy of all accepted orders.
func (pc *PaperClient) Placed() []Order {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]Order(nil), pc.placed...)
}

// Cancelled returns the IDs of all cancelled orders.
func (pc *PaperClient) Cancelled() []string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]string(nil), pc.cancelled...)
}
