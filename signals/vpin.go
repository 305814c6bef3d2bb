package signals

import (
	"sync"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VPIN - Volume-synchronized order-flow toxicity
// ═══════════════════════════════════════════════════════════════════════════════
//
// Trades accumulate into fixed-volume buckets split by taker side.
// Each completed bucket contributes |buy - sell| to a rolling window:
//
//   VPIN = sum(|buy_i - sell_i|) / (n * bucket_size)
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	vpinBucketSize = 100.0 // BTC-equivalent volume per bucket
	vpinWindow     = 50    // completed buckets retained
	vpinMinBuckets = 10    // below this the metric is not valid

	vpinHighLevel    = 0.5
	vpinExtremeLevel = 0.7
)

// Toxicity tier derived from the VPIN value.
type Toxicity string

const (
	ToxicityNormal  Toxicity = "NORMAL"
	ToxicityHigh    Toxicity = "HIGH"
	ToxicityExtreme Toxicity = "EXTREME"
)

type vpinBucket struct {
	buy  float64
	sell float64
}

// VPINCalculator accumulates taker flow into volume buckets.
type VPINCalculator struct {
	mu sync.Mutex

	bucketSize float64
	current    vpinBucket
	filled     float64
	buckets    []vpinBucket
}

// NewVPINCalculator creates a calculator with the default bucket size.
func NewVPINCalculator() *VPINCalculator {
	return &VPINCalculator{
		bucketSize: vpinBucketSize,
		buckets:    make([]vpinBucket, 0, vpinWindow),
	}
}

// UpdateTrade adds a taker execution, rolling buckets as they fill.
// A single large trade can complete several buckets.
func (v *VPINCalculator) UpdateTrade(t types.Trade) {
	qty := t.Quantity.InexactFloat64()
	if qty <= 0 {
		return
	}
	isSell := t.TakerSide() == types.Sell

	v.mu.Lock()
	defer v.mu.Unlock()

	for qty > 0 {
		space := v.bucketSize - v.filled
		take := qty
		if take > space {
			take = space
		}

		if isSell {
			v.current.sell += take
		} else {
			v.current.buy += take
		}
		v.filled += take
		qty -= take

		if v.filled >= v.bucketSize {
			v.buckets = append(v.buckets, v.current)
			if len(v.buckets) > vpinWindow {
				v.buckets = v.buckets[1:]
			}
			v.current = vpinBucket{}
			v.filled = 0
		}
	}
}

// Value returns the VPIN over the rolling window. ok is false until at
// least vpinMinBuckets buckets have completed.
func (v *VPINCalculator) Value() (vpin float64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n := len(v.buckets)
	if n < vpinMinBuckets {
		return 0, false
	}

	var imbalance float64
	for _, b := range v.buckets {
		d := b.buy - b.sell
		if d < 0 {
			d = -d
		}
		imbalance += d
	}
	return imbalance / (float64(n) * v.bucketSize), true
}

// CurrentToxicity maps the VPIN value onto a tier. Insufficient data
// reads as NORMAL - the breaker must not pause on a cold start.
func (v *VPINCalculator) CurrentToxicity() Toxicity {
	vpin, ok := v.Value()
	if !ok {
		return ToxicityNormal
	}
	switch {
	case vpin >= vpinExtremeLevel:
		return ToxicityExtreme
	case vpin >= vpinHighLevel:
		return ToxicityHigh
	default:
		return ToxicityNormal
	}
}
