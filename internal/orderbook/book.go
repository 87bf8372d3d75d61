// Package orderbook maintains a local mirror of one market's order book
// from an ordered stream of SNAPSHOT/DELTA updates.
//
// Book is concurrency-safe (RWMutex protected) and derives the values the
// rest of the bot quotes off of: MidPrice, BestBidAsk, TopN. It is the
// Go-side state machine for spec §4.1.
package orderbook

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/pkg/types"
)

// epsilon is the size below which a level is considered removed. Matches
// the ε-pruning threshold used throughout the estimator/orderbook design.
var epsilon = decimal.New(1, -9)

// level is one (price, size) pair tracked internally.
type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// Book mirrors one market's order book: bids (desc) and asks (asc), kept
// as sorted slices rather than a map so top_n never has to sort on read.
type Book struct {
	mu      sync.RWMutex
	market  string
	seq     int64
	bids    []level // sorted best (highest) to worst
	asks    []level // sorted best (lowest) to worst
	updated time.Time
	crossed bool // best_bid >= best_ask after the last apply
}

// New creates an empty book for the given market.
func New(market string) *Book {
	return &Book{market: market}
}

// Apply consumes one SNAPSHOT or DELTA update. Out-of-order updates
// (update.Seq <= current seq) are dropped; everything else always
// updates state and timestamp even if the book ends up crossed, per
// spec §4.1 ("update is kept, to avoid stalls").
func (b *Book) Apply(u types.BookUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u.Seq <= b.seq && b.seq != 0 {
		return
	}

	switch u.Type {
	case types.Snapshot:
		b.bids = applySnapshotSide(nil, u.Bids, false)
		b.asks = applySnapshotSide(nil, u.Asks, true)
	case types.Delta:
		b.bids = applyDeltaSide(b.bids, u.Bids, false)
		b.asks = applyDeltaSide(b.asks, u.Asks, true)
	default:
		return
	}

	b.seq = u.Seq
	b.updated = time.Now()
	b.crossed = isCrossed(b.bids, b.asks)
}

// applySnapshotSide replaces a side wholesale: absolute sizes, rejecting
// non-positive prices and pruning sizes <= epsilon.
func applySnapshotSide(_ []level, in []types.PriceLevel, ascending bool) []level {
	out := make([]level, 0, len(in))
	for _, pl := range in {
		if pl.Price.Sign() <= 0 {
			continue
		}
		if pl.Size.Cmp(epsilon) <= 0 {
			continue
		}
		out = append(out, level{price: pl.Price, size: pl.Size})
	}
	sortLevels(out, ascending)
	return out
}

// applyDeltaSide applies additive quantity changes on top of cur, per
// spec §4.1 / §9 OQ-i: new = cur + q, removed if new <= epsilon. A level
// absent from cur is treated as starting at zero.
func applyDeltaSide(cur []level, in []types.PriceLevel, ascending bool) []level {
	idx := make(map[string]int, len(cur))
	for i, lv := range cur {
		idx[lv.price.String()] = i
	}

	out := make([]level, len(cur))
	copy(out, cur)

	for _, pl := range in {
		if pl.Price.Sign() <= 0 {
			continue
		}
		key := pl.Price.String()
		if i, ok := idx[key]; ok {
			out[i].size = out[i].size.Add(pl.Size)
		} else {
			out = append(out, level{price: pl.Price, size: pl.Size})
			idx[key] = len(out) - 1
		}
	}

	pruned := out[:0]
	for _, lv := range out {
		if lv.size.Cmp(epsilon) > 0 {
			pruned = append(pruned, lv)
		}
	}
	sortLevels(pruned, ascending)
	return pruned
}

func sortLevels(ls []level, ascending bool) {
	sort.Slice(ls, func(i, j int) bool {
		if ascending {
			return ls[i].price.LessThan(ls[j].price)
		}
		return ls[i].price.GreaterThan(ls[j].price)
	})
}

func isCrossed(bids, asks []level) bool {
	if len(bids) == 0 || len(asks) == 0 {
		return false
	}
	return bids[0].price.GreaterThanOrEqual(asks[0].price)
}

// BestBidAsk returns the top-of-book bid/ask. It reports ok=false both
// when a side is empty and when the book is currently crossed (best_bid
// >= best_ask) — callers must wait for a later update to restore the
// invariant, per spec §4.1.
func (b *Book) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 || b.crossed {
		return decimal.Zero, decimal.Zero, false
	}
	return b.bids[0].price, b.asks[0].price, true
}

// MidPrice returns (bestBid+bestAsk)/2, or false under the same
// conditions as BestBidAsk.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// TopN returns up to k levels per side, each sorted best-to-worst.
func (b *Book) TopN(k int) (bids, asks []types.PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids = toPriceLevels(b.bids, k)
	asks = toPriceLevels(b.asks, k)
	return bids, asks
}

func toPriceLevels(ls []level, k int) []types.PriceLevel {
	if k > len(ls) {
		k = len(ls)
	}
	out := make([]types.PriceLevel, k)
	for i := 0; i < k; i++ {
		out[i] = types.PriceLevel{Price: ls[i].price, Size: ls[i].size}
	}
	return out
}

// Snapshot returns a full DepthSnapshot of the book's current state.
func (b *Book) Snapshot() types.DepthSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return types.DepthSnapshot{
		TimestampMs: b.updated.UnixMilli(),
		Market:      b.market,
		Seq:         b.seq,
		Bids:        toPriceLevels(b.bids, len(b.bids)),
		Asks:        toPriceLevels(b.asks, len(b.asks)),
	}
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last applied update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Seq returns the last applied update's sequence number.
func (b *Book) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}
