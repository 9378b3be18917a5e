// =============================
// Venue Order Book Core
// =============================
// This file implements the per-(symbol, venue) order book: price levels kept
// in B-trees, FIFO queues inside each level, and price-time priority matching.
//
// How it works:
// - Bids are ordered highest price first, asks lowest price first, so the best
//   level of either side is always the tree minimum.
// - Every mutation holds the book mutex; one book has a single logical writer.
// - Each mutation bumps the sequence number, which is the book's logical clock.
// - Synthetic top-of-book quotes live in two fixed slots instead of being
//   recreated under fresh ids on every tick.

package orderbook

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// DefaultMaxDepth is the snapshot depth used when none is requested
const DefaultMaxDepth = 50

// OrderBook is the matching book of one symbol on one venue
type OrderBook struct {
	Symbol string
	Venue  string

	mu       sync.RWMutex
	bids     *btree.BTreeG[*PriceLevel]
	asks     *btree.BTreeG[*PriceLevel]
	orders   map[string]*Order
	quotes   [2]*Order
	maxDepth int

	sequence    uint64
	lastUpdate  time.Time
	updateCount uint64
	tradeCount  uint64
	totalVolume int64

	logger *zap.Logger
}

// NewOrderBook creates an empty book. maxDepth <= 0 selects DefaultMaxDepth.
func NewOrderBook(symbol, venue string, maxDepth int, logger *zap.Logger) *OrderBook {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		Symbol: symbol,
		Venue:  venue,
		// bids: highest price sorts first
		bids: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
		orders:   make(map[string]*Order),
		maxDepth: maxDepth,
		logger:   logger.With(zap.String("symbol", symbol), zap.String("venue", venue)),
	}
}

func (ob *OrderBook) side(s Side) *btree.BTreeG[*PriceLevel] {
	if s == Bid {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) touch(ts time.Time) {
	ob.sequence++
	ob.updateCount++
	ob.lastUpdate = ts
}

// AddOrder inserts a resting order at the back of its price level
func (ob *OrderBook) AddOrder(o *Order) error {
	if o == nil || o.ID == "" {
		return fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}
	if isReserved(o.ID) {
		return fmt.Errorf("%w: %s", ErrReservedOrderID, o.ID)
	}
	if o.RemainingSize <= 0 {
		return fmt.Errorf("%w: order %s has no size", ErrInvalidOrder, o.ID)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, exists := ob.orders[o.ID]; exists {
		ob.logger.Warn("Order already exists", zap.String("order_id", o.ID))
		return fmt.Errorf("%w: %s", ErrDuplicateOrderID, o.ID)
	}

	ob.insert(o)
	ob.touch(o.Timestamp)
	return nil
}

func isReserved(id string) bool {
	return id == SyntheticBidID || id == SyntheticAskID || strings.HasPrefix(id, "synthetic_")
}

func (ob *OrderBook) insert(o *Order) {
	tree := ob.side(o.Side)
	level, ok := tree.Get(&PriceLevel{Price: o.Price})
	if !ok {
		level = newPriceLevel(o.Price)
		tree.Set(level)
	}
	level.add(o)
	ob.orders[o.ID] = o
}

// remove takes an order out of its level and the id index, pruning the level
func (ob *OrderBook) remove(o *Order) {
	level := o.level
	if level != nil {
		level.remove(o)
		if level.IsEmpty() {
			ob.side(o.Side).Delete(level)
		}
	}
	delete(ob.orders, o.ID)
	if o.synthetic {
		ob.quotes[o.Side] = nil
	}
}

// ModifyOrder changes the remaining size of a resting order in place.
// Time priority is kept; a size <= 0 removes the order.
func (ob *OrderBook) ModifyOrder(id string, newSize int64, ts time.Time) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.orders[id]
	if !ok {
		ob.logger.Warn("Order not found for modification", zap.String("order_id", id))
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	if newSize <= 0 {
		ob.remove(o)
	} else {
		o.level.resize(o, newSize)
		if newSize > o.Size {
			o.Size = newSize
		}
	}

	ob.touch(ts)
	return nil
}

// CancelOrder removes a resting order
func (ob *OrderBook) CancelOrder(id string, ts time.Time) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.orders[id]
	if !ok {
		ob.logger.Warn("Order not found for cancellation", zap.String("order_id", id))
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	ob.remove(o)
	ob.touch(ts)
	return nil
}

// ExecuteTrade matches a trade print against resting liquidity.
//
// A price at or through the best bid hits bids, otherwise a price at or
// through the best ask lifts asks. Levels are walked best first and orders
// inside a level strictly in arrival order. The walk stops at the first level
// worse than price or when size is used up. The ids of every touched order
// are returned; a trade that crosses nothing returns nil and leaves the book
// and its sequence number unchanged.
func (ob *OrderBook) ExecuteTrade(price decimal.Decimal, size int64, ts time.Time) []string {
	ids, _ := ob.executeTrade(price, size, ts)
	return ids
}

// Match is ExecuteTrade that also reports the executed quantity
func (ob *OrderBook) Match(price decimal.Decimal, size int64, ts time.Time) ([]string, int64) {
	return ob.executeTrade(price, size, ts)
}

func (ob *OrderBook) executeTrade(price decimal.Decimal, size int64, ts time.Time) ([]string, int64) {
	if size <= 0 {
		return nil, 0
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	var hit Side
	if best, ok := ob.bids.Min(); ok && price.LessThanOrEqual(best.Price) {
		hit = Bid
	} else if best, ok := ob.asks.Min(); ok && price.GreaterThanOrEqual(best.Price) {
		hit = Ask
	} else {
		ob.logger.Debug("Trade price does not cross the book", zap.String("price", price.String()))
		return nil, 0
	}
	return ob.consume(hit, size, price, ts)
}

// Sweep matches an aggressor on side against the opposite side, best price
// first, until size is filled or the next level is beyond limit. A zero limit
// sweeps without a price bound.
func (ob *OrderBook) Sweep(aggressor Side, size int64, limit decimal.Decimal, ts time.Time) ([]string, int64) {
	if size <= 0 {
		return nil, 0
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.consume(aggressor.Opposite(), size, limit, ts)
}

// consume fills resting orders of side hit in price-time priority, stopping
// at the first level worse than bound. Callers hold ob.mu.
func (ob *OrderBook) consume(hit Side, size int64, bound decimal.Decimal, ts time.Time) ([]string, int64) {
	bounded := bound.IsPositive()
	remaining := size
	var touched []string
	var filled []*Order

	ob.side(hit).Scan(func(level *PriceLevel) bool {
		if remaining <= 0 {
			return false
		}
		if bounded && ((hit == Bid && level.Price.LessThan(bound)) || (hit == Ask && level.Price.GreaterThan(bound))) {
			return false
		}
		for e := level.orders.Front(); e != nil && remaining > 0; e = e.Next() {
			o := e.Value.(*Order)
			remaining -= level.fill(o, remaining)
			touched = append(touched, o.ID)
			if o.IsFilled() {
				filled = append(filled, o)
			}
		}
		return true
	})

	// the tree cannot be mutated while scanning
	for _, o := range filled {
		ob.remove(o)
	}
	if len(touched) == 0 {
		return nil, 0
	}

	executed := size - remaining
	ob.sequence++
	ob.tradeCount++
	ob.totalVolume += executed
	ob.lastUpdate = ts

	return touched, executed
}

// ReplaceQuotes swaps the synthetic top-of-book quote of both sides.
// Every existing synthetic order is cancelled before the new quotes are
// placed; resting non-synthetic orders are never touched. A nil quote, or one
// without price or size, leaves that side without a synthetic order.
// It counts as a single mutation and returns the number of quotes placed.
// Quotes identical to the live ones only refresh the update time.
func (ob *OrderBook) ReplaceQuotes(bid, ask *Quote, ts time.Time) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if ob.quotesUnchanged(bid, ask) {
		ob.lastUpdate = ts
		return 0
	}

	var slots [2]*Order
	for s, o := range ob.quotes {
		if o != nil {
			ob.remove(o)
			slots[s] = o
		}
	}

	placed := 0
	for s, q := range [2]*Quote{bid, ask} {
		if q == nil || !q.Price.IsPositive() || q.Size <= 0 {
			continue
		}
		o := slots[s]
		if o == nil {
			o = &Order{synthetic: true, Symbol: ob.Symbol, Venue: ob.Venue, Side: Side(s), Type: Limit}
			if o.Side == Bid {
				o.ID = SyntheticBidID
			} else {
				o.ID = SyntheticAskID
			}
		}
		o.Price = q.Price
		o.Size = q.Size
		o.RemainingSize = q.Size
		o.Timestamp = ts
		ob.insert(o)
		ob.quotes[s] = o
		placed++
	}

	ob.touch(ts)
	return placed
}

// quotesUnchanged reports whether both slots already hold exactly bid and ask
func (ob *OrderBook) quotesUnchanged(bid, ask *Quote) bool {
	for s, q := range [2]*Quote{bid, ask} {
		o := ob.quotes[s]
		live := q != nil && q.Price.IsPositive() && q.Size > 0
		switch {
		case !live && o == nil:
		case live && o != nil && o.Price.Equal(q.Price) && o.RemainingSize == q.Size:
		default:
			return false
		}
	}
	return true
}

// Quotes returns copies of the current synthetic quotes
func (ob *OrderBook) Quotes() (bid, ask *Quote) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if o := ob.quotes[Bid]; o != nil {
		bid = &Quote{Price: o.Price, Size: o.RemainingSize}
	}
	if o := ob.quotes[Ask]; o != nil {
		ask = &Quote{Price: o.Price, Size: o.RemainingSize}
	}
	return bid, ask
}

// Order returns a copy of a resting order
func (ob *OrderBook) Order(id string) (Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	o, ok := ob.orders[id]
	if !ok {
		return Order{}, false
	}
	cp := *o
	cp.level, cp.elem = nil, nil
	return cp, true
}

// OrderCount returns the number of resting orders including quotes
func (ob *OrderBook) OrderCount() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orders)
}

// BestBidAsk returns the best level of each side, nil when a side is empty
func (ob *OrderBook) BestBidAsk() (bid, ask *Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if l, ok := ob.bids.Min(); ok {
		v := l.view()
		bid = &v
	}
	if l, ok := ob.asks.Min(); ok {
		v := l.view()
		ask = &v
	}
	return bid, ask
}

// Depth returns up to n levels per side, best first
func (ob *OrderBook) Depth(n int) (bids, asks []Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.depth(n)
}

func (ob *OrderBook) depth(n int) (bids, asks []Level) {
	bids = collect(ob.bids, n)
	asks = collect(ob.asks, n)
	return bids, asks
}

func collect(tree *btree.BTreeG[*PriceLevel], n int) []Level {
	if n <= 0 {
		return []Level{}
	}
	out := make([]Level, 0, min(n, tree.Len()))
	tree.Scan(func(level *PriceLevel) bool {
		out = append(out, level.view())
		return len(out) < n
	})
	return out
}

// Imbalance returns (bid size - ask size) / (bid size + ask size) over the
// top depth levels, 0 when both sides are empty
func (ob *OrderBook) Imbalance(depth int) float64 {
	bids, asks := ob.Depth(depth)

	var bidSize, askSize int64
	for _, l := range bids {
		bidSize += l.Size
	}
	for _, l := range asks {
		askSize += l.Size
	}
	if bidSize+askSize == 0 {
		return 0
	}
	return float64(bidSize-askSize) / float64(bidSize+askSize)
}

// EstimateMarketImpact walks the side an aggressor on side would trade
// against and returns the volume weighted price of filling size
func (ob *OrderBook) EstimateMarketImpact(side Side, size int64) MarketImpact {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	tree := ob.side(side.Opposite())
	best, ok := tree.Min()
	if !ok || size <= 0 {
		return MarketImpact{}
	}

	remaining := size
	cost := decimal.Zero
	worst := best.Price
	consumed := 0

	tree.Scan(func(level *PriceLevel) bool {
		take := min(remaining, level.TotalSize)
		cost = cost.Add(level.Price.Mul(decimal.NewFromInt(take)))
		remaining -= take
		worst = level.Price
		consumed++
		return remaining > 0
	})

	executed := size - remaining
	avg := decimal.Zero
	if executed > 0 {
		avg = cost.Div(decimal.NewFromInt(executed))
	}

	return MarketImpact{
		AveragePrice:   avg,
		WorstPrice:     worst,
		LevelsConsumed: consumed,
		ExecutedSize:   executed,
		Slippage:       worst.Sub(best.Price),
	}
}

// Snapshot returns an immutable view of the top depth levels.
// depth <= 0 selects the book's max depth.
func (ob *OrderBook) Snapshot(depth int) BookSnapshot {
	if depth <= 0 {
		depth = ob.maxDepth
	}

	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids, asks := ob.depth(depth)
	return BookSnapshot{
		Symbol:    ob.Symbol,
		Venue:     ob.Venue,
		Timestamp: ob.lastUpdate,
		Sequence:  ob.sequence,
		Bids:      bids,
		Asks:      asks,
	}
}

// Sequence returns the current logical clock of the book
func (ob *OrderBook) Sequence() uint64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.sequence
}

// LastUpdate returns the event time of the last mutation
func (ob *OrderBook) LastUpdate() time.Time {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastUpdate
}

// Stats returns the book counters
func (ob *OrderBook) Stats() Stats {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return Stats{
		Symbol:      ob.Symbol,
		Venue:       ob.Venue,
		Sequence:    ob.sequence,
		UpdateCount: ob.updateCount,
		TradeCount:  ob.tradeCount,
		TotalVolume: ob.totalVolume,
		OrderCount:  len(ob.orders),
		BidLevels:   ob.bids.Len(),
		AskLevels:   ob.asks.Len(),
		LastUpdate:  ob.lastUpdate,
	}
}

// Levels returns the live price levels of a side, best first. Callers must
// not mutate them; it exists for invariant checks.
func (ob *OrderBook) Levels(s Side) []*PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	tree := ob.side(s)
	out := make([]*PriceLevel, 0, tree.Len())
	tree.Scan(func(level *PriceLevel) bool {
		out = append(out, level)
		return true
	})
	return out
}
