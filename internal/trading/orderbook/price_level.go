package orderbook

import (
	"container/list"

	"github.com/shopspring/decimal"
)

// PriceLevel holds all orders at a given price in arrival order.
// TotalSize is always the sum of RemainingSize over its orders.
type PriceLevel struct {
	Price     decimal.Decimal
	TotalSize int64
	orders    *list.List
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Price: price, orders: list.New()}
}

// OrderCount returns the number of resting orders
func (pl *PriceLevel) OrderCount() int {
	return pl.orders.Len()
}

// Orders returns the resting orders in FIFO order
func (pl *PriceLevel) Orders() []*Order {
	out := make([]*Order, 0, pl.orders.Len())
	for e := pl.orders.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Order))
	}
	return out
}

// IsEmpty reports whether the level should be pruned
func (pl *PriceLevel) IsEmpty() bool {
	return pl.orders.Len() == 0 || pl.TotalSize <= 0
}

func (pl *PriceLevel) view() Level {
	return Level{Price: pl.Price, Size: pl.TotalSize, OrderCount: pl.orders.Len()}
}

func (pl *PriceLevel) add(o *Order) {
	o.level = pl
	o.elem = pl.orders.PushBack(o)
	pl.TotalSize += o.RemainingSize
}

func (pl *PriceLevel) remove(o *Order) {
	if o.elem == nil || o.level != pl {
		return
	}
	pl.orders.Remove(o.elem)
	pl.TotalSize -= o.RemainingSize
	o.elem = nil
	o.level = nil
}

// resize keeps time priority and adjusts the level total by the delta
func (pl *PriceLevel) resize(o *Order, newSize int64) {
	pl.TotalSize += newSize - o.RemainingSize
	o.RemainingSize = newSize
}

// fill consumes up to size from o and returns the executed amount
func (pl *PriceLevel) fill(o *Order, size int64) int64 {
	executed := size
	if o.RemainingSize < executed {
		executed = o.RemainingSize
	}
	o.RemainingSize -= executed
	pl.TotalSize -= executed
	return executed
}
