package orderbook

import (
	"container/list"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateOrderID is returned when an order id is already resting in the book
	ErrDuplicateOrderID = errors.New("duplicate order id")
	// ErrOrderNotFound is returned when modifying or cancelling an unknown order
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOrder is returned for orders with no size
	ErrInvalidOrder = errors.New("invalid order")
	// ErrReservedOrderID is returned when a caller tries to use a quote slot id
	ErrReservedOrderID = errors.New("reserved order id")
)

// Quote slot ids, one per side
const (
	SyntheticBidID = "synthetic_bid"
	SyntheticAskID = "synthetic_ask"
)

// Side of a resting order
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts bid/buy and ask/sell
func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "bid", "buy", "BID", "BUY":
		*s = Bid
	case "ask", "sell", "ASK", "SELL":
		*s = Ask
	default:
		return fmt.Errorf("invalid side %q", string(text))
	}
	return nil
}

// Opposite returns the side an aggressor on s trades against
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// OrderType of a resting order
type OrderType int

const (
	Limit OrderType = iota
	Market
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	case Stop:
		return "stop"
	case StopLimit:
		return "stop_limit"
	default:
		return "unknown"
	}
}

// Order is a resting order owned by exactly one PriceLevel while in the book
type Order struct {
	ID            string
	Symbol        string
	Venue         string
	Side          Side
	Price         decimal.Decimal
	Size          int64
	RemainingSize int64
	Timestamp     time.Time
	Type          OrderType

	level     *PriceLevel
	elem      *list.Element
	synthetic bool
}

// NewOrder creates a limit order with RemainingSize initialised to size
func NewOrder(id, symbol, venue string, side Side, price decimal.Decimal, size int64, ts time.Time) *Order {
	return &Order{
		ID:            id,
		Symbol:        symbol,
		Venue:         venue,
		Side:          side,
		Price:         price,
		Size:          size,
		RemainingSize: size,
		Timestamp:     ts,
		Type:          Limit,
	}
}

// IsFilled reports whether nothing remains to execute
func (o *Order) IsFilled() bool {
	return o.RemainingSize <= 0
}

// IsSynthetic reports whether the order lives in a quote slot
func (o *Order) IsSynthetic() bool {
	return o.synthetic
}

// Quote is a synthetic top-of-book price and size
type Quote struct {
	Price decimal.Decimal
	Size  int64
}

// Level is an immutable view of one price level
type Level struct {
	Price      decimal.Decimal `json:"price"`
	Size       int64           `json:"size"`
	OrderCount int             `json:"order_count"`
}

// BookSnapshot is a depth-limited view of a book at one sequence number
type BookSnapshot struct {
	Symbol    string    `json:"symbol"`
	Venue     string    `json:"venue"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
}

// BestBid returns the top bid level
func (s BookSnapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level
func (s BookSnapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Spread returns best ask minus best bid when both sides exist
func (s BookSnapshot) Spread() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Mid returns the midpoint when both sides exist
func (s BookSnapshot) Mid() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// MarketImpact estimates the cost of sweeping the opposite side
type MarketImpact struct {
	AveragePrice   decimal.Decimal `json:"average_price"`
	WorstPrice     decimal.Decimal `json:"worst_price"`
	LevelsConsumed int             `json:"levels_consumed"`
	ExecutedSize   int64           `json:"executed_size"`
	Slippage       decimal.Decimal `json:"slippage"`
}

// Stats are the book counters
type Stats struct {
	Symbol      string    `json:"symbol"`
	Venue       string    `json:"venue"`
	Sequence    uint64    `json:"sequence"`
	UpdateCount uint64    `json:"update_count"`
	TradeCount  uint64    `json:"trade_count"`
	TotalVolume int64     `json:"total_volume"`
	OrderCount  int       `json:"order_count"`
	BidLevels   int       `json:"bid_levels"`
	AskLevels   int       `json:"ask_levels"`
	LastUpdate  time.Time `json:"last_update"`
}
