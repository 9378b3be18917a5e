package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a strategy order or fill
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the execution instruction of a strategy order
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeIOC       OrderType = "immediate_or_cancel"
	OrderTypeFOK       OrderType = "fill_or_kill"
	OrderTypeHidden    OrderType = "hidden"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// StrategyType identifies the strategy family that produced an order
type StrategyType string

const (
	StrategyMarketMaking StrategyType = "market_making"
	StrategyArbitrage    StrategyType = "arbitrage"
	StrategyMomentum     StrategyType = "momentum"
	StrategyUnknown      StrategyType = "unknown"
)

// Market regimes used for attribution and latency costing
const (
	RegimeNormal   = "normal"
	RegimeVolatile = "volatile"
	RegimeQuiet    = "quiet"
	RegimeStressed = "stressed"
)

// Tick is a top-of-book market data event for one symbol on one venue
type Tick struct {
	Symbol     string          `json:"symbol" yaml:"symbol"`
	Venue      string          `json:"venue" yaml:"venue"`
	Timestamp  time.Time       `json:"timestamp" yaml:"timestamp"`
	BidPrice   decimal.Decimal `json:"bid_price" yaml:"bid_price"`
	AskPrice   decimal.Decimal `json:"ask_price" yaml:"ask_price"`
	BidSize    int64           `json:"bid_size" yaml:"bid_size"`
	AskSize    int64           `json:"ask_size" yaml:"ask_size"`
	MidPrice   decimal.Decimal `json:"mid_price" yaml:"mid_price"`
	Volume     int64           `json:"volume" yaml:"volume"`
	Volatility float64         `json:"volatility" yaml:"volatility"`
}

// Mid returns the tick mid price, deriving it from bid/ask when the feed left it empty
func (t Tick) Mid() decimal.Decimal {
	if t.MidPrice.IsPositive() {
		return t.MidPrice
	}
	if t.BidPrice.IsPositive() && t.AskPrice.IsPositive() {
		return t.BidPrice.Add(t.AskPrice).Div(decimal.NewFromInt(2))
	}
	if t.BidPrice.IsPositive() {
		return t.BidPrice
	}
	return t.AskPrice
}

// Order represents a strategy order routed to a venue
type Order struct {
	OrderID            string          `json:"order_id" yaml:"order_id"`
	Symbol             string          `json:"symbol" yaml:"symbol"`
	Venue              string          `json:"venue" yaml:"venue"`
	Side               Side            `json:"side" yaml:"side"`
	Type               OrderType       `json:"type" yaml:"type"`
	Quantity           int64           `json:"quantity" yaml:"quantity"`
	Price              decimal.Decimal `json:"price" yaml:"price"`
	Timestamp          time.Time       `json:"timestamp" yaml:"timestamp"`
	Strategy           StrategyType    `json:"strategy" yaml:"strategy"`
	PredictedLatencyUs *float64        `json:"predicted_latency_us,omitempty" yaml:"predicted_latency_us,omitempty"`
	Regime             string          `json:"regime,omitempty" yaml:"regime,omitempty"`
}

// StrategyName returns the strategy key used for positions and attribution
func (o Order) StrategyName() string {
	if o.Strategy == "" {
		return string(StrategyUnknown)
	}
	return string(o.Strategy)
}

// Fill represents an execution report produced by the execution simulator
type Fill struct {
	FillID          string          `json:"fill_id" yaml:"fill_id"`
	OrderID         string          `json:"order_id" yaml:"order_id"`
	Symbol          string          `json:"symbol" yaml:"symbol"`
	Venue           string          `json:"venue" yaml:"venue"`
	Side            Side            `json:"side" yaml:"side"`
	Quantity        int64           `json:"quantity" yaml:"quantity"`
	Price           decimal.Decimal `json:"price" yaml:"price"`
	Timestamp       time.Time       `json:"timestamp" yaml:"timestamp"`
	Fees            float64         `json:"fees" yaml:"fees"`
	Rebate          float64         `json:"rebate" yaml:"rebate"`
	LatencyUs       float64         `json:"latency_us" yaml:"latency_us"`
	SlippageBps     float64         `json:"slippage_bps" yaml:"slippage_bps"`
	MarketImpactBps float64         `json:"market_impact_bps" yaml:"market_impact_bps"`
}

// Notional returns quantity * price as a float
func (f Fill) Notional() float64 {
	return float64(f.Quantity) * f.Price.InexactFloat64()
}

// Executor executes a routed order. A nil fill with a nil error means the
// order was not filled.
type Executor interface {
	Execute(ctx context.Context, order Order) (*Fill, error)
}

// LatencyOracle predicts the round-trip latency of an order on a venue in
// microseconds. ok is false when it has no prediction.
type LatencyOracle interface {
	PredictLatency(venue string, order Order) (latencyUs float64, ok bool)
}

// NoLatencyOracle never predicts
type NoLatencyOracle struct{}

// PredictLatency implements LatencyOracle
func (NoLatencyOracle) PredictLatency(string, Order) (float64, bool) { return 0, false }
