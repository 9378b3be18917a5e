package bookmanager

import (
	"errors"
	"time"

	"github.com/Aidin1998/venuebook/internal/trading/orderbook"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownBook is returned when no book exists for a symbol and venue
	ErrUnknownBook = errors.New("unknown book")
	// ErrNoMatch is returned when a trade update touches no resting order
	ErrNoMatch = errors.New("trade matched no resting orders")
	// ErrMissingTimestamp is returned for ticks without an event time
	ErrMissingTimestamp = errors.New("missing event timestamp")
	// ErrUnknownUpdateType is returned for update types other than add, modify, delete and trade
	ErrUnknownUpdateType = errors.New("unknown update type")
)

// UpdateType selects how a BookUpdate mutates its book
type UpdateType string

const (
	UpdateAdd    UpdateType = "add"
	UpdateModify UpdateType = "modify"
	UpdateDelete UpdateType = "delete"
	UpdateTrade  UpdateType = "trade"
)

// BookUpdate is one incremental market data event for a single book
type BookUpdate struct {
	Symbol    string          `json:"symbol" yaml:"symbol"`
	Venue     string          `json:"venue" yaml:"venue"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Sequence  uint64          `json:"sequence" yaml:"sequence"`
	Type      UpdateType      `json:"type" yaml:"type"`
	Side      orderbook.Side  `json:"side" yaml:"side"`
	Price     decimal.Decimal `json:"price" yaml:"price"`
	Size      int64           `json:"size" yaml:"size"`
	OrderID   string          `json:"order_id,omitempty" yaml:"order_id,omitempty"`
}

// ArbitrageOpportunity is a crossed market between two venues.
// It is never mutated after detection.
type ArbitrageOpportunity struct {
	Symbol         string          `json:"symbol"`
	Timestamp      time.Time       `json:"timestamp"`
	BuyVenue       string          `json:"buy_venue"`
	SellVenue      string          `json:"sell_venue"`
	BuyPrice       decimal.Decimal `json:"buy_price"`
	SellPrice      decimal.Decimal `json:"sell_price"`
	ProfitPerShare decimal.Decimal `json:"profit_per_share"`
	MaxSize        int64           `json:"max_size"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
}

// ConsolidatedLevel is liquidity at one price summed across venues
type ConsolidatedLevel struct {
	Price  decimal.Decimal `json:"price"`
	Size   int64           `json:"size"`
	Venues int             `json:"venues"`
}

// ExecutionSlice is one venue allocation of a best-execution plan
type ExecutionSlice struct {
	Venue         string          `json:"venue"`
	Price         decimal.Decimal `json:"price"`
	Size          int64           `json:"size"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// LiquidityMetrics summarises top-of-book liquidity of a symbol across venues
type LiquidityMetrics struct {
	TotalBidLiquidity int64           `json:"total_bid_liquidity"`
	TotalAskLiquidity int64           `json:"total_ask_liquidity"`
	WeightedBidPrice  decimal.Decimal `json:"weighted_bid_price"`
	WeightedAskPrice  decimal.Decimal `json:"weighted_ask_price"`
	VenueCount        int             `json:"venue_count"`
	BestBid           decimal.Decimal `json:"best_bid"`
	BestAsk           decimal.Decimal `json:"best_ask"`
	BestSpread        decimal.Decimal `json:"best_spread"`
	BestMid           decimal.Decimal `json:"best_mid"`
	HasBBO            bool            `json:"has_bbo"`
}

// BookState is the top-of-book view of one venue
type BookState struct {
	Symbol     string           `json:"symbol"`
	Venue      string           `json:"venue"`
	BestBid    *orderbook.Level `json:"best_bid"`
	BestAsk    *orderbook.Level `json:"best_ask"`
	Spread     *decimal.Decimal `json:"spread"`
	Mid        *decimal.Decimal `json:"mid"`
	Imbalance  float64          `json:"imbalance"`
	Sequence   uint64           `json:"sequence"`
	OrderCount int              `json:"order_count"`
	LastUpdate time.Time        `json:"last_update"`
}

// ConsolidatedSummary is the cross-venue top of book
type ConsolidatedSummary struct {
	BestBid           ConsolidatedLevel `json:"best_bid"`
	BestAsk           ConsolidatedLevel `json:"best_ask"`
	Spread            decimal.Decimal   `json:"spread"`
	Mid               decimal.Decimal   `json:"mid"`
	TotalBidLiquidity int64             `json:"total_bid_liquidity"`
	TotalAskLiquidity int64             `json:"total_ask_liquidity"`
}

// MarketSummary is the per-symbol market view across venues
type MarketSummary struct {
	Symbol         string               `json:"symbol"`
	Timestamp      time.Time            `json:"timestamp"`
	Venues         map[string]BookState `json:"venues"`
	Consolidated   *ConsolidatedSummary `json:"consolidated,omitempty"`
	ArbitrageCount int                  `json:"arbitrage_count"`
}

// PerformanceMetrics are manager wide counters
type PerformanceMetrics struct {
	Runtime                time.Duration               `json:"runtime"`
	TotalUpdates           uint64                      `json:"total_updates"`
	TotalTrades            uint64                      `json:"total_trades"`
	UpdateRate             float64                     `json:"update_rate"`
	ArbitrageOpportunities int                         `json:"arbitrage_opportunities"`
	SymbolsTracked         int                         `json:"symbols_tracked"`
	VenuesTracked          int                         `json:"venues_tracked"`
	TotalBooks             int                         `json:"total_books"`
	Liquidity              map[string]LiquidityMetrics `json:"liquidity"`
	Books                  map[string]orderbook.Stats  `json:"books"`
}

// BatchResult reports the outcome of ProcessBatch
type BatchResult struct {
	Applied int `json:"applied"`
	Failed  int `json:"failed"`
	Books   int `json:"books"`
}
