package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BookUpdates counts applied order book updates by venue and update type
var BookUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuebook_book_updates_total",
		Help: "Total number of order book updates applied",
	},
	[]string{"venue", "type"},
)

// SyntheticQuotes counts synthetic top-of-book quotes placed from ticks
var SyntheticQuotes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuebook_synthetic_quotes_total",
		Help: "Total number of synthetic quotes placed from market data ticks",
	},
	[]string{"venue"},
)

// TradesMatched counts trades that consumed resting liquidity
var TradesMatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuebook_trades_matched_total",
		Help: "Total number of trades matched against resting orders",
	},
	[]string{"venue"},
)

// ArbitrageOpportunities counts detected cross-venue opportunities
var ArbitrageOpportunities = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuebook_arbitrage_opportunities_total",
		Help: "Total number of cross-venue arbitrage opportunities detected",
	},
	[]string{"symbol"},
)

// Risk metrics
var (
	PreTradeDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuebook_pretrade_decisions_total",
			Help: "Pre-trade risk decisions by result",
		},
		[]string{"result"},
	)

	RiskAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuebook_risk_alerts_total",
			Help: "Risk alerts raised by metric and level",
		},
		[]string{"metric", "level"},
	)

	TradingHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "venuebook_trading_halted",
			Help: "1 when trading is halted by the risk manager",
		},
	)
)

// FillLatency records fill latency distribution per venue
var FillLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "venuebook_fill_latency_seconds",
		Help:    "Latency in seconds reported on fills",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	},
	[]string{"venue"},
)

// AttributedNetPnL tracks attributed net P&L by strategy
var AttributedNetPnL = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "venuebook_attributed_net_pnl",
		Help: "Net P&L attributed to each strategy",
	},
	[]string{"strategy"},
)

// VenueEfficiency exposes the latest efficiency score per venue
var VenueEfficiency = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "venuebook_venue_efficiency_score",
		Help: "Venue efficiency score from 0 to 100",
	},
	[]string{"venue"},
)

func init() {
	prometheus.MustRegister(BookUpdates, SyntheticQuotes, TradesMatched, ArbitrageOpportunities)
	prometheus.MustRegister(PreTradeDecisions, RiskAlerts, TradingHalted, FillLatency)
	prometheus.MustRegister(AttributedNetPnL, VenueEfficiency)
}
