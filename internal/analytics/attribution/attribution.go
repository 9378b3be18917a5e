// Package attribution splits realised trading P&L by strategy, revenue
// source, venue, hour and market regime, and analyses execution costs.
package attribution

import (
	"sort"
	"sync"

	"github.com/Aidin1998/venuebook/pkg/metrics"
	"github.com/Aidin1998/venuebook/pkg/models"
	"go.uber.org/zap"
)

// arbitrageProfitPerShare is the fixed per-share proxy credited to arbitrage fills
const arbitrageProfitPerShare = 0.05

// MarketState is the market context of a fill
type MarketState struct {
	MidPrice float64
	Regime   string
}

type strategySource struct {
	strategy, source string
}

// Attribution accumulates P&L components. One fill updates four
// independent buckets.
type Attribution struct {
	mu sync.RWMutex

	byStrategySource map[strategySource]*Component
	byVenue          map[string]*Component
	byHour           map[int]*Component
	byRegime         map[string]*Component

	latency LatencyCostModel
	logger  *zap.Logger
}

// New creates an empty attribution
func New(latency LatencyCostModel, logger *zap.Logger) *Attribution {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attribution{
		byStrategySource: make(map[strategySource]*Component),
		byVenue:          make(map[string]*Component),
		byHour:           make(map[int]*Component),
		byRegime:         make(map[string]*Component),
		latency:          latency,
		logger:           logger.Named("attribution"),
	}
}

// AttributeFill credits fill to its buckets
func (a *Attribution) AttributeFill(fill models.Fill, order models.Order, market MarketState) {
	strategy := order.StrategyName()
	source, gross := grossPnL(fill, order, market)

	regime := market.Regime
	if regime == "" {
		regime = order.Regime
	}
	if regime == "" {
		regime = models.RegimeNormal
	}

	x := contribution{
		gross:   gross,
		fees:    fill.Fees,
		rebates: fill.Rebate,
		impact:  fill.MarketImpactBps * fill.Notional() / 10000,
		latency: a.latency.Cost(fill, order),
		qty:     fill.Quantity,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bucket(a.byStrategySource, strategySource{strategy, source}, source).add(x)
	bucket(a.byVenue, fill.Venue, "venue").add(x)
	bucket(a.byHour, fill.Timestamp.UTC().Hour(), "hour").add(x)
	bucket(a.byRegime, regime, "regime").add(x)

	metrics.AttributedNetPnL.WithLabelValues(strategy).Add(x.gross - x.fees + x.rebates - x.impact - x.latency)

	a.logger.Debug("Fill attributed",
		zap.String("fill_id", fill.FillID),
		zap.String("strategy", strategy),
		zap.String("source", source),
		zap.Float64("gross", gross),
		zap.Float64("latency_cost", x.latency))
}

func grossPnL(fill models.Fill, order models.Order, market MarketState) (string, float64) {
	switch order.Strategy {
	case models.StrategyMarketMaking:
		price := fill.Price.InexactFloat64()
		mid := market.MidPrice
		if mid <= 0 {
			mid = price
		}
		capture := (mid - price) * float64(fill.Quantity)
		if fill.Side == models.SideSell {
			capture = -capture
		}
		return SourceSpreadCapture, max(0, capture)
	case models.StrategyArbitrage:
		return SourceArbitrage, float64(fill.Quantity) * arbitrageProfitPerShare
	case models.StrategyMomentum:
		return SourceMomentum, 0
	default:
		return SourceOther, 0
	}
}

func bucket[K comparable](m map[K]*Component, key K, source string) *Component {
	c, ok := m[key]
	if !ok {
		c = &Component{Source: source}
		m[key] = c
	}
	return c
}

// ClosePosition realises momentum P&L when a position is closed. Other
// strategies are credited at fill time, so it reports false for them.
func (a *Attribution) ClosePosition(strategy string, entryPrice, exitPrice float64, quantity int64) bool {
	if strategy != string(models.StrategyMomentum) {
		return false
	}
	pnl := (exitPrice - entryPrice) * float64(quantity)

	a.mu.Lock()
	defer a.mu.Unlock()

	c := bucket(a.byStrategySource, strategySource{strategy, SourceMomentum}, SourceMomentum)
	c.GrossPnL += pnl
	c.NetPnL += pnl
	metrics.AttributedNetPnL.WithLabelValues(strategy).Add(pnl)
	return true
}

// CostBreakdown sums the cost side of attribution
type CostBreakdown struct {
	TotalFees         float64 `json:"total_fees"`
	TotalRebates      float64 `json:"total_rebates"`
	TotalMarketImpact float64 `json:"total_market_impact"`
	TotalLatencyCost  float64 `json:"total_latency_cost"`
}

// Report is the attribution summary. Totals come from the strategy
// dimension only so each fill is counted once.
type Report struct {
	TotalPnL      float64                  `json:"total_pnl"`
	ByStrategy    map[string]ComponentView `json:"by_strategy"`
	BySource      map[string]ComponentView `json:"by_source"`
	ByVenue       map[string]ComponentView `json:"by_venue"`
	ByHour        map[int]ComponentView    `json:"by_hour"`
	ByRegime      map[string]ComponentView `json:"by_regime"`
	CostBreakdown CostBreakdown            `json:"cost_breakdown"`
}

// Report builds the attribution report
func (a *Attribution) Report() Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	strategies := make(map[string]*Component)
	sources := make(map[string]*Component)
	var total Component
	for k, c := range a.byStrategySource {
		bucket(strategies, k.strategy, "").merge(*c)
		bucket(sources, k.source, k.source).merge(*c)
		total.merge(*c)
	}

	return Report{
		TotalPnL:   total.NetPnL,
		ByStrategy: views(strategies),
		BySource:   views(sources),
		ByVenue:    views(a.byVenue),
		ByHour:     views(a.byHour),
		ByRegime:   views(a.byRegime),
		CostBreakdown: CostBreakdown{
			TotalFees:         total.Fees,
			TotalRebates:      total.Rebates,
			TotalMarketImpact: total.MarketImpact,
			TotalLatencyCost:  total.LatencyCost,
		},
	}
}

func views[K comparable](m map[K]*Component) map[K]ComponentView {
	out := make(map[K]ComponentView, len(m))
	for k, c := range m {
		out[k] = c.view()
	}
	return out
}

// Strategies lists strategies with attributed P&L
func (a *Attribution) Strategies() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range a.byStrategySource {
		seen[k.strategy] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
