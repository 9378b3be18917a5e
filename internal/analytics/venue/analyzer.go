// Package venue scores execution venues on fill rate, latency, cost and
// slippage and recommends how to split flow between them.
package venue

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/Aidin1998/venuebook/pkg/metrics"
	"github.com/Aidin1998/venuebook/pkg/models"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Efficiency score weights
const (
	weightFillRate = 0.3
	weightLatency  = 0.3
	weightCost     = 0.2
	weightSlippage = 0.2
)

// minAllocation is the share no venue is starved below before renormalising
const minAllocation = 0.1

// runningMean is a Welford incremental mean
type runningMean struct {
	n    int64
	mean float64
}

func (r *runningMean) add(x float64) {
	r.n++
	r.mean += (x - r.mean) / float64(r.n)
}

type venueStats struct {
	ordersSent   int64
	ordersFilled int64
	volume       int64
	fees         float64
	rebates      float64

	latency  runningMean
	slippage runningMean
	routing  runningMean

	// bounded latency window for percentiles
	samples []float64
	next    int
}

func (s *venueStats) sample(latency float64, window int) {
	if len(s.samples) < window {
		s.samples = append(s.samples, latency)
		return
	}
	s.samples[s.next] = latency
	s.next = (s.next + 1) % window
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithLatencyOracle sets the oracle consulted when an order carries no
// predicted latency
func WithLatencyOracle(o models.LatencyOracle) Option {
	return func(a *Analyzer) {
		if o != nil {
			a.oracle = o
		}
	}
}

// Analyzer accumulates per-venue execution quality
type Analyzer struct {
	mu     sync.RWMutex
	cfg    config.VenueConfig
	venues map[string]*venueStats
	oracle models.LatencyOracle
	logger *zap.Logger
}

// NewAnalyzer creates a venue analyzer
func NewAnalyzer(cfg config.VenueConfig, logger *zap.Logger, opts ...Option) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LatencySampleWindow <= 0 {
		cfg.LatencySampleWindow = 10000
	}
	a := &Analyzer{
		cfg:    cfg,
		venues: make(map[string]*venueStats),
		oracle: models.NoLatencyOracle{},
		logger: logger.Named("venue"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UpdateMetrics records an order sent to its venue and, when fill is not
// nil, the execution it produced
func (a *Analyzer) UpdateMetrics(order models.Order, fill *models.Fill) {
	predicted, hasPrediction := 0.0, false
	if fill != nil {
		if order.PredictedLatencyUs != nil && *order.PredictedLatencyUs > 0 {
			predicted, hasPrediction = *order.PredictedLatencyUs, true
		} else if p, ok := a.oracle.PredictLatency(order.Venue, order); ok && p > 0 {
			predicted, hasPrediction = p, true
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.venues[order.Venue]
	if !ok {
		s = &venueStats{}
		a.venues[order.Venue] = s
	}
	s.ordersSent++
	if fill == nil {
		return
	}

	s.ordersFilled++
	s.volume += fill.Quantity
	s.fees += fill.Fees
	s.rebates += fill.Rebate
	s.latency.add(fill.LatencyUs)
	s.slippage.add(fill.SlippageBps)
	s.sample(fill.LatencyUs, a.cfg.LatencySampleWindow)
	metrics.FillLatency.WithLabelValues(order.Venue).Observe(fill.LatencyUs / 1e6)

	if hasPrediction {
		score := math.Max(0, 1-math.Abs(fill.LatencyUs-predicted)/predicted)
		s.routing.add(score)
	}
}

// LatencyStats summarises fill latency in microseconds
type LatencyStats struct {
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P99  float64 `json:"p99"`
}

// Performance is the scored quality of one venue
type Performance struct {
	OrdersSent      int64        `json:"orders_sent"`
	OrdersFilled    int64        `json:"orders_filled"`
	FillRate        float64      `json:"fill_rate"`
	TotalVolume     int64        `json:"total_volume"`
	NetFees         float64      `json:"net_fees"`
	FeePerShare     float64      `json:"fee_per_share"`
	Latency         LatencyStats `json:"latency_stats"`
	AvgSlippageBps  float64      `json:"avg_slippage_bps"`
	RoutingScore    float64      `json:"ml_routing_score"`
	EfficiencyScore float64      `json:"efficiency_score"`
}

// AnalyzeVenuePerformance scores every venue seen so far
func (a *Analyzer) AnalyzeVenuePerformance() map[string]Performance {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]Performance, len(a.venues))
	for name, s := range a.venues {
		p := s.performance()
		out[name] = p
		metrics.VenueEfficiency.WithLabelValues(name).Set(p.EfficiencyScore)
	}
	return out
}

func (s *venueStats) performance() Performance {
	p := Performance{
		OrdersSent:     s.ordersSent,
		OrdersFilled:   s.ordersFilled,
		FillRate:       float64(s.ordersFilled) / float64(max(s.ordersSent, 1)),
		TotalVolume:    s.volume,
		NetFees:        s.fees - s.rebates,
		Latency:        LatencyStats{Mean: s.latency.mean},
		AvgSlippageBps: s.slippage.mean,
		RoutingScore:   s.routing.mean,
	}
	p.FeePerShare = p.NetFees / float64(max(s.volume, 1))

	if len(s.samples) > 0 {
		sorted := append([]float64(nil), s.samples...)
		sort.Float64s(sorted)
		p.Latency.P50 = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
		p.Latency.P99 = stat.Quantile(0.99, stat.LinInterp, sorted, nil)
	}

	p.EfficiencyScore = efficiency(p.FillRate, p.Latency.Mean, p.FeePerShare, p.AvgSlippageBps)
	return p
}

func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func efficiency(fillRate, avgLatencyUs, feePerShare, avgSlippageBps float64) float64 {
	fillScore := fillRate * 100
	latencyScore := clamp100((2000 - avgLatencyUs) / 18)
	// feePerShare is net of rebates and positive when the venue charges, so
	// the score falls as fees rise: half a cent per share scores zero, free
	// flow or a net rebate scores 100
	costScore := clamp100((0.005 - feePerShare) / 0.005 * 100)
	slippageScore := clamp100((10 - avgSlippageBps) * 10)

	return weightFillRate*fillScore +
		weightLatency*latencyScore +
		weightCost*costScore +
		weightSlippage*slippageScore
}

// RecommendVenueAllocation splits flow in proportion to efficiency with a
// floor per venue. Shares sum to 1; all-zero scores split equally.
func (a *Analyzer) RecommendVenueAllocation() map[string]float64 {
	perf := a.AnalyzeVenuePerformance()
	if len(perf) == 0 {
		return map[string]float64{}
	}

	total := 0.0
	for _, p := range perf {
		total += p.EfficiencyScore
	}

	alloc := make(map[string]float64, len(perf))
	if total == 0 {
		for v := range perf {
			alloc[v] = 1 / float64(len(perf))
		}
		return alloc
	}

	sum := 0.0
	for v, p := range perf {
		alloc[v] = math.Max(minAllocation, p.EfficiencyScore/total)
		sum += alloc[v]
	}
	for v := range alloc {
		alloc[v] /= sum
	}
	return alloc
}

// AlertType classifies a venue quality alert
type AlertType string

const (
	AlertSlippage    AlertType = "slippage"
	AlertLowFillRate AlertType = "low_fill_rate"
)

// Alert flags a venue whose execution quality crossed a threshold
type Alert struct {
	Type      AlertType `json:"type"`
	Venue     string    `json:"venue"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckAlerts reports venues with average slippage above the alert level or
// a fill rate below the minimum. A zero threshold disables its check.
func (a *Analyzer) CheckAlerts(now time.Time) []Alert {
	perf := a.AnalyzeVenuePerformance()

	names := make([]string, 0, len(perf))
	for v := range perf {
		names = append(names, v)
	}
	sort.Strings(names)

	var alerts []Alert
	for _, v := range names {
		p := perf[v]
		if th := a.cfg.SlippageAlertBps; th > 0 && p.OrdersFilled > 0 && p.AvgSlippageBps > th {
			alerts = append(alerts, Alert{Type: AlertSlippage, Venue: v, Value: p.AvgSlippageBps, Threshold: th, Timestamp: now})
		}
		if th := a.cfg.MinFillRate; th > 0 && p.OrdersSent > 0 && p.FillRate < th {
			alerts = append(alerts, Alert{Type: AlertLowFillRate, Venue: v, Value: p.FillRate, Threshold: th, Timestamp: now})
		}
	}
	for _, al := range alerts {
		a.logger.Warn("Venue quality alert",
			zap.String("type", string(al.Type)),
			zap.String("venue", al.Venue),
			zap.Float64("value", al.Value),
			zap.Float64("threshold", al.Threshold))
	}
	return alerts
}
