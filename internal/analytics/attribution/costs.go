package attribution

import (
	"math"

	"github.com/Aidin1998/venuebook/pkg/models"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// Savings keys
const (
	SavingIncreaseMaker  = "increase_maker_percentage"
	SavingReduceLatency  = "reduce_latency_to_500us"
	SavingVenueSelection = "optimize_venue_selection"
)

// latencyTargetUs is the latency the savings estimate aims for
const latencyTargetUs = 500

// CostsByType splits execution costs by kind
type CostsByType struct {
	Fees            float64 `json:"fees"`
	MarketImpact    float64 `json:"market_impact"`
	LatencyCost     float64 `json:"latency_cost"`
	OpportunityCost float64 `json:"opportunity_cost"`
}

// CostReport is the result of a cost analysis
type CostReport struct {
	TotalCosts         float64            `json:"total_costs"`
	ByType             CostsByType        `json:"by_type"`
	ByVenue            map[string]float64 `json:"by_venue"`
	ByStrategy         map[string]float64 `json:"by_strategy"`
	CostPerShare       float64            `json:"cost_per_share"`
	CostAsPctOfVolume  float64            `json:"cost_as_pct_of_volume"`
	PotentialSavings   map[string]float64 `json:"potential_savings"`
	UnmatchedFillCount int                `json:"unmatched_fill_count"`
}

// CostAnalysis totals execution costs over a set of fills
type CostAnalysis struct {
	latency LatencyCostModel
	logger  *zap.Logger
}

// NewCostAnalysis creates a cost analysis using latency for latency costs
func NewCostAnalysis(latency LatencyCostModel, logger *zap.Logger) *CostAnalysis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CostAnalysis{latency: latency, logger: logger.Named("costs")}
}

// AnalyzeCosts totals fees, impact and latency costs. Fills whose order is
// unknown are skipped and counted.
func (c *CostAnalysis) AnalyzeCosts(fills []models.Fill, orders map[string]models.Order) CostReport {
	r := CostReport{
		ByVenue:          make(map[string]float64),
		ByStrategy:       make(map[string]float64),
		PotentialSavings: make(map[string]float64),
	}

	var volume int64
	var notional float64
	for _, f := range fills {
		o, ok := orders[f.OrderID]
		if !ok {
			r.UnmatchedFillCount++
			continue
		}

		netFee := f.Fees - f.Rebate
		impact := f.MarketImpactBps * f.Notional() / 10000
		latency := c.latency.Cost(f, o)
		total := netFee + impact + latency

		r.ByType.Fees += netFee
		r.ByType.MarketImpact += impact
		r.ByType.LatencyCost += latency
		r.TotalCosts += total
		r.ByVenue[f.Venue] += total
		r.ByStrategy[o.StrategyName()] += total

		volume += f.Quantity
		notional += f.Notional()
	}

	if volume > 0 {
		r.CostPerShare = r.TotalCosts / float64(volume)
	}
	if notional > 0 {
		r.CostAsPctOfVolume = r.TotalCosts / notional * 100
	}
	c.identifySavings(&r, fills)

	if r.UnmatchedFillCount > 0 {
		c.logger.Warn("Fills without orders skipped", zap.Int("count", r.UnmatchedFillCount))
	}
	return r
}

func (c *CostAnalysis) identifySavings(r *CostReport, fills []models.Fill) {
	if len(fills) == 0 {
		return
	}

	takers := 0
	latencies := make([]float64, len(fills))
	for i, f := range fills {
		if f.Fees > 0 {
			takers++
		}
		latencies[i] = f.LatencyUs
	}

	if float64(takers)/float64(len(fills)) > 0.5 {
		// maker flow turns the fee line into a rebate of half its size
		r.PotentialSavings[SavingIncreaseMaker] = math.Abs(-0.5*r.ByType.Fees - r.ByType.Fees)
	}

	if avg := floats.Sum(latencies) / float64(len(latencies)); avg > latencyTargetUs {
		r.PotentialSavings[SavingReduceLatency] = r.ByType.LatencyCost * (avg - latencyTargetUs) / avg
	}

	if len(r.ByVenue) > 1 {
		costs := make([]float64, 0, len(r.ByVenue))
		for _, v := range r.ByVenue {
			costs = append(costs, v)
		}
		r.PotentialSavings[SavingVenueSelection] = floats.Sum(costs) - floats.Min(costs)*float64(len(costs))
	}
}
