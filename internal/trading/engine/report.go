package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/Aidin1998/venuebook/internal/analytics/attribution"
	"github.com/Aidin1998/venuebook/internal/analytics/venue"
	"github.com/Aidin1998/venuebook/internal/trading/bookmanager"
	"github.com/Aidin1998/venuebook/internal/trading/risk"
)

// Recommendations are the operator actions derived from a report
type Recommendations struct {
	VenueAllocation map[string]float64 `json:"venue_allocation"`
	CostSavings     map[string]float64 `json:"cost_savings"`
	RiskActions     []string           `json:"risk_actions"`
}

// Report is the combined state of every component
type Report struct {
	Timestamp        time.Time                            `json:"timestamp"`
	Risk             risk.Report                          `json:"risk_metrics"`
	Attribution      attribution.Report                   `json:"pnl_attribution"`
	Costs            attribution.CostReport               `json:"cost_analysis"`
	Operational      risk.HealthReport                    `json:"operational_health"`
	VenuePerformance map[string]venue.Performance         `json:"venue_performance"`
	VenueAlerts      []venue.Alert                        `json:"venue_alerts,omitempty"`
	Markets          map[string]bookmanager.MarketSummary `json:"markets"`
	Books            bookmanager.PerformanceMetrics       `json:"books"`
	Recommendations  Recommendations                      `json:"recommendations"`
}

// Report assembles the combined report as of now. A zero now uses the
// latest event time seen.
func (e *Engine) Report(now time.Time) Report {
	e.mu.Lock()
	if now.IsZero() {
		now = e.clock
	}
	orders := maps.Clone(e.orders)
	fills := slices.Clone(e.fills)
	e.mu.Unlock()

	riskReport := e.risk.Report()
	costs := e.costs.AnalyzeCosts(fills, orders)

	markets := make(map[string]bookmanager.MarketSummary)
	for _, s := range e.books.Symbols() {
		markets[s] = e.books.MarketSummary(s, now)
	}

	return Report{
		Timestamp:        now,
		Risk:             riskReport,
		Attribution:      e.attribution.Report(),
		Costs:            costs,
		Operational:      e.ops.HealthReport(),
		VenuePerformance: e.venues.AnalyzeVenuePerformance(),
		VenueAlerts:      e.venues.CheckAlerts(now),
		Markets:          markets,
		Books:            e.books.PerformanceMetrics(now),
		Recommendations: Recommendations{
			VenueAllocation: e.venues.RecommendVenueAllocation(),
			CostSavings:     costs.PotentialSavings,
			RiskActions:     risk.Recommendations(riskReport),
		},
	}
}
