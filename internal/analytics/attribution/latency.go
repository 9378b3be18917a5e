package attribution

import (
	"github.com/Aidin1998/venuebook/pkg/models"
)

// LatencyCostModel prices the alpha lost to execution latency
type LatencyCostModel struct {
	BaseDecayRate        float64
	VolatilityMultiplier float64
	CompetitionFactor    float64
}

// NewLatencyCostModel returns the model with its standard coefficients
func NewLatencyCostModel() LatencyCostModel {
	return LatencyCostModel{
		BaseDecayRate:        0.0001,
		VolatilityMultiplier: 2.0,
		CompetitionFactor:    1.5,
	}
}

// Cost is decay × latency(ms) × notional, scaled up in volatile regimes and
// for arbitrage, and capped at half the slippage cost of the fill
func (m LatencyCostModel) Cost(fill models.Fill, order models.Order) float64 {
	notional := fill.Notional()
	cost := m.BaseDecayRate * (fill.LatencyUs / 1000) * notional

	if order.Regime == models.RegimeVolatile {
		cost *= m.VolatilityMultiplier
	}
	if order.Strategy == models.StrategyArbitrage {
		cost *= m.CompetitionFactor
	}

	return min(cost, fill.SlippageBps*notional/10000*0.5)
}

// EstimateLatencyAlpha estimates daily alpha from cutting average latency
// below a baseline. A fifth of volume is assumed latency sensitive and every
// 100us saved is worth one basis point.
func (m LatencyCostModel) EstimateLatencyAlpha(avgLatencyUs, baselineLatencyUs float64, dailyVolume int64, avgPrice float64) float64 {
	improvement := baselineLatencyUs - avgLatencyUs
	if improvement <= 0 {
		return 0
	}
	sensitive := float64(dailyVolume) * 0.20
	bps := improvement / 100
	return sensitive * avgPrice * bps / 10000
}
