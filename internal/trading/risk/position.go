package risk

import "time"

// Position is the signed holding of one strategy in one symbol
type Position struct {
	Strategy      string    `json:"strategy"`
	Symbol        string    `json:"symbol"`
	Quantity      int64     `json:"quantity"`
	AverageCost   float64   `json:"average_cost"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	TotalVolume   int64     `json:"total_volume"`
	Fees          float64   `json:"fees"`
	LastPrice     float64   `json:"last_price"`
	LastUpdate    time.Time `json:"last_update"`
}

// TotalPnL is realized plus unrealized, net of fees and rebates
func (p *Position) TotalPnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL - p.Fees
}

// apply books a signed quantity at price and returns the realized P&L.
// Reductions realize against the average cost; a flip through zero opens
// the remainder at price.
func (p *Position) apply(delta int64, price float64, ts time.Time) float64 {
	if delta == 0 {
		return 0
	}
	p.TotalVolume += abs64(delta)
	p.LastUpdate = ts

	// opening or adding
	if p.Quantity == 0 || (p.Quantity > 0) == (delta > 0) {
		held := float64(abs64(p.Quantity))
		add := float64(abs64(delta))
		p.AverageCost = (held*p.AverageCost + add*price) / (held + add)
		p.Quantity += delta
		return 0
	}

	closing := min(abs64(delta), abs64(p.Quantity))
	direction := 1.0
	if p.Quantity < 0 {
		direction = -1.0
	}
	realized := float64(closing) * (price - p.AverageCost) * direction
	p.RealizedPnL += realized
	p.Quantity += delta

	switch {
	case p.Quantity == 0:
		p.AverageCost = 0
	case (p.Quantity > 0) == (delta > 0):
		// flipped through zero
		p.AverageCost = price
	}
	return realized
}

// mark re-values the open quantity at price
func (p *Position) mark(price float64) {
	if price <= 0 {
		return
	}
	p.LastPrice = price
	p.UnrealizedPnL = float64(p.Quantity) * (price - p.AverageCost)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
