package attribution

// Revenue sources
const (
	SourceSpreadCapture = "spread_capture"
	SourceArbitrage     = "arbitrage"
	SourceMomentum      = "momentum"
	SourceOther         = "other"
)

// Component accumulates P&L for one attribution bucket
type Component struct {
	Source       string  `json:"source,omitempty"`
	GrossPnL     float64 `json:"gross_pnl"`
	Fees         float64 `json:"fees"`
	Rebates      float64 `json:"rebates"`
	MarketImpact float64 `json:"market_impact"`
	LatencyCost  float64 `json:"latency_cost"`
	NetPnL       float64 `json:"net_pnl"`
	TradeCount   int     `json:"trade_count"`
	Volume       int64   `json:"volume"`
}

// PnLPerTrade is net P&L per trade, zero without trades
func (c Component) PnLPerTrade() float64 {
	if c.TradeCount == 0 {
		return 0
	}
	return c.NetPnL / float64(c.TradeCount)
}

// PnLPerShare is net P&L per share, zero without volume
func (c Component) PnLPerShare() float64 {
	if c.Volume == 0 {
		return 0
	}
	return c.NetPnL / float64(c.Volume)
}

// ComponentView is a Component with its derived ratios for reporting
type ComponentView struct {
	Component
	PnLPerTrade float64 `json:"pnl_per_trade"`
	PnLPerShare float64 `json:"pnl_per_share"`
}

func (c Component) view() ComponentView {
	return ComponentView{Component: c, PnLPerTrade: c.PnLPerTrade(), PnLPerShare: c.PnLPerShare()}
}

type contribution struct {
	gross, fees, rebates, impact, latency float64
	qty                                   int64
}

func (c *Component) add(x contribution) {
	c.GrossPnL += x.gross
	c.Fees += x.fees
	c.Rebates += x.rebates
	c.MarketImpact += x.impact
	c.LatencyCost += x.latency
	c.NetPnL += x.gross - x.fees + x.rebates - x.impact - x.latency
	c.TradeCount++
	c.Volume += x.qty
}

func (c *Component) merge(o Component) {
	c.GrossPnL += o.GrossPnL
	c.Fees += o.Fees
	c.Rebates += o.Rebates
	c.MarketImpact += o.MarketImpact
	c.LatencyCost += o.LatencyCost
	c.NetPnL += o.NetPnL
	c.TradeCount += o.TradeCount
	c.Volume += o.Volume
}
