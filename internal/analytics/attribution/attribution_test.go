package attribution

import (
	"testing"
	"time"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/Aidin1998/venuebook/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func testFill(id, venue string, side models.Side, qty int64, price string) models.Fill {
	return models.Fill{
		FillID:    "fill_" + id,
		OrderID:   id,
		Symbol:    "AAPL",
		Venue:     venue,
		Side:      side,
		Quantity:  qty,
		Price:     decimal.RequireFromString(price),
		Timestamp: t0,
	}
}

func testOrder(id string, strategy models.StrategyType) models.Order {
	return models.Order{OrderID: id, Symbol: "AAPL", Strategy: strategy}
}

func TestMarketMakingCreditsOnlyFavourableCapture(t *testing.T) {
	a := New(NewLatencyCostModel(), zaptest.NewLogger(t))

	buy := testFill("o1", "NYSE", models.SideBuy, 100, "99.98")
	buy.Fees = 0.3
	buy.Rebate = 0.2
	buy.MarketImpactBps = 1
	a.AttributeFill(buy, testOrder("o1", models.StrategyMarketMaking), MarketState{MidPrice: 100})

	// selling below mid captures nothing
	sell := testFill("o2", "NYSE", models.SideSell, 100, "99.98")
	a.AttributeFill(sell, testOrder("o2", models.StrategyMarketMaking), MarketState{MidPrice: 100})

	r := a.Report()
	mm := r.ByStrategy["market_making"]
	assert.InDelta(t, 2.0, mm.GrossPnL, 1e-9)
	assert.InDelta(t, 0.9998, mm.MarketImpact, 1e-9)
	assert.InDelta(t, 2.0-0.3+0.2-0.9998, mm.NetPnL, 1e-9)
	assert.Equal(t, 2, mm.TradeCount)
	assert.Equal(t, int64(200), mm.Volume)
	assert.InDelta(t, mm.NetPnL/2, mm.PnLPerTrade, 1e-12)
	assert.Contains(t, r.BySource, SourceSpreadCapture)
}

func TestFillUpdatesFourBuckets(t *testing.T) {
	a := New(NewLatencyCostModel(), zaptest.NewLogger(t))

	arb := testOrder("o1", models.StrategyArbitrage)
	arb.Regime = models.RegimeVolatile
	a.AttributeFill(testFill("o1", "NASDAQ", models.SideBuy, 200, "150"), arb, MarketState{})

	r := a.Report()
	want := 200 * arbitrageProfitPerShare
	assert.InDelta(t, want, r.ByStrategy["arbitrage"].GrossPnL, 1e-9)
	assert.InDelta(t, want, r.BySource[SourceArbitrage].GrossPnL, 1e-9)
	assert.InDelta(t, want, r.ByVenue["NASDAQ"].GrossPnL, 1e-9)
	assert.InDelta(t, want, r.ByHour[14].GrossPnL, 1e-9)
	assert.InDelta(t, want, r.ByRegime[models.RegimeVolatile].GrossPnL, 1e-9)

	// totals are not multiplied by the number of dimensions
	assert.InDelta(t, want, r.TotalPnL, 1e-9)
}

func TestMomentumRealisedOnClose(t *testing.T) {
	a := New(NewLatencyCostModel(), zaptest.NewLogger(t))

	a.AttributeFill(testFill("o1", "NYSE", models.SideBuy, 100, "10"), testOrder("o1", models.StrategyMomentum), MarketState{MidPrice: 10})
	assert.Zero(t, a.Report().TotalPnL)

	assert.True(t, a.ClosePosition("momentum", 10, 12, 100))
	assert.False(t, a.ClosePosition("market_making", 10, 12, 100))

	r := a.Report()
	assert.InDelta(t, 200, r.TotalPnL, 1e-9)
	assert.InDelta(t, 200, r.BySource[SourceMomentum].NetPnL, 1e-9)
	assert.Equal(t, []string{"momentum"}, a.Strategies())
}

func TestLatencyCostModel(t *testing.T) {
	m := NewLatencyCostModel()
	f := testFill("o1", "NYSE", models.SideBuy, 100, "100")
	f.LatencyUs = 2000
	f.SlippageBps = 10

	assert.InDelta(t, 2, m.Cost(f, testOrder("o1", models.StrategyMarketMaking)), 1e-9)

	volatile := testOrder("o1", models.StrategyMarketMaking)
	volatile.Regime = models.RegimeVolatile
	assert.InDelta(t, 4, m.Cost(f, volatile), 1e-9)

	// capped at half the slippage cost
	arb := testOrder("o1", models.StrategyArbitrage)
	arb.Regime = models.RegimeVolatile
	assert.InDelta(t, 5, m.Cost(f, arb), 1e-9)

	assert.InDelta(t, 4000, m.EstimateLatencyAlpha(300, 500, 1_000_000, 100), 1e-9)
	assert.Zero(t, m.EstimateLatencyAlpha(600, 500, 1_000_000, 100))
}

func TestFeeTrackerTiersAndSelection(t *testing.T) {
	cfg := config.Default().Fees
	ft := NewFeeTracker(cfg, zaptest.NewLogger(t))

	fee, rebate := ft.EstimateFee("NYSE", 100, 100, false)
	assert.InDelta(t, 30, fee, 1e-9)
	assert.Zero(t, rebate)

	fee, rebate = ft.EstimateFee("NYSE", 100, 100, true)
	assert.Zero(t, fee)
	assert.InDelta(t, 20, rebate, 1e-9)
	assert.Equal(t, 1, ft.Tier("NYSE"))

	ft.CalculateFee("NYSE", 10_000_000, 1, false)
	assert.Equal(t, 2, ft.Tier("NYSE"))
	assert.Equal(t, int64(10_000_000), ft.MonthlyVolume()["NYSE"])

	fee, _ = ft.EstimateFee("NYSE", 100, 100, false)
	assert.InDelta(t, 29, fee, 1e-9)
	_, rebate = ft.EstimateFee("NYSE", 100, 100, true)
	assert.InDelta(t, 21, rebate, 1e-9)

	ft.ResetMonth()
	assert.Equal(t, 1, ft.Tier("NYSE"))

	venues := []string{"NYSE", "NASDAQ", "IEX"}
	best, err := ft.OptimizeVenueSelection(venues, 100, 100, true)
	require.NoError(t, err)
	assert.Equal(t, "NASDAQ", best)

	best, err = ft.OptimizeVenueSelection(venues, 100, 100, false)
	require.NoError(t, err)
	assert.Equal(t, "IEX", best)
	assert.Empty(t, ft.MonthlyVolume(), "selection must not book volume")

	_, err = ft.OptimizeVenueSelection(nil, 100, 100, false)
	assert.ErrorIs(t, err, ErrNoVenues)
}

func TestAnalyzeCosts(t *testing.T) {
	ca := NewCostAnalysis(NewLatencyCostModel(), zaptest.NewLogger(t))

	f1 := testFill("o1", "NYSE", models.SideBuy, 100, "100")
	f1.Fees = 3
	f2 := testFill("o2", "NASDAQ", models.SideSell, 100, "100")
	f2.Rebate = 2
	f3 := testFill("missing", "IEX", models.SideBuy, 50, "100")

	orders := map[string]models.Order{
		"o1": testOrder("o1", models.StrategyMarketMaking),
		"o2": testOrder("o2", models.StrategyArbitrage),
	}
	r := ca.AnalyzeCosts([]models.Fill{f1, f2, f3}, orders)

	assert.Equal(t, 1, r.UnmatchedFillCount)
	assert.InDelta(t, 1, r.ByType.Fees, 1e-9)
	assert.InDelta(t, 1, r.TotalCosts, 1e-9)
	assert.Equal(t, map[string]float64{"NYSE": 3, "NASDAQ": -2}, r.ByVenue)
	assert.Equal(t, map[string]float64{"market_making": 3, "arbitrage": -2}, r.ByStrategy)
	assert.InDelta(t, 0.005, r.CostPerShare, 1e-12)
	assert.InDelta(t, 0.005, r.CostAsPctOfVolume, 1e-12)

	assert.NotContains(t, r.PotentialSavings, SavingIncreaseMaker)
	assert.NotContains(t, r.PotentialSavings, SavingReduceLatency)
	assert.InDelta(t, 5, r.PotentialSavings[SavingVenueSelection], 1e-9)
}

func TestSavingsForTakerHeavySlowFlow(t *testing.T) {
	ca := NewCostAnalysis(NewLatencyCostModel(), zaptest.NewLogger(t))

	f := testFill("o1", "NYSE", models.SideBuy, 100, "100")
	f.Fees = 4
	f.LatencyUs = 1000
	f.SlippageBps = 100

	r := ca.AnalyzeCosts([]models.Fill{f}, map[string]models.Order{"o1": testOrder("o1", models.StrategyMarketMaking)})

	assert.InDelta(t, 6, r.PotentialSavings[SavingIncreaseMaker], 1e-9)
	// latency cost 0.0001 * 1ms * 10000 = 1, half of it is above 500us
	assert.InDelta(t, 0.5, r.PotentialSavings[SavingReduceLatency], 1e-9)
	assert.NotContains(t, r.PotentialSavings, SavingVenueSelection)
}
