package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/venuebook/internal/analytics/attribution"
	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/Aidin1998/venuebook/internal/trading/bookmanager"
	"github.com/Aidin1998/venuebook/internal/trading/orderbook"
	"github.com/Aidin1998/venuebook/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func px(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type EngineSuite struct {
	suite.Suite
	ctx  context.Context
	e    *Engine
	exec *BookExecutor
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	cfg := config.Default()
	cfg.Books.Symbols = []string{"AAPL"}
	cfg.Books.Venues = []string{"NYSE", "NASDAQ"}
	cfg.Risk.MaxSymbolConcentration = 1
	cfg.Fees.Schedule = cfg.Fees.Schedule[:2]

	e, err := New(cfg, zaptest.NewLogger(s.T()))
	s.Require().NoError(err)
	s.e = e
	s.ctx = context.Background()
	s.exec = NewBookExecutor(e.Books(), e.Fees(), 250)

	s.Require().NoError(e.OnTick(s.ctx, models.Tick{
		Symbol: "AAPL", Venue: "NYSE", Timestamp: t0,
		BidPrice: px("149.99"), AskPrice: px("150.01"), BidSize: 500, AskSize: 500,
	}))
	s.Require().NoError(e.OnTick(s.ctx, models.Tick{
		Symbol: "AAPL", Venue: "NASDAQ", Timestamp: t0,
		BidPrice: px("150.05"), AskPrice: px("150.07"), BidSize: 300, AskSize: 300,
		Volatility: 0.03,
	}))
}

func (s *EngineSuite) order(id, venue string, side models.Side, qty int64, price string, strategy models.StrategyType) models.Order {
	return models.Order{
		OrderID:   id,
		Symbol:    "AAPL",
		Venue:     venue,
		Side:      side,
		Type:      models.OrderTypeLimit,
		Quantity:  qty,
		Price:     px(price),
		Timestamp: t0.Add(time.Millisecond),
		Strategy:  strategy,
	}
}

func (s *EngineSuite) TestTicksUpdateMarksAndArbitrage() {
	s.InDelta(150.06, s.e.Marks()["AAPL"], 1e-9)

	arbs := s.e.Books().ArbitrageOpportunities()
	s.Require().Len(arbs, 1)
	s.Equal("NYSE", arbs[0].BuyVenue)
	s.Equal("NASDAQ", arbs[0].SellVenue)
	s.True(arbs[0].ProfitPerShare.Equal(px("0.04")))
}

func (s *EngineSuite) TestRouteFillsAndFansOut() {
	fill, err := s.e.Route(s.ctx, s.order("mm-1", "NYSE", models.SideBuy, 100, "150.01", models.StrategyMarketMaking), s.exec)
	s.Require().NoError(err)
	s.Require().NotNil(fill)
	s.Equal(int64(100), fill.Quantity)
	s.True(fill.Price.Equal(px("150.01")))
	s.InDelta(0.003*100*150.01, fill.Fees, 1e-9)
	s.Zero(fill.SlippageBps)

	// book
	book, err := s.e.Books().Book("AAPL", "NYSE")
	s.Require().NoError(err)
	_, ask := book.Quotes()
	s.Require().NotNil(ask)
	s.Equal(int64(400), ask.Size)

	// risk
	pos, ok := s.e.Risk().Position("market_making", "AAPL")
	s.Require().True(ok)
	s.Equal(int64(100), pos.Quantity)

	r := s.e.Report(time.Time{})
	s.InDelta(5, r.Attribution.ByStrategy["market_making"].GrossPnL, 1e-6)
	s.Equal(int64(1), r.VenuePerformance["NYSE"].OrdersFilled)
	s.InDelta(1, r.Recommendations.VenueAllocation["NYSE"], 1e-12)
	s.Equal(1, r.Operational.Metrics.OrderCount)
	s.True(r.Risk.Summary.TradingAllowed)

	_, err = json.Marshal(r)
	s.NoError(err)
}

func (s *EngineSuite) TestFillSweepsEveryLevelItTook() {
	s.Require().NoError(s.e.Books().ProcessBookUpdate(bookmanager.BookUpdate{
		Symbol: "AAPL", Venue: "NYSE", Timestamp: t0, Type: bookmanager.UpdateAdd,
		Side: orderbook.Ask, Price: px("150.02"), Size: 200, OrderID: "rest-1",
	}))

	fill, err := s.e.Route(s.ctx, s.order("sweep-1", "NYSE", models.SideBuy, 600, "150.02", models.StrategyMarketMaking), s.exec)
	s.Require().NoError(err)
	s.Require().NotNil(fill)
	s.Equal(int64(600), fill.Quantity)
	s.True(fill.Price.Equal(px("150.011667")))

	book, err := s.e.Books().Book("AAPL", "NYSE")
	s.Require().NoError(err)
	_, ask := book.Quotes()
	s.Nil(ask)
	rest, ok := book.Order("rest-1")
	s.Require().True(ok)
	s.Equal(int64(100), rest.RemainingSize)

	_, best := book.BestBidAsk()
	s.Require().NotNil(best)
	s.True(best.Price.Equal(px("150.02")))
	s.Equal(int64(100), best.Size)

	pos, ok := s.e.Risk().Position("market_making", "AAPL")
	s.Require().True(ok)
	s.Equal(int64(600), pos.Quantity)
}

func (s *EngineSuite) TestRejectedOrderIsNotExecuted() {
	_, err := s.e.Route(s.ctx, s.order("big", "NYSE", models.SideBuy, 20000, "150.01", models.StrategyMarketMaking), s.exec)
	s.Require().ErrorIs(err, ErrOrderRejected)
	s.Contains(err.Error(), "max_position_size")
	s.Empty(s.e.Fills())
	s.NotContains(s.e.Orders(), "big")
}

func (s *EngineSuite) TestHaltBlocksRouting() {
	s.e.Risk().Halt("manual")
	_, err := s.e.Route(s.ctx, s.order("h-1", "NYSE", models.SideBuy, 10, "150.01", models.StrategyMarketMaking), s.exec)
	s.Require().ErrorIs(err, ErrOrderRejected)
	s.Contains(err.Error(), "Trading halted")

	s.e.Risk().Resume("ops")
	_, err = s.e.Route(s.ctx, s.order("h-2", "NYSE", models.SideBuy, 10, "150.01", models.StrategyMarketMaking), s.exec)
	s.NoError(err)
}

func (s *EngineSuite) TestUnmarketableOrderRecordsNoFill() {
	fill, err := s.e.Route(s.ctx, s.order("lo-1", "NYSE", models.SideBuy, 100, "149.00", models.StrategyMarketMaking), s.exec)
	s.Require().NoError(err)
	s.Nil(fill)

	perf := s.e.Report(time.Time{}).VenuePerformance["NYSE"]
	s.Equal(int64(1), perf.OrdersSent)
	s.Zero(perf.OrdersFilled)
}

func (s *EngineSuite) TestDuplicateOrderID() {
	o := s.order("dup", "NYSE", models.SideBuy, 10, "150.01", models.StrategyMarketMaking)
	ok, _ := s.e.SubmitOrder(s.ctx, o)
	s.True(ok)

	ok, reason := s.e.SubmitOrder(s.ctx, o)
	s.False(ok)
	s.Contains(reason, "duplicate")
}

func (s *EngineSuite) TestConcurrentDuplicateSubmitAcceptsOne() {
	o := s.order("race", "NYSE", models.SideBuy, 10, "150.01", models.StrategyMarketMaking)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.e.SubmitOrder(s.ctx, o); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), accepted.Load())
	s.Equal(1, s.e.Report(time.Time{}).Operational.Metrics.OrderCount)
}

func (s *EngineSuite) TestOrderInheritsTickRegime() {
	ok, _ := s.e.SubmitOrder(s.ctx, s.order("rg", "NASDAQ", models.SideSell, 10, "150.05", models.StrategyArbitrage))
	s.Require().True(ok)
	s.Equal(models.RegimeVolatile, s.e.Orders()["rg"].Regime)
}

func (s *EngineSuite) TestMomentumRealisedWhenClosed() {
	_, err := s.e.Route(s.ctx, s.order("mo-1", "NYSE", models.SideBuy, 100, "150.01", models.StrategyMomentum), s.exec)
	s.Require().NoError(err)
	_, err = s.e.Route(s.ctx, s.order("mo-2", "NASDAQ", models.SideSell, 100, "150.05", models.StrategyMomentum), s.exec)
	s.Require().NoError(err)

	pos, ok := s.e.Risk().Position("momentum", "AAPL")
	s.Require().True(ok)
	s.Zero(pos.Quantity)
	s.InDelta(4, pos.RealizedPnL, 1e-6)

	r := s.e.Report(time.Time{})
	s.InDelta(4, r.Attribution.BySource[attribution.SourceMomentum].GrossPnL, 1e-6)
}

func (s *EngineSuite) TestUnknownFill() {
	err := s.e.OnFill(s.ctx, models.Fill{FillID: "f", OrderID: "nope", Symbol: "AAPL", Venue: "NYSE", Quantity: 1, Price: px("150")})
	s.ErrorIs(err, orderbook.ErrOrderNotFound)

	s.ErrorIs(s.e.OnNoFill(s.ctx, "nope"), orderbook.ErrOrderNotFound)
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, models.Order) (*models.Fill, error) {
	return nil, errors.New("venue down")
}

func TestExecutionErrorsCountTowardsHealth(t *testing.T) {
	cfg := config.Default()
	cfg.Books.Symbols = []string{"AAPL"}
	cfg.Risk.MaxSymbolConcentration = 1
	e, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	o := models.Order{OrderID: "x", Symbol: "AAPL", Venue: "NYSE", Side: models.SideBuy, Quantity: 1, Price: px("100"), Timestamp: t0}
	_, err = e.Route(context.Background(), o, failingExecutor{})
	require.Error(t, err)

	health := e.Operational().HealthReport()
	assert.Equal(t, 1, health.ErrorBreakdown["execution"])
}

func TestRegimeClassification(t *testing.T) {
	e, err := New(config.Default(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, models.RegimeNormal, e.classifyRegime(0))
	assert.Equal(t, models.RegimeQuiet, e.classifyRegime(0.001))
	assert.Equal(t, models.RegimeNormal, e.classifyRegime(0.01))
	assert.Equal(t, models.RegimeVolatile, e.classifyRegime(0.03))
	assert.Equal(t, models.RegimeStressed, e.classifyRegime(0.08))
}
