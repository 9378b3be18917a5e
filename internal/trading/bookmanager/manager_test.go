package bookmanager

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
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

type ManagerSuite struct {
	suite.Suite
	cfg config.BooksConfig
	m   *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.cfg = config.Default().Books
	s.cfg.Symbols = []string{"AAPL", "MSFT"}
	s.cfg.Venues = []string{"NYSE", "NASDAQ", "ARCA"}
	s.m = NewManager(s.cfg, zaptest.NewLogger(s.T()))
}

func (s *ManagerSuite) add(id, venue string, side orderbook.Side, price string, size int64) {
	s.Require().NoError(s.m.ProcessBookUpdate(BookUpdate{
		Symbol: "AAPL", Venue: venue, Timestamp: t0, Type: UpdateAdd,
		Side: side, Price: px(price), Size: size, OrderID: id,
	}))
}

func (s *ManagerSuite) TestExampleScenarioEmitsOneOpportunity() {
	s.add("order_1", "NYSE", orderbook.Bid, "150.00", 1000)
	s.add("order_2", "NYSE", orderbook.Bid, "149.99", 500)
	s.add("order_3", "NYSE", orderbook.Ask, "150.01", 800)

	book, err := s.m.Book("AAPL", "NYSE")
	s.Require().NoError(err)
	seq := book.Sequence()

	s.Require().NoError(s.m.ProcessBookUpdate(BookUpdate{
		Symbol: "AAPL", Venue: "NYSE", Timestamp: t0, Type: UpdateTrade, Price: px("150.00"), Size: 300,
	}))
	bid, _ := book.BestBidAsk()
	s.Require().NotNil(bid)
	s.Equal(int64(700), bid.Size)
	s.Equal(seq+1, book.Sequence())
	s.Empty(s.m.ArbitrageOpportunities())

	s.add("nq_bid", "NASDAQ", orderbook.Bid, "150.05", 200)
	s.add("nq_ask", "NASDAQ", orderbook.Ask, "150.02", 300)

	opps := s.m.ArbitrageOpportunities()
	s.Require().Len(opps, 1)
	o := opps[0]
	s.Equal("NYSE", o.BuyVenue)
	s.Equal("NASDAQ", o.SellVenue)
	s.True(o.BuyPrice.Equal(px("150.01")))
	s.True(o.SellPrice.Equal(px("150.05")))
	s.True(o.ProfitPerShare.Equal(px("0.04")))
	s.Equal(int64(200), o.MaxSize)
	s.True(o.TotalProfit.Equal(px("8")))
}

func (s *ManagerSuite) TestProfitAtMinimumTickIsNotAnOpportunity() {
	s.add("a", "NYSE", orderbook.Bid, "99.00", 100)
	s.add("b", "NYSE", orderbook.Ask, "100.00", 100)
	s.add("c", "NASDAQ", orderbook.Bid, "100.01", 100)
	s.add("d", "NASDAQ", orderbook.Ask, "101.00", 100)
	s.Empty(s.m.ArbitrageOpportunities())

	s.add("e", "ARCA", orderbook.Bid, "100.02", 40)
	s.add("f", "ARCA", orderbook.Ask, "102.00", 100)
	opps := s.m.ArbitrageOpportunities()
	s.Require().NotEmpty(opps)
	for _, o := range opps {
		s.True(o.ProfitPerShare.GreaterThan(px("0.01")))
		s.Equal("ARCA", o.SellVenue)
		s.Equal(int64(40), o.MaxSize)
	}
}

func (s *ManagerSuite) TestUnknownBookAndUpdateType() {
	err := s.m.ProcessBookUpdate(BookUpdate{Symbol: "TSLA", Venue: "NYSE", Type: UpdateAdd})
	s.ErrorIs(err, ErrUnknownBook)

	err = s.m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "BATS"})
	s.ErrorIs(err, ErrUnknownBook)

	err = s.m.ProcessBookUpdate(BookUpdate{Symbol: "AAPL", Venue: "NYSE", Type: "replace"})
	s.ErrorIs(err, ErrUnknownUpdateType)

	err = s.m.ProcessBookUpdate(BookUpdate{Symbol: "AAPL", Venue: "NYSE", Type: UpdateDelete, OrderID: "nope"})
	s.ErrorIs(err, orderbook.ErrOrderNotFound)

	err = s.m.ProcessBookUpdate(BookUpdate{Symbol: "AAPL", Venue: "NYSE", Type: UpdateTrade, Price: px("1"), Size: 1})
	s.ErrorIs(err, ErrNoMatch)

	s.Equal(uint64(0), s.m.PerformanceMetrics(time.Now()).TotalUpdates)
}

func (s *ManagerSuite) TestTickWithoutTimestampIsRejected() {
	err := s.m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NYSE", BidPrice: px("150.00"), AskPrice: px("150.02")})
	s.ErrorIs(err, ErrMissingTimestamp)

	book, _ := s.m.Book("AAPL", "NYSE")
	s.Equal(uint64(0), book.Sequence())
	s.True(book.LastUpdate().IsZero())
}

func (s *ManagerSuite) TestAddWithoutOrderIDIsRejected() {
	err := s.m.ProcessBookUpdate(BookUpdate{
		Symbol: "AAPL", Venue: "NYSE", Timestamp: t0, Sequence: 7, Type: UpdateAdd,
		Side: orderbook.Bid, Price: px("150.00"), Size: 100,
	})
	s.ErrorIs(err, orderbook.ErrInvalidOrder)

	book, _ := s.m.Book("AAPL", "NYSE")
	s.Zero(book.OrderCount())
	s.Equal(uint64(0), s.m.PerformanceMetrics(t0).TotalUpdates)
}

func (s *ManagerSuite) TestTicksReplaceSyntheticQuotes() {
	s.add("resting", "NYSE", orderbook.Bid, "149.00", 100)

	for i := 0; i < 5; i++ {
		p := decimal.NewFromInt(150).Add(decimal.New(int64(i), -2))
		s.Require().NoError(s.m.ProcessTick(models.Tick{
			Symbol: "AAPL", Venue: "NYSE", Timestamp: t0.Add(time.Duration(i) * time.Millisecond),
			BidPrice: p, AskPrice: p.Add(px("0.02")), BidSize: 300, AskSize: 400,
		}))
	}

	book, err := s.m.Book("AAPL", "NYSE")
	s.Require().NoError(err)
	s.Equal(3, book.OrderCount())

	bid, ask := book.BestBidAsk()
	s.Require().NotNil(bid)
	s.Require().NotNil(ask)
	s.True(bid.Price.Equal(px("150.04")))
	s.Equal(int64(300), bid.Size)
	s.True(ask.Price.Equal(px("150.06")))

	_, ok := book.Order("resting")
	s.True(ok)
}

func (s *ManagerSuite) TestTickDefaultsAndMissingSide() {
	s.Require().NoError(s.m.ProcessTick(models.Tick{
		Symbol: "AAPL", Venue: "ARCA", Timestamp: t0, BidPrice: px("10.00"),
	}))
	book, _ := s.m.Book("AAPL", "ARCA")
	bid, ask := book.BestBidAsk()
	s.Require().NotNil(bid)
	s.Nil(ask)
	s.Equal(s.cfg.DefaultQuoteSize, bid.Size)
}

func (s *ManagerSuite) TestConsolidatedDepth() {
	s.add("n1", "NYSE", orderbook.Bid, "100.00", 100)
	s.add("n2", "NYSE", orderbook.Bid, "99.99", 50)
	s.add("q1", "NASDAQ", orderbook.Bid, "100.00", 200)
	s.add("q2", "NASDAQ", orderbook.Bid, "100.01", 10)
	s.add("n3", "NYSE", orderbook.Ask, "100.05", 70)
	s.add("a1", "ARCA", orderbook.Ask, "100.03", 30)

	bids, asks := s.m.ConsolidatedDepth("AAPL", 2)
	s.Require().Len(bids, 2)
	s.True(bids[0].Price.Equal(px("100.01")))
	s.True(bids[1].Price.Equal(px("100.00")))
	s.Equal(int64(300), bids[1].Size)
	s.Equal(2, bids[1].Venues)

	s.Require().Len(asks, 2)
	s.True(asks[0].Price.Equal(px("100.03")))
	s.True(asks[1].Price.Equal(px("100.05")))
}

func (s *ManagerSuite) TestBestExecutionPlanSweepsCheapestFirst() {
	s.add("n", "NYSE", orderbook.Ask, "100.05", 100)
	s.add("q", "NASDAQ", orderbook.Ask, "100.02", 150)
	s.add("a", "ARCA", orderbook.Ask, "100.03", 50)

	plan := s.m.BestExecutionPlan("AAPL", orderbook.Bid, 250)
	s.Require().Len(plan, 3)
	s.Equal("NASDAQ", plan[0].Venue)
	s.Equal(int64(150), plan[0].Size)
	s.Equal("ARCA", plan[1].Venue)
	s.Equal("NYSE", plan[2].Venue)
	s.Equal(int64(50), plan[2].Size)
	s.True(plan[0].EstimatedCost.Equal(px("15003")))

	s.Empty(s.m.BestExecutionPlan("AAPL", orderbook.Ask, 100))
}

func (s *ManagerSuite) TestSummaryAndMetrics() {
	s.add("n1", "NYSE", orderbook.Bid, "100.00", 100)
	s.add("n2", "NYSE", orderbook.Ask, "100.04", 100)
	s.add("q1", "NASDAQ", orderbook.Bid, "100.10", 10)
	s.add("q2", "NASDAQ", orderbook.Ask, "100.20", 10)

	lm, ok := s.m.LiquidityMetrics("AAPL")
	s.Require().True(ok)
	s.True(lm.HasBBO)
	s.True(lm.BestBid.Equal(px("100.10")))
	s.True(lm.BestAsk.Equal(px("100.04")))
	s.Equal(int64(110), lm.TotalBidLiquidity)
	s.Equal(3, lm.VenueCount)

	sum := s.m.MarketSummary("AAPL", t0.Add(time.Second))
	s.Len(sum.Venues, 3)
	s.Require().NotNil(sum.Consolidated)
	s.True(sum.Consolidated.Spread.Equal(px("-0.06")))
	s.Equal(1, sum.ArbitrageCount)
	s.Equal(0, s.m.MarketSummary("AAPL", t0.Add(2*time.Minute)).ArbitrageCount)

	st, err := s.m.BookState("AAPL", "NYSE")
	s.Require().NoError(err)
	s.Require().NotNil(st.Spread)
	s.True(st.Spread.Equal(px("0.04")))
	s.Equal(uint64(2), st.Sequence)

	pm := s.m.PerformanceMetrics(time.Now())
	s.Equal(uint64(4), pm.TotalUpdates)
	s.Equal(6, pm.TotalBooks)
	s.Equal(1, pm.ArbitrageOpportunities)
	s.Contains(pm.Books, "AAPL@NYSE")
}

func TestStaleQuotesAreIgnoredForArbitrage(t *testing.T) {
	cfg := config.Default().Books
	cfg.Symbols = []string{"AAPL"}
	cfg.Venues = []string{"NYSE", "NASDAQ"}
	cfg.ArbitrageMaxStaleness = 100 * time.Millisecond
	m := NewManager(cfg, zaptest.NewLogger(t))

	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NYSE", Timestamp: t0, BidPrice: px("99.00"), AskPrice: px("100.00")}))
	later := t0.Add(time.Second)
	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NASDAQ", Timestamp: later, BidPrice: px("100.50"), AskPrice: px("101.00")}))
	assert.Empty(t, m.ArbitrageOpportunities())

	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NYSE", Timestamp: later.Add(10 * time.Millisecond), BidPrice: px("99.00"), AskPrice: px("100.00")}))
	opps := m.ArbitrageOpportunities()
	require.Len(t, opps, 1)
	assert.Equal(t, "NYSE", opps[0].BuyVenue)
	assert.True(t, opps[0].ProfitPerShare.Equal(px("0.5")))
}

func TestStalenessKeepsFreshVenuesOnly(t *testing.T) {
	cfg := config.Default().Books
	cfg.Symbols = []string{"AAPL"}
	cfg.Venues = []string{"NYSE", "NASDAQ", "ARCA"}
	cfg.ArbitrageMaxStaleness = 500 * time.Millisecond
	m := NewManager(cfg, zaptest.NewLogger(t))

	// ARCA has the richest bid but has been quiet for two seconds
	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "ARCA", Timestamp: t0, BidPrice: px("101.00"), AskPrice: px("101.50")}))
	now := t0.Add(2 * time.Second)
	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NYSE", Timestamp: now.Add(-200 * time.Millisecond), BidPrice: px("99.00"), AskPrice: px("100.00")}))
	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NASDAQ", Timestamp: now, BidPrice: px("100.50"), AskPrice: px("101.00")}))

	opps := m.ArbitrageOpportunities()
	require.Len(t, opps, 1)
	assert.Equal(t, "NYSE", opps[0].BuyVenue)
	assert.Equal(t, "NASDAQ", opps[0].SellVenue)
}

func TestDetectionUnderShippedProfiles(t *testing.T) {
	for _, profile := range []string{config.ProfileDevelopment, config.ProfileBalanced, config.ProfileProduction} {
		t.Run(profile, func(t *testing.T) {
			cfg, err := config.ForProfile(profile)
			require.NoError(t, err)
			m := NewManager(cfg.Books, zaptest.NewLogger(t))

			require.NoError(t, m.ProcessTick(models.Tick{
				Symbol: "AAPL", Venue: "NYSE", Timestamp: t0,
				BidPrice: px("150.00"), AskPrice: px("150.02"), BidSize: 500, AskSize: 500,
			}))
			require.NoError(t, m.ProcessTick(models.Tick{
				Symbol: "AAPL", Venue: "NASDAQ", Timestamp: t0.Add(time.Second),
				BidPrice: px("150.05"), AskPrice: px("150.07"), BidSize: 200, AskSize: 300,
			}))

			opps := m.ArbitrageOpportunities()
			require.Len(t, opps, 1)
			assert.Equal(t, "NYSE", opps[0].BuyVenue)
			assert.Equal(t, "NASDAQ", opps[0].SellVenue)
			assert.True(t, opps[0].ProfitPerShare.Equal(px("0.03")))
			assert.Equal(t, int64(200), opps[0].MaxSize)
		})
	}
}

func TestRecentArbitrageWindow(t *testing.T) {
	cfg := config.Default().Books
	cfg.Venues = []string{"NYSE", "NASDAQ"}
	m := NewManager(cfg, zaptest.NewLogger(t))

	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NYSE", Timestamp: t0, BidPrice: px("99.00"), AskPrice: px("100.00")}))
	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NASDAQ", Timestamp: t0, BidPrice: px("100.50"), AskPrice: px("101.00")}))
	later := t0.Add(2 * time.Second)
	require.NoError(t, m.ProcessTick(models.Tick{Symbol: "AAPL", Venue: "NYSE", Timestamp: later, BidPrice: px("99.00"), AskPrice: px("100.00")}))

	assert.Len(t, m.RecentArbitrage("AAPL", time.Second, later), 1)
	assert.Len(t, m.RecentArbitrage("AAPL", 3*time.Second, later), 2)
	assert.Empty(t, m.RecentArbitrage("MSFT", time.Hour, later))
}

func TestProcessBatchAcrossBooks(t *testing.T) {
	cfg := config.Default().Books
	cfg.Symbols = []string{"AAPL", "MSFT", "GOOGL"}
	cfg.Venues = []string{"NYSE", "NASDAQ"}
	cfg.BatchWorkers = 3
	m := NewManager(cfg, zaptest.NewLogger(t))

	var updates []BookUpdate
	for _, sym := range cfg.Symbols {
		for _, v := range cfg.Venues {
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("%s-%s-%d", sym, v, i)
				updates = append(updates, BookUpdate{
					Symbol: sym, Venue: v, Timestamp: t0, Type: UpdateAdd,
					Side: orderbook.Ask, Price: decimal.New(10000+int64(i%5), -2), Size: 10, OrderID: id,
				})
			}
			updates = append(updates, BookUpdate{
				Symbol: sym, Venue: v, Timestamp: t0, Type: UpdateDelete, OrderID: fmt.Sprintf("%s-%s-0", sym, v),
			})
		}
	}
	updates = append(updates, BookUpdate{Symbol: "TSLA", Venue: "NYSE", Type: UpdateAdd})

	res, err := m.ProcessBatch(context.Background(), updates)
	require.NoError(t, err)
	assert.Equal(t, 6*51, res.Applied)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 7, res.Books)

	for _, sym := range cfg.Symbols {
		for _, v := range cfg.Venues {
			book, err := m.Book(sym, v)
			require.NoError(t, err)
			assert.Equal(t, 49, book.OrderCount())
			assert.Equal(t, uint64(51), book.Sequence())
		}
	}
}

func TestProcessBatchHonoursCancellation(t *testing.T) {
	cfg := config.Default().Books
	m := NewManager(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := m.ProcessBatch(ctx, []BookUpdate{{Symbol: "AAPL", Venue: "NYSE", Type: UpdateAdd, Price: px("1"), Size: 1, OrderID: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Applied)
}

func TestOpportunityRingEvictsOldest(t *testing.T) {
	r := newOpportunityRing(3)
	for i := 0; i < 5; i++ {
		r.push(ArbitrageOpportunity{MaxSize: int64(i)})
	}
	got := r.slice()
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].MaxSize)
	assert.Equal(t, int64(4), got[2].MaxSize)
	assert.Equal(t, 3, r.len())
}

func BenchmarkProcessTickParallel(b *testing.B) {
	cfg := config.Default().Books
	m := NewManager(cfg, nil)
	var n atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := n.Add(1)
			tick := models.Tick{
				Symbol:    cfg.Symbols[i%int64(len(cfg.Symbols))],
				Venue:     cfg.Venues[i%int64(len(cfg.Venues))],
				Timestamp: t0.Add(time.Duration(i) * time.Microsecond),
				BidPrice:  decimal.New(10000+i%7, -2),
				AskPrice:  decimal.New(10010+i%7, -2),
				BidSize:   100,
				AskSize:   100,
			}
			_ = m.ProcessTick(tick)
		}
	})
}
