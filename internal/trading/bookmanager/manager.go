// Package bookmanager owns every (symbol, venue) order book and derives the
// cross-venue views: arbitrage, consolidated depth, liquidity and
// best-execution plans.
package bookmanager

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/Aidin1998/venuebook/internal/trading/orderbook"
	"github.com/Aidin1998/venuebook/pkg/metrics"
	"github.com/Aidin1998/venuebook/pkg/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type bookKey struct {
	symbol string
	venue  string
}

func (k bookKey) String() string {
	return k.symbol + "@" + k.venue
}

// Manager routes updates to books. The book map is fixed at construction, so
// lookups need no lock; each book serialises its own mutations.
type Manager struct {
	cfg     config.BooksConfig
	symbols []string
	venues  []string
	books   map[bookKey]*orderbook.OrderBook

	minProfit decimal.Decimal

	arbMu     sync.RWMutex
	arbitrage *opportunityRing

	liqMu     sync.RWMutex
	liquidity map[string]LiquidityMetrics

	totalUpdates atomic.Uint64
	totalTrades  atomic.Uint64
	start        time.Time

	logger *zap.Logger
}

// NewManager creates one empty book per configured symbol and venue
func NewManager(cfg config.BooksConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bookmanager")

	m := &Manager{
		cfg:       cfg,
		symbols:   slices.Clone(cfg.Symbols),
		venues:    slices.Clone(cfg.Venues),
		books:     make(map[bookKey]*orderbook.OrderBook, len(cfg.Symbols)*len(cfg.Venues)),
		minProfit: decimal.NewFromFloat(cfg.MinArbitrageProfit),
		arbitrage: newOpportunityRing(cfg.ArbitrageBufferSize),
		liquidity: make(map[string]LiquidityMetrics),
		start:     time.Now(),
		logger:    logger,
	}
	for _, s := range m.symbols {
		for _, v := range m.venues {
			m.books[bookKey{s, v}] = orderbook.NewOrderBook(s, v, cfg.MaxDepth, logger)
		}
	}

	logger.Info("Order book manager initialized",
		zap.Int("symbols", len(m.symbols)),
		zap.Int("venues", len(m.venues)),
		zap.Int("books", len(m.books)))
	return m
}

// Symbols returns the tracked symbols
func (m *Manager) Symbols() []string { return slices.Clone(m.symbols) }

// Venues returns the tracked venues
func (m *Manager) Venues() []string { return slices.Clone(m.venues) }

// Book returns the book of a symbol on a venue
func (m *Manager) Book(symbol, venue string) (*orderbook.OrderBook, error) {
	b, ok := m.books[bookKey{symbol, venue}]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrUnknownBook, symbol, venue)
	}
	return b, nil
}

// AddOrder rests an order in the book named by its symbol and venue
func (m *Manager) AddOrder(o *orderbook.Order) error {
	book, err := m.Book(o.Symbol, o.Venue)
	if err != nil {
		m.logger.Error("No order book found", zap.String("symbol", o.Symbol), zap.String("venue", o.Venue))
		return err
	}
	if err := book.AddOrder(o); err != nil {
		return err
	}

	m.applied(o.Venue, UpdateAdd)
	m.updateCrossVenueAnalytics(o.Symbol, o.Timestamp)
	return nil
}

// ProcessBookUpdate applies one update to its book
func (m *Manager) ProcessBookUpdate(u BookUpdate) error {
	book, err := m.Book(u.Symbol, u.Venue)
	if err != nil {
		m.logger.Error("No order book found", zap.String("symbol", u.Symbol), zap.String("venue", u.Venue))
		return err
	}

	switch u.Type {
	case UpdateAdd:
		if u.OrderID == "" {
			err = fmt.Errorf("%w: add update without order id (seq %d)", orderbook.ErrInvalidOrder, u.Sequence)
			break
		}
		err = book.AddOrder(orderbook.NewOrder(u.OrderID, u.Symbol, u.Venue, u.Side, u.Price, u.Size, u.Timestamp))
	case UpdateModify:
		err = book.ModifyOrder(u.OrderID, u.Size, u.Timestamp)
	case UpdateDelete:
		err = book.CancelOrder(u.OrderID, u.Timestamp)
	case UpdateTrade:
		ids, executed := book.Match(u.Price, u.Size, u.Timestamp)
		if len(ids) == 0 {
			err = fmt.Errorf("%w: %s %s@%s", ErrNoMatch, u.Price, u.Symbol, u.Venue)
			break
		}
		m.totalTrades.Add(1)
		metrics.TradesMatched.WithLabelValues(u.Venue).Inc()
		m.logger.Debug("Trade matched",
			zap.String("book", bookKey{u.Symbol, u.Venue}.String()),
			zap.Strings("orders", ids),
			zap.Int64("executed", executed))
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownUpdateType, u.Type)
	}
	if err != nil {
		return err
	}

	m.applied(u.Venue, u.Type)
	m.updateCrossVenueAnalytics(u.Symbol, u.Timestamp)
	return nil
}

// ExecuteTrade matches a trade print and returns the touched order ids
func (m *Manager) ExecuteTrade(symbol, venue string, price decimal.Decimal, size int64, ts time.Time) ([]string, int64, error) {
	book, err := m.Book(symbol, venue)
	if err != nil {
		return nil, 0, err
	}
	ids, executed := book.Match(price, size, ts)
	if len(ids) == 0 {
		return nil, 0, fmt.Errorf("%w: %s %s@%s", ErrNoMatch, price, symbol, venue)
	}

	m.totalTrades.Add(1)
	metrics.TradesMatched.WithLabelValues(venue).Inc()
	m.applied(venue, UpdateTrade)
	m.updateCrossVenueAnalytics(symbol, ts)
	return ids, executed, nil
}

// Sweep applies an execution of size by an aggressor on side to the book,
// consuming resting liquidity best price first up to limit (zero for none)
func (m *Manager) Sweep(symbol, venue string, aggressor orderbook.Side, size int64, limit decimal.Decimal, ts time.Time) ([]string, int64, error) {
	book, err := m.Book(symbol, venue)
	if err != nil {
		return nil, 0, err
	}
	ids, executed := book.Sweep(aggressor, size, limit, ts)
	if len(ids) == 0 {
		return nil, 0, fmt.Errorf("%w: %s %d %s@%s", ErrNoMatch, aggressor, size, symbol, venue)
	}

	m.totalTrades.Add(1)
	metrics.TradesMatched.WithLabelValues(venue).Inc()
	m.applied(venue, UpdateTrade)
	m.updateCrossVenueAnalytics(symbol, ts)
	return ids, executed, nil
}

func (m *Manager) applied(venue string, t UpdateType) {
	m.totalUpdates.Add(1)
	metrics.BookUpdates.WithLabelValues(venue, string(t)).Inc()
}

// ProcessTick replaces the synthetic top-of-book quotes of the tick's book.
// A side without a positive price gets no quote; a missing size falls back
// to the configured default quote size. Ticks must carry their event time.
func (m *Manager) ProcessTick(tick models.Tick) error {
	book, err := m.Book(tick.Symbol, tick.Venue)
	if err != nil {
		m.logger.Warn("No order book found for tick", zap.String("symbol", tick.Symbol), zap.String("venue", tick.Venue))
		return err
	}

	ts := tick.Timestamp
	if ts.IsZero() {
		return fmt.Errorf("%w: tick %s@%s", ErrMissingTimestamp, tick.Symbol, tick.Venue)
	}

	placed := book.ReplaceQuotes(m.quote(tick.BidPrice, tick.BidSize), m.quote(tick.AskPrice, tick.AskSize), ts)
	metrics.SyntheticQuotes.WithLabelValues(tick.Venue).Add(float64(placed))

	m.applied(tick.Venue, "quote")
	m.updateCrossVenueAnalytics(tick.Symbol, ts)
	return nil
}

func (m *Manager) quote(price decimal.Decimal, size int64) *orderbook.Quote {
	if !price.IsPositive() {
		return nil
	}
	if size <= 0 {
		size = m.cfg.DefaultQuoteSize
	}
	return &orderbook.Quote{Price: price, Size: size}
}

// ProcessBatch applies updates grouped by book. Updates of one book are
// applied in input order by a single goroutine; different books run in
// parallel, bounded by the configured worker count. Per-update failures are
// counted, not returned; only context cancellation aborts the batch.
func (m *Manager) ProcessBatch(ctx context.Context, updates []BookUpdate) (BatchResult, error) {
	groups := make(map[bookKey][]BookUpdate)
	var order []bookKey
	for _, u := range updates {
		k := bookKey{u.Symbol, u.Venue}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], u)
	}

	var applied, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.cfg.BatchWorkers, 1))
	for _, k := range order {
		batch := groups[k]
		g.Go(func() error {
			for _, u := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := m.ProcessBookUpdate(u); err != nil {
					failed.Add(1)
					m.logger.Debug("Batch update rejected", zap.String("book", k.String()), zap.Error(err))
					continue
				}
				applied.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	return BatchResult{Applied: int(applied.Load()), Failed: int(failed.Load()), Books: len(order)}, err
}

func (m *Manager) updateCrossVenueAnalytics(symbol string, now time.Time) {
	m.detectArbitrage(symbol, now)
	m.calculateLiquidity(symbol)
}

type venueTop struct {
	venue string
	bid   orderbook.Level
	ask   orderbook.Level
}

// tops returns venues quoting both sides, skipping books older than the
// staleness tolerance relative to now
func (m *Manager) tops(symbol string, now time.Time) []venueTop {
	out := make([]venueTop, 0, len(m.venues))
	for _, v := range m.venues {
		book := m.books[bookKey{symbol, v}]
		if book == nil {
			continue
		}
		if m.cfg.ArbitrageMaxStaleness > 0 && now.Sub(book.LastUpdate()) > m.cfg.ArbitrageMaxStaleness {
			continue
		}
		bid, ask := book.BestBidAsk()
		if bid == nil || ask == nil {
			continue
		}
		out = append(out, venueTop{venue: v, bid: *bid, ask: *ask})
	}
	return out
}

// detectArbitrage compares every ordered venue pair; V is small so O(V²) is fine
func (m *Manager) detectArbitrage(symbol string, now time.Time) {
	tops := m.tops(symbol, now)
	if len(tops) < 2 {
		return
	}

	var found []ArbitrageOpportunity
	for i, buy := range tops {
		for j, sell := range tops {
			if i == j {
				continue
			}
			profit := sell.bid.Price.Sub(buy.ask.Price)
			if !profit.GreaterThan(m.minProfit) {
				continue
			}
			size := min(buy.ask.Size, sell.bid.Size)
			found = append(found, ArbitrageOpportunity{
				Symbol:         symbol,
				Timestamp:      now,
				BuyVenue:       buy.venue,
				SellVenue:      sell.venue,
				BuyPrice:       buy.ask.Price,
				SellPrice:      sell.bid.Price,
				ProfitPerShare: profit,
				MaxSize:        size,
				TotalProfit:    profit.Mul(decimal.NewFromInt(size)),
			})
		}
	}
	if len(found) == 0 {
		return
	}

	m.arbMu.Lock()
	for _, o := range found {
		m.arbitrage.push(o)
	}
	m.arbMu.Unlock()

	metrics.ArbitrageOpportunities.WithLabelValues(symbol).Add(float64(len(found)))
	m.logger.Debug("Arbitrage detected", zap.String("symbol", symbol), zap.Int("count", len(found)))
}

func (m *Manager) calculateLiquidity(symbol string) {
	var lm LiquidityMetrics
	bidNotional, askNotional := decimal.Zero, decimal.Zero
	hasBid, hasAsk := false, false

	for _, v := range m.venues {
		book := m.books[bookKey{symbol, v}]
		if book == nil {
			continue
		}
		bid, ask := book.BestBidAsk()
		if bid != nil {
			lm.TotalBidLiquidity += bid.Size
			bidNotional = bidNotional.Add(bid.Price.Mul(decimal.NewFromInt(bid.Size)))
			if !hasBid || bid.Price.GreaterThan(lm.BestBid) {
				lm.BestBid = bid.Price
			}
			hasBid = true
		}
		if ask != nil {
			lm.TotalAskLiquidity += ask.Size
			askNotional = askNotional.Add(ask.Price.Mul(decimal.NewFromInt(ask.Size)))
			if !hasAsk || ask.Price.LessThan(lm.BestAsk) {
				lm.BestAsk = ask.Price
			}
			hasAsk = true
		}
		lm.VenueCount++
	}

	if lm.TotalBidLiquidity > 0 {
		lm.WeightedBidPrice = bidNotional.Div(decimal.NewFromInt(lm.TotalBidLiquidity))
	}
	if lm.TotalAskLiquidity > 0 {
		lm.WeightedAskPrice = askNotional.Div(decimal.NewFromInt(lm.TotalAskLiquidity))
	}
	if hasBid && hasAsk {
		lm.HasBBO = true
		lm.BestSpread = lm.BestAsk.Sub(lm.BestBid)
		lm.BestMid = lm.BestBid.Add(lm.BestAsk).Div(decimal.NewFromInt(2))
	}

	m.liqMu.Lock()
	m.liquidity[symbol] = lm
	m.liqMu.Unlock()
}

// LiquidityMetrics returns the last computed liquidity of a symbol
func (m *Manager) LiquidityMetrics(symbol string) (LiquidityMetrics, bool) {
	m.liqMu.RLock()
	defer m.liqMu.RUnlock()
	lm, ok := m.liquidity[symbol]
	return lm, ok
}

// ArbitrageOpportunities returns the retained opportunities, oldest first
func (m *Manager) ArbitrageOpportunities() []ArbitrageOpportunity {
	m.arbMu.RLock()
	defer m.arbMu.RUnlock()
	return m.arbitrage.slice()
}

// RecentArbitrage returns opportunities for symbol detected within window before now
func (m *Manager) RecentArbitrage(symbol string, window time.Duration, now time.Time) []ArbitrageOpportunity {
	m.arbMu.RLock()
	defer m.arbMu.RUnlock()

	var out []ArbitrageOpportunity
	m.arbitrage.each(func(o ArbitrageOpportunity) bool {
		if o.Symbol == symbol && now.Sub(o.Timestamp) < window {
			out = append(out, o)
		}
		return true
	})
	return out
}

// ConsolidatedDepth merges same-price liquidity across venues
func (m *Manager) ConsolidatedDepth(symbol string, levels int) (bids, asks []ConsolidatedLevel) {
	bidAgg := make(map[string]*ConsolidatedLevel)
	askAgg := make(map[string]*ConsolidatedLevel)

	for _, v := range m.venues {
		book := m.books[bookKey{symbol, v}]
		if book == nil {
			continue
		}
		b, a := book.Depth(levels)
		aggregate(bidAgg, b)
		aggregate(askAgg, a)
	}

	bids = flatten(bidAgg, levels, func(x, y ConsolidatedLevel) int { return y.Price.Cmp(x.Price) })
	asks = flatten(askAgg, levels, func(x, y ConsolidatedLevel) int { return x.Price.Cmp(y.Price) })
	return bids, asks
}

func aggregate(into map[string]*ConsolidatedLevel, levels []orderbook.Level) {
	for _, l := range levels {
		key := l.Price.String()
		cl, ok := into[key]
		if !ok {
			cl = &ConsolidatedLevel{Price: l.Price}
			into[key] = cl
		}
		cl.Size += l.Size
		cl.Venues++
	}
}

func flatten(agg map[string]*ConsolidatedLevel, levels int, cmp func(x, y ConsolidatedLevel) int) []ConsolidatedLevel {
	out := make([]ConsolidatedLevel, 0, len(agg))
	for _, cl := range agg {
		out = append(out, *cl)
	}
	slices.SortFunc(out, cmp)
	if levels >= 0 && len(out) > levels {
		out = out[:levels]
	}
	return out
}

// BestExecutionPlan sweeps venue tops from the most favourable price,
// allocating size to each until it is filled or liquidity runs out.
// side is the aggressor side: Bid buys from asks.
func (m *Manager) BestExecutionPlan(symbol string, side orderbook.Side, size int64) []ExecutionSlice {
	type offer struct {
		venue string
		level orderbook.Level
	}

	var offers []offer
	for _, v := range m.venues {
		book := m.books[bookKey{symbol, v}]
		if book == nil {
			continue
		}
		bid, ask := book.BestBidAsk()
		if side == orderbook.Bid && ask != nil {
			offers = append(offers, offer{v, *ask})
		} else if side == orderbook.Ask && bid != nil {
			offers = append(offers, offer{v, *bid})
		}
	}

	slices.SortStableFunc(offers, func(x, y offer) int {
		if side == orderbook.Bid {
			return x.level.Price.Cmp(y.level.Price)
		}
		return y.level.Price.Cmp(x.level.Price)
	})

	var plan []ExecutionSlice
	remaining := size
	for _, o := range offers {
		if remaining <= 0 {
			break
		}
		take := min(remaining, o.level.Size)
		plan = append(plan, ExecutionSlice{
			Venue:         o.venue,
			Price:         o.level.Price,
			Size:          take,
			EstimatedCost: o.level.Price.Mul(decimal.NewFromInt(take)),
		})
		remaining -= take
	}
	return plan
}

// BookState returns the top-of-book view of one venue
func (m *Manager) BookState(symbol, venue string) (BookState, error) {
	book, err := m.Book(symbol, venue)
	if err != nil {
		return BookState{Symbol: symbol, Venue: venue}, err
	}
	return bookState(book), nil
}

func bookState(book *orderbook.OrderBook) BookState {
	snap := book.Snapshot(0)
	st := BookState{
		Symbol:     book.Symbol,
		Venue:      book.Venue,
		Imbalance:  book.Imbalance(5),
		Sequence:   snap.Sequence,
		OrderCount: book.OrderCount(),
		LastUpdate: snap.Timestamp,
	}
	if l, ok := snap.BestBid(); ok {
		st.BestBid = &l
	}
	if l, ok := snap.BestAsk(); ok {
		st.BestAsk = &l
	}
	if s, ok := snap.Spread(); ok {
		st.Spread = &s
	}
	if mid, ok := snap.Mid(); ok {
		st.Mid = &mid
	}
	return st
}

// MarketSummary returns per-venue and consolidated views of a symbol
func (m *Manager) MarketSummary(symbol string, now time.Time) MarketSummary {
	sum := MarketSummary{
		Symbol:    symbol,
		Timestamp: now,
		Venues:    make(map[string]BookState),
	}
	for _, v := range m.venues {
		if book := m.books[bookKey{symbol, v}]; book != nil {
			sum.Venues[v] = bookState(book)
		}
	}

	bids, asks := m.ConsolidatedDepth(symbol, 5)
	if len(bids) > 0 && len(asks) > 0 {
		c := &ConsolidatedSummary{
			BestBid: bids[0],
			BestAsk: asks[0],
			Spread:  asks[0].Price.Sub(bids[0].Price),
			Mid:     bids[0].Price.Add(asks[0].Price).Div(decimal.NewFromInt(2)),
		}
		for _, l := range bids {
			c.TotalBidLiquidity += l.Size
		}
		for _, l := range asks {
			c.TotalAskLiquidity += l.Size
		}
		sum.Consolidated = c
	}

	sum.ArbitrageCount = len(m.RecentArbitrage(symbol, m.cfg.ArbitrageWindow, now))
	return sum
}

// PerformanceMetrics returns manager counters and per-book statistics
func (m *Manager) PerformanceMetrics(now time.Time) PerformanceMetrics {
	runtime := now.Sub(m.start)
	pm := PerformanceMetrics{
		Runtime:        runtime,
		TotalUpdates:   m.totalUpdates.Load(),
		TotalTrades:    m.totalTrades.Load(),
		SymbolsTracked: len(m.symbols),
		VenuesTracked:  len(m.venues),
		TotalBooks:     len(m.books),
		Liquidity:      make(map[string]LiquidityMetrics),
		Books:          make(map[string]orderbook.Stats, len(m.books)),
	}
	if runtime > 0 {
		pm.UpdateRate = float64(pm.TotalUpdates) / runtime.Seconds()
	}

	m.arbMu.RLock()
	pm.ArbitrageOpportunities = m.arbitrage.len()
	m.arbMu.RUnlock()

	m.liqMu.RLock()
	for s, lm := range m.liquidity {
		pm.Liquidity[s] = lm
	}
	m.liqMu.RUnlock()

	for k, b := range m.books {
		pm.Books[k.String()] = b.Stats()
	}
	return pm
}
