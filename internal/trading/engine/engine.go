// Package engine wires the order books, risk managers and analytics into a
// single event pipeline: ticks update books and marks, orders pass the risk
// gates, fills fan out to every consumer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Aidin1998/venuebook/internal/analytics/attribution"
	"github.com/Aidin1998/venuebook/internal/analytics/venue"
	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/Aidin1998/venuebook/internal/trading/bookmanager"
	"github.com/Aidin1998/venuebook/internal/trading/orderbook"
	"github.com/Aidin1998/venuebook/internal/trading/risk"
	"github.com/Aidin1998/venuebook/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrOrderRejected wraps the reason an order failed a risk gate
var ErrOrderRejected = errors.New("order rejected")

const tracerName = "github.com/Aidin1998/venuebook/internal/trading/engine"

// Option configures an Engine
type Option func(*options)

type options struct {
	oracle models.LatencyOracle
	tracer trace.Tracer
}

// WithLatencyOracle injects the latency predictor used for routing accuracy
func WithLatencyOracle(o models.LatencyOracle) Option {
	return func(opts *options) { opts.oracle = o }
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(opts *options) { opts.tracer = t }
}

// Engine coordinates the per-event control flow
type Engine struct {
	cfg config.Config

	books       *bookmanager.Manager
	risk        *risk.Manager
	ops         *risk.OperationalManager
	attribution *attribution.Attribution
	costs       *attribution.CostAnalysis
	fees        *attribution.FeeTracker
	venues      *venue.Analyzer

	mu      sync.Mutex
	orders  map[string]models.Order
	fills   []models.Fill
	marks   map[string]float64
	regimes map[string]string
	clock   time.Time

	tracer trace.Tracer
	logger *zap.Logger
}

// New builds an engine from cfg
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{oracle: models.NoLatencyOracle{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	riskManager, err := risk.NewManager(cfg.Risk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk manager: %w", err)
	}

	latency := attribution.NewLatencyCostModel()
	e := &Engine{
		cfg:         cfg,
		books:       bookmanager.NewManager(cfg.Books, logger),
		risk:        riskManager,
		ops:         risk.NewOperationalManager(cfg.Operational, logger),
		attribution: attribution.New(latency, logger),
		costs:       attribution.NewCostAnalysis(latency, logger),
		fees:        attribution.NewFeeTracker(cfg.Fees, logger),
		venues:      venue.NewAnalyzer(cfg.Venue, logger, venue.WithLatencyOracle(o.oracle)),
		orders:      make(map[string]models.Order),
		marks:       make(map[string]float64),
		regimes:     make(map[string]string),
		tracer:      o.tracer,
		logger:      logger.Named("engine"),
	}

	e.logger.Info("Engine initialized",
		zap.String("profile", cfg.Profile),
		zap.Strings("symbols", cfg.Books.Symbols),
		zap.Strings("venues", cfg.Books.Venues))
	return e, nil
}

// Books returns the order book manager
func (e *Engine) Books() *bookmanager.Manager { return e.books }

// Risk returns the portfolio risk manager
func (e *Engine) Risk() *risk.Manager { return e.risk }

// Operational returns the operational risk manager
func (e *Engine) Operational() *risk.OperationalManager { return e.ops }

// Fees returns the fee tracker
func (e *Engine) Fees() *attribution.FeeTracker { return e.fees }

// OnTick refreshes the tick's book quotes, the symbol mark and regime, the
// venue heartbeat, and re-marks the portfolio
func (e *Engine) OnTick(ctx context.Context, tick models.Tick) error {
	_, span := e.tracer.Start(ctx, "engine.OnTick", trace.WithAttributes(
		attribute.String("symbol", tick.Symbol),
		attribute.String("venue", tick.Venue),
	))
	defer span.End()

	if err := e.books.ProcessTick(tick); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("process tick: %w", err)
	}

	e.mu.Lock()
	if mid := tick.Mid(); mid.IsPositive() {
		e.marks[tick.Symbol] = mid.InexactFloat64()
	}
	e.regimes[tick.Symbol] = e.classifyRegime(tick.Volatility)
	e.advance(tick.Timestamp)
	marks := maps.Clone(e.marks)
	e.mu.Unlock()

	e.ops.UpdateHeartbeat(tick.Venue, tick.Timestamp)
	e.risk.MarkToMarket(marks, tick.Timestamp)
	return nil
}

func (e *Engine) classifyRegime(volatility float64) string {
	r := e.cfg.Regime
	switch {
	case volatility <= 0:
		return models.RegimeNormal
	case volatility >= r.StressedAbove:
		return models.RegimeStressed
	case volatility >= r.VolatileAbove:
		return models.RegimeVolatile
	case volatility < r.QuietBelow:
		return models.RegimeQuiet
	default:
		return models.RegimeNormal
	}
}

// advance moves the engine clock forward to ts
func (e *Engine) advance(ts time.Time) {
	if ts.After(e.clock) {
		e.clock = ts
	}
}

// SubmitOrder runs the operational and pre-trade risk gates. Accepted
// orders are remembered so their fills can be attributed.
func (e *Engine) SubmitOrder(ctx context.Context, order models.Order) (bool, string) {
	_, span := e.tracer.Start(ctx, "engine.SubmitOrder", trace.WithAttributes(
		attribute.String("order_id", order.OrderID),
		attribute.String("symbol", order.Symbol),
		attribute.String("venue", order.Venue),
		attribute.String("strategy", order.StrategyName()),
	))
	defer span.End()

	allowed, reason := e.submit(order)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	if !allowed {
		span.SetStatus(codes.Error, reason)
		e.logger.Info("Order rejected",
			zap.String("order_id", order.OrderID),
			zap.String("reason", reason))
	}
	return allowed, reason
}

func (e *Engine) submit(order models.Order) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.orders[order.OrderID]; dup {
		return false, fmt.Sprintf("duplicate order id %s", order.OrderID)
	}
	if order.Regime == "" {
		order.Regime = e.regimes[order.Symbol]
	}
	if !e.ops.SystemHealthy() {
		return false, "operational circuit breaker open"
	}
	if !e.ops.CheckOrderRate(order.Timestamp) {
		return false, "order rate limit exceeded"
	}
	if ok, reason := e.risk.CheckPreTradeRisk(order, e.marks); !ok {
		return false, reason
	}

	e.orders[order.OrderID] = order
	e.advance(order.Timestamp)
	return true, ""
}

// OnFill fans a fill out to the book, risk, attribution, venue and
// operational consumers. The order must have been accepted by SubmitOrder.
func (e *Engine) OnFill(ctx context.Context, fill models.Fill) error {
	_, span := e.tracer.Start(ctx, "engine.OnFill", trace.WithAttributes(
		attribute.String("fill_id", fill.FillID),
		attribute.String("order_id", fill.OrderID),
		attribute.Int64("quantity", fill.Quantity),
	))
	defer span.End()

	e.mu.Lock()
	order, ok := e.orders[fill.OrderID]
	if !ok {
		e.mu.Unlock()
		err := fmt.Errorf("fill %s: %w: %s", fill.FillID, orderbook.ErrOrderNotFound, fill.OrderID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	e.fills = append(e.fills, fill)
	e.advance(fill.Timestamp)
	marks := maps.Clone(e.marks)
	e.mu.Unlock()

	// the fill sweeps its venue book up to the order's limit; liquidity
	// outside the book is not an error
	if _, _, err := e.books.Sweep(fill.Symbol, fill.Venue, aggressorOf(fill.Side), fill.Quantity, limitOf(order), fill.Timestamp); err != nil {
		if !errors.Is(err, bookmanager.ErrNoMatch) {
			e.logger.Warn("Fill not applied to book", zap.String("fill_id", fill.FillID), zap.Error(err))
		}
	}

	strategy := order.StrategyName()
	if order.Strategy == models.StrategyMomentum {
		e.realiseMomentum(strategy, fill)
	}

	alerts := e.risk.UpdatePosition(strategy, fill, marks)
	span.SetAttributes(attribute.Int("risk_alerts", len(alerts)))

	e.attribution.AttributeFill(fill, order, attribution.MarketState{
		MidPrice: marks[fill.Symbol],
		Regime:   order.Regime,
	})
	e.venues.UpdateMetrics(order, &fill)
	e.ops.RecordLatency(fill.LatencyUs/1000, fill.Venue, fill.Timestamp)
	return nil
}

// realiseMomentum credits momentum P&L for the part of fill that closes an
// existing position
func (e *Engine) realiseMomentum(strategy string, fill models.Fill) {
	pos, ok := e.risk.Position(strategy, fill.Symbol)
	if !ok || pos.Quantity == 0 {
		return
	}
	delta := fill.Side.Sign() * fill.Quantity
	if (pos.Quantity > 0) == (delta > 0) {
		return
	}
	closing := min(fill.Quantity, abs(pos.Quantity))
	if pos.Quantity < 0 {
		closing = -closing
	}
	e.attribution.ClosePosition(strategy, pos.AverageCost, fill.Price.InexactFloat64(), closing)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// OnNoFill records that an accepted order expired without a fill
func (e *Engine) OnNoFill(ctx context.Context, orderID string) error {
	_, span := e.tracer.Start(ctx, "engine.OnNoFill", trace.WithAttributes(attribute.String("order_id", orderID)))
	defer span.End()

	e.mu.Lock()
	order, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", orderbook.ErrOrderNotFound, orderID)
	}

	e.venues.UpdateMetrics(order, nil)
	return nil
}

// Route submits order, executes it and feeds the outcome back. A rejected
// order returns ErrOrderRejected; an unfilled order returns a nil fill.
func (e *Engine) Route(ctx context.Context, order models.Order, executor models.Executor) (*models.Fill, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Route", trace.WithAttributes(attribute.String("order_id", order.OrderID)))
	defer span.End()

	if ok, reason := e.SubmitOrder(ctx, order); !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderRejected, reason)
	}

	fill, err := executor.Execute(ctx, order)
	if err != nil {
		e.ops.RecordError("execution", err.Error(), order.Venue, order.Timestamp)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("execute order %s: %w", order.OrderID, err)
	}
	if fill == nil {
		return nil, e.OnNoFill(ctx, order.OrderID)
	}
	if err := e.OnFill(ctx, *fill); err != nil {
		return nil, err
	}
	return fill, nil
}

// Orders returns the accepted orders by id
func (e *Engine) Orders() map[string]models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.orders)
}

// Fills returns the processed fills in arrival order
func (e *Engine) Fills() []models.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Fill(nil), e.fills...)
}

// Marks returns the latest mid per symbol
func (e *Engine) Marks() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.marks)
}
