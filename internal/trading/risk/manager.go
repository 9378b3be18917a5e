// Package risk gates orders through pre-trade checks and keeps the
// post-trade position, exposure, drawdown and VaR state of the portfolio.
package risk

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"github.com/Aidin1998/venuebook/pkg/metrics"
	"github.com/Aidin1998/venuebook/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Manager is the portfolio risk manager. A single mutex guards all of its
// state because exposure and concentration need a consistent view of every
// position across books.
type Manager struct {
	mu  sync.RWMutex
	cfg config.RiskConfig

	limits     map[string]*RiskLimit
	limitOrder []string

	positions  map[StrategySymbol]*Position
	exposures  map[string]float64
	marks      map[string]float64
	restricted map[string]struct{}

	tradingAllowed bool
	haltReason     string

	highWaterMark   float64
	currentDrawdown float64

	history      []snapshot
	varHistory   []VaRResult
	activeAlerts []RiskAlert
	alertHistory []RiskAlert
	lastEvent    time.Time

	subscribers []chan RiskAlert

	logger *zap.Logger
}

// NewManager builds the fixed limit set from cfg. A negative or inconsistent
// threshold yields config.ErrInvalidRiskState.
func NewManager(cfg config.RiskConfig, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinVaRSamples < 2 {
		cfg.MinVaRSamples = 100
	}

	m := &Manager{
		cfg:            cfg,
		limits:         make(map[string]*RiskLimit),
		positions:      make(map[StrategySymbol]*Position),
		exposures:      make(map[string]float64),
		marks:          make(map[string]float64),
		restricted:     make(map[string]struct{}),
		tradingAllowed: true,
		logger:         logger.Named("risk"),
	}

	for _, l := range []RiskLimit{
		{Name: LimitMaxPositionSize, Metric: MetricPosition, Type: LimitHard, Threshold: float64(cfg.MaxPositionSize), Action: config.ActionAlert},
		{Name: LimitMaxGrossExposure, Metric: MetricExposure, Type: LimitHard, Threshold: cfg.MaxGrossExposure, Action: config.ActionReduce},
		{Name: LimitMaxConcentration, Metric: MetricConcentration, Type: LimitSoft, Threshold: cfg.MaxSymbolConcentration, Action: config.ActionAlert},
		{Name: LimitSoftDrawdown, Metric: MetricDrawdown, Type: LimitSoft, Threshold: cfg.SoftDrawdownLimit, Action: config.ActionReduce},
		{Name: LimitMaxDrawdown, Metric: MetricDrawdown, Type: LimitHard, Threshold: cfg.HardDrawdownLimit, Action: config.ActionStop},
		{Name: LimitVaR, Metric: MetricVaR, Type: LimitSoft, Threshold: cfg.VaRLimit, Action: cfg.VaRAction},
		{Name: LimitExpectedShortfall, Metric: MetricVaR, Type: LimitSoft, Threshold: cfg.ExpectedShortfallLimit, Action: config.ActionAlert},
	} {
		l := l
		m.limits[l.Name] = &l
		m.limitOrder = append(m.limitOrder, l.Name)
		m.logger.Info("Risk limit configured",
			zap.String("limit", l.Name),
			zap.String("type", string(l.Type)),
			zap.Float64("threshold", l.Threshold),
			zap.String("action", l.Action))
	}
	metrics.TradingHalted.Set(0)

	return m, nil
}

// CheckPreTradeRisk runs the sequential pre-trade gate. It reads state only.
func (m *Manager) CheckPreTradeRisk(order models.Order, prices map[string]float64) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	allowed, reason := m.checkPreTrade(order, prices)
	if allowed {
		metrics.PreTradeDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.PreTradeDecisions.WithLabelValues("denied").Inc()
		m.logger.Debug("Order denied by pre-trade risk",
			zap.String("order_id", order.OrderID),
			zap.String("symbol", order.Symbol),
			zap.String("reason", reason))
	}
	return allowed, reason
}

func (m *Manager) checkPreTrade(order models.Order, prices map[string]float64) (bool, string) {
	if !m.tradingAllowed {
		return false, "Trading halted due to risk limits: " + m.haltReason
	}

	if _, ok := m.restricted[order.Symbol]; ok {
		return false, fmt.Sprintf("Symbol %s is restricted", order.Symbol)
	}

	key := StrategySymbol{order.StrategyName(), order.Symbol}
	var current int64
	if p, ok := m.positions[key]; ok {
		current = p.Quantity
	}
	delta := order.Side.Sign() * order.Quantity
	projected := current + delta

	maxPos := m.limits[LimitMaxPositionSize].Threshold
	if float64(abs64(projected)) > maxPos {
		return false, fmt.Sprintf("Position size limit exceeded: %d > %.0f (%s)", abs64(projected), maxPos, LimitMaxPositionSize)
	}

	price := m.priceOf(order.Symbol, prices)
	if price <= 0 {
		price = order.Price.InexactFloat64()
	}

	// projected gross exposure with the candidate position replaced
	gross := 0.0
	for k, p := range m.positions {
		if k == key {
			gross += math.Abs(float64(projected) * price)
			continue
		}
		gross += math.Abs(float64(p.Quantity) * m.valueOf(p, prices))
	}
	if _, ok := m.positions[key]; !ok {
		gross += math.Abs(float64(projected) * price)
	}
	if maxGross := m.limits[LimitMaxGrossExposure].Threshold; gross > maxGross {
		return false, fmt.Sprintf("Gross exposure limit exceeded: %.0f > %.0f (%s)", gross, maxGross, LimitMaxGrossExposure)
	}

	total := 0.0
	for _, e := range m.exposures {
		total += math.Abs(e)
	}
	if total > 0 {
		symExp := m.exposures[order.Symbol]
		newSymExp := symExp + float64(delta)*price
		newTotal := total - math.Abs(symExp) + math.Abs(newSymExp)
		if newTotal > 0 && math.Abs(newSymExp) > math.Abs(symExp) {
			concentration := math.Abs(newSymExp) / newTotal
			if limit := m.limits[LimitMaxConcentration].Threshold; concentration > limit {
				return false, fmt.Sprintf("Concentration limit exceeded for %s: %.1f%% > %.1f%% (%s)",
					order.Symbol, concentration*100, limit*100, LimitMaxConcentration)
			}
		}
	}

	if m.currentDrawdown > m.limits[LimitSoftDrawdown].Threshold && !isRiskReducing(current, delta) {
		return false, "Only risk-reducing trades allowed during drawdown"
	}

	return true, ""
}

func isRiskReducing(current, delta int64) bool {
	if current == 0 {
		return false
	}
	return (current > 0) != (delta > 0)
}

// priceOf prefers the caller's prices over the last observed mark
func (m *Manager) priceOf(symbol string, prices map[string]float64) float64 {
	if p, ok := prices[symbol]; ok && p > 0 {
		return p
	}
	return m.marks[symbol]
}

// valueOf prices a held position, falling back to its average cost while
// the symbol has no mark
func (m *Manager) valueOf(p *Position, prices map[string]float64) float64 {
	if price := m.priceOf(p.Symbol, prices); price > 0 {
		return price
	}
	return p.AverageCost
}

// UpdatePosition books a fill for strategy, recomputes every exposure and
// re-evaluates all limits. It returns the alerts raised.
func (m *Manager) UpdatePosition(strategy string, fill models.Fill, prices map[string]float64) []RiskAlert {
	if strategy == "" {
		strategy = string(models.StrategyUnknown)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := StrategySymbol{strategy, fill.Symbol}
	pos, ok := m.positions[key]
	if !ok {
		pos = &Position{Strategy: strategy, Symbol: fill.Symbol}
		m.positions[key] = pos
	}

	fillPrice := fill.Price.InexactFloat64()
	realized := pos.apply(fill.Side.Sign()*fill.Quantity, fillPrice, fill.Timestamp)
	pos.Fees += fill.Fees - fill.Rebate

	m.updateMarks(prices)
	if prices[fill.Symbol] <= 0 {
		m.marks[fill.Symbol] = fillPrice
	}
	m.lastEvent = fill.Timestamp
	m.revalue()

	m.logger.Debug("Position updated",
		zap.String("position", key.String()),
		zap.Int64("quantity", pos.Quantity),
		zap.Float64("average_cost", pos.AverageCost),
		zap.Float64("realized", realized))

	alerts := m.checkRiskLimits(fill.Timestamp)
	m.recordSnapshot(fill.Timestamp)
	return alerts
}

// MarkToMarket re-values all positions at prices and re-checks drawdown
func (m *Manager) MarkToMarket(prices map[string]float64, ts time.Time) []RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateMarks(prices)
	m.lastEvent = ts
	m.revalue()

	alerts := m.checkDrawdown(ts)
	m.recordSnapshot(ts)
	return alerts
}

func (m *Manager) updateMarks(prices map[string]float64) {
	for s, p := range prices {
		if p > 0 {
			m.marks[s] = p
		}
	}
}

// revalue re-marks every position and rebuilds exposures from scratch
func (m *Manager) revalue() {
	clear(m.exposures)
	for k, p := range m.positions {
		price := m.marks[k.Symbol]
		p.mark(price)
		m.exposures[k.Symbol] += float64(p.Quantity) * price
	}
}

func (m *Manager) grossNet() (gross, net float64) {
	for _, e := range m.exposures {
		gross += math.Abs(e)
		net += e
	}
	return gross, net
}

func (m *Manager) totalPnL() float64 {
	total := 0.0
	for _, p := range m.positions {
		total += p.TotalPnL()
	}
	return total
}

func (m *Manager) checkRiskLimits(ts time.Time) []RiskAlert {
	var alerts []RiskAlert

	posLimit := m.limits[LimitMaxPositionSize]
	maxQty := 0.0
	for _, k := range m.sortedKeys() {
		qty := float64(abs64(m.positions[k].Quantity))
		maxQty = math.Max(maxQty, qty)
		if qty > posLimit.Threshold {
			alerts = append(alerts, m.triggerAlert(posLimit, LevelHigh, ts, qty,
				fmt.Sprintf("Position limit breached for %s: %.0f", k, qty)))
		}
	}
	posLimit.CurrentValue = maxQty

	gross, _ := m.grossNet()
	grossLimit := m.limits[LimitMaxGrossExposure]
	grossLimit.CurrentValue = gross
	if gross > grossLimit.Threshold {
		alerts = append(alerts, m.triggerAlert(grossLimit, LevelCritical, ts, gross,
			fmt.Sprintf("Gross exposure limit breached: %.0f", gross)))
	}

	concLimit := m.limits[LimitMaxConcentration]
	concLimit.CurrentValue = 0
	if gross > 0 {
		symbols := make([]string, 0, len(m.exposures))
		for s := range m.exposures {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			c := math.Abs(m.exposures[s]) / gross
			concLimit.CurrentValue = math.Max(concLimit.CurrentValue, c)
			if c > concLimit.Threshold {
				alerts = append(alerts, m.triggerAlert(concLimit, LevelMedium, ts, c,
					fmt.Sprintf("Concentration limit breached for %s: %.1f%%", s, c*100)))
			}
		}
	}

	return append(alerts, m.checkDrawdown(ts)...)
}

// checkDrawdown moves the high-water mark and evaluates both drawdown limits
func (m *Manager) checkDrawdown(ts time.Time) []RiskAlert {
	total := m.totalPnL()
	if total > m.highWaterMark {
		m.highWaterMark = total
		m.currentDrawdown = 0
	} else {
		m.currentDrawdown = m.highWaterMark - total
	}

	hard := m.limits[LimitMaxDrawdown]
	soft := m.limits[LimitSoftDrawdown]
	hard.CurrentValue = m.currentDrawdown
	soft.CurrentValue = m.currentDrawdown

	switch {
	case m.currentDrawdown > hard.Threshold:
		return []RiskAlert{m.triggerAlert(hard, LevelCritical, ts, m.currentDrawdown,
			fmt.Sprintf("Hard drawdown limit breached: %.0f", m.currentDrawdown))}
	case m.currentDrawdown > soft.Threshold:
		return []RiskAlert{m.triggerAlert(soft, LevelHigh, ts, m.currentDrawdown,
			fmt.Sprintf("Soft drawdown limit breached: %.0f", m.currentDrawdown))}
	}
	return nil
}

// triggerAlert records a breach of limit and takes its action
func (m *Manager) triggerAlert(limit *RiskLimit, level Level, ts time.Time, value float64, msg string) RiskAlert {
	alert := RiskAlert{
		ID:           uuid.NewString(),
		Timestamp:    ts,
		Metric:       limit.Metric,
		Level:        level,
		Message:      msg,
		CurrentValue: value,
		LimitValue:   limit.Threshold,
		ActionTaken:  m.takeAction(limit.Action, msg),
	}

	limit.BreachCount++
	limit.LastBreachTime = ts

	m.activeAlerts = appendBounded(m.activeAlerts, alert, m.cfg.AlertHistorySize)
	m.alertHistory = appendBounded(m.alertHistory, alert, m.cfg.AlertHistorySize)
	metrics.RiskAlerts.WithLabelValues(string(alert.Metric), alert.Level.String()).Inc()

	m.logger.Warn("Risk alert",
		zap.String("limit", limit.Name),
		zap.String("level", level.String()),
		zap.String("message", msg),
		zap.Float64("current", value),
		zap.Float64("threshold", limit.Threshold),
		zap.String("action", alert.ActionTaken))

	for _, ch := range m.subscribers {
		select {
		case ch <- alert:
		default:
			// slow subscriber, drop
		}
	}
	return alert
}

func (m *Manager) takeAction(action, reason string) string {
	switch action {
	case config.ActionStop:
		if m.tradingAllowed {
			m.tradingAllowed = false
			m.haltReason = reason
			metrics.TradingHalted.Set(1)
			m.logger.Error("TRADING HALTED due to risk limits", zap.String("reason", reason))
		}
		return "stop_trading"
	case config.ActionReduce:
		m.logger.Warn("Position reduction required", zap.String("reason", reason))
		return "reduce_positions"
	default:
		return "monitoring"
	}
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = slices.Delete(s, 0, len(s)-limit)
	}
	return s
}

func (m *Manager) recordSnapshot(ts time.Time) {
	gross, net := m.grossNet()
	m.history = appendBounded(m.history, snapshot{
		timestamp:     ts,
		grossExposure: gross,
		netExposure:   net,
		totalPnL:      m.totalPnL(),
		drawdown:      m.currentDrawdown,
		positions:     len(m.positions),
	}, m.cfg.SnapshotHistorySize)
}

// CalculateVaR estimates historical-simulation VaR and expected shortfall
// from period-over-period changes of total P&L. With fewer than the
// configured minimum of snapshots it returns zeros.
func (m *Manager) CalculateVaR(confidence float64, horizonDays int) VaRResult {
	if horizonDays < 1 {
		horizonDays = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := VaRResult{Confidence: confidence, HorizonDays: horizonDays, Timestamp: m.lastEvent}
	if len(m.history) < m.cfg.MinVaRSamples || confidence <= 0 || confidence >= 1 {
		return result
	}

	changes := make([]float64, 0, len(m.history)-1)
	for i := 1; i < len(m.history); i++ {
		changes = append(changes, m.history[i].totalPnL-m.history[i-1].totalPnL)
	}
	sort.Float64s(changes)

	v := -stat.Quantile(1-confidence, stat.LinInterp, changes, nil)

	var losses []float64
	for _, c := range changes {
		if c < -v {
			losses = append(losses, -c)
		}
	}
	es := v
	if len(losses) > 0 {
		es = stat.Mean(losses, nil)
	}

	scale := math.Sqrt(float64(horizonDays))
	result.VaR = v * scale
	result.ExpectedShortfall = es * scale
	result.SampleSize = len(changes)

	varLimit := m.limits[LimitVaR]
	varLimit.CurrentValue = result.VaR
	if result.VaR > varLimit.Threshold {
		m.triggerAlert(varLimit, LevelHigh, m.lastEvent, result.VaR,
			fmt.Sprintf("VaR limit exceeded: %.0f", result.VaR))
	}
	esLimit := m.limits[LimitExpectedShortfall]
	esLimit.CurrentValue = result.ExpectedShortfall
	if result.ExpectedShortfall > esLimit.Threshold {
		m.triggerAlert(esLimit, LevelHigh, m.lastEvent, result.ExpectedShortfall,
			fmt.Sprintf("Expected shortfall limit exceeded: %.0f", result.ExpectedShortfall))
	}

	m.varHistory = appendBounded(m.varHistory, result, m.cfg.VaRHistorySize)
	return result
}

// RunStressTest applies each scenario's percentage shocks to the last marks
func (m *Manager) RunStressTest(scenarios map[string]Scenario) map[string]StressResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bySymbol := make(map[string]int64)
	for k, p := range m.positions {
		bySymbol[k.Symbol] += p.Quantity
	}

	results := make(map[string]StressResult, len(scenarios))
	for name, shocks := range scenarios {
		impact := 0.0
		for symbol, qty := range bySymbol {
			if qty == 0 {
				continue
			}
			shock, ok := shocks[symbol]
			if !ok {
				shock = shocks[DefaultShockKey]
			}
			current := m.marks[symbol]
			shocked := current * (1 + shock/100)
			impact += float64(qty) * (shocked - current)
		}

		res := StressResult{
			TotalPnLImpact:    impact,
			WouldBreachLimits: math.Abs(impact) > m.limits[LimitMaxDrawdown].Threshold,
		}
		if capital := m.limits[LimitMaxGrossExposure].Threshold; capital > 0 {
			res.PctOfCapital = impact / capital * 100
		}
		results[name] = res
	}
	return results
}

// CheckAllLimits reports every limit currently in breach without recording
// alerts or taking actions
func (m *Manager) CheckAllLimits() []RiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts := m.lastEvent
	mk := func(metric Metric, level Level, value, limit float64, msg string) RiskAlert {
		return RiskAlert{
			ID: uuid.NewString(), Timestamp: ts, Metric: metric, Level: level, Message: msg,
			CurrentValue: value, LimitValue: limit, ActionTaken: "monitoring",
		}
	}

	var alerts []RiskAlert
	posLimit := m.limits[LimitMaxPositionSize].Threshold
	for _, k := range m.sortedKeys() {
		if qty := float64(abs64(m.positions[k].Quantity)); qty > posLimit {
			alerts = append(alerts, mk(MetricPosition, LevelHigh, qty, posLimit,
				fmt.Sprintf("Position limit breached for %s: %.0f", k, qty)))
		}
	}

	gross, _ := m.grossNet()
	if limit := m.limits[LimitMaxGrossExposure].Threshold; gross > limit {
		alerts = append(alerts, mk(MetricExposure, LevelCritical, gross, limit,
			fmt.Sprintf("Gross exposure limit breached: %.0f", gross)))
	}
	if gross > 0 {
		limit := m.limits[LimitMaxConcentration].Threshold
		for s, e := range m.exposures {
			if c := math.Abs(e) / gross; c > limit {
				alerts = append(alerts, mk(MetricConcentration, LevelMedium, c, limit,
					fmt.Sprintf("Concentration limit breached for %s: %.1f%%", s, c*100)))
			}
		}
	}

	if hard := m.limits[LimitMaxDrawdown].Threshold; m.currentDrawdown > hard {
		alerts = append(alerts, mk(MetricDrawdown, LevelCritical, m.currentDrawdown, hard,
			fmt.Sprintf("Hard drawdown limit breached: %.0f", m.currentDrawdown)))
	} else if soft := m.limits[LimitSoftDrawdown].Threshold; m.currentDrawdown > soft {
		alerts = append(alerts, mk(MetricDrawdown, LevelHigh, m.currentDrawdown, soft,
			fmt.Sprintf("Soft drawdown limit breached: %.0f", m.currentDrawdown)))
	}

	if n := len(m.varHistory); n > 0 {
		v := m.varHistory[n-1].VaR
		if limit := m.limits[LimitVaR].Threshold; v > limit {
			alerts = append(alerts, mk(MetricVaR, LevelHigh, v, limit, fmt.Sprintf("VaR limit exceeded: %.0f", v)))
		}
	}
	return alerts
}

func (m *Manager) sortedKeys() []StrategySymbol {
	keys := make([]StrategySymbol, 0, len(m.positions))
	for k := range m.positions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Strategy != keys[j].Strategy {
			return keys[i].Strategy < keys[j].Strategy
		}
		return keys[i].Symbol < keys[j].Symbol
	})
	return keys
}

// Halt stops trading until Resume is called
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.takeAction(config.ActionStop, reason)
}

// Resume is the explicit operator reset of the circuit breaker
func (m *Manager) Resume(operator string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tradingAllowed {
		return
	}
	m.tradingAllowed = true
	m.haltReason = ""
	m.activeAlerts = nil
	metrics.TradingHalted.Set(0)
	m.logger.Warn("Trading resumed by operator", zap.String("operator", operator))
}

// TradingAllowed reports the circuit breaker state
func (m *Manager) TradingAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradingAllowed
}

// RestrictSymbol blocks new orders in symbol
func (m *Manager) RestrictSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restricted[symbol] = struct{}{}
}

// UnrestrictSymbol lifts a symbol restriction
func (m *Manager) UnrestrictSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.restricted, symbol)
}

// Position returns a copy of one position
func (m *Manager) Position(strategy, symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[StrategySymbol{strategy, symbol}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all positions ordered by strategy and symbol
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Position, 0, len(m.positions))
	for _, k := range m.sortedKeys() {
		out = append(out, *m.positions[k])
	}
	return out
}

// AllPositions returns non-flat quantities as symbol -> strategy -> quantity
func (m *Manager) AllPositions() map[string]map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allPositions()
}

func (m *Manager) allPositions() map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	for k, p := range m.positions {
		if p.Quantity == 0 {
			continue
		}
		if out[k.Symbol] == nil {
			out[k.Symbol] = make(map[string]int64)
		}
		out[k.Symbol][k.Strategy] = p.Quantity
	}
	return out
}

// Exposures returns the signed exposure per symbol
func (m *Manager) Exposures() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.exposures))
	for s, e := range m.exposures {
		out[s] = e
	}
	return out
}

// CurrentDrawdown returns the distance below the high-water mark
func (m *Manager) CurrentDrawdown() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentDrawdown
}

// Limits returns copies of the configured limits
func (m *Manager) Limits() map[string]RiskLimit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limitsCopy()
}

func (m *Manager) limitsCopy() map[string]RiskLimit {
	out := make(map[string]RiskLimit, len(m.limits))
	for _, name := range m.limitOrder {
		out[name] = *m.limits[name]
	}
	return out
}

// Alerts returns the retained alert history, oldest first
func (m *Manager) Alerts() []RiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.alertHistory)
}

// ActiveAlerts returns alerts raised since the last Resume
func (m *Manager) ActiveAlerts() []RiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.activeAlerts)
}

// Subscribe returns a stream of future alerts. Alerts are dropped when the
// buffer is full.
func (m *Manager) Subscribe(buffer int) <-chan RiskAlert {
	ch := make(chan RiskAlert, max(buffer, 1))
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Close closes every alert subscription
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
}

// Report returns the full risk state
func (m *Manager) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gross, net := m.grossNet()
	restricted := make([]string, 0, len(m.restricted))
	for s := range m.restricted {
		restricted = append(restricted, s)
	}
	sort.Strings(restricted)

	r := Report{
		Summary: Summary{
			TradingAllowed:    m.tradingAllowed,
			HaltReason:        m.haltReason,
			GrossExposure:     gross,
			NetExposure:       net,
			TotalPnL:          m.totalPnL(),
			HighWaterMark:     m.highWaterMark,
			CurrentDrawdown:   m.currentDrawdown,
			ActiveAlerts:      len(m.activeAlerts),
			RestrictedSymbols: restricted,
		},
		Limits:       m.limitsCopy(),
		Positions:    m.allPositions(),
		RecentAlerts: slices.Clone(m.alertHistory[max(0, len(m.alertHistory)-10):]),
	}
	if n := len(m.varHistory); n > 0 {
		v := m.varHistory[n-1]
		r.VaR = &v
	}
	return r
}

// Recommendations turns a report into operator actions
func Recommendations(r Report) []string {
	var out []string
	if r.Summary.CurrentDrawdown > 0 {
		out = append(out, fmt.Sprintf("Reduce position sizes due to %.0f drawdown", r.Summary.CurrentDrawdown))
	}
	if c, ok := r.Limits[LimitMaxConcentration]; ok && c.CurrentValue > c.Threshold*0.8 {
		out = append(out, "Diversify positions to reduce concentration risk")
	}
	if r.Summary.ActiveAlerts > 5 {
		out = append(out, "Review and address multiple active risk alerts")
	}
	if !r.Summary.TradingAllowed {
		out = append(out, "Trading is halted; investigate and resume explicitly")
	}
	return out
}
