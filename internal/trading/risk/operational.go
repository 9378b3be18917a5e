package risk

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"
)

// Operational error kinds
const (
	ErrKindOrderRate        = "order_rate_exceeded"
	ErrKindHighLatency      = "high_latency"
	ErrKindVenueDegraded    = "venue_degraded"
	ErrKindHeartbeatTimeout = "heartbeat_timeout"
	ErrKindCircuitBreaker   = "circuit_breaker_triggered"
)

// OperationalError is one recorded operational fault
type OperationalError struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"type"`
	Message   string    `json:"message"`
	Venue     string    `json:"venue,omitempty"`
}

type latencySample struct {
	ts      time.Time
	latency float64
	venue   string
}

// HealthMetrics are the headline operational numbers
type HealthMetrics struct {
	ErrorRate    float64 `json:"error_rate"`
	TotalErrors  int     `json:"total_errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
	OrderCount   int     `json:"order_count"`
}

// HealthReport is the operational state exported to reporting
type HealthReport struct {
	SystemHealthy  bool               `json:"system_healthy"`
	VenueStatus    map[string]bool    `json:"venue_status"`
	Metrics        HealthMetrics      `json:"metrics"`
	ErrorBreakdown map[string]int     `json:"error_breakdown"`
	RecentErrors   []OperationalError `json:"recent_errors"`
}

// OperationalManager watches order rate, venue latency, errors and
// heartbeats. It is driven entirely by event timestamps.
type OperationalManager struct {
	mu  sync.Mutex
	cfg config.OperationalConfig

	limiter    *rate.Limiter
	orderCount int

	latencies  []latencySample
	errorCount map[string]int
	errors     []OperationalError
	heartbeats map[string]time.Time
	venueUp    map[string]bool

	systemHealthy bool

	logger *zap.Logger
}

// NewOperationalManager creates an operational risk manager
func NewOperationalManager(cfg config.OperationalConfig, logger *zap.Logger) *OperationalManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxOrderRate <= 0 {
		cfg.MaxOrderRate = 1000
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = time.Minute
	}
	return &OperationalManager{
		cfg:           cfg,
		limiter:       rate.NewLimiter(rate.Limit(cfg.MaxOrderRate), cfg.MaxOrderRate),
		errorCount:    make(map[string]int),
		heartbeats:    make(map[string]time.Time),
		venueUp:       make(map[string]bool),
		systemHealthy: true,
		logger:        logger.Named("operational"),
	}
}

// CheckOrderRate admits one order at ts against the per-second order budget
func (o *OperationalManager) CheckOrderRate(ts time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.orderCount++
	if !o.limiter.AllowN(ts, 1) {
		o.logError(ErrKindOrderRate, fmt.Sprintf("Order rate exceeds limit %d/s", o.cfg.MaxOrderRate), "")
		return false
	}
	return true
}

// RecordLatency records a venue round trip. The venue is marked degraded
// when its average over the latency window exceeds the limit.
func (o *OperationalManager) RecordLatency(latencyMs float64, venue string, ts time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.latencies = appendBounded(o.latencies, latencySample{ts: ts, latency: latencyMs, venue: venue}, o.cfg.LatencyHistorySize)
	if _, ok := o.venueUp[venue]; !ok {
		o.venueUp[venue] = true
	}

	if latencyMs > o.cfg.MaxLatencyMs {
		o.logError(ErrKindHighLatency, fmt.Sprintf("High latency detected for %s: %.1fms", venue, latencyMs), venue)
	}

	cutoff := ts.Add(-o.cfg.LatencyWindow)
	var recent []float64
	for _, s := range o.latencies {
		if s.venue == venue && s.ts.After(cutoff) {
			recent = append(recent, s.latency)
		}
	}
	if len(recent) == 0 {
		return
	}
	if avg := stat.Mean(recent, nil); avg > o.cfg.MaxLatencyMs {
		o.venueUp[venue] = false
		o.logError(ErrKindVenueDegraded, fmt.Sprintf("Venue %s degraded with avg latency %.1fms", venue, avg), venue)
	}
}

// RecordError counts an operational error and trips the circuit breaker
// once the total exceeds the threshold
func (o *OperationalManager) RecordError(kind, msg, venue string, ts time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.errorCount[kind]++
	o.errors = appendBounded(o.errors, OperationalError{Timestamp: ts, Kind: kind, Message: msg, Venue: venue}, o.cfg.ErrorHistorySize)

	total := o.totalErrors()
	if total > o.cfg.CircuitBreakerThreshold && o.systemHealthy {
		o.systemHealthy = false
		o.logError(ErrKindCircuitBreaker, fmt.Sprintf("Circuit breaker triggered after %d errors", total), venue)
	}
}

func (o *OperationalManager) totalErrors() int {
	total := 0
	for _, n := range o.errorCount {
		total += n
	}
	return total
}

func (o *OperationalManager) logError(kind, msg, venue string) {
	o.logger.Error("Operational risk",
		zap.String("type", kind),
		zap.String("venue", venue),
		zap.String("message", msg))
}

// UpdateHeartbeat records a venue heartbeat at ts
func (o *OperationalManager) UpdateHeartbeat(venue string, ts time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.heartbeats[venue] = ts
	if _, ok := o.venueUp[venue]; !ok {
		o.venueUp[venue] = true
	}
}

// CheckHeartbeats reports which venues beat within two intervals of now.
// Silent venues are marked down.
func (o *OperationalManager) CheckHeartbeats(now time.Time) map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := make(map[string]bool, len(o.heartbeats))
	for venue, last := range o.heartbeats {
		since := now.Sub(last)
		alive := since < 2*o.cfg.HeartbeatInterval
		status[venue] = alive
		if !alive {
			o.venueUp[venue] = false
			o.logError(ErrKindHeartbeatTimeout, fmt.Sprintf("Heartbeat timeout for %s: %s", venue, since), venue)
		}
	}
	return status
}

// VenueHealthy reports whether venue is neither degraded nor silent
func (o *OperationalManager) VenueHealthy(venue string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	up, ok := o.venueUp[venue]
	return !ok || up
}

// SystemHealthy reports the circuit breaker state
func (o *OperationalManager) SystemHealthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.systemHealthy
}

// HealthReport returns error rate, latency statistics and venue status
func (o *OperationalManager) HealthReport() HealthReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	total := o.totalErrors()
	r := HealthReport{
		SystemHealthy:  o.systemHealthy,
		VenueStatus:    make(map[string]bool, len(o.venueUp)),
		ErrorBreakdown: make(map[string]int, len(o.errorCount)),
		Metrics: HealthMetrics{
			ErrorRate:   float64(total) / float64(max(o.orderCount, 1)),
			TotalErrors: total,
			OrderCount:  o.orderCount,
		},
		RecentErrors: slices.Clone(o.errors[max(0, len(o.errors)-10):]),
	}
	for v, up := range o.venueUp {
		r.VenueStatus[v] = up
	}
	for k, n := range o.errorCount {
		r.ErrorBreakdown[k] = n
	}

	if len(o.latencies) > 0 {
		values := make([]float64, len(o.latencies))
		for i, s := range o.latencies {
			values[i] = s.latency
		}
		sort.Float64s(values)
		r.Metrics.AvgLatencyMs = stat.Mean(values, nil)
		r.Metrics.P99LatencyMs = stat.Quantile(0.99, stat.LinInterp, values, nil)
	}
	return r
}
