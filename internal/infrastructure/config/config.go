// Package config holds the immutable engine configuration and its loader
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ConfigVersion is bumped on incompatible layout changes
const ConfigVersion = "1.0.0"

// Profiles
const (
	ProfileDevelopment = "development"
	ProfileBalanced    = "balanced"
	ProfileProduction  = "production"
)

// Risk actions a limit breach can trigger
const (
	ActionAlert  = "alert"
	ActionReduce = "reduce"
	ActionStop   = "stop"
)

// ErrInvalidRiskState is returned when a risk threshold is negative or inconsistent
var ErrInvalidRiskState = errors.New("invalid risk state")

// Config is the complete engine configuration. It is built once and passed by
// value into constructors; nothing mutates it after Load returns.
type Config struct {
	Version     string            `mapstructure:"version" yaml:"version" json:"version" validate:"required"`
	Profile     string            `mapstructure:"profile" yaml:"profile" json:"profile" validate:"required,oneof=development balanced production"`
	Log         LogConfig         `mapstructure:"log" yaml:"log" json:"log"`
	Books       BooksConfig       `mapstructure:"books" yaml:"books" json:"books"`
	Risk        RiskConfig        `mapstructure:"risk" yaml:"risk" json:"risk"`
	Operational OperationalConfig `mapstructure:"operational" yaml:"operational" json:"operational"`
	Fees        FeeConfig         `mapstructure:"fees" yaml:"fees" json:"fees"`
	Venue       VenueConfig       `mapstructure:"venue" yaml:"venue" json:"venue"`
	Regime      RegimeConfig      `mapstructure:"regime" yaml:"regime" json:"regime"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"oneof=json console"`
}

// BooksConfig represents order book manager configuration
type BooksConfig struct {
	Symbols               []string      `mapstructure:"symbols" yaml:"symbols" json:"symbols" validate:"required,min=1,unique,dive,required"`
	Venues                []string      `mapstructure:"venues" yaml:"venues" json:"venues" validate:"required,min=1,unique,dive,required"`
	MaxDepth              int           `mapstructure:"max_depth" yaml:"max_depth" json:"max_depth" validate:"gt=0"`
	MinArbitrageProfit    float64       `mapstructure:"min_arbitrage_profit" yaml:"min_arbitrage_profit" json:"min_arbitrage_profit" validate:"gte=0"`
	ArbitrageMaxStaleness time.Duration `mapstructure:"arbitrage_max_staleness" yaml:"arbitrage_max_staleness" json:"arbitrage_max_staleness" validate:"gte=0"`
	ArbitrageBufferSize   int           `mapstructure:"arbitrage_buffer_size" yaml:"arbitrage_buffer_size" json:"arbitrage_buffer_size" validate:"gt=0"`
	ArbitrageWindow       time.Duration `mapstructure:"arbitrage_window" yaml:"arbitrage_window" json:"arbitrage_window" validate:"gt=0"`
	DefaultQuoteSize      int64         `mapstructure:"default_quote_size" yaml:"default_quote_size" json:"default_quote_size" validate:"gt=0"`
	BatchWorkers          int           `mapstructure:"batch_workers" yaml:"batch_workers" json:"batch_workers" validate:"gt=0"`
}

// RiskConfig represents the portfolio risk limits
type RiskConfig struct {
	MaxPositionSize        int64   `mapstructure:"max_position_size" yaml:"max_position_size" json:"max_position_size"`
	MaxGrossExposure       float64 `mapstructure:"max_gross_exposure" yaml:"max_gross_exposure" json:"max_gross_exposure"`
	MaxSymbolConcentration float64 `mapstructure:"max_symbol_concentration" yaml:"max_symbol_concentration" json:"max_symbol_concentration"`
	SoftDrawdownLimit      float64 `mapstructure:"soft_drawdown_limit" yaml:"soft_drawdown_limit" json:"soft_drawdown_limit"`
	HardDrawdownLimit      float64 `mapstructure:"hard_drawdown_limit" yaml:"hard_drawdown_limit" json:"hard_drawdown_limit"`
	VaRLimit               float64 `mapstructure:"var_limit" yaml:"var_limit" json:"var_limit"`
	ExpectedShortfallLimit float64 `mapstructure:"expected_shortfall_limit" yaml:"expected_shortfall_limit" json:"expected_shortfall_limit"`
	VaRConfidence          float64 `mapstructure:"var_confidence" yaml:"var_confidence" json:"var_confidence" validate:"gt=0,lt=1"`
	VaRAction              string  `mapstructure:"var_action" yaml:"var_action" json:"var_action" validate:"oneof=alert reduce stop"`
	MinVaRSamples          int     `mapstructure:"min_var_samples" yaml:"min_var_samples" json:"min_var_samples" validate:"gt=1"`
	AlertHistorySize       int     `mapstructure:"alert_history_size" yaml:"alert_history_size" json:"alert_history_size" validate:"gt=0"`
	SnapshotHistorySize    int     `mapstructure:"snapshot_history_size" yaml:"snapshot_history_size" json:"snapshot_history_size" validate:"gt=0"`
	VaRHistorySize         int     `mapstructure:"var_history_size" yaml:"var_history_size" json:"var_history_size" validate:"gt=0"`
}

// OperationalConfig represents operational risk thresholds
type OperationalConfig struct {
	MaxOrderRate            int           `mapstructure:"max_order_rate" yaml:"max_order_rate" json:"max_order_rate" validate:"gt=0"`
	MaxErrorRate            float64       `mapstructure:"max_error_rate" yaml:"max_error_rate" json:"max_error_rate" validate:"gte=0,lte=1"`
	MaxLatencyMs            float64       `mapstructure:"max_latency_ms" yaml:"max_latency_ms" json:"max_latency_ms" validate:"gt=0"`
	HeartbeatInterval       time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval" json:"heartbeat_interval" validate:"gt=0"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold" validate:"gt=0"`
	LatencyWindow           time.Duration `mapstructure:"latency_window" yaml:"latency_window" json:"latency_window" validate:"gt=0"`
	LatencyHistorySize      int           `mapstructure:"latency_history_size" yaml:"latency_history_size" json:"latency_history_size" validate:"gt=0"`
	ErrorHistorySize        int           `mapstructure:"error_history_size" yaml:"error_history_size" json:"error_history_size" validate:"gt=0"`
}

// VenueFee is the maker/taker schedule of one venue. Negative rates are rebates.
type VenueFee struct {
	Venue string  `mapstructure:"venue" yaml:"venue" json:"venue" validate:"required"`
	Maker float64 `mapstructure:"maker" yaml:"maker" json:"maker"`
	Taker float64 `mapstructure:"taker" yaml:"taker" json:"taker"`
}

// FeeConfig represents the fee schedule and monthly volume tiers
type FeeConfig struct {
	Schedule     []VenueFee `mapstructure:"schedule" yaml:"schedule" json:"schedule" validate:"dive"`
	Tiers        []int64    `mapstructure:"tiers" yaml:"tiers" json:"tiers" validate:"min=1,dive,gte=0"`
	TierDiscount float64    `mapstructure:"tier_discount" yaml:"tier_discount" json:"tier_discount" validate:"gte=0"`
}

// VenueConfig represents venue analyzer configuration
type VenueConfig struct {
	LatencySampleWindow int     `mapstructure:"latency_sample_window" yaml:"latency_sample_window" json:"latency_sample_window" validate:"gt=0"`
	SlippageAlertBps    float64 `mapstructure:"slippage_alert_bps" yaml:"slippage_alert_bps" json:"slippage_alert_bps" validate:"gte=0"`
	MinFillRate         float64 `mapstructure:"min_fill_rate" yaml:"min_fill_rate" json:"min_fill_rate" validate:"gte=0,lte=1"`
}

// RegimeConfig maps tick volatility to a market regime
type RegimeConfig struct {
	QuietBelow    float64 `mapstructure:"quiet_below" yaml:"quiet_below" json:"quiet_below" validate:"gte=0"`
	VolatileAbove float64 `mapstructure:"volatile_above" yaml:"volatile_above" json:"volatile_above" validate:"gtefield=QuietBelow"`
	StressedAbove float64 `mapstructure:"stressed_above" yaml:"stressed_above" json:"stressed_above" validate:"gtefield=VolatileAbove"`
}

// TelemetryConfig represents metrics and tracing configuration
type TelemetryConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`
	Tracing     bool   `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// FeeFor returns the schedule of a venue
func (f FeeConfig) FeeFor(venue string) (VenueFee, bool) {
	for _, vf := range f.Schedule {
		if vf.Venue == venue {
			return vf, true
		}
	}
	return VenueFee{}, false
}

// Validate checks risk state first, then struct tags, then cross-field rules
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	for _, vf := range c.Fees.Schedule {
		known := false
		for _, v := range c.Books.Venues {
			if v == vf.Venue {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("fee schedule references unknown venue %s", vf.Venue)
		}
	}

	for i := 1; i < len(c.Fees.Tiers); i++ {
		if c.Fees.Tiers[i] <= c.Fees.Tiers[i-1] {
			return fmt.Errorf("fee tiers must be strictly increasing")
		}
	}

	return nil
}

// Validate rejects negative or inconsistent risk thresholds
func (r RiskConfig) Validate() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"max_position_size", float64(r.MaxPositionSize)},
		{"max_gross_exposure", r.MaxGrossExposure},
		{"max_symbol_concentration", r.MaxSymbolConcentration},
		{"soft_drawdown_limit", r.SoftDrawdownLimit},
		{"hard_drawdown_limit", r.HardDrawdownLimit},
		{"var_limit", r.VaRLimit},
		{"expected_shortfall_limit", r.ExpectedShortfallLimit},
	}
	for _, t := range thresholds {
		if t.value < 0 {
			return fmt.Errorf("%w: risk.%s is negative (%v)", ErrInvalidRiskState, t.name, t.value)
		}
	}

	if r.MaxSymbolConcentration > 1 {
		return fmt.Errorf("%w: risk.max_symbol_concentration must be a fraction, got %v", ErrInvalidRiskState, r.MaxSymbolConcentration)
	}
	if r.SoftDrawdownLimit > r.HardDrawdownLimit {
		return fmt.Errorf("%w: soft drawdown %v exceeds hard drawdown %v", ErrInvalidRiskState, r.SoftDrawdownLimit, r.HardDrawdownLimit)
	}

	return nil
}
