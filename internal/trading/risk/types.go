package risk

import (
	"fmt"
	"time"
)

// Metric is the quantity a risk limit watches
type Metric string

const (
	MetricPosition      Metric = "position"
	MetricExposure      Metric = "exposure"
	MetricConcentration Metric = "concentration"
	MetricDrawdown      Metric = "drawdown"
	MetricVaR           Metric = "var"
)

// Level is the severity of a risk alert
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalText implements encoding.TextMarshaler
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// LimitType distinguishes throttling limits from halting ones
type LimitType string

const (
	LimitSoft LimitType = "soft"
	LimitHard LimitType = "hard"
)

// Limit names
const (
	LimitMaxPositionSize   = "max_position_size"
	LimitMaxGrossExposure  = "max_gross_exposure"
	LimitMaxConcentration  = "max_concentration"
	LimitSoftDrawdown      = "soft_drawdown"
	LimitMaxDrawdown       = "max_drawdown"
	LimitVaR               = "var_limit"
	LimitExpectedShortfall = "expected_shortfall_limit"
)

// RiskLimit is one configured threshold. Only CurrentValue, BreachCount and
// LastBreachTime change after construction.
type RiskLimit struct {
	Name           string    `json:"name"`
	Metric         Metric    `json:"metric"`
	Type           LimitType `json:"type"`
	Threshold      float64   `json:"threshold"`
	CurrentValue   float64   `json:"current_value"`
	BreachCount    int       `json:"breach_count"`
	LastBreachTime time.Time `json:"last_breach_time"`
	Action         string    `json:"action"`
}

// RiskAlert is an immutable record of a limit breach
type RiskAlert struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Metric       Metric    `json:"metric"`
	Level        Level     `json:"level"`
	Message      string    `json:"message"`
	CurrentValue float64   `json:"current_value"`
	LimitValue   float64   `json:"limit_value"`
	ActionTaken  string    `json:"action_taken"`
}

// StrategySymbol is the position key
type StrategySymbol struct {
	Strategy string
	Symbol   string
}

func (k StrategySymbol) String() string {
	return k.Strategy + "/" + k.Symbol
}

// VaRResult is a historical-simulation value at risk estimate
type VaRResult struct {
	VaR               float64   `json:"var"`
	ExpectedShortfall float64   `json:"expected_shortfall"`
	Confidence        float64   `json:"confidence"`
	HorizonDays       int       `json:"horizon_days"`
	SampleSize        int       `json:"sample_size"`
	Timestamp         time.Time `json:"timestamp"`
}

// Scenario maps symbols to percentage price shocks. The "default" key
// applies to symbols the scenario does not name.
type Scenario map[string]float64

// DefaultShockKey is the scenario key used for unnamed symbols
const DefaultShockKey = "default"

// StressResult is the portfolio impact of one scenario
type StressResult struct {
	TotalPnLImpact    float64 `json:"total_pnl_impact"`
	PctOfCapital      float64 `json:"pct_of_capital"`
	WouldBreachLimits bool    `json:"would_breach_limits"`
}

type snapshot struct {
	timestamp     time.Time
	grossExposure float64
	netExposure   float64
	totalPnL      float64
	drawdown      float64
	positions     int
}

// Summary is the headline of a risk report
type Summary struct {
	TradingAllowed    bool     `json:"trading_allowed"`
	HaltReason        string   `json:"halt_reason,omitempty"`
	GrossExposure     float64  `json:"gross_exposure"`
	NetExposure       float64  `json:"net_exposure"`
	TotalPnL          float64  `json:"total_pnl"`
	HighWaterMark     float64  `json:"high_water_mark"`
	CurrentDrawdown   float64  `json:"current_drawdown"`
	ActiveAlerts      int      `json:"active_alerts"`
	RestrictedSymbols []string `json:"restricted_symbols"`
}

// Report is the full risk state exported to reporting
type Report struct {
	Summary      Summary                     `json:"summary"`
	Limits       map[string]RiskLimit        `json:"limits"`
	Positions    map[string]map[string]int64 `json:"positions"`
	VaR          *VaRResult                  `json:"var_metrics,omitempty"`
	RecentAlerts []RiskAlert                 `json:"recent_alerts"`
}
