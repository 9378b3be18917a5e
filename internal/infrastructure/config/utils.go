package config

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the balanced profile
func Default() Config {
	cfg, _ := ForProfile(ProfileBalanced)
	return cfg
}

// ForProfile returns the preset for a profile. Unknown profiles fall back to
// balanced and report an error.
func ForProfile(profile string) (Config, error) {
	cfg := baseConfig()

	switch profile {
	case ProfileDevelopment:
		cfg.Profile = ProfileDevelopment
		cfg.Log = LogConfig{Level: "debug", Format: "console"}
		cfg.Books.BatchWorkers = 2
		cfg.Risk.SnapshotHistorySize = 1000
		cfg.Venue.LatencySampleWindow = 1000
	case ProfileBalanced, "":
		cfg.Profile = ProfileBalanced
	case ProfileProduction:
		cfg.Profile = ProfileProduction
		cfg.Books.BatchWorkers = 8
		cfg.Risk.VaRAction = ActionReduce
		cfg.Venue.LatencySampleWindow = 50000
	default:
		cfg.Profile = ProfileBalanced
		return cfg, fmt.Errorf("unknown profile %q", profile)
	}

	return cfg, nil
}

func baseConfig() Config {
	return Config{
		Version: ConfigVersion,
		Profile: ProfileBalanced,
		Log:     LogConfig{Level: "info", Format: "json"},
		Books: BooksConfig{
			Symbols:               []string{"AAPL", "MSFT", "GOOGL"},
			Venues:                []string{"NYSE", "NASDAQ", "CBOE", "IEX", "ARCA"},
			MaxDepth:              50,
			MinArbitrageProfit:    0.01,
			ArbitrageMaxStaleness: 0, // disabled; book times follow the event clock
			ArbitrageBufferSize:   10000,
			ArbitrageWindow:       60 * time.Second,
			DefaultQuoteSize:      100,
			BatchWorkers:          4,
		},
		Risk: RiskConfig{
			MaxPositionSize:        10000,
			MaxGrossExposure:       5_000_000,
			MaxSymbolConcentration: 0.20,
			SoftDrawdownLimit:      50_000,
			HardDrawdownLimit:      100_000,
			VaRLimit:               75_000,
			ExpectedShortfallLimit: 100_000,
			VaRConfidence:          0.95,
			VaRAction:              ActionAlert,
			MinVaRSamples:          100,
			AlertHistorySize:       1000,
			SnapshotHistorySize:    10000,
			VaRHistorySize:         1000,
		},
		Operational: OperationalConfig{
			MaxOrderRate:            1000,
			MaxErrorRate:            0.01,
			MaxLatencyMs:            10,
			HeartbeatInterval:       time.Second,
			CircuitBreakerThreshold: 100,
			LatencyWindow:           60 * time.Second,
			LatencyHistorySize:      1000,
			ErrorHistorySize:        100,
		},
		Fees: FeeConfig{
			Schedule: []VenueFee{
				{Venue: "NYSE", Maker: -0.0020, Taker: 0.0030},
				{Venue: "NASDAQ", Maker: -0.0025, Taker: 0.0030},
				{Venue: "CBOE", Maker: -0.0023, Taker: 0.0028},
				{Venue: "IEX", Maker: 0.0000, Taker: 0.0009},
				{Venue: "ARCA", Maker: -0.0020, Taker: 0.0030},
			},
			Tiers:        []int64{0, 10_000_000, 50_000_000, 100_000_000},
			TierDiscount: 0.0001,
		},
		Venue: VenueConfig{LatencySampleWindow: 10000, SlippageAlertBps: 5, MinFillRate: 0.5},
		Regime: RegimeConfig{
			QuietBelow:    0.005,
			VolatileAbove: 0.02,
			StressedAbove: 0.05,
		},
	}
}

// WriteTemplate writes the preset of a profile as YAML
func WriteTemplate(w io.Writer, profile string) error {
	cfg, err := ForProfile(profile)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config template: %w", err)
	}
	return enc.Close()
}
