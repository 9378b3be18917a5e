package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "venuebook.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultProfilesAreValid(t *testing.T) {
	for _, p := range []string{ProfileDevelopment, ProfileBalanced, ProfileProduction} {
		cfg, err := ForProfile(p)
		require.NoError(t, err, p)
		assert.Equal(t, p, cfg.Profile)
		assert.NoError(t, cfg.Validate(), p)
		assert.Zero(t, cfg.Books.ArbitrageMaxStaleness, p)
	}

	_, err := ForProfile("lightning")
	assert.Error(t, err)
}

func TestNegativeThresholdIsInvalidRiskState(t *testing.T) {
	cfg := Default()
	cfg.Risk.HardDrawdownLimit = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRiskState))

	cfg = Default()
	cfg.Risk.SoftDrawdownLimit = cfg.Risk.HardDrawdownLimit + 1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidRiskState)
}

func TestValidateRejectsUnknownFeeVenue(t *testing.T) {
	cfg := Default()
	cfg.Books.Venues = []string{"NYSE"}
	assert.Error(t, cfg.Validate())
}

func TestLoaderWithoutFilesUsesProfile(t *testing.T) {
	cfg, err := NewLoader(zaptest.NewLogger(t)).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoaderFileOverridesPreset(t *testing.T) {
	path := writeFile(t, `
profile: production
books:
  symbols: [SPY]
  venues: [NYSE, NASDAQ]
  min_arbitrage_profit: 0.02
risk:
  var_limit: 1000
fees:
  schedule:
    - venue: NYSE
      maker: -0.001
      taker: 0.002
`)

	cfg, err := NewLoader(zaptest.NewLogger(t)).Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProfileProduction, cfg.Profile)
	assert.Equal(t, []string{"SPY"}, cfg.Books.Symbols)
	assert.Equal(t, []string{"NYSE", "NASDAQ"}, cfg.Books.Venues)
	assert.Equal(t, 0.02, cfg.Books.MinArbitrageProfit)
	assert.Zero(t, cfg.Books.ArbitrageMaxStaleness)
	assert.Equal(t, 1000.0, cfg.Risk.VaRLimit)
	assert.Equal(t, ActionReduce, cfg.Risk.VaRAction)
	require.Len(t, cfg.Fees.Schedule, 1)
	fee, ok := cfg.Fees.FeeFor("NYSE")
	require.True(t, ok)
	assert.Equal(t, -0.001, fee.Maker)
}

func TestLoaderEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "risk:\n  max_position_size: 500\n")
	t.Setenv("VENUEBOOK_RISK_MAX_POSITION_SIZE", "250")
	t.Setenv("VENUEBOOK_LOG_LEVEL", "warn")

	cfg, err := NewLoader(zaptest.NewLogger(t)).Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(250), cfg.Risk.MaxPositionSize)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoaderRejectsNegativeLimitFromFile(t *testing.T) {
	path := writeFile(t, "risk:\n  max_gross_exposure: -5\n")

	_, err := NewLoader(zaptest.NewLogger(t)).Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRiskState)
}

func TestTemplateLoadsBack(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(&buf, ProfileDevelopment))

	path := writeFile(t, buf.String())
	require.NoError(t, ValidateFile(path, zaptest.NewLogger(t)))

	cfg, err := NewLoader(zaptest.NewLogger(t)).Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProfileDevelopment, cfg.Profile)
	assert.Equal(t, "debug", cfg.Log.Level)
}
