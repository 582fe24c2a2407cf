package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.AccountCurrency)
	assert.Equal(t, 1.0, cfg.Risk.RiskPercent)
	assert.Equal(t, 20.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, 4, cfg.WalkForward.Windows)
	assert.Equal(t, 0.7, cfg.WalkForward.TrainFraction)
	assert.Equal(t, 72*time.Hour, cfg.Data.GapTolerance)
	assert.NotEmpty(t, cfg.InstrumentCosts)
	assert.NotEmpty(t, cfg.Rates)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
account_currency: EUR
initial_balance: 25000
risk:
  risk_percent: 2.0
  max_leverage: 10
walk_forward:
  windows: 6
rates:
  USD_JPY: 150.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.AccountCurrency)
	assert.Equal(t, "25000", cfg.InitialBalance.String())
	assert.Equal(t, 2.0, cfg.Risk.RiskPercent)
	assert.Equal(t, 10.0, cfg.Risk.MaxLeverage)
	assert.Equal(t, 6, cfg.WalkForward.Windows)
	assert.Equal(t, 150.5, cfg.Rates["USD_JPY"])

	// Unset keys keep their defaults.
	assert.Equal(t, 0.7, cfg.WalkForward.TrainFraction)
}

func TestLoadRejectsBadRiskPercent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  risk_percent: 150\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk_percent")
}

func TestLoadRejectsBadTrainFraction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("walk_forward:\n  train_fraction: 1.5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "train_fraction")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
