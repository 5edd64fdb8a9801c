package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "app:\n  name: wallet-watch\n"))
	require.NoError(t, err)

	assert.Equal(t, "wallet-watch", cfg.App.Name)
	assert.Equal(t, "https://api.coingecko.com/api/v3", cfg.Pricing.BaseURL)
	assert.Equal(t, "usd", cfg.Pricing.VsCurrency)
	assert.Equal(t, 5*time.Minute, cfg.Portfolio.Interval)
	assert.Equal(t, 10000.0, cfg.Portfolio.MilestoneUSD)
	assert.Equal(t, "ethereum", cfg.Base.TokenID)
	assert.Equal(t, 2.0, cfg.Watch.DefaultTiers.Minor)
	assert.Equal(t, 10.0, cfg.Watch.DefaultTiers.Major)
	assert.Equal(t, 20.0, cfg.Watch.DefaultTiers.Critical)
	assert.Equal(t, 1000, cfg.Watch.HistoryKeep)
	assert.Equal(t, time.Minute, cfg.Watch.ReconcileInterval)
	assert.Equal(t, 720*time.Hour, cfg.Watch.AlertRetention)
	assert.False(t, cfg.Alerting.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `
portfolio:
  interval: 10m
  milestone_usd: 50000
base:
  token_id: bitcoin
  symbol: BTC
watch:
  default_tiers:
    minor: 1
    major: 5
    critical: 15
`))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Portfolio.Interval)
	assert.Equal(t, 50000.0, cfg.Portfolio.MilestoneUSD)
	assert.Equal(t, "bitcoin", cfg.Base.TokenID)
	assert.Equal(t, 5.0, cfg.Watch.DefaultTiers.Major)
}

func TestLoadRejectsIntervalOutOfBounds(t *testing.T) {
	_, err := Load(writeConfigFile(t, "base:\n  interval: 10s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base.interval")
}

func TestLoadRejectsNonIncreasingTiers(t *testing.T) {
	_, err := Load(writeConfigFile(t, `
portfolio:
  tiers:
    minor: 10
    major: 10
    critical: 20
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "portfolio.tiers")
}

func TestLoadRejectsNonPositiveMilestone(t *testing.T) {
	_, err := Load(writeConfigFile(t, "portfolio:\n  milestone_usd: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "milestone_usd")
}

func TestLoadTelegramRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfigFile(t, `
alerting:
  enabled: true
  telegram:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestValidateInterval(t *testing.T) {
	assert.NoError(t, ValidateInterval(MinSampleInterval))
	assert.NoError(t, ValidateInterval(5*time.Minute))
	assert.NoError(t, ValidateInterval(MaxSampleInterval))
	assert.Error(t, ValidateInterval(MinSampleInterval-time.Second))
	assert.Error(t, ValidateInterval(MaxSampleInterval+time.Second))
	assert.Error(t, ValidateInterval(0))
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	assert.Equal(t, 500, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 50, cfg.ResolveMaxPoints(50))
}
