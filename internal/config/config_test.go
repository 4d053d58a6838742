package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
budgets:
  daily_usd: 25
risk: {}
health: {}
doomsday: {}
metrics: {}
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 25.0, c.Budgets.DailyUSD)
	require.Equal(t, 1000.0, c.Budgets.MonthlyUSD)
	require.Equal(t, 30, c.Health.HealthIntervalSeconds)
	require.Equal(t, 60, c.Health.FundIntervalSeconds)
	require.Equal(t, "data/doomsday.lock", c.Doomsday.LockfilePath)
	require.Equal(t, 9090, c.Metrics.Port)
}

func TestLoadRejectsInvalidMetricsPort(t *testing.T) {
	path := writeConfig(t, `
budgets: {}
risk: {}
health: {}
doomsday: {}
metrics:
  port: 70000
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsSlackEnabledWithoutWebhook(t *testing.T) {
	path := writeConfig(t, `
budgets: {}
risk: {}
health: {}
doomsday: {}
metrics: {}
slack:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadPreservesExplicitPriceTable(t *testing.T) {
	path := writeConfig(t, `
budgets:
  price_per_model:
    claude-opus-4: 15.0
    local: 0
risk: {}
health: {}
doomsday: {}
metrics: {}
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 15.0, c.Budgets.PricePerModel["claude-opus-4"])
	require.Equal(t, 0.0, c.Budgets.PricePerModel["local"])
}
