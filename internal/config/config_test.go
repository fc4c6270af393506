package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `
app:
  log_level: debug
  http_addr: ":9000"
engine:
  cycle_interval: 10s
  staleness: 90s
market:
  symbols:
    - BTC/USDT
promotion:
  min_trades: 20
  threshold: 0.5
  weight_return: 0.4
  weight_win_rate: 0.3
  weight_profit_factor: 0.3
  return_cap_pct: 25
  profit_factor_cap: 3
  retire_drawdown_pct: 20
risk:
  limits:
    max_position_value: 500
    max_global_exposure: 2000
    max_concurrent_live: 3
    max_daily_loss: 200
`

func TestLoadParsesAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":9000", cfg.App.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.Engine.CycleInterval)
	assert.Equal(t, 90*time.Second, cfg.Engine.Staleness)
	assert.Equal(t, []string{"BTC/USDT"}, cfg.Market.Symbols)
	assert.Equal(t, 20, cfg.Promotion.MinTrades)

	// Untouched sections get defaults.
	assert.Equal(t, 500, cfg.Market.MaxCached)
	assert.Equal(t, "data/polaris.db", cfg.Database.Path)
}

func TestLoadRejectsUnreachableThreshold(t *testing.T) {
	bad := `
promotion:
  min_trades: 20
  threshold: 1.0
  weight_return: 0.4
  weight_win_rate: 0.3
  weight_profit_factor: 0.3
  return_cap_pct: 25
  profit_factor_cap: 3
  retire_drawdown_pct: 20
risk:
  limits:
    max_position_value: 500
    max_global_exposure: 2000
    max_concurrent_live: 3
    max_daily_loss: 200
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestLoadRejectsBadRiskLimits(t *testing.T) {
	bad := `
risk:
  limits:
    max_position_value: 500
    max_global_exposure: 100
    max_concurrent_live: 3
    max_daily_loss: 200
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_global_exposure")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	bad := `
app:
  log_level: chatty
risk:
  limits:
    max_position_value: 500
    max_global_exposure: 2000
    max_concurrent_live: 3
    max_daily_loss: 200
`
	_, err := Load(writeConfig(t, bad))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcherAppliesValidReloads(t *testing.T) {
	path := writeConfig(t, validConfig)
	w, err := NewWatcher(path)
	require.NoError(t, err)

	applied := make(chan *Config, 1)
	w.Subscribe(func(c *Config) { applied <- c })

	require.NoError(t, w.reload())
	select {
	case c := <-applied:
		assert.Equal(t, 500.0, c.Risk.Limits.MaxPositionValue)
	default:
		t.Fatal("listener was not notified")
	}
}

func TestWatcherKeepsPreviousConfigOnInvalidReload(t *testing.T) {
	path := writeConfig(t, validConfig)
	w, err := NewWatcher(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("promotion:\n  threshold: 2.0\n"), 0o644))
	assert.Error(t, w.reload())
	assert.Equal(t, 0.5, w.Current().Promotion.Threshold, "bad reload is discarded")
}
