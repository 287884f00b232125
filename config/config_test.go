package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[copy_trader]
mode = "paper"
portfolio_value_usd = 25000.0
performance_sync_interval = "1m"

[monitor]
poll_interval = "5s"
min_value_usd = 50.0
max_value_usd = 500000.0

[risk.chain_multipliers]
ethereum = 0.95

[database]
driver = "sqlite"
`)

	require.NoError(t, Load(path))
	c := Get()

	assert.Equal(t, 25000.0, c.CopyTrader.PortfolioValueUSD)
	assert.Equal(t, time.Minute, c.CopyTrader.PerformanceSyncInterval)
	assert.Equal(t, 5*time.Second, c.Monitor.PollInterval)
	assert.Equal(t, 50.0, c.Monitor.MinValueUSD)
	assert.Equal(t, 0.95, c.Risk.ChainMultipliers["ethereum"])
	// 未覆盖的默认值保留
	assert.Equal(t, 0.8, c.Risk.ChainMultipliers["bsc"])
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, 30, c.Order.PaperFeeBps)
}

func TestLoad_RejectsInvalidMode(t *testing.T) {
	path := writeConfig(t, `
[copy_trader]
mode = "yolo"
`)
	err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy_trader.mode")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMySQLDSN, "user:pw@tcp(db:3306)/copy")
	t.Setenv(EnvExplorerAPIKey, "explorer-key")
	t.Setenv(EnvSwapAPIKey, "swap-key")

	path := writeConfig(t, `
[chains.ethereum]
enabled = true
chain_id = 1
explorer_url = "https://api.etherscan.io/v2/api"
`)
	require.NoError(t, Load(path))
	c := Get()

	assert.Equal(t, "user:pw@tcp(db:3306)/copy", c.MySQL.DSN)
	assert.Equal(t, "swap-key", c.Swap.APIKey)
	assert.Equal(t, "explorer-key", c.Chains["ethereum"].ExplorerAPIKey)
}

func TestReloadIfNeeded(t *testing.T) {
	path := writeConfig(t, `
[monitor]
poll_interval = "5s"
`)
	require.NoError(t, Load(path))
	assert.Equal(t, 5*time.Second, Get().Monitor.PollInterval)

	var reloaded *Config
	OnReload(func(c *Config) { reloaded = c })
	t.Cleanup(func() { reloadHooks = nil })

	require.NoError(t, os.WriteFile(path, []byte("[monitor]\npoll_interval = \"9s\"\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	reloadIfNeeded()
	assert.Equal(t, 9*time.Second, Get().Monitor.PollInterval)
	require.NotNil(t, reloaded)
	assert.Equal(t, 9*time.Second, reloaded.Monitor.PollInterval)
}

func TestReloadIfNeeded_KeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, `
[monitor]
poll_interval = "5s"
`)
	require.NoError(t, Load(path))

	require.NoError(t, os.WriteFile(path, []byte("[copy_trader]\nmode = \"bogus\"\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	reloadIfNeeded()
	assert.Equal(t, "paper", Get().CopyTrader.Mode)
}
