package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
`)
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":8720", cfg.App.HTTPAddr)
	assert.Equal(t, "paper", cfg.Exchange.Backend)
	assert.Equal(t, "dry-run", cfg.Trading.InitialTier)
	assert.Equal(t, []string{"XBTUSD", "ETHUSD"}, cfg.Trading.StagingPairs)
	assert.Equal(t, 5, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, "conservative", cfg.RateLimit.InitialTier)
	assert.Equal(t, 500, cfg.Monitor.AlertHistoryLimit)
	assert.Equal(t, "data/bastion.db", cfg.Store.Path)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":9992"
exchange:
  backend: binance
  api_key: k
  api_secret: s
  testnet: true
trading:
  initial_tier: staging
  staging_pairs: ["XBTUSD"]
risk:
  max_open_positions: 2
  max_drawdown_pct: 10
killswitch:
  max_daily_loss_pct: 3
ratelimit:
  initial_tier: aggressive
store:
  path: /tmp/bastion-test.db
`)
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "binance", cfg.Exchange.Backend)
	assert.True(t, cfg.Exchange.Testnet)
	assert.Equal(t, "staging", cfg.Trading.InitialTier)
	assert.Equal(t, []string{"XBTUSD"}, cfg.Trading.StagingPairs)
	assert.Equal(t, 2, cfg.Risk.MaxOpenPositions)
	assert.Equal(t, 3.0, cfg.Kill.MaxDailyLossPct)
	assert.Equal(t, "aggressive", cfg.RateLimit.InitialTier)
	assert.Equal(t, "/tmp/bastion-test.db", cfg.Store.Path)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown tier": `
trading:
  initial_tier: yolo
`,
		"unknown backend": `
exchange:
  backend: kraken
`,
		"binance without keys": `
exchange:
  backend: binance
`,
		"bad ratelimit tier": `
ratelimit:
  initial_tier: turbo
`,
		"telegram without token": `
notify:
  telegram:
    enabled: true
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}

func TestStatePathFallback(t *testing.T) {
	path := writeConfig(t, `
trading:
  state_path: legacy/state.db
`)
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "legacy/state.db", cfg.Store.Path)
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("BASTION_TRADING_UNLOCK", "  unlock-me  ")
	t.Setenv("BASTION_ADMIN_RESET", "reset-me")
	sec := LoadSecrets()
	assert.Equal(t, "unlock-me", sec.TradingUnlock)
	assert.Equal(t, "reset-me", sec.AdminReset)

	t.Setenv("BASTION_TRADING_UNLOCK", "")
	t.Setenv("BASTION_ADMIN_RESET", "")
	sec = LoadSecrets()
	assert.Empty(t, sec.TradingUnlock)
	assert.Empty(t, sec.AdminReset)
}
