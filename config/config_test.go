package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const yamlConfig = `
accounts:
  - client_code: ACC1
    starting_capital: 15000
broker:
  mode: paper
risk:
  loss_limit_pct: 10
  soft_trade_limit: 10
  hard_trade_limit: 15
  max_loss_streak: 3
  max_open_positions: 2
  block_start: "14:30"
  block_end: "15:15"
  buy_cutoff: "14:00"
monitor:
  interval_seconds: 30
  exit_mode: tiered
  late_cutoff: "15:00"
  eod_cutoff: "15:20"
ai:
  base_url: https://api.openai.com
  model: gpt-4o-mini
journal:
  type: sqlite
  db_path: ./trader.db
`

func TestLoadFromFileYAML(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromFile(writeConfig(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "ACC1", cfg.Accounts[0].ClientCode)
	assert.Equal(t, 15000.0, cfg.Accounts[0].StartingCapital)
	assert.Equal(t, "tiered", cfg.Monitor.ExitMode)
	assert.Equal(t, "sqlite", cfg.Journal.Type)
}

func TestLoadFromFileJSONFallback(t *testing.T) {
	t.Parallel()

	body := `{
  "accounts": [{"client_code": "ACC1"}],
  "broker": {"mode": "paper"},
  "risk": {
    "loss_limit_pct": 10, "soft_trade_limit": 10, "hard_trade_limit": 15,
    "max_loss_streak": 3, "max_open_positions": 2,
    "block_start": "14:30", "block_end": "15:15", "buy_cutoff": "14:00"
  },
  "monitor": {"interval_seconds": 60, "exit_mode": "auto", "late_cutoff": "15:00", "eod_cutoff": "15:20"},
  "ai": {"base_url": "https://api.openai.com", "model": "gpt-4o-mini"},
  "journal": {"type": "csv", "positions_file": "p.csv", "daily_file": "d.csv"}
}`
	cfg, err := LoadFromFile(writeConfig(t, "config.json", body))
	require.NoError(t, err)
	assert.Equal(t, "csv", cfg.Journal.Type)
}

func TestLoadFromFileInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no accounts":  `{"broker":{"mode":"paper"}}`,
		"bad mode":     `{"accounts":[{"client_code":"A"}],"broker":{"mode":"margin"}}`,
		"not a config": `!!! not yaml or json`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, "bad.yaml", body))
			assert.Error(t, err)
		})
	}
}

func TestValidateClockFields(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Accounts = []AccountConfig{{ClientCode: "ACC1"}}
	require.NoError(t, cfg.Validate())

	cfg.Risk.BuyCutoff = "2pm"
	assert.ErrorContains(t, cfg.Validate(), "buy_cutoff")
}

func TestDefaultIsValidWithAccount(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Error(t, cfg.Validate(), "accounts must be explicit")

	cfg.Accounts = []AccountConfig{{ClientCode: "ACC1"}}
	assert.NoError(t, cfg.Validate())
}

func TestLimitsConversion(t *testing.T) {
	t.Parallel()

	cfg := Default()
	lim, err := cfg.Limits()
	require.NoError(t, err)

	assert.Equal(t, 14*time.Hour+30*time.Minute, lim.BlockStart)
	assert.Equal(t, 15*time.Hour+15*time.Minute, lim.BlockEnd)
	assert.Equal(t, 14*time.Hour, lim.BuyCutoff)
	assert.Equal(t, 2, lim.MaxOpenPositions)
}

func TestMonitorSettings(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Monitor.IntervalSeconds = 15
	cfg.Monitor.ExitMode = "vix_target"

	mc, err := cfg.MonitorSettings()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, mc.Interval)
	assert.Equal(t, "vix_target", mc.ExitMode)
	assert.Equal(t, 15*time.Hour+20*time.Minute, mc.EODCutoff)
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("ACC1_PASSWORD", "pin1234")
	t.Setenv("ACC1_TOTP_SECRET", "JBSWY3DP")
	t.Setenv("ACC1_API_KEY", "key-abc")

	creds, err := Credentials("acc1")
	require.NoError(t, err)
	assert.Equal(t, "acc1", creds.ClientCode)
	assert.Equal(t, "pin1234", creds.Password)
	assert.Equal(t, "key-abc", creds.APIKey)

	_, err = Credentials("ACC2")
	assert.ErrorContains(t, err, "ACC2_PASSWORD")
}

func TestAIKeyFallback(t *testing.T) {
	t.Setenv("AI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-open")

	key, err := AIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-open", key)
}
