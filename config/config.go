// Package config loads the bot configuration: YAML (or JSON) for the
// tunables, environment variables for credentials.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/niftyalgo/trader/risk"
	"github.com/niftyalgo/trader/trade"
)

// Config is the complete bot configuration.
type Config struct {
	Accounts []AccountConfig `json:"accounts" yaml:"accounts"`
	Broker   BrokerConfig    `json:"broker" yaml:"broker"`
	Risk     RiskConfig      `json:"risk" yaml:"risk"`
	Monitor  MonitorConfig   `json:"monitor" yaml:"monitor"`
	AI       AIConfig        `json:"ai" yaml:"ai"`
	Journal  JournalConfig   `json:"journal" yaml:"journal"`
}

// AccountConfig identifies one trading account. Credentials live in the
// environment, never in this file.
type AccountConfig struct {
	ClientCode      string  `json:"client_code" yaml:"client_code"`
	StartingCapital float64 `json:"starting_capital,omitempty" yaml:"starting_capital,omitempty"`
}

// BrokerConfig selects the execution backend.
type BrokerConfig struct {
	Mode    string `json:"mode" yaml:"mode"` // "live" or "paper"
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// RiskConfig mirrors the gate-chain guardrails. Times are exchange-local
// "HH:MM".
type RiskConfig struct {
	LossLimitPct     float64 `json:"loss_limit_pct" yaml:"loss_limit_pct"`
	SoftTradeLimit   int     `json:"soft_trade_limit" yaml:"soft_trade_limit"`
	HardTradeLimit   int     `json:"hard_trade_limit" yaml:"hard_trade_limit"`
	MaxLossStreak    int     `json:"max_loss_streak" yaml:"max_loss_streak"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
	BlockStart       string  `json:"block_start" yaml:"block_start"`
	BlockEnd         string  `json:"block_end" yaml:"block_end"`
	BuyCutoff        string  `json:"buy_cutoff" yaml:"buy_cutoff"`
}

// MonitorConfig tunes the monitoring loop.
type MonitorConfig struct {
	IntervalSeconds int    `json:"interval_seconds" yaml:"interval_seconds"`
	ExitMode        string `json:"exit_mode" yaml:"exit_mode"` // auto, tiered, vix_target
	LateCutoff      string `json:"late_cutoff" yaml:"late_cutoff"`
	EODCutoff       string `json:"eod_cutoff" yaml:"eod_cutoff"`
}

// AIConfig points at an OpenAI-compatible endpoint. The API key comes
// from the environment.
type AIConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
}

// JournalConfig selects the audit sink.
type JournalConfig struct {
	Type          string `json:"type" yaml:"type"` // "csv" or "sqlite"
	PositionsFile string `json:"positions_file,omitempty" yaml:"positions_file,omitempty"`
	DailyFile     string `json:"daily_file,omitempty" yaml:"daily_file,omitempty"`
	DBPath        string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// LoadFromFile loads configuration from a file. YAML is tried first,
// then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration, choosing the format from the
// file extension (.json writes JSON, anything else YAML).
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for i, a := range c.Accounts {
		if a.ClientCode == "" {
			return fmt.Errorf("accounts[%d].client_code is required", i)
		}
	}
	if c.Broker.Mode != "live" && c.Broker.Mode != "paper" {
		return fmt.Errorf("broker.mode must be 'live' or 'paper'")
	}
	if c.Risk.LossLimitPct <= 0 {
		return fmt.Errorf("risk.loss_limit_pct must be positive")
	}
	if c.Risk.HardTradeLimit < c.Risk.SoftTradeLimit {
		return fmt.Errorf("risk.hard_trade_limit must be >= soft_trade_limit")
	}
	for _, field := range []struct{ name, value string }{
		{"risk.block_start", c.Risk.BlockStart},
		{"risk.block_end", c.Risk.BlockEnd},
		{"risk.buy_cutoff", c.Risk.BuyCutoff},
		{"monitor.late_cutoff", c.Monitor.LateCutoff},
		{"monitor.eod_cutoff", c.Monitor.EODCutoff},
	} {
		if _, err := parseClock(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	switch c.Monitor.ExitMode {
	case "auto", "tiered", "vix_target":
	default:
		return fmt.Errorf("monitor.exit_mode must be auto, tiered or vix_target")
	}
	if c.Journal.Type != "csv" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'csv' or 'sqlite'")
	}
	if c.Journal.Type == "csv" && (c.Journal.PositionsFile == "" || c.Journal.DailyFile == "") {
		return fmt.Errorf("journal positions_file and daily_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}
	return nil
}

// Default returns a configuration with the production guardrails.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{Mode: "paper"},
		Risk: RiskConfig{
			LossLimitPct:     10,
			SoftTradeLimit:   10,
			HardTradeLimit:   15,
			MaxLossStreak:    3,
			MaxOpenPositions: 2,
			BlockStart:       "14:30",
			BlockEnd:         "15:15",
			BuyCutoff:        "14:00",
		},
		Monitor: MonitorConfig{
			IntervalSeconds: 60,
			ExitMode:        "auto",
			LateCutoff:      "15:00",
			EODCutoff:       "15:20",
		},
		AI: AIConfig{
			BaseURL: "https://api.openai.com",
			Model:   "gpt-4o-mini",
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./trader.db",
		},
	}
}

// Limits converts the risk section to gate-chain limits.
func (c *Config) Limits() (risk.Limits, error) {
	blockStart, err := parseClock(c.Risk.BlockStart)
	if err != nil {
		return risk.Limits{}, err
	}
	blockEnd, err := parseClock(c.Risk.BlockEnd)
	if err != nil {
		return risk.Limits{}, err
	}
	buyCutoff, err := parseClock(c.Risk.BuyCutoff)
	if err != nil {
		return risk.Limits{}, err
	}

	return risk.Limits{
		LossLimitPct:     c.Risk.LossLimitPct,
		SoftTradeLimit:   c.Risk.SoftTradeLimit,
		HardTradeLimit:   c.Risk.HardTradeLimit,
		MaxLossStreak:    c.Risk.MaxLossStreak,
		MaxOpenPositions: c.Risk.MaxOpenPositions,
		BlockStart:       blockStart,
		BlockEnd:         blockEnd,
		BuyCutoff:        buyCutoff,
	}, nil
}

// MonitorSettings converts the monitor section to loop settings.
func (c *Config) MonitorSettings() (trade.MonitorConfig, error) {
	mc := trade.DefaultMonitorConfig()
	if c.Monitor.IntervalSeconds > 0 {
		mc.Interval = time.Duration(c.Monitor.IntervalSeconds) * time.Second
	}
	if c.Monitor.ExitMode != "" {
		mc.ExitMode = c.Monitor.ExitMode
	}

	var err error
	if mc.LateCutoff, err = parseClock(c.Monitor.LateCutoff); err != nil {
		return mc, err
	}
	if mc.EODCutoff, err = parseClock(c.Monitor.EODCutoff); err != nil {
		return mc, err
	}
	return mc, nil
}

// parseClock turns "HH:MM" into a time-of-day offset from midnight.
func parseClock(hhmm string) (time.Duration, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock time %q, want HH:MM", hhmm)
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q: %w", hhmm, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
