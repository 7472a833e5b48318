// Package config holds the immutable configuration of one run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rustyeddy/robusta/broker"
	"github.com/rustyeddy/robusta/broker/live"
	"github.com/rustyeddy/robusta/broker/sim"
	"github.com/rustyeddy/robusta/internal/logging"
	"github.com/rustyeddy/robusta/risk"
	"github.com/rustyeddy/robusta/session"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a run configuration that cannot be executed.
var ErrConfiguration = errors.New("configuration error")

// FieldError names the offending configuration field.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Msg)
}

func (e *FieldError) Is(target error) bool { return target == ErrConfiguration }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

const dateLayout = "2006-01-02"

// Run is the complete configuration of a backtest or live run.
type Run struct {
	Mode     string   `json:"mode" yaml:"mode"`         // backtest | live
	RunMode  string   `json:"run_mode" yaml:"run_mode"` // trade | train | test
	Market   string   `json:"market" yaml:"market"`
	DataType string   `json:"data_type" yaml:"data_type"`
	Assets   []string `json:"assets" yaml:"assets"`
	Strategy string   `json:"strategy" yaml:"strategy"`

	StartDate string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty" yaml:"end_date,omitempty"` // inclusive day
	BarFields string `json:"bar_fields,omitempty" yaml:"bar_fields,omitempty"`

	Lookback    int `json:"lookback" yaml:"lookback"`
	SeriesDepth int `json:"series_depth" yaml:"series_depth"`

	Session SessionConfig `json:"session" yaml:"session"`

	Capital          float64 `json:"capital" yaml:"capital"`
	OpenEnd          bool    `json:"open_end" yaml:"open_end"`
	MaxLeverage      float64 `json:"max_leverage,omitempty" yaml:"max_leverage,omitempty"`
	MaxGrossLeverage float64 `json:"max_gross_leverage,omitempty" yaml:"max_gross_leverage,omitempty"`

	Broker     BrokerConfig     `json:"broker" yaml:"broker"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
	Log        LogConfig        `json:"log" yaml:"log"`

	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// SessionConfig is expressed in minutes from midnight UTC.
type SessionConfig struct {
	StartMarket    int   `json:"start_market" yaml:"start_market"`
	StartBreak     int   `json:"start_break" yaml:"start_break"`
	EndBreak       int   `json:"end_break" yaml:"end_break"`
	EndMarket      int   `json:"end_market" yaml:"end_market"`
	BarPeriod      int   `json:"bar_period" yaml:"bar_period"`
	BarOffset      int   `json:"bar_offset" yaml:"bar_offset"`
	DayOffsetMS    int64 `json:"day_offset_ms" yaml:"day_offset_ms"`
	WeekendTrading bool  `json:"weekend_trading" yaml:"weekend_trading"`
}

// BrokerConfig covers lot rules and the simulated fill model.
type BrokerConfig struct {
	LotSize        float64          `json:"lot_size" yaml:"lot_size"`
	LotTiers       []broker.LotTier `json:"lot_tiers,omitempty" yaml:"lot_tiers,omitempty"`
	AllowShort     bool             `json:"allow_short" yaml:"allow_short"`
	NoShort        []string         `json:"no_short,omitempty" yaml:"no_short,omitempty"`
	SettlementDays int              `json:"settlement_days" yaml:"settlement_days"`
	SlippageBps    float64          `json:"slippage_bps,omitempty" yaml:"slippage_bps,omitempty"`
	SlippageFixed  float64          `json:"slippage_fixed,omitempty" yaml:"slippage_fixed,omitempty"`
	MaxVolumePct   float64          `json:"max_volume_pct,omitempty" yaml:"max_volume_pct,omitempty"`

	// Live venue settings.
	URL        string  `json:"url,omitempty" yaml:"url,omitempty"`
	Env        string  `json:"env,omitempty" yaml:"env,omitempty"`
	TimeoutMS  int     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	TradesFile  string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile  string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	RecordsFile string `json:"records_file,omitempty" yaml:"records_file,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

type CheckpointConfig struct {
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Every int    `json:"every,omitempty" yaml:"every,omitempty"`
}

type LogConfig struct {
	Level      string `json:"level,omitempty" yaml:"level,omitempty"`
	Format     string `json:"format,omitempty" yaml:"format,omitempty"`
	Output     string `json:"output,omitempty" yaml:"output,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
}

// Default returns a valid daily configuration for the vn market.
func Default() *Run {
	return &Run{
		Mode:        "backtest",
		RunMode:     "test",
		Market:      "vn",
		DataType:    "daily",
		Assets:      []string{"VNM"},
		Strategy:    "buy-hold",
		Lookback:    0,
		SeriesDepth: 20,
		Session: SessionConfig{
			StartMarket: 135,
			StartBreak:  271,
			EndBreak:    360,
			EndMarket:   465,
			BarPeriod:   session.MinutesPerDay,
			BarOffset:   465,
		},
		Capital: 100000,
		Broker: BrokerConfig{
			LotSize:        100,
			SettlementDays: 2,
		},
		Journal: JournalConfig{Type: "none"},
		Log:     LogConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON).
func LoadFromFile(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Run) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides selected fields from ROBUSTA_* environment variables.
func (c *Run) ApplyEnv(getenv func(string) string) {
	if v := getenv("ROBUSTA_MODE"); v != "" {
		c.Mode = v
	}
	if v := getenv("ROBUSTA_BROKER_URL"); v != "" {
		c.Broker.URL = v
	}
	if v := getenv("ROBUSTA_BROKER_ENV"); v != "" {
		c.Broker.Env = v
	}
	if v := getenv("ROBUSTA_JOURNAL_DB"); v != "" {
		c.Journal.Type = "sqlite"
		c.Journal.DBPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks every field the engine depends on before the first bar.
func (c *Run) Validate() error {
	switch c.Mode {
	case "backtest", "live":
	default:
		return fieldErr("mode", "must be 'backtest' or 'live', got %q", c.Mode)
	}
	switch c.RunMode {
	case "", "trade", "train", "test":
	default:
		return fieldErr("run_mode", "must be trade, train or test, got %q", c.RunMode)
	}
	if c.Market == "" {
		return fieldErr("market", "is required")
	}
	if len(c.Assets) == 0 {
		return fieldErr("assets", "universe is empty")
	}
	for i, a := range c.Assets {
		if strings.TrimSpace(a) == "" {
			return fieldErr(fmt.Sprintf("assets[%d]", i), "empty symbol")
		}
	}
	if c.Lookback < 0 {
		return fieldErr("lookback", "must be >= 0")
	}
	if c.SeriesDepth < c.Lookback {
		return fieldErr("series_depth", "%d is shorter than lookback %d", c.SeriesDepth, c.Lookback)
	}
	if err := c.SessionConfig().Validate(); err != nil {
		return fieldErr("session", "%v", err)
	}
	start, end, err := c.Range()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return fieldErr("end_date", "must not precede start_date")
	}
	if c.Capital <= 0 {
		return fieldErr("capital", "must be positive")
	}
	if c.MaxLeverage < 0 {
		return fieldErr("max_leverage", "must be >= 0")
	}
	if c.MaxGrossLeverage < 0 {
		return fieldErr("max_gross_leverage", "must be >= 0")
	}
	if c.Broker.LotSize < 0 {
		return fieldErr("broker.lot_size", "must be >= 0")
	}
	for i, t := range c.Broker.LotTiers {
		if t.Lot <= 0 {
			return fieldErr(fmt.Sprintf("broker.lot_tiers[%d].lot", i), "must be positive")
		}
	}
	if c.Broker.SettlementDays < 0 {
		return fieldErr("broker.settlement_days", "must be >= 0")
	}
	if c.Broker.MaxVolumePct < 0 || c.Broker.MaxVolumePct > 100 {
		return fieldErr("broker.max_volume_pct", "must be a percentage within [0,100]")
	}
	if c.Mode == "live" && c.Broker.URL == "" && c.Broker.Env == "" {
		return fieldErr("broker.url", "live mode needs a venue url or env")
	}
	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fieldErr("journal", "trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fieldErr("journal.db_path", "required for SQLite type")
		}
	default:
		return fieldErr("journal.type", "must be 'csv', 'sqlite' or 'none'")
	}
	if c.Checkpoint.Every < 0 {
		return fieldErr("checkpoint.every", "must be >= 0")
	}
	if c.Checkpoint.Every > 0 && c.Checkpoint.Path == "" {
		return fieldErr("checkpoint.path", "required when checkpoint.every is set")
	}
	return nil
}

// Range parses the date bounds. The returned end is exclusive: the day after end_date.
func (c *Run) Range() (start, end time.Time, err error) {
	if c.StartDate != "" {
		start, err = time.Parse(dateLayout, c.StartDate)
		if err != nil {
			return start, end, fieldErr("start_date", "want YYYY-MM-DD: %v", err)
		}
	}
	if c.EndDate != "" {
		end, err = time.Parse(dateLayout, c.EndDate)
		if err != nil {
			return start, end, fieldErr("end_date", "want YYYY-MM-DD: %v", err)
		}
		end = end.Add(24 * time.Hour)
	}
	return start, end, nil
}

func (c *Run) SessionConfig() session.Config {
	s := c.Session
	return session.Config{
		StartMarket:    s.StartMarket,
		StartBreak:     s.StartBreak,
		EndBreak:       s.EndBreak,
		EndMarket:      s.EndMarket,
		BarPeriod:      s.BarPeriod,
		BarOffset:      s.BarOffset,
		DayOffset:      time.Duration(s.DayOffsetMS) * time.Millisecond,
		WeekendTrading: s.WeekendTrading,
	}
}

func (c *Run) Policy() risk.Policy {
	return risk.Policy{MaxWeight: c.MaxLeverage, MaxGross: c.MaxGrossLeverage}
}

func (c *Run) Rules() broker.Rules {
	return broker.Rules{
		LotSize:        c.Broker.LotSize,
		LotTiers:       append([]broker.LotTier(nil), c.Broker.LotTiers...),
		AllowShort:     c.Broker.AllowShort,
		NoShort:        append([]string(nil), c.Broker.NoShort...),
		SettlementDays: c.Broker.SettlementDays,
	}
}

func (c *Run) SimConfig() sim.Config {
	return sim.Config{
		Rules:         c.Rules(),
		SlippageBps:   c.Broker.SlippageBps,
		SlippageFixed: c.Broker.SlippageFixed,
		MaxVolumePct:  c.Broker.MaxVolumePct,
	}
}

func (c *Run) Timeout() time.Duration {
	return time.Duration(c.Broker.TimeoutMS) * time.Millisecond
}

// LiveConfig is the order routing setup of a live run.
func (c *Run) LiveConfig() live.Config {
	return live.Config{
		Rules:      c.Rules(),
		Timeout:    c.Timeout(),
		RatePerSec: c.Broker.RatePerSec,
		Burst:      c.Broker.Burst,
	}
}

func (c *Run) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		Output:     c.Log.Output,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
