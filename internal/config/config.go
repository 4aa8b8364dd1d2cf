// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, health endpoint, and logging level.
type App struct {
	Name       string `yaml:"name" validate:"required"`
	Env        string `yaml:"env"`
	HealthAddr string `yaml:"health_addr" validate:"required"`
	LogLevel   string `yaml:"log_level"`
}

// Exchange describes connectivity parameters for the spot venue.
type Exchange struct {
	Name             string `yaml:"name"`
	BaseURL          string `yaml:"base_url" validate:"required,url"`
	WSURL            string `yaml:"ws_url"`
	Testnet          bool   `yaml:"testnet"`
	Mode             string `yaml:"mode" validate:"oneof=live paper"`
	QuoteSource      string `yaml:"quote_source" validate:"oneof=rest stream"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms" validate:"gt=0"`
}

// RequestTimeout returns the per-call deadline applied to every exchange request.
func (e Exchange) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMs) * time.Millisecond
}

// Strategy groups the tunable knobs of the EMA/RSI entry rule.
type Strategy struct {
	Symbol           string  `yaml:"symbol" validate:"required"`
	Timeframe        string  `yaml:"timeframe" validate:"required"`
	EMAShort         int     `yaml:"ema_short" validate:"gte=2"`
	EMALong          int     `yaml:"ema_long" validate:"gte=2"`
	RSIWindow        int     `yaml:"rsi_window" validate:"gte=2"`
	RSIThreshold     float64 `yaml:"rsi_threshold" validate:"gt=0,lt=100"`
	TakeProfitPct    float64 `yaml:"take_profit_pct" validate:"gt=0"`
	StopLossPct      float64 `yaml:"stop_loss_pct" validate:"gt=0"`
	Quantity         float64 `yaml:"quantity" validate:"gt=0"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" validate:"gte=1"`
	Lookback         int     `yaml:"lookback" validate:"gte=0"`
}

// PollInterval returns the cadence of the strategy loop.
func (s Strategy) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

// MinCandles reports the smallest candle window the indicator engine can work with.
func (s Strategy) MinCandles() int {
	window := s.EMALong
	if s.RSIWindow > window {
		window = s.RSIWindow
	}
	return window + 1
}

// Paper captures dry-run account settings used when no credentials are configured.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash"`
	FillsPath    string  `yaml:"fills_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Strategy Strategy `yaml:"strategy"`
	Paper    Paper    `yaml:"paper"`
}

// Load reads a YAML file from disk, hydrates a Config struct, and validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate applies struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Strategy.EMAShort >= c.Strategy.EMALong {
		return fmt.Errorf("validate config: ema_short (%d) must be below ema_long (%d)", c.Strategy.EMAShort, c.Strategy.EMALong)
	}
	if c.Strategy.Lookback > 0 && c.Strategy.Lookback < c.Strategy.MinCandles() {
		return fmt.Errorf("validate config: lookback %d below required %d candles", c.Strategy.Lookback, c.Strategy.MinCandles())
	}
	return nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
