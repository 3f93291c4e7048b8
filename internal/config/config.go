// Package config loads runtime configuration from flags, an optional YAML
// file, and environment variables. Precedence: flags provide defaults, a
// YAML file overrides them wholesale, environment variables override
// secrets and connection strings last.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/pairs-trader/internal/tfutils"
)

/*
YAML config example:

mode: "live"
symbol1: "BTCUSDT"
symbol2: "ETHUSDT"
timeframes: ["1m", "5m"]
trading_timeframe: "1m"
entry_threshold: 2.0
exit_threshold: 0.5
stop_threshold: 4.0
window: 120
min_obs: 30
commission: 0.0005
slippage: 0.0002
initial_capital: 10000
tick_buffer_capacity: 65536
candle_store_capacity: 4096
db_conn_str: "host=localhost dbname=pairs sslmode=disable"
metrics_addr: ":9101"
log_level: "info"
*/

type Config struct {
	Mode    string `yaml:"mode"`
	Symbol1 string `yaml:"symbol1"`
	Symbol2 string `yaml:"symbol2"`

	Timeframes       []string `yaml:"timeframes"`
	TradingTimeframe string   `yaml:"trading_timeframe"`

	Strategy  string `yaml:"strategy"`
	RSIPeriod int    `yaml:"rsi_period"`

	BacktestFrom string `yaml:"backtest_from"`
	BacktestTo   string `yaml:"backtest_to"`

	EntryThreshold float64 `yaml:"entry_threshold"`
	ExitThreshold  float64 `yaml:"exit_threshold"`
	StopThreshold  float64 `yaml:"stop_threshold"`
	Window         int     `yaml:"window"`
	MinObs         int     `yaml:"min_obs"`

	Commission     float64 `yaml:"commission"`
	Slippage       float64 `yaml:"slippage"`
	InitialCapital float64 `yaml:"initial_capital"`

	TickBufferCapacity  int `yaml:"tick_buffer_capacity"`
	CandleStoreCapacity int `yaml:"candle_store_capacity"`

	OutOfOrderToleranceMS int `yaml:"out_of_order_tolerance_ms"`

	ExchangeHost string `yaml:"exchange_host"`
	DBConnStr    string `yaml:"db_conn_str"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level"`
}

// Load parses flags and assembles the configuration. It is called once
// from main; tests use LoadFile and Validate directly.
func Load() (Config, error) {
	mode := flag.String("mode", "live", "Mode: live or backtest")
	symbol1 := flag.String("symbol1", "BTCUSDT", "First leg (regressor)")
	symbol2 := flag.String("symbol2", "ETHUSDT", "Second leg (regressand)")
	timeframes := flag.String("timeframes", "1m,5m", "Comma-separated candle timeframes to aggregate")
	tradingTimeframe := flag.String("trading-timeframe", "1m", "Timeframe driving signals and persistence")
	strategyName := flag.String("strategy", "zscore", "Signal strategy: zscore or rsi")
	rsiPeriod := flag.Int("rsi-period", 14, "RSI period for the rsi strategy")
	backtestFrom := flag.String("from", "", "Backtest start date (YYYY-MM-DD)")
	backtestTo := flag.String("to", "", "Backtest end date (YYYY-MM-DD)")
	entry := flag.Float64("entry-threshold", 2.0, "Entry z-score threshold")
	exit := flag.Float64("exit-threshold", 0.5, "Exit z-score threshold")
	stop := flag.Float64("stop-threshold", 4.0, "Stop-loss z-score threshold")
	window := flag.Int("window", 120, "Rolling estimation window in bars")
	minObs := flag.Int("min-obs", 30, "Minimum observations before estimates are valid")
	commission := flag.Float64("commission", 0.0005, "Commission per leg per fill, as a fraction of notional")
	slippage := flag.Float64("slippage", 0.0002, "Slippage per leg per fill, as a fraction of notional")
	initialCapital := flag.Float64("initial-capital", 10000, "Backtest starting capital")
	tickBufferCap := flag.Int("tick-buffer-capacity", 65536, "Per-symbol tick buffer capacity")
	candleStoreCap := flag.Int("candle-store-capacity", 4096, "Per-series in-memory candle capacity")
	oooTolerance := flag.Int("out-of-order-tolerance-ms", 2000, "Timestamp regression tolerated on incoming ticks")
	exchangeHost := flag.String("exchange-host", "", "Exchange websocket host override")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address, empty disables")
	logLevel := flag.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg := Config{
		Mode:                  *mode,
		Symbol1:               *symbol1,
		Symbol2:               *symbol2,
		Timeframes:            strings.Split(*timeframes, ","),
		TradingTimeframe:      *tradingTimeframe,
		Strategy:              *strategyName,
		RSIPeriod:             *rsiPeriod,
		BacktestFrom:          *backtestFrom,
		BacktestTo:            *backtestTo,
		EntryThreshold:        *entry,
		ExitThreshold:         *exit,
		StopThreshold:         *stop,
		Window:                *window,
		MinObs:                *minObs,
		Commission:            *commission,
		Slippage:              *slippage,
		InitialCapital:        *initialCapital,
		TickBufferCapacity:    *tickBufferCap,
		CandleStoreCapacity:   *candleStoreCap,
		OutOfOrderToleranceMS: *oooTolerance,
		ExchangeHost:          *exchangeHost,
		MetricsAddr:           *metricsAddr,
		LogLevel:              *logLevel,
	}

	if *configFile != "" {
		fileCfg, err := LoadFile(*configFile)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DBConnStr = v
	}
	if v := os.Getenv("EXCHANGE_HOST"); v != "" {
		cfg.ExchangeHost = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a full configuration from a YAML file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Mode != "live" && c.Mode != "backtest" {
		return fmt.Errorf("mode must be live or backtest, got %q", c.Mode)
	}
	if c.Symbol1 == "" || c.Symbol2 == "" || c.Symbol1 == c.Symbol2 {
		return fmt.Errorf("symbol1 and symbol2 must be distinct and non-empty")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe is required")
	}
	for _, tf := range c.Timeframes {
		if !tfutils.IsValidTimeframe(tf) {
			return fmt.Errorf("unsupported timeframe %q", tf)
		}
	}
	if !tfutils.IsValidTimeframe(c.TradingTimeframe) {
		return fmt.Errorf("unsupported trading timeframe %q", c.TradingTimeframe)
	}
	tradingListed := false
	for _, tf := range c.Timeframes {
		if tf == c.TradingTimeframe {
			tradingListed = true
			break
		}
	}
	if !tradingListed {
		return fmt.Errorf("trading timeframe %q must be among the aggregated timeframes", c.TradingTimeframe)
	}
	if c.ExitThreshold < 0 || c.ExitThreshold >= c.EntryThreshold || c.EntryThreshold >= c.StopThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= exit < entry < stop, got exit=%v entry=%v stop=%v",
			c.ExitThreshold, c.EntryThreshold, c.StopThreshold)
	}
	if c.Window <= 1 {
		return fmt.Errorf("window must exceed 1, got %d", c.Window)
	}
	if c.MinObs < 2 || c.MinObs > c.Window {
		return fmt.Errorf("min_obs must be in [2, window], got %d", c.MinObs)
	}
	if c.Commission < 0 || c.Slippage < 0 {
		return fmt.Errorf("commission and slippage must be non-negative")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.TickBufferCapacity <= 0 {
		return fmt.Errorf("tick buffer capacity must be positive, got %d", c.TickBufferCapacity)
	}
	if c.CandleStoreCapacity <= 0 {
		return fmt.Errorf("candle store capacity must be positive, got %d", c.CandleStoreCapacity)
	}
	if c.OutOfOrderToleranceMS < 0 {
		return fmt.Errorf("out-of-order tolerance must be non-negative, got %d", c.OutOfOrderToleranceMS)
	}
	switch c.StrategyName() {
	case "zscore":
	case "rsi":
		if c.RSIPeriod < 2 {
			return fmt.Errorf("rsi period must be at least 2, got %d", c.RSIPeriod)
		}
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if c.Mode == "backtest" {
		if _, _, err := c.BacktestRange(); err != nil {
			return err
		}
	}
	return nil
}

// StrategyName returns the configured strategy, defaulting to zscore.
func (c *Config) StrategyName() string {
	if c.Strategy == "" {
		return "zscore"
	}
	return c.Strategy
}

// BacktestRange parses the backtest window. Both bounds are required and
// interpreted as UTC dates.
func (c *Config) BacktestRange() (time.Time, time.Time, error) {
	from, err := time.ParseInLocation("2006-01-02", c.BacktestFrom, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid backtest start date %q: %w", c.BacktestFrom, err)
	}
	to, err := time.ParseInLocation("2006-01-02", c.BacktestTo, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid backtest end date %q: %w", c.BacktestTo, err)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest start %q must precede end %q", c.BacktestFrom, c.BacktestTo)
	}
	return from, to, nil
}
