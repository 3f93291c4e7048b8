// Package candle
package candle

import (
	"errors"
	"time"

	"github.com/amirphl/pairs-trader/internal/tfutils"
)

// Candle sources. Synthetic candles carry a previous close across windows
// that saw no trades, so downstream rolling statistics never see gaps.
const (
	SourceTrade     = "trade"
	SourceSynthetic = "synthetic"
	SourceBackfill  = "backfill"
)

// Candle is an immutable OHLCV summary of one timeframe window.
// Timestamp is the floor-aligned window start.
type Candle struct {
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	TradeCount int       `json:"trade_count"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Source     string    `json:"source"`
}

// Validate checks if a candle has valid data. Zero-volume synthetic candles
// are valid as long as their prices are positive and flat-consistent.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return errors.New("candle timestamp is zero")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return errors.New("candle prices must be positive")
	}
	if c.High < c.Low {
		return errors.New("candle high cannot be less than low")
	}
	if c.Open < c.Low || c.Open > c.High {
		return errors.New("candle open price must be between high and low")
	}
	if c.Close < c.Low || c.Close > c.High {
		return errors.New("candle close price must be between high and low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume cannot be negative")
	}
	if c.TradeCount < 0 {
		return errors.New("candle trade count cannot be negative")
	}
	if c.Symbol == "" {
		return errors.New("candle symbol cannot be empty")
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return errors.New("candle timeframe is not supported")
	}
	if !c.Timestamp.Equal(tfutils.AlignToTimeframe(c.Timestamp, c.Timeframe)) {
		return errors.New("candle timestamp is not aligned to its timeframe")
	}
	return nil
}

// WindowEnd returns the exclusive end of the candle's window.
func (c *Candle) WindowEnd() time.Time {
	return c.Timestamp.Add(tfutils.GetTimeframeDuration(c.Timeframe))
}
