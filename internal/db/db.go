// Package db persists closed trading-timeframe candles. Only raw candle
// history is stored; derived analytics (hedge estimates, spreads, signals)
// are always recomputed from candles and never written.
package db

import (
	"context"
	"time"

	"github.com/amirphl/pairs-trader/internal/candle"
)

// Storage is the interface for candle persistence. It satisfies
// candle.Backfill, so a Store can read through to it on a cold start.
// GetCandles bounds are half-open: window start in [start, end).
type Storage interface {
	SaveCandles(ctx context.Context, candles []candle.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error)
	GetLatestCandle(ctx context.Context, symbol, timeframe string) (*candle.Candle, error)
	DeleteCandles(ctx context.Context, symbol, timeframe string, before time.Time) error
	Close() error
}
