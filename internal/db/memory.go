package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/pairs-trader/internal/candle"
)

// MemoryStorage is the in-process Storage used by tests and as the default
// wiring when no database is configured. Semantics match Postgres: upsert
// on (symbol, timeframe, timestamp), range reads are [start, end) oldest
// first.
type MemoryStorage struct {
	mu      sync.RWMutex
	candles map[string]map[time.Time]candle.Candle
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{candles: make(map[string]map[time.Time]candle.Candle)}
}

func seriesKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

func (m *MemoryStorage) SaveCandles(ctx context.Context, candles []candle.Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		key := seriesKey(c.Symbol, c.Timeframe)
		series, ok := m.candles[key]
		if !ok {
			series = make(map[time.Time]candle.Candle)
			m.candles[key] = series
		}
		c.Timestamp = c.Timestamp.UTC()
		series[c.Timestamp] = c
	}
	return nil
}

func (m *MemoryStorage) GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []candle.Candle
	for ts, c := range m.candles[seriesKey(symbol, timeframe)] {
		if !ts.Before(start.UTC()) && ts.Before(end.UTC()) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStorage) GetLatestCandle(ctx context.Context, symbol, timeframe string) (*candle.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *candle.Candle
	for _, c := range m.candles[seriesKey(symbol, timeframe)] {
		c := c
		if latest == nil || c.Timestamp.After(latest.Timestamp) {
			latest = &c
		}
	}
	return latest, nil
}

func (m *MemoryStorage) DeleteCandles(ctx context.Context, symbol, timeframe string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	series := m.candles[seriesKey(symbol, timeframe)]
	for ts := range series {
		if ts.Before(before.UTC()) {
			delete(series, ts)
		}
	}
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
