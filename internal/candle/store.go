package candle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Backfill is the persistence collaborator queried when a read asks for more
// history than the store retains locally. Implemented by internal/db. Bounds
// are half-open: returned candles have window start in [start, end).
type Backfill interface {
	GetCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]Candle, error)
}

// Store is a bounded, per-(symbol, timeframe) ordered history of closed
// candles with FIFO eviction. Appends happen only on the ingestion goroutine;
// queries return copies so no caller can mutate store state.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[string][]Candle
	backfill Backfill
}

// NewStore creates a candle store. backfill may be nil, in which case reads
// are served from local history only.
func NewStore(capacity int, backfill Backfill) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("candle store capacity must be positive, got %d", capacity)
	}
	return &Store{
		capacity: capacity,
		series:   make(map[string][]Candle),
		backfill: backfill,
	}, nil
}

// Append adds one closed candle. Candles at or before the latest retained
// window start are ignored, keeping the series strictly ordered.
func (s *Store) Append(c Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey(c.Symbol, c.Timeframe)
	ser := s.series[key]
	if n := len(ser); n > 0 && !c.Timestamp.After(ser[n-1].Timestamp) {
		return
	}
	if len(ser) >= s.capacity {
		copy(ser, ser[1:])
		ser = ser[:len(ser)-1]
	}
	s.series[key] = append(ser, c)
}

// Len returns the number of locally retained candles for (symbol, timeframe).
func (s *Store) Len(symbol, timeframe string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[seriesKey(symbol, timeframe)])
}

// Tail returns the last n closed candles in chronological order. If fewer
// than n are retained locally the missing prefix is read through from the
// persistence collaborator and merged in front.
func (s *Store) Tail(ctx context.Context, symbol, timeframe string, n int) ([]Candle, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	ser := s.series[seriesKey(symbol, timeframe)]
	local := make([]Candle, len(ser))
	copy(local, ser)
	s.mu.RUnlock()

	if len(local) >= n {
		return local[len(local)-n:], nil
	}
	if s.backfill == nil || len(local) == 0 {
		return local, nil
	}

	missing := n - len(local)
	first := local[0].Timestamp
	dur := local[0].WindowEnd().Sub(local[0].Timestamp)
	start := first.Add(-time.Duration(missing) * dur)

	prefix, err := s.backfill.GetCandles(ctx, symbol, timeframe, start, first)
	if err != nil {
		return nil, fmt.Errorf("backfill tail for %s %s: %w", symbol, timeframe, err)
	}
	merged := mergeChronological(prefix, local)
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

// Range returns closed candles with window start in [from, to], in
// chronological order, reading any missing prefix through the persistence
// collaborator.
func (s *Store) Range(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	s.mu.RLock()
	ser := s.series[seriesKey(symbol, timeframe)]
	local := make([]Candle, 0, len(ser))
	for _, c := range ser {
		if !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
			local = append(local, c)
		}
	}
	var firstLocal time.Time
	if len(ser) > 0 {
		firstLocal = ser[0].Timestamp
	}
	s.mu.RUnlock()

	if s.backfill == nil || (!firstLocal.IsZero() && !from.Before(firstLocal)) {
		return local, nil
	}

	// Backfill bounds are half-open, so the exclusive end sits one tick past
	// to (a bar starting exactly at to is in range), cut at the first locally
	// retained bar when that comes sooner.
	end := to.Add(time.Nanosecond)
	if !firstLocal.IsZero() && firstLocal.Before(end) {
		end = firstLocal
	}
	prefix, err := s.backfill.GetCandles(ctx, symbol, timeframe, from, end)
	if err != nil {
		return nil, fmt.Errorf("backfill range for %s %s: %w", symbol, timeframe, err)
	}
	return mergeChronological(prefix, local), nil
}

// mergeChronological concatenates prefix and suffix, dropping prefix entries
// that overlap the suffix so the result stays strictly ordered.
func mergeChronological(prefix, suffix []Candle) []Candle {
	if len(suffix) == 0 {
		return prefix
	}
	cut := suffix[0].Timestamp
	merged := make([]Candle, 0, len(prefix)+len(suffix))
	for _, c := range prefix {
		if c.Timestamp.Before(cut) {
			merged = append(merged, c)
		}
	}
	return append(merged, suffix...)
}
