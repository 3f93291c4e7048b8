package tick

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/pairs-trader/internal/metrics"
)

// Stats exposes the buffer's acceptance and drop counters.
type Stats struct {
	Accepted   uint64 `json:"accepted"`
	Rejected   uint64 `json:"rejected"`
	OutOfOrder uint64 `json:"out_of_order"`
	Evicted    uint64 `json:"evicted"`
}

// Buffer is a bounded, insertion-ordered store of recent ticks per symbol.
// When a symbol's series reaches capacity the oldest tick is evicted, so a
// feed that outruns consumers degrades by losing history instead of growing
// unbounded or blocking ingestion.
type Buffer struct {
	mu        sync.RWMutex
	capacity  int
	tolerance time.Duration
	series    map[string][]Tick
	lastTS    map[string]time.Time
	stats     Stats
}

// NewBuffer creates a tick buffer. tolerance is the allowed backwards skew
// before an older tick is treated as out of order and dropped.
func NewBuffer(capacity int, tolerance time.Duration) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("tick buffer capacity must be positive, got %d", capacity)
	}
	if tolerance < 0 {
		return nil, errors.New("tick buffer tolerance cannot be negative")
	}
	return &Buffer{
		capacity:  capacity,
		tolerance: tolerance,
		series:    make(map[string][]Tick),
		lastTS:    make(map[string]time.Time),
	}, nil
}

// Add accepts one tick. Malformed and out-of-order ticks are counted and
// dropped; they never affect the stored series.
func (b *Buffer) Add(t Tick) error {
	if err := t.Validate(); err != nil {
		b.mu.Lock()
		b.stats.Rejected++
		b.mu.Unlock()
		metrics.TicksRejected.WithLabelValues(t.Symbol).Inc()
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastTS[t.Symbol]; ok && t.Timestamp.Before(last.Add(-b.tolerance)) {
		b.stats.OutOfOrder++
		metrics.TicksOutOfOrder.WithLabelValues(t.Symbol).Inc()
		return ErrOutOfOrderTick
	}

	s := b.series[t.Symbol]
	if len(s) >= b.capacity {
		// drop-oldest backpressure
		copy(s, s[1:])
		s = s[:len(s)-1]
		b.stats.Evicted++
		metrics.TicksEvicted.WithLabelValues(t.Symbol).Inc()
	}
	b.series[t.Symbol] = append(s, t)
	if t.Timestamp.After(b.lastTS[t.Symbol]) {
		b.lastTS[t.Symbol] = t.Timestamp
	}
	b.stats.Accepted++
	metrics.TicksAccepted.WithLabelValues(t.Symbol).Inc()
	return nil
}

// Recent returns up to n most recent ticks for symbol, oldest first.
// The returned slice is a copy.
func (b *Buffer) Recent(symbol string, n int) []Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.series[symbol]
	if n <= 0 || n > len(s) {
		n = len(s)
	}
	out := make([]Tick, n)
	copy(out, s[len(s)-n:])
	return out
}

// Len returns the number of buffered ticks for symbol.
func (b *Buffer) Len(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.series[symbol])
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}
