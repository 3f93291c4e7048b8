package candle

import (
	"fmt"
	"sort"
	"time"

	"github.com/amirphl/pairs-trader/internal/metrics"
	"github.com/amirphl/pairs-trader/internal/tfutils"
	"github.com/amirphl/pairs-trader/internal/tick"
)

// seriesState is the mutable "current bar" record for one (symbol, timeframe)
// pair. It is owned by the Aggregator and updated only through applyTick.
type seriesState struct {
	open      *Candle
	lastClose float64
}

// applyTick advances one series by a single tick and returns the new state
// plus any candles closed by the advance. Empty windows between the previous
// bar and the tick's window are filled with flat synthetic candles.
func applyTick(st seriesState, symbol, timeframe string, t tick.Tick) (seriesState, []Candle) {
	dur := tfutils.GetTimeframeDuration(timeframe)
	windowStart := tfutils.AlignToTimeframe(t.Timestamp, timeframe)

	if st.open == nil {
		st.open = newOpenCandle(symbol, timeframe, windowStart, t)
		return st, nil
	}

	// Ticks inside (or slightly before, within the buffer's tolerance) the
	// current window fold into the open candle.
	if t.Timestamp.Before(st.open.WindowEnd()) {
		updateOpenCandle(st.open, t)
		return st, nil
	}

	var closed []Candle
	closed = append(closed, *st.open)
	st.lastClose = st.open.Close

	// Carry the previous close across fully empty windows.
	for cursor := st.open.WindowEnd(); cursor.Before(windowStart); cursor = cursor.Add(dur) {
		closed = append(closed, Candle{
			Timestamp: cursor,
			Open:      st.lastClose,
			High:      st.lastClose,
			Low:       st.lastClose,
			Close:     st.lastClose,
			Volume:    0,
			Symbol:    symbol,
			Timeframe: timeframe,
			Source:    SourceSynthetic,
		})
	}

	st.open = newOpenCandle(symbol, timeframe, windowStart, t)
	return st, closed
}

func newOpenCandle(symbol, timeframe string, windowStart time.Time, t tick.Tick) *Candle {
	return &Candle{
		Timestamp:  windowStart,
		Open:       t.Price,
		High:       t.Price,
		Low:        t.Price,
		Close:      t.Price,
		Volume:     t.Quantity,
		TradeCount: 1,
		Symbol:     symbol,
		Timeframe:  timeframe,
		Source:     SourceTrade,
	}
}

func updateOpenCandle(c *Candle, t tick.Tick) {
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Quantity
	c.TradeCount++
}

// Aggregator consumes accepted ticks and maintains at most one open candle
// per (symbol, timeframe). It is single-writer: only the ingestion goroutine
// may call Apply and Flush.
type Aggregator struct {
	timeframes []string
	series     map[string]*seriesState
}

// NewAggregator creates an aggregator for the given timeframes, finest first.
func NewAggregator(timeframes []string) (*Aggregator, error) {
	if len(timeframes) == 0 {
		return nil, fmt.Errorf("aggregator needs at least one timeframe")
	}
	for _, tf := range timeframes {
		if !tfutils.IsValidTimeframe(tf) {
			return nil, fmt.Errorf("unsupported timeframe %q", tf)
		}
	}
	sorted := make([]string, len(timeframes))
	copy(sorted, timeframes)
	sort.Slice(sorted, func(i, j int) bool {
		return tfutils.GetTimeframeDuration(sorted[i]) < tfutils.GetTimeframeDuration(sorted[j])
	})
	return &Aggregator{
		timeframes: sorted,
		series:     make(map[string]*seriesState),
	}, nil
}

// Timeframes returns the configured timeframes, finest first.
func (a *Aggregator) Timeframes() []string {
	out := make([]string, len(a.timeframes))
	copy(out, a.timeframes)
	return out
}

func seriesKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// Apply advances every configured timeframe with one accepted tick and
// returns all candles closed by it, in chronological order per timeframe.
// The tick must already have passed tick.Buffer validation.
func (a *Aggregator) Apply(t tick.Tick) []Candle {
	var closed []Candle
	for _, tf := range a.timeframes {
		key := seriesKey(t.Symbol, tf)
		st := a.series[key]
		if st == nil {
			st = &seriesState{}
			a.series[key] = st
		}
		next, c := applyTick(*st, t.Symbol, tf, t)
		*st = next
		for i := range c {
			metrics.CandlesClosed.WithLabelValues(c[i].Symbol, c[i].Timeframe).Inc()
		}
		closed = append(closed, c...)
	}
	return closed
}

// Flush force-closes every open candle for symbol using its last known tick.
// Called on feed disconnect so a stale bar cannot stretch across the outage.
func (a *Aggregator) Flush(symbol string) []Candle {
	var closed []Candle
	for _, tf := range a.timeframes {
		key := seriesKey(symbol, tf)
		st := a.series[key]
		if st == nil || st.open == nil {
			continue
		}
		closed = append(closed, *st.open)
		metrics.CandlesClosed.WithLabelValues(symbol, tf).Inc()
		st.lastClose = st.open.Close
		st.open = nil
	}
	return closed
}

// Open returns a copy of the open candle for (symbol, timeframe), if any.
func (a *Aggregator) Open(symbol, timeframe string) (Candle, bool) {
	st := a.series[seriesKey(symbol, timeframe)]
	if st == nil || st.open == nil {
		return Candle{}, false
	}
	return *st.open, true
}
