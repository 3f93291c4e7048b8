package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/pairs-trader/internal/analytics"
	"github.com/amirphl/pairs-trader/internal/candle"
)

func testConfig() Config {
	return Config{
		Pair:           analytics.Pair{Symbol1: "BTCUSDT", Symbol2: "ETHUSDT"},
		Timeframe:      "1m",
		Window:         30,
		MinObs:         10,
		EntryThreshold: 1.0,
		ExitThreshold:  0.3,
		StopThreshold:  6.0,
		Commission:     0.0005,
		Slippage:       0.0002,
		InitialCapital: 10000,
	}
}

// pairHistory builds two contiguous 1m legs where leg2 tracks 2*leg1+5 plus
// a sinusoidal spread, so the z-score oscillates through the entry and exit
// bands.
func pairHistory(n int) ([]candle.Candle, []candle.Candle) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	leg1 := make([]candle.Candle, n)
	leg2 := make([]candle.Candle, n)
	for i := 0; i < n; i++ {
		p1 := 100 + 0.01*float64(i)
		p2 := 2*p1 + 5 + 3*math.Sin(2*math.Pi*float64(i)/40)
		ts := start.Add(time.Duration(i) * time.Minute)
		leg1[i] = barAt("BTCUSDT", ts, p1)
		leg2[i] = barAt("ETHUSDT", ts, p2)
	}
	return leg1, leg2
}

func barAt(symbol string, ts time.Time, close float64) candle.Candle {
	return candle.Candle{
		Timestamp:  ts,
		Open:       close,
		High:       close,
		Low:        close,
		Close:      close,
		Volume:     1,
		TradeCount: 1,
		Symbol:     symbol,
		Timeframe:  "1m",
		Source:     candle.SourceTrade,
	}
}

func newTestBacktester(t *testing.T, cfg Config) *Backtester {
	t.Helper()
	b, err := NewBacktester(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"same symbols", func(c *Config) { c.Pair.Symbol2 = c.Pair.Symbol1 }, false},
		{"empty symbol", func(c *Config) { c.Pair.Symbol1 = "" }, false},
		{"bad timeframe", func(c *Config) { c.Timeframe = "7m" }, false},
		{"window too small", func(c *Config) { c.Window = 1 }, false},
		{"min obs above window", func(c *Config) { c.MinObs = 31 }, false},
		{"min obs too small", func(c *Config) { c.MinObs = 1 }, false},
		{"exit above entry", func(c *Config) { c.ExitThreshold = 1.5 }, false},
		{"stop below entry", func(c *Config) { c.StopThreshold = 0.9 }, false},
		{"negative commission", func(c *Config) { c.Commission = -0.01 }, false},
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestBacktester_Run(t *testing.T) {
	ctx := context.Background()
	leg1, leg2 := pairHistory(400)

	t.Run("produces a complete result", func(t *testing.T) {
		b := newTestBacktester(t, testConfig())
		res, err := b.Run(ctx, leg1, leg2)
		require.NoError(t, err)

		assert.Len(t, res.EquityCurve, len(leg1))
		assert.Equal(t, res.NumTrades, len(res.Trades))
		assert.GreaterOrEqual(t, res.NumTrades, 1, "oscillating spread should produce trades")
		assert.GreaterOrEqual(t, res.WinRate, 0.0)
		assert.LessOrEqual(t, res.WinRate, 1.0)
		assert.GreaterOrEqual(t, res.MaxDrawdown, 0.0)
		assert.InDelta(t, (res.FinalEquity-res.InitialCapital)/res.InitialCapital, res.TotalReturn, 1e-12)

		for _, tr := range res.Trades {
			assert.Greater(t, tr.ExitIndex, tr.EntryIndex, "trade %d", tr.Seq)
			assert.True(t, tr.ExitTime.After(tr.EntryTime), "trade %d", tr.Seq)
			assert.Greater(t, tr.Cost, 0.0, "trade %d", tr.Seq)
			assert.NotEmpty(t, tr.Reason, "trade %d", tr.Seq)
		}
	})

	t.Run("identical inputs give identical results", func(t *testing.T) {
		first, err := newTestBacktester(t, testConfig()).Run(ctx, leg1, leg2)
		require.NoError(t, err)
		second, err := newTestBacktester(t, testConfig()).Run(ctx, leg1, leg2)
		require.NoError(t, err)

		assert.Equal(t, first.Trades, second.Trades)
		assert.Equal(t, first.EquityCurve, second.EquityCurve)
		assert.Equal(t, first.TotalReturn, second.TotalReturn)
		assert.Equal(t, first.SharpeRatio, second.SharpeRatio)
		assert.Equal(t, first.MaxDrawdown, second.MaxDrawdown)
	})

	t.Run("cancellation aborts between bars", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		b := newTestBacktester(t, testConfig())
		res, err := b.Run(cancelled, leg1, leg2)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, res)
	})
}

// eagerScorer emits an entry-level score from the very first bar, then a
// flat score once flipAt bars have been seen.
type eagerScorer struct {
	calls  int
	flipAt int
}

func (s *eagerScorer) Name() string      { return "eager" }
func (s *eagerScorer) WarmupPeriod() int { return 1 }

func (s *eagerScorer) OnBar(context.Context, []candle.Candle, []candle.Candle) (float64, error) {
	s.calls++
	if s.calls > s.flipAt {
		return 0, nil
	}
	return 2.5, nil
}

func TestBacktester_Run_EntryWaitsForHedgeEstimate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	leg1, leg2 := pairHistory(60)

	b, err := NewBacktester(cfg, &eagerScorer{flipAt: 40}, zerolog.Nop())
	require.NoError(t, err)

	res, err := b.Run(ctx, leg1, leg2)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	// The scorer screams "enter" from bar zero, but no position may open
	// until the hedge estimate has its minimum observations; a trade priced
	// off a zero-value estimate would carry HedgeRatio 0.
	tr := res.Trades[0]
	assert.Equal(t, cfg.MinObs-1, tr.EntryIndex)
	assert.Equal(t, 40, tr.ExitIndex)
	assert.NotZero(t, tr.HedgeRatio)
}

func TestBacktester_Run_ReplayErrors(t *testing.T) {
	ctx := context.Background()
	b := newTestBacktester(t, testConfig())

	t.Run("empty history", func(t *testing.T) {
		_, err := b.Run(ctx, nil, nil)
		var replayErr *ReplayError
		require.ErrorAs(t, err, &replayErr)
	})

	t.Run("gap in bars", func(t *testing.T) {
		leg1, leg2 := pairHistory(50)
		leg1 = append(leg1[:20], leg1[21:]...)
		leg2 = append(leg2[:20], leg2[21:]...)

		_, err := b.Run(ctx, leg1, leg2)
		var replayErr *ReplayError
		require.ErrorAs(t, err, &replayErr)
		assert.Equal(t, 20, replayErr.Index)
		assert.Contains(t, replayErr.Reason, "gap")
	})

	t.Run("corrupt bar", func(t *testing.T) {
		leg1, leg2 := pairHistory(50)
		leg1[30].High = leg1[30].Low - 1

		_, err := b.Run(ctx, leg1, leg2)
		var replayErr *ReplayError
		require.ErrorAs(t, err, &replayErr)
		assert.Equal(t, 30, replayErr.Index)
	})

	t.Run("leg length mismatch", func(t *testing.T) {
		leg1, leg2 := pairHistory(50)
		_, err := b.Run(ctx, leg1, leg2[:49])
		var replayErr *ReplayError
		require.ErrorAs(t, err, &replayErr)
	})

	t.Run("wrong timeframe", func(t *testing.T) {
		leg1, leg2 := pairHistory(50)
		leg1[10].Timeframe = "5m"
		_, err := b.Run(ctx, leg1, leg2)
		var replayErr *ReplayError
		require.ErrorAs(t, err, &replayErr)
	})
}

func TestMaxDrawdown(t *testing.T) {
	t.Run("monotone curve has zero drawdown", func(t *testing.T) {
		assert.Zero(t, maxDrawdown([]float64{100, 100, 110, 120, 120, 150}))
	})
	t.Run("fraction of peak", func(t *testing.T) {
		// Peak 120, trough 90.
		assert.InDelta(t, 0.25, maxDrawdown([]float64{100, 120, 90, 110}), 1e-12)
	})
	t.Run("empty", func(t *testing.T) {
		assert.Zero(t, maxDrawdown(nil))
	})
}

func TestSharpeRatio(t *testing.T) {
	t.Run("constant returns have zero variance", func(t *testing.T) {
		assert.Zero(t, sharpeRatio([]float64{100, 110, 121}, 525600))
	})
	t.Run("too short", func(t *testing.T) {
		assert.Zero(t, sharpeRatio([]float64{100, 110}, 525600))
	})
	t.Run("positive drift", func(t *testing.T) {
		equity := []float64{100, 102, 101, 104, 103, 107, 106, 110}
		assert.Greater(t, sharpeRatio(equity, 525600), 0.0)
	})
}

func TestAnnualizationFactor(t *testing.T) {
	assert.InDelta(t, 525600, annualizationFactor("1m"), 1e-9)
	assert.InDelta(t, 8760, annualizationFactor("1h"), 1e-9)
	assert.InDelta(t, 365, annualizationFactor("1d"), 1e-9)
}
