package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/amirphl/pairs-trader/internal/analytics"
	"github.com/amirphl/pairs-trader/internal/candle"
	"github.com/amirphl/pairs-trader/internal/indicator"
)

// Strategy scores a pair of trailing candle histories on every closed
// trading-interval candle. The score is a standardized signal: positive
// means the spread is rich (short it), negative means it is cheap (long
// it), and magnitudes are comparable to z-score units so one state
// machine serves every implementation. A NaN score means the strategy has
// no usable opinion for this bar.
type Strategy interface {
	Name() string

	// WarmupPeriod is the number of candles each leg needs before the
	// strategy can produce a defined score.
	WarmupPeriod() int

	// OnBar consumes the trailing windows of both legs, oldest first and
	// aligned on timestamps, and returns the score for the latest bar.
	OnBar(ctx context.Context, leg1, leg2 []candle.Candle) (float64, error)
}

// Closes extracts closing prices from candles, oldest first.
func Closes(candles []candle.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// ZScoreStrategy scores the pair by the current z-score of the hedge-ratio
// spread. It owns a SpreadEngine and recomputes the full estimate cycle
// (hedge fit, spread, standardization) from scratch on every bar.
type ZScoreStrategy struct {
	engine *analytics.SpreadEngine
}

func NewZScoreStrategy(engine *analytics.SpreadEngine) (*ZScoreStrategy, error) {
	if engine == nil {
		return nil, fmt.Errorf("zscore strategy requires a spread engine")
	}
	return &ZScoreStrategy{engine: engine}, nil
}

func (s *ZScoreStrategy) Name() string { return "zscore" }

func (s *ZScoreStrategy) WarmupPeriod() int { return s.engine.Estimator().MinObs() }

// Snapshot exposes the engine's latest published estimate.
func (s *ZScoreStrategy) Snapshot() analytics.Snapshot { return s.engine.Snapshot() }

func (s *ZScoreStrategy) OnBar(ctx context.Context, leg1, leg2 []candle.Candle) (float64, error) {
	if err := ctx.Err(); err != nil {
		return math.NaN(), err
	}
	if len(leg1) == 0 || len(leg2) == 0 {
		return math.NaN(), nil
	}
	at := leg1[len(leg1)-1].WindowEnd()
	snap, _ := s.engine.Recompute(Closes(leg1), Closes(leg2), at)
	if !snap.Valid {
		return math.NaN(), nil
	}
	return snap.CurrentZ, nil
}

// RSISpreadStrategy is an alternative scorer: it computes Wilder's RSI over
// the price ratio leg2/leg1 and maps it onto z-score-like units, so an
// overbought ratio (RSI 70) scores +2 and an oversold one (RSI 30) scores
// −2. Useful when the pair's spread is strongly trending and the OLS fit
// whipsaws.
type RSISpreadStrategy struct {
	period int
}

func NewRSISpreadStrategy(period int) (*RSISpreadStrategy, error) {
	if period < 2 {
		return nil, fmt.Errorf("rsi period must be at least 2, got %d", period)
	}
	return &RSISpreadStrategy{period: period}, nil
}

func (s *RSISpreadStrategy) Name() string { return "rsi" }

func (s *RSISpreadStrategy) WarmupPeriod() int { return s.period + 1 }

func (s *RSISpreadStrategy) OnBar(ctx context.Context, leg1, leg2 []candle.Candle) (float64, error) {
	if err := ctx.Err(); err != nil {
		return math.NaN(), err
	}
	n := len(leg1)
	if len(leg2) < n {
		n = len(leg2)
	}
	if n < s.period+1 {
		return math.NaN(), nil
	}
	c1 := Closes(leg1[len(leg1)-n:])
	c2 := Closes(leg2[len(leg2)-n:])
	ratio := make([]float64, n)
	for i := 0; i < n; i++ {
		if c1[i] == 0 {
			return math.NaN(), nil
		}
		ratio[i] = c2[i] / c1[i]
	}
	rsi := indicator.CalculateRSI(ratio, s.period)
	if len(rsi) == 0 {
		return math.NaN(), nil
	}
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return math.NaN(), nil
	}
	// RSI 50 is neutral; every 10 points maps to one score unit.
	return (last - 50) / 10, nil
}
