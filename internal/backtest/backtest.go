// Package backtest replays a frozen candle history for one symbol pair
// through the same analytics and state-machine code path the live engine
// uses. Replay is strictly sequential within a pair: the hedge estimate at
// bar i sees only the trailing window ending at bar i, so no information
// from the future leaks into any decision. Independent pairs can be
// backtested concurrently; a Backtester itself is single-threaded.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/amirphl/pairs-trader/internal/analytics"
	"github.com/amirphl/pairs-trader/internal/candle"
	"github.com/amirphl/pairs-trader/internal/strategy"
	"github.com/amirphl/pairs-trader/internal/tfutils"
)

// Config carries the replay parameters. Commission and Slippage are
// fractions of traded notional charged per leg per fill.
type Config struct {
	Pair           analytics.Pair `json:"pair" yaml:"pair"`
	Timeframe      string         `json:"timeframe" yaml:"timeframe"`
	Window         int            `json:"window" yaml:"window"`
	MinObs         int            `json:"min_obs" yaml:"min_obs"`
	EntryThreshold float64        `json:"entry_threshold" yaml:"entry_threshold"`
	ExitThreshold  float64        `json:"exit_threshold" yaml:"exit_threshold"`
	StopThreshold  float64        `json:"stop_threshold" yaml:"stop_threshold"`
	Commission     float64        `json:"commission" yaml:"commission"`
	Slippage       float64        `json:"slippage" yaml:"slippage"`
	InitialCapital float64        `json:"initial_capital" yaml:"initial_capital"`
}

func (c Config) Validate() error {
	if c.Pair.Symbol1 == "" || c.Pair.Symbol2 == "" || c.Pair.Symbol1 == c.Pair.Symbol2 {
		return fmt.Errorf("backtest config: pair needs two distinct symbols, got %q", c.Pair)
	}
	if !tfutils.IsValidTimeframe(c.Timeframe) {
		return fmt.Errorf("backtest config: unsupported timeframe %q", c.Timeframe)
	}
	if c.Window <= 1 {
		return fmt.Errorf("backtest config: window must exceed 1, got %d", c.Window)
	}
	if c.MinObs < 2 || c.MinObs > c.Window {
		return fmt.Errorf("backtest config: min_obs must be in [2, window], got %d", c.MinObs)
	}
	if c.ExitThreshold < 0 || c.ExitThreshold >= c.EntryThreshold || c.EntryThreshold >= c.StopThreshold {
		return fmt.Errorf("backtest config: %w", strategy.ErrInvalidThresholds)
	}
	if c.Commission < 0 || c.Slippage < 0 {
		return fmt.Errorf("backtest config: commission and slippage must be non-negative")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("backtest config: initial capital must be positive, got %f", c.InitialCapital)
	}
	return nil
}

// ReplayError reports a missing or corrupt bar inside the requested range.
// It aborts the whole run; no partial result is ever returned.
type ReplayError struct {
	Symbol    string
	Timeframe string
	Index     int
	Reason    string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay aborted at %s %s bar %d: %s", e.Symbol, e.Timeframe, e.Index, e.Reason)
}

// Backtester replays one pair. Scoring defaults to the z-score of the
// hedge-ratio spread; a different Strategy can be supplied to drive the
// state machine off another signal while the hedge estimate still prices
// fills and mark-to-market.
type Backtester struct {
	cfg    Config
	scorer strategy.Strategy
	logger zerolog.Logger
}

// NewBacktester creates a backtester. scorer may be nil to use the default
// z-score signal.
func NewBacktester(cfg Config, scorer strategy.Strategy, logger zerolog.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backtester{
		cfg:    cfg,
		scorer: scorer,
		logger: logger.With().Str("component", "backtest").Str("pair", cfg.Pair.String()).Logger(),
	}, nil
}

// openPosition is the live trade being carried between an entry and its
// exit. The hedge estimate is frozen at entry because the position was
// sized with it; mark-to-market and realized PnL both use the frozen
// estimate, not the bar-by-bar refit.
type openPosition struct {
	side       strategy.State
	entryIndex int
	entryTime  time.Time
	entryBasis float64
	ratio      float64
	intercept  float64
	entryCost  float64
}

// Run replays the two legs, which must cover the same bars: equal length,
// pairwise-equal timestamps, contiguous at the configured timeframe.
func (b *Backtester) Run(ctx context.Context, leg1, leg2 []candle.Candle) (*Result, error) {
	if err := b.verifyHistory(leg1, b.cfg.Pair.Symbol1); err != nil {
		return nil, err
	}
	if err := b.verifyHistory(leg2, b.cfg.Pair.Symbol2); err != nil {
		return nil, err
	}
	if len(leg1) != len(leg2) {
		return nil, &ReplayError{
			Symbol:    b.cfg.Pair.String(),
			Timeframe: b.cfg.Timeframe,
			Index:     0,
			Reason:    fmt.Sprintf("leg lengths differ: %d vs %d", len(leg1), len(leg2)),
		}
	}
	for i := range leg1 {
		if !leg1[i].Timestamp.Equal(leg2[i].Timestamp) {
			return nil, &ReplayError{
				Symbol:    b.cfg.Pair.String(),
				Timeframe: b.cfg.Timeframe,
				Index:     i,
				Reason:    "leg timestamps diverge",
			}
		}
	}

	estimator, err := analytics.NewHedgeEstimator(b.cfg.Window, b.cfg.MinObs)
	if err != nil {
		return nil, err
	}
	engine, err := analytics.NewSpreadEngine(b.cfg.Pair, estimator)
	if err != nil {
		return nil, err
	}
	machine, err := strategy.NewStateMachine(b.cfg.Pair, b.cfg.EntryThreshold, b.cfg.ExitThreshold, b.cfg.StopThreshold)
	if err != nil {
		return nil, err
	}

	n := len(leg1)
	closes1 := strategy.Closes(leg1)
	closes2 := strategy.Closes(leg2)
	equity := make([]float64, n)
	trades := make([]Trade, 0)
	cash := b.cfg.InitialCapital
	var open *openPosition

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lo := i + 1 - b.cfg.Window
		if lo < 0 {
			lo = 0
		}
		w1 := closes1[lo : i+1]
		w2 := closes2[lo : i+1]

		snap, _ := engine.Recompute(w1, w2, leg1[i].WindowEnd())

		score := snap.CurrentZ
		if b.scorer != nil {
			score, err = b.scorer.OnBar(ctx, leg1[lo:i+1], leg2[lo:i+1])
			if err != nil {
				return nil, err
			}
		}
		if open == nil && !snap.Valid {
			// No hedge estimate to price an entry with; stay flat this bar
			// even when the scorer already produces entry-level readings.
			score = math.NaN()
		}

		basis := math.NaN()
		if open != nil {
			basis = closes2[i] - (open.intercept + open.ratio*closes1[i])
		} else if snap.Valid {
			basis = closes2[i] - (snap.Intercept + snap.HedgeRatio*closes1[i])
		}

		tr, changed := machine.Step(score, basis, leg1[i].Timestamp)
		if changed {
			switch {
			case tr.From == strategy.StateFlat:
				cost := b.fillCost(snap.HedgeRatio, closes1[i], closes2[i])
				cash -= cost
				open = &openPosition{
					side:       tr.To,
					entryIndex: i,
					entryTime:  leg1[i].Timestamp,
					entryBasis: closes2[i] - (snap.Intercept + snap.HedgeRatio*closes1[i]),
					ratio:      snap.HedgeRatio,
					intercept:  snap.Intercept,
					entryCost:  cost,
				}
				b.logger.Debug().
					Str("side", string(tr.To)).
					Int("bar", i).
					Float64("score", score).
					Msg("opened position")
			case tr.To == strategy.StateFlat && open != nil:
				exitBasis := closes2[i] - (open.intercept + open.ratio*closes1[i])
				gross := positionSign(open.side) * (exitBasis - open.entryBasis)
				exitCost := b.fillCost(open.ratio, closes1[i], closes2[i])
				cash += gross - exitCost
				trades = append(trades, Trade{
					Seq:        len(trades) + 1,
					Side:       open.side,
					EntryIndex: open.entryIndex,
					ExitIndex:  i,
					EntryTime:  open.entryTime,
					ExitTime:   leg1[i].Timestamp,
					EntryBasis: open.entryBasis,
					ExitBasis:  exitBasis,
					HedgeRatio: open.ratio,
					Cost:       open.entryCost + exitCost,
					PnL:        gross - open.entryCost - exitCost,
					Reason:     tr.Reason,
				})
				b.logger.Debug().
					Int("bar", i).
					Float64("pnl", gross-open.entryCost-exitCost).
					Str("reason", tr.Reason).
					Msg("closed position")
				open = nil
			}
		}

		equity[i] = cash
		if open != nil {
			markBasis := closes2[i] - (open.intercept + open.ratio*closes1[i])
			equity[i] += positionSign(open.side) * (markBasis - open.entryBasis)
		}
	}

	result := buildResult(b.cfg, equity, trades)
	b.logger.Info().
		Int("bars", n).
		Int("trades", result.NumTrades).
		Float64("total_return", result.TotalReturn).
		Float64("max_drawdown", result.MaxDrawdown).
		Msg("backtest complete")
	return result, nil
}

// verifyHistory rejects any hole or corrupt bar inside the range.
func (b *Backtester) verifyHistory(candles []candle.Candle, symbol string) error {
	if len(candles) == 0 {
		return &ReplayError{Symbol: symbol, Timeframe: b.cfg.Timeframe, Index: 0, Reason: "empty history"}
	}
	dur := tfutils.GetTimeframeDuration(b.cfg.Timeframe)
	for i := range candles {
		c := &candles[i]
		if c.Timeframe != b.cfg.Timeframe {
			return &ReplayError{Symbol: symbol, Timeframe: b.cfg.Timeframe, Index: i,
				Reason: fmt.Sprintf("bar has timeframe %q", c.Timeframe)}
		}
		if err := c.Validate(); err != nil {
			return &ReplayError{Symbol: symbol, Timeframe: b.cfg.Timeframe, Index: i,
				Reason: fmt.Sprintf("corrupt bar: %v", err)}
		}
		if i > 0 {
			want := candles[i-1].Timestamp.Add(dur)
			if !c.Timestamp.Equal(want) {
				return &ReplayError{Symbol: symbol, Timeframe: b.cfg.Timeframe, Index: i,
					Reason: fmt.Sprintf("gap: expected bar at %s, got %s",
						want.Format(time.RFC3339), c.Timestamp.Format(time.RFC3339))}
			}
		}
	}
	return nil
}

// fillCost charges commission plus slippage on each leg's notional for one
// fill of a unit spread position (one unit of leg2 against ratio units of
// leg1).
func (b *Backtester) fillCost(ratio, price1, price2 float64) float64 {
	rate := b.cfg.Commission + b.cfg.Slippage
	return rate * (price2 + math.Abs(ratio)*price1)
}

func positionSign(side strategy.State) float64 {
	if side == strategy.StateLongSpread {
		return 1
	}
	return -1
}
