// Package live wires the realtime pipeline: feed ticks flow through the
// tick buffer and candle aggregator into the store on a single ingestion
// goroutine; closed trading-timeframe candles trigger a recompute of the
// hedge estimate and a state-machine step on a worker goroutine over an
// immutable snapshot, so a slow regression never blocks ingestion. Signal
// transitions are published on a channel for downstream consumers.
package live

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amirphl/pairs-trader/internal/analytics"
	"github.com/amirphl/pairs-trader/internal/candle"
	"github.com/amirphl/pairs-trader/internal/config"
	"github.com/amirphl/pairs-trader/internal/db"
	"github.com/amirphl/pairs-trader/internal/exchange"
	"github.com/amirphl/pairs-trader/internal/strategy"
	"github.com/amirphl/pairs-trader/internal/tick"
)

// snapshotter is implemented by strategies that publish a spread snapshot;
// the engine uses it to attach the current spread level to transitions.
type snapshotter interface {
	Snapshot() analytics.Snapshot
}

// recomputeJob carries an immutable tail snapshot of both legs to the
// worker.
type recomputeJob struct {
	leg1 []candle.Candle
	leg2 []candle.Candle
	at   time.Time
}

// Engine runs the live pipeline for one pair.
type Engine struct {
	id      uuid.UUID
	cfg     config.Config
	pair    analytics.Pair
	feed    exchange.Feed
	storage db.Storage
	strat   strategy.Strategy
	machine *strategy.StateMachine
	logger  zerolog.Logger

	buffer *tick.Buffer
	agg    *candle.Aggregator
	store  *candle.Store

	jobs    chan recomputeJob
	signals chan strategy.Transition
	wg      sync.WaitGroup
}

// NewEngine builds the pipeline. storage may be nil, in which case nothing
// is persisted and cold-start backfill is unavailable.
func NewEngine(
	cfg config.Config,
	feed exchange.Feed,
	storage db.Storage,
	strat strategy.Strategy,
	machine *strategy.StateMachine,
	logger zerolog.Logger,
) (*Engine, error) {
	if feed == nil {
		return nil, fmt.Errorf("live engine needs a feed")
	}
	if strat == nil || machine == nil {
		return nil, fmt.Errorf("live engine needs a strategy and a state machine")
	}

	tolerance := time.Duration(cfg.OutOfOrderToleranceMS) * time.Millisecond
	buffer, err := tick.NewBuffer(cfg.TickBufferCapacity, tolerance)
	if err != nil {
		return nil, err
	}
	agg, err := candle.NewAggregator(cfg.Timeframes)
	if err != nil {
		return nil, err
	}
	var backfill candle.Backfill
	if storage != nil {
		backfill = storage
	}
	store, err := candle.NewStore(cfg.CandleStoreCapacity, backfill)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	return &Engine{
		id:      id,
		cfg:     cfg,
		pair:    analytics.Pair{Symbol1: cfg.Symbol1, Symbol2: cfg.Symbol2},
		feed:    feed,
		storage: storage,
		strat:   strat,
		machine: machine,
		logger: logger.With().
			Str("component", "live").
			Str("engine_id", id.String()).
			Str("pair", cfg.Symbol1+"/"+cfg.Symbol2).
			Logger(),
		buffer:  buffer,
		agg:     agg,
		store:   store,
		jobs:    make(chan recomputeJob, 1),
		signals: make(chan strategy.Transition, 64),
	}, nil
}

// Signals delivers state-machine transitions as they happen. The channel
// is buffered; a persistently absent consumer loses the oldest signals.
func (e *Engine) Signals() <-chan strategy.Transition { return e.signals }

// BufferStats exposes the ingestion counters.
func (e *Engine) BufferStats() tick.Stats { return e.buffer.Stats() }

// State returns the machine's current position state.
func (e *Engine) State() strategy.State { return e.machine.State() }

// Run starts the feed and blocks until ctx is cancelled. It always returns
// ctx's error.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Strs("timeframes", e.cfg.Timeframes).
		Str("trading_timeframe", e.cfg.TradingTimeframe).
		Msg("starting live engine")

	e.feed.Start(ctx)

	e.wg.Add(2)
	go e.ingestLoop(ctx)
	go e.recomputeLoop(ctx)

	<-ctx.Done()
	e.wg.Wait()
	return ctx.Err()
}

// ingestLoop is the single writer for buffer, aggregator, and store.
func (e *Engine) ingestLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-e.feed.Ticks():
			if !ok {
				return
			}
			e.ingestTick(ctx, t)
		case ev, ok := <-e.feed.Events():
			if !ok {
				return
			}
			if ev.Type == exchange.EventDisconnected {
				e.forceCloseOpenCandles(ctx)
			}
		}
	}
}

func (e *Engine) ingestTick(ctx context.Context, t tick.Tick) {
	if err := e.buffer.Add(t); err != nil {
		// Malformed and out-of-order ticks are dropped and counted, never
		// fatal.
		e.logger.Debug().Err(err).Str("symbol", t.Symbol).Msg("dropped tick")
		return
	}
	closed := e.agg.Apply(t)
	e.absorbClosed(ctx, closed)
}

// forceCloseOpenCandles flushes partial candles on a feed disconnect so no
// window stays open across the gap.
func (e *Engine) forceCloseOpenCandles(ctx context.Context) {
	e.logger.Warn().Msg("feed disconnected, force-closing open candles")
	for _, symbol := range []string{e.cfg.Symbol1, e.cfg.Symbol2} {
		e.absorbClosed(ctx, e.agg.Flush(symbol))
	}
}

// absorbClosed stores closed candles, persists trading-timeframe ones, and
// triggers a recompute when a trading bar closes.
func (e *Engine) absorbClosed(ctx context.Context, closed []candle.Candle) {
	var persist []candle.Candle
	for _, c := range closed {
		e.store.Append(c)
		if c.Timeframe == e.cfg.TradingTimeframe {
			persist = append(persist, c)
		}
	}
	if len(persist) == 0 {
		return
	}
	if e.storage != nil {
		if err := e.storage.SaveCandles(ctx, persist); err != nil {
			e.logger.Error().Err(err).Msg("persisting closed candles failed")
		}
	}
	e.scheduleRecompute(ctx, persist[len(persist)-1].WindowEnd())
}

// scheduleRecompute snapshots both legs' tails and hands them to the
// worker. If the worker is still busy the job is dropped; the next bar
// close will carry fresher data anyway.
func (e *Engine) scheduleRecompute(ctx context.Context, at time.Time) {
	leg1, err := e.store.Tail(ctx, e.cfg.Symbol1, e.cfg.TradingTimeframe, e.cfg.Window)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", e.cfg.Symbol1).Msg("snapshotting tail failed")
		return
	}
	leg2, err := e.store.Tail(ctx, e.cfg.Symbol2, e.cfg.TradingTimeframe, e.cfg.Window)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", e.cfg.Symbol2).Msg("snapshotting tail failed")
		return
	}
	select {
	case e.jobs <- recomputeJob{leg1: leg1, leg2: leg2, at: at}:
	default:
		e.logger.Debug().Msg("recompute worker busy, skipping cycle")
	}
}

func (e *Engine) recomputeLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			e.recompute(ctx, job)
		}
	}
}

func (e *Engine) recompute(ctx context.Context, job recomputeJob) {
	score, err := e.strat.OnBar(ctx, job.leg1, job.leg2)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("strategy evaluation failed")
		}
		return
	}

	basis := math.NaN()
	if s, ok := e.strat.(snapshotter); ok {
		if snap := s.Snapshot(); snap.Valid {
			basis = snap.SpreadMean + snap.CurrentZ*snap.SpreadStd
		}
	}

	tr, changed := e.machine.Step(score, basis, job.at)
	if !changed {
		return
	}
	e.logger.Info().
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Float64("score", tr.Score).
		Str("reason", tr.Reason).
		Msg("signal transition")
	select {
	case e.signals <- tr:
	default:
	}
}
