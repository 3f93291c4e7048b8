package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/amirphl/pairs-trader/internal/analytics"
	"github.com/amirphl/pairs-trader/internal/backtest"
	"github.com/amirphl/pairs-trader/internal/config"
	"github.com/amirphl/pairs-trader/internal/db"
	"github.com/amirphl/pairs-trader/internal/exchange"
	"github.com/amirphl/pairs-trader/internal/live"
	"github.com/amirphl/pairs-trader/internal/metrics"
	"github.com/amirphl/pairs-trader/internal/strategy"
	"github.com/amirphl/pairs-trader/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := util.NewLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
	}

	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening storage failed")
	}
	defer storage.Close()

	switch cfg.Mode {
	case "backtest":
		err = runBacktest(ctx, cfg, storage, logger)
	default:
		err = runLive(ctx, cfg, storage, logger)
	}
	if err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Str("mode", cfg.Mode).Msg("run failed")
	}
}

func openStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (db.Storage, error) {
	if cfg.DBConnStr == "" {
		logger.Info().Msg("no database configured, using in-memory storage")
		return db.NewMemory(), nil
	}
	return db.OpenPostgres(ctx, cfg.DBConnStr)
}

func buildStrategy(cfg config.Config) (strategy.Strategy, error) {
	switch cfg.StrategyName() {
	case "rsi":
		return strategy.NewRSISpreadStrategy(cfg.RSIPeriod)
	default:
		estimator, err := analytics.NewHedgeEstimator(cfg.Window, cfg.MinObs)
		if err != nil {
			return nil, err
		}
		engine, err := analytics.NewSpreadEngine(
			analytics.Pair{Symbol1: cfg.Symbol1, Symbol2: cfg.Symbol2}, estimator)
		if err != nil {
			return nil, err
		}
		return strategy.NewZScoreStrategy(engine)
	}
}

func runLive(ctx context.Context, cfg config.Config, storage db.Storage, logger zerolog.Logger) error {
	feed, err := exchange.NewBinanceFeed(cfg.ExchangeHost, []string{cfg.Symbol1, cfg.Symbol2}, logger)
	if err != nil {
		return err
	}
	defer feed.Close()

	strat, err := buildStrategy(cfg)
	if err != nil {
		return err
	}
	machine, err := strategy.NewStateMachine(
		analytics.Pair{Symbol1: cfg.Symbol1, Symbol2: cfg.Symbol2},
		cfg.EntryThreshold, cfg.ExitThreshold, cfg.StopThreshold)
	if err != nil {
		return err
	}
	engine, err := live.NewEngine(cfg, feed, storage, strat, machine, logger)
	if err != nil {
		return err
	}

	go func() {
		for tr := range engine.Signals() {
			logger.Info().
				Str("pair", tr.Pair.String()).
				Str("from", string(tr.From)).
				Str("to", string(tr.To)).
				Float64("score", tr.Score).
				Time("at", tr.Timestamp).
				Msg("signal")
		}
	}()

	err = engine.Run(ctx)
	stats := engine.BufferStats()
	logger.Info().
		Uint64("accepted", stats.Accepted).
		Uint64("rejected", stats.Rejected).
		Uint64("out_of_order", stats.OutOfOrder).
		Uint64("evicted", stats.Evicted).
		Msg("ingestion counters at shutdown")
	return err
}

func runBacktest(ctx context.Context, cfg config.Config, storage db.Storage, logger zerolog.Logger) error {
	from, to, err := cfg.BacktestRange()
	if err != nil {
		return err
	}
	leg1, err := storage.GetCandles(ctx, cfg.Symbol1, cfg.TradingTimeframe, from, to)
	if err != nil {
		return fmt.Errorf("loading %s candles: %w", cfg.Symbol1, err)
	}
	leg2, err := storage.GetCandles(ctx, cfg.Symbol2, cfg.TradingTimeframe, from, to)
	if err != nil {
		return fmt.Errorf("loading %s candles: %w", cfg.Symbol2, err)
	}
	logger.Info().
		Int("bars_leg1", len(leg1)).
		Int("bars_leg2", len(leg2)).
		Time("from", from).
		Time("to", to).
		Msg("loaded backtest history")

	btCfg := backtest.Config{
		Pair:           analytics.Pair{Symbol1: cfg.Symbol1, Symbol2: cfg.Symbol2},
		Timeframe:      cfg.TradingTimeframe,
		Window:         cfg.Window,
		MinObs:         cfg.MinObs,
		EntryThreshold: cfg.EntryThreshold,
		ExitThreshold:  cfg.ExitThreshold,
		StopThreshold:  cfg.StopThreshold,
		Commission:     cfg.Commission,
		Slippage:       cfg.Slippage,
		InitialCapital: cfg.InitialCapital,
	}

	// The default z-score signal lives inside the backtester; only an
	// alternative strategy is injected.
	var scorer strategy.Strategy
	if cfg.StrategyName() != "zscore" {
		if scorer, err = buildStrategy(cfg); err != nil {
			return err
		}
	}

	bt, err := backtest.NewBacktester(btCfg, scorer, logger)
	if err != nil {
		return err
	}
	result, err := bt.Run(ctx, leg1, leg2)
	if err != nil {
		return err
	}

	printResult(result)
	path := fmt.Sprintf("backtest_trades_%s_%s.csv", cfg.Symbol1, cfg.Symbol2)
	if err := writeTradesCSV(path, result.Trades); err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("trade ledger written")
	return nil
}

func printResult(r *backtest.Result) {
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Bars:           %d\n", len(r.EquityCurve))
	fmt.Printf("Trades:         %d\n", r.NumTrades)
	fmt.Printf("Initial:        %.2f\n", r.InitialCapital)
	fmt.Printf("Final equity:   %.2f\n", r.FinalEquity)
	fmt.Printf("Total return:   %.4f%%\n", r.TotalReturn*100)
	fmt.Printf("Win rate:       %.2f%%\n", r.WinRate*100)
	fmt.Printf("Max drawdown:   %.4f%%\n", r.MaxDrawdown*100)
	fmt.Printf("Sharpe ratio:   %.4f\n", r.SharpeRatio)
}

func writeTradesCSV(path string, trades []backtest.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trade ledger: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"seq", "side", "entry_index", "exit_index", "entry_time", "exit_time",
		"entry_basis", "exit_basis", "hedge_ratio", "pnl", "cost", "reason"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			strconv.Itoa(t.Seq),
			string(t.Side),
			strconv.Itoa(t.EntryIndex),
			strconv.Itoa(t.ExitIndex),
			t.EntryTime.Format("2006-01-02T15:04:05Z"),
			t.ExitTime.Format("2006-01-02T15:04:05Z"),
			strconv.FormatFloat(t.EntryBasis, 'f', 8, 64),
			strconv.FormatFloat(t.ExitBasis, 'f', 8, 64),
			strconv.FormatFloat(t.HedgeRatio, 'f', 8, 64),
			strconv.FormatFloat(t.PnL, 'f', 8, 64),
			strconv.FormatFloat(t.Cost, 'f', 8, 64),
			t.Reason,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
