package backtest

import (
	"math"
	"time"

	"github.com/amirphl/pairs-trader/internal/strategy"
	"github.com/amirphl/pairs-trader/internal/tfutils"
)

// Trade is one finalized round trip. Basis values are spread levels under
// the hedge estimate frozen at entry; PnL is net of Cost.
type Trade struct {
	Seq        int            `json:"seq"`
	Side       strategy.State `json:"side"`
	EntryIndex int            `json:"entry_index"`
	ExitIndex  int            `json:"exit_index"`
	EntryTime  time.Time      `json:"entry_time"`
	ExitTime   time.Time      `json:"exit_time"`
	EntryBasis float64        `json:"entry_basis"`
	ExitBasis  float64        `json:"exit_basis"`
	HedgeRatio float64        `json:"hedge_ratio"`
	PnL        float64        `json:"pnl"`
	Cost       float64        `json:"cost"`
	Reason     string         `json:"reason"`
}

// Result is the immutable outcome of one replay. EquityCurve holds one
// point per replayed bar: cash plus mark-to-market of any open position.
type Result struct {
	EquityCurve    []float64 `json:"equity_curve"`
	Trades         []Trade   `json:"trades"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	TotalReturn    float64   `json:"total_return"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	WinRate        float64   `json:"win_rate"`
	NumTrades      int       `json:"num_trades"`
}

func buildResult(cfg Config, equity []float64, trades []Trade) *Result {
	res := &Result{
		EquityCurve:    equity,
		Trades:         trades,
		InitialCapital: cfg.InitialCapital,
		NumTrades:      len(trades),
	}
	if len(equity) > 0 {
		res.FinalEquity = equity[len(equity)-1]
		res.TotalReturn = (res.FinalEquity - cfg.InitialCapital) / cfg.InitialCapital
	}
	res.MaxDrawdown = maxDrawdown(equity)
	res.SharpeRatio = sharpeRatio(equity, annualizationFactor(cfg.Timeframe))

	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	if len(trades) > 0 {
		res.WinRate = float64(wins) / float64(len(trades))
	}
	return res
}

// maxDrawdown returns the deepest decline from a running equity peak,
// expressed as a fraction of that peak. A monotonically non-decreasing
// curve yields 0.
func maxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for i, e := range equity {
		if i == 0 || e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpeRatio is mean per-bar return over its sample standard deviation,
// scaled by sqrt(bars per year). Zero when fewer than two returns exist or
// returns have no variance.
func sharpeRatio(equity []float64, annualization float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			return 0
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(annualization)
}

// annualizationFactor is the number of bars in a 365-day, around-the-clock
// trading year at the given timeframe. Crypto convention; equity-market
// calendars are out of scope.
func annualizationFactor(timeframe string) float64 {
	dur := tfutils.GetTimeframeDuration(timeframe)
	if dur <= 0 {
		return 0
	}
	return (365 * 24 * time.Hour).Seconds() / dur.Seconds()
}
