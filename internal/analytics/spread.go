package analytics

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/amirphl/pairs-trader/internal/stats"
)

// Pair names the two legs of a tracked relationship. Symbol1 is the
// regressor leg, Symbol2 the regressand.
type Pair struct {
	Symbol1 string `json:"symbol1"`
	Symbol2 string `json:"symbol2"`
}

func (p Pair) String() string { return p.Symbol1 + "/" + p.Symbol2 }

// Snapshot is the engine's published view after a recompute cycle. CurrentZ
// is NaN when the spread's standard deviation is zero or the window holds
// fewer than two points; z-scores are never clipped.
type Snapshot struct {
	Pair       Pair      `json:"pair"`
	HedgeRatio float64   `json:"hedge_ratio"`
	Intercept  float64   `json:"intercept"`
	RSquared   float64   `json:"r_squared"`
	SpreadMean float64   `json:"spread_mean"`
	SpreadStd  float64   `json:"spread_std"`
	CurrentZ   float64   `json:"current_z"`
	Valid      bool      `json:"valid"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ComputeSpread returns spread_t = price2_t − (intercept + ratio·price1_t)
// for every aligned index.
func ComputeSpread(price1, price2 []float64, est HedgeEstimate) []float64 {
	n := len(price1)
	if len(price2) < n {
		n = len(price2)
	}
	spread := make([]float64, n)
	for i := 0; i < n; i++ {
		spread[i] = price2[i] - (est.Intercept + est.HedgeRatio*price1[i])
	}
	return spread
}

// ZScores standardizes the spread against its own window mean and sample
// standard deviation (n−1). Every element is NaN when std is zero or fewer
// than two points exist.
func ZScores(spread []float64) []float64 {
	mean, std := spreadMoments(spread)
	z := make([]float64, len(spread))
	if len(spread) < 2 || std == 0 || math.IsNaN(std) {
		for i := range z {
			z[i] = math.NaN()
		}
		return z
	}
	for i, s := range spread {
		z[i] = (s - mean) / std
	}
	return z
}

// spreadMoments feeds the spread through a rolling window sized to it and
// reads the incrementally maintained sample mean and standard deviation.
func spreadMoments(xs []float64) (float64, float64) {
	w, err := stats.NewRollingWindow(len(xs))
	if err != nil {
		return math.NaN(), math.NaN()
	}
	for _, x := range xs {
		w.Push(x)
	}
	return w.Mean(), w.Std()
}

// SpreadEngine couples a hedge estimator with the spread/z-score computation
// for one pair. Recompute is pure over its inputs; the engine only caches the
// latest snapshot for readers. One engine instance serves both live recompute
// cycles and backtests.
type SpreadEngine struct {
	pair      Pair
	estimator *HedgeEstimator

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewSpreadEngine creates a spread engine for pair.
func NewSpreadEngine(pair Pair, estimator *HedgeEstimator) (*SpreadEngine, error) {
	if pair.Symbol1 == "" || pair.Symbol2 == "" || pair.Symbol1 == pair.Symbol2 {
		return nil, fmt.Errorf("pair needs two distinct symbols, got %q", pair)
	}
	if estimator == nil {
		return nil, fmt.Errorf("spread engine needs a hedge estimator")
	}
	return &SpreadEngine{pair: pair, estimator: estimator}, nil
}

// Pair returns the tracked pair.
func (e *SpreadEngine) Pair() Pair { return e.pair }

// Estimator returns the engine's hedge estimator.
func (e *SpreadEngine) Estimator() *HedgeEstimator { return e.estimator }

// Recompute re-estimates the hedge over the aligned closing-price windows,
// derives the spread and z series, publishes a fresh snapshot, and returns
// it together with the per-bar z-scores. An invalid estimate yields an
// invalid snapshot with NaN z; callers skip acting on it for that cycle.
func (e *SpreadEngine) Recompute(price1, price2 []float64, at time.Time) (Snapshot, []float64) {
	est := e.estimator.Estimate(price1, price2)

	snap := Snapshot{
		Pair:      e.pair,
		CurrentZ:  math.NaN(),
		UpdatedAt: at,
	}
	var zs []float64

	if est.Valid {
		spread := ComputeSpread(alignTail(price1, est.WindowLength), alignTail(price2, est.WindowLength), est)
		mean, std := spreadMoments(spread)
		zs = ZScores(spread)

		snap.HedgeRatio = est.HedgeRatio
		snap.Intercept = est.Intercept
		snap.RSquared = est.RSquared
		snap.SpreadMean = mean
		snap.SpreadStd = std
		snap.Valid = true
		if len(zs) > 0 {
			snap.CurrentZ = zs[len(zs)-1]
		}
	}

	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
	return snap, zs
}

// Snapshot returns the most recently published snapshot.
func (e *SpreadEngine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

func alignTail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}
