// Package analytics
package analytics

import (
	"errors"
	"fmt"

	"github.com/amirphl/pairs-trader/internal/stats"
)

// HedgeEstimate is the rolling regression output for one estimation cycle.
// It is recomputed on every closed trading-interval candle and never stored.
type HedgeEstimate struct {
	HedgeRatio   float64 `json:"hedge_ratio"`
	Intercept    float64 `json:"intercept"`
	RSquared     float64 `json:"r_squared"`
	WindowLength int     `json:"window_length"`
	Valid        bool    `json:"valid"`
	FallbackUsed bool    `json:"fallback_used"`
}

// HedgeEstimator fits the hedge relationship between two symbols' aligned
// closing prices: price2 = intercept + ratio * price1. Each call is a fresh
// sliding estimate over the supplied window, so the fit adapts to regime
// changes instead of accumulating history.
type HedgeEstimator struct {
	window int
	minObs int
}

// NewHedgeEstimator creates an estimator. minObs is the minimum number of
// aligned observations required before an estimate is marked valid.
func NewHedgeEstimator(window, minObs int) (*HedgeEstimator, error) {
	if window <= 1 {
		return nil, fmt.Errorf("hedge window must exceed 1, got %d", window)
	}
	if minObs < 2 || minObs > window {
		return nil, fmt.Errorf("min observations must be in [2, window], got %d", minObs)
	}
	return &HedgeEstimator{window: window, minObs: minObs}, nil
}

// Window returns the configured rolling window length.
func (e *HedgeEstimator) Window() int { return e.window }

// MinObs returns the configured minimum observation count.
func (e *HedgeEstimator) MinObs() int { return e.minObs }

// Estimate fits OLS of price2 on price1 over the trailing window. When
// price1 is (numerically) constant OLS is unstable, so the estimate falls
// back to a ratio of medians with zero intercept. With fewer than minObs
// aligned points the estimate is invalid and downstream cycles skip it.
func (e *HedgeEstimator) Estimate(price1, price2 []float64) HedgeEstimate {
	n := len(price1)
	if len(price2) < n {
		n = len(price2)
	}
	if n > e.window {
		price1 = price1[len(price1)-e.window:]
		price2 = price2[len(price2)-e.window:]
		n = e.window
	} else {
		price1 = price1[len(price1)-n:]
		price2 = price2[len(price2)-n:]
	}

	if n < e.minObs {
		return HedgeEstimate{WindowLength: n}
	}

	res, err := stats.OLS(price1, price2)
	if err != nil {
		if !errors.Is(err, stats.ErrZeroVariance) {
			return HedgeEstimate{WindowLength: n}
		}
		m1 := stats.Median(price1)
		if m1 == 0 {
			return HedgeEstimate{WindowLength: n}
		}
		return HedgeEstimate{
			HedgeRatio:   stats.Median(price2) / m1,
			Intercept:    0,
			RSquared:     0,
			WindowLength: n,
			Valid:        true,
			FallbackUsed: true,
		}
	}

	return HedgeEstimate{
		HedgeRatio:   res.Slope,
		Intercept:    res.Intercept,
		RSquared:     res.RSquared,
		WindowLength: n,
		Valid:        true,
	}
}
