package stats

import (
	"errors"
	"math"
	"sort"
)

// OLSResult holds the fit of y = Intercept + Slope*x.
type OLSResult struct {
	Slope     float64
	Intercept float64
	RSquared  float64
}

var (
	ErrInsufficientData = errors.New("need at least two aligned observations")
	ErrLengthMismatch   = errors.New("series lengths differ")
	ErrZeroVariance     = errors.New("regressor has zero variance")
)

// OLS fits an ordinary least squares line of y on x with intercept.
// Returns ErrZeroVariance when x is (numerically) constant, in which case the
// caller should fall back to a more robust estimate.
func OLS(x, y []float64) (OLSResult, error) {
	if len(x) != len(y) {
		return OLSResult{}, ErrLengthMismatch
	}
	n := len(x)
	if n < 2 {
		return OLSResult{}, ErrInsufficientData
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var sxx, sxy, syy float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}

	if sxx == 0 || sxx < varianceEpsilon*float64(n)*meanX*meanX {
		return OLSResult{}, ErrZeroVariance
	}

	slope := sxy / sxx
	intercept := meanY - slope*meanX

	r2 := 1.0
	if syy > 0 {
		var ssRes float64
		for i := 0; i < n; i++ {
			res := y[i] - (intercept + slope*x[i])
			ssRes += res * res
		}
		r2 = 1 - ssRes/syy
	}
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}

	return OLSResult{Slope: slope, Intercept: intercept, RSquared: r2}, nil
}

// varianceEpsilon decides when a regressor counts as numerically constant
// relative to its magnitude.
const varianceEpsilon = 1e-12

// Median returns the median of xs. NaN for an empty slice.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
