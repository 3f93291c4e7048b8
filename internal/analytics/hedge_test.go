package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHedgeEstimator(t *testing.T) {
	t.Run("Rejects bad window", func(t *testing.T) {
		_, err := NewHedgeEstimator(1, 2)
		assert.Error(t, err)
		_, err = NewHedgeEstimator(0, 2)
		assert.Error(t, err)
	})

	t.Run("Rejects bad min observations", func(t *testing.T) {
		_, err := NewHedgeEstimator(50, 1)
		assert.Error(t, err)
		_, err = NewHedgeEstimator(50, 51)
		assert.Error(t, err)
	})
}

func TestHedgeEstimator_Estimate(t *testing.T) {
	t.Run("Recovers exact linear relation", func(t *testing.T) {
		e, err := NewHedgeEstimator(50, 10)
		require.NoError(t, err)

		var p1, p2 []float64
		for i := 0; i < 50; i++ {
			x := 100 + float64(i)
			p1 = append(p1, x)
			p2 = append(p2, 2*x+5)
		}

		est := e.Estimate(p1, p2)
		require.True(t, est.Valid)
		assert.False(t, est.FallbackUsed)
		assert.InDelta(t, 2.0, est.HedgeRatio, 1e-9)
		assert.InDelta(t, 5.0, est.Intercept, 1e-9)
		assert.InDelta(t, 1.0, est.RSquared, 1e-9)
		assert.Equal(t, 50, est.WindowLength)
	})

	t.Run("Invalid below min observations", func(t *testing.T) {
		e, err := NewHedgeEstimator(50, 10)
		require.NoError(t, err)

		est := e.Estimate([]float64{1, 2, 3}, []float64{2, 4, 6})
		assert.False(t, est.Valid)
		assert.Equal(t, 3, est.WindowLength)
	})

	t.Run("Falls back to ratio of medians on constant regressor", func(t *testing.T) {
		e, err := NewHedgeEstimator(50, 4)
		require.NoError(t, err)

		p1 := []float64{10, 10, 10, 10, 10}
		p2 := []float64{19, 20, 21, 20, 20}

		est := e.Estimate(p1, p2)
		require.True(t, est.Valid)
		assert.True(t, est.FallbackUsed)
		assert.InDelta(t, 2.0, est.HedgeRatio, 1e-9)
		assert.Equal(t, 0.0, est.Intercept)
	})

	t.Run("Uses only the trailing window", func(t *testing.T) {
		e, err := NewHedgeEstimator(10, 4)
		require.NoError(t, err)

		// Old regime: ratio 5. Recent window: exact ratio 2 with offset 5.
		var p1, p2 []float64
		for i := 0; i < 30; i++ {
			x := 100 + float64(i)
			p1 = append(p1, x)
			p2 = append(p2, 5*x)
		}
		for i := 0; i < 10; i++ {
			x := 200 + float64(i)
			p1 = append(p1, x)
			p2 = append(p2, 2*x+5)
		}

		est := e.Estimate(p1, p2)
		require.True(t, est.Valid)
		assert.InDelta(t, 2.0, est.HedgeRatio, 1e-9)
		assert.InDelta(t, 5.0, est.Intercept, 1e-6)
		assert.Equal(t, 10, est.WindowLength)
	})

	t.Run("Aligns unequal length inputs on the tail", func(t *testing.T) {
		e, err := NewHedgeEstimator(50, 3)
		require.NoError(t, err)

		p1 := []float64{1, 2, 3, 4}
		p2 := []float64{4, 6, 8} // pairs with p1's last three
		est := e.Estimate(p1, p2)
		require.True(t, est.Valid)
		assert.InDelta(t, 2.0, est.HedgeRatio, 1e-9)
		assert.Equal(t, 3, est.WindowLength)
	})
}
