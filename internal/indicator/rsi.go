package indicator

import "math"

// CalculateRSI computes the Relative Strength Index over values using
// Wilder's smoothing. The returned slice is aligned with the input; the
// first period-1 entries are NaN because not enough history exists yet.
// Returns nil when the input is shorter than period or period is invalid.
func CalculateRSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	rsi := make([]float64, len(values))
	for i := 0; i < period-1; i++ {
		rsi[i] = math.NaN()
	}
	var gain, loss float64
	for i := 1; i < period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	rsi[period-1] = rsiFromAverages(avgGain, avgLoss)
	for i := period; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss = 0, 0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		rsi[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return rsi
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
