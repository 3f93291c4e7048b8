// Package stats
package stats

import (
	"fmt"
	"math"
)

// RollingWindow is a fixed-capacity ring buffer over recent float values with
// incrementally maintained mean and variance (Welford update on push, exact
// downdate on eviction). Push is O(1); no pass over the window is needed to
// read the moments.
type RollingWindow struct {
	values   []float64
	capacity int
	head     int
	size     int
	mean     float64
	m2       float64
}

// NewRollingWindow creates a window holding at most capacity values.
func NewRollingWindow(capacity int) (*RollingWindow, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("rolling window capacity must be positive, got %d", capacity)
	}
	return &RollingWindow{
		values:   make([]float64, capacity),
		capacity: capacity,
	}, nil
}

// Push appends v, evicting the oldest value when the window is full.
func (w *RollingWindow) Push(v float64) {
	if w.size == w.capacity {
		w.evict()
	}
	idx := (w.head + w.size) % w.capacity
	w.values[idx] = v
	w.size++

	delta := v - w.mean
	w.mean += delta / float64(w.size)
	w.m2 += delta * (v - w.mean)
}

func (w *RollingWindow) evict() {
	old := w.values[w.head]
	w.head = (w.head + 1) % w.capacity
	w.size--

	if w.size == 0 {
		w.mean = 0
		w.m2 = 0
		return
	}
	delta := old - w.mean
	w.mean -= delta / float64(w.size)
	w.m2 -= delta * (old - w.mean)
	if w.m2 < 0 {
		// guard against accumulated floating point drift
		w.m2 = 0
	}
}

// Len returns the number of values currently held.
func (w *RollingWindow) Len() int { return w.size }

// Full reports whether the window has reached capacity.
func (w *RollingWindow) Full() bool { return w.size == w.capacity }

// Mean returns the arithmetic mean, or NaN for an empty window.
func (w *RollingWindow) Mean() float64 {
	if w.size == 0 {
		return math.NaN()
	}
	return w.mean
}

// Variance returns the sample variance (n−1 denominator), or NaN when fewer
// than two values are held.
func (w *RollingWindow) Variance() float64 {
	if w.size < 2 {
		return math.NaN()
	}
	return w.m2 / float64(w.size-1)
}

// Std returns the sample standard deviation, or NaN when fewer than two
// values are held.
func (w *RollingWindow) Std() float64 {
	v := w.Variance()
	if math.IsNaN(v) {
		return v
	}
	return math.Sqrt(v)
}

// Last returns the most recent value, or NaN for an empty window.
func (w *RollingWindow) Last() float64 {
	if w.size == 0 {
		return math.NaN()
	}
	return w.values[(w.head+w.size-1)%w.capacity]
}

// Values returns a copy of the window contents, oldest first.
func (w *RollingWindow) Values() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.values[(w.head+i)%w.capacity]
	}
	return out
}
