// Package tick
package tick

import (
	"errors"
	"math"
	"time"
)

// Tick represents a single normalized trade event delivered by the feed.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	ErrMalformedTick  = errors.New("tick price and quantity must be finite and positive")
	ErrOutOfOrderTick = errors.New("tick timestamp is older than the last accepted tick")
)

// Validate checks the tick's invariants. Malformed ticks never reach aggregation.
func (t Tick) Validate() error {
	if t.Symbol == "" {
		return errors.New("tick symbol cannot be empty")
	}
	if t.Timestamp.IsZero() {
		return errors.New("tick timestamp is zero")
	}
	if !isFinitePositive(t.Price) || !isFinitePositive(t.Quantity) {
		return ErrMalformedTick
	}
	return nil
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
