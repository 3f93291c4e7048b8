package strategy

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/amirphl/pairs-trader/internal/analytics"
	"github.com/amirphl/pairs-trader/internal/metrics"
)

// State is the pair position held by the signal state machine.
type State string

const (
	StateFlat        State = "FLAT"
	StateLongSpread  State = "LONG_SPREAD"  // long leg2, short ratio*leg1
	StateShortSpread State = "SHORT_SPREAD" // short leg2, long ratio*leg1
)

// ErrInvalidThresholds is returned by NewStateMachine when the threshold
// ordering 0 <= exit < entry < stop does not hold.
var ErrInvalidThresholds = errors.New("thresholds must satisfy 0 <= exit < entry < stop")

// Transition reasons.
const (
	ReasonEntry    = "entry"
	ReasonExit     = "exit"
	ReasonStopLoss = "stop_loss"
	ReasonNoSignal = "no_signal" // score turned NaN while in a position
)

// Transition records one state change and the score that caused it. Basis
// carries whatever per-bar value the caller wants attached to the fill,
// typically the spread level at the transition bar.
type Transition struct {
	Pair      analytics.Pair `json:"pair"`
	From      State          `json:"from"`
	To        State          `json:"to"`
	Score     float64        `json:"score"`
	Basis     float64        `json:"basis"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
}

// StateMachine converts a per-bar signal score into position states with
// hysteresis: entries need |score| >= entry, exits need the score to decay
// inside exit, and |score| >= stop force-closes the position. Stop-loss is
// evaluated before the ordinary exit rule. A position never flips directly
// to the opposite side; the machine goes flat first and may re-enter on a
// later bar. A NaN score closes any open position and never opens one.
type StateMachine struct {
	pair  analytics.Pair
	entry float64
	exit  float64
	stop  float64

	mu      sync.RWMutex
	state   State
	history []Transition
}

// NewStateMachine creates a machine in StateFlat. Thresholds are absolute
// score magnitudes and must satisfy 0 <= exit < entry < stop.
func NewStateMachine(pair analytics.Pair, entry, exit, stop float64) (*StateMachine, error) {
	if math.IsNaN(entry) || math.IsNaN(exit) || math.IsNaN(stop) {
		return nil, ErrInvalidThresholds
	}
	if exit < 0 || exit >= entry || entry >= stop {
		return nil, ErrInvalidThresholds
	}
	return &StateMachine{
		pair:  pair,
		entry: entry,
		exit:  exit,
		stop:  stop,
		state: StateFlat,
	}, nil
}

// State returns the current position state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// History returns a copy of all recorded transitions, oldest first.
func (sm *StateMachine) History() []Transition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]Transition, len(sm.history))
	copy(out, sm.history)
	return out
}

// Reset forces the machine flat and clears the transition history.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = StateFlat
	sm.history = nil
}

// Step feeds one bar's score into the machine. It returns the transition
// and true when the state changed. At most one transition happens per step,
// so a score jumping straight through zero to the opposite entry band
// closes the open position on this step and can only re-enter on the next.
func (sm *StateMachine) Step(score, basis float64, at time.Time) (Transition, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch sm.state {
	case StateLongSpread, StateShortSpread:
		if math.IsNaN(score) {
			return sm.transition(StateFlat, score, basis, ReasonNoSignal, at), true
		}
		if math.Abs(score) >= sm.stop {
			return sm.transition(StateFlat, score, basis, ReasonStopLoss, at), true
		}
		if sm.state == StateLongSpread && score >= -sm.exit {
			return sm.transition(StateFlat, score, basis, ReasonExit, at), true
		}
		if sm.state == StateShortSpread && score <= sm.exit {
			return sm.transition(StateFlat, score, basis, ReasonExit, at), true
		}
	default: // StateFlat
		if math.IsNaN(score) {
			return Transition{}, false
		}
		if score <= -sm.entry {
			return sm.transition(StateLongSpread, score, basis, ReasonEntry, at), true
		}
		if score >= sm.entry {
			return sm.transition(StateShortSpread, score, basis, ReasonEntry, at), true
		}
	}
	return Transition{}, false
}

func (sm *StateMachine) transition(to State, score, basis float64, reason string, at time.Time) Transition {
	tr := Transition{
		Pair:      sm.pair,
		From:      sm.state,
		To:        to,
		Score:     score,
		Basis:     basis,
		Reason:    reason,
		Timestamp: at,
	}
	sm.state = to
	sm.history = append(sm.history, tr)
	metrics.SignalTransitions.WithLabelValues(sm.pair.String(), string(to)).Inc()
	return tr
}
