package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/pairs-trader/internal/analytics"
)

var testPair = analytics.Pair{Symbol1: "BTCUSDT", Symbol2: "ETHUSDT"}

func newTestMachine(t *testing.T, entry, exit, stop float64) *StateMachine {
	t.Helper()
	sm, err := NewStateMachine(testPair, entry, exit, stop)
	require.NoError(t, err)
	return sm
}

func TestNewStateMachine_ThresholdOrdering(t *testing.T) {
	cases := []struct {
		name              string
		entry, exit, stop float64
		ok                bool
	}{
		{"valid", 2.0, 0.5, 3.5, true},
		{"zero exit is allowed", 2.0, 0.0, 3.5, true},
		{"negative exit", 2.0, -0.1, 3.5, false},
		{"exit equals entry", 2.0, 2.0, 3.5, false},
		{"exit above entry", 2.0, 2.5, 3.5, false},
		{"stop equals entry", 2.0, 0.5, 2.0, false},
		{"stop below entry", 2.0, 0.5, 1.5, false},
		{"nan entry", math.NaN(), 0.5, 3.5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sm, err := NewStateMachine(testPair, tc.entry, tc.exit, tc.stop)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, StateFlat, sm.State())
			} else {
				assert.ErrorIs(t, err, ErrInvalidThresholds)
			}
		})
	}
}

func TestStateMachine_HysteresisCycle(t *testing.T) {
	sm := newTestMachine(t, 2.0, 0.5, 4.0)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	scores := []float64{0, 1, 2.1, 1.0, 0.4, -0.1}
	wantStates := []State{StateFlat, StateFlat, StateShortSpread, StateShortSpread, StateFlat, StateFlat}
	wantChanged := []bool{false, false, true, false, true, false}

	for i, score := range scores {
		tr, changed := sm.Step(score, score, at.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, wantChanged[i], changed, "step %d", i)
		assert.Equal(t, wantStates[i], sm.State(), "step %d", i)
		if changed && wantStates[i] == StateShortSpread {
			assert.Equal(t, ReasonEntry, tr.Reason)
		}
	}

	history := sm.History()
	require.Len(t, history, 2)
	assert.Equal(t, StateShortSpread, history[0].To)
	assert.Equal(t, StateFlat, history[1].To)
	assert.Equal(t, ReasonExit, history[1].Reason)
}

func TestStateMachine_LongSide(t *testing.T) {
	sm := newTestMachine(t, 2.0, 0.5, 4.0)
	at := time.Now().UTC()

	tr, changed := sm.Step(-2.3, -1.5, at)
	require.True(t, changed)
	assert.Equal(t, StateLongSpread, tr.To)
	assert.Equal(t, ReasonEntry, tr.Reason)

	// Still below the exit band: hold.
	_, changed = sm.Step(-1.2, -0.8, at.Add(time.Minute))
	assert.False(t, changed)
	assert.Equal(t, StateLongSpread, sm.State())

	// Decayed inside the exit band: close.
	tr, changed = sm.Step(-0.5, -0.3, at.Add(2*time.Minute))
	require.True(t, changed)
	assert.Equal(t, StateFlat, tr.To)
	assert.Equal(t, ReasonExit, tr.Reason)
}

func TestStateMachine_StopLossBeforeExit(t *testing.T) {
	sm := newTestMachine(t, 2.0, 0.5, 4.0)
	at := time.Now().UTC()

	_, changed := sm.Step(2.5, 1.0, at)
	require.True(t, changed)
	require.Equal(t, StateShortSpread, sm.State())

	// Spread blew out past the stop: force flat with the stop reason.
	tr, changed := sm.Step(4.2, 2.0, at.Add(time.Minute))
	require.True(t, changed)
	assert.Equal(t, StateFlat, tr.To)
	assert.Equal(t, ReasonStopLoss, tr.Reason)
}

func TestStateMachine_StopLossOnOppositeSide(t *testing.T) {
	sm := newTestMachine(t, 2.0, 0.5, 4.0)
	at := time.Now().UTC()

	_, changed := sm.Step(-2.5, -1.0, at)
	require.True(t, changed)
	require.Equal(t, StateLongSpread, sm.State())

	tr, changed := sm.Step(-4.5, -2.0, at.Add(time.Minute))
	require.True(t, changed)
	assert.Equal(t, ReasonStopLoss, tr.Reason)
	assert.Equal(t, StateFlat, sm.State())
}

func TestStateMachine_NoDirectReversal(t *testing.T) {
	sm := newTestMachine(t, 2.0, 0.5, 4.0)
	at := time.Now().UTC()

	_, changed := sm.Step(2.5, 1.0, at)
	require.True(t, changed)
	require.Equal(t, StateShortSpread, sm.State())

	// The score jumps straight through to the opposite entry band. Only the
	// close happens on this bar.
	tr, changed := sm.Step(-2.5, -1.0, at.Add(time.Minute))
	require.True(t, changed)
	assert.Equal(t, StateFlat, tr.To)
	assert.Equal(t, ReasonExit, tr.Reason)

	// The new position opens on the following bar.
	tr, changed = sm.Step(-2.5, -1.0, at.Add(2*time.Minute))
	require.True(t, changed)
	assert.Equal(t, StateLongSpread, tr.To)

	history := sm.History()
	require.Len(t, history, 3)
	assert.Equal(t, StateFlat, history[1].To)
	assert.Equal(t, StateLongSpread, history[2].To)
}

func TestStateMachine_NaNForcesFlat(t *testing.T) {
	sm := newTestMachine(t, 2.0, 0.5, 4.0)
	at := time.Now().UTC()

	// NaN while flat is a no-op.
	_, changed := sm.Step(math.NaN(), 0, at)
	assert.False(t, changed)
	assert.Equal(t, StateFlat, sm.State())

	_, changed = sm.Step(2.5, 1.0, at.Add(time.Minute))
	require.True(t, changed)

	// NaN while positioned closes the position.
	tr, changed := sm.Step(math.NaN(), 0, at.Add(2*time.Minute))
	require.True(t, changed)
	assert.Equal(t, StateFlat, tr.To)
	assert.Equal(t, ReasonNoSignal, tr.Reason)
}

func TestStateMachine_Reset(t *testing.T) {
	sm := newTestMachine(t, 2.0, 0.5, 4.0)
	at := time.Now().UTC()

	_, changed := sm.Step(2.5, 1.0, at)
	require.True(t, changed)

	sm.Reset()
	assert.Equal(t, StateFlat, sm.State())
	assert.Empty(t, sm.History())
}
