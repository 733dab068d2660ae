package ptt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var allTriggers = []Trigger{
	TriggerEnable, TriggerDisable, TriggerChordMatch, TriggerStartRecording,
	TriggerChordReleaseBeforeMin, TriggerChordReleaseAfterMin, TriggerSecondTogglePress,
	TriggerSilenceExceeded, TriggerCancelPressed, TriggerTimeout, TriggerCaptureError,
	TriggerFinalize, TriggerComplete,
}

// TestStateMachineNeverSkipsAStateUnderRandomTriggers checks the
// no-state-skipping invariant: every reachable state, reached by any
// sequence of triggers, is one that appears somewhere on the right-hand
// side of legalTransitions - there is no way to land on an undeclared state.
func TestStateMachineNeverSkipsAStateUnderRandomTriggers(t *testing.T) {
	reachable := map[PTTState]bool{}
	for _, to := range legalTransitions {
		reachable[to] = true
	}
	reachable[StateIdle] = true

	rapid.Check(t, func(t *rapid.T) {
		sm := NewStateMachine()
		n := rapid.IntRange(0, 30).Draw(t, "steps")
		for i := 0; i < n; i++ {
			trig := allTriggers[rapid.IntRange(0, len(allTriggers)-1).Draw(t, "trigger_idx")]
			sm.Apply(trig)
			assert.Truef(t, reachable[sm.State()], "landed on unreachable state %s", sm.State())
		}
	})
}

// TestStateMachineIdempotentUnderDisable checks the idempotence property:
// calling disable repeatedly from Idle, or repeatedly once already Idle,
// never leaves the machine anywhere but Idle.
func TestStateMachineIdempotentUnderDisable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sm := NewStateMachine()
		n := rapid.IntRange(1, 10).Draw(t, "disables")
		for i := 0; i < n; i++ {
			sm.Apply(TriggerDisable)
		}
		assert.Equal(t, StateIdle, sm.State())
	})
}

// TestStateMachineOnlyDeclaredPairsTransition verifies every (state,
// trigger) combination either matches a declared table entry or is
// rejected - there is no hidden default-accept path.
func TestStateMachineOnlyDeclaredPairsTransition(t *testing.T) {
	allStates := []PTTState{
		StateIdle, StateWaitingForKey, StateKeyPressed, StateRecording,
		StateRecordingStopped, StateRecordingCancelled, StateProcessing,
	}
	for _, from := range allStates {
		for _, trig := range allTriggers {
			sm := &StateMachine{state: from}
			got, ok := sm.Apply(trig)
			want, wantOk := legalTransitions[transitionKey{from, trig}]
			assert.Equal(t, wantOk, ok, "from=%s trig=%s", from, trig)
			if wantOk {
				assert.Equal(t, want, got, "from=%s trig=%s", from, trig)
			} else {
				assert.Equal(t, from, got, "illegal transition must not mutate state: from=%s trig=%s", from, trig)
			}
		}
	}
}
