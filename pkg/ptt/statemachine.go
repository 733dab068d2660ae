package ptt

// transitionKey is the (from, trigger) pair the legal-transition table is
// keyed on.
type transitionKey struct {
	from    PTTState
	trigger Trigger
}

// legalTransitions is the single source of truth for the lifecycle. Any
// (state, trigger) pair absent from this table is an invalid transition.
var legalTransitions = map[transitionKey]PTTState{
	{StateIdle, TriggerEnable}: StateWaitingForKey,

	{StateWaitingForKey, TriggerChordMatch}: StateKeyPressed,

	{StateKeyPressed, TriggerStartRecording}:        StateRecording,
	{StateKeyPressed, TriggerChordReleaseBeforeMin}: StateWaitingForKey,
	{StateKeyPressed, TriggerCancelPressed}:         StateWaitingForKey,

	{StateRecording, TriggerChordReleaseAfterMin}: StateRecordingStopped,
	{StateRecording, TriggerSecondTogglePress}:     StateRecordingStopped,
	{StateRecording, TriggerSilenceExceeded}:        StateRecordingStopped,
	{StateRecording, TriggerCancelPressed}:          StateRecordingCancelled,
	{StateRecording, TriggerTimeout}:                StateRecordingCancelled,
	{StateRecording, TriggerCaptureError}:            StateRecordingCancelled,

	{StateRecordingStopped, TriggerFinalize}:   StateProcessing,
	{StateRecordingCancelled, TriggerFinalize}: StateProcessing,

	{StateProcessing, TriggerComplete}: StateIdle,

	// "Any active -> Idle" on disable. Idle itself has no active recording
	// to cancel, so disable() from Idle is a no-op handled by the caller,
	// not a table entry (prevents Idle -> Idle from looking like a real
	// transition in the event log).
	{StateWaitingForKey, TriggerDisable}:      StateIdle,
	{StateKeyPressed, TriggerDisable}:         StateIdle,
	{StateRecording, TriggerDisable}:          StateIdle,
	{StateRecordingStopped, TriggerDisable}:   StateIdle,
	{StateRecordingCancelled, TriggerDisable}: StateIdle,
	{StateProcessing, TriggerDisable}:         StateIdle,
}

// StateMachine is a thin dispatcher over the static transition table. It
// holds no side-effect logic; Controller owns side effects.
type StateMachine struct {
	state PTTState
}

// NewStateMachine starts in Idle, the only legal initial state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// State returns the current state.
func (m *StateMachine) State() PTTState { return m.state }

// Apply looks up (current state, trigger) in the legal-transition table. On
// a legal transition it mutates state and returns (newState, true). On an
// illegal one it leaves state unchanged and returns (currentState, false);
// the caller is expected to log and drop the event, never propagate an
// error.
func (m *StateMachine) Apply(trigger Trigger) (PTTState, bool) {
	next, ok := legalTransitions[transitionKey{m.state, trigger}]
	if !ok {
		return m.state, false
	}
	m.state = next
	return next, true
}

// CanApply reports whether trigger is legal from the current state without
// mutating it.
func (m *StateMachine) CanApply(trigger Trigger) bool {
	_, ok := legalTransitions[transitionKey{m.state, trigger}]
	return ok
}
