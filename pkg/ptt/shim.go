package ptt

import "time"

// RecorderFunc is the common shape both the PTT path and an external
// "auto-VAD" collaborator implement: block until one utterance is captured
// and return its PCM plus whether speech was detected.
type RecorderFunc func() (pcm []int16, speechDetected bool, err error)

// SessionFactory mints a fresh one-shot RecordingSession per recording
// call. RecordingSessions are never reused, so the shim needs a factory
// rather than a single instance.
type SessionFactory func() *RecordingSession

// FallbackShim routes a single "record one utterance" call between the PTT
// subsystem and an injected external recorder: if PTT is disabled, or if
// enabling it fails, fall back to the external recorder exactly once
// rather than surface the failure to the caller.
type FallbackShim struct {
	pttEnabled bool
	newSession SessionFactory
	maxWait    time.Duration
	external   RecorderFunc
	logger     Logger
}

// NewFallbackShim builds a shim that prefers the PTT path when pttEnabled
// is true, falling back to external otherwise or on a PTT failure.
// external may be nil only if pttEnabled is true and the caller accepts
// that a PTT failure then simply returns its error.
func NewFallbackShim(pttEnabled bool, newSession SessionFactory, maxWait time.Duration, external RecorderFunc, logger Logger) *FallbackShim {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &FallbackShim{
		pttEnabled: pttEnabled,
		newSession: newSession,
		maxWait:    maxWait,
		external:   external,
		logger:     logger,
	}
}

// Record runs one capture episode through whichever path is active,
// retrying once via the external recorder if the PTT path errors.
func (f *FallbackShim) Record() (pcm []int16, speechDetected bool, err error) {
	if !f.pttEnabled {
		if f.external == nil {
			return nil, false, ErrUnsupported
		}
		return f.external()
	}

	session := f.newSession()
	res, err := session.RecordWithPTT(f.maxWait)
	if res.Cancelled {
		// The turn is already consumed: a user cancel, timeout, or
		// mid-recording capture error all end in a cancelled episode, and
		// re-recording it with the external recorder would capture a second
		// turn the user never initiated.
		return nil, false, nil
	}
	if err == nil && res.Err == nil {
		return res.PCM, res.SpeechDetected, nil
	}

	f.logger.Warn("ptt recording failed, falling back to external recorder",
		"err", err, "result_err", res.Err)

	if f.external == nil {
		if err != nil {
			return nil, false, err
		}
		return nil, false, res.Err
	}
	return f.external()
}
