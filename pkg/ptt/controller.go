package ptt

import (
	"fmt"
	"sync"
	"time"
)

const triggerChordID = "trigger"

// silenceTickMs is how often Controller samples the SilenceDetector in
// Hybrid mode. Audio frames themselves arrive at this cadence too (20ms),
// so the tick and frame delivery are naturally in step.
const silenceTickMs = 20

// Callbacks groups the four hooks Controller drives as it moves through a
// recording episode.
type Callbacks struct {
	OnRecordingStart  func()
	OnRecordingStop   func(pcm []int16, speechDetected bool)
	OnRecordingCancel func(reason string)
	OnError           func(err error)
}

// CaptureEngine is what Controller needs from the microphone side.
// *AudioCapture is the production implementation; tests substitute a fake
// so recording episodes never require a real input device.
type CaptureEngine interface {
	Start() error
	Stop() ([]int16, error)
	Discard() error
	Frames() <-chan AudioFrame
	ErrCh() <-chan error
	EnableTap()
	DisableTap()
}

// Controller is the single cooperative event loop tying KeyboardSource,
// AudioCapture, SilenceDetector, and StateMachine together. It owns exactly
// one goroutine (run) and is driven entirely by channel selects and the
// injected Clock's timers; all state machine mutation happens there.
type Controller struct {
	cfg     Config
	kb      KeyboardSource
	capture CaptureEngine
	silence *SilenceDetector
	sm      *StateMachine
	log     *EventLog
	clock   Clock
	logger  Logger

	mu        sync.Mutex
	cb        Callbacks
	sessionID string
	running   bool

	recordingAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewController validates cfg and wires the five components together. The
// caller owns kb/capture's lifecycle only indirectly: Enable/Disable start
// and stop them.
func NewController(cfg Config, kb KeyboardSource, capture CaptureEngine, silence *SilenceDetector, log *EventLog, clock Clock, logger Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ptt: invalid config: %w", err)
	}
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	if log == nil {
		log = NewEventLog(clock)
	}
	c := &Controller{
		cfg:     cfg,
		kb:      kb,
		capture: capture,
		silence: silence,
		sm:      NewStateMachine(),
		log:     log,
		clock:   clock,
		logger:  logger,
	}
	if err := kb.Register(triggerChordID, cfg.TriggerChord); err != nil {
		return nil, err
	}
	if err := kb.RegisterCancel(cfg.CancelKey); err != nil {
		return nil, err
	}
	return c, nil
}

// SetCallbacks installs the recording-episode hooks. Must be called before
// Enable.
func (c *Controller) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// State returns the controller's current PTTState.
func (c *Controller) State() PTTState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm.State()
}

// applyLocked runs one trigger through the state machine, recording a
// state_transition event on success. An illegal (state, trigger) pair is
// logged and dropped, never propagated. Caller holds c.mu.
func (c *Controller) applyLocked(trigger Trigger) bool {
	from := c.sm.State()
	to, ok := c.sm.Apply(trigger)
	if !ok {
		c.logger.Debug("dropping event", "error", errInvalidTransition,
			"from", string(from), "trigger", string(trigger))
		return false
	}
	c.log.Log(c.sessionID, EventStateTransition, map[string]interface{}{
		"from":    string(from),
		"to":      string(to),
		"trigger": string(trigger),
	})
	return true
}

// disableSilenceDetection reports whether this Controller was built without
// a SilenceDetector, the coercion input to Config.EffectiveMode.
func (c *Controller) disableSilenceDetection() bool { return c.silence == nil }

// mode is the Controller's effective mode for this run.
func (c *Controller) mode() Mode { return c.cfg.EffectiveMode(c.disableSilenceDetection()) }

// Enable starts the keyboard source and the event loop, entering
// WaitingForKey. Enabling twice is a no-op (idempotent).
func (c *Controller) Enable() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if err := c.kb.Start(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.sessionID = NewSessionID()
	c.applyLocked(TriggerEnable)
	c.log.Log(c.sessionID, EventEnable, nil)
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	go c.run()
	return nil
}

// Disable cancels any in-flight recording (reason "disabled"), stops the
// keyboard source, and returns to Idle. Safe to call from Idle (no-op).
func (c *Controller) Disable() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
	c.kb.Stop()
}

// run is the single cooperative loop: it awaits the KeyboardSource channel,
// the capture error channel, the audio tap (Hybrid only), and whichever
// Clock timer is currently armed (T_min, max_duration, or a 20ms silence
// tick).
func (c *Controller) run() {
	defer close(c.doneCh)

	var minTimer, maxTimer, silenceTicker Timer
	defer func() {
		stopTimer(minTimer)
		stopTimer(maxTimer)
		stopTimer(silenceTicker)
	}()

	for {
		var minCh, maxCh, tickCh <-chan time.Time
		if minTimer != nil {
			minCh = minTimer.C()
		}
		if maxTimer != nil {
			maxCh = maxTimer.C()
		}
		if silenceTicker != nil {
			tickCh = silenceTicker.C()
		}

		var audioFrames <-chan AudioFrame
		if c.mode() == ModeHybrid && c.State() == StateRecording {
			audioFrames = c.capture.Frames()
		}

		select {
		case <-c.stopCh:
			c.forceDisable()
			return

		case ev, ok := <-c.kb.Events():
			if !ok {
				return
			}
			minTimer, maxTimer, silenceTicker = c.handleKeyEvent(ev, minTimer, maxTimer, silenceTicker)

		case err, ok := <-c.capture.ErrCh():
			if ok && err != nil {
				maxTimer = c.handleCaptureError(err, maxTimer)
			}

		case <-minCh:
			maxTimer, silenceTicker = c.handleMinElapsed(maxTimer, silenceTicker)
			minTimer = nil

		case <-maxCh:
			silenceTicker = c.handleTimeout(silenceTicker)
			maxTimer = nil

		case <-tickCh:
			silenceTicker = nil
			if c.handleSilenceTick() {
				silenceTicker = c.clock.NewTimer(silenceTickMs * time.Millisecond)
			}

		case frame, ok := <-audioFrames:
			if ok {
				c.silence.Push(frame)
			}
		}
	}
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}

// forceDisable runs the Disable-while-active side effects from inside the
// loop goroutine itself, used when Disable() closes stopCh.
func (c *Controller) forceDisable() {
	c.mu.Lock()
	state := c.sm.State()
	if state == StateIdle {
		c.mu.Unlock()
		return
	}
	wasRecording := state == StateRecording
	c.applyLocked(TriggerDisable)
	c.log.Log(c.sessionID, EventDisable, nil)
	cb := c.cb
	c.mu.Unlock()

	if wasRecording {
		c.capture.Discard()
		c.capture.DisableTap()
		if cb.OnRecordingCancel != nil {
			cb.OnRecordingCancel("disabled")
		}
	}
}

// handleKeyEvent dispatches one raw or derived keyboard event and returns
// the (possibly rearmed) timer set.
func (c *Controller) handleKeyEvent(ev AnyKeyEvent, minTimer, maxTimer, silenceTicker Timer) (Timer, Timer, Timer) {
	if ev.Raw != nil {
		kind := EventKeyDown
		if ev.Raw.Kind == KeyUp {
			kind = EventKeyUp
		}
		c.log.Log(c.sessionID, kind, map[string]interface{}{"token": string(ev.Raw.Token)})
		return minTimer, maxTimer, silenceTicker
	}
	if ev.Derived == nil {
		return minTimer, maxTimer, silenceTicker
	}

	switch ev.Derived.Kind {
	case DerivedChordMatch:
		return c.handleChordMatch(minTimer, maxTimer, silenceTicker)
	case DerivedChordRelease:
		return c.handleChordRelease(minTimer, maxTimer, silenceTicker)
	case DerivedCancelPressed:
		return c.handleCancelPressed(minTimer, maxTimer, silenceTicker)
	default:
		return minTimer, maxTimer, silenceTicker
	}
}

func (c *Controller) handleChordMatch(minTimer, maxTimer, silenceTicker Timer) (Timer, Timer, Timer) {
	c.mu.Lock()
	state := c.sm.State()
	c.log.Log(c.sessionID, EventChordMatch, nil)

	switch state {
	case StateWaitingForKey:
		c.applyLocked(TriggerChordMatch)
		if c.mode() == ModeToggle {
			maxTimer, silenceTicker = c.beginRecordingLocked(maxTimer, silenceTicker)
			c.mu.Unlock()
			return nil, maxTimer, silenceTicker
		}
		c.mu.Unlock()
		return c.clock.NewTimer(c.cfg.MinDuration), maxTimer, silenceTicker

	case StateRecording:
		if c.mode() != ModeToggle {
			c.mu.Unlock()
			return minTimer, maxTimer, silenceTicker
		}
		elapsed := c.clock.Now().Sub(c.recordingAt)
		if elapsed < c.cfg.MinDuration {
			// Second press arrived before min_duration: ignored as a stop
			// trigger; the recording continues.
			c.mu.Unlock()
			return minTimer, maxTimer, silenceTicker
		}
		c.applyLocked(TriggerSecondTogglePress)
		c.mu.Unlock()
		stopTimer(minTimer)
		stopTimer(maxTimer)
		stopTimer(silenceTicker)
		c.finishRecording()
		return nil, nil, nil

	default:
		c.mu.Unlock()
		return minTimer, maxTimer, silenceTicker
	}
}

func (c *Controller) handleChordRelease(minTimer, maxTimer, silenceTicker Timer) (Timer, Timer, Timer) {
	c.mu.Lock()
	state := c.sm.State()
	c.log.Log(c.sessionID, EventChordRelease, nil)

	switch state {
	case StateKeyPressed:
		// Released before the min_duration timer fired.
		c.applyLocked(TriggerChordReleaseBeforeMin)
		c.mu.Unlock()
		stopTimer(minTimer)
		return nil, maxTimer, silenceTicker

	case StateRecording:
		if c.mode() == ModeToggle {
			c.mu.Unlock()
			return minTimer, maxTimer, silenceTicker
		}
		// Hold and Hybrid only enter Recording once the chord has been held
		// for min_duration (the T_min timer), so any release seen here is
		// already past the min_duration gate.
		c.applyLocked(TriggerChordReleaseAfterMin)
		c.mu.Unlock()
		stopTimer(minTimer)
		stopTimer(maxTimer)
		stopTimer(silenceTicker)
		c.finishRecording()
		return nil, nil, nil

	default:
		c.mu.Unlock()
		return minTimer, maxTimer, silenceTicker
	}
}

func (c *Controller) handleCancelPressed(minTimer, maxTimer, silenceTicker Timer) (Timer, Timer, Timer) {
	c.mu.Lock()
	state := c.sm.State()
	c.log.Log(c.sessionID, EventCancelPressed, nil)

	switch state {
	case StateRecording:
		c.applyLocked(TriggerCancelPressed)
		cb := c.cb
		c.mu.Unlock()
		stopTimer(minTimer)
		stopTimer(maxTimer)
		stopTimer(silenceTicker)
		c.capture.Discard()
		c.capture.DisableTap()
		c.log.Log(c.sessionID, EventRecordingCancelled, map[string]interface{}{"reason": "user_cancel"})
		c.finalizeAndReturnIdle()
		if cb.OnRecordingCancel != nil {
			cb.OnRecordingCancel("user_cancel")
		}
		return nil, nil, nil

	case StateKeyPressed:
		// Cancel while KeyPressed goes back to WaitingForKey: no buffer,
		// no cancel callback.
		c.applyLocked(TriggerCancelPressed)
		c.mu.Unlock()
		stopTimer(minTimer)
		return nil, maxTimer, silenceTicker

	case StateWaitingForKey:
		// Already the resting state; cancel here is a pure no-op.
		c.mu.Unlock()
		return minTimer, maxTimer, silenceTicker

	default:
		c.mu.Unlock()
		return minTimer, maxTimer, silenceTicker
	}
}

// beginRecordingLocked transitions KeyPressed->Recording and starts the
// capture device. Caller holds c.mu; beginRecordingLocked returns with it
// still held (it releases/reacquires only around callback invocations and
// the capture_error side effects).
func (c *Controller) beginRecordingLocked(maxTimer, silenceTicker Timer) (Timer, Timer) {
	c.applyLocked(TriggerStartRecording)
	c.recordingAt = c.clock.Now()
	mode := c.mode()
	cb := c.cb
	sessionID := c.sessionID

	if err := c.capture.Start(); err != nil {
		c.applyLocked(TriggerCaptureError)
		c.log.Log(sessionID, EventError, map[string]interface{}{"error": err.Error()})
		c.log.Log(sessionID, EventRecordingCancelled, map[string]interface{}{"reason": "capture_error"})
		c.mu.Unlock()
		if cb.OnError != nil {
			cb.OnError(err)
		}
		c.finalizeAndReturnIdle()
		if cb.OnRecordingCancel != nil {
			cb.OnRecordingCancel("capture_error")
		}
		c.mu.Lock()
		return nil, nil
	}

	c.log.Log(sessionID, EventRecordingStarted, nil)
	if mode == ModeHybrid {
		c.silence.Reset()
		c.capture.EnableTap()
	}

	if cb.OnRecordingStart != nil {
		c.mu.Unlock()
		cb.OnRecordingStart()
		c.mu.Lock()
	}

	if c.cfg.MaxDuration > 0 {
		maxTimer = c.clock.NewTimer(c.cfg.MaxDuration)
	}
	if mode == ModeHybrid {
		silenceTicker = c.clock.NewTimer(silenceTickMs * time.Millisecond)
	}
	return maxTimer, silenceTicker
}

func (c *Controller) handleMinElapsed(maxTimer, silenceTicker Timer) (Timer, Timer) {
	c.mu.Lock()
	if c.sm.State() != StateKeyPressed {
		c.mu.Unlock()
		return maxTimer, silenceTicker
	}
	maxTimer, silenceTicker = c.beginRecordingLocked(maxTimer, silenceTicker)
	c.mu.Unlock()
	return maxTimer, silenceTicker
}

func (c *Controller) handleTimeout(silenceTicker Timer) Timer {
	c.mu.Lock()
	if c.sm.State() != StateRecording {
		c.mu.Unlock()
		return silenceTicker
	}
	c.applyLocked(TriggerTimeout)
	c.log.Log(c.sessionID, EventTimeout, nil)
	cb := c.cb
	c.mu.Unlock()

	stopTimer(silenceTicker)
	c.capture.Discard()
	c.capture.DisableTap()
	c.log.Log(c.sessionID, EventRecordingCancelled, map[string]interface{}{"reason": "timeout"})
	c.finalizeAndReturnIdle()
	if cb.OnRecordingCancel != nil {
		cb.OnRecordingCancel("timeout")
	}
	return nil
}

// handleSilenceTick samples the SilenceDetector once. The returned bool
// tells run whether to re-arm the 20ms tick (true while still Recording in
// Hybrid mode; false once the episode is over, so the tick stops firing).
func (c *Controller) handleSilenceTick() bool {
	c.mu.Lock()
	if c.sm.State() != StateRecording || c.mode() != ModeHybrid {
		c.mu.Unlock()
		return false
	}
	elapsed := c.clock.Now().Sub(c.recordingAt)
	thresholdMs := uint32(c.cfg.SilenceThreshold.Milliseconds())
	exceeded := elapsed >= c.cfg.MinDuration && c.silence.SilenceExceeded(thresholdMs)
	if !exceeded {
		c.mu.Unlock()
		return true
	}
	c.applyLocked(TriggerSilenceExceeded)
	c.mu.Unlock()
	c.log.Log(c.sessionID, EventSilenceDetected, nil)
	c.finishRecording()
	return false
}

// handleCaptureError handles a device error observed while Recording: one
// bounded reopen attempt per backoff step, letting the episode continue
// unannounced if a reopen succeeds. Only once the schedule is exhausted
// does the episode turn terminal, with OnError fired ahead of
// OnRecordingCancel("capture_error").
func (c *Controller) handleCaptureError(deviceErr error, maxTimer Timer) Timer {
	c.mu.Lock()
	if c.sm.State() != StateRecording {
		c.mu.Unlock()
		return maxTimer
	}
	cb := c.cb
	sessionID := c.sessionID
	c.mu.Unlock()

	stopTimer(maxTimer)
	c.log.Log(sessionID, EventError, map[string]interface{}{"error": deviceErr.Error()})

	if err := c.reopenCapture(); err == nil {
		c.mu.Lock()
		var newMax Timer
		if c.cfg.MaxDuration > 0 {
			newMax = c.clock.NewTimer(c.cfg.MaxDuration)
		}
		c.mu.Unlock()
		return newMax
	}

	c.mu.Lock()
	c.applyLocked(TriggerCaptureError)
	c.mu.Unlock()
	c.capture.Discard()
	c.capture.DisableTap()
	c.log.Log(sessionID, EventRecordingCancelled, map[string]interface{}{"reason": "capture_error"})
	c.finalizeAndReturnIdle()
	if cb.OnError != nil {
		cb.OnError(deviceErr)
	}
	if cb.OnRecordingCancel != nil {
		cb.OnRecordingCancel("capture_error")
	}
	return nil
}

// reopenCapture walks the backoff schedule (50ms, 150ms, 450ms) trying to
// reopen the device, waiting on the injected clock so tests stay
// deterministic. Returns nil on the first successful reopen.
func (c *Controller) reopenCapture() error {
	var lastErr error
	for _, d := range backoffSchedule {
		t := c.clock.NewTimer(d)
		<-t.C()
		if err := c.capture.Start(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

// finishRecording stops capture, fires OnRecordingStop, and advances the
// state machine through RecordingStopped -> Processing -> Idle ->
// WaitingForKey so the controller is ready for the next episode.
func (c *Controller) finishRecording() {
	pcm, err := c.capture.Stop()
	c.capture.DisableTap()

	c.mu.Lock()
	// A normally-stopped episode counts as speech; in Hybrid
	// mode the detector refines that to "speech was actually confirmed at
	// least once this episode".
	speechDetected := true
	if c.mode() == ModeHybrid && c.silence != nil {
		speechDetected = c.silence.IsSpeaking()
	}
	cb := c.cb
	c.mu.Unlock()

	if err != nil {
		// The episode still completes normally via OnRecordingStop; a
		// trailing device error on the final flush is a log-only
		// diagnostic, never a second terminal signal.
		c.log.Log(c.sessionID, EventError, map[string]interface{}{"error": err.Error()})
	}

	c.log.Log(c.sessionID, EventRecordingStopped, map[string]interface{}{"samples": len(pcm)})
	c.finalizeAndReturnIdle()

	if cb.OnRecordingStop != nil {
		cb.OnRecordingStop(pcm, speechDetected)
	}
}

// finalizeAndReturnIdle drives {RecordingStopped,RecordingCancelled} ->
// Processing -> Idle -> WaitingForKey, the housekeeping half of every
// recording episode's end. Processing exists so episode wrap-up is itself
// observable in the event log.
func (c *Controller) finalizeAndReturnIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(TriggerFinalize)
	c.applyLocked(TriggerComplete)
	if c.running {
		c.applyLocked(TriggerEnable)
	}
}
