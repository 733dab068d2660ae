package ptt

import (
	"fmt"
	"sync"
	"time"
)

// sessionEpsilon pads the blocking wait beyond max_duration so the
// controller's own timeout path always wins the race against the session's
// external watchdog.
const sessionEpsilon = 2 * time.Second

// Result is what one completed recording episode produced.
type Result struct {
	PCM            []int16
	SpeechDetected bool
	Cancelled      bool
	CancelReason   string
	Err            error
}

// RecordingSession bridges Controller's event-driven completion into a
// single blocking call, the shape a worker thread actually wants. It is a
// one-shot: RecordWithPTT consumes it and the session cannot be reused.
type RecordingSession struct {
	controller *Controller
	clock      Clock

	mu         sync.Mutex
	done       chan struct{}
	res        Result
	pendingErr error
}

// NewRecordingSession wires a fresh one-shot session onto an already
// constructed Controller. Controller.SetCallbacks is called by this
// constructor, so a Controller must not have its callbacks set elsewhere.
func NewRecordingSession(controller *Controller, clock Clock) *RecordingSession {
	if clock == nil {
		clock = RealClock()
	}
	s := &RecordingSession{
		controller: controller,
		clock:      clock,
		done:       make(chan struct{}),
	}
	controller.SetCallbacks(Callbacks{
		OnRecordingStop: func(pcm []int16, speechDetected bool) {
			s.complete(Result{PCM: pcm, SpeechDetected: speechDetected})
		},
		OnRecordingCancel: func(reason string) {
			res := Result{Cancelled: true, CancelReason: reason}
			if reason == "capture_error" {
				// The controller fires OnError just before this cancel;
				// attach it so the caller sees what killed the episode.
				s.mu.Lock()
				res.Err = s.pendingErr
				s.mu.Unlock()
			}
			s.complete(res)
		},
		OnError: func(err error) {
			// Not terminal by itself: the controller always follows a
			// terminal error with OnRecordingCancel("capture_error").
			// Hold it until that cancel arrives.
			s.mu.Lock()
			s.pendingErr = err
			s.mu.Unlock()
		},
	})
	return s
}

func (s *RecordingSession) complete(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return // already completed once; a one-shot fires at most once
	default:
	}
	s.res = res
	close(s.done)
}

// RecordWithPTT enables the controller, blocks until one recording episode
// completes (stop, cancel, timeout, or capture error), disables the
// controller, and returns the result. maxWait bounds how long this call
// will block even if the controller never reports completion (a defensive
// backstop; in practice the controller's own max_duration always fires
// first).
func (s *RecordingSession) RecordWithPTT(maxWait time.Duration) (Result, error) {
	if err := s.controller.Enable(); err != nil {
		return Result{}, fmt.Errorf("ptt: enable: %w", err)
	}

	timer := s.clock.NewTimer(maxWait + sessionEpsilon)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C():
		s.mu.Lock()
		s.res = Result{Err: ErrInternal}
		s.mu.Unlock()
	}

	s.controller.Disable()

	s.mu.Lock()
	res := s.res
	s.mu.Unlock()
	return res, nil
}
