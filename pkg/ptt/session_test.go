package ptt

import (
	"testing"
	"time"
)

// record runs RecordWithPTT on a goroutine and returns a channel yielding
// its outcome, so the test goroutine stays free to drive keyboard events
// and the fake clock.
func record(s *RecordingSession, maxWait time.Duration) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		res, err := s.RecordWithPTT(maxWait)
		if err != nil {
			res.Err = err
		}
		out <- res
	}()
	return out
}

func TestRecordingSessionDeliversStoppedEpisode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeToggle
	capture := newFakeCapture([]int16{10, 20, 30})
	kb := newFakeKeyboardSource()
	clock := newFakeClock()
	c, err := NewController(cfg, kb, capture, nil, NewEventLog(clock), clock, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	session := NewRecordingSession(c, clock)

	outcome := record(session, cfg.MaxDuration)
	waitForState(t, c, StateWaitingForKey, time.Second)

	kb.pushChordMatch()
	waitForState(t, c, StateRecording, time.Second)
	clock.Advance(time.Second)
	kb.pushChordMatch()

	select {
	case res := <-outcome:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if len(res.PCM) != 3 || !res.SpeechDetected {
			t.Fatalf("expected (3 samples, speech=true), got (%d, %v)", len(res.PCM), res.SpeechDetected)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RecordWithPTT never returned")
	}

	if c.State() != StateIdle {
		t.Fatalf("session must disable the controller on return, state=%s", c.State())
	}
}

func TestRecordingSessionDeliversCancelledEpisode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeToggle
	capture := newFakeCapture([]int16{1})
	kb := newFakeKeyboardSource()
	clock := newFakeClock()
	c, err := NewController(cfg, kb, capture, nil, NewEventLog(clock), clock, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	session := NewRecordingSession(c, clock)

	outcome := record(session, cfg.MaxDuration)
	waitForState(t, c, StateWaitingForKey, time.Second)
	kb.pushChordMatch()
	waitForState(t, c, StateRecording, time.Second)
	kb.pushCancel()

	select {
	case res := <-outcome:
		if !res.Cancelled || res.CancelReason != "user_cancel" {
			t.Fatalf("expected cancelled(user_cancel), got %+v", res)
		}
		if len(res.PCM) != 0 {
			t.Fatalf("a cancelled episode must deliver no PCM, got %d samples", len(res.PCM))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RecordWithPTT never returned")
	}
}

func TestRecordingSessionEnableFailurePropagates(t *testing.T) {
	cfg := DefaultConfig()
	kb := newFakeKeyboardSource()
	kb.startErr = ErrPermissionDenied
	clock := newFakeClock()
	c, err := NewController(cfg, kb, newFakeCapture(nil), nil, NewEventLog(clock), clock, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	session := NewRecordingSession(c, clock)

	_, err = session.RecordWithPTT(time.Second)
	if err == nil {
		t.Fatalf("expected RecordWithPTT to surface the enable failure")
	}
	if c.State() != StateIdle {
		t.Fatalf("state must remain Idle after a failed enable, got %s", c.State())
	}
}

func TestFallbackShimRoutesToExternalWhenPTTDisabled(t *testing.T) {
	external := func() ([]int16, bool, error) { return []int16{42}, true, nil }
	shim := NewFallbackShim(false, nil, time.Second, external, nil)

	pcm, speech, err := shim.Record()
	if err != nil || len(pcm) != 1 || !speech {
		t.Fatalf("expected external outcome, got (%v, %v, %v)", pcm, speech, err)
	}
}

func TestFallbackShimRetriesExternalOnEnableFailure(t *testing.T) {
	cfg := DefaultConfig()
	clock := newFakeClock()
	factory := func() *RecordingSession {
		kb := newFakeKeyboardSource()
		kb.startErr = ErrPermissionDenied
		c, err := NewController(cfg, kb, newFakeCapture(nil), nil, NewEventLog(clock), clock, nil)
		if err != nil {
			t.Fatalf("NewController: %v", err)
		}
		return NewRecordingSession(c, clock)
	}

	externalCalls := 0
	external := func() ([]int16, bool, error) {
		externalCalls++
		return []int16{7, 7}, true, nil
	}
	shim := NewFallbackShim(true, factory, time.Second, external, nil)

	pcm, speech, err := shim.Record()
	if err != nil {
		t.Fatalf("shim must absorb the PTT failure, got %v", err)
	}
	if externalCalls != 1 {
		t.Fatalf("expected exactly one external retry, got %d", externalCalls)
	}
	if len(pcm) != 2 || !speech {
		t.Fatalf("expected external recording delivered, got (%d samples, %v)", len(pcm), speech)
	}
}

func TestFallbackShimDoesNotRetryAfterCancelledEpisode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeToggle
	clock := newFakeClock()
	kb := newFakeKeyboardSource()
	capture := newFakeCapture([]int16{1})
	c, err := NewController(cfg, kb, capture, nil, NewEventLog(clock), clock, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	factory := func() *RecordingSession { return NewRecordingSession(c, clock) }

	externalCalls := 0
	external := func() ([]int16, bool, error) {
		externalCalls++
		return nil, false, nil
	}
	shim := NewFallbackShim(true, factory, cfg.MaxDuration, external, nil)

	done := make(chan struct{})
	var pcm []int16
	var speech bool
	go func() {
		pcm, speech, err = shim.Record()
		close(done)
	}()

	waitForState(t, c, StateWaitingForKey, 2*time.Second)
	kb.pushChordMatch()
	waitForState(t, c, StateRecording, 2*time.Second)
	kb.pushCancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("shim.Record never returned")
	}

	if err != nil {
		t.Fatalf("cancelled episode must not error, got %v", err)
	}
	if len(pcm) != 0 || speech {
		t.Fatalf("cancelled episode must return (empty, false), got (%d, %v)", len(pcm), speech)
	}
	if externalCalls != 0 {
		t.Fatalf("the turn was consumed; shim must not retry externally, got %d calls", externalCalls)
	}
}
