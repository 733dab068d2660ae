package ptt

import (
	"sync"
	"testing"
	"time"
)

// fakeKeyboardSource is a programmable KeyboardSource test double: the test
// drives Events() by calling push, bypassing any real OS backend so
// Controller tests never depend on evdev/hotkey permissions.
type fakeKeyboardSource struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	ch       chan AnyKeyEvent
	trigger  KeyChord
	cancel   KeyChord
}

func newFakeKeyboardSource() *fakeKeyboardSource {
	return &fakeKeyboardSource{ch: make(chan AnyKeyEvent, eventChannelCapacity)}
}

func (f *fakeKeyboardSource) Register(chordID string, chord KeyChord) error {
	f.trigger = chord
	return nil
}

func (f *fakeKeyboardSource) RegisterCancel(chord KeyChord) error {
	f.cancel = chord
	return nil
}

func (f *fakeKeyboardSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.started {
		return ErrAlreadyRunning
	}
	f.started = true
	return nil
}

func (f *fakeKeyboardSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.started = false
}

func (f *fakeKeyboardSource) Events() <-chan AnyKeyEvent { return f.ch }

func (f *fakeKeyboardSource) push(ev AnyKeyEvent) {
	f.ch <- ev
}

func (f *fakeKeyboardSource) pushChordMatch() {
	f.push(AnyKeyEvent{Derived: &DerivedEvent{Kind: DerivedChordMatch, ChordID: triggerChordID}})
}

func (f *fakeKeyboardSource) pushChordRelease() {
	f.push(AnyKeyEvent{Derived: &DerivedEvent{Kind: DerivedChordRelease, ChordID: triggerChordID}})
}

func (f *fakeKeyboardSource) pushCancel() {
	f.push(AnyKeyEvent{Derived: &DerivedEvent{Kind: DerivedCancelPressed}})
}

func waitForState(t *testing.T, c *Controller, want PTTState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, c.State())
}

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeKeyboardSource, *fakeClock) {
	t.Helper()
	kb := newFakeKeyboardSource()
	clock := newFakeClock()
	capture := NewAudioCapture(cfg.SampleRate, cfg.Channels, nil)
	c, err := NewController(cfg, kb, capture, nil, NewEventLog(clock), clock, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, kb, clock
}

func TestControllerEnableEntersWaitingForKey(t *testing.T) {
	cfg := DefaultConfig()
	c, kb, _ := newTestController(t, cfg)

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer c.Disable()

	waitForState(t, c, StateWaitingForKey, time.Second)
	if !kb.started {
		t.Fatalf("expected Enable to start the KeyboardSource")
	}
}

func TestControllerEnableIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	c, _, _ := newTestController(t, cfg)

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer c.Disable()
	waitForState(t, c, StateWaitingForKey, time.Second)

	if err := c.Enable(); err != nil {
		t.Fatalf("second Enable should be a no-op, got error: %v", err)
	}
}

func TestControllerChordReleaseBeforeMinReturnsToWaitingForKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDuration = time.Hour // never fires during this test
	cfg.MaxDuration = 0         // disable the cap so it doesn't conflict with MinDuration
	c, kb, _ := newTestController(t, cfg)

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer c.Disable()
	waitForState(t, c, StateWaitingForKey, time.Second)

	kb.pushChordMatch()
	waitForState(t, c, StateKeyPressed, time.Second)

	kb.pushChordRelease()
	waitForState(t, c, StateWaitingForKey, time.Second)
}

func TestControllerCancelDuringKeyPressedHasNoCancelCallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDuration = time.Hour
	cfg.MaxDuration = 0
	c, kb, _ := newTestController(t, cfg)

	var cancelCalls int
	var mu sync.Mutex
	c.SetCallbacks(Callbacks{
		OnRecordingCancel: func(reason string) {
			mu.Lock()
			cancelCalls++
			mu.Unlock()
		},
	})

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer c.Disable()
	waitForState(t, c, StateWaitingForKey, time.Second)

	kb.pushChordMatch()
	waitForState(t, c, StateKeyPressed, time.Second)

	kb.pushCancel()
	waitForState(t, c, StateWaitingForKey, time.Second)

	mu.Lock()
	got := cancelCalls
	mu.Unlock()
	if got != 0 {
		t.Fatalf("cancel while KeyPressed must not fire OnRecordingCancel, got %d calls", got)
	}
}

func TestControllerCancelWhileWaitingForKeyIsNoOp(t *testing.T) {
	cfg := DefaultConfig()
	c, kb, _ := newTestController(t, cfg)

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	defer c.Disable()
	waitForState(t, c, StateWaitingForKey, time.Second)

	kb.pushCancel()
	time.Sleep(20 * time.Millisecond)
	if c.State() != StateWaitingForKey {
		t.Fatalf("cancel while WaitingForKey should be a no-op, got state %s", c.State())
	}
}

func TestControllerDisableFromKeyPressedStopsKeyboardSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDuration = time.Hour
	cfg.MaxDuration = 0
	c, kb, _ := newTestController(t, cfg)

	if err := c.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	waitForState(t, c, StateWaitingForKey, time.Second)
	kb.pushChordMatch()
	waitForState(t, c, StateKeyPressed, time.Second)

	c.Disable()
	if c.State() != StateIdle {
		t.Fatalf("expected Idle after Disable, got %s", c.State())
	}
	if !kb.stopped {
		t.Fatalf("expected Disable to stop the KeyboardSource")
	}
}

func TestControllerDisableIsIdempotentFromIdle(t *testing.T) {
	cfg := DefaultConfig()
	c, _, _ := newTestController(t, cfg)
	c.Disable() // never enabled; must not panic or block
	if c.State() != StateIdle {
		t.Fatalf("expected Idle, got %s", c.State())
	}
}

func TestNewControllerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "bogus"
	kb := newFakeKeyboardSource()
	capture := NewAudioCapture(cfg.SampleRate, cfg.Channels, nil)
	if _, err := NewController(cfg, kb, capture, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected NewController to reject an invalid mode")
	}
}
