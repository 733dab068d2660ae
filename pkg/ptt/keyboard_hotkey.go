//go:build darwin || windows

package ptt

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

// hotkeyKeyCodes maps this subsystem's token alphabet onto
// golang.design/x/hotkey's Key constants. golang.design/x/hotkey registers
// global hotkeys through the OS (RegisterHotKey on Windows, Carbon on
// macOS), so unlike the Linux evdev backend it can only express a chord
// as "zero or more modifiers + exactly one main key". It has no concept
// of two simultaneously-held non-modifier keys such as {Down, Right};
// chords outside that shape fail Start with ErrUnsupported.
var hotkeyKeyCodes = map[KeyToken]hotkey.Key{
	KeySpace:     hotkey.KeySpace,
	KeyEsc:       hotkey.KeyEscape,
	KeyArrowUp:   hotkey.KeyUp,
	KeyArrowDown: hotkey.KeyDown,
	KeyLeft:      hotkey.KeyLeft,
	KeyRight:     hotkey.KeyRight,
	KeyEnter:     hotkey.KeyReturn,
	KeyTab:       hotkey.KeyTab,
	// KeyBackspace has no golang.design/x/hotkey constant; a chord using it
	// falls through to the "no hotkey mapping" error in Start.
	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD,
	"E": hotkey.KeyE, "F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH,
	"I": hotkey.KeyI, "J": hotkey.KeyJ, "K": hotkey.KeyK, "L": hotkey.KeyL,
	"M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO, "P": hotkey.KeyP,
	"Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX,
	"Y": hotkey.KeyY, "Z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"F1": hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,
}

// registeredHotkey binds one chord to an OS-level hotkey plus the derived
// event semantics the controller expects from it.
type registeredHotkey struct {
	hk       *hotkey.Hotkey
	chordID  string
	isCancel bool
	mainTok  KeyToken
}

// hotkeyKeyboardSource implements KeyboardSource on non-Linux hosts via
// golang.design/x/hotkey's system-wide hotkey registration.
type hotkeyKeyboardSource struct {
	mu      sync.Mutex
	chords  map[string]KeyChord
	cancel  KeyChord
	regs    []*registeredHotkey
	running bool
	out     chan AnyKeyEvent
	stopCh  chan struct{}
	logger  Logger
}

// NewKeyboardSource returns the platform-appropriate KeyboardSource backend.
func NewKeyboardSource(logger Logger) KeyboardSource {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &hotkeyKeyboardSource{
		chords: make(map[string]KeyChord),
		out:    make(chan AnyKeyEvent, eventChannelCapacity),
		logger: logger,
	}
}

func (s *hotkeyKeyboardSource) Register(chordID string, chord KeyChord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%w: cannot register while running", ErrInvalidConfig)
	}
	s.chords[chordID] = chord
	return nil
}

func (s *hotkeyKeyboardSource) RegisterCancel(chord KeyChord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%w: cannot register while running", ErrInvalidConfig)
	}
	s.cancel = chord
	return nil
}

// splitChord decomposes a chord into modifiers + exactly one main key, the
// only shape golang.design/x/hotkey can express. Modifier constants differ
// per OS, so the lookup lives in hotkey_mods_darwin.go / _windows.go.
func splitChord(chord KeyChord) ([]hotkey.Modifier, KeyToken, error) {
	var mods []hotkey.Modifier
	var main KeyToken
	haveMain := false
	for tok := range chord {
		if mod, ok := hotkeyModifier(tok); ok {
			mods = append(mods, mod)
			continue
		}
		if haveMain {
			return nil, "", fmt.Errorf("%w: chord has more than one non-modifier key, unsupported on this platform backend", ErrUnsupported)
		}
		main = tok
		haveMain = true
	}
	if !haveMain {
		return nil, "", fmt.Errorf("%w: chord has no non-modifier key", ErrUnsupported)
	}
	return mods, main, nil
}

func (s *hotkeyKeyboardSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	var pending []*registeredHotkey
	register := func(id string, chord KeyChord, isCancel bool) error {
		mods, main, err := splitChord(chord)
		if err != nil {
			return err
		}
		code, ok := hotkeyKeyCodes[main]
		if !ok {
			return fmt.Errorf("%w: key %q has no hotkey mapping on this platform", ErrUnsupported, main)
		}
		hk := hotkey.New(mods, code)
		if err := hk.Register(); err != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		pending = append(pending, &registeredHotkey{hk: hk, chordID: id, isCancel: isCancel, mainTok: main})
		return nil
	}

	for id, chord := range s.chords {
		if err := register(id, chord, false); err != nil {
			for _, r := range pending {
				r.hk.Unregister()
			}
			return err
		}
	}
	if len(s.cancel) > 0 {
		if err := register("__cancel__", s.cancel, true); err != nil {
			for _, r := range pending {
				r.hk.Unregister()
			}
			return err
		}
	}

	s.regs = pending
	s.stopCh = make(chan struct{})
	s.running = true

	for _, r := range s.regs {
		go s.watch(r)
	}
	return nil
}

func (s *hotkeyKeyboardSource) watch(r *registeredHotkey) {
	for {
		select {
		case <-s.stopCh:
			return
		case _, ok := <-r.hk.Keydown():
			if !ok {
				return
			}
			sendBackpressureSafe(s.out, AnyKeyEvent{Raw: &KeyEvent{Kind: KeyDown, Token: r.mainTok}})
			if r.isCancel {
				sendBackpressureSafe(s.out, AnyKeyEvent{Derived: &DerivedEvent{Kind: DerivedCancelPressed}})
			} else {
				sendBackpressureSafe(s.out, AnyKeyEvent{Derived: &DerivedEvent{Kind: DerivedChordMatch, ChordID: r.chordID}})
			}
		case _, ok := <-r.hk.Keyup():
			if !ok {
				return
			}
			sendBackpressureSafe(s.out, AnyKeyEvent{Raw: &KeyEvent{Kind: KeyUp, Token: r.mainTok}})
			if !r.isCancel {
				sendBackpressureSafe(s.out, AnyKeyEvent{Derived: &DerivedEvent{Kind: DerivedChordRelease, ChordID: r.chordID}})
			}
		}
	}
}

func (s *hotkeyKeyboardSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	regs := s.regs
	s.regs = nil
	s.running = false
	s.mu.Unlock()

	for _, r := range regs {
		if err := r.hk.Unregister(); err != nil {
			s.logger.Warn("hotkey unregister failed", "error", err)
		}
	}
}

func (s *hotkeyKeyboardSource) Events() <-chan AnyKeyEvent { return s.out }
