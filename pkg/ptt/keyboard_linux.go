//go:build linux

package ptt

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

// evdevKeyCodeTokens maps the evdev key codes this subsystem cares about
// onto the closed KeyToken alphabet. Unlisted codes are ignored rather
// than surfaced as new unbounded tokens.
var evdevKeyCodeTokens = map[evdev.EvCode]KeyToken{
	evdev.KEY_LEFTCTRL:  KeyCtrl,
	evdev.KEY_RIGHTCTRL: KeyCtrl,
	evdev.KEY_LEFTSHIFT: KeyShift,
	evdev.KEY_RIGHTSHIFT: KeyShift,
	evdev.KEY_LEFTALT:   KeyAlt,
	evdev.KEY_RIGHTALT:  KeyAlt,
	evdev.KEY_LEFTMETA:  KeyMeta,
	evdev.KEY_RIGHTMETA: KeyMeta,
	evdev.KEY_ESC:       KeyEsc,
	evdev.KEY_SPACE:     KeySpace,
	evdev.KEY_UP:        KeyArrowUp,
	evdev.KEY_DOWN:      KeyArrowDown,
	evdev.KEY_LEFT:      KeyLeft,
	evdev.KEY_RIGHT:     KeyRight,
	evdev.KEY_ENTER:     KeyEnter,
	evdev.KEY_TAB:       KeyTab,
	evdev.KEY_BACKSPACE: KeyBackspace,
}

func init() {
	// Letters and digits follow a contiguous, well-known evdev layout.
	letterCodes := map[evdev.EvCode]string{
		evdev.KEY_A: "A", evdev.KEY_B: "B", evdev.KEY_C: "C", evdev.KEY_D: "D",
		evdev.KEY_E: "E", evdev.KEY_F: "F", evdev.KEY_G: "G", evdev.KEY_H: "H",
		evdev.KEY_I: "I", evdev.KEY_J: "J", evdev.KEY_K: "K", evdev.KEY_L: "L",
		evdev.KEY_M: "M", evdev.KEY_N: "N", evdev.KEY_O: "O", evdev.KEY_P: "P",
		evdev.KEY_Q: "Q", evdev.KEY_R: "R", evdev.KEY_S: "S", evdev.KEY_T: "T",
		evdev.KEY_U: "U", evdev.KEY_V: "V", evdev.KEY_W: "W", evdev.KEY_X: "X",
		evdev.KEY_Y: "Y", evdev.KEY_Z: "Z",
		evdev.KEY_0: "0", evdev.KEY_1: "1", evdev.KEY_2: "2", evdev.KEY_3: "3",
		evdev.KEY_4: "4", evdev.KEY_5: "5", evdev.KEY_6: "6", evdev.KEY_7: "7",
		evdev.KEY_8: "8", evdev.KEY_9: "9",
	}
	for code, tok := range letterCodes {
		evdevKeyCodeTokens[code] = KeyToken(tok)
	}
	for i := 1; i <= 24; i++ {
		if code, ok := evdevFunctionKeyCode(i); ok {
			evdevKeyCodeTokens[code] = KeyToken(fmt.Sprintf("F%d", i))
		}
	}
}

// evdevFunctionKeyCode returns the evdev code for F1-F24.
func evdevFunctionKeyCode(n int) (evdev.EvCode, bool) {
	switch n {
	case 1:
		return evdev.KEY_F1, true
	case 2:
		return evdev.KEY_F2, true
	case 3:
		return evdev.KEY_F3, true
	case 4:
		return evdev.KEY_F4, true
	case 5:
		return evdev.KEY_F5, true
	case 6:
		return evdev.KEY_F6, true
	case 7:
		return evdev.KEY_F7, true
	case 8:
		return evdev.KEY_F8, true
	case 9:
		return evdev.KEY_F9, true
	case 10:
		return evdev.KEY_F10, true
	case 11:
		return evdev.KEY_F11, true
	case 12:
		return evdev.KEY_F12, true
	default:
		if n >= 13 && n <= 24 {
			// KEY_F13..KEY_F24 are contiguous in the kernel's code table.
			return evdev.KEY_F13 + evdev.EvCode(n-13), true
		}
		return 0, false
	}
}

// evdevKeyboardSource implements KeyboardSource on Linux by reading raw
// key events directly from /dev/input/event* devices: one reader goroutine
// per keyboard-capable device, a stop channel closed once on Stop, and a
// bounded wait for readers to unblock from a pending ReadOne().
type evdevKeyboardSource struct {
	mu       sync.Mutex
	tracker  *chordTracker
	devices  []*evdev.InputDevice
	stopCh   chan struct{}
	running  bool
	stopping int32
	wg       sync.WaitGroup
	out      chan AnyKeyEvent
	logger   Logger
}

// NewKeyboardSource returns the platform-appropriate KeyboardSource backend.
// On Linux this is evdev-based; see keyboard_hotkey.go (macOS/Windows) and
// keyboard_stub.go (other hosts).
func NewKeyboardSource(logger Logger) KeyboardSource {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &evdevKeyboardSource{
		tracker: newChordTracker(),
		out:     make(chan AnyKeyEvent, eventChannelCapacity),
		logger:  logger,
	}
}

func (s *evdevKeyboardSource) Register(chordID string, chord KeyChord) error {
	return s.tracker.register(chordID, chord)
}

func (s *evdevKeyboardSource) RegisterCancel(chord KeyChord) error {
	return s.tracker.registerCancel(chord)
}

func (s *evdevKeyboardSource) findKeyboardDevices() ([]*evdev.InputDevice, error) {
	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("%w: listing input devices: %v", ErrUnsupported, err)
	}
	var devices []*evdev.InputDevice
	for _, p := range paths {
		dev, err := evdev.Open(p)
		if err != nil {
			continue
		}
		name, _ := dev.Name()
		if strings.Contains(strings.ToLower(name), "keyboard") || isEvdevKeyboard(dev) {
			devices = append(devices, dev)
		} else {
			_ = dev.Close()
		}
	}
	return devices, nil
}

func isEvdevKeyboard(dev *evdev.InputDevice) bool {
	hasKeyType := false
	for _, t := range dev.CapableTypes() {
		if t == evdev.EV_KEY {
			hasKeyType = true
			break
		}
	}
	if !hasKeyType {
		return false
	}
	common := map[evdev.EvCode]bool{evdev.KEY_Q: true, evdev.KEY_A: true, evdev.KEY_Z: true, evdev.KEY_SPACE: true}
	for _, code := range dev.CapableEvents(evdev.EV_KEY) {
		if common[code] {
			return true
		}
	}
	return false
}

func (s *evdevKeyboardSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	devices, err := s.findKeyboardDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no keyboard devices found (permission or headless)", ErrPermissionDenied)
	}
	s.devices = devices
	s.stopCh = make(chan struct{})
	atomic.StoreInt32(&s.stopping, 0)
	s.running = true
	s.tracker.reset()

	for i := range s.devices {
		idx := i
		s.wg.Add(1)
		go s.listen(idx)
	}
	return nil
}

func (s *evdevKeyboardSource) listen(idx int) {
	defer s.wg.Done()
	s.mu.Lock()
	if idx >= len(s.devices) {
		s.mu.Unlock()
		return
	}
	dev := s.devices[idx]
	stopCh := s.stopCh
	s.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		default:
		}
		if atomic.LoadInt32(&s.stopping) == 1 {
			return
		}
		ev, err := dev.ReadOne()
		if err != nil {
			if atomic.LoadInt32(&s.stopping) != 1 {
				s.logger.Warn("evdev device read ended", "error", err)
			}
			return
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		// evdev repeat events (Value == 2) are not new transitions.
		if ev.Value == 2 {
			continue
		}
		tok, ok := evdevKeyCodeTokens[ev.Code]
		if !ok {
			continue
		}
		kind := KeyUp
		if ev.Value == 1 {
			kind = KeyDown
		}
		s.dispatch(KeyEvent{Kind: kind, Token: tok})
	}
}

func (s *evdevKeyboardSource) dispatch(raw KeyEvent) {
	sendBackpressureSafe(s.out, AnyKeyEvent{Raw: &raw})
	for _, d := range s.tracker.apply(raw) {
		derived := d
		sendBackpressureSafe(s.out, AnyKeyEvent{Derived: &derived})
	}
}

func (s *evdevKeyboardSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	atomic.StoreInt32(&s.stopping, 1)
	for _, d := range s.devices {
		_ = d.Close()
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		s.logger.Warn("evdev stop timed out waiting for readers")
	}

	s.mu.Lock()
	s.devices = nil
	atomic.StoreInt32(&s.stopping, 0)
	s.mu.Unlock()
}

func (s *evdevKeyboardSource) Events() <-chan AnyKeyEvent { return s.out }
