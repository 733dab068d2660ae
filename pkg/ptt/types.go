// Package ptt implements the push-to-talk voice-capture subsystem: a
// deterministic state machine bridging a keyboard event source and a
// microphone capture engine into a single synchronous "record one
// utterance" call.
package ptt

import (
	"fmt"
	"strings"
	"time"
)

// KeyToken is a normalized key identifier drawn from a closed alphabet.
// OS-specific identifiers (e.g. "Control_L") are normalized to one of
// these before any chord matching happens.
type KeyToken string

// Modifier tokens.
const (
	KeyCtrl  KeyToken = "Ctrl"
	KeyShift KeyToken = "Shift"
	KeyAlt   KeyToken = "Alt"
	KeyMeta  KeyToken = "Meta"
)

// Navigation and control tokens.
const (
	KeyEsc       KeyToken = "Esc"
	KeySpace     KeyToken = "Space"
	KeyArrowUp   KeyToken = "Up"
	KeyArrowDown KeyToken = "Down"
	KeyLeft      KeyToken = "Left"
	KeyRight     KeyToken = "Right"
	KeyEnter     KeyToken = "Enter"
	KeyTab       KeyToken = "Tab"
	KeyBackspace KeyToken = "Backspace"
)

// aliases maps case-insensitive, platform-flavored spellings onto the
// canonical token alphabet. Parse is the only place that consults this.
var aliases = map[string]KeyToken{
	"control":    KeyCtrl,
	"control_l":  KeyCtrl,
	"control_r":  KeyCtrl,
	"ctrl":       KeyCtrl,
	"shift":      KeyShift,
	"shift_l":    KeyShift,
	"shift_r":    KeyShift,
	"alt":        KeyAlt,
	"alt_l":      KeyAlt,
	"alt_r":      KeyAlt,
	"option":     KeyAlt,
	"meta":       KeyMeta,
	"super":      KeyMeta,
	"cmd":        KeyMeta,
	"command":    KeyMeta,
	"win":        KeyMeta,
	"windows":    KeyMeta,
	"esc":        KeyEsc,
	"escape":     KeyEsc,
	"space":      KeySpace,
	"spacebar":   KeySpace,
	"up":         KeyArrowUp,
	"down":       KeyArrowDown,
	"left":       KeyLeft,
	"right":      KeyRight,
	"enter":      KeyEnter,
	"return":     KeyEnter,
	"tab":        KeyTab,
	"backspace":  KeyBackspace,
}

// normalizeToken canonicalizes a single raw token: resolves aliases,
// upper-cases single letters and digits, and passes through function
// keys (F1-F24) verbatim (case-insensitive).
func normalizeToken(raw string) (KeyToken, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return "", fmt.Errorf("%w: empty key token", ErrInvalidConfig)
	}
	if tok, ok := aliases[lower]; ok {
		return tok, nil
	}
	if len(lower) >= 2 && lower[0] == 'f' {
		if n, err := parseFunctionKeyNumber(lower[1:]); err == nil && n >= 1 && n <= 24 {
			return KeyToken(fmt.Sprintf("F%d", n)), nil
		}
	}
	// Single letters and digits: canonicalize to upper case.
	if len([]rune(lower)) == 1 {
		r := []rune(lower)[0]
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return KeyToken(strings.ToUpper(lower)), nil
		}
	}
	// Any other single rune (punctuation) passes through exactly as typed.
	if len([]rune(raw)) == 1 {
		return KeyToken(raw), nil
	}
	return "", fmt.Errorf("%w: unrecognized key token %q", ErrInvalidConfig, raw)
}

func parseFunctionKeyNumber(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("not a number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a number")
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// KeyChord is an unordered set of normalized key tokens. 1 <= |set| <= 4.
type KeyChord map[KeyToken]struct{}

// NewChord builds a KeyChord from already-normalized tokens.
func NewChord(tokens ...KeyToken) KeyChord {
	c := make(KeyChord, len(tokens))
	for _, t := range tokens {
		c[t] = struct{}{}
	}
	return c
}

// ParseChord parses a "+"-separated chord string such as "Ctrl+Space" or
// "control+space". Letters are case-insensitive; aliases are canonicalized.
// Returns ErrInvalidConfig if the chord is empty, too large, or contains an
// unrecognized token.
func ParseChord(s string) (KeyChord, error) {
	parts := strings.Split(s, "+")
	chord := make(KeyChord, len(parts))
	for _, p := range parts {
		tok, err := normalizeToken(p)
		if err != nil {
			return nil, err
		}
		chord[tok] = struct{}{}
	}
	if len(chord) < 1 || len(chord) > 4 {
		return nil, fmt.Errorf("%w: chord must have 1-4 keys, got %d", ErrInvalidConfig, len(chord))
	}
	return chord, nil
}

// Subset reports whether every key in c is present in held.
func (c KeyChord) Subset(held map[KeyToken]struct{}) bool {
	if len(c) == 0 {
		return false
	}
	for k := range c {
		if _, ok := held[k]; !ok {
			return false
		}
	}
	return true
}

// String renders the chord in canonical "A+B" form (order is not
// guaranteed to be stable across calls with different map iteration, so
// this is for logging/diagnostics only, never for equality).
func (c KeyChord) String() string {
	toks := make([]string, 0, len(c))
	for k := range c {
		toks = append(toks, string(k))
	}
	return strings.Join(toks, "+")
}

// Mode selects how the controller decides when a recording starts and stops.
type Mode string

const (
	ModeHold   Mode = "hold"
	ModeToggle Mode = "toggle"
	ModeHybrid Mode = "hybrid"
)

// Config is immutable for the duration of a session.
type Config struct {
	Mode              Mode
	TriggerChord      KeyChord
	CancelKey         KeyChord
	MaxDuration       time.Duration // 0 disables the cap
	MinDuration       time.Duration
	SilenceThreshold  time.Duration // Hybrid only
	VADAggressiveness int           // 0-3
	SampleRate        int
	Channels          int
}

// DefaultConfig returns the documented option defaults: Hold mode,
// Ctrl+Space trigger, Esc cancel, 120s cap, 500ms minimum, 1.5s silence
// threshold.
func DefaultConfig() Config {
	trigger, _ := ParseChord("Ctrl+Space")
	cancel, _ := ParseChord("Esc")
	return Config{
		Mode:              ModeHold,
		TriggerChord:      trigger,
		CancelKey:         cancel,
		MaxDuration:       120 * time.Second,
		MinDuration:       500 * time.Millisecond,
		SilenceThreshold:  1500 * time.Millisecond,
		VADAggressiveness: 2,
		SampleRate:        16000,
		Channels:          1,
	}
}

// Validate rejects impossible configurations at construction time.
func (c Config) Validate() error {
	if c.Mode != ModeHold && c.Mode != ModeToggle && c.Mode != ModeHybrid {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if len(c.TriggerChord) == 0 {
		return fmt.Errorf("%w: trigger chord is empty", ErrInvalidConfig)
	}
	if len(c.CancelKey) == 0 {
		return fmt.Errorf("%w: cancel key is empty", ErrInvalidConfig)
	}
	if c.MinDuration < 0 {
		return fmt.Errorf("%w: min_duration must be >= 0", ErrInvalidConfig)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("%w: max_duration must be >= 0", ErrInvalidConfig)
	}
	if c.MaxDuration > 0 && c.MinDuration > c.MaxDuration {
		return fmt.Errorf("%w: min_duration (%s) exceeds max_duration (%s)", ErrInvalidConfig, c.MinDuration, c.MaxDuration)
	}
	if c.VADAggressiveness < 0 || c.VADAggressiveness > 3 {
		return fmt.Errorf("%w: vad_aggressiveness must be 0-3, got %d", ErrInvalidConfig, c.VADAggressiveness)
	}
	return nil
}

// EffectiveMode applies the disable-silence-detection coercion from
// Hybrid with silence detection disabled behaves like Hold.
func (c Config) EffectiveMode(disableSilenceDetection bool) Mode {
	if c.Mode == ModeHybrid && disableSilenceDetection {
		return ModeHold
	}
	return c.Mode
}

// PTTState is one of the seven states of the lifecycle state machine.
type PTTState string

const (
	StateIdle               PTTState = "Idle"
	StateWaitingForKey      PTTState = "WaitingForKey"
	StateKeyPressed         PTTState = "KeyPressed"
	StateRecording          PTTState = "Recording"
	StateRecordingStopped   PTTState = "RecordingStopped"
	StateRecordingCancelled PTTState = "RecordingCancelled"
	StateProcessing         PTTState = "Processing"
)

// Trigger names the event that causes a transition. The same strings
// appear in the legal-transition table and the event log.
type Trigger string

const (
	TriggerEnable               Trigger = "enable"
	TriggerDisable               Trigger = "disable"
	TriggerChordMatch            Trigger = "chord_match"
	TriggerStartRecording        Trigger = "start_recording"
	TriggerChordReleaseBeforeMin Trigger = "chord_release_before_min"
	TriggerChordReleaseAfterMin  Trigger = "chord_release_after_min"
	TriggerSecondTogglePress     Trigger = "second_toggle_press"
	TriggerSilenceExceeded       Trigger = "silence_exceeded"
	TriggerCancelPressed         Trigger = "cancel_pressed"
	TriggerTimeout               Trigger = "timeout"
	TriggerCaptureError          Trigger = "capture_error"
	TriggerFinalize              Trigger = "finalize"
	TriggerComplete              Trigger = "complete"
)

// AudioFrame is one fixed-cadence slice of samples produced by AudioCapture.
type AudioFrame struct {
	Samples []int16
	FrameMs int // 10, 20, or 30
}

// Sample16kHz20ms is the canonical frame size for this subsystem: 16kHz,
// mono, 20ms frames -> 320 samples.
const Sample16kHz20ms = 320

// Clock is injected into the controller so tests can drive time
// deterministically.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the minimal interface the controller needs from a firing timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

type realClock struct{}

// RealClock is the production Clock backed by the runtime's monotonic clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// Logger is the ambient logging contract, identical in shape to the
// surrounding orchestrator's Logger so either a NoOpLogger or a
// charmbracelet/log-backed implementation can be handed to a Controller.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; the default when no Logger is supplied.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}
