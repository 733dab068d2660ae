package ptt

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the closed PTTEvent kind alphabet.
type EventKind string

const (
	EventStateTransition    EventKind = "state_transition"
	EventKeyDown            EventKind = "key_down"
	EventKeyUp              EventKind = "key_up"
	EventChordMatch         EventKind = "chord_match"
	EventChordRelease       EventKind = "chord_release"
	EventCancelPressed      EventKind = "cancel_pressed"
	EventRecordingStarted   EventKind = "recording_started"
	EventRecordingStopped   EventKind = "recording_stopped"
	EventRecordingCancelled EventKind = "recording_cancelled"
	EventTimeout            EventKind = "timeout"
	EventSilenceDetected    EventKind = "silence_detected"
	EventError              EventKind = "error"
	EventEnable             EventKind = "enable"
	EventDisable            EventKind = "disable"
)

// PTTEvent is one append-only record in the EventLog.
type PTTEvent struct {
	TS        time.Time
	Kind      EventKind
	SessionID string
	Data      map[string]interface{}
}

// EventFilter narrows Events() results. A zero-value EventFilter matches
// everything. SessionID, if non-empty, restricts to a single session.
type EventFilter struct {
	Kind      EventKind // empty matches any kind
	SessionID string    // empty matches any session
}

func (f EventFilter) matches(e PTTEvent) bool {
	if f.Kind != "" && f.Kind != e.Kind {
		return false
	}
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	return true
}

// EventLog is an append-only, thread-safe sequence of PTTEvents ordered by
// monotonic timestamp at log time. A single lock protects it, so Log may
// be called from any goroutine.
type EventLog struct {
	mu     sync.Mutex
	events []PTTEvent
	clock  Clock
}

// NewEventLog creates an empty log. A nil clock defaults to RealClock().
func NewEventLog(clock Clock) *EventLog {
	if clock == nil {
		clock = RealClock()
	}
	return &EventLog{clock: clock}
}

// Log appends one event, stamping it with the injected clock's current time.
func (l *EventLog) Log(sessionID string, kind EventKind, data map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, PTTEvent{
		TS:        l.clock.Now(),
		Kind:      kind,
		SessionID: sessionID,
		Data:      data,
	})
}

// Events returns a copy of all logged events matching filter, in log order.
func (l *EventLog) Events(filter EventFilter) []PTTEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PTTEvent, 0, len(l.events))
	for _, e := range l.events {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Clear empties the log. Tests call this between cases to isolate the
// optional process-wide log.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// processWide is an optional shared EventLog for diagnostics. It is never
// required by the core; Controller can be handed its own private
// *EventLog instead.
var processWide = NewEventLog(nil)

// ProcessWideLog returns the optional shared diagnostics log.
func ProcessWideLog() *EventLog { return processWide }

// NewSessionID returns a fresh correlation id for a RecordingSession.
func NewSessionID() string { return uuid.NewString() }
