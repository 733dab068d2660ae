package ptt

import (
	"sync"
	"testing"
)

func TestEventLogFiltersByKindAndSession(t *testing.T) {
	log := NewEventLog(newFakeClock())
	log.Log("s1", EventKeyDown, map[string]interface{}{"token": "Ctrl"})
	log.Log("s1", EventChordMatch, nil)
	log.Log("s2", EventChordMatch, nil)

	if got := len(log.Events(EventFilter{})); got != 3 {
		t.Fatalf("zero filter must match everything, got %d", got)
	}
	if got := len(log.Events(EventFilter{Kind: EventChordMatch})); got != 2 {
		t.Fatalf("kind filter: got %d, want 2", got)
	}
	if got := len(log.Events(EventFilter{Kind: EventChordMatch, SessionID: "s2"})); got != 1 {
		t.Fatalf("kind+session filter: got %d, want 1", got)
	}

	log.Clear()
	if got := len(log.Events(EventFilter{})); got != 0 {
		t.Fatalf("Clear must empty the log, got %d", got)
	}
}

func TestEventLogPreservesAppendOrder(t *testing.T) {
	clock := newFakeClock()
	log := NewEventLog(clock)
	kinds := []EventKind{EventEnable, EventChordMatch, EventRecordingStarted, EventRecordingStopped}
	for _, k := range kinds {
		log.Log("s", k, nil)
	}
	events := log.Events(EventFilter{})
	for i, k := range kinds {
		if events[i].Kind != k {
			t.Fatalf("event %d: got %s, want %s", i, events[i].Kind, k)
		}
	}
}

func TestEventLogConcurrentAppends(t *testing.T) {
	log := NewEventLog(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Log("s", EventKeyDown, nil)
			}
		}()
	}
	wg.Wait()
	if got := len(log.Events(EventFilter{})); got != 800 {
		t.Fatalf("expected 800 events, got %d", got)
	}
}
