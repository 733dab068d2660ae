package autovad

import (
	"testing"
	"time"
)

func loudChunk(n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 10000
		} else {
			samples[i] = -10000
		}
	}
	return samples
}

func TestDetectorConfirmsSpeechAfterConsecutiveLoudChunks(t *testing.T) {
	d := NewDetector(0.02, 500*time.Millisecond)

	for i := 0; i < d.minConfirmed-1; i++ {
		if ev := d.Process(loudChunk(320)); ev != EventNone {
			t.Fatalf("chunk %d: expected EventNone while confirming, got %v", i, ev)
		}
	}
	if ev := d.Process(loudChunk(320)); ev != EventSpeechStart {
		t.Fatalf("expected EventSpeechStart on the confirming chunk, got %v", ev)
	}
	if !d.Speaking() {
		t.Fatalf("Speaking must be true after speech start")
	}
}

func TestDetectorQuietChunkResetsConfirmation(t *testing.T) {
	d := NewDetector(0.02, 500*time.Millisecond)

	for i := 0; i < d.minConfirmed-1; i++ {
		d.Process(loudChunk(320))
	}
	d.Process(make([]int16, 320))
	if ev := d.Process(loudChunk(320)); ev != EventNone {
		t.Fatalf("confirmation must restart after a quiet chunk, got %v", ev)
	}
}

func TestDetectorEndsSpeechAfterSilenceLimit(t *testing.T) {
	d := NewDetector(0.02, 500*time.Millisecond)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	for i := 0; i < d.minConfirmed; i++ {
		d.Process(loudChunk(320))
	}
	if !d.Speaking() {
		t.Fatalf("expected speech confirmed")
	}

	// First quiet chunk only starts the silence window.
	if ev := d.Process(make([]int16, 320)); ev != EventNone {
		t.Fatalf("expected EventNone at silence onset, got %v", ev)
	}

	now = now.Add(600 * time.Millisecond)
	if ev := d.Process(make([]int16, 320)); ev != EventSpeechEnd {
		t.Fatalf("expected EventSpeechEnd after the silence limit, got %v", ev)
	}
	if d.Speaking() {
		t.Fatalf("Speaking must be false after speech end")
	}
}

func TestDetectorLoudChunkReopensSilenceWindow(t *testing.T) {
	d := NewDetector(0.02, 500*time.Millisecond)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	for i := 0; i < d.minConfirmed; i++ {
		d.Process(loudChunk(320))
	}
	d.Process(make([]int16, 320)) // silence window opens
	now = now.Add(400 * time.Millisecond)
	d.Process(loudChunk(320)) // speech resumes before the limit

	now = now.Add(200 * time.Millisecond)
	// 200ms of quiet measured from the new window, not the old one.
	if ev := d.Process(make([]int16, 320)); ev == EventSpeechEnd {
		t.Fatalf("silence window must restart when speech resumes")
	}
}

func TestDetectorResetClearsState(t *testing.T) {
	d := NewDetector(0.02, 500*time.Millisecond)
	for i := 0; i < d.minConfirmed; i++ {
		d.Process(loudChunk(320))
	}
	d.Reset()
	if d.Speaking() {
		t.Fatalf("Reset must clear Speaking")
	}
	if ev := d.Process(loudChunk(320)); ev != EventNone {
		t.Fatalf("confirmation must restart from scratch after Reset, got %v", ev)
	}
}
