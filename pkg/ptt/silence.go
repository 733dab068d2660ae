package ptt

import (
	"math"
	"time"
)

// SilenceDetector classifies 10/20/30ms frames as speech/non-speech using
// an aggressiveness-tunable energy heuristic compatible with the
// WebRTC-VAD contract (8/16/32kHz; this subsystem always feeds it 16kHz).
// It is driven per-frame by Controller and only ever active in Hybrid
// mode; in the other modes it sits idle.
type SilenceDetector struct {
	threshold    float64
	minConfirmed int

	isSpeaking        bool
	consecutiveFrames int
	lastSpeechAt      time.Time
	clock             Clock
}

// aggressivenessThresholds mirrors WebRTC-VAD's convention that higher
// aggressiveness is more willing to classify a frame as non-speech (i.e.
// requires more energy, and more confirming frames, to call it speech).
var aggressivenessThresholds = [4]float64{0.008, 0.015, 0.025, 0.04}
var aggressivenessMinConfirmed = [4]int{2, 3, 5, 7}

// NewSilenceDetector builds a detector for the given aggressiveness
// (0-3, clamped) using the injected clock so tests can drive silence
// duration deterministically.
func NewSilenceDetector(aggressiveness int, clock Clock) *SilenceDetector {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	if clock == nil {
		clock = RealClock()
	}
	return &SilenceDetector{
		threshold:    aggressivenessThresholds[aggressiveness],
		minConfirmed: aggressivenessMinConfirmed[aggressiveness],
		clock:        clock,
		lastSpeechAt: clock.Now(),
	}
}

// Push classifies one frame and updates the running silence duration.
func (d *SilenceDetector) Push(frame AudioFrame) {
	rms := rmsOf(frame.Samples)
	now := d.clock.Now()

	if rms > d.threshold {
		d.consecutiveFrames++
		if d.consecutiveFrames >= d.minConfirmed {
			d.isSpeaking = true
			d.lastSpeechAt = now
		}
		return
	}
	d.consecutiveFrames = 0
	if !d.isSpeaking {
		// Still not yet confirmed as speaking since Reset/construction;
		// silence duration runs from lastSpeechAt either way.
		return
	}
}

// SilenceDurationMs returns the sustained non-speech duration (ms) since
// the last frame classified as speech.
func (d *SilenceDetector) SilenceDurationMs() uint32 {
	elapsed := d.clock.Now().Sub(d.lastSpeechAt)
	if elapsed < 0 {
		return 0
	}
	return uint32(elapsed.Milliseconds())
}

// SilenceExceeded is a convenience wrapper around SilenceDurationMs.
func (d *SilenceDetector) SilenceExceeded(thresholdMs uint32) bool {
	return d.SilenceDurationMs() >= thresholdMs
}

// IsSpeaking reports whether this episode has confirmed speech at least
// once since the last Reset, used to populate a recording's
// speech_detected flag.
func (d *SilenceDetector) IsSpeaking() bool {
	return d.isSpeaking
}

// Reset clears the detector back to "just heard speech now", used when
// entering a fresh Recording episode.
func (d *SilenceDetector) Reset() {
	d.isSpeaking = false
	d.consecutiveFrames = 0
	d.lastSpeechAt = d.clock.Now()
}

func rmsOf(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
