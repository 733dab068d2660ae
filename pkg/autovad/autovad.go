// Package autovad implements the hands-free recording path: a microphone
// stream gated by an RMS voice-activity detector instead of the keyboard.
// It is the external collaborator the push-to-talk shim falls back to when
// keyboard monitoring is unavailable or disabled.
package autovad

import (
	"fmt"
	"math"
	"time"

	"github.com/gen2brain/malgo"
)

// Logger is the minimal structured logging contract this package needs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// Event is one detector decision for a processed chunk.
type Event int

const (
	// EventNone means nothing changed: still confirming, still speaking,
	// or still silent.
	EventNone Event = iota
	// EventSpeechStart fires once when enough consecutive loud chunks
	// confirm the user started talking.
	EventSpeechStart
	// EventSpeechEnd fires once when trailing silence after confirmed
	// speech exceeds the configured limit.
	EventSpeechEnd
)

// Detector is an RMS-energy voice-activity detector with confirmation
// hysteresis: a run of consecutive above-threshold chunks is required to
// declare speech, and a sustained below-threshold run to end it.
type Detector struct {
	threshold    float64
	silenceLimit time.Duration
	minConfirmed int

	speaking    bool
	confirming  int
	silenceFrom time.Time

	now func() time.Time
}

// NewDetector builds a detector. threshold is normalized RMS (0..1);
// silenceLimit is how much trailing quiet ends an utterance.
func NewDetector(threshold float64, silenceLimit time.Duration) *Detector {
	return &Detector{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7,
		now:          time.Now,
	}
}

// Process classifies one chunk of mono int16 samples.
func (d *Detector) Process(samples []int16) Event {
	rms := rms(samples)
	now := d.now()

	if rms > d.threshold {
		d.confirming++
		if !d.speaking {
			if d.confirming >= d.minConfirmed {
				d.speaking = true
				return EventSpeechStart
			}
			return EventNone
		}
		d.silenceFrom = time.Time{}
		return EventNone
	}

	d.confirming = 0
	if !d.speaking {
		return EventNone
	}
	if d.silenceFrom.IsZero() {
		d.silenceFrom = now
		return EventNone
	}
	if now.Sub(d.silenceFrom) >= d.silenceLimit {
		d.speaking = false
		d.silenceFrom = time.Time{}
		return EventSpeechEnd
	}
	return EventNone
}

// Speaking reports whether the detector currently considers the user to be
// talking.
func (d *Detector) Speaking() bool { return d.speaking }

// Reset returns the detector to its initial quiet state.
func (d *Detector) Reset() {
	d.speaking = false
	d.confirming = 0
	d.silenceFrom = time.Time{}
}

func rms(samples []int16) float64 {
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

// Recorder captures one utterance per Record call: it waits for the
// detector to confirm speech, accumulates samples, and stops once the
// detector reports the trailing silence limit.
type Recorder struct {
	sampleRate int
	detector   *Detector
	maxWait    time.Duration
	logger     Logger
}

// NewRecorder builds a hands-free recorder. maxWait bounds how long one
// Record call may block waiting for an utterance to complete.
func NewRecorder(sampleRate int, threshold float64, silenceLimit, maxWait time.Duration, logger Logger) *Recorder {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Recorder{
		sampleRate: sampleRate,
		detector:   NewDetector(threshold, silenceLimit),
		maxWait:    maxWait,
		logger:     logger,
	}
}

// Record blocks until one utterance is captured (speech start through
// trailing silence) or maxWait elapses, and returns the PCM plus whether
// speech was ever confirmed.
func (r *Recorder) Record() (pcm []int16, speechDetected bool, err error) {
	r.detector.Reset()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, false, fmt.Errorf("autovad: init context: %w", err)
	}
	defer ctx.Uninit()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(r.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	var buf []int16
	started := false
	done := make(chan struct{})
	closed := false

	onData := func(_, input []byte, _ uint32) {
		if closed {
			return
		}
		samples := make([]int16, len(input)/2)
		for i := range samples {
			samples[i] = int16(input[2*i]) | int16(input[2*i+1])<<8
		}

		switch r.detector.Process(samples) {
		case EventSpeechStart:
			started = true
		case EventSpeechEnd:
			if started {
				closed = true
				close(done)
				return
			}
		}
		if started {
			buf = append(buf, samples...)
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return nil, false, fmt.Errorf("autovad: init device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return nil, false, fmt.Errorf("autovad: start device: %w", err)
	}

	select {
	case <-done:
	case <-time.After(r.maxWait):
		r.logger.Warn("hands-free recorder timed out waiting for speech end")
	}

	return buf, started, nil
}

// RecorderFunc adapts Record to the func() ([]int16, bool, error) shape the
// push-to-talk fallback shim consumes.
func (r *Recorder) RecorderFunc() func() ([]int16, bool, error) {
	return r.Record
}
