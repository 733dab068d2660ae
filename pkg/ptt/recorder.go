package ptt

import (
	"time"
)

// Recorder is the package's outermost convenience surface: it implements
// the recorder function contract shared with the rest of the system on
// top of fresh per-call components. Base supplies the session-invariant
// parts (mode, chords, silence threshold); the four Record parameters
// override the per-call knobs.
type Recorder struct {
	Base   Config
	Logger Logger
	Clock  Clock
	Log    *EventLog
}

// NewRecorder builds a Recorder from a base config, with NoOpLogger for a
// nil logger, the real monotonic clock, and the process-wide event log.
// Record itself uses the real clock when Clock is nil; a nil Log gives each
// Record call its own private event log.
func NewRecorder(base Config, logger Logger) *Recorder {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &Recorder{
		Base:   base,
		Logger: logger,
		Clock:  RealClock(),
		Log:    ProcessWideLog(),
	}
}

// Record captures one utterance and returns its PCM (mono, 16kHz,
// little-endian int16) plus whether speech was detected. An empty slice
// with false is the documented "no speech / cancelled / timed out"
// outcome; no error ever crosses this boundary - diagnostics live in the
// EventLog.
func (r *Recorder) Record(maxDurationS float64, disableSilenceDetection bool, minDurationS float64, vadAggressiveness int) ([]int16, bool) {
	cfg := r.Base
	cfg.Mode = cfg.EffectiveMode(disableSilenceDetection)
	cfg.MaxDuration = time.Duration(maxDurationS * float64(time.Second))
	cfg.MinDuration = time.Duration(minDurationS * float64(time.Second))
	cfg.VADAggressiveness = vadAggressiveness

	clock := r.Clock
	if clock == nil {
		clock = RealClock()
	}

	kb := NewKeyboardSource(r.Logger)
	capture := NewAudioCapture(cfg.SampleRate, cfg.Channels, r.Logger)
	var silence *SilenceDetector
	if cfg.Mode == ModeHybrid {
		silence = NewSilenceDetector(cfg.VADAggressiveness, clock)
	}

	controller, err := NewController(cfg, kb, capture, silence, r.Log, clock, r.Logger)
	if err != nil {
		r.Logger.Error("push-to-talk recorder misconfigured", "error", err)
		return []int16{}, false
	}

	session := NewRecordingSession(controller, clock)
	maxWait := cfg.MaxDuration
	if maxWait <= 0 {
		// No cap: the episode ends only via release/silence/cancel, so the
		// session backstop just needs to be far beyond any plausible turn.
		maxWait = time.Hour
	}
	res, err := session.RecordWithPTT(maxWait)
	if err != nil {
		r.Logger.Error("push-to-talk recording failed", "error", err)
		return []int16{}, false
	}
	if res.Err != nil || res.Cancelled {
		return []int16{}, false
	}
	if res.PCM == nil {
		return []int16{}, res.SpeechDetected
	}
	return res.PCM, res.SpeechDetected
}

// RecorderFunc adapts Record with fixed parameters to the RecorderFunc
// shape FallbackShim consumes.
func (r *Recorder) RecorderFunc(maxDurationS float64, disableSilenceDetection bool, minDurationS float64, vadAggressiveness int) RecorderFunc {
	return func() ([]int16, bool, error) {
		pcm, speech := r.Record(maxDurationS, disableSilenceDetection, minDurationS, vadAggressiveness)
		return pcm, speech, nil
	}
}
