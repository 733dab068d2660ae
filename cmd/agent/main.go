// Command agent is a push-to-talk capture demo: hold (or toggle) the
// trigger chord to record an utterance, release to send it to a
// speech-to-text provider, and optionally hear the transcript spoken back
// through Lokutor. When PTT_ENABLED is false, or keyboard monitoring is
// unavailable, recording falls back to the hands-free auto-VAD path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/lokutor-ptt/pkg/audio"
	"github.com/lokutor-ai/lokutor-ptt/pkg/autovad"
	"github.com/lokutor-ai/lokutor-ptt/pkg/ptt"
	"github.com/lokutor-ai/lokutor-ptt/pkg/stt"
	"github.com/lokutor-ai/lokutor-ptt/pkg/tts"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Note: No .env file found, using system environment variables")
	}

	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "agent",
	})
	if os.Getenv("AGENT_DEBUG") != "" {
		logger.SetLevel(charmlog.DebugLevel)
	}

	cfg := pttConfigFromEnv(logger)
	pttEnabled := envBool("PTT_ENABLED", true)
	lang := os.Getenv("AGENT_LANGUAGE")
	if lang == "" {
		lang = "en"
	}

	pttLogger := ptt.NewCharmLogger(logger)
	transcriber := newTranscriber(logger)
	speaker := newSpeaker(pttLogger)

	clock := ptt.RealClock()
	kb := ptt.NewKeyboardSource(pttLogger)
	capture := ptt.NewAudioCapture(cfg.SampleRate, cfg.Channels, pttLogger)

	var silence *ptt.SilenceDetector
	if cfg.Mode == ptt.ModeHybrid {
		silence = ptt.NewSilenceDetector(cfg.VADAggressiveness, clock)
	}

	controller, err := ptt.NewController(cfg, kb, capture, silence, ptt.ProcessWideLog(), clock, pttLogger)
	if err != nil {
		logger.Fatal("invalid push-to-talk configuration", "error", err)
	}

	factory := func() *ptt.RecordingSession {
		return ptt.NewRecordingSession(controller, clock)
	}

	maxWait := cfg.MaxDuration
	if maxWait <= 0 {
		maxWait = time.Hour
	}
	external := autovad.NewRecorder(cfg.SampleRate, 0.02, 500*time.Millisecond, maxWait, pttLogger)
	shim := ptt.NewFallbackShim(pttEnabled, factory, maxWait, external.RecorderFunc(), pttLogger)

	if pttEnabled {
		fmt.Printf("Push-to-talk ready: mode=%s trigger=%s cancel=%s\n", cfg.Mode, cfg.TriggerChord, cfg.CancelKey)
	} else {
		fmt.Println("Push-to-talk disabled: hands-free auto-VAD capture active")
	}
	fmt.Printf("STT=%s | Language=%s\n", transcriber.Name(), lang)
	fmt.Println("Press Ctrl+C to exit")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go captureLoop(ctx, shim, transcriber, speaker, lang, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	controller.Disable()
}

// captureLoop records one utterance at a time and hands each transcript to
// the speaker, until the context ends.
func captureLoop(ctx context.Context, shim *ptt.FallbackShim, transcriber stt.Transcriber, spk *speaker, lang string, logger *charmlog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pcm, speech, err := shim.Record()
		if err != nil {
			logger.Error("recording failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(pcm) == 0 || !speech {
			continue
		}

		transcript, err := transcriber.Transcribe(ctx, pcm, lang)
		if err != nil {
			logger.Error("transcription failed", "error", err)
			continue
		}
		fmt.Printf("[TRANSCRIPT] %s\n", transcript)

		if spk != nil {
			if err := spk.say(ctx, transcript, lang); err != nil {
				logger.Error("playback failed", "error", err)
			}
		}
	}
}

// pttConfigFromEnv reads the PTT_* environment knobs on top of the
// built-in defaults.
func pttConfigFromEnv(logger *charmlog.Logger) ptt.Config {
	cfg := ptt.DefaultConfig()
	if v := os.Getenv("PTT_MODE"); v != "" {
		cfg.Mode = ptt.Mode(v)
	}
	if v := os.Getenv("PTT_TRIGGER"); v != "" {
		if chord, err := ptt.ParseChord(v); err == nil {
			cfg.TriggerChord = chord
		} else {
			logger.Warn("invalid PTT_TRIGGER, keeping default", "value", v, "error", err)
		}
	}
	if v := os.Getenv("PTT_CANCEL"); v != "" {
		if chord, err := ptt.ParseChord(v); err == nil {
			cfg.CancelKey = chord
		} else {
			logger.Warn("invalid PTT_CANCEL, keeping default", "value", v, "error", err)
		}
	}
	if v, err := strconv.Atoi(os.Getenv("PTT_TIMEOUT_MS")); err == nil && v >= 0 {
		cfg.MaxDuration = time.Duration(v) * time.Millisecond
	}
	if v, err := strconv.Atoi(os.Getenv("PTT_MIN_DURATION_MS")); err == nil && v >= 0 {
		cfg.MinDuration = time.Duration(v) * time.Millisecond
	}
	if v, err := strconv.Atoi(os.Getenv("PTT_SILENCE_THRESHOLD_MS")); err == nil && v > 0 {
		cfg.SilenceThreshold = time.Duration(v) * time.Millisecond
	}
	if v, err := strconv.Atoi(os.Getenv("PTT_VAD_AGGRESSIVENESS")); err == nil {
		cfg.VADAggressiveness = v
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// newTranscriber selects the STT provider from STT_PROVIDER (groq default).
func newTranscriber(logger *charmlog.Logger) stt.Transcriber {
	switch os.Getenv("STT_PROVIDER") {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			logger.Fatal("OPENAI_API_KEY must be set for openai STT")
		}
		return stt.NewOpenAI(key, os.Getenv("OPENAI_STT_MODEL"))
	default:
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			logger.Fatal("GROQ_API_KEY must be set for groq STT")
		}
		return stt.NewGroq(key, os.Getenv("GROQ_STT_MODEL"))
	}
}

// speaker plays synthesized transcripts back through the default output
// device. nil when no LOKUTOR_API_KEY is configured.
type speaker struct {
	tts   *tts.Lokutor
	voice string
}

func newSpeaker(logger tts.Logger) *speaker {
	key := os.Getenv("LOKUTOR_API_KEY")
	if key == "" {
		return nil
	}
	voice := os.Getenv("LOKUTOR_VOICE")
	if voice == "" {
		voice = "F1"
	}
	return &speaker{tts: tts.NewLokutor(key, logger), voice: voice}
}

// say synthesizes text and blocks until playback drains.
func (s *speaker) say(ctx context.Context, text, lang string) error {
	pcm, err := s.tts.Synthesize(ctx, text, s.voice, lang)
	if err != nil {
		return err
	}
	return playPCM(ctx, audio.PCMBytes(pcm), tts.SampleRate)
}

// playPCM pushes little-endian int16 PCM to the default playback device.
func playPCM(ctx context.Context, pcm []byte, sampleRate int) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}
	defer mctx.Uninit()

	var mu sync.Mutex
	remaining := pcm
	done := make(chan struct{})
	var closed bool

	onData := func(output, _ []byte, _ uint32) {
		mu.Lock()
		defer mu.Unlock()
		n := copy(output, remaining)
		remaining = remaining[n:]
		for i := n; i < len(output); i++ {
			output[i] = 0
		}
		if len(remaining) == 0 && !closed {
			closed = true
			close(done)
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return err
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
