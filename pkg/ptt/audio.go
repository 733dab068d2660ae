package ptt

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// frameSamples is 20ms at 16kHz mono: 320 samples.
const frameSamples = Sample16kHz20ms

// backoffSchedule is the recoverable-error reopen schedule: 50ms, 150ms,
// 450ms.
var backoffSchedule = []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 450 * time.Millisecond}

// AudioCapture streams 16kHz/mono/int16 PCM from the default input device
// in fixed 20ms frames into an internal append-only buffer while recording,
// using malgo for the device I/O.
type AudioCapture struct {
	mu        sync.Mutex
	sampleHz  int
	channels  int
	logger    Logger

	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running bool

	buf     []int16
	partial []int16        // accumulates a sub-frame remainder between callbacks
	tap     chan AudioFrame // secondary lazy tap for SilenceDetector (Hybrid)
	tapOn   bool

	errCh    chan error // signals a fatal mid-recording device error, once
	stopping int32      // set just before an intentional device.Uninit(), read lock-free from the Stop callback
}

// NewAudioCapture constructs an AudioCapture for the given sample rate /
// channel count (normally 16000/1).
func NewAudioCapture(sampleRate, channels int, logger Logger) *AudioCapture {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &AudioCapture{
		sampleHz: sampleRate,
		channels: channels,
		logger:   logger,
		tap:      make(chan AudioFrame, 64),
		errCh:    make(chan error, 1),
	}
}

// Start opens the default input device and begins streaming. Fails with
// ErrDeviceBusy, ErrNoInputDevice, or ErrDeviceError.
func (c *AudioCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init audio context: %v", ErrDeviceError, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.channels)
	deviceConfig.SampleRate = uint32(c.sampleHz)
	deviceConfig.Alsa.NoMMap = 1

	c.buf = nil
	c.partial = nil
	select {
	case <-c.errCh:
	default:
	}
	atomic.StoreInt32(&c.stopping, 0)

	onData := func(_, input []byte, _ uint32) {
		c.onSamples(input)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onData,
		// Stop fires both when the device fails unexpectedly and when we
		// intentionally Uninit() it from stopLocked (which may invoke this
		// callback synchronously on the calling goroutine, so it must never
		// take c.mu - that goroutine already holds it). stopping is set
		// before the intentional Uninit, so a lock-free read here tells the
		// two cases apart without risking self-deadlock.
		Stop: func() {
			if atomic.LoadInt32(&c.stopping) == 0 {
				select {
				case c.errCh <- ErrDeviceError:
				default:
				}
			}
		},
	})
	if err != nil {
		ctx.Uninit()
		return classifyMalgoError(err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		return classifyMalgoError(err)
	}

	c.ctx = ctx
	c.device = device
	c.running = true
	return nil
}

// classifyMalgoError maps a raw malgo failure onto the package's error
// kinds. malgo does not itself distinguish "busy" from "missing device"
// beyond its error string, so this is a best-effort classification.
func classifyMalgoError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceError, err)
	}
}

// onSamples is the malgo data callback: it accumulates raw bytes into
// 20ms/320-sample frames, appends each complete frame to buf, and (if the
// tap is active) forwards a copy to the SilenceDetector feed. The tap
// never removes frames from the primary buffer.
func (c *AudioCapture) onSamples(input []byte) {
	samples := bytesToInt16(input)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}

	c.partial = append(c.partial, samples...)
	for len(c.partial) >= frameSamples {
		frame := make([]int16, frameSamples)
		copy(frame, c.partial[:frameSamples])
		c.partial = c.partial[frameSamples:]
		c.buf = append(c.buf, frame...)

		if c.tapOn {
			select {
			case c.tap <- AudioFrame{Samples: frame, FrameMs: 20}:
			default:
				// Tap consumer (SilenceDetector feed) is slow; drop rather
				// than block capture - the primary buffer is unaffected.
			}
		}
	}
}

func bytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

// Stop halts streaming, flushes any partial frame, and returns the
// accumulated samples (possibly empty). Idempotent after the first call.
func (c *AudioCapture) Stop() ([]int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(true)
}

// Discard halts streaming and drops the buffer, used on cancel.
func (c *AudioCapture) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.stopLocked(false)
	return err
}

func (c *AudioCapture) stopLocked(keepBuffer bool) ([]int16, error) {
	if !c.running {
		if keepBuffer {
			out := c.buf
			c.buf = nil
			return out, nil
		}
		c.buf = nil
		return nil, nil
	}

	atomic.StoreInt32(&c.stopping, 1)
	c.running = false
	if len(c.partial) > 0 && keepBuffer {
		// Flush the partial frame as-is rather than zero-pad it; a short
		// trailing frame is still real audio.
		c.buf = append(c.buf, c.partial...)
	}
	c.partial = nil

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		c.ctx.Uninit()
		c.ctx = nil
	}

	var err error
	select {
	case err = <-c.errCh:
	default:
	}

	if !keepBuffer {
		c.buf = nil
		return nil, err
	}
	out := c.buf
	c.buf = nil
	return out, err
}

// EnableTap turns on the secondary frame tap SilenceDetector reads from in
// Hybrid mode. Calling this while not recording is a no-op until Start.
func (c *AudioCapture) EnableTap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tapOn = true
}

// DisableTap turns the tap back off and drains any buffered frames so a
// stale frame from a previous session is never read by a new one.
func (c *AudioCapture) DisableTap() {
	c.mu.Lock()
	c.tapOn = false
	c.mu.Unlock()
	for {
		select {
		case <-c.tap:
		default:
			return
		}
	}
}

// Frames returns the secondary lazy tap used by SilenceDetector in Hybrid
// mode.
func (c *AudioCapture) Frames() <-chan AudioFrame { return c.tap }

// ErrCh signals at most one fatal mid-recording device error (non-blocking,
// buffered by one). Controller selects on this alongside KeyboardSource
// events to react to a capture failure without polling.
func (c *AudioCapture) ErrCh() <-chan error { return c.errCh }

// DeviceError is a non-blocking check for a fatal mid-recording device
// error reported since the last Stop/Discard, without consuming it from
// ErrCh.
func (c *AudioCapture) DeviceError() error {
	select {
	case err := <-c.errCh:
		// Put it back so both ErrCh and a later Stop()/Discard() still see it.
		select {
		case c.errCh <- err:
		default:
		}
		return err
	default:
		return nil
	}
}
