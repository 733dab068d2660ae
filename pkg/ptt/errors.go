package ptt

import "errors"

// Sentinel error kinds. Invalid state transitions and transient keyboard
// read errors never cross the package boundary (they are logged and
// recovered locally), so those stay unexported.
var (
	// ErrPermissionDenied means keyboard monitoring was refused by OS policy
	// (macOS Accessibility not granted, Wayland lacks global capture, etc.).
	ErrPermissionDenied = errors.New("keyboard monitoring not permitted by OS policy")

	// ErrUnsupported means no suitable keyboard or audio backend exists on
	// this host (e.g. headless).
	ErrUnsupported = errors.New("no suitable keyboard/audio backend available")

	// ErrNoInputDevice means the default audio input device could not be found.
	ErrNoInputDevice = errors.New("no audio input device available")

	// ErrDeviceBusy means the audio input device is already in use.
	ErrDeviceBusy = errors.New("audio input device is busy")

	// ErrDeviceError is an audio device acquisition or streaming failure.
	ErrDeviceError = errors.New("audio device error")

	// ErrInvalidConfig means a chord string failed to parse, an
	// aggressiveness value was out of range, or a duration was negative.
	ErrInvalidConfig = errors.New("invalid push-to-talk configuration")

	// ErrAlreadyRunning means KeyboardSource.Start was called while already running.
	ErrAlreadyRunning = errors.New("keyboard source already running")

	// ErrInternal is the catch-all for unexpected worker-thread failures.
	ErrInternal = errors.New("internal push-to-talk error")

	// errInvalidTransition is raised internally by the state machine only;
	// Controller recovers it (logs and drops the event) and it never
	// propagates to a caller.
	errInvalidTransition = errors.New("invalid state transition")
)
