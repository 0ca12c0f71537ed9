package interview

import (
	"errors"

	"github.com/vocalis-health/vocalis/pkg/audio/capture"
)

// ErrDeviceUnavailable is returned when the input device cannot be acquired
// or has been revoked. It aliases the capture package's sentinel so callers
// can match either.
var ErrDeviceUnavailable = capture.ErrDeviceUnavailable

var (
	// ErrTokenAcquisition wraps failures to mint a session credential.
	ErrTokenAcquisition = errors.New("interview: token acquisition failed")

	// ErrChannelOpen wraps failures to open the realtime channel.
	ErrChannelOpen = errors.New("interview: channel open failed")

	// ErrReconnectExhausted is surfaced after the reconnect attempt budget
	// is spent without restoring the channel.
	ErrReconnectExhausted = errors.New("interview: connection lost, reconnect attempts exhausted")

	// ErrTerminal is returned by commands issued against a completed or
	// errored session.
	ErrTerminal = errors.New("interview: session is terminal")

	// ErrNotPaused is returned by Resume when the session is not paused.
	ErrNotPaused = errors.New("interview: session is not paused")

	// ErrAlreadyStarted is returned by Start on a session that already ran.
	ErrAlreadyStarted = errors.New("interview: session already started")
)
