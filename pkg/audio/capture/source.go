// Package capture implements the microphone capture pipeline: a Source
// abstracts the input device, and a Pipeline re-chunks the device stream
// into fixed-size session-format frames with a forwarding gate used for
// echo suppression while the remote party's speech is playing.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/vocalis-health/vocalis/pkg/audio"
)

// ErrDeviceUnavailable is returned when the input device cannot be opened or
// has been revoked mid-stream.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// Source captures raw PCM16 audio from an input device. A Source produces a
// single non-restartable stream: once Start has been called and the stream
// ends, a fresh Source must be acquired.
type Source interface {
	// Start begins capture and returns the raw PCM chunk stream. The
	// channel is closed when the device stream ends or ctx is cancelled.
	Start(ctx context.Context) (<-chan []byte, error)

	// Format reports the device's native PCM format.
	Format() audio.Format

	// Close releases the device. Safe to call multiple times.
	Close() error
}

// ── ReaderSource ───────────────────────────────────────────────────────────────

// ReaderSource adapts an io.Reader of raw PCM16 into a Source. It underlies
// the arecord-backed device source and is directly useful in tests and for
// replaying captured audio files.
type ReaderSource struct {
	r         io.Reader
	format    audio.Format
	chunkSize int

	mu      sync.Mutex
	started bool
	closer  io.Closer
}

// NewReaderSource wraps r, emitting chunks of chunkSize bytes in the given
// format. If r implements io.Closer it is closed by Close.
func NewReaderSource(r io.Reader, format audio.Format, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = format.BytesFor(defaultChunkDuration)
	}
	s := &ReaderSource{r: r, format: format, chunkSize: chunkSize}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Start implements [Source]. A ReaderSource can be started only once.
func (s *ReaderSource) Start(ctx context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, fmt.Errorf("capture: reader source already started")
	}
	s.started = true

	out := make(chan []byte, sourceBuffer)
	go func() {
		defer close(out)
		for {
			buf := make([]byte, s.chunkSize)
			n, err := io.ReadFull(s.r, buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

// Format implements [Source].
func (s *ReaderSource) Format() audio.Format { return s.format }

// Close implements [Source].
func (s *ReaderSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// ── DeviceSource ───────────────────────────────────────────────────────────────

// DeviceSource captures from an ALSA input device by running arecord with
// raw S16_LE output. It requests the session format directly so no
// conversion is needed downstream.
type DeviceSource struct {
	device string
	format audio.Format

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
}

// NewDeviceSource creates a source for the named ALSA device ("" means the
// system default).
func NewDeviceSource(device string, format audio.Format) *DeviceSource {
	return &DeviceSource{device: device, format: format}
}

// Start implements [Source]. It spawns arecord and streams its stdout. A
// missing binary or unopenable device maps to [ErrDeviceUnavailable].
func (s *DeviceSource) Start(ctx context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, fmt.Errorf("capture: device source already started")
	}

	args := []string{
		"-f", "S16_LE",
		"-r", strconv.Itoa(s.format.SampleRate),
		"-c", strconv.Itoa(s.format.Channels),
		"-t", "raw",
	}
	if s.device != "" {
		args = append(args, "-D", s.device)
	}

	cmd := exec.CommandContext(ctx, "arecord", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: arecord: %v", ErrDeviceUnavailable, err)
	}
	s.cmd = cmd
	s.started = true

	chunkSize := s.format.BytesFor(defaultChunkDuration)
	out := make(chan []byte, sourceBuffer)
	go func() {
		defer close(out)
		defer cmd.Wait()
		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

// Format implements [Source].
func (s *DeviceSource) Format() audio.Format { return s.format }

// Close implements [Source]. It terminates the arecord process.
func (s *DeviceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		s.cmd = nil
	}
	return nil
}
