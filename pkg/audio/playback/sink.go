package playback

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/vocalis-health/vocalis/pkg/audio"
)

// Sink receives ordered PCM16 audio for playback. Implementations are
// expected to buffer ahead; Write must not block for the duration of the
// audio it receives.
type Sink interface {
	Write(pcm []byte) error
	Close() error
}

// ── DeviceSink ─────────────────────────────────────────────────────────────────

// DeviceSink plays through an ALSA output device by piping raw S16_LE audio
// into aplay.
type DeviceSink struct {
	device string
	format audio.Format

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewDeviceSink creates a sink for the named ALSA device ("" means the
// system default). The aplay process is spawned lazily on first write.
func NewDeviceSink(device string, format audio.Format) *DeviceSink {
	return &DeviceSink{device: device, format: format}
}

// Write implements [Sink].
func (s *DeviceSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		args := []string{
			"-f", "S16_LE",
			"-r", strconv.Itoa(s.format.SampleRate),
			"-c", strconv.Itoa(s.format.Channels),
			"-t", "raw",
		}
		if s.device != "" {
			args = append(args, "-D", s.device)
		}
		cmd := exec.Command("aplay", args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("playback: stdin pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("playback: start aplay: %w", err)
		}
		s.cmd = cmd
		s.stdin = stdin
	}

	if _, err := s.stdin.Write(pcm); err != nil {
		return fmt.Errorf("playback: write: %w", err)
	}
	return nil
}

// Close implements [Sink]. It closes the audio stream and waits for aplay
// to finish draining.
func (s *DeviceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return nil
	}
	_ = s.stdin.Close()
	err := s.cmd.Wait()
	s.cmd = nil
	s.stdin = nil
	return err
}

// ── Discard ────────────────────────────────────────────────────────────────────

// Discard is a Sink that swallows all audio. Useful for headless sessions
// where only the transcript and answer extraction matter.
type Discard struct{}

// Write implements [Sink].
func (Discard) Write([]byte) error { return nil }

// Close implements [Sink].
func (Discard) Close() error { return nil }
