package app

import (
	"github.com/vocalis-health/vocalis/internal/config"
	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/pkg/audio"
	"github.com/vocalis-health/vocalis/pkg/audio/capture"
	"github.com/vocalis-health/vocalis/pkg/audio/playback"
)

// newCaptureFactory builds per-session microphone pipelines from the audio
// config. Each session gets its own pipeline so independent sessions never
// share device state.
func newCaptureFactory(cfg config.AudioConfig) interview.CaptureFactory {
	return func() (interview.Capture, error) {
		src := capture.NewDeviceSource(cfg.InputDevice, audio.SessionFormat)
		return capture.NewPipeline(src, audio.SessionFormat, cfg.FrameDuration.Std()), nil
	}
}

// newPlaybackFactory builds per-session playback schedulers. An empty output
// device means headless operation: audio is scheduled and timed normally but
// discarded, which keeps echo gating and phase transitions intact.
func newPlaybackFactory(cfg config.AudioConfig) func() interview.Playback {
	return func() interview.Playback {
		var sink playback.Sink
		if cfg.OutputDevice == "" {
			sink = playback.Discard{}
		} else {
			sink = playback.NewDeviceSink(cfg.OutputDevice, audio.SessionFormat)
		}
		return playback.NewScheduler(sink, audio.SessionFormat)
	}
}
