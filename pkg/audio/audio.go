// Package audio defines the frame type and PCM16 helpers shared by the
// capture and playback pipelines. All audio inside a session flows as
// little-endian 16-bit PCM frames at a single format negotiated at session
// start (24 kHz mono unless configured otherwise).
package audio

import "time"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SessionFormat is the format negotiated with the realtime peer: 24 kHz mono
// PCM16, matching the wire protocol's pcm16 audio encoding.
var SessionFormat = Format{SampleRate: 24000, Channels: 1}

// BytesPerSecond returns the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// BytesFor returns the number of PCM16 bytes covering duration d, rounded
// down to a whole sample.
func (f Format) BytesFor(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%(f.Channels*2)
}

// Duration returns the play time of n PCM16 bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Frame is one fixed-size unit of PCM16 samples flowing through the pipeline.
// Frames are immutable once emitted; consumers must not mutate PCM.
type Frame struct {
	// PCM holds little-endian int16 samples.
	PCM []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is no longer needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
