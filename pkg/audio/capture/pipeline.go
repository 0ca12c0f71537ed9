package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vocalis-health/vocalis/pkg/audio"
)

const (
	// defaultChunkDuration is the device read granularity.
	defaultChunkDuration = 40 * time.Millisecond

	// sourceBuffer is the buffer depth of the raw device chunk channel.
	sourceBuffer = 16

	// frameBuffer is the buffer depth of the outbound frame channel. When
	// the consumer falls behind, the oldest behaviour is to drop the new
	// frame rather than block the capture goroutine.
	frameBuffer = 32
)

// Pipeline converts a device Source's raw chunk stream into fixed-size
// frames in the session format and exposes a forwarding gate.
//
// The gate implements echo suppression: while the remote party's synthesised
// speech is playing, the pipeline keeps draining the device (so the stream
// does not underrun) but emits nothing, preventing the speaker output from
// being captured as user speech.
//
// A Pipeline consumes its Source exactly once; it is not restartable. On
// resume after a pause the caller re-opens the gate, or builds a fresh
// Pipeline from a new Source when the device stream has died.
type Pipeline struct {
	src      Source
	frameLen int
	format   audio.Format

	forward atomic.Bool
	out     chan audio.Frame

	mu      sync.Mutex
	started bool
	alive   atomic.Bool
}

// NewPipeline creates a pipeline emitting frames of frameDuration in the
// session format. The gate starts open.
func NewPipeline(src Source, format audio.Format, frameDuration time.Duration) *Pipeline {
	if frameDuration <= 0 {
		frameDuration = defaultChunkDuration
	}
	p := &Pipeline{
		src:      src,
		format:   format,
		frameLen: format.BytesFor(frameDuration),
		out:      make(chan audio.Frame, frameBuffer),
	}
	p.forward.Store(true)
	return p
}

// Start begins consuming the source. The frame channel is closed when the
// device stream ends or ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("capture: pipeline already started")
	}

	chunks, err := p.src.Start(ctx)
	if err != nil {
		return err
	}
	p.started = true
	p.alive.Store(true)

	go p.run(chunks)
	return nil
}

func (p *Pipeline) run(chunks <-chan []byte) {
	defer close(p.out)
	defer p.alive.Store(false)

	conv := audio.Converter{Source: p.src.Format(), Target: p.format}

	var (
		pending  []byte
		captured int // total session-format bytes seen, for timestamps
	)
	for chunk := range chunks {
		pcm := conv.Convert(chunk)
		if len(pcm) == 0 {
			continue
		}
		pending = append(pending, pcm...)

		for len(pending) >= p.frameLen {
			frame := audio.Frame{
				PCM:       pending[:p.frameLen:p.frameLen],
				Timestamp: p.format.Duration(captured),
			}
			pending = pending[p.frameLen:]
			captured += p.frameLen

			if !p.forward.Load() {
				continue
			}
			select {
			case p.out <- frame:
			default:
				// Consumer is behind; dropping is preferable to
				// stalling the device read.
			}
		}
	}
}

// Frames returns the outbound frame channel.
func (p *Pipeline) Frames() <-chan audio.Frame { return p.out }

// SetForward opens or closes the forwarding gate. Frames are still consumed
// from the device while the gate is closed.
func (p *Pipeline) SetForward(on bool) { p.forward.Store(on) }

// Alive reports whether the underlying device stream is still producing.
func (p *Pipeline) Alive() bool { return p.alive.Load() }

// Stop closes the gate and releases the device.
func (p *Pipeline) Stop() error {
	p.forward.Store(false)
	return p.src.Close()
}
