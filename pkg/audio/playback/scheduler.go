// Package playback implements gapless scheduling of the remote party's
// synthesised speech. Frames arriving from the channel are laid out
// back-to-back on a virtual play cursor; the number of not-yet-finished
// buffers is tracked so the session controller can detect when speech
// playback has drained.
package playback

import (
	"sync"
	"time"

	"github.com/vocalis-health/vocalis/pkg/audio"
)

// Clock abstracts time for the scheduler so tests can drive completions
// deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback, as returned by [Clock.AfterFunc].
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithClock overrides the wall clock. Used in tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// Scheduler plays PCM frames gaplessly through a Sink.
//
// Frames are scheduled at a monotonically advancing virtual cursor: each
// frame starts exactly where the previous one ends, and a cursor that has
// fallen behind the wall clock (buffer underrun) snaps forward to now rather
// than drifting backward. When the count of unfinished buffers reaches zero
// while no new audio is being received, a drain notification is emitted;
// the session controller uses it for the playing → listening transition.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	sink   Sink
	format audio.Format
	clock  Clock

	drained chan struct{}

	mu        sync.Mutex
	cursor    time.Time
	pending   int
	receiving bool
	timers    []Timer
	gen       uint64 // invalidates in-flight completions after Stop
}

// NewScheduler creates a scheduler writing to sink in the given format.
func NewScheduler(sink Sink, format audio.Format, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:    sink,
		format:  format,
		clock:   realClock{},
		drained: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule appends one frame to the play queue. The frame is written to the
// sink immediately (sinks buffer ahead); its completion is tracked against
// the virtual cursor.
func (s *Scheduler) Schedule(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	s.mu.Lock()
	now := s.clock.Now()
	if s.cursor.Before(now) {
		s.cursor = now
	}
	dur := s.format.Duration(len(pcm))
	s.cursor = s.cursor.Add(dur)
	s.pending++
	gen := s.gen
	t := s.clock.AfterFunc(s.cursor.Sub(now), func() { s.bufferDone(gen) })
	s.timers = append(s.timers, t)
	s.mu.Unlock()

	return s.sink.Write(pcm)
}

func (s *Scheduler) bufferDone(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if s.pending > 0 {
		s.pending--
	}
	if s.pending == 0 && !s.receiving {
		s.signalDrainedLocked()
	}
}

// SetReceiving marks whether new frames are still arriving from the channel.
// Clearing it with an empty queue emits the drain notification, covering the
// case where the peer's audio-done event trails the last buffer completion.
func (s *Scheduler) SetReceiving(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiving = on
	if !on && s.pending == 0 {
		s.signalDrainedLocked()
	}
}

func (s *Scheduler) signalDrainedLocked() {
	select {
	case s.drained <- struct{}{}:
	default:
	}
}

// Drained returns a channel that receives a value whenever the last
// scheduled buffer finishes while no new audio is inbound.
func (s *Scheduler) Drained() <-chan struct{} { return s.drained }

// Pending returns the number of scheduled-but-unfinished buffers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stop discards the entire pending schedule and resets the cursor and count
// to zero. Stale drain notifications are cleared. The scheduler can be
// reused after Stop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.gen++
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.pending = 0
	s.cursor = time.Time{}
	s.receiving = false
	s.mu.Unlock()

	select {
	case <-s.drained:
	default:
	}
}

// Close stops the scheduler and closes the sink.
func (s *Scheduler) Close() error {
	s.Stop()
	return s.sink.Close()
}
