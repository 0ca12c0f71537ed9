// Package mock provides a scriptable capture source for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vocalis-health/vocalis/pkg/audio"
	"github.com/vocalis-health/vocalis/pkg/audio/capture"
)

// Compile-time assertion that Source satisfies the capture interface.
var _ capture.Source = (*Source)(nil)

// Source is a capture.Source fed manually from tests via [Source.Emit].
type Source struct {
	// Fmt is the format reported by Format. Defaults to the session
	// format when zero.
	Fmt audio.Format

	// StartErr, when non-nil, is returned by Start.
	StartErr error

	mu      sync.Mutex
	ch      chan []byte
	started bool
	closed  bool

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Start implements capture.Source.
func (s *Source) Start(ctx context.Context) (<-chan []byte, error) {
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = make(chan []byte, 64)
	s.started = true
	go func() {
		<-ctx.Done()
		s.End()
	}()
	return s.ch, nil
}

// Emit pushes one raw chunk into the stream. No-op after End.
func (s *Source) Emit(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil || s.closed {
		return
	}
	s.ch <- chunk
}

// End terminates the stream, simulating device loss. Idempotent.
func (s *Source) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil && !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// Format implements capture.Source.
func (s *Source) Format() audio.Format {
	if s.Fmt == (audio.Format{}) {
		return audio.SessionFormat
	}
	return s.Fmt
}

// Close implements capture.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.End()
	return nil
}
