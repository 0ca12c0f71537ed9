// Package persist buffers session state between the interview controller
// and the record store. Rapid successive merges coalesce into one debounced
// write; pause and completion flush immediately. Writes are fire-and-forget
// from the controller's point of view: a failure is logged, the state stays
// dirty, and the next tick or flush retries it.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vocalis-health/vocalis/internal/interview"
)

// DefaultDebounce is the quiet period before a coalesced write.
const DefaultDebounce = 5 * time.Second

// writeTimeout bounds one store write.
const writeTimeout = 10 * time.Second

// SessionUpdate is a partial session status update. Nil fields are left
// untouched by the store.
type SessionUpdate struct {
	Status         *string
	CurrentSection *string
}

// Store is the external record store boundary. Both operations are
// idempotent partial updates: they must not clobber data absent from the
// payload.
type Store interface {
	// MergeAnswers merges field values into the session's record.
	MergeAnswers(ctx context.Context, sessionID string, answers interview.AnswerSet) error

	// UpdateSession applies a partial status update.
	UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error

	// AppendTranscript appends entries to the session transcript.
	AppendTranscript(ctx context.Context, sessionID string, entries []interview.TranscriptEntry) error
}

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway)

// WithDebounce overrides the debounce quiet period.
func WithDebounce(d time.Duration) Option {
	return func(g *Gateway) { g.debounce = d }
}

// WithLogger overrides the gateway's logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// Gateway implements [interview.Recorder] over a [Store].
type Gateway struct {
	store    Store
	debounce time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*dirty
	wg       sync.WaitGroup
	closed   bool
}

// dirty is the unwritten state of one session.
type dirty struct {
	timer      *time.Timer
	answers    interview.AnswerSet
	update     *SessionUpdate
	transcript []interview.TranscriptEntry
	writing    bool

	// flush records a Flush that arrived while a write was in flight:
	// state taken since then is written immediately when the write
	// returns instead of waiting out another quiet period.
	flush bool
}

var _ interview.Recorder = (*Gateway)(nil)

// NewGateway creates a gateway over store.
func NewGateway(store Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		debounce: DefaultDebounce,
		log:      slog.Default(),
		sessions: make(map[string]*dirty),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RecordAnswers schedules a debounced merge write. Successive calls within
// the quiet period coalesce: only the latest answer set is written.
func (g *Gateway) RecordAnswers(sessionID string, answers interview.AnswerSet) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.entryLocked(sessionID)
	d.answers = answers
	g.armLocked(sessionID, d)
}

// RecordTranscript appends one entry to the pending transcript batch.
func (g *Gateway) RecordTranscript(sessionID string, entry interview.TranscriptEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.entryLocked(sessionID)
	d.transcript = append(d.transcript, entry)
	g.armLocked(sessionID, d)
}

// RecordStatus schedules a debounced session status update.
func (g *Gateway) RecordStatus(sessionID string, phase interview.Phase, currentSection string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.entryLocked(sessionID)
	status := string(phase)
	if d.update == nil {
		d.update = &SessionUpdate{}
	}
	d.update.Status = &status
	if currentSection != "" {
		section := currentSection
		d.update.CurrentSection = &section
	}
	g.armLocked(sessionID, d)
}

// Flush writes the session's pending state immediately, cancelling any
// debounce timer. Non-blocking: the write itself runs on a background
// goroutine.
func (g *Gateway) Flush(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.sessions[sessionID]
	if !ok {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.writing {
		d.flush = true
		return
	}
	g.startWriteLocked(sessionID, d)
}

// Close flushes every session and waits for in-flight writes. The gateway
// accepts no new state afterwards.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	for id, d := range g.sessions {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		if d.writing {
			d.flush = true
			continue
		}
		g.startWriteLocked(id, d)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persist: close: %w", ctx.Err())
	}
}

func (g *Gateway) entryLocked(sessionID string) *dirty {
	d, ok := g.sessions[sessionID]
	if !ok {
		d = &dirty{}
		g.sessions[sessionID] = d
	}
	return d
}

// armLocked starts the debounce timer unless one is already running or a
// write is in flight (the write re-arms on completion if needed).
func (g *Gateway) armLocked(sessionID string, d *dirty) {
	if g.closed || d.timer != nil || d.writing {
		return
	}
	d.timer = time.AfterFunc(g.debounce, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		d.timer = nil
		g.startWriteLocked(sessionID, d)
	})
}

// startWriteLocked takes the pending state and writes it on a background
// goroutine. A failed write puts the state back and re-arms the debounce so
// it is retried.
func (g *Gateway) startWriteLocked(sessionID string, d *dirty) {
	if d.writing {
		return
	}
	answers, update, transcript := d.answers, d.update, d.transcript
	if answers == nil && update == nil && len(transcript) == 0 {
		return
	}
	d.answers, d.update, d.transcript = nil, nil, nil
	d.writing = true

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		err := g.write(ctx, sessionID, answers, update, transcript)

		g.mu.Lock()
		defer g.mu.Unlock()
		d.writing = false
		if err != nil {
			g.log.Warn("persist write failed, will retry", "session_id", sessionID, "err", err)
			g.requeueLocked(d, answers, update, transcript)
		}
		if d.answers == nil && d.update == nil && len(d.transcript) == 0 {
			d.flush = false
			return
		}
		// State recorded during the write needs its own write: right
		// away when a flush asked for it or the gateway is closing,
		// on the debounce otherwise.
		if d.flush || g.closed {
			d.flush = false
			g.startWriteLocked(sessionID, d)
			return
		}
		g.armLocked(sessionID, d)
	}()
}

func (g *Gateway) write(ctx context.Context, sessionID string, answers interview.AnswerSet, update *SessionUpdate, transcript []interview.TranscriptEntry) error {
	if answers != nil {
		if err := g.store.MergeAnswers(ctx, sessionID, answers); err != nil {
			return fmt.Errorf("merge answers: %w", err)
		}
	}
	if len(transcript) > 0 {
		if err := g.store.AppendTranscript(ctx, sessionID, transcript); err != nil {
			return fmt.Errorf("append transcript: %w", err)
		}
	}
	if update != nil {
		if err := g.store.UpdateSession(ctx, sessionID, *update); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}
	return nil
}

// requeueLocked puts failed state back without clobbering anything recorded
// since the write started: newer answers and status win, transcript entries
// are re-queued in front to preserve append order.
func (g *Gateway) requeueLocked(d *dirty, answers interview.AnswerSet, update *SessionUpdate, transcript []interview.TranscriptEntry) {
	if d.answers == nil {
		d.answers = answers
	}
	if d.update == nil {
		d.update = update
	}
	if len(transcript) > 0 {
		d.transcript = append(transcript, d.transcript...)
	}
}
