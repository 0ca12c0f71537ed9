package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vocalis-health/vocalis/internal/api"
	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/observe"
	"github.com/vocalis-health/vocalis/internal/store/postgres"
	"github.com/vocalis-health/vocalis/internal/template"
)

// reportTimeout bounds the post-session summary generation.
const reportTimeout = 2 * time.Minute

// SessionStore is the slice of the record store the manager needs to start
// sessions. *postgres.Store satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, recordID string) (*postgres.Session, error)
	GetRecord(ctx context.Context, id string) (*postgres.Record, error)
}

// ReportGenerator produces the post-session clinical summary.
// *report.Reporter satisfies it.
type ReportGenerator interface {
	Generate(ctx context.Context, sessionID string, schema *template.Schema, answers interview.AnswerSet, transcript []interview.TranscriptEntry) (string, error)
}

// SessionManagerConfig wires a SessionManager. Store, Recorder, Templates,
// Dial, NewCapture and NewPlayback are required; the rest default to no-ops.
type SessionManagerConfig struct {
	Store       SessionStore
	Recorder    interview.Recorder
	Templates   *template.Registry
	Dial        interview.DialFunc
	NewCapture  interview.CaptureFactory
	NewPlayback func() interview.Playback

	// Reporter is optional. When set, a summary is generated after every
	// session that completes normally.
	Reporter ReportGenerator

	// Policy overrides the controller's default turn-taking policy.
	Policy interview.TurnPolicy

	Observer interview.Observer
	Metrics  *observe.Metrics

	MaxReconnects   int
	ReconnectDelays []time.Duration

	Logger *slog.Logger
}

type managedSession struct {
	ctrl   *interview.Controller
	cancel context.CancelFunc
	schema *template.Schema
}

// SessionManager owns the live interview controllers. It implements
// [api.SessionService]: sessions are started against stored records,
// driven over their lifecycle, and watched to completion so the summary
// and final persistence happen even when no client is polling.
type SessionManager struct {
	cfg SessionManagerConfig
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
	closed   bool

	wg sync.WaitGroup
}

var _ api.SessionService = (*SessionManager)(nil)

// NewSessionManager builds a manager with no active sessions.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*managedSession),
	}
}

// StartSession creates a session row for the record, seeds the controller
// with the record's intake data and launches it. The controller runs on a
// context detached from the request: an impatient HTTP client must not kill
// a live interview.
func (m *SessionManager) StartSession(ctx context.Context, recordID, templateID string) (interview.Snapshot, error) {
	schema, ok := m.cfg.Templates.Get(templateID)
	if !ok {
		return interview.Snapshot{}, fmt.Errorf("app: unknown template %q", templateID)
	}

	rec, err := m.cfg.Store.GetRecord(ctx, recordID)
	if err != nil {
		return interview.Snapshot{}, fmt.Errorf("app: load record: %w", err)
	}

	sess, err := m.cfg.Store.CreateSession(ctx, recordID)
	if err != nil {
		return interview.Snapshot{}, fmt.Errorf("app: create session: %w", err)
	}

	ctrl := interview.NewController(interview.Config{
		SessionID:       sess.ID,
		Schema:          schema,
		Prefill:         rec.Data,
		Dial:            m.cfg.Dial,
		NewCapture:      m.cfg.NewCapture,
		Playback:        m.cfg.NewPlayback(),
		Recorder:        m.cfg.Recorder,
		Policy:          m.cfg.Policy,
		Observer:        m.cfg.Observer,
		MaxReconnects:   m.cfg.MaxReconnects,
		ReconnectDelays: m.cfg.ReconnectDelays,
		Logger:          m.log,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ms := &managedSession{ctrl: ctrl, cancel: cancel, schema: schema}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return interview.Snapshot{}, fmt.Errorf("app: session manager is shut down")
	}
	m.sessions[sess.ID] = ms
	m.mu.Unlock()

	if err := ctrl.Start(runCtx); err != nil {
		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()
		cancel()
		return interview.Snapshot{}, fmt.Errorf("app: start session: %w", err)
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SessionStarted(runCtx)
	}
	observe.WithSession(ctx, m.log, sess.ID).Info("session started",
		"record_id", recordID, "template", templateID)

	m.wg.Add(1)
	go m.watch(runCtx, sess.ID, ms)

	return ctrl.Snapshot(), nil
}

// watch blocks until the controller terminates, then flushes persistence,
// updates the session gauge and, for normal completions, generates the
// summary report.
func (m *SessionManager) watch(ctx context.Context, sessionID string, ms *managedSession) {
	defer m.wg.Done()
	defer ms.cancel()

	// runCtx preserves the starting request's span values, so the bound
	// logger carries its trace ID even after that request has returned.
	log := observe.WithSession(ctx, m.log, sessionID)

	<-ms.ctrl.Done()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SessionEnded(context.WithoutCancel(ctx))
	}
	if m.cfg.Recorder != nil {
		m.cfg.Recorder.Flush(sessionID)
	}

	snap := ms.ctrl.Snapshot()
	log.Info("session ended", "phase", snap.Phase)

	if snap.Phase == interview.PhaseCompleted && m.cfg.Reporter != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
		if _, err := m.cfg.Reporter.Generate(rctx, sessionID, ms.schema, snap.Answers, snap.Transcript); err != nil {
			log.Error("summary generation failed", "err", err)
		}
	}
}

// Session returns the live snapshot for a managed session. Terminal sessions
// stay readable until Shutdown.
func (m *SessionManager) Session(id string) (interview.Snapshot, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return interview.Snapshot{}, err
	}
	return ms.ctrl.Snapshot(), nil
}

// Pause suspends a live session.
func (m *SessionManager) Pause(ctx context.Context, id string) error {
	ms, err := m.lookup(id)
	if err != nil {
		return err
	}
	return ms.ctrl.Pause(ctx)
}

// Resume reopens a paused session.
func (m *SessionManager) Resume(ctx context.Context, id string) error {
	ms, err := m.lookup(id)
	if err != nil {
		return err
	}
	return ms.ctrl.Resume(ctx)
}

// Complete ends a session on user request.
func (m *SessionManager) Complete(ctx context.Context, id string) error {
	ms, err := m.lookup(id)
	if err != nil {
		return err
	}
	return ms.ctrl.Complete(ctx)
}

func (m *SessionManager) lookup(id string) (*managedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, api.ErrSessionNotFound
	}
	return ms, nil
}

// Shutdown completes every live session and waits for the watchers to
// drain, bounded by ctx. New sessions are refused afterwards.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	active := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		active = append(active, ms)
	}
	m.mu.Unlock()

	for _, ms := range active {
		if ms.ctrl.Snapshot().Phase.Terminal() {
			continue
		}
		if err := ms.ctrl.Complete(ctx); err != nil {
			ms.cancel()
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: session shutdown: %w", ctx.Err())
	}
}
