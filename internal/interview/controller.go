package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vocalis-health/vocalis/internal/template"
	"github.com/vocalis-health/vocalis/pkg/audio"
	"github.com/vocalis-health/vocalis/pkg/realtime"
)

// Channel is the outbound surface of one realtime connection. Satisfied by
// [*realtime.Conn]; tests substitute a scripted peer.
type Channel interface {
	Events() <-chan realtime.Event
	AppendAudio(pcm []byte) error
	ClearInput() error
	InjectText(role, text string) error
	CreateResponse() error
	SendFunctionOutput(callID, output string) error
	Close() error
}

// DialFunc opens a fresh channel connection seeded with instructions and
// tools. Implementations mint a new single-use credential per call, so every
// dial (initial, resume, reconnect) gets its own token.
type DialFunc func(ctx context.Context, instructions string, tools []realtime.Tool) (Channel, error)

// Capture is the microphone side of the audio pipeline. Satisfied by
// [*capture.Pipeline].
type Capture interface {
	Start(ctx context.Context) error
	Frames() <-chan audio.Frame
	SetForward(bool)
	Alive() bool
	Stop() error
}

// CaptureFactory acquires a fresh capture pipeline. Called at session start
// and again on resume when the device stream has died.
type CaptureFactory func() (Capture, error)

// Playback is the speaker side. Satisfied by [*playback.Scheduler].
type Playback interface {
	Schedule(pcm []byte) error
	SetReceiving(bool)
	Drained() <-chan struct{}
	Stop()
}

// TranscriptEntry is one utterance in the session transcript. Entries are
// append-only: never mutated or reordered after the fact.
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"` // "agent" or "user"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Section   string    `json:"section,omitempty"`
}

// Recorder receives state for durable storage. All methods are
// fire-and-forget: they must never block the session loop, and a failed
// write is the recorder's problem to retry.
type Recorder interface {
	// RecordAnswers schedules a debounced merge write of the answer set.
	RecordAnswers(sessionID string, answers AnswerSet)

	// RecordTranscript appends one transcript entry.
	RecordTranscript(sessionID string, entry TranscriptEntry)

	// RecordStatus schedules a session status update.
	RecordStatus(sessionID string, phase Phase, currentSection string)

	// Flush writes everything pending immediately, cancelling any debounce.
	Flush(sessionID string)
}

// Observer receives lifecycle notifications for instrumentation. All
// methods must be non-blocking.
type Observer interface {
	PhaseChanged(sessionID string, from, to Phase)
	FunctionCallHandled(name string, ok bool)
	ReconnectAttempted(sessionID string, attempt int, ok bool)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) PhaseChanged(string, Phase, Phase)    {}
func (NopObserver) FunctionCallHandled(string, bool)     {}
func (NopObserver) ReconnectAttempted(string, int, bool) {}

// Reconnect policy defaults.
const defaultMaxReconnects = 3

var defaultReconnectDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Config wires one session controller.
type Config struct {
	SessionID string
	Schema    *template.Schema

	// Prefill seeds the answer set with data captured before the session.
	Prefill map[string]map[string]any

	Dial       DialFunc
	NewCapture CaptureFactory
	Playback   Playback
	Recorder   Recorder

	// Policy is the turn-taking policy. Defaults to [VADPolicy].
	Policy TurnPolicy

	// Observer defaults to [NopObserver].
	Observer Observer

	// MaxReconnects and ReconnectDelays bound the reconnect loop.
	// Defaults: 3 attempts at 1s, 2s, 4s.
	MaxReconnects   int
	ReconnectDelays []time.Duration

	Logger *slog.Logger
}

// Snapshot is a point-in-time copy of the session's observable state.
type Snapshot struct {
	SessionID      string
	Phase          Phase
	Answers        AnswerSet
	Transcript     []TranscriptEntry
	Progress       Progress
	CurrentSection string
	Err            error
}

type cmdKind int

const (
	cmdPause cmdKind = iota
	cmdResume
	cmdComplete
)

type command struct {
	kind  cmdKind
	reply chan error
}

// Controller runs one interview session. All conversation state is owned by
// a single goroutine; commands and snapshots cross into it over channels,
// so the answer set, transcript and phase need no locking.
type Controller struct {
	cfg Config
	log *slog.Logger

	cmds    chan command
	done    chan struct{}
	started atomic.Bool

	// Loop-owned state. Only the run goroutine touches these.
	phase          Phase
	answers        AnswerSet
	transcript     []TranscriptEntry
	currentSection string
	calls          *callAccumulator
	conn           Channel
	capture        Capture
	receivingAudio bool
	lastErr        error

	mu   sync.Mutex
	snap Snapshot
}

// NewController builds a controller in the idle phase. Prefilled sections
// count toward progress and are excluded from the interviewer's questions.
func NewController(cfg Config) *Controller {
	if cfg.Policy == nil {
		cfg.Policy = VADPolicy{}
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	if len(cfg.ReconnectDelays) == 0 {
		cfg.ReconnectDelays = defaultReconnectDelays
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	answers := make(AnswerSet)
	for sec, fields := range cfg.Prefill {
		for f, v := range fields {
			answers.Merge(cfg.Schema, sec, map[string]any{f: v})
		}
	}

	c := &Controller{
		cfg:     cfg,
		log:     log.With("session_id", cfg.SessionID),
		cmds:    make(chan command),
		done:    make(chan struct{}),
		phase:   PhaseIdle,
		answers: answers,
		calls:   newCallAccumulator(),
	}
	c.publish()
	return c
}

// Start acquires the microphone, opens the channel and launches the session
// loop. Device and dial failures are fatal to the attempt: the controller
// lands in the error phase and the wrapped cause is returned.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	pipe, err := c.cfg.NewCapture()
	if err == nil {
		err = pipe.Start(ctx)
	}
	if err != nil {
		c.fail(fmt.Errorf("acquire capture: %w", err))
		close(c.done)
		return c.lastErr
	}
	c.capture = pipe
	c.capture.SetForward(true)

	conn, err := c.dial(ctx)
	if err != nil {
		_ = pipe.Stop()
		c.capture = nil
		c.fail(err)
		close(c.done)
		return c.lastErr
	}
	c.conn = conn

	c.setPhase(PhaseProcessing)
	c.cfg.Recorder.RecordStatus(c.cfg.SessionID, c.phase, c.currentSection)
	go c.run(ctx)
	return nil
}

// Pause quiesces the session: capture stops forwarding, scheduled playback
// is discarded, and pending persistence is flushed immediately.
func (c *Controller) Pause(ctx context.Context) error { return c.send(ctx, cmdPause) }

// Resume continues a paused session, re-acquiring the capture device and
// re-opening the channel as needed.
func (c *Controller) Resume(ctx context.Context) error { return c.send(ctx, cmdResume) }

// Complete finishes the interview: transport torn down, final state written
// immediately. Idempotent.
func (c *Controller) Complete(ctx context.Context) error { return c.send(ctx, cmdComplete) }

// Done is closed when the session loop has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Controller) send(ctx context.Context, kind cmdKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		if kind == cmdComplete && c.Snapshot().Phase == PhaseCompleted {
			return nil
		}
		return ErrTerminal
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the session loop: the single writer for all conversation state.
func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for {
		c.publish()
		if c.phase.Terminal() {
			return
		}

		var events <-chan realtime.Event
		if c.conn != nil {
			events = c.conn.Events()
		}
		var frames <-chan audio.Frame
		if c.capture != nil {
			frames = c.capture.Frames()
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			c.publish()
			return

		case cmd := <-c.cmds:
			cmd.reply <- c.handleCommand(ctx, cmd.kind)

		case frame, ok := <-frames:
			if !ok {
				c.handleCaptureLoss()
				continue
			}
			c.handleFrame(frame)

		case ev, ok := <-events:
			if !ok {
				// Locally closed connection; already replaced or torn down.
				c.conn = nil
				continue
			}
			c.handleEvent(ctx, ev)

		case <-c.cfg.Playback.Drained():
			c.handleDrained()
		}
	}
}

func (c *Controller) handleCommand(ctx context.Context, kind cmdKind) error {
	switch kind {
	case cmdPause:
		return c.pause()
	case cmdResume:
		return c.resume(ctx)
	case cmdComplete:
		c.complete()
		return nil
	}
	return fmt.Errorf("interview: unknown command %d", kind)
}

func (c *Controller) handleFrame(frame audio.Frame) {
	if c.conn == nil {
		return
	}
	switch c.phase {
	case PhaseProcessing, PhaseListening:
		if err := c.conn.AppendAudio(frame.PCM); err != nil {
			c.log.Warn("append audio failed", "err", err)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev realtime.Event) {
	switch ev := ev.(type) {
	case realtime.AudioDelta:
		if c.phase == PhasePaused {
			return
		}
		if !c.receivingAudio {
			c.receivingAudio = true
			// Clear any echo of the previous exchange already sitting in
			// the peer's input buffer, and stop forwarding the mic so the
			// reply is not captured as user speech.
			if err := c.conn.ClearInput(); err != nil {
				c.log.Warn("clear input failed", "err", err)
			}
			if c.capture != nil {
				c.capture.SetForward(false)
			}
			c.cfg.Playback.SetReceiving(true)
		}
		if err := c.cfg.Playback.Schedule(ev.PCM); err != nil {
			c.log.Warn("schedule playback failed", "err", err)
		}
		if c.phase == PhaseProcessing || c.phase == PhaseListening {
			c.setPhase(PhasePlaying)
		}

	case realtime.AudioDone:
		c.receivingAudio = false
		c.cfg.Playback.SetReceiving(false)

	case realtime.AgentTranscript:
		c.appendTranscript("agent", ev.Text)

	case realtime.UserTranscript:
		c.appendTranscript("user", ev.Text)
		switch c.cfg.Policy.Decide(ev.Text) {
		case TurnAdvance:
			if c.conn != nil {
				if err := c.conn.CreateResponse(); err != nil {
					c.log.Warn("request response failed", "err", err)
				}
				c.setPhase(PhaseProcessing)
			}
		case TurnComplete:
			c.complete()
		}

	case realtime.SpeechStarted:
		// The peer's voice-activity detection owns turn boundaries.

	case realtime.SpeechStopped:
		if c.phase == PhaseListening {
			c.setPhase(PhaseProcessing)
		}

	case realtime.FunctionCallDelta:
		c.calls.add(ev.CallID, ev.Name, ev.Delta)

	case realtime.FunctionCallDone:
		name, args := c.calls.finish(ev.CallID, ev.Name, ev.Arguments)
		c.dispatchFunctionCall(ev.CallID, name, args)

	case realtime.ServerError:
		c.log.Warn("peer reported error", "code", ev.Code, "message", ev.Message)

	case realtime.Info:
		// Informational lifecycle event; no action.

	case realtime.Closed:
		c.handleChannelLoss(ctx, ev.Err)
	}
}

func (c *Controller) handleDrained() {
	if c.phase != PhasePlaying {
		return
	}
	if c.capture != nil {
		c.capture.SetForward(true)
	}
	c.setPhase(PhaseListening)
}

// handleCaptureLoss runs when the device stream dies mid-session. The
// session pauses rather than erroring so the user can resume with a fresh
// device.
func (c *Controller) handleCaptureLoss() {
	c.capture = nil
	if !c.phase.Active() {
		return
	}
	c.log.Warn("capture device lost, pausing session")
	c.lastErr = ErrDeviceUnavailable
	_ = c.pause()
}

// ── Function calls ────────────────────────────────────────────────────────────

type saveSectionArgs struct {
	SectionID string         `json:"sectionId"`
	Data      map[string]any `json:"data"`
}

func (c *Controller) dispatchFunctionCall(callID, name, args string) {
	switch name {
	case "save_section_data":
		c.handleSave(callID, args)
	case "complete_session":
		c.ack(callID, true, "")
		c.cfg.Observer.FunctionCallHandled(name, true)
		c.complete()
	default:
		c.log.Warn("unrecognized function call", "name", name, "call_id", callID)
		c.ack(callID, false, "unknown function: "+name)
		c.cfg.Observer.FunctionCallHandled(name, false)
	}
}

func (c *Controller) handleSave(callID, args string) {
	var payload saveSectionArgs
	if err := json.Unmarshal([]byte(args), &payload); err != nil || payload.SectionID == "" || payload.Data == nil {
		c.log.Warn("malformed save_section_data arguments", "call_id", callID, "err", err)
		c.ack(callID, false, "malformed arguments")
		c.cfg.Observer.FunctionCallHandled("save_section_data", false)
		return
	}
	if _, ok := c.cfg.Schema.Section(payload.SectionID); !ok {
		c.log.Warn("save_section_data names unknown section", "section_id", payload.SectionID)
		c.ack(callID, false, "unknown section: "+payload.SectionID)
		c.cfg.Observer.FunctionCallHandled("save_section_data", false)
		return
	}

	applied, dropped := c.answers.Merge(c.cfg.Schema, payload.SectionID, payload.Data)
	if len(dropped) > 0 {
		c.log.Warn("dropped fields not in template", "section_id", payload.SectionID, "fields", dropped)
	}
	c.currentSection = payload.SectionID
	c.log.Info("section data saved", "section_id", payload.SectionID, "fields", applied)

	c.ack(callID, true, "")
	c.cfg.Observer.FunctionCallHandled("save_section_data", true)

	// Filling the last open section completes the interview; an explicit
	// complete_session after this is an idempotent no-op.
	if c.answers.Progress(c.cfg.Schema).Complete() {
		c.cfg.Recorder.RecordAnswers(c.cfg.SessionID, c.answers.Clone())
		c.complete()
		return
	}

	// A handled structured event hands the turn back to the peer: it is
	// now composing the next question, so a listening session is
	// processing again until audio arrives.
	if c.phase == PhaseListening {
		c.setPhase(PhaseProcessing)
	}
	c.cfg.Recorder.RecordAnswers(c.cfg.SessionID, c.answers.Clone())
	c.cfg.Recorder.RecordStatus(c.cfg.SessionID, c.phase, c.currentSection)

	if err := c.conn.CreateResponse(); err != nil {
		c.log.Warn("request response failed", "err", err)
	}
}

func (c *Controller) ack(callID string, ok bool, msg string) {
	if c.conn == nil {
		return
	}
	out := map[string]any{"success": ok}
	if msg != "" {
		out["error"] = msg
	}
	data, _ := json.Marshal(out)
	if err := c.conn.SendFunctionOutput(callID, string(data)); err != nil {
		c.log.Warn("function ack failed", "call_id", callID, "err", err)
	}
}

// ── Lifecycle transitions ─────────────────────────────────────────────────────

func (c *Controller) pause() error {
	if c.phase.Terminal() {
		return ErrTerminal
	}
	if c.phase == PhasePaused {
		return nil
	}
	if c.capture != nil {
		c.capture.SetForward(false)
	}
	c.cfg.Playback.Stop()
	c.receivingAudio = false
	c.setPhase(PhasePaused)
	c.cfg.Recorder.RecordStatus(c.cfg.SessionID, c.phase, c.currentSection)
	c.cfg.Recorder.Flush(c.cfg.SessionID)
	return nil
}

func (c *Controller) resume(ctx context.Context) error {
	if c.phase != PhasePaused {
		if c.phase.Terminal() {
			return ErrTerminal
		}
		return ErrNotPaused
	}

	if c.capture == nil || !c.capture.Alive() {
		pipe, err := c.cfg.NewCapture()
		if err == nil {
			err = pipe.Start(ctx)
		}
		if err != nil {
			return fmt.Errorf("interview: reacquire capture: %w", err)
		}
		c.capture = pipe
	}
	c.capture.SetForward(true)

	if c.conn == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}
		c.conn = conn
		c.calls.reset()
		recap := template.BuildRecap(c.recapEntries(), c.answers.FilledSections(c.cfg.Schema))
		if err := c.conn.InjectText("system", recap); err != nil {
			c.log.Warn("inject recap failed", "err", err)
		}
	} else {
		if err := c.conn.InjectText("user", "Let's continue the interview."); err != nil {
			c.log.Warn("inject continue failed", "err", err)
		}
	}
	if err := c.conn.CreateResponse(); err != nil {
		c.log.Warn("request response failed", "err", err)
	}

	c.lastErr = nil
	c.setPhase(PhaseProcessing)
	c.cfg.Recorder.RecordStatus(c.cfg.SessionID, c.phase, c.currentSection)
	return nil
}

func (c *Controller) complete() {
	if c.phase.Terminal() {
		return
	}
	c.setPhase(PhaseCompleted)
	c.teardownTransport()
	c.cfg.Recorder.RecordAnswers(c.cfg.SessionID, c.answers.Clone())
	c.cfg.Recorder.RecordStatus(c.cfg.SessionID, c.phase, c.currentSection)
	c.cfg.Recorder.Flush(c.cfg.SessionID)
	c.log.Info("session completed", "progress", c.answers.Progress(c.cfg.Schema))
}

func (c *Controller) fail(err error) {
	c.lastErr = err
	c.log.Error("session failed", "err", err)
	if c.phase.Terminal() {
		return
	}
	c.setPhase(PhaseError)
	c.teardownTransport()
	c.cfg.Recorder.RecordStatus(c.cfg.SessionID, c.phase, c.currentSection)
	c.cfg.Recorder.Flush(c.cfg.SessionID)
	c.publish()
}

// shutdown runs on context cancellation: quiesce and flush without marking
// the session terminal, so it can be resumed by a later process.
func (c *Controller) shutdown() {
	if c.phase.Terminal() {
		return
	}
	_ = c.pause()
	c.teardownTransport()
}

func (c *Controller) teardownTransport() {
	if c.capture != nil {
		_ = c.capture.Stop()
		c.capture = nil
	}
	c.cfg.Playback.Stop()
	c.receivingAudio = false
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.calls.reset()
}

// ── Channel loss and reconnect ────────────────────────────────────────────────

func (c *Controller) handleChannelLoss(ctx context.Context, cause error) {
	c.conn = nil
	c.calls.reset()
	if !c.phase.Active() {
		return
	}

	c.log.Warn("channel closed unexpectedly", "err", cause)
	c.cfg.Playback.Stop()
	c.receivingAudio = false
	if c.capture != nil {
		c.capture.SetForward(false)
	}
	c.reconnect(ctx)
}

// reconnect retries the channel with fixed backoff. Each attempt mints a
// fresh credential via the dial func. Commands stay responsive during the
// backoff wait: pause or complete aborts the retry loop. A success resets
// the budget — the next loss starts from attempt one again.
func (c *Controller) reconnect(ctx context.Context) {
	delays := c.cfg.ReconnectDelays
	for attempt := 1; attempt <= c.cfg.MaxReconnects; attempt++ {
		delay := delays[min(attempt-1, len(delays)-1)]
		timer := time.NewTimer(delay)

	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				c.shutdown()
				return
			case cmd := <-c.cmds:
				switch cmd.kind {
				case cmdPause:
					timer.Stop()
					cmd.reply <- c.pause()
					return
				case cmdComplete:
					timer.Stop()
					c.complete()
					cmd.reply <- nil
					return
				default:
					cmd.reply <- ErrNotPaused
				}
			case <-timer.C:
				break wait
			}
		}

		conn, err := c.dial(ctx)
		c.cfg.Observer.ReconnectAttempted(c.cfg.SessionID, attempt, err == nil)
		if err != nil {
			c.log.Warn("reconnect attempt failed",
				"attempt", attempt,
				"max_attempts", c.cfg.MaxReconnects,
				"err", err,
			)
			continue
		}

		c.conn = conn
		recap := template.BuildRecap(c.recapEntries(), c.answers.FilledSections(c.cfg.Schema))
		if err := c.conn.InjectText("system", recap); err != nil {
			c.log.Warn("inject recap failed", "err", err)
		}
		if err := c.conn.CreateResponse(); err != nil {
			c.log.Warn("request response failed", "err", err)
		}
		if c.capture != nil {
			c.capture.SetForward(true)
		}
		c.setPhase(PhaseProcessing)
		c.log.Info("reconnected", "attempt", attempt)
		return
	}

	c.fail(ErrReconnectExhausted)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (c *Controller) dial(ctx context.Context) (Channel, error) {
	instructions := c.cfg.Schema.BuildInstructions(c.answers.Filled())
	conn, err := c.cfg.Dial(ctx, instructions, template.Tools())
	if err != nil {
		return nil, fmt.Errorf("interview: dial: %w", err)
	}
	return conn, nil
}

func (c *Controller) appendTranscript(speaker, text string) {
	entry := TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
		Section:   c.currentSection,
	}
	c.transcript = append(c.transcript, entry)
	c.cfg.Recorder.RecordTranscript(c.cfg.SessionID, entry)
}

func (c *Controller) recapEntries() []template.RecapEntry {
	entries := make([]template.RecapEntry, len(c.transcript))
	for i, e := range c.transcript {
		entries[i] = template.RecapEntry{Role: e.Speaker, Text: e.Text}
	}
	return entries
}

func (c *Controller) setPhase(to Phase) {
	if c.phase == to {
		return
	}
	from := c.phase
	c.phase = to
	c.log.Debug("phase transition", "from", from, "to", to)
	c.cfg.Observer.PhaseChanged(c.cfg.SessionID, from, to)
}

// publish copies the loop-owned state into the snapshot readable by other
// goroutines.
func (c *Controller) publish() {
	snap := Snapshot{
		SessionID:      c.cfg.SessionID,
		Phase:          c.phase,
		Answers:        c.answers.Clone(),
		Transcript:     append([]TranscriptEntry(nil), c.transcript...),
		Progress:       c.answers.Progress(c.cfg.Schema),
		CurrentSection: c.currentSection,
		Err:            c.lastErr,
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}
