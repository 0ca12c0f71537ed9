// Package interview implements the voice interview session controller: the
// state machine that owns the conversation phase, bridges the capture and
// playback pipelines to the realtime channel, merges streamed function-call
// data into the answer set, reconnects on channel loss and hands state to
// the persistence gateway.
package interview

// Phase is the lifecycle state of one interview session.
type Phase string

const (
	// PhaseIdle is the state before Start. No audio activity.
	PhaseIdle Phase = "idle"

	// PhaseProcessing covers the stretches where the peer is thinking:
	// after start, after a user turn ends, and right after a resume.
	PhaseProcessing Phase = "processing"

	// PhasePlaying means the peer's synthesized speech is being played.
	// The microphone keeps running but frames are not forwarded.
	PhasePlaying Phase = "playing"

	// PhaseListening means playback has drained and the session is
	// waiting for the user to speak.
	PhaseListening Phase = "listening"

	// PhasePaused is entered on user request. Transport is quiesced but
	// all conversation state is retained.
	PhasePaused Phase = "paused"

	// PhaseCompleted is terminal: the interview finished normally.
	PhaseCompleted Phase = "completed"

	// PhaseError is terminal: an unrecoverable device, token or channel
	// failure.
	PhaseError Phase = "error"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Active reports whether the session is live from the transport's point of
// view: channel loss in an active phase triggers reconnection, in any other
// phase it does not.
func (p Phase) Active() bool {
	switch p {
	case PhaseProcessing, PhasePlaying, PhaseListening:
		return true
	}
	return false
}

func (p Phase) String() string { return string(p) }
