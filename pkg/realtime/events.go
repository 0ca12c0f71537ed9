package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event is the tagged union of inbound channel events. The session
// controller matches concrete types exhaustively; anything the controller
// does not act on arrives as [Info].
type Event interface{ isEvent() }

// AudioDelta carries one decoded PCM16 frame of the remote party's speech.
type AudioDelta struct {
	PCM []byte
}

// AudioDone signals that the peer has finished streaming audio for the
// current response. Scheduled buffers may still be playing.
type AudioDone struct{}

// AgentTranscript is the final transcript of the remote party's utterance.
type AgentTranscript struct {
	Text string
}

// UserTranscript is the completed transcription of the user's speech.
type UserTranscript struct {
	Text string
}

// SpeechStarted signals that the peer's voice-activity detector heard the
// user start speaking.
type SpeechStarted struct{}

// SpeechStopped signals the end of detected user speech.
type SpeechStopped struct{}

// FunctionCallDelta is one fragment of a streamed function-call argument
// payload, keyed by call id. Arguments are only valid once the matching
// [FunctionCallDone] arrives.
type FunctionCallDelta struct {
	CallID string
	Name   string
	Delta  string
}

// FunctionCallDone finalises a streamed function call. Arguments holds the
// complete JSON payload.
type FunctionCallDone struct {
	CallID    string
	Name      string
	Arguments string
}

// ServerError is a peer-reported error event.
type ServerError struct {
	Code    string
	Message string
}

// Info covers informational lifecycle events that require no action
// (session.created, response.done, rate_limits.updated, …).
type Info struct {
	Type string
}

// Closed is delivered once when the connection terminates for any reason
// other than a local Close. Err carries the transport error.
type Closed struct {
	Err error
}

func (AudioDelta) isEvent()        {}
func (AudioDone) isEvent()         {}
func (AgentTranscript) isEvent()   {}
func (UserTranscript) isEvent()    {}
func (SpeechStarted) isEvent()     {}
func (SpeechStopped) isEvent()     {}
func (FunctionCallDelta) isEvent() {}
func (FunctionCallDone) isEvent()  {}
func (ServerError) isEvent()       {}
func (Info) isEvent()              {}
func (Closed) isEvent()            {}

// Tool describes one function the peer may call during the session, in the
// wire format expected by the session bootstrap endpoint.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// serverEvent is the superset wire shape of all inbound JSON control frames.
type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.function_call_arguments.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.*
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// serverErrorDetail is the nested error object:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// decodeEvent maps one inbound wire frame to its typed event.
func decodeEvent(data []byte) (Event, error) {
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("realtime: decode event: %w", err)
	}

	switch evt.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			return nil, fmt.Errorf("realtime: decode audio delta: %w", err)
		}
		return AudioDelta{PCM: pcm}, nil

	case "response.audio.done":
		return AudioDone{}, nil

	case "response.audio_transcript.done":
		return AgentTranscript{Text: evt.Transcript}, nil

	case "conversation.item.input_audio_transcription.completed":
		return UserTranscript{Text: evt.Transcript}, nil

	case "input_audio_buffer.speech_started":
		return SpeechStarted{}, nil

	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{}, nil

	case "response.function_call_arguments.delta":
		return FunctionCallDelta{CallID: evt.CallID, Name: evt.Name, Delta: evt.Delta}, nil

	case "response.function_call_arguments.done":
		return FunctionCallDone{CallID: evt.CallID, Name: evt.Name, Arguments: evt.Arguments}, nil

	case "error":
		se := ServerError{}
		if evt.Error != nil {
			se.Code = evt.Error.Code
			se.Message = evt.Error.Message
		}
		return se, nil

	default:
		return Info{Type: evt.Type}, nil
	}
}

// ── Outgoing message shapes ────────────────────────────────────────────────────

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
