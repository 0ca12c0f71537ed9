// Package realtime implements the persistent duplex channel to the remote
// speech/language peer.
//
// The wire protocol is event-based: JSON control frames over a WebSocket,
// with binary audio base64-encoded inline. Outbound operations cover audio
// append, input-buffer clear, text directive injection, response requests
// and function-call acknowledgements; inbound frames are decoded into the
// tagged-union [Event] type and delivered in arrival order on a single
// channel.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	// DefaultBaseURL is the peer's WebSocket endpoint.
	DefaultBaseURL = "wss://api.openai.com/v1/realtime"

	// DefaultModel is the realtime model dialled when none is configured.
	DefaultModel = "gpt-4o-realtime-preview"

	// eventBuffer is the buffer depth of the inbound event channel.
	eventBuffer = 64
)

// DialOptions configures one channel-open attempt.
type DialOptions struct {
	// BaseURL overrides DefaultBaseURL. Primarily used in tests to point
	// at a local mock server.
	BaseURL string

	// Model selects the peer model. Defaults to DefaultModel.
	Model string

	// Token is the single-use ephemeral credential for this attempt.
	Token string
}

// Dial opens a new channel connection. The returned Conn is live
// immediately; its receive loop runs until the connection closes.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	wsURL := fmt.Sprintf("%s?model=%s", baseURL, model)
	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + opts.Token},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:     ws,
		events: make(chan Event, eventBuffer),
		ctx:    connCtx,
		cancel: cancel,
	}
	go c.receiveLoop()
	return c, nil
}

// Conn is one live channel connection. Connections are ephemeral: on loss
// they are torn down wholesale and replaced, never patched in place.
type Conn struct {
	ws     *websocket.Conn
	events chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// Events returns the inbound event stream. The channel is closed after a
// final [Closed] event when the connection drops, or silently after a local
// Close.
func (c *Conn) Events() <-chan Event { return c.events }

// receiveLoop owns the events channel: it closes it when it exits.
func (c *Conn) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			select {
			case c.events <- Closed{Err: err}:
			case <-c.ctx.Done():
			}
			return
		}

		evt, err := decodeEvent(data)
		if err != nil {
			// Unparseable frames are skipped, matching the tolerant
			// read side of the protocol.
			continue
		}

		select {
		case c.events <- evt:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) writeJSON(v any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("realtime: connection closed")
	}
	c.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := c.ws.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// AppendAudio sends one raw PCM16 frame to the peer's input buffer.
func (c *Conn) AppendAudio(pcm []byte) error {
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// ClearInput discards the peer's buffered input audio. Sent when the remote
// party starts speaking so any echo already captured is not treated as user
// speech.
func (c *Conn) ClearInput() error {
	return c.writeJSON(map[string]string{"type": "input_audio_buffer.clear"})
}

// InjectText inserts a text directive as a conversation item. Role must be
// "user", "assistant" or "system"; anything else is coerced to "user".
func (c *Conn) InjectText(role, text string) error {
	switch role {
	case "assistant", "system":
	default:
		role = "user"
	}
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type: "message",
			Role: role,
			Content: []conversationPart{
				{Type: partType, Text: text},
			},
		},
	})
}

// CreateResponse asks the peer to produce its next output.
func (c *Conn) CreateResponse() error {
	return c.writeJSON(map[string]string{"type": "response.create"})
}

// SendFunctionOutput acknowledges a function call, echoing the opaque call
// identifier with the JSON result payload.
func (c *Conn) SendFunctionOutput(callID, output string) error {
	return c.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
}

// Close tears the connection down. Idempotent; no [Closed] event is emitted
// for a local close.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
