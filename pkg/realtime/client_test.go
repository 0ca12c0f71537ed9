package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vocalis-health/vocalis/pkg/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startPeer launches a test WebSocket server. The handler receives the
// accepted conn. The server is closed when the test finishes.
func startPeer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func nextEvent(t *testing.T, c *realtime.Conn) realtime.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

// ── Tests ──────────────────────────────────────────────────────────────────────

func TestDial_SendsCredential(t *testing.T) {
	authCh := make(chan string, 1)
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		<-r.Context().Done()
	})

	c, err := realtime.Dial(context.Background(), realtime.DialOptions{
		BaseURL: wsURL(srv),
		Token:   "ephemeral-123",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	select {
	case got := <-authCh:
		if got != "Bearer ephemeral-123" {
			t.Errorf("Authorization = %q, want Bearer ephemeral-123", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never accepted")
	}
}

func TestConn_AppendAudioEncodesBase64(t *testing.T) {
	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	msgCh := make(chan appendMsg, 1)
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		var msg appendMsg
		readJSON(t, conn, &msg)
		msgCh <- msg
	})

	c, err := realtime.Dial(context.Background(), realtime.DialOptions{BaseURL: wsURL(srv), Token: "t"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := c.AppendAudio(pcm); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}

	msg := <-msgCh
	if msg.Type != "input_audio_buffer.append" {
		t.Errorf("type = %q", msg.Type)
	}
	if msg.Audio != base64.StdEncoding.EncodeToString(pcm) {
		t.Errorf("audio = %q, not base64 of input", msg.Audio)
	}
}

func TestConn_DecodesInboundEvents(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		writeJSON(t, conn, map[string]string{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(pcm),
		})
		writeJSON(t, conn, map[string]string{"type": "response.audio.done"})
		writeJSON(t, conn, map[string]string{
			"type":       "response.audio_transcript.done",
			"transcript": "What brings you in today?",
		})
		writeJSON(t, conn, map[string]string{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "Severe headache since Monday.",
		})
		writeJSON(t, conn, map[string]string{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]string{
			"type":    "response.function_call_arguments.delta",
			"call_id": "call-1",
			"name":    "save_section_data",
			"delta":   `{"sectionId":`,
		})
		writeJSON(t, conn, map[string]string{
			"type":      "response.function_call_arguments.done",
			"call_id":   "call-1",
			"name":      "save_section_data",
			"arguments": `{"sectionId":"complaints","data":{"text":"headache"}}`,
		})
		writeJSON(t, conn, map[string]any{
			"type":  "error",
			"error": map[string]string{"code": "rate_limited", "message": "slow down"},
		})
		writeJSON(t, conn, map[string]string{"type": "rate_limits.updated"})
		<-r.Context().Done()
	})

	c, err := realtime.Dial(context.Background(), realtime.DialOptions{BaseURL: wsURL(srv), Token: "t"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if ev, ok := nextEvent(t, c).(realtime.AudioDelta); !ok || string(ev.PCM) != string(pcm) {
		t.Errorf("event 1 = %#v, want AudioDelta with decoded PCM", ev)
	}
	if _, ok := nextEvent(t, c).(realtime.AudioDone); !ok {
		t.Error("event 2: want AudioDone")
	}
	if ev, ok := nextEvent(t, c).(realtime.AgentTranscript); !ok || ev.Text != "What brings you in today?" {
		t.Errorf("event 3 = %#v, want AgentTranscript", ev)
	}
	if ev, ok := nextEvent(t, c).(realtime.UserTranscript); !ok || ev.Text != "Severe headache since Monday." {
		t.Errorf("event 4 = %#v, want UserTranscript", ev)
	}
	if _, ok := nextEvent(t, c).(realtime.SpeechStarted); !ok {
		t.Error("event 5: want SpeechStarted")
	}
	if ev, ok := nextEvent(t, c).(realtime.FunctionCallDelta); !ok || ev.CallID != "call-1" {
		t.Errorf("event 6 = %#v, want FunctionCallDelta call-1", ev)
	}
	done, ok := nextEvent(t, c).(realtime.FunctionCallDone)
	if !ok || done.Name != "save_section_data" || done.Arguments == "" {
		t.Errorf("event 7 = %#v, want complete FunctionCallDone", done)
	}
	if ev, ok := nextEvent(t, c).(realtime.ServerError); !ok || ev.Code != "rate_limited" {
		t.Errorf("event 8 = %#v, want ServerError rate_limited", ev)
	}
	if ev, ok := nextEvent(t, c).(realtime.Info); !ok || ev.Type != "rate_limits.updated" {
		t.Errorf("event 9 = %#v, want Info", ev)
	}
}

func TestConn_FunctionOutputRoundTrip(t *testing.T) {
	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}
	gotCh := make(chan itemMsg, 1)
	respCh := make(chan map[string]any, 1)
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		var item itemMsg
		readJSON(t, conn, &item)
		gotCh <- item
		var resp map[string]any
		readJSON(t, conn, &resp)
		respCh <- resp
	})

	c, err := realtime.Dial(context.Background(), realtime.DialOptions{BaseURL: wsURL(srv), Token: "t"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.SendFunctionOutput("call-9", `{"success":true}`); err != nil {
		t.Fatalf("SendFunctionOutput: %v", err)
	}
	if err := c.CreateResponse(); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	item := <-gotCh
	if item.Item.Type != "function_call_output" || item.Item.CallID != "call-9" {
		t.Errorf("item = %+v", item.Item)
	}
	if resp := <-respCh; resp["type"] != "response.create" {
		t.Errorf("followup = %v, want response.create", resp)
	}
}

func TestConn_InjectTextRoles(t *testing.T) {
	type itemMsg struct {
		Type string `json:"type"`
		Item struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"item"`
	}
	gotCh := make(chan itemMsg, 2)
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		for i := 0; i < 2; i++ {
			var item itemMsg
			readJSON(t, conn, &item)
			gotCh <- item
		}
	})

	c, err := realtime.Dial(context.Background(), realtime.DialOptions{BaseURL: wsURL(srv), Token: "t"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	_ = c.InjectText("user", "Let's continue.")
	_ = c.InjectText("bogus", "coerced")

	first := <-gotCh
	if first.Item.Role != "user" || first.Item.Content[0].Type != "input_text" {
		t.Errorf("user item = %+v", first.Item)
	}
	second := <-gotCh
	if second.Item.Role != "user" {
		t.Errorf("unknown role coerced to %q, want user", second.Item.Role)
	}
}

func TestConn_RemoteCloseDeliversClosed(t *testing.T) {
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		// Return immediately: the deferred close tears the socket down.
	})

	c, err := realtime.Dial(context.Background(), realtime.DialOptions{BaseURL: wsURL(srv), Token: "t"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("channel closed without a Closed event")
			}
			if _, isClosed := ev.(realtime.Closed); isClosed {
				return
			}
		case <-deadline:
			t.Fatal("no Closed event")
		}
	}
}

func TestConn_LocalCloseIsSilent(t *testing.T) {
	srv := startPeer(t, func(conn *websocket.Conn, r *http.Request) {
		<-r.Context().Done()
	})

	c, err := realtime.Dial(context.Background(), realtime.DialOptions{BaseURL: wsURL(srv), Token: "t"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return // closed without Closed event
			}
			if _, isClosed := ev.(realtime.Closed); isClosed {
				t.Fatal("local close must not deliver a Closed event")
			}
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}
