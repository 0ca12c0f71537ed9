package token_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vocalis-health/vocalis/pkg/realtime"
	"github.com/vocalis-health/vocalis/pkg/realtime/token"
)

func TestMint(t *testing.T) {
	var captured map[string]any
	expiry := time.Now().Add(time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"client_secret": map[string]any{"value": "eph-abc"},
			"expires_at":    expiry,
		})
	}))
	defer srv.Close()

	c := token.New("sk-test", "gpt-4o-realtime-preview", "alloy", token.WithBaseURL(srv.URL))
	cred, err := c.Mint(context.Background(), token.Request{
		Instructions: "Conduct the interview.",
		Tools: []realtime.Tool{
			{Type: "function", Name: "save_section_data"},
		},
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if cred.Token != "eph-abc" {
		t.Errorf("token = %q", cred.Token)
	}
	if !cred.ExpiresAt.Equal(time.Unix(expiry, 0)) {
		t.Errorf("expiry = %v, want %v", cred.ExpiresAt, time.Unix(expiry, 0))
	}

	if captured["model"] != "gpt-4o-realtime-preview" || captured["voice"] != "alloy" {
		t.Errorf("model/voice = %v/%v", captured["model"], captured["voice"])
	}
	if captured["input_audio_format"] != "pcm16" || captured["output_audio_format"] != "pcm16" {
		t.Error("audio formats must both be pcm16")
	}
	trans, _ := captured["input_audio_transcription"].(map[string]any)
	if trans["model"] != "whisper-1" {
		t.Errorf("transcription = %v", trans)
	}
	td, _ := captured["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" || td["threshold"] != 0.5 || td["silence_duration_ms"] != float64(800) {
		t.Errorf("turn_detection = %v", td)
	}
	tools, _ := captured["tools"].([]any)
	if len(tools) != 1 {
		t.Errorf("tools = %v", tools)
	}
}

func TestMint_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_api_key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := token.New("sk-bad", "", "alloy", token.WithBaseURL(srv.URL))
	if _, err := c.Mint(context.Background(), token.Request{}); err == nil {
		t.Fatal("want error on 401")
	}
}

func TestMint_MissingSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := token.New("sk-test", "", "alloy", token.WithBaseURL(srv.URL))
	if _, err := c.Mint(context.Background(), token.Request{}); err == nil {
		t.Fatal("want error when client secret absent")
	}
}
