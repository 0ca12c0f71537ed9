package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/vocalis-health/vocalis/internal/config"
	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/pkg/realtime/token"
)

type stubMinter struct {
	cred  *token.Credential
	err   error
	mints int
	last  token.Request
}

func (m *stubMinter) Mint(_ context.Context, req token.Request) (*token.Credential, error) {
	m.mints++
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return m.cred, nil
}

func TestRealtimeDialer_MintFailure(t *testing.T) {
	minter := &stubMinter{err: errors.New("401 unauthorized")}
	d := NewRealtimeDialer(config.OpenAIConfig{}, WithTokenMinter(minter))

	_, err := d.Dial(context.Background(), "instructions", nil)
	if !errors.Is(err, interview.ErrTokenAcquisition) {
		t.Fatalf("err = %v, want ErrTokenAcquisition", err)
	}
}

func TestRealtimeDialer_SocketFailure(t *testing.T) {
	// A server that never upgrades makes the websocket handshake fail.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusBadGateway)
	}))
	defer srv.Close()

	minter := &stubMinter{cred: &token.Credential{Token: "ek_test"}}
	d := NewRealtimeDialer(config.OpenAIConfig{},
		WithTokenMinter(minter),
		WithSocketURL("ws"+strings.TrimPrefix(srv.URL, "http")),
	)

	_, err := d.Dial(context.Background(), "instructions", nil)
	if !errors.Is(err, interview.ErrChannelOpen) {
		t.Fatalf("err = %v, want ErrChannelOpen", err)
	}
	if minter.mints != 1 {
		t.Fatalf("mints = %d, want 1", minter.mints)
	}
}

func TestRealtimeDialer_MintsFreshTokenPerDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		<-r.Context().Done()
	}))
	defer srv.Close()

	minter := &stubMinter{cred: &token.Credential{Token: "ek_test"}}
	d := NewRealtimeDialer(config.OpenAIConfig{RealtimeModel: "gpt-4o-realtime-preview"},
		WithTokenMinter(minter),
		WithSocketURL("ws"+strings.TrimPrefix(srv.URL, "http")),
	)

	for i := 0; i < 2; i++ {
		ch, err := d.Dial(context.Background(), "interview instructions", nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		ch.Close()
	}
	if minter.mints != 2 {
		t.Fatalf("mints = %d, want a fresh credential per dial", minter.mints)
	}
	if minter.last.Instructions != "interview instructions" {
		t.Fatalf("instructions not forwarded to mint: %q", minter.last.Instructions)
	}
}
