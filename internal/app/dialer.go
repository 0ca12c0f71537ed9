package app

import (
	"context"
	"fmt"

	"github.com/vocalis-health/vocalis/internal/config"
	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/pkg/realtime"
	"github.com/vocalis-health/vocalis/pkg/realtime/token"
)

// TokenMinter mints a fresh single-use credential for one channel-open
// attempt. *token.Client satisfies it.
type TokenMinter interface {
	Mint(ctx context.Context, req token.Request) (*token.Credential, error)
}

// RealtimeDialer turns a mint-then-dial sequence into an [interview.DialFunc].
// Every call mints a fresh credential, so reconnect attempts never reuse a
// stale token.
type RealtimeDialer struct {
	tokens    TokenMinter
	model     string
	socketURL string
}

// DialerOption configures a RealtimeDialer.
type DialerOption func(*RealtimeDialer)

// WithSocketURL overrides the websocket endpoint. Primarily used in tests.
func WithSocketURL(url string) DialerOption {
	return func(d *RealtimeDialer) { d.socketURL = url }
}

// WithTokenMinter injects a minter instead of building one from config.
func WithTokenMinter(m TokenMinter) DialerOption {
	return func(d *RealtimeDialer) { d.tokens = m }
}

// NewRealtimeDialer builds a dialer from the OpenAI config section.
func NewRealtimeDialer(cfg config.OpenAIConfig, opts ...DialerOption) *RealtimeDialer {
	d := &RealtimeDialer{
		model: cfg.RealtimeModel,
	}
	for _, o := range opts {
		o(d)
	}
	if d.tokens == nil {
		var tokenOpts []token.Option
		if cfg.BaseURL != "" {
			tokenOpts = append(tokenOpts, token.WithBaseURL(cfg.BaseURL+"/realtime/sessions"))
		}
		d.tokens = token.New(cfg.APIKey, cfg.RealtimeModel, cfg.Voice, tokenOpts...)
	}
	return d
}

// Dial is the [interview.DialFunc] for live sessions. Mint failures are
// classified as token acquisition errors, websocket failures as channel
// open errors, so the controller's reconnect loop can tell them apart.
func (d *RealtimeDialer) Dial(ctx context.Context, instructions string, tools []realtime.Tool) (interview.Channel, error) {
	cred, err := d.tokens.Mint(ctx, token.Request{
		Instructions: instructions,
		Tools:        tools,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interview.ErrTokenAcquisition, err)
	}

	conn, err := realtime.Dial(ctx, realtime.DialOptions{
		BaseURL: d.socketURL,
		Model:   d.model,
		Token:   cred.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interview.ErrChannelOpen, err)
	}
	return conn, nil
}
