// Package token mints short-lived session credentials from the peer's
// token-issuing endpoint. Each credential is single-use: one channel-open
// attempt consumes it, so every dial (initial, resume, reconnect) mints a
// fresh one.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vocalis-health/vocalis/pkg/realtime"
)

// DefaultBaseURL is the HTTPS endpoint that issues realtime session
// credentials.
const DefaultBaseURL = "https://api.openai.com/v1/realtime/sessions"

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBaseURL overrides the token endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client mints ephemeral credentials against the session bootstrap endpoint.
type Client struct {
	apiKey  string
	model   string
	voice   string
	baseURL string
	http    *http.Client
}

// New creates a token client. Model and voice are applied to every minted
// session.
func New(apiKey, model, voice string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	if c.model == "" {
		c.model = realtime.DefaultModel
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request describes the session to bootstrap: the contextual instructions
// and the functions exposed to the peer.
type Request struct {
	Instructions string
	Tools        []realtime.Tool
}

// Credential is a single-use channel authorization.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

type sessionRequest struct {
	Model                   string          `json:"model"`
	Voice                   string          `json:"voice,omitempty"`
	Modalities              []string        `json:"modalities"`
	Instructions            string          `json:"instructions,omitempty"`
	InputAudioFormat        string          `json:"input_audio_format"`
	OutputAudioFormat       string          `json:"output_audio_format"`
	InputAudioTranscription *transcription  `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection  `json:"turn_detection,omitempty"`
	Tools                   []realtime.Tool `json:"tools,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type sessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	ExpiresAt int64 `json:"expires_at"`
}

// Mint creates one ephemeral credential. The session is configured for
// PCM16 in both directions, whisper input transcription and server-side
// voice-activity turn detection.
func (c *Client) Mint(ctx context.Context, req Request) (*Credential, error) {
	body := sessionRequest{
		Model:                   c.model,
		Voice:                   c.voice,
		Modalities:              []string{"audio", "text"},
		Instructions:            req.Instructions,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &transcription{Model: "whisper-1"},
		TurnDetection: &turnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			SilenceDurationMs: 800,
		},
		Tools: req.Tools,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("token: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("token: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("token: endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("token: decode response: %w", err)
	}
	if sr.ClientSecret.Value == "" {
		return nil, fmt.Errorf("token: response missing client secret")
	}

	cred := &Credential{Token: sr.ClientSecret.Value}
	if sr.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(sr.ExpiresAt, 0)
	} else {
		cred.ExpiresAt = time.Now().Add(time.Minute)
	}
	return cred, nil
}
