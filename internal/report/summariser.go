// Package report generates the post-interview clinical summary.
//
// After a session completes, the captured answer set and the spoken
// transcript are condensed into a short narrative report by an LLM and
// stored alongside the session.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/template"
)

// summaryPrompt is the system prompt sent to the LLM when condensing a
// completed interview into a report.
const summaryPrompt = `Summarise the following completed clinical intake interview into a concise report for the treating clinician.
Preserve: the chief complaint, symptom onset and course, relevant history, current medications, and any red flags the patient mentioned.
Use the structured data as the source of truth; use the transcript only to add context the structured fields miss.
Write plain clinical prose, no markdown, no headings.`

// Summariser produces a report from a completed interview.
type Summariser interface {
	// Summarise condenses the captured answers and transcript into a
	// narrative summary string.
	Summarise(ctx context.Context, schema *template.Schema, answers interview.AnswerSet, transcript []interview.TranscriptEntry) (string, error)
}

// LLMSummariser implements [Summariser] with the OpenAI chat completions API.
type LLMSummariser struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the summariser.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for [LLMSummariser].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// NewLLMSummariser constructs an [LLMSummariser].
func NewLLMSummariser(apiKey, model string, opts ...Option) (*LLMSummariser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("report: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("report: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &LLMSummariser{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Summarise implements [Summariser].
func (s *LLMSummariser) Summarise(ctx context.Context, schema *template.Schema, answers interview.AnswerSet, transcript []interview.TranscriptEntry) (string, error) {
	content, err := buildInterviewDigest(schema, answers, transcript)
	if err != nil {
		return "", err
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(summaryPrompt),
			oai.UserMessage(content),
		},
		Temperature: param.NewOpt(0.3),
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("report: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("report: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// buildInterviewDigest formats the structured answers and the transcript into
// a single user message for the summariser.
func buildInterviewDigest(schema *template.Schema, answers interview.AnswerSet, transcript []interview.TranscriptEntry) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Interview template: %s\n", schema.Name)
	if schema.Description != "" {
		fmt.Fprintf(&sb, "%s\n", schema.Description)
	}

	sb.WriteString("\nStructured data captured:\n")
	for _, section := range schema.Sections {
		fields, ok := answers[section.ID]
		if !ok || len(fields) == 0 {
			continue
		}
		data, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return "", fmt.Errorf("report: marshal section %q: %w", section.ID, err)
		}
		fmt.Fprintf(&sb, "## %s\n%s\n", section.Title, data)
	}

	if len(transcript) > 0 {
		sb.WriteString("\nTranscript:\n")
		for _, e := range transcript {
			fmt.Fprintf(&sb, "[%s]: %s\n", e.Speaker, e.Text)
		}
	}

	return sb.String(), nil
}
