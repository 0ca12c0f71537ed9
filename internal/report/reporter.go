package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/template"
)

// SummaryWriter stores a generated summary, satisfied by the postgres store.
type SummaryWriter interface {
	SetSummary(ctx context.Context, sessionID, summary string) error
}

// Reporter generates and persists summaries for completed sessions.
type Reporter struct {
	summariser Summariser
	writer     SummaryWriter
	log        *slog.Logger
}

// NewReporter wires a reporter.
func NewReporter(summariser Summariser, writer SummaryWriter, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{summariser: summariser, writer: writer, log: log}
}

// Generate summarises the interview and stores the result on the session.
// An empty interview (no answers and no transcript) is skipped.
func (r *Reporter) Generate(ctx context.Context, sessionID string, schema *template.Schema, answers interview.AnswerSet, transcript []interview.TranscriptEntry) (string, error) {
	if len(answers) == 0 && len(transcript) == 0 {
		r.log.Debug("skipping report for empty interview", "session_id", sessionID)
		return "", nil
	}

	summary, err := r.summariser.Summarise(ctx, schema, answers, transcript)
	if err != nil {
		return "", fmt.Errorf("report: summarise session %s: %w", sessionID, err)
	}
	if summary == "" {
		return "", nil
	}

	if err := r.writer.SetSummary(ctx, sessionID, summary); err != nil {
		return "", fmt.Errorf("report: store summary for session %s: %w", sessionID, err)
	}
	r.log.Info("report generated", "session_id", sessionID, "length", len(summary))
	return summary, nil
}
