package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vocalis-health/vocalis/internal/interview"
	"github.com/vocalis-health/vocalis/internal/persist"
)

// InstrumentedStore decorates a [persist.Store] with write counters and
// latency histograms.
type InstrumentedStore struct {
	next    persist.Store
	metrics *Metrics
}

var _ persist.Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore wraps next with metrics recording.
func NewInstrumentedStore(next persist.Store, m *Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: m}
}

// MergeAnswers implements [persist.Store].
func (s *InstrumentedStore) MergeAnswers(ctx context.Context, sessionID string, answers interview.AnswerSet) error {
	return s.record(ctx, "merge_answers", func() error {
		return s.next.MergeAnswers(ctx, sessionID, answers)
	})
}

// UpdateSession implements [persist.Store].
func (s *InstrumentedStore) UpdateSession(ctx context.Context, sessionID string, update persist.SessionUpdate) error {
	return s.record(ctx, "update_session", func() error {
		return s.next.UpdateSession(ctx, sessionID, update)
	})
}

// AppendTranscript implements [persist.Store].
func (s *InstrumentedStore) AppendTranscript(ctx context.Context, sessionID string, entries []interview.TranscriptEntry) error {
	return s.record(ctx, "append_transcript", func() error {
		return s.next.AppendTranscript(ctx, sessionID, entries)
	})
}

func (s *InstrumentedStore) record(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()

	s.metrics.StoreWriteDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
	s.metrics.StoreWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", statusLabel(err == nil)),
		),
	)
	return err
}
