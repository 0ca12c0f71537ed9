package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vocalis-health/vocalis/internal/interview"
)

// SessionObserver implements [interview.Observer] on top of [Metrics].
// Notifications arrive from the controller loop, so recording must stay
// non-blocking; OTel instruments satisfy that.
type SessionObserver struct {
	metrics *Metrics
}

var _ interview.Observer = (*SessionObserver)(nil)

// NewSessionObserver wraps metrics in an [interview.Observer].
func NewSessionObserver(m *Metrics) *SessionObserver {
	return &SessionObserver{metrics: m}
}

// PhaseChanged implements [interview.Observer].
func (o *SessionObserver) PhaseChanged(_ string, from, to interview.Phase) {
	o.metrics.PhaseTransitions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		),
	)
}

// FunctionCallHandled implements [interview.Observer].
func (o *SessionObserver) FunctionCallHandled(name string, ok bool) {
	o.metrics.FunctionCalls.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("function", name),
			attribute.String("status", statusLabel(ok)),
		),
	)
}

// ReconnectAttempted implements [interview.Observer].
func (o *SessionObserver) ReconnectAttempted(_ string, _ int, ok bool) {
	o.metrics.ReconnectAttempts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", statusLabel(ok))),
	)
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
