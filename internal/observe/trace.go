package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// scope is the instrumentation scope for spans started by this package.
const scope = "github.com/vocalis-health/vocalis/internal/observe"

// Tracer returns the Vocalis tracer from the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

// StartSpan starts a span under the Vocalis scope. The caller owns the
// returned span and must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the identifier a client can quote when reporting a
// failed request: the hex trace ID of the active span. It is empty when ctx
// carries no trace.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger binds the default logger to the trace identifiers in ctx so log
// lines can be stitched back to the request or realtime exchange that
// produced them. Without an active span it is just the default logger.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// WithSession binds base to an interview session ID and, when ctx carries a
// trace, the trace ID. Session goroutines outlive the HTTP request that
// started them; the binding keeps their log lines joinable to that request.
func WithSession(ctx context.Context, base *slog.Logger, sessionID string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	log := base.With(slog.String("session_id", sessionID))
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		log = log.With(slog.String("trace_id", sc.TraceID().String()))
	}
	return log
}
