package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// attrSessionID tags spans for requests addressing a single interview session.
var attrSessionID = attribute.Key("vocalis.session.id")

// responseTracker captures the status code the handler writes so it can be
// attached to the span and the request metric after serving.
type responseTracker struct {
	http.ResponseWriter
	status int
}

func (t *responseTracker) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

// routeLabel maps a request path to a bounded set of metric label values.
// Session and record IDs are the only variable segments in the API surface,
// so /api/sessions/<uuid>/pause collapses to /api/sessions/{id}/pause. The
// extracted ID is returned alongside so the span and log line can carry it.
func routeLabel(path string) (label, resourceID string) {
	seg := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(seg) >= 3 && seg[0] == "api" && (seg[1] == "sessions" || seg[1] == "records") && seg[2] != "" {
		resourceID = seg[2]
		seg[2] = "{id}"
		return "/" + strings.Join(seg, "/"), resourceID
	}
	return path, ""
}

// Middleware instruments every API request: it joins the W3C trace the
// caller may already be in, spans the request, echoes the trace ID back as
// X-Correlation-ID so clients can quote it when reporting failures, and
// records the request duration under a collapsed route label.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route, sessionID := routeLabel(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			spanAttrs := []attribute.KeyValue{
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			}
			if sessionID != "" {
				spanAttrs = append(spanAttrs, attrSessionID.String(sessionID))
			}
			ctx, span := StartSpan(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(spanAttrs...),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			tracked := &responseTracker{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(tracked, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(tracked.status))

			logAttrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tracked.status),
				slog.Duration("duration", elapsed),
			}
			if sessionID != "" {
				logAttrs = append(logAttrs, slog.String("session_id", sessionID))
			}
			slog.LogAttrs(ctx, slog.LevelInfo, "request completed", logAttrs...)
		})
	}
}
