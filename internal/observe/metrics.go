// Package observe provides application-wide observability primitives for
// Vocalis: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Vocalis metrics.
const meterName = "github.com/vocalis-health/vocalis"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PhaseTransitions counts interview phase changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	PhaseTransitions metric.Int64Counter

	// FunctionCalls counts agent function call dispatches. Use with attributes:
	//   attribute.String("function", ...), attribute.String("status", ...)
	FunctionCalls metric.Int64Counter

	// ReconnectAttempts counts realtime channel reconnect attempts. Use with
	// attribute: attribute.String("status", ...)
	ReconnectAttempts metric.Int64Counter

	// ICD10Lookups counts diagnosis code searches.
	ICD10Lookups metric.Int64Counter

	// StoreWrites counts persistence operations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	StoreWrites metric.Int64Counter

	// StoreWriteDuration tracks persistence operation latency. Use with
	// attribute: attribute.String("op", ...)
	StoreWriteDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// database writes and API handlers.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PhaseTransitions, err = m.Int64Counter("vocalis.session.phase_transitions",
		metric.WithDescription("Total interview phase transitions by from and to phase."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCalls, err = m.Int64Counter("vocalis.session.function_calls",
		metric.WithDescription("Total agent function call dispatches by function name and status."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("vocalis.session.reconnect_attempts",
		metric.WithDescription("Total realtime channel reconnect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ICD10Lookups, err = m.Int64Counter("vocalis.icd10.lookups",
		metric.WithDescription("Total diagnosis code searches."),
	); err != nil {
		return nil, err
	}
	if met.StoreWrites, err = m.Int64Counter("vocalis.store.writes",
		metric.WithDescription("Total persistence operations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.StoreWriteDuration, err = m.Float64Histogram("vocalis.store.write.duration",
		metric.WithDescription("Latency of persistence operations by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocalis.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocalis.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordICD10Lookup records one diagnosis code search.
func (m *Metrics) RecordICD10Lookup(ctx context.Context) {
	m.ICD10Lookups.Add(ctx, 1)
}

// SessionStarted increments the live session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the live session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
