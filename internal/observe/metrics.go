// Package observe provides application-wide observability primitives for
// Fixer: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Fixer metrics.
const meterName = "github.com/fixer-ai/fixer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DiagnosisDuration tracks end-to-end diagnosis latency.
	DiagnosisDuration metric.Float64Histogram

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// ScriptDuration tracks repair script execution latency.
	ScriptDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts frames taken from local sources. Use with attribute:
	//   attribute.String("source", ...) — "mic", "screen", "camera", "text"
	FramesCaptured metric.Int64Counter

	// FramesSent counts frames delivered to the live session. Use with attribute:
	//   attribute.String("kind", ...) — "audio", "image", "text"
	FramesSent metric.Int64Counter

	// PlaybackChunks counts audio chunks handed to the speaker.
	PlaybackChunks metric.Int64Counter

	// PlaybackFlushes counts barge-in flushes of the playback queue. Use with
	// attribute:
	//   attribute.Int("discarded", ...)
	PlaybackFlushes metric.Int64Counter

	// Turns counts model response turns per live session.
	Turns metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Diagnoses counts diagnosis requests. Use with attribute:
	//   attribute.String("status", ...) — "ok", "parse_failure", "error"
	Diagnoses metric.Int64Counter

	// SMSMessages counts inbound SMS webhook deliveries. Use with attribute:
	//   attribute.String("kind", ...) — "problem", "help", "reset"
	SMSMessages metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts model-provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CaptureErrors counts frame-grab failures. Use with attribute:
	//   attribute.String("source", ...)
	CaptureErrors metric.Int64Counter

	// --- Gauges ---

	// OutboundQueueDepth tracks the number of frames waiting for transmission.
	OutboundQueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DiagnosisDuration, err = m.Float64Histogram("fixer.diagnosis.duration",
		metric.WithDescription("End-to-end latency of a diagnosis request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("fixer.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("fixer.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScriptDuration, err = m.Float64Histogram("fixer.script.duration",
		metric.WithDescription("Latency of repair script execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("fixer.frames.captured",
		metric.WithDescription("Total frames captured from local sources by source."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("fixer.frames.sent",
		metric.WithDescription("Total frames delivered to the live session by kind."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("fixer.playback.chunks",
		metric.WithDescription("Total audio chunks handed to the speaker."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFlushes, err = m.Int64Counter("fixer.playback.flushes",
		metric.WithDescription("Total barge-in flushes of the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("fixer.session.turns",
		metric.WithDescription("Total model response turns."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("fixer.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Diagnoses, err = m.Int64Counter("fixer.diagnoses",
		metric.WithDescription("Total diagnosis requests by status."),
	); err != nil {
		return nil, err
	}
	if met.SMSMessages, err = m.Int64Counter("fixer.sms.messages",
		metric.WithDescription("Total inbound SMS deliveries by kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("fixer.provider.errors",
		metric.WithDescription("Total model-provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("fixer.capture.errors",
		metric.WithDescription("Total frame-grab failures by source."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.OutboundQueueDepth, err = m.Int64UpDownCounter("fixer.outbound_queue.depth",
		metric.WithDescription("Number of frames waiting for transmission."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("fixer.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("fixer.http.request.duration",
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

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordFrameCaptured records a captured frame for the given source.
func (m *Metrics) RecordFrameCaptured(ctx context.Context, source string) {
	m.FramesCaptured.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordFrameSent records a frame delivered to the live session.
func (m *Metrics) RecordFrameSent(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordCaptureError records a frame-grab failure for the given source.
func (m *Metrics) RecordCaptureError(ctx context.Context, source string) {
	m.CaptureErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordProviderError records a model-provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordDiagnosis records a diagnosis request outcome.
func (m *Metrics) RecordDiagnosis(ctx context.Context, status string) {
	m.Diagnoses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSMS records an SMS webhook event of the given kind
// ("received", "replied", "error").
func (m *Metrics) RecordSMS(ctx context.Context, kind string) {
	m.SMSMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordFlush records a playback flush that discarded n queued chunks.
func (m *Metrics) RecordFlush(ctx context.Context, discarded int) {
	m.PlaybackFlushes.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("discarded", discarded)),
	)
}
