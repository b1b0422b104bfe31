package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the bridge tracer.
const tracerName = "github.com/MrWong99/aipibridge"

// utteranceKey carries the utterance id through a processing task.
type utteranceKey struct{}

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// WithUtterance returns a context tagged with an utterance id and starts the
// root span of that utterance's processing task.
func WithUtterance(ctx context.Context, id string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, utteranceKey{}, id)
	return StartSpan(ctx, "utterance", trace.WithAttributes(attribute.String("utterance.id", id)))
}

// StartStage starts the span of one processing stage, named "stage.<stage>",
// as a child of the span in ctx.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, "stage."+stage, trace.WithAttributes(attribute.String("stage", stage)))
}

// UtteranceID returns the utterance id stored by [WithUtterance], or "".
func UtteranceID(ctx context.Context) string {
	id, _ := ctx.Value(utteranceKey{}).(string)
	return id
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with the utterance id and the
// trace_id/span_id of the active span in ctx. Attributes that are absent are
// omitted.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := UtteranceID(ctx); id != "" {
		l = l.With(slog.String("utterance_id", id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
