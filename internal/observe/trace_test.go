package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects the default logger into a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestWithUtterance_StagesNestUnderRoot(t *testing.T) {
	exp := useTestTracer(t)

	ctx, root := WithUtterance(context.Background(), "utt-42")
	cid := CorrelationID(ctx)
	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Fatalf("correlation id %q is not a 32 char hex trace id", cid)
	}
	for _, stage := range []string{StageTranscribe, StageInfer, StageSynthesize} {
		_, span := StartStage(ctx, stage)
		span.End()
	}
	root.End()

	spans := exp.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("spans = %d, want 4", len(spans))
	}
	rootSpan := spans[len(spans)-1]
	if rootSpan.Name != "utterance" {
		t.Fatalf("last ended span = %q, want utterance", rootSpan.Name)
	}
	found := false
	for _, kv := range rootSpan.Attributes {
		if kv.Key == "utterance.id" && kv.Value.AsString() == "utt-42" {
			found = true
		}
	}
	if !found {
		t.Error("utterance span missing utterance.id attribute")
	}
	for i, s := range spans[:3] {
		if want := []string{"stage.transcribe", "stage.infer", "stage.synthesize"}[i]; s.Name != want {
			t.Errorf("span %d = %q, want %q", i, s.Name, want)
		}
		if s.Parent.SpanID() != rootSpan.SpanContext.SpanID() {
			t.Errorf("stage %q parent = %s, want utterance span", s.Name, s.Parent.SpanID())
		}
		if s.SpanContext.TraceID().String() != cid {
			t.Errorf("stage %q trace = %s, want %s", s.Name, s.SpanContext.TraceID(), cid)
		}
	}
}

func TestUtteranceIDs_AreIndependent(t *testing.T) {
	useTestTracer(t)

	seen := make(map[string]bool)
	for _, id := range []string{"a", "b", "c"} {
		ctx, span := WithUtterance(context.Background(), id)
		if got := UtteranceID(ctx); got != id {
			t.Errorf("UtteranceID = %q, want %q", got, id)
		}
		cid := CorrelationID(ctx)
		if seen[cid] {
			t.Errorf("utterance %q reused trace id %s", id, cid)
		}
		seen[cid] = true
		span.End()
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"utterance_id", "trace_id", "span_id"},
		},
		{
			name: "plain span",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(context.Background(), "op")
				return ctx, func() { span.End() }
			},
			want:    []string{"trace_id=", "span_id="},
			notWant: []string{"utterance_id"},
		},
		{
			name: "utterance",
			ctx: func() (context.Context, func()) {
				ctx, span := WithUtterance(context.Background(), "utt-7")
				return ctx, func() { span.End() }
			},
			want: []string{"utterance_id=utt-7", "trace_id=", "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			ctx, done := tt.ctx()
			defer done()

			Logger(ctx).Info("processing")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q unexpectedly contains %q", out, w)
				}
			}
		})
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
	if got := UtteranceID(context.Background()); got != "" {
		t.Errorf("UtteranceID = %q, want empty", got)
	}
}
