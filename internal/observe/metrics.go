// Package observe provides application-wide observability primitives for the
// bridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint served by [MetricsHandler]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bridge metrics.
const meterName = "github.com/MrWong99/aipibridge"

// Pipeline stages used as the "stage" attribute.
const (
	StageTranscribe = "transcribe"
	StageInfer      = "infer"
	StageSynthesize = "synthesize"
	StageAssemble   = "assemble"
	StageSequence   = "sequence"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// AssemblyDuration tracks decode + normalize + packaging time.
	AssemblyDuration metric.Float64Histogram

	// SequenceDuration tracks the hardware sequence, sleeps included.
	SequenceDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts finished processing tasks. Use with attribute:
	//   attribute.String("outcome", ...)
	Utterances metric.Int64Counter

	// DiscardedUtterances counts stops whose capture was below the minimum size.
	DiscardedUtterances metric.Int64Counter

	// StageErrors counts failed pipeline stages. Use with attribute:
	//   attribute.String("stage", ...)
	StageErrors metric.Int64Counter

	// Reconnects counts link re-establishment attempts after a failure.
	Reconnects metric.Int64Counter

	// AssetPublications counts published reply assets.
	AssetPublications metric.Int64Counter

	// CaptureFrames counts UDP datagrams received by the capture listener.
	CaptureFrames metric.Int64Counter

	// --- Distributions ---

	// CapturedBytes records the size of each finished capture.
	CapturedBytes metric.Int64Histogram

	// AssetSeconds records the playback length of each published asset.
	AssetSeconds metric.Float64Histogram

	// --- Gauges ---

	// LinkUp is 1 while a device link is established and subscribed.
	LinkUp metric.Int64UpDownCounter

	// InFlightTasks tracks processing tasks currently running.
	InFlightTasks metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// pipeline stages; inference on small local models and the playback sleep
// both run into tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "aipibridge.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "aipibridge.llm.duration", "Latency of LLM inference."},
		{&met.TTSDuration, "aipibridge.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.AssemblyDuration, "aipibridge.assembly.duration", "Latency of reply asset assembly."},
		{&met.SequenceDuration, "aipibridge.sequence.duration", "Duration of the device hardware sequence."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("aipibridge.utterances",
		metric.WithDescription("Processed utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DiscardedUtterances, err = m.Int64Counter("aipibridge.utterances.discarded",
		metric.WithDescription("Captures discarded as too short to contain speech."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("aipibridge.stage.errors",
		metric.WithDescription("Pipeline stage failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("aipibridge.device.reconnects",
		metric.WithDescription("Device link reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.AssetPublications, err = m.Int64Counter("aipibridge.asset.publications",
		metric.WithDescription("Reply assets published to the playback server."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFrames, err = m.Int64Counter("aipibridge.capture.frames",
		metric.WithDescription("Audio datagrams received by the capture listener."),
	); err != nil {
		return nil, err
	}

	// Distributions.
	if met.CapturedBytes, err = m.Int64Histogram("aipibridge.capture.bytes",
		metric.WithDescription("Size of each finished capture."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1000, 16000, 32000, 64000, 160000, 320000, 960000),
	); err != nil {
		return nil, err
	}
	if met.AssetSeconds, err = m.Float64Histogram("aipibridge.asset.length",
		metric.WithDescription("Playback length of published assets."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 40),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.LinkUp, err = m.Int64UpDownCounter("aipibridge.device.link_up",
		metric.WithDescription("1 while the device link is established."),
	); err != nil {
		return nil, err
	}
	if met.InFlightTasks, err = m.Int64UpDownCounter("aipibridge.tasks.in_flight",
		metric.WithDescription("Utterance processing tasks currently running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aipibridge.http.request.duration",
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

// RecordStage records the latency of one pipeline stage and, when err is
// non-nil, a stage error.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	var h metric.Float64Histogram
	switch stage {
	case StageTranscribe:
		h = m.STTDuration
	case StageInfer:
		h = m.LLMDuration
	case StageSynthesize:
		h = m.TTSDuration
	case StageAssemble:
		h = m.AssemblyDuration
	case StageSequence:
		h = m.SequenceDuration
	}
	if h != nil {
		h.Record(ctx, d.Seconds())
	}
	if err != nil {
		m.StageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// RecordUtterance records a finished processing task.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPublication records a published asset of the given length.
func (m *Metrics) RecordPublication(ctx context.Context, length time.Duration) {
	m.AssetPublications.Add(ctx, 1)
	m.AssetSeconds.Record(ctx, length.Seconds())
}
