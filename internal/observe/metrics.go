// Package observe provides the OpenTelemetry metric instruments for the
// Convoscope pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/convoscope/convoscope/internal/store"
)

// meterName is the instrumentation scope name used for all Convoscope
// metrics.
const meterName = "github.com/convoscope/convoscope"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-stage processing latency. Attributes:
	//   stage (download|transcription|upload), status (completed|failed).
	StageDuration metric.Float64Histogram

	// ItemDuration tracks end-to-end latency of one recording through all
	// of its stages.
	ItemDuration metric.Float64Histogram

	// LLMDuration tracks analysis-layer completion latency. Attributes:
	//   task, status.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// RecordingsProcessed counts recordings leaving the pipeline by
	// outcome. Attribute: status (completed|skipped|failed|parked).
	RecordingsProcessed metric.Int64Counter

	// StageOutcomes counts stage completions and failures. Attributes:
	//   stage, status.
	StageOutcomes metric.Int64Counter

	// InsightsWritten counts cascade layer rows. Attributes:
	//   layer, defaulted ("true" when the fallback document was stored).
	InsightsWritten metric.Int64Counter

	// EmbeddingsIndexed counts transcripts added to the semantic index.
	EmbeddingsIndexed metric.Int64Counter

	// ProviderErrors counts upstream provider errors. Attributes:
	//   provider, kind.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth mirrors the pending backlog per stage. Attribute: stage.
	QueueDepth metric.Int64Gauge

	// FailedItems mirrors the parked failed-item count.
	FailedItems metric.Int64Gauge

	// ActiveBatches mirrors the number of in-flight batch rows.
	ActiveBatches metric.Int64Gauge

	// --- Distributions ---

	// TranscriptConfidence tracks overall transcript confidence scores.
	TranscriptConfidence metric.Float64Histogram
}

// stageBuckets covers pipeline stage latencies: downloads finish in
// seconds, long transcriptions take minutes.
var stageBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// confidenceBuckets covers the [0, 1] confidence range.
var confidenceBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("convoscope.stage.duration",
		metric.WithDescription("Latency of one pipeline stage by stage and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ItemDuration, err = m.Float64Histogram("convoscope.item.duration",
		metric.WithDescription("End-to-end latency of one recording across all stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("convoscope.llm.duration",
		metric.WithDescription("Latency of analysis-layer LLM calls by task and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptConfidence, err = m.Float64Histogram("convoscope.transcript.confidence",
		metric.WithDescription("Distribution of overall transcript confidence scores."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RecordingsProcessed, err = m.Int64Counter("convoscope.recordings.processed",
		metric.WithDescription("Recordings leaving the pipeline by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StageOutcomes, err = m.Int64Counter("convoscope.stage.outcomes",
		metric.WithDescription("Stage completions and failures by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.InsightsWritten, err = m.Int64Counter("convoscope.insights.written",
		metric.WithDescription("Cascade layer rows written by layer."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingsIndexed, err = m.Int64Counter("convoscope.embeddings.indexed",
		metric.WithDescription("Transcripts added to the semantic index."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("convoscope.provider.errors",
		metric.WithDescription("Upstream provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueueDepth, err = m.Int64Gauge("convoscope.queue.depth",
		metric.WithDescription("Pending recordings per stage."),
	); err != nil {
		return nil, err
	}
	if met.FailedItems, err = m.Int64Gauge("convoscope.failed_items",
		metric.WithDescription("Recordings parked past their retry budget."),
	); err != nil {
		return nil, err
	}
	if met.ActiveBatches, err = m.Int64Gauge("convoscope.batches.active",
		metric.WithDescription("In-flight batch rows."),
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

// RecordStage records one stage attempt's duration and outcome.
func (m *Metrics) RecordStage(ctx context.Context, stage store.Stage, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("status", status),
	)
	m.StageDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.StageOutcomes.Add(ctx, 1, attrs)
}

// RecordItem records one recording's end-to-end outcome.
func (m *Metrics) RecordItem(ctx context.Context, status string, elapsed time.Duration) {
	m.RecordingsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
	m.ItemDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordInsight records one cascade layer row.
func (m *Metrics) RecordInsight(ctx context.Context, layer int, defaulted bool) {
	m.InsightsWritten.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Int("layer", layer),
			attribute.Bool("defaulted", defaulted),
		))
}

// RecordProviderError records one upstream provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
}

// RecordConfidence records one transcript's overall confidence.
func (m *Metrics) RecordConfidence(ctx context.Context, confidence float32) {
	m.TranscriptConfidence.Record(ctx, float64(confidence))
}

// RecordQueueDepths publishes the backlog gauges from a processing summary.
// It satisfies the scheduler's MetricsSink.
func (m *Metrics) RecordQueueDepths(ctx context.Context, s *store.Summary) {
	for stage, n := range s.PendingByStage {
		m.QueueDepth.Record(ctx, int64(n),
			metric.WithAttributes(attribute.String("stage", string(stage))))
	}
	m.FailedItems.Record(ctx, int64(s.FailedItems))
	m.ActiveBatches.Record(ctx, int64(s.ActiveBatches))
}
