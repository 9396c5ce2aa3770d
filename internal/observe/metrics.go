// Package observe holds the recorder's OpenTelemetry metric instruments and
// the in-process reader used to log a summary when the process exits.
//
// Tests should build [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] so readings do not leak between tests.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for all recorder metrics.
const meterName = "github.com/good-listener/recorder"

// Instrument names.
const (
	FramesName          = "recorder.frames"
	SegmentsName        = "recorder.segments"
	DiscardsName        = "recorder.segment.discards"
	CaptureErrorsName   = "recorder.capture.errors"
	SegmentDurationName = "recorder.segment.duration"
	BytesWrittenName    = "recorder.bytes_written"
	ThresholdName       = "recorder.vad.threshold"
)

// Attribute values.
const (
	ClassSpeech  = "speech"
	ClassSilence = "silence"

	StatusWritten = "written"
	StatusFailed  = "encode_failed"
)

// Metrics holds the metric instruments of a recorder process.
type Metrics struct {
	// Frames counts classified frames. Attribute: class.
	Frames metric.Int64Counter

	// Segments counts flushed segments. Attribute: status.
	Segments metric.Int64Counter

	// Discards counts segments dropped before flush. Attribute: reason.
	Discards metric.Int64Counter

	// CaptureErrors counts failed source reads.
	CaptureErrors metric.Int64Counter

	SegmentDuration metric.Float64Histogram
	BytesWritten    metric.Int64Counter

	// Threshold reports the adaptive energy threshold after each frame.
	Threshold metric.Float64Gauge
}

// durationBuckets are histogram boundaries in seconds sized for spoken utterances.
var durationBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter(FramesName,
		metric.WithDescription("Frames classified, by class."),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter(SegmentsName,
		metric.WithDescription("Segments flushed to the sink, by status."),
		metric.WithUnit("{segment}"),
	); err != nil {
		return nil, err
	}
	if met.Discards, err = m.Int64Counter(DiscardsName,
		metric.WithDescription("Segments discarded before flush, by reason."),
		metric.WithUnit("{segment}"),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter(CaptureErrorsName,
		metric.WithDescription("Failed reads from the capture source."),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram(SegmentDurationName,
		metric.WithDescription("Audio duration of flushed segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BytesWritten, err = m.Int64Counter(BytesWrittenName,
		metric.WithDescription("Encoded bytes written to output files."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Threshold, err = m.Float64Gauge(ThresholdName,
		metric.WithDescription("Adaptive energy threshold of the voice activity detector."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return met
}

// RecordFrame counts one classified frame and reports the threshold.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool, threshold float64) {
	class := ClassSilence
	if speech {
		class = ClassSpeech
	}
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
	m.Threshold.Record(ctx, threshold)
}

// RecordSegment counts one flushed segment of the given audio duration.
// A nil writeErr counts it as written with n bytes.
func (m *Metrics) RecordSegment(ctx context.Context, seconds float64, n int64, writeErr error) {
	status := StatusWritten
	if writeErr != nil {
		status = StatusFailed
	}
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SegmentDuration.Record(ctx, seconds)
	if n > 0 {
		m.BytesWritten.Add(ctx, n)
	}
}

// RecordDiscard counts one segment dropped for reason.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.Discards.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
