package observe

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Provider owns the SDK meter provider and the manual reader behind the exit summary.
type Provider struct {
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewProvider builds a meter provider tagged with serviceName and registers
// it as the global provider.
func NewProvider(serviceName, serviceVersion string) (*Provider, error) {
	if serviceName == "" {
		serviceName = "recorder"
	}
	res, err := resource.Merge(
		resource.Default(),
		// Schemaless so the merge never conflicts with the SDK's default schema URL.
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	return &Provider{mp: mp, reader: reader}, nil
}

// MeterProvider returns the SDK provider for NewMetrics.
func (p *Provider) MeterProvider() *sdkmetric.MeterProvider { return p.mp }

// Summary is a point-in-time reading of the recorder counters.
type Summary struct {
	SpeechFrames   int64
	SilenceFrames  int64
	Written        int64
	EncodeFailures int64
	Discards       int64
	CaptureErrors  int64
	BytesWritten   int64
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("speech_frames", s.SpeechFrames),
		slog.Int64("silence_frames", s.SilenceFrames),
		slog.Int64("segments_written", s.Written),
		slog.Int64("encode_failures", s.EncodeFailures),
		slog.Int64("discards", s.Discards),
		slog.Int64("capture_errors", s.CaptureErrors),
		slog.Int64("bytes_written", s.BytesWritten),
	)
}

// Summary collects the current counter values.
func (p *Provider) Summary(ctx context.Context) (Summary, error) {
	return Collect(ctx, p.reader)
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// Collect reads reader and folds the recorder counters into a Summary.
func Collect(ctx context.Context, reader sdkmetric.Reader) (Summary, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != meterName {
			continue
		}
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case FramesName:
					if attrValue(dp.Attributes, "class") == ClassSpeech {
						s.SpeechFrames += dp.Value
					} else {
						s.SilenceFrames += dp.Value
					}
				case SegmentsName:
					if attrValue(dp.Attributes, "status") == StatusWritten {
						s.Written += dp.Value
					} else {
						s.EncodeFailures += dp.Value
					}
				case DiscardsName:
					s.Discards += dp.Value
				case CaptureErrorsName:
					s.CaptureErrors += dp.Value
				case BytesWrittenName:
					s.BytesWritten += dp.Value
				}
			}
		}
	}
	return s, nil
}

func attrValue(set attribute.Set, key attribute.Key) string {
	v, ok := set.Value(key)
	if !ok {
		return ""
	}
	return v.AsString()
}
