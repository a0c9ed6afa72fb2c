package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/embeddings"

// Metrics records embedding request latency, size and failures.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	tokens    metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	m := &Metrics{meter: meter, logger: logger}
	var err error
	m.duration, err = meter.Float64Histogram(
		"extractd.embedding.request_duration_seconds",
		metric.WithDescription("Duration of one embeddings request"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	m.batchSize, err = meter.Int64Histogram(
		"extractd.embedding.batch_size",
		metric.WithDescription("Texts per embeddings request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}
	m.tokens, err = meter.Int64Histogram(
		"extractd.embedding.batch_tokens",
		metric.WithDescription("BPE tokens per embeddings request"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 2000, 3000, 4000, 5000, 8000),
	)
	if err != nil {
		logger.Warn("failed to create token histogram", zap.Error(err))
	}
	m.errors, err = meter.Int64Counter(
		"extractd.embedding.errors_total",
		metric.WithDescription("Failed embeddings requests"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	return m
}

// RecordRequest records one provider call.
func (m *Metrics) RecordRequest(ctx context.Context, provider string, d time.Duration, texts, tokens int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if m.batchSize != nil {
		m.batchSize.Record(ctx, int64(texts), attrs)
	}
	if m.tokens != nil && tokens > 0 {
		m.tokens.Record(ctx, int64(tokens), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
