package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestMetrics_RecordRequest(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), zap.NewNop())

	ctx := context.Background()
	m.RecordRequest(ctx, "openai", 100*time.Millisecond, 10, 800, nil)
	m.RecordRequest(ctx, "openai", 20*time.Millisecond, 3, 0, errors.New("boom"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "extractd.embedding.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
			case "extractd.embedding.batch_tokens":
				hist, ok := md.Data.(metricdata.Histogram[int64])
				require.True(t, ok)
				assert.Equal(t, uint64(1), hist.DataPoints[0].Count, "zero token counts are not recorded")
			case "extractd.embedding.errors_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			}
		}
	}
	for _, name := range []string{
		"extractd.embedding.request_duration_seconds",
		"extractd.embedding.batch_size",
		"extractd.embedding.batch_tokens",
		"extractd.embedding.errors_total",
	} {
		assert.True(t, found[name], name)
	}

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.RecordRequest(ctx, "x", 0, 1, 1, nil) })
}
