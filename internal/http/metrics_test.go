package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/question"
)

func TestHTTPMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), zaptest.NewLogger(t))

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.POST("/api/v1/files/:id/hash/:hash/preprocess_complete", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.POST("/api/v1/questions/:qid/answer", func(c echo.Context) error {
		return question.ErrQuotaExhausted
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, r := range []struct{ method, target string }{
		{http.MethodPost, "/api/v1/files/1/hash/abc/preprocess_complete"},
		{http.MethodPost, "/api/v1/files/2/hash/def/preprocess_complete"},
		{http.MethodPost, "/api/v1/questions/9/answer"},
		{http.MethodGet, "/health"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	var latencies uint64
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			switch data := mt.Data.(type) {
			case metricdata.Sum[int64]:
				if mt.Name != "extractd.http.requests" {
					continue
				}
				for _, dp := range data.DataPoints {
					surface, _ := dp.Attributes.Value("surface")
					class, _ := dp.Attributes.Value("status_class")
					counts[surface.AsString()+"/"+class.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					latencies += dp.Count
				}
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"callback/2xx": 2,
		"answer/4xx":   1,
		"ops/2xx":      1,
	}, counts)
	assert.Equal(t, uint64(4), latencies)
}

func TestRouteSurface(t *testing.T) {
	tests := map[string]string{
		"/api/v1/files/:id/hash/:hash/preprocess_complete": surfaceCallback,
		"/api/v1/files/extract-complete":                   surfaceCallback,
		"/api/v1/questions/:qid/answer":                    surfaceAnswer,
		"/api/v1/search":                                   surfaceAnswer,
		"/api/v1/files/:id/process":                        surfaceAdmin,
		"/api/v1/admin/reset_status":                       surfaceAdmin,
		"/health":                                          surfaceOps,
		"unmatched":                                        surfaceOps,
	}
	for route, want := range tests {
		assert.Equal(t, want, routeSurface(route), route)
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(0))
}
