package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/extractd/internal/http"

// Route surfaces, used as a low cardinality label next to the route.
const (
	surfaceCallback = "callback" // parser and studio callbacks
	surfaceAnswer   = "answer"   // submissions and search
	surfaceAdmin    = "admin"    // processing triggers and resets
	surfaceOps      = "ops"      // health and metrics
)

// HTTPMetrics records request counts, latency and in-flight requests per
// route.
type HTTPMetrics struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{logger: logger}
	var err error
	if m.requests, err = meter.Int64Counter("extractd.http.requests",
		metric.WithDescription("HTTP requests by surface, route and status class"),
		metric.WithUnit("{request}"),
	); err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}
	if m.latency, err = meter.Float64Histogram("extractd.http.request.duration",
		metric.WithDescription("HTTP request latency; parser callbacks include the interdoc upload"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		logger.Warn("failed to create latency histogram", zap.Error(err))
	}
	if m.inflight, err = meter.Int64UpDownCounter("extractd.http.inflight",
		metric.WithDescription("HTTP requests being served"),
		metric.WithUnit("{request}"),
	); err != nil {
		logger.Warn("failed to create inflight counter", zap.Error(err))
	}
	return m
}

// MetricsMiddleware records every request once the handler returns.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			surface := attribute.String("surface", routeSurface(route))
			if m.inflight != nil {
				m.inflight.Add(ctx, 1, metric.WithAttributes(surface))
				defer m.inflight.Add(ctx, -1, metric.WithAttributes(surface))
			}

			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}
			attrs := metric.WithAttributes(
				surface,
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.String("status_class", statusClass(status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// routeSurface classifies a registered route pattern.
func routeSurface(route string) string {
	switch {
	case strings.HasSuffix(route, "/preprocess_complete"), strings.HasSuffix(route, "/extract-complete"):
		return surfaceCallback
	case strings.HasPrefix(route, "/api/v1/questions/"), route == "/api/v1/search":
		return surfaceAnswer
	case strings.HasPrefix(route, "/api/v1/"):
		return surfaceAdmin
	default:
		return surfaceOps
	}
}

// statusClass folds a status code into "2xx", "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
