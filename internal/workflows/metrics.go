package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/workflows"

// Metrics for dispatch and activity execution
var (
	dispatchCounter      metric.Int64Counter
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	dispatchCounter, err = meter.Int64Counter(
		"extractd.workflows.dispatched",
		metric.WithDescription("Workflows started by the dispatcher"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create dispatch counter: %v", err))
	}

	// Activity duration histogram
	activityDuration, err = meter.Float64Histogram(
		"extractd.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	// Activity error counter
	activityErrorCounter, err = meter.Int64Counter(
		"extractd.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordActivity(ctx context.Context, name string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("activity", name),
			attribute.Bool("permanent", Permanent(err)),
		))
	}
}

func recordDispatch(ctx context.Context, workflow string, err error) {
	dispatchCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.Bool("failed", err != nil),
	))
}
