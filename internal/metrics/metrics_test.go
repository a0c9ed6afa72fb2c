package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTask(t *testing.T) {
	before := testutil.ToFloat64(TasksTotal.WithLabelValues("preset_answer", ResultError))
	ObserveTask("preset_answer", time.Now(), errors.New("boom"))
	ObserveTask("preset_answer", time.Now(), nil)
	assert.Equal(t, before+1, testutil.ToFloat64(TasksTotal.WithLabelValues("preset_answer", ResultError)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(TasksTotal.WithLabelValues("preset_answer", ResultSuccess)), 1.0)
}

func TestObserveLock(t *testing.T) {
	busy := errors.New("busy")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "acquired", want: ResultSuccess},
		{name: "contended", err: fmt.Errorf("wrap: %w", busy), want: ResultContended},
		{name: "failed", err: errors.New("redis down"), want: ResultError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := LockAttempts.WithLabelValues("test_"+tt.name, tt.want)
			before := testutil.ToFloat64(c)
			ObserveLock("test_"+tt.name, tt.err, busy)
			assert.Equal(t, before+1, testutil.ToFloat64(c))
		})
	}
}
