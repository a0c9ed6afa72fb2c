package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) ResetStatuses(ctx context.Context, req orchestrator.ResetRequest) (orchestrator.ResetReport, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(orchestrator.ResetReport), args.Error(1)
}

func (m *mockReconciler) RefreshGauges(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.SchedulerConfig
		wantEntries int
		wantErr     bool
	}{
		{name: "reset and gauges", cfg: config.SchedulerConfig{ResetSpec: "*/10 * * * *"}, wantEntries: 2},
		{name: "gauges only", cfg: config.SchedulerConfig{}, wantEntries: 1},
		{name: "bad spec", cfg: config.SchedulerConfig{ResetSpec: "every tuesday"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(&mockReconciler{}, tt.cfg, zaptest.NewLogger(t))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEntries, s.Entries())
		})
	}
}

func TestNew_RequiresReconciler(t *testing.T) {
	_, err := New(nil, config.SchedulerConfig{}, nil)
	assert.Error(t, err)
}

func TestReset_UsesStuckAfter(t *testing.T) {
	r := &mockReconciler{}
	r.On("ResetStatuses", mock.Anything, orchestrator.ResetRequest{StuckAfter: 30 * time.Minute}).
		Return(orchestrator.ResetReport{Questions: 2, Files: 1}, nil).Once()

	s, err := New(r, config.SchedulerConfig{StuckAfter: config.Duration(30 * time.Minute)}, zaptest.NewLogger(t))
	require.NoError(t, err)

	rep, err := s.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ResetReport{Questions: 2, Files: 1}, rep)
	r.AssertExpectations(t)
}

func TestReset_DefaultStuckAfter(t *testing.T) {
	r := &mockReconciler{}
	r.On("ResetStatuses", mock.Anything, orchestrator.ResetRequest{StuckAfter: 2 * time.Hour}).
		Return(orchestrator.ResetReport{}, errors.New("db down")).Once()

	s, err := New(r, config.SchedulerConfig{}, nil)
	require.NoError(t, err)

	_, err = s.Reset(context.Background())
	assert.Error(t, err)
	r.AssertExpectations(t)
}

func TestJob_LogsFailureAndAppliesTimeout(t *testing.T) {
	s, err := New(&mockReconciler{}, config.SchedulerConfig{}, zaptest.NewLogger(t), WithJobTimeout(time.Second))
	require.NoError(t, err)

	var deadline time.Time
	s.job("probe", func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return errors.New("boom")
	})()

	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, time.Second)
}

func TestStartStop(t *testing.T) {
	r := &mockReconciler{}
	s, err := New(r, config.SchedulerConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
