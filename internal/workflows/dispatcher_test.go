package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-1" }

type startCall struct {
	opts client.StartWorkflowOptions
	args []interface{}
}

type fakeStarter struct {
	calls []startCall
	err   error
}

func (s *fakeStarter) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	s.calls = append(s.calls, startCall{opts: opts, args: args})
	if s.err != nil {
		return nil, s.err
	}
	return fakeRun{id: opts.ID}, nil
}

func TestDispatcher_Queues(t *testing.T) {
	ctx := context.Background()
	starter := &fakeStarter{}
	d := NewDispatcher(starter, config.TemporalConfig{DefaultPriority: 4}, zaptest.NewLogger(t))

	require.NoError(t, d.ParseFile(ctx, 7, orchestrator.ProcessOptions{}))
	require.NoError(t, d.DispatchTraining(ctx, 2, 11, training.Scope{}))
	require.Len(t, starter.calls, 2)

	parse := starter.calls[0]
	assert.Equal(t, DefaultTaskQueue, parse.opts.TaskQueue)
	assert.True(t, strings.HasPrefix(parse.opts.ID, "parse-file-7-"))
	assert.Equal(t, 4, parse.opts.Priority.PriorityKey)
	assert.Equal(t, []interface{}{ParseFileInput{FileID: 7}}, parse.args)

	train := starter.calls[1]
	assert.Equal(t, DefaultTrainingTaskQueue, train.opts.TaskQueue)
	assert.True(t, strings.HasPrefix(train.opts.ID, "training-11-"))
	assert.Equal(t, []interface{}{TrainingInput{MoldID: 2, VID: 11}}, train.args)
}

func TestDispatcher_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	starter := &fakeStarter{}
	d := NewDispatcher(starter, config.TemporalConfig{}, nil)

	require.NoError(t, d.PresetQuestion(ctx, 5, false))
	require.NoError(t, d.PresetQuestion(ctx, 5, false))
	require.Len(t, starter.calls, 2)
	assert.NotEqual(t, starter.calls[0].opts.ID, starter.calls[1].opts.ID)
}

func TestDispatcher_Priorities(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		cfg      config.TemporalConfig
		dispatch func(d *Dispatcher) error
		want     int
	}{
		{
			name:     "post pipe runs first",
			dispatch: func(d *Dispatcher) error { return d.QuestionPostPipe(ctx, orchestrator.PostPipeRequest{QID: 1}) },
			want:     1,
		},
		{
			name:     "repredict runs last",
			dispatch: func(d *Dispatcher) error { return d.RepredictMold(ctx, 3, 4) },
			want:     9,
		},
		{
			name:     "configured default",
			cfg:      config.TemporalConfig{DefaultPriority: 2},
			dispatch: func(d *Dispatcher) error { return d.InspectRule(ctx, 8) },
			want:     2,
		},
		{
			name:     "out of range default falls back",
			cfg:      config.TemporalConfig{DefaultPriority: 42},
			dispatch: func(d *Dispatcher) error { return d.PredictFile(ctx, 8, true) },
			want:     5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &fakeStarter{}
			d := NewDispatcher(starter, tt.cfg, nil)
			require.NoError(t, tt.dispatch(d))
			require.Len(t, starter.calls, 1)
			assert.Equal(t, tt.want, starter.calls[0].opts.Priority.PriorityKey)
		})
	}
}

func TestDispatcher_StartFailure(t *testing.T) {
	base := errors.New("frontend unavailable")
	d := NewDispatcher(&fakeStarter{err: base}, config.TemporalConfig{TaskQueue: "custom"}, nil)

	err := d.PresetAnswer(context.Background(), 3, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "preset-answer-3")
}
