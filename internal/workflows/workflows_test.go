package workflows

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

func TestTrainingWorkflow(t *testing.T) {
	in := TrainingInput{MoldID: 3, VID: 11, Scope: training.Scope{Trees: []int64{100}}}

	t.Run("runs every stage in order", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		fake := &Activities{}
		env.RegisterActivity(fake)
		env.RegisterWorkflow(TrainingWorkflow)

		var order []string
		env.OnActivity(fake.PrepareDataset, mock.Anything, in).Return(int64(7), nil).Run(func(mock.Arguments) { order = append(order, "prepare") })
		env.OnActivity(fake.TrainPrompter, mock.Anything, in).Return(nil).Run(func(mock.Arguments) { order = append(order, "prompter") })
		env.OnActivity(fake.TrainPredictor, mock.Anything, in).Return(nil).Run(func(mock.Arguments) { order = append(order, "predictor") })
		env.OnActivity(fake.FinishTraining, mock.Anything, TrainingResult{VID: 11, RecordID: 7}).Return(nil).Run(func(mock.Arguments) { order = append(order, "finish") })

		env.ExecuteWorkflow(TrainingWorkflow, in)

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var result TrainingResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, TrainingResult{VID: 11, RecordID: 7}, result)
		assert.Equal(t, []string{"prepare", "prompter", "predictor", "finish"}, order)
		env.AssertExpectations(t)
	})

	t.Run("failed stage marks the version failed", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		fake := &Activities{}
		env.RegisterActivity(fake)
		env.RegisterWorkflow(TrainingWorkflow)

		env.OnActivity(fake.PrepareDataset, mock.Anything, in).Return(int64(7), nil)
		env.OnActivity(fake.TrainPrompter, mock.Anything, in).Return(
			temporal.NewNonRetryableApplicationError("no samples", errTypePermanent, training.ErrTooFewSamples))
		env.OnActivity(fake.FailTraining, mock.Anything, mock.MatchedBy(func(f FailTrainingInput) bool {
			return f.VID == 11 && f.RecordID == 7 && f.Reason != ""
		})).Return(nil).Once()

		env.ExecuteWorkflow(TrainingWorkflow, in)

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "train_prompter_v2")
		env.AssertNotCalled(t, "TrainPredictor", mock.Anything, mock.Anything)
		env.AssertNotCalled(t, "FinishTraining", mock.Anything, mock.Anything)
		env.AssertExpectations(t)
	})

	t.Run("prepare failure does not open a record", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		fake := &Activities{}
		env.RegisterActivity(fake)
		env.RegisterWorkflow(TrainingWorkflow)

		env.OnActivity(fake.PrepareDataset, mock.Anything, in).Return(int64(0), errors.New("db down"))

		env.ExecuteWorkflow(TrainingWorkflow, in)

		require.True(t, env.IsWorkflowCompleted())
		require.Error(t, env.GetWorkflowError())
		env.AssertNotCalled(t, "FailTraining", mock.Anything, mock.Anything)
	})
}

func TestQuestionPostPipeWorkflow(t *testing.T) {
	tests := []struct {
		name      string
		locked    bool
		wantCalls int
	}{
		{name: "handed lock runs once", locked: true, wantCalls: 1},
		{name: "own lock is retried", locked: false, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()
			fake := &Activities{}
			env.RegisterActivity(fake)
			env.RegisterWorkflow(QuestionPostPipeWorkflow)

			calls := 0
			req := orchestrator.PostPipeRequest{QID: 5, FileID: 2, Locked: tt.locked}
			env.OnActivity(fake.QuestionPostPipe, mock.Anything, req).Return(errors.New("transient")).Run(func(mock.Arguments) { calls++ })

			env.ExecuteWorkflow(QuestionPostPipeWorkflow, req)

			require.True(t, env.IsWorkflowCompleted())
			require.Error(t, env.GetWorkflowError())
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestTaskWorkflows_PermanentErrorsAreNotRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	fake := &Activities{}
	env.RegisterActivity(fake)
	env.RegisterWorkflow(ParseFileWorkflow)

	calls := 0
	in := ParseFileInput{FileID: 9}
	env.OnActivity(fake.ParseFile, mock.Anything, in).Return(
		temporal.NewNonRetryableApplicationError("rejected", errTypePermanent, nil)).Run(func(mock.Arguments) { calls++ })

	env.ExecuteWorkflow(ParseFileWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	assert.Equal(t, 1, calls)
}

func TestPredictFileWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	fake := &Activities{}
	env.RegisterActivity(fake)
	env.RegisterWorkflow(PredictFileWorkflow)

	in := PredictFileInput{FileID: 4, Force: true}
	env.OnActivity(fake.PredictFile, mock.Anything, in).Return(nil).Once()

	env.ExecuteWorkflow(PredictFileWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}
