package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
)

// acts is the nil receiver used to name activities inside workflows.
var acts *Activities

var (
	taskRetry = &temporal.RetryPolicy{
		InitialInterval:        5 * time.Second,
		BackoffCoefficient:     2,
		MaximumInterval:        2 * time.Minute,
		MaximumAttempts:        3,
		NonRetryableErrorTypes: []string{errTypePermanent},
	}

	// shortTask bounds tasks that only call a remote service.
	shortTask = workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         taskRetry,
	}

	// predictTask bounds tasks that run extractors over documents.
	predictTask = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         taskRetry,
	}

	// trainTask bounds one training stage. Stages are not retried: a
	// failed stage fails the version.
	trainTask = workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
)

// ParseFileWorkflow submits a file to the parser.
func ParseFileWorkflow(ctx workflow.Context, in ParseFileInput) error {
	ctx = workflow.WithActivityOptions(ctx, shortTask)
	return workflow.ExecuteActivity(ctx, acts.ParseFile, in).Get(ctx, nil)
}

// PredictFileWorkflow starts the predictions of a parsed file.
func PredictFileWorkflow(ctx workflow.Context, in PredictFileInput) error {
	ctx = workflow.WithActivityOptions(ctx, shortTask)
	return workflow.ExecuteActivity(ctx, acts.PredictFile, in).Get(ctx, nil)
}

// PresetAnswerWorkflow predicts every question of a file.
func PresetAnswerWorkflow(ctx workflow.Context, in PresetAnswerInput) error {
	ctx = workflow.WithActivityOptions(ctx, predictTask)
	return workflow.ExecuteActivity(ctx, acts.PresetAnswer, in).Get(ctx, nil)
}

// PresetQuestionWorkflow predicts one question.
func PresetQuestionWorkflow(ctx workflow.Context, in PresetQuestionInput) error {
	ctx = workflow.WithActivityOptions(ctx, predictTask)
	return workflow.ExecuteActivity(ctx, acts.PresetQuestion, in).Get(ctx, nil)
}

// QuestionPostPipeWorkflow merges answers and runs the post-pipeline of a
// question. A handed-over lock is released by the activity, so it runs
// exactly once.
func QuestionPostPipeWorkflow(ctx workflow.Context, in orchestrator.PostPipeRequest) error {
	opts := predictTask
	if in.Locked {
		opts.RetryPolicy = &temporal.RetryPolicy{MaximumAttempts: 1}
	}
	ctx = workflow.WithActivityOptions(ctx, opts)
	return workflow.ExecuteActivity(ctx, acts.QuestionPostPipe, in).Get(ctx, nil)
}

// InspectRuleWorkflow audits a file.
func InspectRuleWorkflow(ctx workflow.Context, in InspectRuleInput) error {
	ctx = workflow.WithActivityOptions(ctx, shortTask)
	return workflow.ExecuteActivity(ctx, acts.InspectRule, in).Get(ctx, nil)
}

// ProcessFileExtractWorkflow applies an LLM extraction.
func ProcessFileExtractWorkflow(ctx workflow.Context, in orchestrator.ExtractRequest) error {
	ctx = workflow.WithActivityOptions(ctx, predictTask)
	return workflow.ExecuteActivity(ctx, acts.ProcessFileExtract, in).Get(ctx, nil)
}

// RepredictMoldWorkflow re-runs the preset answers of a mold.
func RepredictMoldWorkflow(ctx workflow.Context, in RepredictInput) error {
	ctx = workflow.WithActivityOptions(ctx, predictTask)
	return workflow.ExecuteActivity(ctx, acts.RepredictMold, in).Get(ctx, nil)
}

// TrainingWorkflow runs the training chain of a version. A failing stage
// marks the version failed before the workflow fails.
func TrainingWorkflow(ctx workflow.Context, in TrainingInput) (*TrainingResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting training", "mold", in.MoldID, "vid", in.VID)
	ctx = workflow.WithActivityOptions(ctx, trainTask)

	result := &TrainingResult{VID: in.VID}
	if err := workflow.ExecuteActivity(ctx, acts.PrepareDataset, in).Get(ctx, &result.RecordID); err != nil {
		return nil, NewWorkflowError("prepare_dataset", ErrorSeverityCritical, err, fmt.Sprintf("vid %d", in.VID))
	}

	stages := []struct {
		name string
		fn   any
	}{
		{"train_prompter_v2", acts.TrainPrompter},
		{"train_predictor", acts.TrainPredictor},
	}
	for _, stage := range stages {
		logger.Info("Training stage", "stage", stage.name, "vid", in.VID)
		err := workflow.ExecuteActivity(ctx, stage.fn, in).Get(ctx, nil)
		if err == nil {
			continue
		}
		fail := FailTrainingInput{VID: in.VID, RecordID: result.RecordID, Reason: err.Error()}
		if ferr := workflow.ExecuteActivity(ctx, acts.FailTraining, fail).Get(ctx, nil); ferr != nil {
			logger.Warn("Failed to record training failure (non-fatal)", "error", ferr)
		}
		return nil, NewWorkflowError(stage.name, ErrorSeverityCritical, err, fmt.Sprintf("vid %d", in.VID))
	}

	if err := workflow.ExecuteActivity(ctx, acts.FinishTraining, *result).Get(ctx, nil); err != nil {
		return nil, NewWorkflowError("finish_training", ErrorSeverityCritical, err, fmt.Sprintf("vid %d", in.VID))
	}
	logger.Info("Training complete", "vid", in.VID, "record", result.RecordID)
	return result, nil
}
