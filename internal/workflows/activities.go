package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// Tasks is the task side of the orchestrator the activities drive.
type Tasks interface {
	ConvertOrParse(ctx context.Context, fileID int64, opts orchestrator.ProcessOptions) error
	PredictFile(ctx context.Context, fileID int64, force bool) error
	PresetAnswer(ctx context.Context, fileID int64, force bool) error
	PresetQuestion(ctx context.Context, qid int64, force bool) error
	QuestionPostPipe(ctx context.Context, req orchestrator.PostPipeRequest) error
	InspectRule(ctx context.Context, fileID int64) error
	ProcessFileExtract(ctx context.Context, req orchestrator.ExtractRequest) error
	RepredictMold(ctx context.Context, moldID, vid int64) error
}

// Trainer runs the training stages of a version.
type Trainer interface {
	PrepareDataset(ctx context.Context, vid int64, scope training.Scope) (*training.AccuracyRecord, error)
	TrainPrompter(ctx context.Context, vid int64, scope training.Scope) error
	TrainPredictor(ctx context.Context, vid int64, scope training.Scope) error
	Finish(ctx context.Context, vid, recordID int64) error
	Fail(ctx context.Context, vid, recordID int64, cause error)
}

// Activities holds the dependencies of every activity. Register it with
// worker.RegisterActivity; each exported method is one activity.
type Activities struct {
	tasks   Tasks
	trainer Trainer
	logger  *zap.Logger
}

// NewActivities creates the activities.
func NewActivities(tasks Tasks, trainer Trainer, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{tasks: tasks, trainer: trainer, logger: logger}
}

// run executes one activity with metrics, logging and error classification.
func (a *Activities) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if activity.IsActivity(ctx) {
		info := activity.GetInfo(ctx)
		ctx = logging.WithTaskID(ctx, info.WorkflowExecution.ID)
		if info.Attempt > 1 {
			a.logger.Info("activity retry", zap.String("activity", name), zap.Int32("attempt", info.Attempt))
		}
	}
	err := fn(ctx)
	recordActivity(ctx, name, start, err)
	if err != nil {
		a.logger.Warn("activity failed", zap.String("activity", name), zap.Bool("permanent", Permanent(err)), zap.Error(err))
	}
	return activityError(name, err)
}

// ParseFile submits a file to the parser.
func (a *Activities) ParseFile(ctx context.Context, in ParseFileInput) error {
	return a.run(ctx, "convert_or_parse_file", func(ctx context.Context) error {
		return a.tasks.ConvertOrParse(logging.WithFileID(ctx, in.FileID), in.FileID, in.Options)
	})
}

// PredictFile starts the predictions of a parsed file.
func (a *Activities) PredictFile(ctx context.Context, in PredictFileInput) error {
	return a.run(ctx, "process_file_predict", func(ctx context.Context) error {
		return a.tasks.PredictFile(logging.WithFileID(ctx, in.FileID), in.FileID, in.Force)
	})
}

// PresetAnswer predicts every question of a file.
func (a *Activities) PresetAnswer(ctx context.Context, in PresetAnswerInput) error {
	return a.run(ctx, "preset_answer_by_fid", func(ctx context.Context) error {
		return a.tasks.PresetAnswer(logging.WithFileID(ctx, in.FileID), in.FileID, in.Force)
	})
}

// PresetQuestion predicts one question.
func (a *Activities) PresetQuestion(ctx context.Context, in PresetQuestionInput) error {
	return a.run(ctx, "preset_answer_by_qid", func(ctx context.Context) error {
		return a.tasks.PresetQuestion(logging.WithQuestionID(ctx, in.QID), in.QID, in.Force)
	})
}

// QuestionPostPipe merges the answers of a question and runs the
// post-pipeline.
func (a *Activities) QuestionPostPipe(ctx context.Context, in orchestrator.PostPipeRequest) error {
	return a.run(ctx, "question_post_pipe", func(ctx context.Context) error {
		return a.tasks.QuestionPostPipe(logging.WithQuestionID(ctx, in.QID), in)
	})
}

// InspectRule audits a file.
func (a *Activities) InspectRule(ctx context.Context, in InspectRuleInput) error {
	return a.run(ctx, "inspect_rule", func(ctx context.Context) error {
		return a.tasks.InspectRule(logging.WithFileID(ctx, in.FileID), in.FileID)
	})
}

// ProcessFileExtract applies an LLM extraction.
func (a *Activities) ProcessFileExtract(ctx context.Context, in orchestrator.ExtractRequest) error {
	return a.run(ctx, "process_file_extract", func(ctx context.Context) error {
		ctx = logging.WithMoldID(logging.WithFileID(ctx, in.FileID), in.MoldID)
		return a.tasks.ProcessFileExtract(ctx, in)
	})
}

// RepredictMold re-runs the preset answers of a mold.
func (a *Activities) RepredictMold(ctx context.Context, in RepredictInput) error {
	return a.run(ctx, "repredict_mold", func(ctx context.Context) error {
		return a.tasks.RepredictMold(logging.WithMoldID(ctx, in.MoldID), in.MoldID, in.VID)
	})
}

// PrepareDataset opens the training record of a version and returns its id.
func (a *Activities) PrepareDataset(ctx context.Context, in TrainingInput) (int64, error) {
	var id int64
	err := a.run(ctx, "prepare_dataset", func(ctx context.Context) error {
		rec, err := a.trainer.PrepareDataset(logging.WithMoldID(ctx, in.MoldID), in.VID, in.Scope)
		if err != nil {
			return err
		}
		id = rec.ID
		return nil
	})
	return id, err
}

// TrainPrompter trains the coarse locator.
func (a *Activities) TrainPrompter(ctx context.Context, in TrainingInput) error {
	return a.run(ctx, "train_prompter_v2", func(ctx context.Context) error {
		return a.trainer.TrainPrompter(logging.WithMoldID(ctx, in.MoldID), in.VID, in.Scope)
	})
}

// TrainPredictor trains the precise extractors.
func (a *Activities) TrainPredictor(ctx context.Context, in TrainingInput) error {
	return a.run(ctx, "train_predictor", func(ctx context.Context) error {
		return a.trainer.TrainPredictor(logging.WithMoldID(ctx, in.MoldID), in.VID, in.Scope)
	})
}

// FinishTraining marks the version trained and closes its record.
func (a *Activities) FinishTraining(ctx context.Context, in TrainingResult) error {
	return a.run(ctx, "finish_training", func(ctx context.Context) error {
		return a.trainer.Finish(ctx, in.VID, in.RecordID)
	})
}

// FailTraining marks the version failed and closes its record.
func (a *Activities) FailTraining(ctx context.Context, in FailTrainingInput) error {
	if in.VID == 0 {
		return activityError("fail_training", fmt.Errorf("%w: missing version id", training.ErrNotFound))
	}
	a.trainer.Fail(ctx, in.VID, in.RecordID, errors.New(in.Reason))
	return nil
}
