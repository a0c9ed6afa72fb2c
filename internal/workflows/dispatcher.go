package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// Starter is the part of the Temporal client the dispatcher uses.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Dispatcher starts tasks as Temporal workflows. It satisfies
// orchestrator.Dispatcher and training.Dispatcher.
type Dispatcher struct {
	client        Starter
	taskQueue     string
	trainingQueue string
	priority      int
	logger        *zap.Logger
}

var (
	_ orchestrator.Dispatcher = (*Dispatcher)(nil)
	_ training.Dispatcher     = (*Dispatcher)(nil)
	_ training.Repredictor    = (*Dispatcher)(nil)
)

// NewDispatcher creates a dispatcher from the temporal configuration.
func NewDispatcher(c Starter, cfg config.TemporalConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		client:        c,
		taskQueue:     cfg.TaskQueue,
		trainingQueue: cfg.TrainingTaskQueue,
		priority:      cfg.DefaultPriority,
		logger:        logger,
	}
	if d.taskQueue == "" {
		d.taskQueue = DefaultTaskQueue
	}
	if d.trainingQueue == "" {
		d.trainingQueue = DefaultTrainingTaskQueue
	}
	if d.priority < 1 || d.priority > 9 {
		d.priority = 5
	}
	return d
}

// start runs wf under a unique id. Priorities follow the 1 (first) to 9
// (last) scale of the file priority.
func (d *Dispatcher) start(ctx context.Context, queue, id string, priority int, wf any, in any) error {
	if priority < 1 || priority > 9 {
		priority = d.priority
	}
	opts := client.StartWorkflowOptions{
		ID:        id + "-" + uuid.NewString(),
		TaskQueue: queue,
		Priority:  temporal.Priority{PriorityKey: priority},
	}
	run, err := d.client.ExecuteWorkflow(ctx, opts, wf, in)
	recordDispatch(ctx, id, err)
	if err != nil {
		return fmt.Errorf("start workflow %s: %w", id, err)
	}
	d.logger.Debug("workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("task_queue", queue),
	)
	return nil
}

// ParseFile starts convert_or_parse_file.
func (d *Dispatcher) ParseFile(ctx context.Context, fileID int64, opts orchestrator.ProcessOptions) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("parse-file-%d", fileID), 0,
		ParseFileWorkflow, ParseFileInput{FileID: fileID, Options: opts})
}

// PredictFile starts process_file_predict.
func (d *Dispatcher) PredictFile(ctx context.Context, fileID int64, force bool) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("predict-file-%d", fileID), 0,
		PredictFileWorkflow, PredictFileInput{FileID: fileID, Force: force})
}

// PresetAnswer starts preset_answer_by_fid.
func (d *Dispatcher) PresetAnswer(ctx context.Context, fileID int64, force bool) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("preset-answer-%d", fileID), 0,
		PresetAnswerWorkflow, PresetAnswerInput{FileID: fileID, Force: force})
}

// PresetQuestion starts preset_answer_by_qid.
func (d *Dispatcher) PresetQuestion(ctx context.Context, qid int64, force bool) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("preset-question-%d", qid), 0,
		PresetQuestionWorkflow, PresetQuestionInput{QID: qid, Force: force})
}

// QuestionPostPipe starts question_post_pipe. Submissions run first.
func (d *Dispatcher) QuestionPostPipe(ctx context.Context, req orchestrator.PostPipeRequest) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("question-post-pipe-%d", req.QID), 1,
		QuestionPostPipeWorkflow, req)
}

// InspectRule starts inspect_rule.
func (d *Dispatcher) InspectRule(ctx context.Context, fileID int64) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("inspect-rule-%d", fileID), 0,
		InspectRuleWorkflow, InspectRuleInput{FileID: fileID})
}

// ProcessFileExtract starts process_file_extract.
func (d *Dispatcher) ProcessFileExtract(ctx context.Context, req orchestrator.ExtractRequest) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("file-extract-%d-%d", req.FileID, req.MoldID), 0,
		ProcessFileExtractWorkflow, req)
}

// RepredictMold starts the re-prediction of a mold after a version is
// enabled.
func (d *Dispatcher) RepredictMold(ctx context.Context, moldID, vid int64) error {
	return d.start(ctx, d.taskQueue, fmt.Sprintf("repredict-mold-%d", moldID), 9,
		RepredictMoldWorkflow, RepredictInput{MoldID: moldID, VID: vid})
}

// DispatchTraining starts the training chain on the training queue.
func (d *Dispatcher) DispatchTraining(ctx context.Context, moldID, vid int64, scope training.Scope) error {
	return d.start(ctx, d.trainingQueue, fmt.Sprintf("training-%d", vid), 0,
		TrainingWorkflow, TrainingInput{MoldID: moldID, VID: vid, Scope: scope})
}
