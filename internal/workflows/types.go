// Package workflows runs the extraction tasks as Temporal workflows.
//
// Every task of the orchestrator is one workflow wrapping one activity,
// so retries, timeouts and priorities come from Temporal while the work
// itself stays in the orchestrator. Training is the only chain:
//
//	prepare_dataset → train_prompter → train_predictor → finish
//
// Dispatcher starts the workflows and implements the dispatch interfaces
// of the orchestrator and the training service.
package workflows

import (
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// Default task queues.
const (
	DefaultTaskQueue         = "extractd-tasks"
	DefaultTrainingTaskQueue = "extractd-training"
)

// ParseFileInput starts convert_or_parse_file.
type ParseFileInput struct {
	FileID  int64
	Options orchestrator.ProcessOptions
}

// PredictFileInput starts process_file_predict.
type PredictFileInput struct {
	FileID int64
	Force  bool
}

// PresetAnswerInput starts preset_answer_by_fid.
type PresetAnswerInput struct {
	FileID int64
	Force  bool
}

// PresetQuestionInput starts preset_answer_by_qid.
type PresetQuestionInput struct {
	QID   int64
	Force bool
}

// InspectRuleInput starts inspect_rule.
type InspectRuleInput struct {
	FileID int64
}

// TrainingInput starts the training chain of a version.
type TrainingInput struct {
	MoldID int64
	VID    int64
	Scope  training.Scope
}

// TrainingResult reports a finished chain.
type TrainingResult struct {
	VID      int64
	RecordID int64
}

// FailTrainingInput closes a failed training record.
type FailTrainingInput struct {
	VID      int64
	RecordID int64
	Reason   string
}

// RepredictInput re-runs the preset answers of a mold.
type RepredictInput struct {
	MoldID int64
	VID    int64
}
