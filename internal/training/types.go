// Package training owns model versions: their lifecycle, the three-stage
// training chain, enabling one version per mold and ZIP archives of the
// trained files.
package training

import (
	"encoding/json"
	"errors"

	"github.com/fyrsmithlabs/extractd/internal/answer"
)

// ModelType distinguishes configured versions from hand-written ones.
type ModelType int

const (
	ModelPredict  ModelType = 1
	ModelPrompter ModelType = 2
	ModelDevelop  ModelType = 20
)

// Status is the training progress of a version.
type Status int

const (
	StatusError          Status = -1
	StatusCreate         Status = 0
	StatusPrepare        Status = 1
	StatusTraining       Status = 2
	StatusDone           Status = 3
	StatusNeedTrainAgain Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusError:
		return "ERROR"
	case StatusCreate:
		return "CREATE"
	case StatusPrepare:
		return "PREPARE"
	case StatusTraining:
		return "TRAINING"
	case StatusDone:
		return "DONE"
	case StatusNeedTrainAgain:
		return "NEED_TRAIN_AGAIN"
	}
	return "UNKNOWN"
}

// Running reports whether a training chain owns the version.
func (s Status) Running() bool { return s == StatusPrepare || s == StatusTraining }

// Version is one trained (or trainable) configuration of a mold.
type Version struct {
	ID              int64           `json:"id"`
	MoldID          int64           `json:"mold"`
	Name            string          `json:"name"`
	ModelType       ModelType       `json:"model_type"`
	Status          Status          `json:"status"`
	Enable          bool            `json:"enable"`
	Predictors      json.RawMessage `json:"predictors,omitempty"`
	PredictorOption map[string]any  `json:"predictor_option,omitempty"`
	Dirs            []int64         `json:"dirs,omitempty"`
	Files           []int64         `json:"files,omitempty"`
	CreatedUTC      int64           `json:"created_utc,omitempty"`
	UpdatedUTC      int64           `json:"updated_utc,omitempty"`
	DeletedUTC      int64           `json:"deleted_utc,omitempty"`
}

// RecordStatus is the outcome of a training or test run.
type RecordStatus int

const (
	RecordRunning RecordStatus = 0
	RecordDone    RecordStatus = 1
	RecordFailed  RecordStatus = 2
)

// RecordKind tells training runs from accuracy tests.
type RecordKind int

const (
	RecordTrain    RecordKind = 0
	RecordTest     RecordKind = 1
	RecordDiffTest RecordKind = 2
)

// AccuracyRecord tracks one training or test run of a version.
type AccuracyRecord struct {
	ID         int64           `json:"id"`
	MoldID     int64           `json:"mold"`
	VID        int64           `json:"vid"`
	Kind       RecordKind      `json:"test"`
	Status     RecordStatus    `json:"status"`
	Files      []int64         `json:"files,omitempty"`
	Dirs       []int64         `json:"dirs,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedUTC int64           `json:"created_utc,omitempty"`
}

// SampleRef is a labeled file usable for training. Answer is the
// confirmed answer when one exists, else the question's answer.
type SampleRef struct {
	FileID   int64
	Interdoc string
	Answer   *answer.Answer
}

// Scope narrows the files a run reads. Empty lists mean every file.
type Scope struct {
	Trees []int64 `json:"tree_l,omitempty"`
	Files []int64 `json:"files_ids,omitempty"`
}

var (
	// ErrNotFound is returned when no live version has the id.
	ErrNotFound = errors.New("model version not found")

	// ErrDuplicateName is returned when the mold already has a version of
	// that name.
	ErrDuplicateName = errors.New("duplicate model version name")

	// ErrNoPredictors is returned when a version without any configured
	// field is trained.
	ErrNoPredictors = errors.New("no field has an extraction model")

	// ErrInProgress is returned when a version is already training.
	ErrInProgress = errors.New("model version is training")

	// ErrTooFewSamples is returned when fewer labeled files than the
	// configured minimum are in scope.
	ErrTooFewSamples = errors.New("not enough training samples")

	// ErrNotTrained is returned when enabling a version that is not DONE.
	ErrNotTrained = errors.New("model version is not trained")

	// ErrModelFilesMissing is returned when enabling a version whose
	// locator files are absent.
	ErrModelFilesMissing = errors.New("model files missing")

	// ErrNotDeletable is returned for enabled, running or preset versions.
	ErrNotDeletable = errors.New("model version cannot be deleted")

	// ErrTrainingFailed is returned when a training stage fails.
	ErrTrainingFailed = errors.New("training failed")

	// ErrInvalidArchive is returned when an imported archive is malformed.
	ErrInvalidArchive = errors.New("invalid model archive")
)

// PresetVersionName is the name of versions shipped with a deployment;
// they cannot be deleted.
const PresetVersionName = "后端预置版本"
