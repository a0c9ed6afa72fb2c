package prompter

import "errors"

var (
	// ErrModelMissing is returned when a version has no trained model files.
	ErrModelMissing = errors.New("model files missing")

	// ErrNoTrainingData is returned when no sample labels any element.
	ErrNoTrainingData = errors.New("no training data")
)
