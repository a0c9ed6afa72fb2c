package prophet

import (
	"errors"

	"github.com/fyrsmithlabs/extractd/internal/prompter"
)

var (
	// ErrInvalidConfig is returned for unknown kinds, unknown keys, bad
	// regular expressions and values out of range.
	ErrInvalidConfig = errors.New("invalid predictor config")

	// ErrIncompatibleModels is returned when a group field and one of its
	// members are configured with different model kinds.
	ErrIncompatibleModels = errors.New("group and member predictor models differ")

	// ErrModelMissing is returned when a trained kind has no model data.
	ErrModelMissing = prompter.ErrModelMissing

	// ErrTrainingFailed is returned when no sample carries a usable label
	// for a trained path.
	ErrTrainingFailed = errors.New("predictor training failed")
)
