package workflows

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/parser"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

func TestWorkflowError(t *testing.T) {
	base := errors.New("boom")
	err := NewWorkflowError("train_predictor", ErrorSeverityCritical, base, "vid 3")

	assert.Equal(t, "train_predictor failed: boom (vid 3)", err.Error())
	assert.ErrorIs(t, err, base)

	noCtx := NewWorkflowError("prepare_dataset", ErrorSeverityLow, base, "")
	assert.Equal(t, "prepare_dataset failed: boom", noCtx.Error())
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "parser rejected", err: fmt.Errorf("submit: %w", parser.ErrParserRejected), want: true},
		{name: "lock contention", err: lock.ErrContention, want: true},
		{name: "too few samples", err: fmt.Errorf("vid 4: %w", training.ErrTooFewSamples), want: true},
		{name: "transient", err: errors.New("connection reset"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Permanent(tt.err))
		})
	}
}

func TestActivityError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, activityError("predict", nil))
	})

	t.Run("permanent becomes non-retryable", func(t *testing.T) {
		err := activityError("convert_or_parse_file", parser.ErrParserRejected)

		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, errTypePermanent, appErr.Type())
		assert.ErrorIs(t, err, parser.ErrParserRejected)
	})

	t.Run("transient is wrapped", func(t *testing.T) {
		base := errors.New("timeout")
		err := activityError("preset_answer_by_qid", base)

		var appErr *temporal.ApplicationError
		assert.False(t, errors.As(err, &appErr))
		assert.ErrorIs(t, err, base)
		assert.Contains(t, err.Error(), "preset_answer_by_qid")
	})
}
