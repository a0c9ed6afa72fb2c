package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/parser"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// Error severity levels for workflow errors
type ErrorSeverity string

const (
	// ErrorSeverityCritical indicates the workflow must fail
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityHigh indicates a major issue but workflow can continue
	ErrorSeverityHigh ErrorSeverity = "high"
	// ErrorSeverityLow indicates a minor issue that doesn't affect main functionality
	ErrorSeverityLow ErrorSeverity = "low"
)

// WorkflowError represents a structured error in a workflow
type WorkflowError struct {
	Operation string        // The operation that failed (e.g., "train_prompter")
	Severity  ErrorSeverity // How severe the error is
	Err       error         // The underlying error
	Context   string        // Additional context about the error
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context
func NewWorkflowError(operation string, severity ErrorSeverity, err error, context string) *WorkflowError {
	return &WorkflowError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// errTypePermanent is the application error type of failures no retry
// can fix.
const errTypePermanent = "PermanentError"

// permanentErrors will fail the same way on every attempt: the input is
// bad, the parser said no, or the work is already running elsewhere.
var permanentErrors = []error{
	interdoc.ErrInterdocMissing,
	interdoc.ErrInvalidInterdoc,
	parser.ErrBadStatus,
	parser.ErrParserRejected,
	parser.ErrNotConfigured,
	orchestrator.ErrStudioUnavailable,
	lock.ErrContention,
	file.ErrNotFound,
	question.ErrNotFound,
	mold.ErrNotFound,
	training.ErrNotFound,
	training.ErrTooFewSamples,
	training.ErrNoPredictors,
	training.ErrTrainingFailed,
}

// Permanent reports whether err should not be retried.
func Permanent(err error) bool {
	for _, target := range permanentErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// activityError converts a failure of operation into the error an activity
// returns: permanent failures become non-retryable application errors.
func activityError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if Permanent(err) {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("%s: %v", operation, err), errTypePermanent, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// ErrorHandlingGuidelines documents the standard error handling pattern for workflows.
//
// CRITICAL (Propagate & Record):
//   - Activity failures that prevent workflow completion
//   - Pattern: return a WorkflowError to fail the workflow
//   - Example: the predictor of a version failed to train
//
// HIGH (Record but Continue):
//   - Failures in follow-up work the result does not depend on
//   - Pattern: log and record in the result, let workflow continue
//   - Example: the version trained but the exemplar index was not refreshed
//
// LOW (Log as Warning):
//   - Failures in cleanup operations
//   - Pattern: log as warning only
//   - Example: the training record could not be closed after a failure
//
// Activities classify their own errors with activityError: inputs that
// can never succeed fail fast as non-retryable, everything else is retried
// by the activity retry policy.
