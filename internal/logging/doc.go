// Package logging provides structured logging with OpenTelemetry integration.
//
// The Logger wraps zap with:
//   - a Trace level (-2, below Debug)
//   - stdout and OpenTelemetry outputs
//   - context fields for the work item being processed (file, question,
//     mold, task, request) plus trace correlation
//   - secret redaction at the encoder
//   - sampling below Error
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	ctx = logging.WithQuestionID(ctx, qid)
//	logger.Info(ctx, "preset answer written", zap.Int("items", n))
//
// Services that only need a *zap.Logger take logger.Underlying(); the
// context-aware methods are used at task boundaries where the work item is
// known.
package logging
