package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WorkItem identifies what a task is operating on. Zero fields are omitted.
type WorkItem struct {
	FileID     int64
	QuestionID int64
	MoldID     int64
	TaskID     string
}

type workCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	w := WorkItemFromContext(ctx)
	if w.FileID != 0 {
		fields = append(fields, zap.Int64("file.id", w.FileID))
	}
	if w.QuestionID != 0 {
		fields = append(fields, zap.Int64("question.id", w.QuestionID))
	}
	if w.MoldID != 0 {
		fields = append(fields, zap.Int64("mold.id", w.MoldID))
	}
	if w.TaskID != "" {
		fields = append(fields, zap.String("task.id", w.TaskID))
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}

// WorkItemFromContext returns the work item stored in ctx.
func WorkItemFromContext(ctx context.Context) WorkItem {
	w, _ := ctx.Value(workCtxKey{}).(WorkItem)
	return w
}

func withWork(ctx context.Context, fn func(*WorkItem)) context.Context {
	w := WorkItemFromContext(ctx)
	fn(&w)
	return context.WithValue(ctx, workCtxKey{}, w)
}

// WithFileID records the file being processed.
func WithFileID(ctx context.Context, fid int64) context.Context {
	return withWork(ctx, func(w *WorkItem) { w.FileID = fid })
}

// WithQuestionID records the question being processed.
func WithQuestionID(ctx context.Context, qid int64) context.Context {
	return withWork(ctx, func(w *WorkItem) { w.QuestionID = qid })
}

// WithMoldID records the mold being processed.
func WithMoldID(ctx context.Context, moldID int64) context.Context {
	return withWork(ctx, func(w *WorkItem) { w.MoldID = moldID })
}

// WithTaskID records the workflow or activity id.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return withWork(ctx, func(w *WorkItem) { w.TaskID = taskID })
}

// RequestIDFromContext extracts the HTTP request id.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithRequestID stores the HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
