package orchestrator

import "context"

// ProcessOptions tunes process_file and the parse it may start.
type ProcessOptions struct {
	ForceParse    bool
	ForcePredict  bool
	OCR           bool
	Garbled       bool
	AsPDF         bool
	ForceOCRPages string
}

// PostPipeRequest names a question_post_pipe run.
type PostPipeRequest struct {
	QID      int64
	FileID   int64
	SkipHook bool
	// Locked is set when the caller already holds the question lock and
	// hands it over to the task.
	Locked bool
}

// Dispatcher starts follow-up tasks.
type Dispatcher interface {
	ParseFile(ctx context.Context, fileID int64, opts ProcessOptions) error
	PredictFile(ctx context.Context, fileID int64, force bool) error
	PresetAnswer(ctx context.Context, fileID int64, force bool) error
	PresetQuestion(ctx context.Context, qid int64, force bool) error
	QuestionPostPipe(ctx context.Context, req PostPipeRequest) error
	InspectRule(ctx context.Context, fileID int64) error
}

type inline struct{ o *Orchestrator }

// Inline returns a dispatcher that runs every task in the caller.
func Inline(o *Orchestrator) Dispatcher { return inline{o: o} }

func (i inline) ParseFile(ctx context.Context, fileID int64, opts ProcessOptions) error {
	return i.o.ConvertOrParse(ctx, fileID, opts)
}

func (i inline) PredictFile(ctx context.Context, fileID int64, force bool) error {
	return i.o.PredictFile(ctx, fileID, force)
}

func (i inline) PresetAnswer(ctx context.Context, fileID int64, force bool) error {
	return i.o.PresetAnswer(ctx, fileID, force)
}

func (i inline) PresetQuestion(ctx context.Context, qid int64, force bool) error {
	return i.o.PresetQuestion(ctx, qid, force)
}

func (i inline) QuestionPostPipe(ctx context.Context, req PostPipeRequest) error {
	return i.o.QuestionPostPipe(ctx, req)
}

func (i inline) InspectRule(ctx context.Context, fileID int64) error {
	return i.o.InspectRule(ctx, fileID)
}
