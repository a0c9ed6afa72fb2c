package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/blob"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/events"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/hooks"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/parser"
	"github.com/fyrsmithlabs/extractd/internal/postpipe"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/prophet"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/studio"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/orchestrator"

const (
	postPipeLockTTL    = 600 * time.Second
	postPipeLockSpread = 10 * time.Second
	parseLockTTL       = 30 * time.Minute
)

var (
	// ErrSubmitTooFrequent is returned when the question is already being
	// predicted or submitted.
	ErrSubmitTooFrequent = errors.New("提交答案过于频繁, 请稍后重试")

	// ErrStudioUnavailable is returned for LLM molds when no studio client
	// or app is configured.
	ErrStudioUnavailable = errors.New("orchestrator: studio not available")
)

// Questions is the question storage the tasks read and write.
type Questions interface {
	question.Store
	ListQuestionsByAIStatus(ctx context.Context, updatedBefore int64, statuses ...question.AIStatus) ([]*question.Question, error)
}

// Models resolves the prediction target of a mold.
type Models interface {
	Target(ctx context.Context, m *mold.Mold) (prophet.Target, bool, error)
	List(ctx context.Context, moldID int64) ([]*training.Version, error)
}

// Locator ranks candidate elements.
type Locator interface {
	Locate(ctx context.Context, moldID, vid int64, r *interdoc.Reader) (prompter.CrudeAnswer, error)
}

// Extractor predicts answers.
type Extractor interface {
	Predict(ctx context.Context, t prophet.Target, r *interdoc.Reader, crude prompter.CrudeAnswer) (*answer.Answer, error)
}

// PostPipe runs the post-pipeline.
type PostPipe interface {
	Run(ctx context.Context, qid, fileID int64, opts postpipe.Options) error
	RunQuestion(ctx context.Context, qid int64, opts postpipe.Options) error
	RunFile(ctx context.Context, fileID int64, triggeredByPredict bool) error
}

// Parser submits documents for parsing.
type Parser interface {
	Submit(ctx context.Context, req parser.Request) error
}

// Studio is the LLM extraction service.
type Studio interface {
	Upload(ctx context.Context, filename string, content io.Reader) (string, error)
	AddFile(ctx context.Context, appID, uploadID string) error
	ReExtract(ctx context.Context, appID, uploadID string) error
	ExtractResult(ctx context.Context, appID, uploadID string) (*studio.ExtractResult, error)
	TraceResult(ctx context.Context, appID, uploadID string) (map[string]any, error)
}

// ElementIndex embeds the elements of parsed documents.
type ElementIndex interface {
	IndexFile(ctx context.Context, fileID int64, r *interdoc.Reader) (int, error)
}

// Deps are the services every task needs.
type Deps struct {
	Files         *file.Service
	FileStore     file.Store
	Questions     *question.Service
	QuestionStore Questions
	Molds         mold.Store
	Models        Models
	Locator       Locator
	Extractor     Extractor
	PostPipe      PostPipe
	Locker        lock.Locker
	Blobs         blob.Store
}

func (d Deps) validate() error {
	switch {
	case d.Files == nil, d.FileStore == nil:
		return errors.New("orchestrator: file service and store are required")
	case d.Questions == nil, d.QuestionStore == nil:
		return errors.New("orchestrator: question service and store are required")
	case d.Molds == nil, d.Models == nil:
		return errors.New("orchestrator: mold store and models are required")
	case d.Locator == nil, d.Extractor == nil:
		return errors.New("orchestrator: locator and extractor are required")
	case d.PostPipe == nil, d.Locker == nil, d.Blobs == nil:
		return errors.New("orchestrator: post pipe, locker and blobs are required")
	}
	return nil
}

// Orchestrator runs the file and question tasks.
type Orchestrator struct {
	Deps
	web        config.WebConfig
	parser     Parser
	studio     Studio
	elements   ElementIndex
	hooks      *hooks.HookManager
	publisher  events.Publisher
	dispatcher Dispatcher
	executor   *Executor
	logger     *zap.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithParser enables parsing.
func WithParser(p Parser) Option { return func(o *Orchestrator) { o.parser = p } }

// WithStudio enables LLM extraction.
func WithStudio(s Studio) Option { return func(o *Orchestrator) { o.studio = s } }

// WithElementIndex enables element embedding after parsing.
func WithElementIndex(i ElementIndex) Option { return func(o *Orchestrator) { o.elements = i } }

// WithHooks sets the hook manager.
func WithHooks(h *hooks.HookManager) Option { return func(o *Orchestrator) { o.hooks = h } }

// WithPublisher sets the status event publisher.
func WithPublisher(p events.Publisher) Option { return func(o *Orchestrator) { o.publisher = p } }

// WithDispatcher routes follow-up tasks. The default runs them inline.
func WithDispatcher(d Dispatcher) Option { return func(o *Orchestrator) { o.dispatcher = d } }

// New creates an orchestrator.
func New(web config.WebConfig, deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		Deps:      deps,
		web:       web,
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		now:       time.Now,
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.dispatcher == nil {
		o.dispatcher = Inline(o)
	}
	o.executor = o.newExecutor()
	return o, nil
}

// SetDispatcher replaces the dispatcher. Workers that are themselves
// the target of the dispatcher wire it after construction.
func (o *Orchestrator) SetDispatcher(d Dispatcher) { o.dispatcher = d }

func (o *Orchestrator) emit(ctx context.Context, e events.Event) {
	if e.Time.IsZero() {
		e.Time = o.now()
	}
	events.Emit(ctx, o.publisher, o.logger, e)
}

func (o *Orchestrator) moldOf(ctx context.Context, cache map[int64]*mold.Mold, id int64) (*mold.Mold, error) {
	if m, ok := cache[id]; ok {
		return m, nil
	}
	m, err := o.Molds.GetMold(ctx, id)
	if err != nil {
		return nil, err
	}
	cache[id] = m
	return m, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("orchestrator: %w", err)
}
