// Package postpipe runs the follow-up work after a question's answer was
// written: remote push, customer workshops, hooks, annotation callbacks,
// diff caches, search indexing and, once every question of the file is
// predicted, the rule audit.
package postpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/audit"
	"github.com/fyrsmithlabs/extractd/internal/authtoken"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/hooks"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/search"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/postpipe"

// Special answer kinds written by the pipeline.
const (
	KindCustomerAnswer = "customer_answer"
	KindDiffCache      = "diff_cache"
)

// Answer sources of the annotation callback.
const (
	FromUser  = "user"
	FromMerge = "merge"
)

const defaultPushTimeout = 30 * time.Second

var (
	// ErrPush is returned when a remote endpoint rejects a push.
	ErrPush = errors.New("postpipe: push rejected")
)

// Questions is the question access the pipeline needs.
type Questions interface {
	GetQuestion(ctx context.Context, id int64) (*question.Question, error)
	ListQuestionsByFile(ctx context.Context, fileID int64) ([]*question.Question, error)
	ListAnswers(ctx context.Context, qid int64, statuses ...question.AnswerStatus) ([]*question.Answer, error)
}

// Files loads files.
type Files interface {
	GetFile(ctx context.Context, id int64) (*file.File, error)
}

// Molds loads molds.
type Molds interface {
	GetMold(ctx context.Context, id int64) (*mold.Mold, error)
}

// SpecialAnswers stores derived answers keyed by question and kind.
type SpecialAnswers interface {
	SaveSpecialAnswer(ctx context.Context, qid int64, kind string, data json.RawMessage) error
	GetSpecialAnswer(ctx context.Context, qid int64, kind string) (json.RawMessage, error)
}

// Auditor inspects the answers of a file.
type Auditor interface {
	Inspect(ctx context.Context, fileID int64, subjects []audit.Subject) ([]audit.Result, error)
}

// Indexer indexes answers for search.
type Indexer interface {
	IndexAnswer(ctx context.Context, doc search.Document) error
}

// Config selects the pipeline steps.
type Config struct {
	Web      config.WebConfig
	DataFlow config.DataFlowConfig
	Auth     map[string]config.AppAuth
}

// Options tunes one question run.
type Options struct {
	// SkipHook leaves out the predict_finish hook.
	SkipHook bool
	// TriggeredByPredict marks runs started by preset prediction.
	TriggeredByPredict bool
}

// Pipeline runs post-pipe steps.
type Pipeline struct {
	cfg        Config
	questions  Questions
	files      Files
	molds      Molds
	special    SpecialAnswers
	workshops  *Registry
	hooks      *hooks.HookManager
	auditor    Auditor
	indexer    Indexer
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock overrides the clock used for URL signing.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithHooks sets the hook manager fired after prediction.
func WithHooks(h *hooks.HookManager) Option { return func(p *Pipeline) { p.hooks = h } }

// WithAuditor enables the file audit step.
func WithAuditor(a Auditor) Option { return func(p *Pipeline) { p.auditor = a } }

// WithIndexer enables search indexing.
func WithIndexer(i Indexer) Option { return func(p *Pipeline) { p.indexer = i } }

// WithWorkshops sets the workshop registry.
func WithWorkshops(r *Registry) Option { return func(p *Pipeline) { p.workshops = r } }

// WithHTTPClient overrides the client used for pushes and callbacks.
// Its timeout is left untouched.
func WithHTTPClient(c *http.Client) Option { return func(p *Pipeline) { p.httpClient = c } }

// New creates a pipeline.
func New(cfg Config, questions Questions, files Files, molds Molds, special SpecialAnswers, opts ...Option) *Pipeline {
	timeout := cfg.Web.PushPresetAnswer.Timeout.Or(defaultPushTimeout)
	p := &Pipeline{
		cfg:        cfg,
		questions:  questions,
		files:      files,
		molds:      molds,
		special:    special,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.workshops == nil {
		p.workshops = NewRegistry(nil)
	}
	return p
}

// Run runs the question stage and then the file stage.
func (p *Pipeline) Run(ctx context.Context, qid, fileID int64, opts Options) error {
	qerr := p.RunQuestion(ctx, qid, opts)
	ferr := p.RunFile(ctx, fileID, opts.TriggeredByPredict)
	return errors.Join(qerr, ferr)
}

// RunQuestion runs the steps bound to one question. Steps run in order
// and a failing step does not stop the later ones; the failures are
// joined.
func (p *Pipeline) RunQuestion(ctx context.Context, qid int64, opts Options) (err error) {
	ctx, span := p.tracer.Start(ctx, "postpipe.question", trace.WithAttributes(
		attribute.Int64("question.id", qid),
		attribute.Bool("triggered_by_predict", opts.TriggeredByPredict),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !p.cfg.DataFlow.PostPipeAfterPreset {
		p.logger.Info("post pipe disabled", zap.Int64("qid", qid))
		return nil
	}
	pack, err := p.load(ctx, qid)
	if err != nil {
		return err
	}
	log := p.logger.With(zap.Int64("qid", qid), zap.Int64("fid", pack.File.ID))

	var errs []error
	step := func(name string, fn func() error) {
		if e := fn(); e != nil {
			log.Warn("post pipe step failed", zap.String("step", name), zap.Error(e))
			errs = append(errs, fmt.Errorf("%s: %w", name, e))
		}
	}
	if p.cfg.Web.PushPresetAnswer.Enabled {
		step("push_preset_answer", func() error { return p.pushPreset(ctx, pack) })
	}
	if p.cfg.Web.CustomerAnswer {
		step("customer_answer", func() error { return p.customerAnswer(ctx, pack) })
	}
	if !opts.SkipHook {
		step("predict_finish_hook", func() error {
			return p.hooks.Execute(ctx, hooks.HookPredictFinish, hooks.Payload{
				QuestionID: qid,
				FileID:     pack.File.ID,
				MoldID:     pack.Mold.ID,
				MoldName:   pack.Mold.Name,
				Status:     pack.Question.AIStatus.String(),
			})
		})
	}
	if pack.File.MetaInfo.URL != "" {
		step("annotation_callback", func() error { return p.annotationCallback(ctx, pack) })
	}
	if p.cfg.Web.GenDiffCache {
		step("gen_diff_cache", func() error { return p.diffCache(ctx, pack) })
	}
	if p.indexer != nil {
		step("search_index", func() error { return p.index(ctx, pack) })
	}
	return errors.Join(errs...)
}

// RunFile audits a file once every question of it finished prediction.
func (p *Pipeline) RunFile(ctx context.Context, fileID int64, triggeredByPredict bool) error {
	if p.auditor == nil {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "postpipe.file", trace.WithAttributes(attribute.Int64("file.id", fileID)))
	defer span.End()

	qs, err := p.questions.ListQuestionsByFile(ctx, fileID)
	if err != nil {
		return fail(span, err)
	}
	subjects := make([]audit.Subject, 0, len(qs))
	for _, q := range qs {
		if q.AIStatus != question.AIFinish {
			p.logger.Info("file not fully predicted, audit skipped",
				zap.Int64("fid", fileID), zap.Int64("qid", q.ID), zap.Stringer("ai_status", q.AIStatus))
			return nil
		}
		m, err := p.molds.GetMold(ctx, q.MoldID)
		if err != nil {
			return fail(span, err)
		}
		a := q.Answer
		if a == nil || triggeredByPredict {
			a = q.PresetAnswer
		}
		subjects = append(subjects, audit.Subject{QID: q.ID, MoldID: q.MoldID, MoldName: m.Name, Answer: a})
	}
	if _, err := p.auditor.Inspect(ctx, fileID, subjects); err != nil {
		return fail(span, err)
	}
	return nil
}

func (p *Pipeline) load(ctx context.Context, qid int64) (Pack, error) {
	q, err := p.questions.GetQuestion(ctx, qid)
	if err != nil {
		return Pack{}, fmt.Errorf("postpipe: load question %d: %w", qid, err)
	}
	f, err := p.files.GetFile(ctx, q.FileID)
	if err != nil {
		return Pack{}, fmt.Errorf("postpipe: load file %d: %w", q.FileID, err)
	}
	m, err := p.molds.GetMold(ctx, q.MoldID)
	if err != nil {
		return Pack{}, fmt.Errorf("postpipe: load mold %d: %w", q.MoldID, err)
	}
	return Pack{Question: q, File: f, Mold: m, Answer: q.Answer}, nil
}

// pushPreset posts the predicted answer once. There is no retry.
func (p *Pipeline) pushPreset(ctx context.Context, pack Pack) error {
	if pack.Question.PresetAnswer == nil {
		p.logger.Warn("no preset answer to push", zap.Int64("qid", pack.Question.ID))
		return nil
	}
	body := map[string]any{
		"question_id": pack.Question.ID,
		"file_id":     pack.File.ID,
		"checksum":    pack.File.Hash,
		"schema_id":   pack.Mold.ID,
		"schema_name": pack.Mold.Name,
		"answer":      answer.Tree(pack.Question.PresetAnswer, &pack.Mold.Data),
	}
	return p.post(ctx, p.cfg.Web.PushPresetAnswer.URL, body)
}

func (p *Pipeline) customerAnswer(ctx context.Context, pack Pack) error {
	w, ok := p.workshops.ForMold(pack.Mold.Name)
	if !ok {
		p.logger.Warn("no workshop for mold", zap.String("mold", pack.Mold.Name))
		return nil
	}
	if pack.Answer == nil {
		p.logger.Warn("answer is empty, workshop skipped", zap.Int64("qid", pack.Question.ID))
		return nil
	}
	out, err := w.Work(ctx, pack)
	if err != nil {
		return err
	}
	return p.special.SaveSpecialAnswer(ctx, pack.Question.ID, KindCustomerAnswer, out)
}

func (p *Pipeline) diffCache(ctx context.Context, pack Pack) error {
	raw, err := json.Marshal(answer.Flat(pack.Answer))
	if err != nil {
		return err
	}
	return p.special.SaveSpecialAnswer(ctx, pack.Question.ID, KindDiffCache, raw)
}

func (p *Pipeline) index(ctx context.Context, pack Pack) error {
	a := pack.Answer
	if a == nil {
		a = pack.Question.PresetAnswer
	}
	doc := search.NewDocument(pack.Question.ID, pack.File.ID, pack.Mold.ID, pack.Mold.Name, pack.File.Name, a, pack.Question.UpdatedUTC)
	return p.indexer.IndexAnswer(ctx, doc)
}

// callbackAnswer picks the answer named by answer_from. Unknown sources
// are read from the special answers.
func (p *Pipeline) callbackAnswer(ctx context.Context, pack Pack) (*answer.Answer, error) {
	switch from := pack.File.MetaInfo.AnswerFrom; from {
	case "", FromUser:
		answers, err := p.questions.ListAnswers(ctx, pack.Question.ID, question.AnswerValid)
		if err != nil {
			return nil, err
		}
		for i := len(answers) - 1; i >= 0; i-- {
			if answers[i].Standard > 0 {
				return answers[i].Data, nil
			}
		}
		return nil, nil
	case FromMerge:
		return pack.Question.Answer, nil
	default:
		raw, err := p.special.GetSpecialAnswer(ctx, pack.Question.ID, from)
		if err != nil {
			return nil, err
		}
		return answer.Parse(raw)
	}
}

func (p *Pipeline) annotationCallback(ctx context.Context, pack Pack) error {
	cb := pack.File.MetaInfo.AnnotationCallback
	target := cb.URL
	if cb.EncodeURLFor != "" {
		auth, ok := p.cfg.Auth[cb.EncodeURLFor]
		switch {
		case !ok:
		case auth.AppID == "" || !auth.SecretKey.IsSet():
			p.logger.Warn("incomplete app auth, callback left unsigned", zap.String("app", cb.EncodeURLFor))
		default:
			signed, err := authtoken.EncodeURL(target, auth.AppID, auth.SecretKey.Value(), p.now())
			if err != nil {
				return err
			}
			target = signed
		}
	}

	a, err := p.callbackAnswer(ctx, pack)
	if err != nil {
		return err
	}
	payload := map[string]any{}
	if a != nil {
		if cb.Format == "json" {
			raw, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return err
			}
		} else {
			payload = answer.Tree(a, &pack.Mold.Data)
		}
	}
	payload["checksum"] = pack.File.Hash
	payload["question_id"] = pack.Question.ID
	payload["schema_id"] = pack.Mold.ID
	return p.post(ctx, target, payload)
}

func (p *Pipeline) post(ctx context.Context, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrPush, resp.StatusCode, msg)
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("postpipe: %w", err)
}
