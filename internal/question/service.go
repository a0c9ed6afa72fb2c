package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/question"

var (
	// ErrQuotaExhausted is returned when a new labeler finds no health left.
	ErrQuotaExhausted = errors.New("the number of labels has reached the upper limit")

	// ErrForbiddenTransition is returned when the status does not admit the
	// requested change for this user.
	ErrForbiddenTransition = errors.New("forbidden question transition")
)

// Service applies state machine transitions to questions.
type Service struct {
	store  Store
	web    config.WebConfig
	logger *zap.Logger
	now    func() time.Time

	tracer       trace.Tracer
	saveCounter  metric.Int64Counter
	quotaCounter metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a question service.
func NewService(store Store, web config.WebConfig, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("question store is required")
	}
	s := &Service{
		store:  store,
		web:    web,
		logger: zap.NewNop(),
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.saveCounter, err = meter.Int64Counter(
		"extractd.question.answers_saved_total",
		metric.WithDescription("Answers saved by type"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}
	s.quotaCounter, err = meter.Int64Counter(
		"extractd.question.quota_rejections_total",
		metric.WithDescription("Submissions rejected for exhausted health"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		s.logger.Warn("failed to create quota counter", zap.Error(err))
	}
	return s, nil
}

// NewQuestion builds the initial question for a file and mold.
func (s *Service) NewQuestion(fileID int64, m MoldInfo) *Question {
	health := s.web.QuestionHealth()
	exclusive := AITodo
	switch {
	case !s.web.PresetAnswer:
		exclusive = AISkipPredict
	case m.Type == schema.MoldLLM:
	case !m.HasPredictors && !m.HasEnabledVersion:
		exclusive = AIDisable
	}
	llm := AITodo
	if m.Type == schema.MoldComplex || exclusive != AITodo {
		llm = AISkipPredict
	}
	now := s.now().Unix()
	return &Question{
		FileID:          fileID,
		MoldID:          m.ID,
		Checksum:        Checksum(fileID, m.ID),
		Health:          health,
		OriginHealth:    health,
		Status:          StatusTodo,
		ExclusiveStatus: exclusive,
		LLMStatus:       llm,
		AIStatus:        Rollup(m.Type, exclusive, llm),
		Progress:        "",
		MarkUIDs:        []int64{},
		MarkUsers:       []string{},
		CreatedUTC:      now,
		UpdatedUTC:      now,
	}
}

// Create persists the initial question for a file and mold.
func (s *Service) Create(ctx context.Context, fileID int64, m MoldInfo) (*Question, error) {
	q := s.NewQuestion(fileID, m)
	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return nil, fmt.Errorf("create question %s: %w", q.Checksum, err)
	}
	return q, nil
}

// SaveAnswer submits user's answer to question qid.
func (s *Service) SaveAnswer(ctx context.Context, qid int64, user User, data *answer.Answer) (*Answer, error) {
	ctx, span := s.tracer.Start(ctx, "question.save_answer")
	defer span.End()
	span.SetAttributes(attribute.Int64("question.id", qid), attribute.Int64("user.id", user.ID))

	var saved *Answer
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		q, err := st.LockQuestion(ctx, qid)
		if err != nil {
			return err
		}
		current, err := st.FindAnswer(ctx, qid, user.ID)
		if err != nil {
			return fmt.Errorf("find answer: %w", err)
		}
		answered := current != nil && current.Status != AnswerUnfinished

		d, err := s.decide(q, user, current, answered)
		if err != nil {
			return err
		}

		saved, err = s.writeAnswer(ctx, st, q, user, current, data, d)
		if err != nil {
			return err
		}
		q.Health, q.Status = d.health, d.status
		if err := s.refresh(ctx, st, q, data); err != nil {
			return err
		}
		s.logger.Info("answer saved",
			zap.Int64("question.id", qid),
			zap.Int64("user.id", user.ID),
			zap.Stringer("answer_type", d.typ),
			zap.Stringer("status", q.Status),
			zap.Int("health", q.Health),
		)
		if s.saveCounter != nil {
			s.saveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", d.typ.String())))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) && s.quotaCounter != nil {
			s.quotaCounter.Add(ctx, 1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return saved, nil
}

type decision struct {
	status   Status
	health   int
	typ      AnswerType
	standard int
}

// decide applies the submission transition table. Administrator
// verify and judge submissions are exempt from the quota check since
// they settle the question with health 0.
func (s *Service) decide(q *Question, user User, current *Answer, answered bool) (decision, error) {
	d := decision{status: q.Status, health: q.Health}

	if s.web.ModeUnlimitedAnswers {
		d.status, d.typ = StatusFinish, AnswerUserDo
		return d, nil
	}
	if !answered && q.Health < 1 {
		return d, ErrQuotaExhausted
	}

	switch q.Status {
	case StatusTodo, StatusDoing:
		if !answered {
			d.health--
		}
		d.status = StatusDoing
		if d.health <= 0 {
			d.health = 0
			d.status = StatusFinish
		}
		d.typ = AnswerUserDo
	case StatusFinish:
		d.typ = AnswerAdminDo1
	case StatusVerify, StatusDisaccord, StatusStandardConfirmed, StatusAccordance:
		if !user.IsAdmin {
			return d, fmt.Errorf("%w: status %s accepts answers from administrators only", ErrForbiddenTransition, q.Status)
		}
		if current != nil && current.Status == AnswerValid && current.Standard == 0 {
			return d, fmt.Errorf("%w: an administrator who answered cannot set the standard answer", ErrForbiddenTransition)
		}
		d.status, d.standard = StatusFinish, 1
		switch q.Status {
		case StatusVerify:
			d.typ, d.health = AnswerAdminVerify, 0
		case StatusAccordance:
			d.typ = AnswerAdminDo2
		default:
			d.typ, d.health = AnswerAdminJudge, 0
		}
	default:
		return d, fmt.Errorf("%w: status %s does not accept answers", ErrForbiddenTransition, q.Status)
	}
	return d, nil
}

func (s *Service) writeAnswer(ctx context.Context, st Store, q *Question, user User, current *Answer, data *answer.Answer, d decision) (*Answer, error) {
	now := s.now().Unix()
	if current == nil {
		current = &Answer{QID: q.ID, UID: user.ID, CreatedUTC: now}
	}
	data = answer.WithCustomField(data, current.Data)

	changed := current.Status != AnswerValid || current.Type != d.typ || current.Standard != d.standard || !sameData(current.Data, data)
	current.Data = data
	current.Status = AnswerValid
	current.Type = d.typ
	current.Standard = d.standard
	if changed || current.UpdatedUTC == 0 {
		current.UpdatedUTC = now
	}
	if err := st.SaveAnswer(ctx, current); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	if d.standard == 1 {
		if err := st.ClearStandard(ctx, q.ID, user.ID); err != nil {
			return nil, fmt.Errorf("clear standard: %w", err)
		}
	}
	if d.typ == AnswerAdminJudge || d.typ == AnswerAdminVerify {
		op := &AdminOp{UID: user.ID, QID: q.ID, OpType: d.typ, AnswerID: current.ID}
		if err := st.CreateAdminOp(ctx, op); err != nil {
			return nil, fmt.Errorf("record admin op: %w", err)
		}
	}
	return current, nil
}

// SaveDraft stores an unfinished answer. It never changes health.
func (s *Service) SaveDraft(ctx context.Context, qid int64, user User, data *answer.Answer) (*Answer, error) {
	ctx, span := s.tracer.Start(ctx, "question.save_draft")
	defer span.End()
	span.SetAttributes(attribute.Int64("question.id", qid))

	var saved *Answer
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		q, err := st.LockQuestion(ctx, qid)
		if err != nil {
			return err
		}
		if q.Status != StatusTodo && q.Status != StatusDoing {
			return fmt.Errorf("%w: drafts are accepted only while %s or %s", ErrForbiddenTransition, StatusTodo, StatusDoing)
		}
		if !s.web.ModeUnlimitedAnswers && q.Health < 1 {
			return ErrQuotaExhausted
		}

		current, err := st.FindAnswer(ctx, qid, user.ID)
		if err != nil {
			return fmt.Errorf("find answer: %w", err)
		}
		now := s.now().Unix()
		if current == nil {
			current = &Answer{QID: qid, UID: user.ID, CreatedUTC: now}
		}
		data = answer.WithCustomField(data, current.Data)
		if current.Status != AnswerUnfinished || !sameData(current.Data, data) || current.UpdatedUTC == 0 {
			current.UpdatedUTC = now
		}
		current.Data = data
		current.Status = AnswerUnfinished
		if err := st.SaveAnswer(ctx, current); err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
		saved = current

		q.Status = StatusDoing
		return s.refresh(ctx, st, q, data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return saved, nil
}

// ConfirmVerify accepts the feedback on a question under VERIFY.
func (s *Service) ConfirmVerify(ctx context.Context, qid int64, user User) error {
	return s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		q, err := st.LockQuestion(ctx, qid)
		if err != nil {
			return err
		}
		if !user.IsAdmin {
			return fmt.Errorf("%w: only administrators confirm feedback", ErrForbiddenTransition)
		}
		if q.Status != StatusVerify {
			return fmt.Errorf("%w: cannot confirm feedback in status %s", ErrForbiddenTransition, q.Status)
		}
		if err := st.CreateAdminOp(ctx, &AdminOp{UID: user.ID, QID: qid, OpType: AnswerAdminVerify}); err != nil {
			return fmt.Errorf("record admin op: %w", err)
		}
		q.Status = StatusVerifyConfirmed
		q.UpdatedUTC = s.now().Unix()
		return st.SaveQuestion(ctx, q)
	})
}

// ExtractorUpdate changes extractor statuses and the preset answer of a
// question. Nil fields are left as they are.
type ExtractorUpdate struct {
	Exclusive    *AIStatus
	LLM          *AIStatus
	PresetAnswer *answer.Answer
	CrudeAnswer  json.RawMessage
}

// UpdateExtractors applies u under the question row lock and recomputes
// ai_status.
func (s *Service) UpdateExtractors(ctx context.Context, qid int64, moldType schema.MoldType, u ExtractorUpdate) (*Question, error) {
	var out *Question
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		q, err := st.LockQuestion(ctx, qid)
		if err != nil {
			return err
		}
		ApplyExtractors(q, moldType, u)
		q.UpdatedUTC = s.now().Unix()
		out = q
		return st.SaveQuestion(ctx, q)
	})
	return out, err
}

// ApplyExtractors applies u to q in memory.
func ApplyExtractors(q *Question, moldType schema.MoldType, u ExtractorUpdate) {
	if u.Exclusive != nil {
		q.ExclusiveStatus = *u.Exclusive
	}
	if u.LLM != nil {
		q.LLMStatus = *u.LLM
	}
	if u.PresetAnswer != nil {
		q.PresetAnswer = u.PresetAnswer
	}
	if u.CrudeAnswer != nil {
		q.CrudeAnswer = u.CrudeAnswer
	}
	q.AIStatus = Rollup(moldType, q.ExclusiveStatus, q.LLMStatus)
}

// SetAnswer stores the merged answer of a question and refreshes its
// progress and markers.
func (s *Service) SetAnswer(ctx context.Context, qid int64, merged *answer.Answer) error {
	return s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		q, err := st.LockQuestion(ctx, qid)
		if err != nil {
			return err
		}
		q.Answer = merged
		return s.refresh(ctx, st, q, merged)
	})
}

// ResetStatus flips FAILED or stuck DOING extractor statuses back to TODO.
// It reports whether the question changed.
func (s *Service) ResetStatus(ctx context.Context, qid int64, moldType schema.MoldType) (bool, error) {
	changed := false
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		q, err := st.LockQuestion(ctx, qid)
		if err != nil {
			return err
		}
		for _, p := range []*AIStatus{&q.ExclusiveStatus, &q.LLMStatus} {
			if *p == AIFailed || *p == AIDoing {
				*p = AITodo
				changed = true
			}
		}
		if !changed {
			return nil
		}
		q.AIStatus = Rollup(moldType, q.ExclusiveStatus, q.LLMStatus)
		q.UpdatedUTC = s.now().Unix()
		return st.SaveQuestion(ctx, q)
	})
	return changed, err
}

// refresh recomputes progress and markers and saves q.
func (s *Service) refresh(ctx context.Context, st Store, q *Question, progressFrom *answer.Answer) error {
	if progressFrom != nil {
		q.Progress = answer.ComputeProgress(progressFrom, &progressFrom.Schema.Data).String()
	}
	if err := s.updateMarkers(ctx, st, q); err != nil {
		return err
	}
	q.UpdatedUTC = s.now().Unix()
	if err := st.SaveQuestion(ctx, q); err != nil {
		return fmt.Errorf("save question: %w", err)
	}
	return nil
}

// updateMarkers rebuilds mark_uids and mark_users from valid and
// unfinished answers ordered by update time.
func (s *Service) updateMarkers(ctx context.Context, st Store, q *Question) error {
	answers, err := st.ListAnswers(ctx, q.ID, AnswerValid, AnswerUnfinished)
	if err != nil {
		return fmt.Errorf("list answers: %w", err)
	}
	uids := make([]int64, 0, len(answers))
	for _, a := range answers {
		if !slices.Contains(uids, a.UID) {
			uids = append(uids, a.UID)
		}
	}
	names, err := st.UserNames(ctx, uids)
	if err != nil {
		return fmt.Errorf("user names: %w", err)
	}
	q.MarkUIDs = uids
	q.MarkUsers = make([]string, 0, len(uids))
	for _, uid := range uids {
		name := names[uid]
		if name == "" {
			name = strconv.FormatInt(uid, 10)
		}
		q.MarkUsers = append(q.MarkUsers, name)
	}
	return nil
}

func sameData(a, b *answer.Answer) bool {
	if a == nil || b == nil {
		return a == b
	}
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}
