package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/events"
	"github.com/fyrsmithlabs/extractd/internal/hooks"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/metrics"
	"github.com/fyrsmithlabs/extractd/internal/postpipe"
	"github.com/fyrsmithlabs/extractd/internal/question"
)

// SubmitRequest is a user submission of a question answer.
type SubmitRequest struct {
	QID      int64
	User     question.User
	Data     *answer.Answer
	SkipHook bool
}

// acquireQuestion takes the question lock without blocking.
func (o *Orchestrator) acquireQuestion(ctx context.Context, qid int64) (lock.Release, error) {
	release, err := o.Locker.TryLock(ctx, lock.QuestionPostPipe(qid), lock.Jitter(postPipeLockTTL, postPipeLockSpread))
	metrics.ObserveLock("question_post_pipe", err, lock.ErrContention)
	return release, err
}

func (o *Orchestrator) releaseQuestion(ctx context.Context, qid int64, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("release question lock", zap.Int64("qid", qid), zap.Error(err))
	}
}

// lockQuestion is acquireQuestion for user submissions: contention means
// the user submits faster than the post-pipeline runs.
func (o *Orchestrator) lockQuestion(ctx context.Context, qid int64) (lock.Release, error) {
	release, err := o.acquireQuestion(ctx, qid)
	if errors.Is(err, lock.ErrContention) {
		return nil, fmt.Errorf("%w: %w", ErrSubmitTooFrequent, err)
	}
	return release, err
}

func (o *Orchestrator) unlockQuestion(ctx context.Context, qid int64) {
	if err := o.Locker.Unlock(context.WithoutCancel(ctx), lock.QuestionPostPipe(qid)); err != nil {
		o.logger.Warn("release question lock", zap.Int64("qid", qid), zap.Error(err))
	}
}

// Submit saves a user answer and hands the question lock to the
// question_post_pipe task, which merges and runs the post-pipeline.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (saved *question.Answer, err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("submit_answer", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.submit", trace.WithAttributes(
		attribute.Int64("question.id", req.QID),
		attribute.Int64("user.id", req.User.ID),
	))
	defer span.End()

	q, err := o.QuestionStore.GetQuestion(ctx, req.QID)
	if err != nil {
		return nil, fail(span, err)
	}
	if _, err := o.lockQuestion(ctx, q.ID); err != nil {
		return nil, fail(span, err)
	}
	handed := false
	defer func() {
		if !handed {
			o.unlockQuestion(ctx, q.ID)
		}
	}()

	saved, err = o.Questions.SaveAnswer(ctx, q.ID, req.User, req.Data)
	if err != nil {
		return nil, fail(span, err)
	}
	o.emit(ctx, events.Event{
		Type:       events.QuestionAnswered,
		FileID:     q.FileID,
		QuestionID: q.ID,
		MoldID:     q.MoldID,
		Data:       map[string]any{"uid": req.User.ID, "answer_type": saved.Type.String()},
	})
	if !req.SkipHook {
		if m, err := o.Molds.GetMold(ctx, q.MoldID); err == nil {
			if err := o.hooks.Execute(ctx, hooks.HookAnswerSubmitted, hooks.Payload{
				QuestionID: q.ID,
				FileID:     q.FileID,
				MoldID:     m.ID,
				MoldName:   m.Name,
			}); err != nil {
				o.logger.Warn("answer hook failed", zap.Int64("qid", q.ID), zap.Error(err))
			}
		}
	}

	err = o.dispatcher.QuestionPostPipe(ctx, PostPipeRequest{QID: q.ID, FileID: q.FileID, SkipHook: req.SkipHook, Locked: true})
	handed = err == nil
	if err != nil {
		o.logger.Warn("question post pipe failed", zap.Int64("qid", q.ID), zap.Error(err))
	}
	return saved, nil
}

// QuestionPostPipe merges the answers of a question and runs the
// post-pipeline. It runs under the question lock, taken here unless the
// caller handed it over, and always releases it.
func (o *Orchestrator) QuestionPostPipe(ctx context.Context, req PostPipeRequest) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("question_post_pipe", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.question_post_pipe", trace.WithAttributes(
		attribute.Int64("question.id", req.QID),
		attribute.Bool("locked", req.Locked),
	))
	defer span.End()

	if req.Locked {
		defer o.unlockQuestion(ctx, req.QID)
	} else {
		release, err := o.lockQuestion(ctx, req.QID)
		if err != nil {
			return fail(span, err)
		}
		defer o.releaseQuestion(ctx, req.QID, release)
	}

	q, err := o.QuestionStore.GetQuestion(ctx, req.QID)
	if err != nil {
		return fail(span, err)
	}
	m, err := o.Molds.GetMold(ctx, q.MoldID)
	if err != nil {
		return fail(span, err)
	}
	if err := o.setAnswer(ctx, q.ID, m); err != nil {
		return fail(span, err)
	}
	fileID := req.FileID
	if fileID == 0 {
		fileID = q.FileID
	}
	if err := o.PostPipe.Run(ctx, q.ID, fileID, postpipe.Options{SkipHook: req.SkipHook}); err != nil {
		return fail(span, err)
	}
	return nil
}

// InspectRule runs the file stage of the post-pipeline, which audits the
// file once every question is predicted.
func (o *Orchestrator) InspectRule(ctx context.Context, fileID int64) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("inspect_rule", start, err) }()
	if err := o.PostPipe.RunFile(ctx, fileID, false); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}
