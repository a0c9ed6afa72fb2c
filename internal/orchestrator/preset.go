package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/events"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/merge"
	"github.com/fyrsmithlabs/extractd/internal/metrics"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/postpipe"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

func (o *Orchestrator) newExecutor() *Executor {
	e := NewExecutor()
	e.RegisterGate(PhaseLocate, NewMoldTypeGate())
	e.RegisterGate(PhaseLocate, NewVersionGate())
	e.RegisterGate(PhaseLocate, NewStatusGate())
	e.RegisterGate(PhasePredict, NewCandidateGate())
	e.RegisterHandler(PhaseHandlerFunc{P: PhaseLocate, Fn: o.locate})
	e.RegisterHandler(PhaseHandlerFunc{P: PhasePredict, Fn: o.predict})
	e.RegisterHandler(PhaseHandlerFunc{P: PhaseMerge, Fn: o.mergePhase})
	e.Observe(func(res PhaseResult) {
		o.logger.Debug("preset phase",
			zap.String("phase", string(res.Phase)),
			zap.String("status", string(res.Status)),
			zap.Duration("duration", res.CompletedAt.Sub(res.StartedAt)),
		)
	})
	return e
}

// locate ranks candidates with the enabled version's locator model. A
// target without a version, or a version without locator files, leaves
// the crude answer empty.
func (o *Orchestrator) locate(ctx context.Context, st *PresetState) error {
	st.Crude = prompter.CrudeAnswer{}
	if st.Target.VersionID == 0 {
		return nil
	}
	crude, err := o.Locator.Locate(ctx, st.Target.MoldID, st.Target.VersionID, st.Reader)
	switch {
	case errors.Is(err, prompter.ErrModelMissing):
		o.logger.Warn("locator model missing, predicting without candidates",
			zap.Int64("mold_id", st.Target.MoldID), zap.Int64("vid", st.Target.VersionID))
		return nil
	case err != nil:
		return err
	}
	st.Crude = crude
	return nil
}

// predict runs the extractors and stores the preset answer. Items an LLM
// extraction already put into the preset of a hybrid question are kept.
func (o *Orchestrator) predict(ctx context.Context, st *PresetState) error {
	a, err := o.Extractor.Predict(ctx, st.Target, st.Reader, st.Crude)
	if err != nil {
		return err
	}
	if st.Mold.Type == schema.MoldHybrid {
		cur, err := o.QuestionStore.GetQuestion(ctx, st.Question.ID)
		if err != nil {
			return err
		}
		if cur.LLMStatus == question.AIFinish {
			_, llm := splitLLM(cur.PresetAnswer, st.Mold)
			a = withLLM(a, llm, st.Mold)
		}
	}
	raw, err := st.Crude.Marshal()
	if err != nil {
		return err
	}
	finish := question.AIFinish
	q, err := o.Questions.UpdateExtractors(ctx, st.Question.ID, st.Mold.Type, question.ExtractorUpdate{
		Exclusive:    &finish,
		PresetAnswer: a,
		CrudeAnswer:  raw,
	})
	if err != nil {
		return err
	}
	st.Question = q
	st.Preset = a
	return nil
}

func (o *Orchestrator) mergePhase(ctx context.Context, st *PresetState) error {
	return o.setAnswer(ctx, st.Question.ID, st.Mold)
}

// setAnswer merges the preset answer of qid with its valid user answers
// and stores the result as the question answer.
func (o *Orchestrator) setAnswer(ctx context.Context, qid int64, m *mold.Mold) error {
	q, err := o.QuestionStore.GetQuestion(ctx, qid)
	if err != nil {
		return err
	}
	answers, err := o.QuestionStore.ListAnswers(ctx, qid, question.AnswerValid)
	if err != nil {
		return err
	}
	uids := make([]int64, 0, len(answers))
	for _, a := range answers {
		uids = append(uids, a.UID)
	}
	names, err := o.QuestionStore.UserNames(ctx, uids)
	if err != nil {
		return err
	}
	contribs := make([]merge.Contribution, 0, len(answers))
	for _, a := range answers {
		contribs = append(contribs, merge.Contribution{UID: a.UID, Name: names[a.UID], Data: a.Data, UpdatedUTC: a.UpdatedUTC})
	}
	policy, err := merge.ParsePolicy(o.web.ModeConflictTreatment)
	if err != nil {
		o.logger.Warn("unknown conflict treatment, merging", zap.Error(err))
		policy = merge.Merged
	}
	merged := merge.Merge(q.PresetAnswer, contribs, &m.Data, m.Checksum, merge.Options{Policy: policy, KeepEmpty: o.web.MergeEmptyItem})
	return o.Questions.SetAnswer(ctx, qid, merged)
}

// PresetAnswer predicts every question of a file and runs the
// post-pipeline of the predicted ones.
func (o *Orchestrator) PresetAnswer(ctx context.Context, fileID int64, force bool) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("preset_answer_by_fid", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.preset_answer", trace.WithAttributes(
		attribute.Int64("file.id", fileID),
		attribute.Bool("force", force),
	))
	defer span.End()

	f, err := o.Files.Get(ctx, fileID)
	if err != nil {
		return fail(span, err)
	}
	qs, err := o.QuestionStore.ListQuestionsByFile(ctx, fileID)
	if err != nil {
		return fail(span, err)
	}
	if len(qs) == 0 {
		o.logger.Error("no question found for file", zap.Int64("file_id", fileID))
		return nil
	}
	r, err := o.Files.Check(ctx, f)
	if err != nil {
		return fail(span, err)
	}

	molds := map[int64]*mold.Mold{}
	var predicted []int64
	for _, q := range qs {
		m, err := o.moldOf(ctx, molds, q.MoldID)
		if err != nil {
			o.logger.Error("loading mold", zap.Int64("qid", q.ID), zap.Error(err))
			continue
		}
		ok, err := o.presetQuestion(ctx, f, m, q, r, force)
		if err != nil {
			o.logger.Error("preset answer failed", zap.Int64("qid", q.ID), zap.Int64("mold_id", m.ID), zap.Error(err))
			continue
		}
		if ok {
			predicted = append(predicted, q.ID)
		}
	}
	span.SetAttributes(attribute.Int("predicted", len(predicted)))

	for _, qid := range predicted {
		if err := o.PostPipe.RunQuestion(ctx, qid, postpipe.Options{TriggeredByPredict: true}); err != nil {
			o.logger.Warn("question post pipe failed", zap.Int64("qid", qid), zap.Error(err))
		}
	}
	if err := o.PostPipe.RunFile(ctx, fileID, true); err != nil {
		o.logger.Warn("file post pipe failed", zap.Int64("file_id", fileID), zap.Error(err))
	}
	return nil
}

// PresetQuestion predicts one question.
func (o *Orchestrator) PresetQuestion(ctx context.Context, qid int64, force bool) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("preset_answer_by_qid", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.preset_question", trace.WithAttributes(attribute.Int64("question.id", qid)))
	defer span.End()

	q, err := o.QuestionStore.GetQuestion(ctx, qid)
	if err != nil {
		return fail(span, err)
	}
	f, err := o.Files.Get(ctx, q.FileID)
	if err != nil {
		return fail(span, err)
	}
	m, err := o.Molds.GetMold(ctx, q.MoldID)
	if err != nil {
		return fail(span, err)
	}
	r, err := o.Files.Check(ctx, f)
	if err != nil {
		return fail(span, err)
	}
	ok, err := o.presetQuestion(ctx, f, m, q, r, force)
	if err != nil {
		return fail(span, err)
	}
	if ok {
		if err := o.PostPipe.Run(ctx, qid, f.ID, postpipe.Options{TriggeredByPredict: true}); err != nil {
			o.logger.Warn("post pipe failed", zap.Int64("qid", qid), zap.Error(err))
		}
	}
	return nil
}

// presetQuestion runs the phases for one question under its lock. It
// reports whether an answer was predicted.
func (o *Orchestrator) presetQuestion(ctx context.Context, f *file.File, m *mold.Mold, q *question.Question, r *interdoc.Reader, force bool) (bool, error) {
	release, err := o.acquireQuestion(ctx, q.ID)
	if err != nil {
		return false, err
	}
	defer o.releaseQuestion(ctx, q.ID, release)

	st := NewPresetState(f, m, q, r, force)
	versions, err := o.Models.List(ctx, m.ID)
	if err != nil {
		return false, err
	}
	st.HasVersions = len(versions) > 0
	if st.Target, st.HasEnabled, err = o.Models.Target(ctx, m); err != nil {
		return false, err
	}

	err = o.executor.Execute(ctx, st)
	for _, v := range st.Violations {
		o.logger.Info("preset gate",
			zap.Int64("qid", q.ID),
			zap.String("type", string(v.Type)),
			zap.String("severity", string(v.Severity)),
			zap.String("description", v.Description),
		)
	}
	if st.Skipped() {
		for _, v := range st.Violations {
			if v.Record == nil {
				continue
			}
			if _, err := o.Questions.UpdateExtractors(ctx, q.ID, m.Type, question.ExtractorUpdate{Exclusive: v.Record}); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if err != nil {
		if res, ok := st.Results[PhaseMerge]; !ok || res.Status != StatusFailed {
			failed := question.AIFailed
			if _, uerr := o.Questions.UpdateExtractors(ctx, q.ID, m.Type, question.ExtractorUpdate{Exclusive: &failed}); uerr != nil {
				o.logger.Error("recording predict failure", zap.Int64("qid", q.ID), zap.Error(uerr))
			}
		}
		return false, err
	}
	o.emit(ctx, events.Event{
		Type:       events.QuestionPredicted,
		FileID:     f.ID,
		QuestionID: q.ID,
		MoldID:     m.ID,
		VersionID:  st.Target.VersionID,
		Status:     st.Question.AIStatus.String(),
	})
	return true, nil
}
