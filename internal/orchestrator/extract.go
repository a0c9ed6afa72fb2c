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
	"github.com/fyrsmithlabs/extractd/internal/merge"
	"github.com/fyrsmithlabs/extractd/internal/metrics"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/postpipe"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/studio"
)

// ExtractRequest is the studio's report that an upload was extracted.
type ExtractRequest struct {
	FileID   int64
	UploadID string
	MoldID   int64
	Success  bool
}

// ProcessFileExtract applies an LLM extraction to the question of the
// file and mold: the extracted items become the preset answer, merged
// with the exclusive preset for hybrid molds.
func (o *Orchestrator) ProcessFileExtract(ctx context.Context, req ExtractRequest) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("process_file_extract", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_file_extract", trace.WithAttributes(
		attribute.Int64("file.id", req.FileID),
		attribute.Int64("mold.id", req.MoldID),
		attribute.Bool("success", req.Success),
	))
	defer span.End()
	o.logger.Info("process file extract",
		zap.Int64("file_id", req.FileID),
		zap.Int64("mold_id", req.MoldID),
		zap.String("upload_id", req.UploadID),
		zap.Bool("success", req.Success),
	)

	q, err := o.questionOf(ctx, req.FileID, req.MoldID)
	if err != nil {
		return fail(span, err)
	}
	if q == nil {
		o.logger.Error("question not found", zap.Int64("file_id", req.FileID), zap.Int64("mold_id", req.MoldID))
		return nil
	}
	m, err := o.Molds.GetMold(ctx, req.MoldID)
	if err != nil {
		return fail(span, err)
	}
	if !req.Success {
		if err := o.applyExtraction(ctx, q.ID, m, question.AIFailed, nil); err != nil {
			return fail(span, err)
		}
		return nil
	}
	if m.StudioAppID == "" || o.studio == nil {
		return nil
	}

	llm, err := o.extractedAnswer(ctx, m, q.ID, req.UploadID)
	if err != nil {
		if serr := o.applyExtraction(ctx, q.ID, m, question.AIFailed, nil); serr != nil {
			err = errors.Join(err, serr)
		}
		return fail(span, err)
	}
	status := question.AIFinish
	if llm == nil {
		status = question.AIFailed
	}
	if err := o.applyExtraction(ctx, q.ID, m, status, llm); err != nil {
		return fail(span, err)
	}
	if err := o.PostPipe.Run(ctx, q.ID, req.FileID, postpipe.Options{TriggeredByPredict: true}); err != nil {
		o.logger.Warn("post pipe failed", zap.Int64("qid", q.ID), zap.Error(err))
	}
	if err := o.hooks.Execute(ctx, hooks.HookExtractFinish, hooks.Payload{
		QuestionID: q.ID,
		FileID:     req.FileID,
		MoldID:     m.ID,
		MoldName:   m.Name,
		Status:     status.String(),
	}); err != nil {
		o.logger.Warn("extract hook failed", zap.Int64("qid", q.ID), zap.Error(err))
	}
	o.emit(ctx, events.Event{
		Type:       events.QuestionPredicted,
		FileID:     req.FileID,
		QuestionID: q.ID,
		MoldID:     m.ID,
		Status:     status.String(),
		Data:       map[string]any{"extractor": llmMarker},
	})
	return nil
}

// applyExtraction records the LLM status and, when llm is set, the new
// preset answer, then re-merges the question answer. It holds the question
// lock and re-reads the question under it, so a prediction that finished
// during the studio round trip is merged rather than overwritten.
func (o *Orchestrator) applyExtraction(ctx context.Context, qid int64, m *mold.Mold, status question.AIStatus, llm *answer.Answer) error {
	release, err := o.acquireQuestion(ctx, qid)
	if err != nil {
		return err
	}
	defer o.releaseQuestion(ctx, qid, release)

	update := question.ExtractorUpdate{LLM: &status}
	if llm != nil {
		update.PresetAnswer = llm
		if m.Type == schema.MoldHybrid {
			q, err := o.QuestionStore.GetQuestion(ctx, qid)
			if err != nil {
				return err
			}
			if q.ExclusiveStatus == question.AIFinish && q.PresetAnswer != nil {
				exclusive, _ := splitLLM(q.PresetAnswer, m)
				update.PresetAnswer = withLLM(exclusive, llm, m)
			}
		}
	}
	if _, err := o.Questions.UpdateExtractors(ctx, qid, m.Type, update); err != nil {
		return err
	}
	return o.setAnswer(ctx, qid, m)
}

// extractedAnswer fetches the extraction of an upload with every item
// marked as coming from the LLM. It returns nil when the studio reports
// the extraction did not succeed.
func (o *Orchestrator) extractedAnswer(ctx context.Context, m *mold.Mold, qid int64, uploadID string) (*answer.Answer, error) {
	res, err := o.studio.ExtractResult(ctx, m.StudioAppID, uploadID)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		o.logger.Warn("llm extraction did not succeed", zap.Int64("qid", qid), zap.Int("status", res.Status))
		return nil, nil
	}
	llm := answer.New(&m.Data, m.Checksum)
	if res.Data != nil {
		traced, err := o.studio.TraceResult(ctx, m.StudioAppID, uploadID)
		if err != nil {
			o.logger.Warn("trace result unavailable", zap.Int64("qid", qid), zap.Error(err))
			traced = map[string]any{}
		}
		items, err := studio.Items(res.Data, traced, &m.Data)
		if err != nil {
			return nil, fmt.Errorf("convert extraction: %w", err)
		}
		for i := range items {
			items[i].Marker = &answer.Marker{Name: llmMarker, Others: []string{}}
		}
		llm.UserAnswer.Items = items
	}
	return llm, nil
}

// llmMarker names the LLM as the labeler of the items it extracted.
const llmMarker = "llm"

// splitLLM separates the items of a preset answer that the LLM extracted
// from those the exclusive extractors predicted.
func splitLLM(preset *answer.Answer, m *mold.Mold) (exclusive, llm *answer.Answer) {
	if preset == nil {
		return nil, nil
	}
	exclusive, llm = answer.New(&m.Data, m.Checksum), answer.New(&m.Data, m.Checksum)
	exclusive.Schema, llm.Schema = preset.Schema, preset.Schema
	for _, it := range preset.UserAnswer.Items {
		if it.Marker != nil && it.Marker.Name == llmMarker {
			llm.UserAnswer.Items = append(llm.UserAnswer.Items, it)
		} else {
			exclusive.UserAnswer.Items = append(exclusive.UserAnswer.Items, it)
		}
	}
	if len(llm.UserAnswer.Items) == 0 {
		llm = nil
	}
	return exclusive, llm
}

// withLLM lays LLM items over an exclusive preset answer.
func withLLM(exclusive, llm *answer.Answer, m *mold.Mold) *answer.Answer {
	if llm == nil {
		return exclusive
	}
	return merge.Merge(exclusive, []merge.Contribution{{Name: llmMarker, Data: llm}}, &m.Data, m.Checksum, merge.Options{})
}

func (o *Orchestrator) questionOf(ctx context.Context, fileID, moldID int64) (*question.Question, error) {
	qs, err := o.QuestionStore.ListQuestionsByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	for _, q := range qs {
		if q.MoldID == moldID {
			return q, nil
		}
	}
	return nil, nil
}
