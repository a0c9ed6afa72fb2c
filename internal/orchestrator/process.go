package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/blob"
	"github.com/fyrsmithlabs/extractd/internal/events"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/metrics"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/parser"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// ProcessFile parses a file when it has no usable interdoc yet and
// predicts it otherwise.
func (o *Orchestrator) ProcessFile(ctx context.Context, fileID int64, opts ProcessOptions) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("process_file", start, err) }()

	f, err := o.Files.Get(ctx, fileID)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	action := file.Decide(f, opts.ForceParse)
	o.logger.Info("process file",
		zap.Int64("file_id", fileID),
		zap.Stringer("action", action),
		zap.Stringer("parse_status", f.ParseStatus),
	)
	if action == file.ActionParse {
		return o.dispatcher.ParseFile(ctx, fileID, opts)
	}
	return o.dispatcher.PredictFile(ctx, fileID, opts.ForcePredict)
}

// ConvertOrParse submits a file to the parser. One parse runs per content
// hash: the lock is held until the parser calls back, or released right
// away when the submission fails.
func (o *Orchestrator) ConvertOrParse(ctx context.Context, fileID int64, opts ProcessOptions) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("convert_or_parse_file", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.convert_or_parse_file", trace.WithAttributes(attribute.Int64("file.id", fileID)))
	defer span.End()

	f, err := o.Files.Get(ctx, fileID)
	if err != nil {
		return fail(span, err)
	}
	if o.parser == nil {
		o.setFileStatus(ctx, f.ID, file.ParseFail)
		return fail(span, parser.ErrNotConfigured)
	}

	release, err := o.Locker.TryLock(ctx, lock.ParseFile(f.Hash), parseLockTTL)
	metrics.ObserveLock("parse_file", err, lock.ErrContention)
	if errors.Is(err, lock.ErrContention) {
		o.logger.Info("file hash already parsing", zap.Int64("file_id", f.ID), zap.String("hash", f.Hash))
		return nil
	}
	if err != nil {
		return fail(span, err)
	}
	abort := func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("release parse lock", zap.String("hash", f.Hash), zap.Error(err))
		}
	}

	o.setFileStatus(ctx, f.ID, file.ParseParsing)
	content, err := o.Blobs.Get(ctx, blob.FileKey(f.Hash))
	if err != nil {
		abort()
		o.setFileStatus(ctx, f.ID, file.ParseFail)
		return fail(span, err)
	}
	err = o.parser.Submit(ctx, parser.Request{
		FileID:        f.ID,
		Name:          f.Name,
		Hash:          f.Hash,
		Content:       bytes.NewReader(content),
		Priority:      f.Priority,
		OCR:           opts.OCR,
		Garbled:       opts.Garbled,
		AsPDF:         opts.AsPDF,
		ForceOCRPages: opts.ForceOCRPages,
	})
	if err != nil {
		abort()
		if !errors.Is(err, parser.ErrUnavailable) {
			o.setFileStatus(ctx, f.ID, file.ParseFail)
			o.emit(ctx, events.Event{Type: events.FileParseFailed, FileID: f.ID, Status: err.Error()})
		}
		return fail(span, err)
	}
	o.logger.Info("file submitted for parsing", zap.Int64("file_id", f.ID), zap.String("hash", f.Hash))
	return nil
}

// ParseComplete stores the interdoc the parser delivered for hash and
// predicts every file sharing it.
func (o *Orchestrator) ParseComplete(ctx context.Context, hash string, payload []byte) (ids []int64, err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("preprocess_complete", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.parse_complete", trace.WithAttributes(attribute.String("file.hash", hash)))
	defer span.End()
	defer func() {
		if err := o.Locker.Unlock(context.WithoutCancel(ctx), lock.ParseFile(hash)); err != nil {
			o.logger.Warn("release parse lock", zap.String("hash", hash), zap.Error(err))
		}
	}()

	ids, err = o.Files.Parsed(ctx, hash, payload)
	if err != nil {
		o.emit(ctx, events.Event{Type: events.FileParseFailed, Status: err.Error(), Data: map[string]any{"hash": hash}})
		return nil, fail(span, err)
	}
	var errs []error
	for _, id := range ids {
		o.emit(ctx, events.Event{Type: events.FileParsed, FileID: id, Status: file.ParseComplete.String()})
		if err := o.dispatcher.PredictFile(ctx, id, false); err != nil {
			errs = append(errs, fmt.Errorf("predict file %d: %w", id, err))
		}
	}
	return ids, errors.Join(errs...)
}

// ParseFailed records a parser callback that delivered no interdoc: every
// live file with hash is marked FAIL and the parse lock is released.
func (o *Orchestrator) ParseFailed(ctx context.Context, hash, reason string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("preprocess_failed", start, err) }()
	defer func() {
		if err := o.Locker.Unlock(context.WithoutCancel(ctx), lock.ParseFile(hash)); err != nil {
			o.logger.Warn("release parse lock", zap.String("hash", hash), zap.Error(err))
		}
	}()

	files, err := o.FileStore.ListByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("orchestrator: %w: hash %s", file.ErrNotFound, hash)
	}
	for _, f := range files {
		o.setFileStatus(ctx, f.ID, file.ParseFail)
		o.emit(ctx, events.Event{Type: events.FileParseFailed, FileID: f.ID, Status: reason})
	}
	o.logger.Warn("parse failed", zap.String("hash", hash), zap.String("reason", reason), zap.Int("files", len(files)))
	return nil
}

// PredictFile creates the missing questions of a parsed file, embeds its
// elements and starts the preset and LLM predictions.
func (o *Orchestrator) PredictFile(ctx context.Context, fileID int64, force bool) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("process_file_predict", start, err) }()
	ctx, span := o.tracer.Start(ctx, "orchestrator.predict_file", trace.WithAttributes(attribute.Int64("file.id", fileID)))
	defer span.End()

	f, err := o.Files.Get(ctx, fileID)
	if err != nil {
		return fail(span, err)
	}
	switch f.TaskType {
	case "", file.TaskExtract:
	case file.TaskJudge:
		return o.dispatcher.InspectRule(ctx, f.ID)
	default:
		o.logger.Info("no prediction for task type", zap.Int64("file_id", f.ID), zap.String("task_type", string(f.TaskType)))
		return nil
	}

	qs, molds, err := o.ensureQuestions(ctx, f)
	if err != nil {
		return fail(span, err)
	}

	if o.elements != nil {
		if r, err := o.Files.Check(ctx, f); err != nil {
			o.logger.Warn("skipping element embedding", zap.Int64("file_id", f.ID), zap.Error(err))
		} else if n, err := o.elements.IndexFile(ctx, f.ID, r); err != nil {
			o.logger.Warn("element embedding failed", zap.Int64("file_id", f.ID), zap.Error(err))
		} else {
			o.logger.Debug("elements embedded", zap.Int64("file_id", f.ID), zap.Int("count", n))
		}
	}

	var errs []error
	if o.web.PresetAnswer {
		if err := o.dispatcher.PresetAnswer(ctx, f.ID, force); err != nil {
			errs = append(errs, err)
		}
	}
	for _, q := range qs {
		m := molds[q.MoldID]
		if m == nil || m.Type == schema.MoldComplex {
			continue
		}
		if m.Type == schema.MoldHybrid && q.LLMStatus == question.AISkipPredict {
			continue
		}
		if !force && q.LLMStatus != question.AITodo {
			o.logger.Debug("llm extraction already requested",
				zap.Int64("qid", q.ID),
				zap.Stringer("llm_status", q.LLMStatus),
			)
			continue
		}
		if err := o.extractWithStudio(ctx, f, m, q, force); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fail(span, err)
	}
	return nil
}

// ensureQuestions returns the questions of f, creating one for every bound
// mold that has none, and the molds they belong to.
func (o *Orchestrator) ensureQuestions(ctx context.Context, f *file.File) ([]*question.Question, map[int64]*mold.Mold, error) {
	qs, err := o.QuestionStore.ListQuestionsByFile(ctx, f.ID)
	if err != nil {
		return nil, nil, err
	}
	have := map[int64]bool{}
	for _, q := range qs {
		have[q.MoldID] = true
	}
	molds := map[int64]*mold.Mold{}
	for _, id := range f.Molds {
		m, err := o.moldOf(ctx, molds, id)
		if err != nil {
			return nil, nil, err
		}
		if have[id] {
			continue
		}
		_, enabled, err := o.Models.Target(ctx, m)
		if err != nil {
			return nil, nil, err
		}
		q, err := o.Questions.Create(ctx, f.ID, question.MoldInfo{
			ID:                m.ID,
			Type:              m.Type,
			HasPredictors:     m.HasPredictors(),
			HasEnabledVersion: enabled,
		})
		if err != nil {
			return nil, nil, err
		}
		have[id] = true
		qs = append(qs, q)
	}
	for _, q := range qs {
		if _, err := o.moldOf(ctx, molds, q.MoldID); err != nil {
			return nil, nil, err
		}
	}
	return qs, molds, nil
}

// extractWithStudio uploads f once and queues it on the mold's app.
// Queued questions are DOING until the extract callback arrives.
func (o *Orchestrator) extractWithStudio(ctx context.Context, f *file.File, m *mold.Mold, q *question.Question, force bool) error {
	setLLM := func(s question.AIStatus) {
		if _, err := o.Questions.UpdateExtractors(ctx, q.ID, m.Type, question.ExtractorUpdate{LLM: &s}); err != nil {
			o.logger.Error("recording llm status", zap.Int64("qid", q.ID), zap.Stringer("status", s), zap.Error(err))
		}
	}
	if o.studio == nil || m.StudioAppID == "" {
		setLLM(question.AIFailed)
		return fmt.Errorf("%w: mold %d", ErrStudioUnavailable, m.ID)
	}

	if f.StudioUploadID == "" {
		content, err := o.Blobs.Get(ctx, blob.FileKey(f.Hash))
		if err != nil {
			setLLM(question.AIFailed)
			return err
		}
		uploadID, err := o.studio.Upload(ctx, f.Name, bytes.NewReader(content))
		if err != nil {
			setLLM(question.AIFailed)
			return err
		}
		f.StudioUploadID = uploadID
		if err := o.FileStore.SaveFile(ctx, f); err != nil {
			return err
		}
	}

	var err error
	if force && q.LLMStatus != question.AITodo {
		err = o.studio.ReExtract(ctx, m.StudioAppID, f.StudioUploadID)
	} else {
		err = o.studio.AddFile(ctx, m.StudioAppID, f.StudioUploadID)
	}
	if err != nil {
		setLLM(question.AIFailed)
		return err
	}
	setLLM(question.AIDoing)
	o.logger.Info("file queued for llm extraction",
		zap.Int64("file_id", f.ID),
		zap.Int64("mold_id", m.ID),
		zap.String("upload_id", f.StudioUploadID),
	)
	return nil
}

func (o *Orchestrator) setFileStatus(ctx context.Context, fileID int64, status file.ParseStatus) {
	if err := o.Files.SetStatus(context.WithoutCancel(ctx), fileID, status); err != nil {
		o.logger.Error("recording file status", zap.Int64("file_id", fileID), zap.Stringer("status", status), zap.Error(err))
	}
}
