package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/events"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/metrics"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/question"
)

// ResetRequest selects the statuses a reset flips back to TODO.
type ResetRequest struct {
	// StuckAfter is how long a DOING question or PARSING file may go
	// without update before it counts as stuck.
	StuckAfter time.Duration
	// MoldID limits question resets to one mold when set.
	MoldID int64
}

// ResetReport counts what a reset changed.
type ResetReport struct {
	Questions int
	Files     int
}

// ResetStatuses flips FAILED and stuck DOING extractor statuses back to
// TODO and fails files stuck in PARSING so they can be processed again.
func (o *Orchestrator) ResetStatuses(ctx context.Context, req ResetRequest) (rep ResetReport, err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("reset_status", start, err) }()

	now := o.now()
	stuckBefore := now.Add(-req.StuckAfter).Unix()
	failed, err := o.QuestionStore.ListQuestionsByAIStatus(ctx, now.Unix()+1, question.AIFailed)
	if err != nil {
		return rep, fmt.Errorf("orchestrator: %w", err)
	}
	stuck, err := o.QuestionStore.ListQuestionsByAIStatus(ctx, stuckBefore, question.AIDoing)
	if err != nil {
		return rep, fmt.Errorf("orchestrator: %w", err)
	}

	molds := map[int64]*mold.Mold{}
	seen := map[int64]bool{}
	var errs []error
	for _, q := range append(failed, stuck...) {
		if seen[q.ID] || (req.MoldID != 0 && q.MoldID != req.MoldID) {
			continue
		}
		seen[q.ID] = true
		m, err := o.moldOf(ctx, molds, q.MoldID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed, err := o.Questions.ResetStatus(ctx, q.ID, m.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("reset question %d: %w", q.ID, err))
			continue
		}
		if !changed {
			continue
		}
		rep.Questions++
		metrics.StatusResets.WithLabelValues("question").Inc()
		o.emit(ctx, events.Event{Type: events.QuestionReset, FileID: q.FileID, QuestionID: q.ID, MoldID: q.MoldID, Status: question.AITodo.String()})
	}

	files, err := o.FileStore.ListByStatus(ctx, stuckBefore, file.ParseParsing)
	if err != nil {
		errs = append(errs, err)
	}
	for _, f := range files {
		if err := o.Locker.Unlock(ctx, lock.ParseFile(f.Hash)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := o.Files.SetStatus(ctx, f.ID, file.ParseFail); err != nil {
			errs = append(errs, err)
			continue
		}
		rep.Files++
		metrics.StatusResets.WithLabelValues("file").Inc()
		o.emit(ctx, events.Event{Type: events.FileParseFailed, FileID: f.ID, Status: "parse timed out"})
	}

	o.logger.Info("statuses reset", zap.Int("questions", rep.Questions), zap.Int("files", rep.Files))
	if err := errors.Join(errs...); err != nil {
		return rep, fmt.Errorf("orchestrator: %w", err)
	}
	return rep, nil
}

// gaugeStatuses are the ai_status values the backlog gauge tracks.
var gaugeStatuses = []question.AIStatus{question.AITodo, question.AIDoing, question.AIFailed}

// RefreshGauges recounts the questions waiting in each non-terminal
// ai_status.
func (o *Orchestrator) RefreshGauges(ctx context.Context) error {
	cutoff := o.now().Unix() + 1
	for _, s := range gaugeStatuses {
		qs, err := o.QuestionStore.ListQuestionsByAIStatus(ctx, cutoff, s)
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		metrics.QuestionsByAIStatus.WithLabelValues(s.String()).Set(float64(len(qs)))
	}
	return nil
}

// RepredictMold re-runs the preset answer of every question of a mold.
// It is called when a model version is enabled.
func (o *Orchestrator) RepredictMold(ctx context.Context, moldID, vid int64) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveTask("repredict_mold", start, err) }()

	fids, err := o.FileStore.ListByMold(ctx, moldID)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	var errs []error
	count := 0
	for _, fid := range fids {
		q, err := o.questionOf(ctx, fid, moldID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if q == nil {
			continue
		}
		if err := o.dispatcher.PresetQuestion(ctx, q.ID, true); err != nil {
			errs = append(errs, fmt.Errorf("question %d: %w", q.ID, err))
			continue
		}
		count++
	}
	o.logger.Info("mold re-predicted", zap.Int64("mold_id", moldID), zap.Int64("vid", vid), zap.Int("questions", count))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}
