package migrate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// Store is what the migrator needs from persistence.
type Store interface {
	question.Store
	ListQuestionsByMold(ctx context.Context, moldID int64) ([]*question.Question, error)
}

// Report summarises a mold migration.
type Report struct {
	Questions        int
	QuestionsTouched int
	AnswersTouched   int
	ItemsKept        int
	ItemsDropped     int
	DryRun           bool
}

// Migrator migrates every question and answer of a mold.
type Migrator struct {
	store  Store
	logger *zap.Logger
}

// NewMigrator creates a Migrator. A nil logger discards output.
func NewMigrator(store Store, logger *zap.Logger) (*Migrator, error) {
	if store == nil {
		return nil, errors.New("migrate store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{store: store, logger: logger}, nil
}

// MigrateMold brings the answers, preset answers and merged answers of
// every question of moldID onto d. Each question migrates in its own
// transaction. With dryRun set nothing is written.
func (m *Migrator) MigrateMold(ctx context.Context, moldID int64, d *schema.Data, checksum string, renames schema.Renames, dryRun bool) (Report, error) {
	rep := Report{DryRun: dryRun}
	qs, err := m.store.ListQuestionsByMold(ctx, moldID)
	if err != nil {
		return rep, fmt.Errorf("list questions: %w", err)
	}
	rep.Questions = len(qs)

	for _, q := range qs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := m.migrateQuestion(ctx, q.ID, d, checksum, renames, dryRun, &rep); err != nil {
			return rep, fmt.Errorf("question %d: %w", q.ID, err)
		}
	}

	m.logger.Info("mold answers migrated",
		zap.Int64("mold.id", moldID),
		zap.Int("questions", rep.Questions),
		zap.Int("questions_touched", rep.QuestionsTouched),
		zap.Int("answers_touched", rep.AnswersTouched),
		zap.Int("items_dropped", rep.ItemsDropped),
		zap.Bool("dry_run", dryRun),
	)
	return rep, nil
}

func (m *Migrator) migrateQuestion(ctx context.Context, qid int64, d *schema.Data, checksum string, renames schema.Renames, dryRun bool, rep *Report) error {
	return m.store.Tx(ctx, func(ctx context.Context, st question.Store) error {
		q, err := st.LockQuestion(ctx, qid)
		if err != nil {
			return err
		}

		touched := false
		if r := Answer(q.Answer, d, checksum, renames); r.Changed {
			q.Answer = r.Answer
			rep.ItemsKept += r.Kept
			rep.ItemsDropped += r.Dropped
			touched = true
		}
		if r := Answer(q.PresetAnswer, d, checksum, renames); r.Changed {
			q.PresetAnswer = r.Answer
			rep.ItemsKept += r.Kept
			rep.ItemsDropped += r.Dropped
			touched = true
		}
		if touched {
			rep.QuestionsTouched++
			if !dryRun {
				if err := st.SaveQuestion(ctx, q); err != nil {
					return fmt.Errorf("save question: %w", err)
				}
			}
		}

		answers, err := st.ListAnswers(ctx, qid)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}
		for _, a := range answers {
			r := Answer(a.Data, d, checksum, renames)
			if !r.Changed {
				continue
			}
			rep.AnswersTouched++
			rep.ItemsKept += r.Kept
			rep.ItemsDropped += r.Dropped
			if dryRun {
				continue
			}
			a.Data = r.Answer
			if err := st.SaveAnswer(ctx, a); err != nil {
				return fmt.Errorf("save answer %d: %w", a.ID, err)
			}
		}
		return nil
	})
}
