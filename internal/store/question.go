package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fyrsmithlabs/extractd/internal/question"
)

// QuestionRepo implements question.Store and migrate.Store.
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo creates the question repository.
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

func (r *QuestionRepo) Tx(ctx context.Context, fn func(ctx context.Context, st question.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &QuestionRepo{db: tx})
	})
}

func (r *QuestionRepo) LockQuestion(ctx context.Context, id int64) (*question.Question, error) {
	return r.getQuestion(r.db.WithContext(ctx).Clauses(forUpdate), id)
}

func (r *QuestionRepo) GetQuestion(ctx context.Context, id int64) (*question.Question, error) {
	return r.getQuestion(r.db.WithContext(ctx), id)
}

func (r *QuestionRepo) getQuestion(db *gorm.DB, id int64) (*question.Question, error) {
	var row Question
	err := db.Where("id = ? AND deleted_utc = 0", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", question.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.domain()
}

func (r *QuestionRepo) ListQuestionsByFile(ctx context.Context, fileID int64) ([]*question.Question, error) {
	return r.listQuestions(r.db.WithContext(ctx).Where("fid = ? AND deleted_utc = 0", fileID).Order("mold"))
}

func (r *QuestionRepo) ListQuestionsByMold(ctx context.Context, moldID int64) ([]*question.Question, error) {
	return r.listQuestions(r.db.WithContext(ctx).Where("mold = ? AND deleted_utc = 0", moldID).Order("id"))
}

// ListQuestionsByAIStatus returns live questions in the given ai statuses
// last updated before the cutoff (unix seconds).
func (r *QuestionRepo) ListQuestionsByAIStatus(ctx context.Context, updatedBefore int64, statuses ...question.AIStatus) ([]*question.Question, error) {
	ints := make([]int, len(statuses))
	for i, s := range statuses {
		ints[i] = int(s)
	}
	return r.listQuestions(r.db.WithContext(ctx).
		Where("deleted_utc = 0 AND ai_status IN ? AND updated_utc < ?", ints, updatedBefore).
		Order("id"))
}

func (r *QuestionRepo) listQuestions(db *gorm.DB) ([]*question.Question, error) {
	var rows []Question
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*question.Question, 0, len(rows))
	for i := range rows {
		q, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *QuestionRepo) CreateQuestion(ctx context.Context, q *question.Question) error {
	row, err := questionRow(q)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	q.ID = row.ID
	return nil
}

func (r *QuestionRepo) SaveQuestion(ctx context.Context, q *question.Question) error {
	row, err := questionRow(q)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&Question{}).Where("id = ?", q.ID).Select("*").Omit("id").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", question.ErrNotFound, q.ID)
	}
	return nil
}

func (r *QuestionRepo) FindAnswer(ctx context.Context, qid, uid int64) (*question.Answer, error) {
	var rows []Answer
	if err := r.db.WithContext(ctx).Where("qid = ? AND uid = ?", qid, uid).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].domain()
}

func (r *QuestionRepo) ListAnswers(ctx context.Context, qid int64, statuses ...question.AnswerStatus) ([]*question.Answer, error) {
	db := r.db.WithContext(ctx).Where("qid = ?", qid)
	if len(statuses) > 0 {
		ints := make([]int, len(statuses))
		for i, s := range statuses {
			ints[i] = int(s)
		}
		db = db.Where("status IN ?", ints)
	}
	var rows []Answer
	if err := db.Order("updated_utc, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*question.Answer, 0, len(rows))
	for i := range rows {
		a, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *QuestionRepo) SaveAnswer(ctx context.Context, a *question.Answer) error {
	row, err := answerRow(a)
	if err != nil {
		return err
	}
	if a.ID == 0 {
		if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
			return err
		}
		a.ID = row.ID
		return nil
	}
	return r.db.WithContext(ctx).Model(&Answer{}).Where("id = ?", a.ID).Select("*").Omit("id").Updates(row).Error
}

func (r *QuestionRepo) ClearStandard(ctx context.Context, qid, exceptUID int64) error {
	return r.db.WithContext(ctx).Model(&Answer{}).
		Where("qid = ? AND uid <> ? AND standard <> 0", qid, exceptUID).
		Update("standard", 0).Error
}

func (r *QuestionRepo) CreateAdminOp(ctx context.Context, op *question.AdminOp) error {
	row := &AdminOp{UID: op.UID, QID: op.QID, OpType: int(op.OpType), AnswerID: op.AnswerID}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	op.ID = row.ID
	return nil
}

func (r *QuestionRepo) UserNames(ctx context.Context, uids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	var rows []User
	if err := r.db.WithContext(ctx).Where("id IN ?", uids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.ID] = u.Name
	}
	return out, nil
}
