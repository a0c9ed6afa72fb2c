package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/fyrsmithlabs/extractd/internal/question"
)

type (
	questionRow = question.Question
	answerRow   = question.Answer
	adminOpRow  = question.AdminOp
)

// Questions returns the question table view.
func (s *Store) Questions() *QuestionStore {
	return &QuestionStore{s: s}
}

// QuestionStore implements question.Store and migrate.Store.
type QuestionStore struct {
	s    *Store
	inTx bool
}

func (q *QuestionStore) Tx(ctx context.Context, fn func(ctx context.Context, st question.Store) error) error {
	if q.inTx {
		return fn(ctx, q)
	}
	return q.s.tx(ctx, func(ctx context.Context) error {
		return fn(ctx, &QuestionStore{s: q.s, inTx: true})
	})
}

func (q *QuestionStore) LockQuestion(ctx context.Context, id int64) (*question.Question, error) {
	return q.GetQuestion(ctx, id)
}

func (q *QuestionStore) GetQuestion(_ context.Context, id int64) (*question.Question, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	row, ok := q.s.questions[id]
	if !ok || row.DeletedUTC != 0 {
		return nil, fmt.Errorf("%w: %d", question.ErrNotFound, id)
	}
	return copyQuestion(row), nil
}

func (q *QuestionStore) ListQuestionsByFile(_ context.Context, fileID int64) ([]*question.Question, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	var out []*question.Question
	for _, row := range q.s.questions {
		if row.FileID == fileID && row.DeletedUTC == 0 {
			out = append(out, copyQuestion(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MoldID < out[j].MoldID })
	return out, nil
}

func (q *QuestionStore) ListQuestionsByMold(_ context.Context, moldID int64) ([]*question.Question, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	var out []*question.Question
	for _, row := range q.s.questions {
		if row.MoldID == moldID && row.DeletedUTC == 0 {
			out = append(out, copyQuestion(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *QuestionStore) CreateQuestion(_ context.Context, in *question.Question) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	for _, row := range q.s.questions {
		if row.Checksum == in.Checksum && row.DeletedUTC == 0 {
			return fmt.Errorf("question %s already exists", in.Checksum)
		}
	}
	in.ID = q.s.nextID()
	q.s.questions[in.ID] = copyQuestion(in)
	return nil
}

func (q *QuestionStore) SaveQuestion(_ context.Context, in *question.Question) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if _, ok := q.s.questions[in.ID]; !ok {
		return fmt.Errorf("%w: %d", question.ErrNotFound, in.ID)
	}
	q.s.questions[in.ID] = copyQuestion(in)
	return nil
}

func (q *QuestionStore) FindAnswer(_ context.Context, qid, uid int64) (*question.Answer, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	for _, row := range q.s.answers {
		if row.QID == qid && row.UID == uid {
			c := *row
			return &c, nil
		}
	}
	return nil, nil
}

func (q *QuestionStore) ListAnswers(_ context.Context, qid int64, statuses ...question.AnswerStatus) ([]*question.Answer, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	var out []*question.Answer
	for _, row := range q.s.answers {
		if row.QID != qid {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, row.Status) {
			continue
		}
		c := *row
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedUTC != out[j].UpdatedUTC {
			return out[i].UpdatedUTC < out[j].UpdatedUTC
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *QuestionStore) SaveAnswer(_ context.Context, in *question.Answer) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	if in.ID == 0 {
		for _, row := range q.s.answers {
			if row.QID == in.QID && row.UID == in.UID {
				return fmt.Errorf("answer (%d, %d) already exists", in.QID, in.UID)
			}
		}
		in.ID = q.s.nextID()
	}
	c := *in
	q.s.answers[in.ID] = &c
	return nil
}

func (q *QuestionStore) ClearStandard(_ context.Context, qid, exceptUID int64) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	for id, row := range q.s.answers {
		if row.QID == qid && row.UID != exceptUID && row.Standard != 0 {
			c := *row
			c.Standard = 0
			q.s.answers[id] = &c
		}
	}
	return nil
}

func (q *QuestionStore) CreateAdminOp(_ context.Context, op *question.AdminOp) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	op.ID = q.s.nextID()
	q.s.adminOps = append(q.s.adminOps, *op)
	return nil
}

func (q *QuestionStore) UserNames(_ context.Context, uids []int64) (map[int64]string, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	out := make(map[int64]string, len(uids))
	for _, uid := range uids {
		if name, ok := q.s.users[uid]; ok {
			out[uid] = name
		}
	}
	return out, nil
}

// AdminOps returns the recorded admin operations.
func (s *Store) AdminOps() []question.AdminOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]question.AdminOp(nil), s.adminOps...)
}

func copyQuestion(q *question.Question) *question.Question {
	c := *q
	c.MarkUIDs = slices.Clone(q.MarkUIDs)
	c.MarkUsers = slices.Clone(q.MarkUsers)
	return &c
}

func (q *QuestionStore) ListQuestionsByAIStatus(_ context.Context, updatedBefore int64, statuses ...question.AIStatus) ([]*question.Question, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	var out []*question.Question
	for _, row := range q.s.questions {
		if row.DeletedUTC == 0 && row.UpdatedUTC < updatedBefore && slices.Contains(statuses, row.AIStatus) {
			out = append(out, copyQuestion(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
