package question

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a question does not exist or is deleted.
var ErrNotFound = errors.New("question not found")

// Store persists questions, answers and admin operations.
type Store interface {
	// Tx runs fn in a transaction. The Store handed to fn is bound to it.
	Tx(ctx context.Context, fn func(ctx context.Context, st Store) error) error

	// LockQuestion loads a live question with SELECT ... FOR UPDATE.
	LockQuestion(ctx context.Context, id int64) (*Question, error)
	GetQuestion(ctx context.Context, id int64) (*Question, error)
	ListQuestionsByFile(ctx context.Context, fileID int64) ([]*Question, error)
	CreateQuestion(ctx context.Context, q *Question) error
	SaveQuestion(ctx context.Context, q *Question) error

	// FindAnswer returns the (qid, uid) answer, or nil when absent.
	FindAnswer(ctx context.Context, qid, uid int64) (*Answer, error)
	// ListAnswers returns answers with the given statuses ordered by
	// updated_utc ascending.
	ListAnswers(ctx context.Context, qid int64, statuses ...AnswerStatus) ([]*Answer, error)
	SaveAnswer(ctx context.Context, a *Answer) error
	// ClearStandard sets standard=0 on every answer of qid except uid's.
	ClearStandard(ctx context.Context, qid, exceptUID int64) error
	CreateAdminOp(ctx context.Context, op *AdminOp) error
	UserNames(ctx context.Context, uids []int64) (map[int64]string, error)
}
