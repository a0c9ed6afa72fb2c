package question

import (
	"encoding/json"
	"strconv"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

// Question is the work item bound to one file and one mold.
type Question struct {
	ID              int64
	FileID          int64
	MoldID          int64
	Checksum        string
	Health          int
	OriginHealth    int
	Status          Status
	AIStatus        AIStatus
	ExclusiveStatus AIStatus
	LLMStatus       AIStatus
	Answer          *answer.Answer
	PresetAnswer    *answer.Answer
	CrudeAnswer     json.RawMessage
	ConfirmedAnswer *answer.Answer
	Progress        string
	MarkUIDs        []int64
	MarkUsers       []string
	CreatedUTC      int64
	UpdatedUTC      int64
	DeletedUTC      int64
}

// Answer is one user's labeling of a question. (QID, UID) is unique.
type Answer struct {
	ID         int64
	QID        int64
	UID        int64
	Data       *answer.Answer
	Standard   int
	Status     AnswerStatus
	Type       AnswerType
	CreatedUTC int64
	UpdatedUTC int64
}

// AdminOp records an administrator verify or judge action.
type AdminOp struct {
	ID       int64
	UID      int64
	QID      int64
	OpType   AnswerType
	AnswerID int64
}

// User is the caller of a submission.
type User struct {
	ID      int64
	Name    string
	IsAdmin bool
}

// MoldInfo is what question creation needs to know about a mold.
type MoldInfo struct {
	ID                int64
	Type              schema.MoldType
	HasPredictors     bool
	HasEnabledVersion bool
}

// Checksum returns the unique "{fid}-{mold}" key of a question.
func Checksum(fileID, moldID int64) string {
	return strconv.FormatInt(fileID, 10) + "-" + strconv.FormatInt(moldID, 10)
}
