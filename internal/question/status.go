package question

import "github.com/fyrsmithlabs/extractd/internal/schema"

// Status is the annotation status of a question.
type Status int

const (
	StatusTodo              Status = 0
	StatusDoing             Status = 1
	StatusFinish            Status = 2
	StatusVerify            Status = 3
	StatusDisaccord         Status = 4
	StatusAccordance        Status = 5
	StatusVerifyConfirmed   Status = 6
	StatusStandardConfirmed Status = 10
)

var statusNames = map[Status]string{
	StatusTodo:              "TODO",
	StatusDoing:             "DOING",
	StatusFinish:            "FINISH",
	StatusVerify:            "VERIFY",
	StatusDisaccord:         "DISACCORD",
	StatusAccordance:        "ACCORDANCE",
	StatusVerifyConfirmed:   "VERIFY_CONFIRMED",
	StatusStandardConfirmed: "STANDARD_CONFIRMED",
}

// TrainingStatuses are the statuses whose answers feed model training.
var TrainingStatuses = []Status{StatusFinish, StatusAccordance, StatusStandardConfirmed}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// AIStatus is the state of an extractor. The same values serve
// exclusive_status, llm_status and the ai_status rollup; llm_status only
// takes SkipPredict, Todo, Doing, Failed and Finish.
type AIStatus int

const (
	AISkipPredict  AIStatus = -1
	AITodo         AIStatus = 0
	AIDoing        AIStatus = 1
	AIFailed       AIStatus = 2
	AIFinish       AIStatus = 3
	AIDisable      AIStatus = 4
	AIUncorrelated AIStatus = 5
)

var aiStatusNames = map[AIStatus]string{
	AISkipPredict:  "SKIP_PREDICT",
	AITodo:         "TODO",
	AIDoing:        "DOING",
	AIFailed:       "FAILED",
	AIFinish:       "FINISH",
	AIDisable:      "DISABLE",
	AIUncorrelated: "UNCORRELATED",
}

func (s AIStatus) String() string {
	if n, ok := aiStatusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// AllAIStatuses lists every extractor status.
var AllAIStatuses = []AIStatus{AISkipPredict, AITodo, AIDoing, AIFailed, AIFinish, AIDisable, AIUncorrelated}

// LLMStatuses lists the values llm_status can take.
var LLMStatuses = []AIStatus{AISkipPredict, AITodo, AIDoing, AIFailed, AIFinish}

// Rollup derives ai_status from the mold type and the two extractor
// statuses.
func Rollup(moldType schema.MoldType, exclusive, llm AIStatus) AIStatus {
	if moldType == schema.MoldLLM {
		return llm
	}
	switch exclusive {
	case AIDisable, AISkipPredict, AIUncorrelated:
		return exclusive
	}
	for _, s := range []AIStatus{AITodo, AIDoing, AIFailed} {
		if exclusive == s || llm == s {
			return s
		}
	}
	return AIFinish
}

// AnswerStatus marks an answer row as a draft or a submission.
type AnswerStatus int

const (
	AnswerInvalid    AnswerStatus = 0
	AnswerValid      AnswerStatus = 1
	AnswerUnfinished AnswerStatus = 2
)

// AnswerType records which transition produced an answer.
type AnswerType int

const (
	AnswerUserDo      AnswerType = 1
	AnswerAdminDo1    AnswerType = 2
	AnswerAdminVerify AnswerType = 3
	AnswerAdminJudge  AnswerType = 4
	AnswerAdminDo2    AnswerType = 5
)

func (t AnswerType) String() string {
	switch t {
	case AnswerUserDo:
		return "USER_DO"
	case AnswerAdminDo1:
		return "ADMIN_DO_1"
	case AnswerAdminVerify:
		return "ADMIN_VERIFY"
	case AnswerAdminJudge:
		return "ADMIN_JUDGE"
	case AnswerAdminDo2:
		return "ADMIN_DO_2"
	}
	return "UNKNOWN"
}
