package store

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

var models = []any{
	&Mold{}, &ExtractMethod{}, &RuleClass{}, &RuleItem{}, &FileTree{},
	&Question{}, &Answer{}, &AdminOp{}, &User{},
	&File{},
	&ModelVersion{}, &AccuracyRecord{},
	&AuditResult{}, &SpecialAnswer{},
}

// Mold is the mold table.
type Mold struct {
	ID              int64          `gorm:"primaryKey"`
	Name            string         `gorm:"type:varchar(255);not null;index"`
	Checksum        string         `gorm:"type:varchar(32)"`
	MoldType        int            `gorm:"type:smallint;not null;default:0"`
	ModelName       string         `gorm:"type:varchar(255)"`
	Data            datatypes.JSON `gorm:"type:jsonb;not null"`
	Master          int64          `gorm:"index"`
	Predictors      datatypes.JSON `gorm:"type:jsonb"`
	PredictorOption datatypes.JSON `gorm:"type:jsonb"`
	Public          bool
	StudioAppID     string         `gorm:"type:varchar(64)"`
	Meta            datatypes.JSON `gorm:"type:jsonb"`
	UID             int64
	CreatedUTC      int64
	UpdatedUTC      int64
	DeletedUTC      int64 `gorm:"not null;default:0;index"`
}

func (Mold) TableName() string { return "mold" }

func moldRow(m *mold.Mold) (*Mold, error) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return nil, fmt.Errorf("encode mold data: %w", err)
	}
	opt, err := marshalJSON(m.PredictorOption)
	if err != nil {
		return nil, err
	}
	meta, err := marshalJSON(m.Meta)
	if err != nil {
		return nil, err
	}
	return &Mold{
		ID:              m.ID,
		Name:            m.Name,
		Checksum:        m.Checksum,
		MoldType:        int(m.Type),
		ModelName:       m.ModelName,
		Data:            data,
		Master:          m.Master,
		Predictors:      datatypes.JSON(m.Predictors),
		PredictorOption: opt,
		Public:          m.Public,
		StudioAppID:     m.StudioAppID,
		Meta:            meta,
		UID:             m.UID,
		CreatedUTC:      m.CreatedUTC,
		UpdatedUTC:      m.UpdatedUTC,
		DeletedUTC:      m.DeletedUTC,
	}, nil
}

func (r *Mold) domain() (*mold.Mold, error) {
	m := &mold.Mold{
		ID:          r.ID,
		Name:        r.Name,
		Checksum:    r.Checksum,
		Type:        schema.MoldType(r.MoldType),
		ModelName:   r.ModelName,
		Master:      r.Master,
		Predictors:  json.RawMessage(r.Predictors),
		Public:      r.Public,
		StudioAppID: r.StudioAppID,
		UID:         r.UID,
		CreatedUTC:  r.CreatedUTC,
		UpdatedUTC:  r.UpdatedUTC,
		DeletedUTC:  r.DeletedUTC,
	}
	if err := json.Unmarshal(r.Data, &m.Data); err != nil {
		return nil, fmt.Errorf("decode data of mold %d: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.PredictorOption, &m.PredictorOption); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(r.Meta, &m.Meta); err != nil {
		return nil, err
	}
	return m, nil
}

// ExtractMethod is the extract_method table.
type ExtractMethod struct {
	ID     int64          `gorm:"primaryKey"`
	Mold   int64          `gorm:"index;not null"`
	Path   string         `gorm:"type:text"`
	Method string         `gorm:"type:varchar(64)"`
	Data   datatypes.JSON `gorm:"type:jsonb"`
}

func (ExtractMethod) TableName() string { return "extract_method" }

// RuleClass is the rule_class table.
type RuleClass struct {
	ID         int64  `gorm:"primaryKey"`
	Mold       int64  `gorm:"index;not null"`
	Name       string `gorm:"type:varchar(255)"`
	MethodType int
}

func (RuleClass) TableName() string { return "rule_class" }

// RuleItem is the rule_item table.
type RuleItem struct {
	ID      int64          `gorm:"primaryKey"`
	Mold    int64          `gorm:"index;not null"`
	ClassID int64          `gorm:"index"`
	Name    string         `gorm:"type:varchar(255)"`
	Data    datatypes.JSON `gorm:"type:jsonb"`
}

func (RuleItem) TableName() string { return "rule_item" }

// FileTree is the file_tree table. DefaultMolds pins molds in use.
type FileTree struct {
	ID           int64                      `gorm:"primaryKey"`
	PID          int64                      `gorm:"index"`
	Name         string                     `gorm:"type:varchar(255)"`
	DefaultMolds datatypes.JSONSlice[int64] `gorm:"type:jsonb"`
	DeletedUTC   int64                      `gorm:"not null;default:0"`
}

func (FileTree) TableName() string { return "file_tree" }

// Question is the question table. (fid, mold) is unique through checksum.
type Question struct {
	ID              int64  `gorm:"primaryKey"`
	FID             int64  `gorm:"column:fid;index;not null"`
	Mold            int64  `gorm:"index;not null"`
	Checksum        string `gorm:"type:varchar(64);uniqueIndex:uq_question_checksum,where:deleted_utc = 0"`
	Health          int
	OriginHealth    int
	Status          int                         `gorm:"type:smallint;index"`
	AIStatus        int                         `gorm:"column:ai_status;type:smallint"`
	ExclusiveStatus int                         `gorm:"type:smallint"`
	LLMStatus       int                         `gorm:"column:llm_status;type:smallint"`
	Answer          datatypes.JSON              `gorm:"type:jsonb"`
	PresetAnswer    datatypes.JSON              `gorm:"type:jsonb"`
	CrudeAnswer     datatypes.JSON              `gorm:"type:jsonb"`
	ConfirmedAnswer datatypes.JSON              `gorm:"type:jsonb"`
	Progress        string                      `gorm:"type:varchar(32)"`
	MarkUIDs        datatypes.JSONSlice[int64]  `gorm:"column:mark_uids;type:jsonb"`
	MarkUsers       datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	CreatedUTC      int64
	UpdatedUTC      int64
	DeletedUTC      int64 `gorm:"not null;default:0;index"`
}

func (Question) TableName() string { return "question" }

func questionRow(q *question.Question) (*Question, error) {
	a, err := marshalAnswer(q.Answer)
	if err != nil {
		return nil, err
	}
	preset, err := marshalAnswer(q.PresetAnswer)
	if err != nil {
		return nil, err
	}
	confirmed, err := marshalAnswer(q.ConfirmedAnswer)
	if err != nil {
		return nil, err
	}
	return &Question{
		ID:              q.ID,
		FID:             q.FileID,
		Mold:            q.MoldID,
		Checksum:        q.Checksum,
		Health:          q.Health,
		OriginHealth:    q.OriginHealth,
		Status:          int(q.Status),
		AIStatus:        int(q.AIStatus),
		ExclusiveStatus: int(q.ExclusiveStatus),
		LLMStatus:       int(q.LLMStatus),
		Answer:          a,
		PresetAnswer:    preset,
		CrudeAnswer:     datatypes.JSON(q.CrudeAnswer),
		ConfirmedAnswer: confirmed,
		Progress:        q.Progress,
		MarkUIDs:        q.MarkUIDs,
		MarkUsers:       q.MarkUsers,
		CreatedUTC:      q.CreatedUTC,
		UpdatedUTC:      q.UpdatedUTC,
		DeletedUTC:      q.DeletedUTC,
	}, nil
}

func (r *Question) domain() (*question.Question, error) {
	q := &question.Question{
		ID:              r.ID,
		FileID:          r.FID,
		MoldID:          r.Mold,
		Checksum:        r.Checksum,
		Health:          r.Health,
		OriginHealth:    r.OriginHealth,
		Status:          question.Status(r.Status),
		AIStatus:        question.AIStatus(r.AIStatus),
		ExclusiveStatus: question.AIStatus(r.ExclusiveStatus),
		LLMStatus:       question.AIStatus(r.LLMStatus),
		CrudeAnswer:     json.RawMessage(r.CrudeAnswer),
		Progress:        r.Progress,
		MarkUIDs:        r.MarkUIDs,
		MarkUsers:       r.MarkUsers,
		CreatedUTC:      r.CreatedUTC,
		UpdatedUTC:      r.UpdatedUTC,
		DeletedUTC:      r.DeletedUTC,
	}
	var err error
	if q.Answer, err = unmarshalAnswer(r.Answer); err != nil {
		return nil, fmt.Errorf("answer of question %d: %w", r.ID, err)
	}
	if q.PresetAnswer, err = unmarshalAnswer(r.PresetAnswer); err != nil {
		return nil, fmt.Errorf("preset answer of question %d: %w", r.ID, err)
	}
	if q.ConfirmedAnswer, err = unmarshalAnswer(r.ConfirmedAnswer); err != nil {
		return nil, fmt.Errorf("confirmed answer of question %d: %w", r.ID, err)
	}
	return q, nil
}

// Answer is the answer table. (qid, uid) is unique.
type Answer struct {
	ID         int64          `gorm:"primaryKey"`
	QID        int64          `gorm:"column:qid;not null;uniqueIndex:uq_answer_qid_uid"`
	UID        int64          `gorm:"column:uid;not null;uniqueIndex:uq_answer_qid_uid"`
	Data       datatypes.JSON `gorm:"type:jsonb"`
	Standard   int            `gorm:"type:smallint"`
	Status     int            `gorm:"type:smallint"`
	Type       int            `gorm:"type:smallint"`
	CreatedUTC int64
	UpdatedUTC int64 `gorm:"index"`
}

func (Answer) TableName() string { return "answer" }

func answerRow(a *question.Answer) (*Answer, error) {
	data, err := marshalAnswer(a.Data)
	if err != nil {
		return nil, err
	}
	return &Answer{
		ID:         a.ID,
		QID:        a.QID,
		UID:        a.UID,
		Data:       data,
		Standard:   a.Standard,
		Status:     int(a.Status),
		Type:       int(a.Type),
		CreatedUTC: a.CreatedUTC,
		UpdatedUTC: a.UpdatedUTC,
	}, nil
}

func (r *Answer) domain() (*question.Answer, error) {
	data, err := unmarshalAnswer(r.Data)
	if err != nil {
		return nil, fmt.Errorf("data of answer %d: %w", r.ID, err)
	}
	return &question.Answer{
		ID:         r.ID,
		QID:        r.QID,
		UID:        r.UID,
		Data:       data,
		Standard:   r.Standard,
		Status:     question.AnswerStatus(r.Status),
		Type:       question.AnswerType(r.Type),
		CreatedUTC: r.CreatedUTC,
		UpdatedUTC: r.UpdatedUTC,
	}, nil
}

// AdminOp is the admin_op table.
type AdminOp struct {
	ID       int64 `gorm:"primaryKey"`
	UID      int64 `gorm:"column:uid;index"`
	QID      int64 `gorm:"column:qid;index"`
	OpType   int   `gorm:"type:smallint"`
	AnswerID int64 `gorm:"column:answer"`
}

func (AdminOp) TableName() string { return "admin_op" }

// User is the admin_user table, read for marker names.
type User struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"type:varchar(255)"`
}

func (User) TableName() string { return "admin_user" }

// File is the file table.
type File struct {
	ID             int64                      `gorm:"primaryKey"`
	TreeID         int64                      `gorm:"index"`
	PID            int64                      `gorm:"column:pid;index"`
	Name           string                     `gorm:"type:varchar(1024)"`
	Hash           string                     `gorm:"type:varchar(64);index"`
	PDF            string                     `gorm:"column:pdf;type:varchar(64)"`
	Size           int64
	Molds          datatypes.JSONSlice[int64] `gorm:"type:jsonb"`
	PDFParseStatus int                        `gorm:"column:pdf_parse_status;type:smallint;index"`
	PDFInsight     string                     `gorm:"column:pdfinsight;type:varchar(64)"`
	TaskType       string                     `gorm:"type:varchar(32)"`
	Priority       int
	MetaInfo       datatypes.JSON `gorm:"type:jsonb"`
	StudioUploadID string         `gorm:"type:varchar(64)"`
	UID            int64
	CreatedUTC     int64
	UpdatedUTC     int64 `gorm:"index"`
	DeletedUTC     int64 `gorm:"not null;default:0"`
}

func (File) TableName() string { return "file" }

func fileRow(f *file.File) (*File, error) {
	meta, err := json.Marshal(f.MetaInfo)
	if err != nil {
		return nil, fmt.Errorf("encode meta info: %w", err)
	}
	return &File{
		ID:             f.ID,
		TreeID:         f.TreeID,
		PID:            f.ProjectID,
		Name:           f.Name,
		Hash:           f.Hash,
		PDF:            f.PDFHash,
		Size:           f.Size,
		Molds:          f.Molds,
		PDFParseStatus: int(f.ParseStatus),
		PDFInsight:     f.Interdoc,
		TaskType:       string(f.TaskType),
		Priority:       f.Priority,
		MetaInfo:       meta,
		StudioUploadID: f.StudioUploadID,
		UID:            f.UID,
		CreatedUTC:     f.CreatedUTC,
		UpdatedUTC:     f.UpdatedUTC,
		DeletedUTC:     f.DeletedUTC,
	}, nil
}

func (r *File) domain() (*file.File, error) {
	f := &file.File{
		ID:             r.ID,
		TreeID:         r.TreeID,
		ProjectID:      r.PID,
		Name:           r.Name,
		Hash:           r.Hash,
		PDFHash:        r.PDF,
		Size:           r.Size,
		Molds:          r.Molds,
		ParseStatus:    file.ParseStatus(r.PDFParseStatus),
		Interdoc:       r.PDFInsight,
		TaskType:       file.TaskType(r.TaskType),
		Priority:       r.Priority,
		StudioUploadID: r.StudioUploadID,
		UID:            r.UID,
		CreatedUTC:     r.CreatedUTC,
		UpdatedUTC:     r.UpdatedUTC,
		DeletedUTC:     r.DeletedUTC,
	}
	if err := unmarshalJSON(r.MetaInfo, &f.MetaInfo); err != nil {
		return nil, fmt.Errorf("meta info of file %d: %w", r.ID, err)
	}
	return f, nil
}

// ModelVersion is the model_version table.
type ModelVersion struct {
	ID              int64                      `gorm:"primaryKey"`
	Mold            int64                      `gorm:"index;not null"`
	Name            string                     `gorm:"type:varchar(255)"`
	ModelType       int                        `gorm:"type:smallint"`
	Status          int                        `gorm:"type:smallint"`
	Enable          int                        `gorm:"type:smallint;default:0"`
	Predictors      datatypes.JSON             `gorm:"type:jsonb"`
	PredictorOption datatypes.JSON             `gorm:"type:jsonb"`
	Dirs            datatypes.JSONSlice[int64] `gorm:"type:jsonb"`
	Files           datatypes.JSONSlice[int64] `gorm:"type:jsonb"`
	CreatedUTC      int64
	UpdatedUTC      int64
	DeletedUTC      int64 `gorm:"not null;default:0"`
}

func (ModelVersion) TableName() string { return "model_version" }

func versionRow(v *training.Version) (*ModelVersion, error) {
	opt, err := marshalJSON(v.PredictorOption)
	if err != nil {
		return nil, err
	}
	enable := 0
	if v.Enable {
		enable = 1
	}
	return &ModelVersion{
		ID:              v.ID,
		Mold:            v.MoldID,
		Name:            v.Name,
		ModelType:       int(v.ModelType),
		Status:          int(v.Status),
		Enable:          enable,
		Predictors:      datatypes.JSON(v.Predictors),
		PredictorOption: opt,
		Dirs:            v.Dirs,
		Files:           v.Files,
		CreatedUTC:      v.CreatedUTC,
		UpdatedUTC:      v.UpdatedUTC,
		DeletedUTC:      v.DeletedUTC,
	}, nil
}

func (r *ModelVersion) domain() (*training.Version, error) {
	v := &training.Version{
		ID:         r.ID,
		MoldID:     r.Mold,
		Name:       r.Name,
		ModelType:  training.ModelType(r.ModelType),
		Status:     training.Status(r.Status),
		Enable:     r.Enable == 1,
		Predictors: json.RawMessage(r.Predictors),
		Dirs:       r.Dirs,
		Files:      r.Files,
		CreatedUTC: r.CreatedUTC,
		UpdatedUTC: r.UpdatedUTC,
		DeletedUTC: r.DeletedUTC,
	}
	if err := unmarshalJSON(r.PredictorOption, &v.PredictorOption); err != nil {
		return nil, err
	}
	return v, nil
}

// AccuracyRecord is the accuracy_record table.
type AccuracyRecord struct {
	ID         int64                      `gorm:"primaryKey"`
	Mold       int64                      `gorm:"index"`
	VID        int64                      `gorm:"column:vid;index"`
	Test       int                        `gorm:"type:smallint"`
	Status     int                        `gorm:"type:smallint"`
	Files      datatypes.JSONSlice[int64] `gorm:"type:jsonb"`
	Dirs       datatypes.JSONSlice[int64] `gorm:"type:jsonb"`
	Data       datatypes.JSON             `gorm:"type:jsonb"`
	CreatedUTC int64
}

func (AccuracyRecord) TableName() string { return "accuracy_record" }

func recordRow(r *training.AccuracyRecord) *AccuracyRecord {
	return &AccuracyRecord{
		ID:         r.ID,
		Mold:       r.MoldID,
		VID:        r.VID,
		Test:       int(r.Kind),
		Status:     int(r.Status),
		Files:      r.Files,
		Dirs:       r.Dirs,
		Data:       datatypes.JSON(r.Data),
		CreatedUTC: r.CreatedUTC,
	}
}

func (r *AccuracyRecord) domain() *training.AccuracyRecord {
	return &training.AccuracyRecord{
		ID:         r.ID,
		MoldID:     r.Mold,
		VID:        r.VID,
		Kind:       training.RecordKind(r.Test),
		Status:     training.RecordStatus(r.Status),
		Files:      r.Files,
		Dirs:       r.Dirs,
		Data:       json.RawMessage(r.Data),
		CreatedUTC: r.CreatedUTC,
	}
}

// AuditResult is the audit_result table: one row per rule outcome.
type AuditResult struct {
	ID         int64          `gorm:"primaryKey"`
	FID        int64          `gorm:"column:fid;index"`
	QID        int64          `gorm:"column:qid;index"`
	Mold       int64          `gorm:"index"`
	Rule       string         `gorm:"type:varchar(255)"`
	Passed     bool
	Detail     datatypes.JSON `gorm:"type:jsonb"`
	CreatedUTC int64
}

func (AuditResult) TableName() string { return "audit_result" }

// SpecialAnswer is the special_answer table: derived answers keyed by
// question and kind (customer workshop output, diff cache).
type SpecialAnswer struct {
	ID         int64          `gorm:"primaryKey"`
	QID        int64          `gorm:"column:qid;uniqueIndex:uq_special_answer"`
	AnswerType string         `gorm:"type:varchar(64);uniqueIndex:uq_special_answer"`
	Data       datatypes.JSON `gorm:"type:jsonb"`
	UpdatedUTC int64
}

func (SpecialAnswer) TableName() string { return "special_answer" }

func marshalAnswer(a *answer.Answer) (datatypes.JSON, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	return b, nil
}

func unmarshalAnswer(b datatypes.JSON) (*answer.Answer, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	return answer.Parse(b)
}

func marshalJSON(v map[string]any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}

func unmarshalJSON(b datatypes.JSON, v any) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
