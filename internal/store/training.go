package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// VersionRepo implements training.Store.
type VersionRepo struct {
	db *gorm.DB
}

// NewVersionRepo creates the model version repository.
func NewVersionRepo(db *gorm.DB) *VersionRepo {
	return &VersionRepo{db: db}
}

func (r *VersionRepo) Tx(ctx context.Context, fn func(ctx context.Context, st training.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &VersionRepo{db: tx})
	})
}

func (r *VersionRepo) GetVersion(ctx context.Context, id int64) (*training.Version, error) {
	return r.getVersion(r.db.WithContext(ctx), id)
}

func (r *VersionRepo) LockVersion(ctx context.Context, id int64) (*training.Version, error) {
	return r.getVersion(r.db.WithContext(ctx).Clauses(forUpdate), id)
}

func (r *VersionRepo) getVersion(db *gorm.DB, id int64) (*training.Version, error) {
	var row ModelVersion
	err := db.Where("id = ? AND deleted_utc = 0", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", training.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.domain()
}

func (r *VersionRepo) FindVersionByName(ctx context.Context, moldID int64, name string) (*training.Version, error) {
	return r.first(r.db.WithContext(ctx).Where("mold = ? AND name = ? AND deleted_utc = 0", moldID, name))
}

func (r *VersionRepo) EnabledVersion(ctx context.Context, moldID int64) (*training.Version, error) {
	return r.first(r.db.WithContext(ctx).Where("mold = ? AND enable = 1 AND deleted_utc = 0", moldID))
}

func (r *VersionRepo) first(db *gorm.DB) (*training.Version, error) {
	var rows []ModelVersion
	if err := db.Order("id").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].domain()
}

func (r *VersionRepo) CreateVersion(ctx context.Context, v *training.Version) error {
	row, err := versionRow(v)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	v.ID = row.ID
	return nil
}

func (r *VersionRepo) SaveVersion(ctx context.Context, v *training.Version) error {
	row, err := versionRow(v)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&ModelVersion{}).Where("id = ?", v.ID).Select("*").Omit("id").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", training.ErrNotFound, v.ID)
	}
	return nil
}

func (r *VersionRepo) ListVersions(ctx context.Context, moldID int64) ([]*training.Version, error) {
	var rows []ModelVersion
	if err := r.db.WithContext(ctx).Where("mold = ? AND deleted_utc = 0", moldID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*training.Version, 0, len(rows))
	for i := range rows {
		v, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r *VersionRepo) DisableVersions(ctx context.Context, moldID int64) error {
	return r.db.WithContext(ctx).Model(&ModelVersion{}).Where("mold = ? AND enable = 1", moldID).Update("enable", 0).Error
}

func (r *VersionRepo) CreateAccuracyRecord(ctx context.Context, rec *training.AccuracyRecord) error {
	row := recordRow(rec)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	rec.ID = row.ID
	return nil
}

func (r *VersionRepo) SaveAccuracyRecord(ctx context.Context, rec *training.AccuracyRecord) error {
	return r.db.WithContext(ctx).Model(&AccuracyRecord{}).Where("id = ?", rec.ID).Select("*").Omit("id").Updates(recordRow(rec)).Error
}

func (r *VersionRepo) LatestAccuracyRecord(ctx context.Context, vid int64, kind training.RecordKind) (*training.AccuracyRecord, error) {
	var rows []AccuracyRecord
	if err := r.db.WithContext(ctx).Where("vid = ? AND test = ?", vid, int(kind)).Order("id DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].domain(), nil
}

// sampleRow is the join of a trainable question with its file.
type sampleRow struct {
	FID             int64  `gorm:"column:fid"`
	PDFInsight      string `gorm:"column:pdfinsight"`
	Answer          []byte `gorm:"column:answer"`
	ConfirmedAnswer []byte `gorm:"column:confirmed_answer"`
}

func (r *VersionRepo) LabeledSamples(ctx context.Context, moldID int64, scope training.Scope) ([]training.SampleRef, error) {
	statuses := make([]int, len(question.TrainingStatuses))
	for i, s := range question.TrainingStatuses {
		statuses[i] = int(s)
	}
	db := r.db.WithContext(ctx).
		Table("question").
		Select("question.fid, file.pdfinsight, question.answer, question.confirmed_answer").
		Joins("JOIN file ON file.id = question.fid").
		Where("question.mold = ? AND question.deleted_utc = 0 AND file.deleted_utc = 0", moldID).
		Where("file.pdfinsight IS NOT NULL AND file.pdfinsight <> ''").
		Where("question.status IN ?", statuses)
	if len(scope.Files) > 0 {
		db = db.Where("file.id IN ?", scope.Files)
	}
	if len(scope.Trees) > 0 {
		db = db.Where("file.tree_id IN ?", scope.Trees)
	}
	var rows []sampleRow
	if err := db.Order("question.fid").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]training.SampleRef, 0, len(rows))
	for _, row := range rows {
		raw := row.ConfirmedAnswer
		if len(raw) == 0 || string(raw) == "null" {
			raw = row.Answer
		}
		a, err := unmarshalAnswer(raw)
		if err != nil {
			return nil, fmt.Errorf("answer of file %d: %w", row.FID, err)
		}
		if a == nil {
			continue
		}
		out = append(out, training.SampleRef{FileID: row.FID, Interdoc: row.PDFInsight, Answer: a})
	}
	return out, nil
}
