package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fyrsmithlabs/extractd/internal/audit"
)

// AuditRepo implements audit.Store.
type AuditRepo struct {
	db *gorm.DB
}

// NewAuditRepo creates the audit result repository.
func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) ReplaceAuditResults(ctx context.Context, fileID int64, rs []audit.Result) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("fid = ?", fileID).Delete(&AuditResult{}).Error; err != nil {
			return err
		}
		if len(rs) == 0 {
			return nil
		}
		rows := make([]AuditResult, len(rs))
		for i, res := range rs {
			rows[i] = AuditResult{
				FID:        fileID,
				QID:        res.QID,
				Mold:       res.MoldID,
				Rule:       res.Rule,
				Passed:     res.Passed,
				Detail:     datatypes.JSON(res.Detail),
				CreatedUTC: res.CreatedUTC,
			}
		}
		return tx.Create(&rows).Error
	})
}

func (r *AuditRepo) ListAuditResults(ctx context.Context, fileID int64) ([]audit.Result, error) {
	var rows []AuditResult
	if err := r.db.WithContext(ctx).Where("fid = ?", fileID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]audit.Result, len(rows))
	for i, row := range rows {
		out[i] = audit.Result{
			ID:         row.ID,
			FileID:     row.FID,
			QID:        row.QID,
			MoldID:     row.Mold,
			Rule:       row.Rule,
			Passed:     row.Passed,
			Detail:     json.RawMessage(row.Detail),
			CreatedUTC: row.CreatedUTC,
		}
	}
	return out, nil
}

// SpecialAnswerRepo stores derived answers keyed by question and kind.
type SpecialAnswerRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSpecialAnswerRepo creates the special answer repository.
func NewSpecialAnswerRepo(db *gorm.DB) *SpecialAnswerRepo {
	return &SpecialAnswerRepo{db: db, now: time.Now}
}

// SaveSpecialAnswer upserts the (qid, kind) row.
func (r *SpecialAnswerRepo) SaveSpecialAnswer(ctx context.Context, qid int64, kind string, data json.RawMessage) error {
	row := SpecialAnswer{QID: qid, AnswerType: kind, Data: datatypes.JSON(data), UpdatedUTC: r.now().Unix()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "qid"}, {Name: "answer_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_utc"}),
	}).Create(&row).Error
}

// GetSpecialAnswer returns nil when no row exists.
func (r *SpecialAnswerRepo) GetSpecialAnswer(ctx context.Context, qid int64, kind string) (json.RawMessage, error) {
	var row SpecialAnswer
	err := r.db.WithContext(ctx).Where("qid = ? AND answer_type = ?", qid, kind).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(row.Data), nil
}
