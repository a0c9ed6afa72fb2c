package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fyrsmithlabs/extractd/internal/mold"
)

// MoldRepo implements mold.Store.
type MoldRepo struct {
	db *gorm.DB
}

// NewMoldRepo creates the mold repository.
func NewMoldRepo(db *gorm.DB) *MoldRepo {
	return &MoldRepo{db: db}
}

func (r *MoldRepo) Tx(ctx context.Context, fn func(ctx context.Context, st mold.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &MoldRepo{db: tx})
	})
}

func (r *MoldRepo) GetMold(ctx context.Context, id int64) (*mold.Mold, error) {
	var row Mold
	err := r.db.WithContext(ctx).Where("id = ? AND deleted_utc = 0", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", mold.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.domain()
}

func (r *MoldRepo) FindMoldByName(ctx context.Context, name string) (*mold.Mold, error) {
	var rows []Mold
	if err := r.db.WithContext(ctx).Where("name = ? AND deleted_utc = 0", name).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].domain()
}

// FindMoldByStudioApp returns the live mold bound to a studio app, or nil.
func (r *MoldRepo) FindMoldByStudioApp(ctx context.Context, appID string) (*mold.Mold, error) {
	var rows []Mold
	if err := r.db.WithContext(ctx).Where("studio_app_id = ? AND deleted_utc = 0", appID).Order("id").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].domain()
}

func (r *MoldRepo) CreateMold(ctx context.Context, m *mold.Mold) error {
	row, err := moldRow(m)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	m.ID = row.ID
	return nil
}

func (r *MoldRepo) SaveMold(ctx context.Context, m *mold.Mold) error {
	row, err := moldRow(m)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&Mold{}).Where("id = ?", m.ID).Select("*").Omit("id").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", mold.ErrNotFound, m.ID)
	}
	return nil
}

func (r *MoldRepo) DeleteMold(ctx context.Context, id int64, deletedUTC int64) error {
	res := r.db.WithContext(ctx).Model(&Mold{}).Where("id = ?", id).Update("deleted_utc", deletedUTC)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", mold.ErrNotFound, id)
	}
	return nil
}

func (r *MoldRepo) ListGroup(ctx context.Context, ids ...int64) ([]*mold.Mold, error) {
	var rows []Mold
	err := r.db.WithContext(ctx).
		Where("deleted_utc = 0 AND (id IN ? OR master IN ?)", ids, ids).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*mold.Mold, 0, len(rows))
	for i := range rows {
		m, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *MoldRepo) MoldUsage(ctx context.Context, id int64) (mold.Usage, error) {
	var u mold.Usage
	var n int64
	db := r.db.WithContext(ctx)
	if err := db.Model(&Question{}).Where("mold = ? AND deleted_utc = 0", id).Count(&n).Error; err != nil {
		return u, err
	}
	u.Questions = int(n)
	if err := db.Model(&FileTree{}).Where("default_molds @> ? AND deleted_utc = 0", fmt.Sprintf("[%d]", id)).Count(&n).Error; err != nil {
		return u, err
	}
	u.FileTrees = int(n)
	if err := db.Model(&RuleItem{}).Where("mold = ?", id).Count(&n).Error; err != nil {
		return u, err
	}
	u.RuleItems = int(n)
	return u, nil
}

func (r *MoldRepo) ListExtractMethods(ctx context.Context, moldID int64) ([]mold.ExtractMethod, error) {
	var rows []ExtractMethod
	if err := r.db.WithContext(ctx).Where("mold = ?", moldID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]mold.ExtractMethod, len(rows))
	for i, row := range rows {
		out[i] = mold.ExtractMethod{ID: row.ID, Mold: row.Mold, Path: row.Path, Method: row.Method, Data: []byte(row.Data)}
	}
	return out, nil
}

func (r *MoldRepo) ListRuleClasses(ctx context.Context, moldID int64) ([]mold.RuleClass, error) {
	var rows []RuleClass
	if err := r.db.WithContext(ctx).Where("mold = ?", moldID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]mold.RuleClass, len(rows))
	for i, row := range rows {
		out[i] = mold.RuleClass{ID: row.ID, Mold: row.Mold, Name: row.Name, MethodType: row.MethodType}
	}
	return out, nil
}

func (r *MoldRepo) ListRuleItems(ctx context.Context, moldID int64) ([]mold.RuleItem, error) {
	var rows []RuleItem
	if err := r.db.WithContext(ctx).Where("mold = ?", moldID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]mold.RuleItem, len(rows))
	for i, row := range rows {
		out[i] = mold.RuleItem{ID: row.ID, Mold: row.Mold, ClassID: row.ClassID, Name: row.Name, Data: []byte(row.Data)}
	}
	return out, nil
}

func (r *MoldRepo) ClearRules(ctx context.Context, moldID int64) error {
	db := r.db.WithContext(ctx)
	for _, model := range []any{&ExtractMethod{}, &RuleItem{}, &RuleClass{}} {
		if err := db.Where("mold = ?", moldID).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *MoldRepo) CreateExtractMethod(ctx context.Context, m *mold.ExtractMethod) error {
	row := &ExtractMethod{Mold: m.Mold, Path: m.Path, Method: m.Method, Data: datatypes.JSON(m.Data)}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	m.ID = row.ID
	return nil
}

func (r *MoldRepo) CreateRuleClass(ctx context.Context, c *mold.RuleClass) error {
	row := &RuleClass{Mold: c.Mold, Name: c.Name, MethodType: c.MethodType}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	c.ID = row.ID
	return nil
}

func (r *MoldRepo) CreateRuleItem(ctx context.Context, it *mold.RuleItem) error {
	row := &RuleItem{Mold: it.Mold, ClassID: it.ClassID, Name: it.Name, Data: datatypes.JSON(it.Data)}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	it.ID = row.ID
	return nil
}

// forUpdate is the row lock clause of Lock* reads.
var forUpdate = clause.Locking{Strength: "UPDATE"}
