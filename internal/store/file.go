package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fyrsmithlabs/extractd/internal/file"
)

// FileRepo implements file.Store.
type FileRepo struct {
	db *gorm.DB
}

// NewFileRepo creates the file repository.
func NewFileRepo(db *gorm.DB) *FileRepo {
	return &FileRepo{db: db}
}

func (r *FileRepo) GetFile(ctx context.Context, id int64) (*file.File, error) {
	return r.getFile(r.db.WithContext(ctx), id)
}

func (r *FileRepo) LockFile(ctx context.Context, id int64) (*file.File, error) {
	return r.getFile(r.db.WithContext(ctx).Clauses(forUpdate), id)
}

func (r *FileRepo) getFile(db *gorm.DB, id int64) (*file.File, error) {
	var row File
	err := db.Where("id = ? AND deleted_utc = 0", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", file.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.domain()
}

func (r *FileRepo) SaveFile(ctx context.Context, f *file.File) error {
	row, err := fileRow(f)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&File{}).Where("id = ?", f.ID).Select("*").Omit("id").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", file.ErrNotFound, f.ID)
	}
	return nil
}

func (r *FileRepo) CreateFile(ctx context.Context, f *file.File) error {
	row, err := fileRow(f)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	f.ID = row.ID
	return nil
}

func (r *FileRepo) ListByHash(ctx context.Context, hash string) ([]*file.File, error) {
	return r.list(r.db.WithContext(ctx).Where("hash = ? AND deleted_utc = 0", hash))
}

func (r *FileRepo) ListByMold(ctx context.Context, moldID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&File{}).
		Where("molds @> ? AND deleted_utc = 0", fmt.Sprintf("[%d]", moldID)).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *FileRepo) ListByStatus(ctx context.Context, updatedBefore int64, statuses ...file.ParseStatus) ([]*file.File, error) {
	ints := make([]int, len(statuses))
	for i, s := range statuses {
		ints[i] = int(s)
	}
	return r.list(r.db.WithContext(ctx).Where("deleted_utc = 0 AND pdf_parse_status IN ? AND updated_utc < ?", ints, updatedBefore))
}

// FindByStudioUpload returns the live file registered with the LLM
// studio under uploadID, or nil.
func (r *FileRepo) FindByStudioUpload(ctx context.Context, uploadID string) (*file.File, error) {
	files, err := r.list(r.db.WithContext(ctx).Where("studio_upload_id = ? AND deleted_utc = 0", uploadID).Limit(1))
	if err != nil || len(files) == 0 {
		return nil, err
	}
	return files[0], nil
}

func (r *FileRepo) list(db *gorm.DB) ([]*file.File, error) {
	var rows []File
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*file.File, 0, len(rows))
	for i := range rows {
		f, err := rows[i].domain()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
