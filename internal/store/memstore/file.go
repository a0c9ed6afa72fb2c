package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/fyrsmithlabs/extractd/internal/file"
)

// Files returns the file table view.
func (s *Store) Files() *FileStore {
	return &FileStore{s: s}
}

// FileStore implements file.Store.
type FileStore struct {
	s *Store
}

func (f *FileStore) GetFile(_ context.Context, id int64) (*file.File, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	row, ok := f.s.files[id]
	if !ok || row.DeletedUTC != 0 {
		return nil, fmt.Errorf("%w: %d", file.ErrNotFound, id)
	}
	return copyFile(row), nil
}

func (f *FileStore) LockFile(ctx context.Context, id int64) (*file.File, error) {
	return f.GetFile(ctx, id)
}

func (f *FileStore) SaveFile(_ context.Context, in *file.File) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.files[in.ID]; !ok {
		return fmt.Errorf("%w: %d", file.ErrNotFound, in.ID)
	}
	f.s.files[in.ID] = copyFile(in)
	return nil
}

func (f *FileStore) CreateFile(_ context.Context, in *file.File) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	in.ID = f.s.nextID()
	f.s.files[in.ID] = copyFile(in)
	return nil
}

func (f *FileStore) ListByHash(_ context.Context, hash string) ([]*file.File, error) {
	return f.list(func(row *fileRow) bool { return row.Hash == hash }), nil
}

func (f *FileStore) ListByMold(_ context.Context, moldID int64) ([]int64, error) {
	var ids []int64
	for _, row := range f.list(func(row *fileRow) bool { return row.HasMold(moldID) }) {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (f *FileStore) ListByStatus(_ context.Context, updatedBefore int64, statuses ...file.ParseStatus) ([]*file.File, error) {
	return f.list(func(row *fileRow) bool {
		return row.UpdatedUTC < updatedBefore && slices.Contains(statuses, row.ParseStatus)
	}), nil
}

func (f *FileStore) FindByStudioUpload(_ context.Context, uploadID string) (*file.File, error) {
	files := f.list(func(row *fileRow) bool { return row.StudioUploadID == uploadID })
	if len(files) == 0 {
		return nil, nil
	}
	return files[0], nil
}

func (f *FileStore) list(keep func(*fileRow) bool) []*file.File {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*file.File
	for _, row := range f.s.files {
		if row.DeletedUTC == 0 && keep(row) {
			out = append(out, copyFile(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyFile(f *file.File) *file.File {
	c := *f
	c.Molds = slices.Clone(f.Molds)
	return &c
}
