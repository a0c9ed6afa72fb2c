package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// Versions returns the model version table view.
func (s *Store) Versions() *VersionStore {
	return &VersionStore{s: s}
}

// VersionStore implements training.Store.
type VersionStore struct {
	s    *Store
	inTx bool
}

func (v *VersionStore) Tx(ctx context.Context, fn func(ctx context.Context, st training.Store) error) error {
	if v.inTx {
		return fn(ctx, v)
	}
	return v.s.tx(ctx, func(ctx context.Context) error {
		return fn(ctx, &VersionStore{s: v.s, inTx: true})
	})
}

func (v *VersionStore) GetVersion(_ context.Context, id int64) (*training.Version, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	row, ok := v.s.versions[id]
	if !ok || row.DeletedUTC != 0 {
		return nil, fmt.Errorf("%w: %d", training.ErrNotFound, id)
	}
	return copyVersion(row), nil
}

func (v *VersionStore) LockVersion(ctx context.Context, id int64) (*training.Version, error) {
	return v.GetVersion(ctx, id)
}

func (v *VersionStore) FindVersionByName(_ context.Context, moldID int64, name string) (*training.Version, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, row := range v.s.versions {
		if row.MoldID == moldID && row.Name == name && row.DeletedUTC == 0 {
			return copyVersion(row), nil
		}
	}
	return nil, nil
}

func (v *VersionStore) CreateVersion(_ context.Context, in *training.Version) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	in.ID = v.s.nextID()
	v.s.versions[in.ID] = copyVersion(in)
	return nil
}

func (v *VersionStore) SaveVersion(_ context.Context, in *training.Version) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.versions[in.ID]; !ok {
		return fmt.Errorf("%w: %d", training.ErrNotFound, in.ID)
	}
	v.s.versions[in.ID] = copyVersion(in)
	return nil
}

func (v *VersionStore) ListVersions(_ context.Context, moldID int64) ([]*training.Version, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []*training.Version
	for _, row := range v.s.versions {
		if row.MoldID == moldID && row.DeletedUTC == 0 {
			out = append(out, copyVersion(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *VersionStore) EnabledVersion(_ context.Context, moldID int64) (*training.Version, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, row := range v.s.versions {
		if row.MoldID == moldID && row.Enable && row.DeletedUTC == 0 {
			return copyVersion(row), nil
		}
	}
	return nil, nil
}

func (v *VersionStore) DisableVersions(_ context.Context, moldID int64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for id, row := range v.s.versions {
		if row.MoldID == moldID && row.Enable {
			c := copyVersion(row)
			c.Enable = false
			v.s.versions[id] = c
		}
	}
	return nil
}

func (v *VersionStore) CreateAccuracyRecord(_ context.Context, r *training.AccuracyRecord) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	r.ID = v.s.nextID()
	c := *r
	v.s.records[r.ID] = &c
	return nil
}

func (v *VersionStore) SaveAccuracyRecord(_ context.Context, r *training.AccuracyRecord) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.records[r.ID]; !ok {
		return fmt.Errorf("accuracy record %d not found", r.ID)
	}
	c := *r
	v.s.records[r.ID] = &c
	return nil
}

func (v *VersionStore) LatestAccuracyRecord(_ context.Context, vid int64, kind training.RecordKind) (*training.AccuracyRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out *training.AccuracyRecord
	for _, row := range v.s.records {
		if row.VID == vid && row.Kind == kind && (out == nil || row.ID > out.ID) {
			c := *row
			out = &c
		}
	}
	return out, nil
}

func (v *VersionStore) LabeledSamples(_ context.Context, moldID int64, scope training.Scope) ([]training.SampleRef, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []training.SampleRef
	for _, q := range v.s.questions {
		if q.MoldID != moldID || q.DeletedUTC != 0 || !slices.Contains(question.TrainingStatuses, q.Status) {
			continue
		}
		f, ok := v.s.files[q.FileID]
		if !ok || f.DeletedUTC != 0 || f.Interdoc == "" {
			continue
		}
		if len(scope.Files) > 0 && !slices.Contains(scope.Files, f.ID) {
			continue
		}
		if len(scope.Trees) > 0 && !slices.Contains(scope.Trees, f.TreeID) {
			continue
		}
		a := q.ConfirmedAnswer
		if a == nil {
			a = q.Answer
		}
		if a == nil {
			continue
		}
		out = append(out, training.SampleRef{FileID: f.ID, Interdoc: f.Interdoc, Answer: a.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

// AccuracyRecords returns every record of a version, oldest first.
func (s *Store) AccuracyRecords(vid int64) []training.AccuracyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []training.AccuracyRecord
	for _, row := range s.records {
		if row.VID == vid {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyVersion(v *training.Version) *training.Version {
	c := *v
	c.Predictors = slices.Clone(v.Predictors)
	c.Files = slices.Clone(v.Files)
	c.Dirs = slices.Clone(v.Dirs)
	return &c
}
