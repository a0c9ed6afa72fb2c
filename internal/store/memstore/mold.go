package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/fyrsmithlabs/extractd/internal/mold"
)

// Molds returns the mold table view.
func (s *Store) Molds() *MoldStore {
	return &MoldStore{s: s}
}

// MoldStore implements mold.Store.
type MoldStore struct {
	s    *Store
	inTx bool
}

func (m *MoldStore) Tx(ctx context.Context, fn func(ctx context.Context, st mold.Store) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	return m.s.tx(ctx, func(ctx context.Context) error {
		return fn(ctx, &MoldStore{s: m.s, inTx: true})
	})
}

func (m *MoldStore) GetMold(_ context.Context, id int64) (*mold.Mold, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.molds[id]
	if !ok || row.DeletedUTC != 0 {
		return nil, fmt.Errorf("%w: %d", mold.ErrNotFound, id)
	}
	return row.Clone(), nil
}

func (m *MoldStore) FindMoldByName(_ context.Context, name string) (*mold.Mold, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, row := range m.s.molds {
		if row.Name == name && row.DeletedUTC == 0 {
			return row.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MoldStore) FindMoldByStudioApp(_ context.Context, appID string) (*mold.Mold, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var found *mold.Mold
	for _, row := range m.s.molds {
		if row.StudioAppID == appID && row.DeletedUTC == 0 && (found == nil || row.ID < found.ID) {
			found = row
		}
	}
	if found == nil {
		return nil, nil
	}
	return found.Clone(), nil
}

func (m *MoldStore) CreateMold(_ context.Context, in *mold.Mold) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	in.ID = m.s.nextID()
	m.s.molds[in.ID] = in.Clone()
	return nil
}

func (m *MoldStore) SaveMold(_ context.Context, in *mold.Mold) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.molds[in.ID]; !ok {
		return fmt.Errorf("%w: %d", mold.ErrNotFound, in.ID)
	}
	m.s.molds[in.ID] = in.Clone()
	return nil
}

func (m *MoldStore) DeleteMold(_ context.Context, id int64, deletedUTC int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	row, ok := m.s.molds[id]
	if !ok {
		return fmt.Errorf("%w: %d", mold.ErrNotFound, id)
	}
	c := row.Clone()
	c.DeletedUTC = deletedUTC
	m.s.molds[id] = c
	return nil
}

func (m *MoldStore) ListGroup(_ context.Context, ids ...int64) ([]*mold.Mold, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*mold.Mold
	for _, row := range m.s.molds {
		if row.DeletedUTC != 0 {
			continue
		}
		if slices.Contains(ids, row.ID) || (row.Master != 0 && slices.Contains(ids, row.Master)) {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MoldStore) MoldUsage(_ context.Context, id int64) (mold.Usage, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var u mold.Usage
	for _, q := range m.s.questions {
		if q.MoldID == id && q.DeletedUTC == 0 {
			u.Questions++
		}
	}
	for _, molds := range m.s.treeDefaults {
		if slices.Contains(molds, id) {
			u.FileTrees++
		}
	}
	for _, r := range m.s.ruleItems {
		if r.Mold == id {
			u.RuleItems++
		}
	}
	return u, nil
}

func (m *MoldStore) ListExtractMethods(_ context.Context, moldID int64) ([]mold.ExtractMethod, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return filter(m.s.extractMethods, func(e mold.ExtractMethod) bool { return e.Mold == moldID }), nil
}

func (m *MoldStore) ListRuleClasses(_ context.Context, moldID int64) ([]mold.RuleClass, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return filter(m.s.ruleClasses, func(c mold.RuleClass) bool { return c.Mold == moldID }), nil
}

func (m *MoldStore) ListRuleItems(_ context.Context, moldID int64) ([]mold.RuleItem, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return filter(m.s.ruleItems, func(r mold.RuleItem) bool { return r.Mold == moldID }), nil
}

func (m *MoldStore) ClearRules(_ context.Context, moldID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.extractMethods = filter(m.s.extractMethods, func(e mold.ExtractMethod) bool { return e.Mold != moldID })
	m.s.ruleClasses = filter(m.s.ruleClasses, func(c mold.RuleClass) bool { return c.Mold != moldID })
	m.s.ruleItems = filter(m.s.ruleItems, func(r mold.RuleItem) bool { return r.Mold != moldID })
	return nil
}

func (m *MoldStore) CreateExtractMethod(_ context.Context, e *mold.ExtractMethod) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e.ID = m.s.nextID()
	m.s.extractMethods = append(m.s.extractMethods, *e)
	return nil
}

func (m *MoldStore) CreateRuleClass(_ context.Context, c *mold.RuleClass) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c.ID = m.s.nextID()
	m.s.ruleClasses = append(m.s.ruleClasses, *c)
	return nil
}

func (m *MoldStore) CreateRuleItem(_ context.Context, r *mold.RuleItem) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r.ID = m.s.nextID()
	m.s.ruleItems = append(m.s.ruleItems, *r)
	return nil
}

// SetTreeDefaults records the default molds of a file tree.
func (s *Store) SetTreeDefaults(treeID int64, moldIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.treeDefaults[treeID] = slices.Clone(moldIDs)
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
