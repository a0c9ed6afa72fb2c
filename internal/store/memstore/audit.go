package memstore

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/fyrsmithlabs/extractd/internal/audit"
)

type specialKey struct {
	qid  int64
	kind string
}

// Audits returns the audit result and special answer view.
func (s *Store) Audits() *AuditStore {
	return &AuditStore{s: s}
}

// AuditStore implements audit.Store and the post-pipeline special answer
// store.
type AuditStore struct {
	s *Store
}

func (a *AuditStore) ReplaceAuditResults(_ context.Context, fileID int64, rs []audit.Result) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	kept := slices.DeleteFunc(slices.Clone(a.s.audits), func(r audit.Result) bool { return r.FileID == fileID })
	for _, r := range rs {
		r.ID = a.s.nextID()
		r.FileID = fileID
		kept = append(kept, r)
	}
	a.s.audits = kept
	return nil
}

func (a *AuditStore) ListAuditResults(_ context.Context, fileID int64) ([]audit.Result, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []audit.Result
	for _, r := range a.s.audits {
		if r.FileID == fileID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *AuditStore) SaveSpecialAnswer(_ context.Context, qid int64, kind string, data json.RawMessage) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.special[specialKey{qid, kind}] = slices.Clone(data)
	return nil
}

func (a *AuditStore) GetSpecialAnswer(_ context.Context, qid int64, kind string) (json.RawMessage, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return slices.Clone(a.s.special[specialKey{qid, kind}]), nil
}
