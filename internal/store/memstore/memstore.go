// Package memstore is an in-memory implementation of the domain store
// interfaces. It backs unit tests and the dry-run mode of the admin CLI.
//
// Transactions are serialised by a single mutex and roll back by
// restoring a snapshot of every table when the callback fails. Rows are
// never mutated in place, so shallow table copies make valid snapshots.
package memstore

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/fyrsmithlabs/extractd/internal/audit"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

type (
	moldRow     = mold.Mold
	fileRow     = file.File
	versionRow  = training.Version
	accuracyRow = training.AccuracyRecord
)

// Store holds every table in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	seq  int64

	questions map[int64]*questionRow
	answers   map[int64]*answerRow
	adminOps  []adminOpRow
	users     map[int64]string

	molds          map[int64]*moldRow
	treeDefaults   map[int64][]int64
	extractMethods []mold.ExtractMethod
	ruleClasses    []mold.RuleClass
	ruleItems      []mold.RuleItem

	files    map[int64]*fileRow
	versions map[int64]*versionRow
	records  map[int64]*accuracyRow

	audits  []audit.Result
	special map[specialKey]json.RawMessage
}

// New returns an empty store.
func New() *Store {
	return &Store{
		questions:    map[int64]*questionRow{},
		answers:      map[int64]*answerRow{},
		users:        map[int64]string{},
		molds:        map[int64]*moldRow{},
		treeDefaults: map[int64][]int64{},
		files:        map[int64]*fileRow{},
		versions:     map[int64]*versionRow{},
		records:      map[int64]*accuracyRow{},
		special:      map[specialKey]json.RawMessage{},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

type snapshot struct {
	seq            int64
	questions      map[int64]*questionRow
	answers        map[int64]*answerRow
	adminOps       []adminOpRow
	molds          map[int64]*moldRow
	treeDefaults   map[int64][]int64
	extractMethods []mold.ExtractMethod
	ruleClasses    []mold.RuleClass
	ruleItems      []mold.RuleItem
	files          map[int64]*fileRow
	versions       map[int64]*versionRow
	records        map[int64]*accuracyRow
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		seq:            s.seq,
		questions:      maps.Clone(s.questions),
		answers:        maps.Clone(s.answers),
		adminOps:       slices.Clone(s.adminOps),
		molds:          maps.Clone(s.molds),
		treeDefaults:   maps.Clone(s.treeDefaults),
		extractMethods: slices.Clone(s.extractMethods),
		ruleClasses:    slices.Clone(s.ruleClasses),
		ruleItems:      slices.Clone(s.ruleItems),
		files:          maps.Clone(s.files),
		versions:       maps.Clone(s.versions),
		records:        maps.Clone(s.records),
	}
}

func (s *Store) restore(sn snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = sn.seq
	s.questions = sn.questions
	s.answers = sn.answers
	s.adminOps = sn.adminOps
	s.molds = sn.molds
	s.treeDefaults = sn.treeDefaults
	s.extractMethods = sn.extractMethods
	s.ruleClasses = sn.ruleClasses
	s.ruleItems = sn.ruleItems
	s.files = sn.files
	s.versions = sn.versions
	s.records = sn.records
}

// tx runs fn with every other transaction excluded.
func (s *Store) tx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	sn := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(sn)
		return err
	}
	return nil
}

// AddUser registers a user name for marker lookups.
func (s *Store) AddUser(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = name
}
