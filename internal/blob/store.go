package blob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrNotFound is returned when no object exists under the key.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes objects by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// FileKey is the key of an uploaded file by content hash.
func FileKey(hash string) string { return "files/" + hash }

// InterdocKey is the key of the parsed document of a file hash.
func InterdocKey(hash string) string { return "interdoc/" + hash }

// ModelArchiveKey is the key of an exported model version archive.
func ModelArchiveKey(moldID, versionID int64) string {
	return fmt.Sprintf("models/%s/%s.zip", strconv.FormatInt(moldID, 10), strconv.FormatInt(versionID, 10))
}

// MemStore keeps objects in memory.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{objects: map[string][]byte{}}
}

func (m *MemStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}
