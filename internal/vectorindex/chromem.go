package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

var errNoEmbedder = errors.New("vectorindex: points must carry vectors")

// Chromem is an embedded store backed by chromem-go. An empty path keeps
// everything in memory.
type Chromem struct {
	db     *chromem.DB
	logger *zap.Logger

	mu   sync.RWMutex
	dims map[string]int
}

// NewChromem opens or creates the database under path.
func NewChromem(path string, compress bool, logger *zap.Logger) (*Chromem, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := chromem.NewDB()
	if path != "" {
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("expanding %s: %w", path, err)
			}
			path = filepath.Join(home, path[2:])
		}
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
		}
	}
	return &Chromem{db: db, logger: logger, dims: map[string]int{}}, nil
}

// vectors are always supplied, so the collection never embeds on its own.
func noEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }

// EnsureCollection creates the collection if needed.
func (c *Chromem) EnsureCollection(_ context.Context, name string, dim int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, err := c.db.GetOrCreateCollection(name, nil, noEmbed); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	c.mu.Lock()
	c.dims[name] = dim
	c.mu.Unlock()
	return nil
}

func (c *Chromem) checkDim(name string, v []float32) error {
	c.mu.RLock()
	dim := c.dims[name]
	c.mu.RUnlock()
	if dim > 0 && len(v) != dim {
		return fmt.Errorf("%w: %d, collection %s expects %d", ErrDimensionMismatch, len(v), name, dim)
	}
	return nil
}

// Upsert stores points, replacing those with the same id.
func (c *Chromem) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	col := c.db.GetCollection(name, noEmbed)
	if col == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		if err := c.checkDim(name, p.Vector); err != nil {
			return err
		}
		docs[i] = chromem.Document{ID: p.ID, Metadata: p.Payload, Embedding: p.Vector}
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding to %s: %w", name, err)
	}
	return nil
}

// Search returns the k points closest to vector by cosine similarity.
func (c *Chromem) Search(ctx context.Context, name string, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	col := c.db.GetCollection(name, noEmbed)
	if col == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := c.checkDim(name, vector); err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	res, err := col.QueryEmbedding(ctx, vector, min(k, n), filter, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}
	hits := make([]Hit, len(res))
	for i, r := range res {
		hits[i] = Hit{ID: r.ID, Score: r.Similarity, Payload: r.Metadata}
	}
	return hits, nil
}

// Delete removes the points matching filter. An empty filter is refused.
func (c *Chromem) Delete(ctx context.Context, name string, filter Filter) error {
	if len(filter) == 0 {
		return errors.New("vectorindex: delete needs a filter")
	}
	col := c.db.GetCollection(name, noEmbed)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, filter, nil); err != nil {
		return fmt.Errorf("deleting from %s: %w", name, err)
	}
	return nil
}

// Close is a no-op; persistent writes happen on every call.
func (c *Chromem) Close() error { return nil }
