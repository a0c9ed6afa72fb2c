package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
)

var (
	// ErrInvalidConfig is returned for an unusable index configuration.
	ErrInvalidConfig = errors.New("vectorindex: invalid configuration")
	// ErrCollectionNotFound is returned when searching a missing collection.
	ErrCollectionNotFound = errors.New("vectorindex: collection not found")
	// ErrDimensionMismatch is returned when a vector does not fit its collection.
	ErrDimensionMismatch = errors.New("vectorindex: vector dimension mismatch")
)

// Point is a stored vector. Payload values are matched exactly by filters.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Hit is a search result, best first.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Filter requires every key to equal its value.
type Filter map[string]string

// Store is a vector database.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, k int, filter Filter) ([]Hit, error)
	Delete(ctx context.Context, collection string, filter Filter) error
	Close() error
}

var collectionName = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName accepts lower-case names of letters, digits and
// underscores.
func ValidateCollectionName(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("%w: collection name %q", ErrInvalidConfig, name)
	}
	return nil
}

// NewStore opens the store named by cfg.Provider.
func NewStore(cfg config.VectorIndexConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "qdrant":
		return NewQdrant(QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey.Value(),
			UseTLS: cfg.QdrantTLS,
		}, logger)
	case "chromem":
		return NewChromem(cfg.ChromemPath, cfg.ChromemCompress, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
