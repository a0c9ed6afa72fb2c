package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/extractd/internal/config"
)

var (
	// ErrEmptyInput is returned when nothing is given to embed.
	ErrEmptyInput = errors.New("embeddings: empty input")
	// ErrInvalidConfig is returned for an unusable provider configuration.
	ErrInvalidConfig = errors.New("embeddings: invalid configuration")
	// ErrEmbeddingFailed wraps provider failures.
	ErrEmbeddingFailed = errors.New("embeddings: generation failed")
)

// Provider produces vectors for texts.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension is the vector size, 0 when unknown until the first call.
	Dimension() int
	Close() error
}

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
