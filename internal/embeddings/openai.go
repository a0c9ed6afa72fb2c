package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/extractd/internal/config"
)

// OpenAIProvider calls an OpenAI compatible embeddings endpoint.
type OpenAIProvider struct {
	embedder  *embeddings.EmbedderImpl
	model     string
	dimension atomic.Int64
}

// NewOpenAIProvider creates a provider for cfg.BaseURL and cfg.Model.
func NewOpenAIProvider(cfg config.EmbeddingsConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	// langchaingo insists on a token even for keyless gateways.
	token := cfg.APIKey.Value()
	if token == "" {
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OpenAIProvider{embedder: embedder, model: cfg.Model}, nil
}

// EmbedDocuments embeds texts in one request.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) > 0 {
		p.dimension.Store(int64(len(vectors[0])))
	}
	return vectors, nil
}

// EmbedQuery embeds one text.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	v, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	p.dimension.Store(int64(len(v)))
	return v, nil
}

// Dimension is learned from the first response.
func (p *OpenAIProvider) Dimension() int { return int(p.dimension.Load()) }

// Close is a no-op.
func (p *OpenAIProvider) Close() error { return nil }
