package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

// Content is an embeddable element of a document.
type Content struct {
	Index int
	Page  int
	Class interdoc.Class
	Text  string
}

// Embedding is a content with its vector.
type Embedding struct {
	Content
	Vector []float32
}

// Service embeds document contents through a Provider in token-bounded
// batches.
type Service struct {
	provider  Provider
	name      string
	tokenizer Tokenizer
	maxTokens int
	metrics   *Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTokenizer replaces the tiktoken counter.
func WithTokenizer(t Tokenizer) Option {
	return func(s *Service) { s.tokenizer = t }
}

// WithMetrics sets the instruments.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wraps provider with the batching rules of cfg.
func NewService(provider Provider, cfg config.EmbeddingsConfig, opts ...Option) *Service {
	s := &Service{
		provider:  provider,
		name:      cfg.Provider,
		maxTokens: cfg.MaxBatchTokens,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
	}
	if s.maxTokens <= 0 {
		s.maxTokens = DefaultMaxBatchTokens
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tokenizer == nil {
		s.tokenizer = NewTikToken(cfg.TokenizerEncoding, cfg.CacheDir)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(s.logger)
	}
	return s
}

// Dimension returns the provider's vector size.
func (s *Service) Dimension() int { return s.provider.Dimension() }

// Close releases the provider.
func (s *Service) Close() error { return s.provider.Close() }

// Contents lists the paragraphs, captions and tables of r in index order.
// Fragments of merged paragraphs and blank elements are skipped.
func Contents(r *interdoc.Reader) []Content {
	if r == nil {
		return nil
	}
	var out []Content
	for _, e := range r.Elements(interdoc.ClassParagraph, interdoc.ClassCaption, interdoc.ClassTable) {
		if r.IsFragment(e.Index) {
			continue
		}
		text := strings.TrimSpace(e.PlainText())
		if text == "" {
			continue
		}
		out = append(out, Content{Index: e.Index, Page: e.Page, Class: e.Class, Text: text})
	}
	return out
}

// Embed returns one vector per text, in order.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	ctx, span := s.tracer.Start(ctx, "embeddings.embed", trace.WithAttributes(
		attribute.String("provider", s.name),
		attribute.Int("texts", len(texts)),
	))
	defer span.End()

	groups := SplitByTokens(s.tokenizer, texts, s.maxTokens)
	out := make([][]float32, 0, len(texts))
	for _, group := range groups {
		tokens := 0
		for _, t := range group {
			tokens += s.tokenizer.Count(t)
		}
		start := time.Now()
		vectors, err := s.provider.EmbedDocuments(ctx, group)
		if err == nil && len(vectors) != len(group) {
			err = fmt.Errorf("%w: %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(group))
		}
		s.metrics.RecordRequest(ctx, s.name, time.Since(start), len(group), tokens, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, vectors...)
	}
	span.SetAttributes(attribute.Int("batches", len(groups)))
	s.logger.Debug("texts embedded", zap.Int("texts", len(texts)), zap.Int("batches", len(groups)))
	return out, nil
}

// EmbedReader embeds every content of r.
func (s *Service) EmbedReader(ctx context.Context, r *interdoc.Reader) ([]Embedding, error) {
	contents := Contents(r)
	if len(contents) == 0 {
		return nil, nil
	}
	texts := make([]string, len(contents))
	for i, c := range contents {
		texts[i] = c.Text
	}
	vectors, err := s.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]Embedding, len(contents))
	for i, c := range contents {
		out[i] = Embedding{Content: c, Vector: vectors[i]}
	}
	return out, nil
}

// EmbedQuery embeds a search text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := s.provider.EmbedQuery(ctx, text)
	s.metrics.RecordRequest(ctx, s.name, time.Since(start), 1, s.tokenizer.Count(text), err)
	return v, err
}
