package prompter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/prompter"

// Recaller proposes extra candidates from an element index, for instance
// by vector similarity. Its candidates are merged into the ranking.
type Recaller interface {
	Recall(ctx context.Context, moldID int64, paths []string, r *interdoc.Reader, limit int) (CrudeAnswer, error)
}

// Service trains and runs the coarse locator of model versions.
type Service struct {
	training config.TrainingConfig
	params   TrainParams
	recall   Recaller
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRecaller widens candidate recall.
func WithRecaller(r Recaller) Option {
	return func(s *Service) { s.recall = r }
}

// WithTrainParams overrides the fit parameters.
func WithTrainParams(p TrainParams) Option {
	return func(s *Service) { s.params = p }
}

// NewService creates the locator service.
func NewService(training config.TrainingConfig, opts ...Option) *Service {
	s := &Service{
		training: training,
		params:   DefaultTrainParams(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Dir returns the model directory of a version.
func (s *Service) Dir(moldID, vid int64) string {
	return ModelDir(s.training.CacheDir, moldID, vid)
}

// Ready reports whether a version has locator model files.
func (s *Service) Ready(moldID, vid int64) bool {
	return HasModel(s.Dir(moldID, vid))
}

// Train fits and saves the locator of a version.
func (s *Service) Train(ctx context.Context, moldID, vid int64, samples []Sample) (*Model, error) {
	_, span := s.tracer.Start(ctx, "prompter.train", trace.WithAttributes(
		attribute.Int64("mold.id", moldID),
		attribute.Int64("model_version.id", vid),
		attribute.Int("samples", len(samples)),
	))
	defer span.End()

	m, err := Train(samples, s.params)
	if err != nil {
		return nil, fail(span, err)
	}
	dir := s.Dir(moldID, vid)
	if err := m.Save(dir); err != nil {
		return nil, fail(span, err)
	}
	s.logger.Info("locator trained",
		zap.Int64("mold_id", moldID),
		zap.Int64("vid", vid),
		zap.Int("paths", len(m.Classifiers)),
		zap.Int("features", len(m.Vocabulary.DF)),
		zap.String("dir", dir),
	)
	return m, nil
}

// Locate ranks the elements of r for every trained path of the version.
// A nil reader yields an empty mapping; a version without model files
// yields ErrModelMissing.
func (s *Service) Locate(ctx context.Context, moldID, vid int64, r *interdoc.Reader) (CrudeAnswer, error) {
	ctx, span := s.tracer.Start(ctx, "prompter.locate", trace.WithAttributes(
		attribute.Int64("mold.id", moldID),
		attribute.Int64("model_version.id", vid),
	))
	defer span.End()

	if r == nil {
		s.logger.Warn("interdoc missing, returning empty crude answer", zap.Int64("mold_id", moldID))
		return CrudeAnswer{}, nil
	}
	m, err := LoadModel(s.Dir(moldID, vid))
	if err != nil {
		return nil, fail(span, err)
	}
	topN := s.training.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	crude := m.Locate(r, topN)
	if s.recall != nil {
		extra, err := s.recall.Recall(ctx, moldID, m.Paths(), r, topN)
		if err != nil {
			s.logger.Warn("candidate recall failed", zap.Int64("mold_id", moldID), zap.Error(err))
		} else {
			crude.Merge(extra, topN)
		}
	}
	span.SetAttributes(attribute.Int("paths", len(crude)))
	return crude, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("prompter: %w", err)
}
