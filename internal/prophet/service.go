package prophet

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/prophet"

// Target names the mold, and optionally the model version, a prediction
// or a training run works with.
type Target struct {
	MoldID     int64
	MoldName   string
	VersionID  int64
	Data       *schema.Data
	Checksum   string
	Predictors json.RawMessage
}

// Service resolves configs, trains and predicts.
type Service struct {
	training       config.TrainingConfig
	allowDifferent bool
	registry       *Registry
	logger         *zap.Logger
	tracer         trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRegistry sets the deployment registry used by config_in_code.
func WithRegistry(r *Registry) Option {
	return func(s *Service) { s.registry = r }
}

// NewService creates the precise extractor.
func NewService(training config.TrainingConfig, feature config.FeatureConfig, opts ...Option) *Service {
	s := &Service{
		training:       training,
		allowDifferent: feature.AllowDifferentModels,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Validator checks raw configs the way Config does.
func (s *Service) Validator() func(d *schema.Data, raw json.RawMessage) error {
	return Validator(s.allowDifferent)
}

// Config parses the target's predictors, merges the registered config of
// the mold, validates the result and folds member configs into groups.
func (s *Service) Config(t Target) (*Config, error) {
	custom, err := Parse(t.Predictors)
	if err != nil {
		return nil, err
	}
	code, _ := s.registry.Lookup(t.MoldName)
	cfg, err := Resolve(custom, code).Clone()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg, t.Data, s.allowDifferent); err != nil {
		return nil, err
	}
	if err := Integrate(cfg); err != nil {
		return nil, err
	}
	ReviseAuto(cfg)
	return cfg, nil
}

// Predict runs the target's config over one document. A nil reader yields
// an empty answer.
func (s *Service) Predict(ctx context.Context, t Target, r *interdoc.Reader, crude prompter.CrudeAnswer) (*answer.Answer, error) {
	_, span := s.tracer.Start(ctx, "prophet.predict", trace.WithAttributes(
		attribute.Int64("mold.id", t.MoldID),
		attribute.Int64("model_version.id", t.VersionID),
	))
	defer span.End()

	if r == nil {
		s.logger.Warn("interdoc missing, returning empty answer", zap.Int64("mold_id", t.MoldID))
		return answer.New(t.Data, t.Checksum), nil
	}
	cfg, err := s.Config(t)
	if err != nil {
		return nil, fail(span, err)
	}
	md, err := LoadModel(ModelDir(s.training.CacheDir, t.MoldID, t.VersionID), cfg)
	if err != nil {
		return nil, fail(span, err)
	}
	p, err := NewPredictor(t.Data, t.Checksum, cfg, md, WithCandidates(s.training.TopN, 0))
	if err != nil {
		return nil, fail(span, err)
	}
	a, err := p.Predict(r, crude)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("items", len(a.UserAnswer.Items)))
	s.logger.Debug("predicted",
		zap.Int64("mold_id", t.MoldID),
		zap.Int64("vid", t.VersionID),
		zap.Int("items", len(a.UserAnswer.Items)),
	)
	return a, nil
}

// Train learns the target's trained kinds from samples and saves the
// model under the training cache.
func (s *Service) Train(ctx context.Context, t Target, samples []Sample) (*ModelData, error) {
	_, span := s.tracer.Start(ctx, "prophet.train", trace.WithAttributes(
		attribute.Int64("mold.id", t.MoldID),
		attribute.Int64("model_version.id", t.VersionID),
		attribute.Int("samples", len(samples)),
	))
	defer span.End()

	cfg, err := s.Config(t)
	if err != nil {
		return nil, fail(span, err)
	}
	md, err := Train(cfg, t.Data, samples)
	if err != nil {
		return nil, fail(span, err)
	}
	dir := ModelDir(s.training.CacheDir, t.MoldID, t.VersionID)
	if err := md.Save(dir); err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", ErrTrainingFailed, err))
	}
	s.logger.Info("predictor trained",
		zap.Int64("mold_id", t.MoldID),
		zap.Int64("vid", t.VersionID),
		zap.Int("paths", len(md.Paths)),
		zap.String("dir", dir),
	)
	return md, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
