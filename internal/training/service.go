package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/prophet"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/training"

// onlineLockTTL bounds the re-prediction triggered by enabling a version.
const onlineLockTTL = 60 * time.Second

// Molds loads the mold a version belongs to.
type Molds interface {
	Get(ctx context.Context, id int64) (*mold.Mold, error)
}

// Documents loads parsed interdocs by hash.
type Documents interface {
	Load(ctx context.Context, hash string) (*interdoc.Reader, error)
}

// Dispatcher starts the training chain of a version asynchronously.
type Dispatcher interface {
	DispatchTraining(ctx context.Context, moldID, vid int64, scope Scope) error
}

// Repredictor re-runs preset answers of a mold with a freshly enabled
// version.
type Repredictor interface {
	RepredictMold(ctx context.Context, moldID, vid int64) error
}

// Exemplars indexes the labeled answers of a trained version.
type Exemplars interface {
	IndexExemplars(ctx context.Context, moldID, vid int64, answers []*answer.Answer) error
}

// Service manages model versions.
type Service struct {
	store     Store
	molds     Molds
	docs      Documents
	locator   *prompter.Service
	extractor *prophet.Service
	locker    lock.Locker
	training  config.TrainingConfig

	dispatch  Dispatcher
	repredict Repredictor
	exemplars Exemplars
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDispatcher runs training chains through d instead of inline.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatch = d }
}

// WithRepredictor enables re-prediction when a version is enabled with
// update set.
func WithRepredictor(r Repredictor) Option {
	return func(s *Service) { s.repredict = r }
}

// WithExemplars feeds labeled answers to a candidate recall index after
// each locator fit.
func WithExemplars(e Exemplars) Option {
	return func(s *Service) { s.exemplars = e }
}

// NewService creates the version service.
func NewService(store Store, molds Molds, docs Documents, locator *prompter.Service, extractor *prophet.Service, locker lock.Locker, training config.TrainingConfig, opts ...Option) *Service {
	s := &Service{
		store:     store,
		molds:     molds,
		docs:      docs,
		locator:   locator,
		extractor: extractor,
		locker:    locker,
		training:  training,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.dispatch == nil {
		s.dispatch = inline{s}
	}
	return s
}

// inline runs the chain in the caller's goroutine.
type inline struct{ s *Service }

func (i inline) DispatchTraining(ctx context.Context, moldID, vid int64, scope Scope) error {
	return i.s.RunChain(ctx, vid, scope)
}

func (s *Service) minSamples() int {
	if s.training.MinSampleFiles > 0 {
		return s.training.MinSampleFiles
	}
	return 3
}

// Get returns a live version.
func (s *Service) Get(ctx context.Context, id int64) (*Version, error) {
	return s.store.GetVersion(ctx, id)
}

// List returns the versions of a mold.
func (s *Service) List(ctx context.Context, moldID int64) ([]*Version, error) {
	return s.store.ListVersions(ctx, moldID)
}

// CreateRequest describes a new version.
type CreateRequest struct {
	MoldID    int64
	Name      string
	ModelType ModelType
	// CopyFrom seeds predictors and, when that version is DONE, its
	// trained files.
	CopyFrom int64
}

// Create adds a version to a mold.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Version, error) {
	ctx, span := s.tracer.Start(ctx, "training.create", trace.WithAttributes(attribute.Int64("mold.id", req.MoldID)))
	defer span.End()

	m, err := s.molds.Get(ctx, req.MoldID)
	if err != nil {
		return nil, fail(span, err)
	}
	if req.ModelType == 0 {
		req.ModelType = ModelPredict
	}
	v := &Version{
		MoldID:          m.ID,
		Name:            req.Name,
		ModelType:       req.ModelType,
		Status:          StatusCreate,
		Predictors:      m.Predictors,
		PredictorOption: m.PredictorOption,
	}
	var src *Version
	err = s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		dup, err := st.FindVersionByName(ctx, m.ID, req.Name)
		if err != nil {
			return err
		}
		if dup != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateName, req.Name)
		}
		if req.CopyFrom != 0 {
			if src, err = st.GetVersion(ctx, req.CopyFrom); err != nil {
				return err
			}
			v.Predictors = src.Predictors
			v.PredictorOption = src.PredictorOption
		}
		v.CreatedUTC = s.now().Unix()
		v.UpdatedUTC = v.CreatedUTC
		return st.CreateVersion(ctx, v)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	if src != nil && src.Status == StatusDone {
		if err := copyModelFiles(s.modelDir(src), s.modelDir(v)); err != nil {
			return nil, fail(span, fmt.Errorf("copy model files: %w", err))
		}
		v.Status = StatusDone
		v.UpdatedUTC = s.now().Unix()
		if err := s.store.SaveVersion(ctx, v); err != nil {
			return nil, fail(span, err)
		}
	}
	s.logger.Info("model version created",
		zap.Int64("mold_id", v.MoldID),
		zap.Int64("vid", v.ID),
		zap.String("name", v.Name),
		zap.Int64("copy_from", req.CopyFrom),
	)
	return v, nil
}

// UpdatePredictors replaces the predictor config of a version. With
// needTrainAgain a trained version is flagged for retraining.
func (s *Service) UpdatePredictors(ctx context.Context, vid int64, predictors []byte, needTrainAgain bool) (*Version, error) {
	ctx, span := s.tracer.Start(ctx, "training.update_predictors", trace.WithAttributes(attribute.Int64("model_version.id", vid)))
	defer span.End()

	var out *Version
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		v, err := st.LockVersion(ctx, vid)
		if err != nil {
			return err
		}
		if v.Status.Running() {
			return fmt.Errorf("%w: version %d", ErrInProgress, vid)
		}
		m, err := s.molds.Get(ctx, v.MoldID)
		if err != nil {
			return err
		}
		if err := s.extractor.Validator()(&m.Data, predictors); err != nil {
			return err
		}
		v.Predictors = append(v.Predictors[:0:0], predictors...)
		if needTrainAgain && v.Status == StatusDone {
			v.Status = StatusNeedTrainAgain
		}
		v.UpdatedUTC = s.now().Unix()
		out = v
		return st.SaveVersion(ctx, v)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// StartTraining validates a version and its samples, marks it PREPARE and
// hands the chain to the dispatcher.
func (s *Service) StartTraining(ctx context.Context, vid int64, scope Scope) (*Version, error) {
	ctx, span := s.tracer.Start(ctx, "training.start", trace.WithAttributes(attribute.Int64("model_version.id", vid)))
	defer span.End()

	var v *Version
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		var err error
		if v, err = st.LockVersion(ctx, vid); err != nil {
			return err
		}
		if v.Status.Running() {
			return fmt.Errorf("%w: version %d", ErrInProgress, vid)
		}
		if !hasPredictors(v.Predictors) {
			return ErrNoPredictors
		}
		refs, err := st.LabeledSamples(ctx, v.MoldID, scope)
		if err != nil {
			return err
		}
		if len(refs) < s.minSamples() {
			return fmt.Errorf("%w: %d of at least %d", ErrTooFewSamples, len(refs), s.minSamples())
		}
		v.Status = StatusPrepare
		v.Files = scope.Files
		v.Dirs = scope.Trees
		v.UpdatedUTC = s.now().Unix()
		return st.SaveVersion(ctx, v)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	s.logger.Info("training dispatched", zap.Int64("mold_id", v.MoldID), zap.Int64("vid", vid))
	if err := s.dispatch.DispatchTraining(ctx, v.MoldID, vid, scope); err != nil {
		s.markFailed(ctx, vid, nil, err)
		return nil, fail(span, err)
	}
	return s.store.GetVersion(ctx, vid)
}

// RunChain runs every training stage in order and records the outcome.
func (s *Service) RunChain(ctx context.Context, vid int64, scope Scope) error {
	rec, err := s.PrepareDataset(ctx, vid, scope)
	if err != nil {
		return err
	}
	if err := s.TrainPrompter(ctx, vid, scope); err != nil {
		s.markFailed(ctx, vid, rec, err)
		return err
	}
	if err := s.TrainPredictor(ctx, vid, scope); err != nil {
		s.markFailed(ctx, vid, rec, err)
		return err
	}
	return s.Finish(ctx, vid, rec.ID)
}

// PrepareDataset opens a training record, moves the version to TRAINING
// and checks every sample decodes.
func (s *Service) PrepareDataset(ctx context.Context, vid int64, scope Scope) (*AccuracyRecord, error) {
	ctx, span := s.tracer.Start(ctx, "training.prepare", trace.WithAttributes(attribute.Int64("model_version.id", vid)))
	defer span.End()

	v, err := s.store.GetVersion(ctx, vid)
	if err != nil {
		return nil, fail(span, err)
	}
	rec := &AccuracyRecord{
		MoldID:     v.MoldID,
		VID:        vid,
		Kind:       RecordTrain,
		Status:     RecordRunning,
		Files:      scope.Files,
		Dirs:       scope.Trees,
		CreatedUTC: s.now().Unix(),
	}
	if err := s.store.CreateAccuracyRecord(ctx, rec); err != nil {
		return nil, fail(span, err)
	}
	if _, _, err := s.samples(ctx, v, scope); err != nil {
		s.markFailed(ctx, vid, rec, err)
		return nil, fail(span, err)
	}
	v.Status = StatusTraining
	v.UpdatedUTC = s.now().Unix()
	if err := s.store.SaveVersion(ctx, v); err != nil {
		return nil, fail(span, err)
	}
	return rec, nil
}

// TrainPrompter fits the coarse locator of a version.
func (s *Service) TrainPrompter(ctx context.Context, vid int64, scope Scope) error {
	ctx, span := s.tracer.Start(ctx, "training.prompter", trace.WithAttributes(attribute.Int64("model_version.id", vid)))
	defer span.End()

	v, err := s.store.GetVersion(ctx, vid)
	if err != nil {
		return fail(span, err)
	}
	locs, _, err := s.samples(ctx, v, scope)
	if err != nil {
		return fail(span, err)
	}
	if _, err := s.locator.Train(ctx, v.MoldID, vid, locs); err != nil {
		return fail(span, fmt.Errorf("%w: %v", ErrTrainingFailed, err))
	}
	if s.exemplars != nil {
		answers := make([]*answer.Answer, 0, len(locs))
		for _, l := range locs {
			answers = append(answers, l.Answer)
		}
		if err := s.exemplars.IndexExemplars(ctx, v.MoldID, vid, answers); err != nil {
			s.logger.Warn("exemplar indexing failed", zap.Int64("vid", vid), zap.Error(err))
		}
	}
	return nil
}

// TrainPredictor learns the precise extractor's features of a version.
func (s *Service) TrainPredictor(ctx context.Context, vid int64, scope Scope) error {
	ctx, span := s.tracer.Start(ctx, "training.predictor", trace.WithAttributes(attribute.Int64("model_version.id", vid)))
	defer span.End()

	v, err := s.store.GetVersion(ctx, vid)
	if err != nil {
		return fail(span, err)
	}
	m, err := s.molds.Get(ctx, v.MoldID)
	if err != nil {
		return fail(span, err)
	}
	_, preds, err := s.samples(ctx, v, scope)
	if err != nil {
		return fail(span, err)
	}
	if _, err := s.extractor.Train(ctx, s.target(m, v), preds); err != nil {
		return fail(span, fmt.Errorf("%w: %v", ErrTrainingFailed, err))
	}
	return nil
}

// Finish marks a version DONE and closes its training record.
func (s *Service) Finish(ctx context.Context, vid, recordID int64) error {
	v, err := s.store.GetVersion(ctx, vid)
	if err != nil {
		return err
	}
	v.Status = StatusDone
	v.UpdatedUTC = s.now().Unix()
	if err := s.store.SaveVersion(ctx, v); err != nil {
		return err
	}
	if recordID != 0 {
		if err := s.closeRecord(ctx, vid, recordID, RecordDone); err != nil {
			return err
		}
	}
	s.logger.Info("training finished", zap.Int64("mold_id", v.MoldID), zap.Int64("vid", vid))
	return nil
}

// Fail marks a version ERROR and its training record FAILED.
func (s *Service) Fail(ctx context.Context, vid, recordID int64, cause error) {
	var rec *AccuracyRecord
	if recordID != 0 {
		rec = &AccuracyRecord{ID: recordID}
	}
	s.markFailed(ctx, vid, rec, cause)
}

func (s *Service) markFailed(ctx context.Context, vid int64, rec *AccuracyRecord, cause error) {
	s.logger.Error("training failed", zap.Int64("vid", vid), zap.Error(cause))
	if v, err := s.store.GetVersion(ctx, vid); err == nil {
		v.Status = StatusError
		v.UpdatedUTC = s.now().Unix()
		if err := s.store.SaveVersion(ctx, v); err != nil {
			s.logger.Error("mark version failed", zap.Int64("vid", vid), zap.Error(err))
		}
	}
	if rec != nil && rec.ID != 0 {
		if err := s.closeRecord(ctx, vid, rec.ID, RecordFailed); err != nil {
			s.logger.Error("close training record", zap.Int64("vid", vid), zap.Error(err))
		}
	}
}

func (s *Service) closeRecord(ctx context.Context, vid, recordID int64, status RecordStatus) error {
	rec, err := s.store.LatestAccuracyRecord(ctx, vid, RecordTrain)
	if err != nil {
		return err
	}
	if rec == nil || rec.ID != recordID {
		return nil
	}
	rec.Status = status
	return s.store.SaveAccuracyRecord(ctx, rec)
}

// samples loads the labeled files of a version's mold in scope.
func (s *Service) samples(ctx context.Context, v *Version, scope Scope) ([]prompter.Sample, []prophet.Sample, error) {
	refs, err := s.store.LabeledSamples(ctx, v.MoldID, scope)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) < s.minSamples() {
		return nil, nil, fmt.Errorf("%w: %d of at least %d", ErrTooFewSamples, len(refs), s.minSamples())
	}
	locs := make([]prompter.Sample, 0, len(refs))
	preds := make([]prophet.Sample, 0, len(refs))
	for _, ref := range refs {
		r, err := s.docs.Load(ctx, ref.Interdoc)
		if err != nil {
			return nil, nil, fmt.Errorf("load interdoc of file %d: %w", ref.FileID, err)
		}
		if ref.Answer == nil {
			continue
		}
		locs = append(locs, prompter.Sample{Reader: r, Answer: ref.Answer})
		preds = append(preds, prophet.Sample{Reader: r, Answer: ref.Answer})
	}
	return locs, preds, nil
}

func (s *Service) target(m *mold.Mold, v *Version) prophet.Target {
	return prophet.Target{
		MoldID:     m.ID,
		MoldName:   m.Name,
		VersionID:  v.ID,
		Data:       &m.Data,
		Checksum:   m.Checksum,
		Predictors: v.Predictors,
	}
}

// Target resolves the prediction target of a mold: its enabled version
// when one exists, else the mold's own predictors with no trained files.
func (s *Service) Target(ctx context.Context, m *mold.Mold) (prophet.Target, bool, error) {
	v, err := s.store.EnabledVersion(ctx, m.ID)
	if err != nil {
		return prophet.Target{}, false, err
	}
	if v == nil {
		return prophet.Target{
			MoldID:     m.ID,
			MoldName:   m.Name,
			Data:       &m.Data,
			Checksum:   m.Checksum,
			Predictors: m.Predictors,
		}, false, nil
	}
	return s.target(m, v), true, nil
}

// Enable makes vid the single enabled version of its mold. With update the
// mold's preset answers are re-predicted under a short lock.
func (s *Service) Enable(ctx context.Context, vid int64, update bool) (*Version, error) {
	ctx, span := s.tracer.Start(ctx, "training.enable", trace.WithAttributes(
		attribute.Int64("model_version.id", vid),
		attribute.Bool("update", update),
	))
	defer span.End()

	v, err := s.store.GetVersion(ctx, vid)
	if err != nil {
		return nil, fail(span, err)
	}
	if v.Status != StatusDone {
		return nil, fail(span, fmt.Errorf("%w: status %s", ErrNotTrained, v.Status))
	}
	if v.ModelType != ModelDevelop && !s.locator.Ready(v.MoldID, vid) {
		return nil, fail(span, fmt.Errorf("%w: version %d", ErrModelFilesMissing, vid))
	}

	var release lock.Release
	if update && s.repredict != nil {
		if release, err = s.locker.TryLock(ctx, lock.MoldOnline(v.MoldID, vid), onlineLockTTL); err != nil {
			return nil, fail(span, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release online lock", zap.Int64("vid", vid), zap.Error(err))
			}
		}()
	}

	err = s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		cur, err := st.LockVersion(ctx, vid)
		if err != nil {
			return err
		}
		if err := st.DisableVersions(ctx, cur.MoldID); err != nil {
			return err
		}
		cur.Enable = true
		cur.UpdatedUTC = s.now().Unix()
		v = cur
		return st.SaveVersion(ctx, cur)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	s.logger.Info("model version enabled", zap.Int64("mold_id", v.MoldID), zap.Int64("vid", vid))

	if release != nil {
		if err := s.repredict.RepredictMold(ctx, v.MoldID, vid); err != nil {
			return nil, fail(span, err)
		}
	}
	return v, nil
}

// Disable clears enable on a version.
func (s *Service) Disable(ctx context.Context, vid int64) (*Version, error) {
	var out *Version
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		v, err := st.LockVersion(ctx, vid)
		if err != nil {
			return err
		}
		v.Enable = false
		v.UpdatedUTC = s.now().Unix()
		out = v
		return st.SaveVersion(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete soft-deletes an idle, disabled, non-preset version and removes
// its trained files.
func (s *Service) Delete(ctx context.Context, vid int64) error {
	ctx, span := s.tracer.Start(ctx, "training.delete", trace.WithAttributes(attribute.Int64("model_version.id", vid)))
	defer span.End()

	var v *Version
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		var err error
		if v, err = st.LockVersion(ctx, vid); err != nil {
			return err
		}
		switch {
		case v.Enable:
			return fmt.Errorf("%w: version is enabled", ErrNotDeletable)
		case v.Name == PresetVersionName:
			return fmt.Errorf("%w: preset version", ErrNotDeletable)
		case v.Status != StatusCreate && v.Status != StatusDone && v.Status != StatusError:
			return fmt.Errorf("%w: status %s", ErrNotDeletable, v.Status)
		}
		v.DeletedUTC = s.now().Unix()
		return st.SaveVersion(ctx, v)
	})
	if err != nil {
		return fail(span, err)
	}
	if err := os.RemoveAll(s.modelDir(v)); err != nil {
		s.logger.Warn("remove model files", zap.Int64("vid", vid), zap.Error(err))
	}
	s.logger.Info("model version deleted", zap.Int64("mold_id", v.MoldID), zap.Int64("vid", vid))
	return nil
}

// StartTest opens an accuracy test record for a trained version.
func (s *Service) StartTest(ctx context.Context, vid int64, scope Scope, kind RecordKind) (*AccuracyRecord, error) {
	v, err := s.store.GetVersion(ctx, vid)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusDone {
		return nil, fmt.Errorf("%w: status %s", ErrNotTrained, v.Status)
	}
	refs, err := s.store.LabeledSamples(ctx, v.MoldID, scope)
	if err != nil {
		return nil, err
	}
	if len(refs) < s.minSamples() {
		return nil, fmt.Errorf("%w: %d of at least %d", ErrTooFewSamples, len(refs), s.minSamples())
	}
	if kind == RecordTrain {
		kind = RecordTest
	}
	rec := &AccuracyRecord{
		MoldID:     v.MoldID,
		VID:        vid,
		Kind:       kind,
		Status:     RecordRunning,
		Files:      scope.Files,
		Dirs:       scope.Trees,
		CreatedUTC: s.now().Unix(),
	}
	if err := s.store.CreateAccuracyRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) modelDir(v *Version) string {
	return prompter.ModelDir(s.training.CacheDir, v.MoldID, v.ID)
}

func hasPredictors(raw []byte) bool {
	str := string(raw)
	return str != "" && str != "null" && str != "[]"
}

// IsUserError reports whether err is a refusal the caller can act on.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrDuplicateName, ErrNoPredictors, ErrInProgress, ErrTooFewSamples,
		ErrNotTrained, ErrModelFilesMissing, ErrNotDeletable, ErrInvalidArchive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
