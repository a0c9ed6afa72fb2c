package mold

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/schema"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/mold"

// PredictorValidator checks a raw predictor configuration against the
// mold data it will run on.
type PredictorValidator func(d *schema.Data, raw json.RawMessage) error

// Service is the schema registry.
type Service struct {
	store    Store
	web      config.WebConfig
	validate PredictorValidator
	logger   *zap.Logger
	now      func() time.Time
	tracer   trace.Tracer
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

// WithPredictorValidator validates predictor configs on create and update.
func WithPredictorValidator(v PredictorValidator) Option {
	return func(s *Service) { s.validate = v }
}

// NewService creates the registry.
func NewService(store Store, web config.WebConfig, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("mold store is required")
	}
	s := &Service{
		store:  store,
		web:    web,
		logger: zap.NewNop(),
		now:    time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// CreateRequest carries the fields of a new mold.
type CreateRequest struct {
	Name       string
	Data       schema.Data
	Type       schema.MoldType
	ModelName  string
	Master     int64
	Predictors json.RawMessage
	UID        int64
}

// Patch lists the fields to change. Nil fields are left alone.
type Patch struct {
	Name        *string
	Data        *schema.Data
	Type        *schema.MoldType
	ModelName   *string
	Predictors  json.RawMessage
	Public      *bool
	StudioAppID *string
	Meta        map[string]any
}

// UpdateResult reports what an update changed.
type UpdateResult struct {
	Mold             *Mold
	PreviousChecksum string
	DataChanged      bool
}

// Create validates and stores a new mold.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Mold, error) {
	ctx, span := s.tracer.Start(ctx, "mold.create")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fail(span, fmt.Errorf("%w: empty mold name", schema.ErrInvalidSchema))
	}
	if _, ok := s.web.AnswerConvert[name]; ok {
		return nil, fail(span, fmt.Errorf("%w: %q", ErrReservedName, name))
	}
	m := &Mold{
		Name:            name,
		Type:            req.Type,
		ModelName:       strings.TrimSpace(req.ModelName),
		Data:            req.Data,
		Master:          req.Master,
		Predictors:      req.Predictors,
		PredictorOption: map[string]any{"framework_version": FrameworkVersion},
		Public:          s.web.DefaultMoldPublic,
		UID:             req.UID,
	}
	if err := s.check(m); err != nil {
		return nil, fail(span, err)
	}

	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		existing, err := st.FindMoldByName(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		now := s.now().Unix()
		m.CreatedUTC, m.UpdatedUTC = now, now
		return st.CreateMold(ctx, m)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("mold.id", m.ID))
	s.logger.Info("mold created", zap.Int64("mold_id", m.ID), zap.String("name", m.Name), zap.String("checksum", m.Checksum))
	return m, nil
}

// Get returns a live mold.
func (s *Service) Get(ctx context.Context, id int64) (*Mold, error) {
	return s.store.GetMold(ctx, id)
}

// Update applies patch to mold id.
func (s *Service) Update(ctx context.Context, id int64, p Patch) (UpdateResult, error) {
	ctx, span := s.tracer.Start(ctx, "mold.update", trace.WithAttributes(attribute.Int64("mold.id", id)))
	defer span.End()

	var res UpdateResult
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		m, err := st.GetMold(ctx, id)
		if err != nil {
			return err
		}
		res.PreviousChecksum = m.Checksum

		if p.Name != nil {
			name := strings.TrimSpace(*p.Name)
			if name == "" {
				return fmt.Errorf("%w: empty mold name", schema.ErrInvalidSchema)
			}
			if name != m.Name {
				usage, err := st.MoldUsage(ctx, id)
				if err != nil {
					return err
				}
				if usage.Questions > 0 {
					return fmt.Errorf("%w: cannot rename %q", ErrSchemaInUse, m.Name)
				}
				other, err := st.FindMoldByName(ctx, name)
				if err != nil {
					return err
				}
				if other != nil {
					return fmt.Errorf("%w: %q", ErrDuplicateName, name)
				}
				m.Name = name
			}
		}
		if p.Data != nil {
			m.Data = *p.Data
		}
		if p.Type != nil {
			m.Type = *p.Type
		}
		if p.ModelName != nil {
			m.ModelName = strings.TrimSpace(*p.ModelName)
		}
		if p.Predictors != nil {
			m.Predictors = p.Predictors
		}
		if p.Public != nil {
			m.Public = *p.Public
		}
		if p.StudioAppID != nil {
			m.StudioAppID = *p.StudioAppID
		}
		if p.Meta != nil {
			m.Meta = p.Meta
		}
		if err := s.check(m); err != nil {
			return err
		}
		res.DataChanged = m.Checksum != res.PreviousChecksum
		m.UpdatedUTC = s.now().Unix()
		if err := st.SaveMold(ctx, m); err != nil {
			return err
		}
		res.Mold = m
		return nil
	})
	if err != nil {
		return UpdateResult{}, fail(span, err)
	}
	if res.DataChanged {
		s.logger.Info("mold data changed",
			zap.Int64("mold_id", id),
			zap.String("from", res.PreviousChecksum),
			zap.String("to", res.Mold.Checksum))
	}
	return res, nil
}

// Delete soft-deletes an unreferenced mold.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "mold.delete", trace.WithAttributes(attribute.Int64("mold.id", id)))
	defer span.End()

	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		m, err := st.GetMold(ctx, id)
		if err != nil {
			return err
		}
		usage, err := st.MoldUsage(ctx, id)
		if err != nil {
			return err
		}
		if usage.InUse() {
			return fmt.Errorf("%w: %q has %d questions, %d file trees, %d rules",
				ErrSchemaInUse, m.Name, usage.Questions, usage.FileTrees, usage.RuleItems)
		}
		return st.DeleteMold(ctx, id, s.now().Unix())
	})
	if err != nil {
		return fail(span, err)
	}
	s.logger.Info("mold deleted", zap.Int64("mold_id", id))
	return nil
}

// Related returns the mold group of id: the master first, then its
// followers by id.
func (s *Service) Related(ctx context.Context, id int64) ([]*Mold, error) {
	m, err := s.store.GetMold(ctx, id)
	if err != nil {
		return nil, err
	}
	root := m.ID
	if m.Master != 0 {
		root = m.Master
	}
	group, err := s.store.ListGroup(ctx, root)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(group, func(a, b *Mold) int {
		if (a.ID == root) != (b.ID == root) {
			if a.ID == root {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return group, nil
}

// Export returns the schema bundle of mold id.
func (s *Service) Export(ctx context.Context, id int64) (*Bundle, error) {
	m, err := s.store.GetMold(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Mold: *m}
	b.Mold.CreatedUTC, b.Mold.UpdatedUTC = 0, 0
	if b.ExtractMethod, err = s.store.ListExtractMethods(ctx, id); err != nil {
		return nil, err
	}
	if b.RuleClass, err = s.store.ListRuleClasses(ctx, id); err != nil {
		return nil, err
	}
	if b.RuleItem, err = s.store.ListRuleItems(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

// ImportOptions selects how a name clash is resolved.
type ImportOptions struct {
	// Rewrite overwrites the existing mold and replaces its rules.
	Rewrite bool
	// Rename creates the mold under this name, renaming the root item too.
	Rename string
}

// Import stores a bundle. Without Rewrite or Rename a clash fails with
// ErrDuplicateName.
func (s *Service) Import(ctx context.Context, b *Bundle, opts ImportOptions) (*Mold, error) {
	ctx, span := s.tracer.Start(ctx, "mold.import")
	defer span.End()

	in := b.Mold.Clone()
	in.ID = 0
	in.DeletedUTC = 0
	in.Name = strings.TrimSpace(in.Name)
	if in.PredictorOption == nil {
		in.PredictorOption = map[string]any{"framework_version": FrameworkVersion}
	}

	var out *Mold
	err := s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		existing, err := st.FindMoldByName(ctx, in.Name)
		if err != nil {
			return err
		}
		now := s.now().Unix()
		switch {
		case existing != nil && opts.Rewrite:
			in.ID = existing.ID
			in.CreatedUTC = existing.CreatedUTC
			in.UpdatedUTC = now
			if err := s.check(in); err != nil {
				return err
			}
			if err := st.SaveMold(ctx, in); err != nil {
				return err
			}
			if err := st.ClearRules(ctx, in.ID); err != nil {
				return err
			}
		case existing != nil && opts.Rename != "":
			name := strings.TrimSpace(opts.Rename)
			if clash, err := st.FindMoldByName(ctx, name); err != nil {
				return err
			} else if clash != nil {
				return fmt.Errorf("%w: %q", ErrDuplicateName, name)
			}
			in.Name = name
			if root := in.Data.Root(); root != nil {
				root.Name = name
			}
			fallthrough
		case existing == nil:
			if err := s.check(in); err != nil {
				return err
			}
			in.CreatedUTC, in.UpdatedUTC = now, now
			if err := st.CreateMold(ctx, in); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q", ErrDuplicateName, in.Name)
		}

		for _, em := range b.ExtractMethod {
			em.ID, em.Mold = 0, in.ID
			if err := st.CreateExtractMethod(ctx, &em); err != nil {
				return err
			}
		}
		classIDs := make(map[int64]int64, len(b.RuleClass))
		for _, rc := range b.RuleClass {
			old := rc.ID
			rc.ID, rc.Mold = 0, in.ID
			if err := st.CreateRuleClass(ctx, &rc); err != nil {
				return err
			}
			classIDs[old] = rc.ID
		}
		for _, ri := range b.RuleItem {
			newClass, ok := classIDs[ri.ClassID]
			if !ok {
				return fmt.Errorf("%w: rule %q references unknown class %d", schema.ErrInvalidSchema, ri.Name, ri.ClassID)
			}
			ri.ID, ri.Mold, ri.ClassID = 0, in.ID, newClass
			if err := st.CreateRuleItem(ctx, &ri); err != nil {
				return err
			}
		}
		out = in
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}
	s.logger.Info("mold imported", zap.Int64("mold_id", out.ID), zap.String("name", out.Name))
	return out, nil
}

// check validates m and refreshes its checksum.
func (s *Service) check(m *Mold) error {
	if err := schema.Validate(&m.Data); err != nil {
		return err
	}
	if (m.Data.HasLLMFields() || m.Type.UsesLLM()) && m.ModelName == "" {
		return fmt.Errorf("%w: model_name is required when a field uses LLM extraction", schema.ErrInvalidSchema)
	}
	if f := m.Framework(); !strings.HasPrefix(f, "2") {
		return fmt.Errorf("%w: predictor framework %s is not executable", schema.ErrInvalidSchema, f)
	}
	if s.validate != nil && m.HasPredictors() {
		if err := s.validate(&m.Data, m.Predictors); err != nil {
			return err
		}
	}
	sum, err := schema.Checksum(&m.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", schema.ErrInvalidSchema, err)
	}
	m.Checksum = sum
	return nil
}

// SameData reports whether two molds carry the same normalized data.
func SameData(a, b *Mold) bool {
	x, err1 := schema.CanonicalJSON(schema.Normalize(&a.Data))
	y, err2 := schema.CanonicalJSON(schema.Normalize(&b.Data))
	return err1 == nil && err2 == nil && bytes.Equal(x, y)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
