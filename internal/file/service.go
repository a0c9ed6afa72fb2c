package file

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/file"

// Documents loads and stores interdocs by file hash.
type Documents interface {
	Load(ctx context.Context, hash string) (*interdoc.Reader, error)
	Store(ctx context.Context, hash string, payload []byte) (*interdoc.Reader, error)
}

// Action is what process_file does next with a file.
type Action int

const (
	ActionPredict Action = iota
	ActionParse
)

func (a Action) String() string {
	if a == ActionParse {
		return "parse"
	}
	return "predict"
}

// Service tracks parse state and interdoc availability.
type Service struct {
	store  Store
	docs   Documents
	logger *zap.Logger
	now    func() time.Time
	tracer trace.Tracer
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

// NewService creates the file service.
func NewService(store Store, docs Documents, opts ...Option) *Service {
	s := &Service{
		store:  store,
		docs:   docs,
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
	return s
}

// Get returns a live file.
func (s *Service) Get(ctx context.Context, id int64) (*File, error) {
	return s.store.GetFile(ctx, id)
}

// Decide picks the next step for f. A file is parsed when forced, when it
// has no interdoc yet or when its last parse did not get through.
func Decide(f *File, force bool) Action {
	if force || f.Interdoc == "" || f.ParseStatus.NeedsParse() {
		return ActionParse
	}
	return ActionPredict
}

// SetStatus moves a file to status.
func (s *Service) SetStatus(ctx context.Context, id int64, status ParseStatus) error {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if f.ParseStatus == status {
		return nil
	}
	s.logger.Debug("file status",
		zap.Int64("file_id", id),
		zap.Stringer("from", f.ParseStatus),
		zap.Stringer("to", status),
	)
	f.ParseStatus = status
	f.UpdatedUTC = s.now().Unix()
	return s.store.SaveFile(ctx, f)
}

// Check loads the interdoc of f and verifies it holds at least one usable
// element. A missing interdoc marks the file FAIL and an unusable one
// UN_CONFIRMED; both return the matching interdoc error.
func (s *Service) Check(ctx context.Context, f *File) (*interdoc.Reader, error) {
	ctx, span := s.tracer.Start(ctx, "file.check_interdoc", trace.WithAttributes(attribute.Int64("file.id", f.ID)))
	defer span.End()

	var r *interdoc.Reader
	var err error
	if f.Interdoc == "" {
		err = fmt.Errorf("%w: file %d (%s) has no interdoc, status %s", interdoc.ErrInterdocMissing, f.ID, f.Name, f.ParseStatus)
	} else {
		r, err = s.docs.Load(ctx, f.Interdoc)
	}
	if err == nil && !usable(r) {
		err = fmt.Errorf("%w: file %d (%s) has no usable element", interdoc.ErrInvalidInterdoc, f.ID, f.Name)
	}
	if err == nil {
		return r, nil
	}

	status := ParseFail
	if errors.Is(err, interdoc.ErrInvalidInterdoc) {
		status = ParseUnConfirmed
	}
	if serr := s.SetStatus(ctx, f.ID, status); serr != nil {
		s.logger.Error("recording interdoc check failed", zap.Int64("file_id", f.ID), zap.Error(serr))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// usable mirrors what the extractors can work with: a paragraph that is
// not a table-of-contents leader line, a table, or any header, footer,
// shape or image block.
func usable(r *interdoc.Reader) bool {
	for _, e := range r.Elements() {
		if r.IsFragment(e.Index) {
			continue
		}
		switch e.Class {
		case interdoc.ClassParagraph:
			if !strings.Contains(e.Text, "......") {
				return true
			}
		case interdoc.ClassTable, interdoc.ClassPageHeader, interdoc.ClassPageFooter,
			interdoc.ClassShape, interdoc.ClassInfographic, interdoc.ClassImage:
			return true
		}
	}
	return false
}

// Parsed stores the interdoc delivered by the parser for every live file
// with hash and marks them COMPLETE. It returns the ids of the updated
// files.
func (s *Service) Parsed(ctx context.Context, hash string, payload []byte) ([]int64, error) {
	ctx, span := s.tracer.Start(ctx, "file.parsed")
	defer span.End()

	files, err := s.store.ListByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: hash %s", ErrNotFound, hash)
	}
	if _, err := s.docs.Store(ctx, hash, payload); err != nil {
		for _, f := range files {
			if serr := s.SetStatus(ctx, f.ID, ParseUnConfirmed); serr != nil {
				s.logger.Error("recording parse failure", zap.Int64("file_id", f.ID), zap.Error(serr))
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ids := make([]int64, 0, len(files))
	for _, f := range files {
		f.Interdoc = hash
		f.ParseStatus = ParseComplete
		f.UpdatedUTC = s.now().Unix()
		if err := s.store.SaveFile(ctx, f); err != nil {
			return nil, err
		}
		ids = append(ids, f.ID)
	}
	s.logger.Info("interdoc stored", zap.String("hash", hash), zap.Int64s("file_ids", ids))
	return ids, nil
}
