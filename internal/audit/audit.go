// Package audit runs the rule engine over the answers of a file and keeps
// its verdicts. Every inspection replaces the previous results of the file.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/audit"

var (
	// ErrDisabled is returned when the rule engine is not configured.
	ErrDisabled = errors.New("audit: disabled")
	// ErrEngine wraps rule engine failures.
	ErrEngine = errors.New("audit: engine failed")
)

// Result is one rule verdict.
type Result struct {
	ID         int64           `json:"id,omitempty"`
	FileID     int64           `json:"fid"`
	QID        int64           `json:"qid"`
	MoldID     int64           `json:"mold_id"`
	Rule       string          `json:"rule"`
	Passed     bool            `json:"passed"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedUTC int64           `json:"created_utc,omitempty"`
}

// Subject is one answered question handed to the engine.
type Subject struct {
	QID      int64          `json:"qid"`
	MoldID   int64          `json:"mold_id"`
	MoldName string         `json:"mold_name"`
	Answer   *answer.Answer `json:"answer"`
}

// Engine evaluates rules.
type Engine interface {
	Check(ctx context.Context, fileID int64, subjects []Subject) ([]Result, error)
}

// Store persists verdicts.
type Store interface {
	// ReplaceAuditResults deletes the results of fileID and inserts rs.
	ReplaceAuditResults(ctx context.Context, fileID int64, rs []Result) error
	ListAuditResults(ctx context.Context, fileID int64) ([]Result, error)
}

// Client is the HTTP rule engine.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates the HTTP engine client.
func NewClient(cfg config.AuditConfig) (*Client, error) {
	if !cfg.Enabled || cfg.URL == "" {
		return nil, ErrDisabled
	}
	timeout := cfg.Timeout.Or(time.Minute)
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/") + "/api/v1/inspect",
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Check posts the subjects and decodes the verdict list.
func (c *Client) Check(ctx context.Context, fileID int64, subjects []Subject) ([]Result, error) {
	raw, err := json.Marshal(map[string]any{"file_id": fileID, "questions": subjects})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrEngine, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, body)
	}
	var out struct {
		Data []Result `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrEngine, err)
	}
	return out.Data, nil
}

// Service inspects files.
type Service struct {
	engine Engine
	store  Store
	now    func() time.Time
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the audit service.
func NewService(engine Engine, store Store, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
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

// Inspect runs the engine over the subjects of a file and replaces its
// stored verdicts. Verdicts are stamped with the file id and, when the
// engine leaves them out, the question's mold.
func (s *Service) Inspect(ctx context.Context, fileID int64, subjects []Subject) ([]Result, error) {
	ctx, span := s.tracer.Start(ctx, "audit.inspect", trace.WithAttributes(
		attribute.Int64("file.id", fileID),
		attribute.Int("subjects", len(subjects)),
	))
	defer span.End()

	if len(subjects) == 0 {
		return nil, nil
	}
	results, err := s.engine.Check(ctx, fileID, subjects)
	if err != nil {
		return nil, fail(span, err)
	}
	molds := make(map[int64]int64, len(subjects))
	for _, sub := range subjects {
		molds[sub.QID] = sub.MoldID
	}
	ts := s.now().Unix()
	for i := range results {
		results[i].ID = 0
		results[i].FileID = fileID
		results[i].CreatedUTC = ts
		if results[i].MoldID == 0 {
			results[i].MoldID = molds[results[i].QID]
		}
	}
	if err := s.store.ReplaceAuditResults(ctx, fileID, results); err != nil {
		return nil, fail(span, err)
	}
	if len(results) == 0 {
		s.logger.Warn("rule engine returned no verdicts", zap.Int64("file_id", fileID))
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, ErrEngine) {
		return err
	}
	return fmt.Errorf("audit: %w", err)
}
