// Package events publishes pipeline status changes on NATS.
//
// Events go to subjects "{prefix}.{type}", for example
// "extractd.file.parsed". Publishing is fire-and-forget: consumers that
// need persistence attach a JetStream stream to the subjects.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "extractd"

// Type names an event.
type Type string

const (
	FileParsed        Type = "file.parsed"
	FileParseFailed   Type = "file.parse_failed"
	QuestionPredicted Type = "question.predicted"
	QuestionAnswered  Type = "question.answered"
	QuestionReset     Type = "question.reset"
	ModelTrained      Type = "model.trained"
	ModelEnabled      Type = "model.enabled"
)

// Event is one status change.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	FileID     int64          `json:"file_id,omitempty"`
	QuestionID int64          `json:"question_id,omitempty"`
	MoldID     int64          `json:"mold_id,omitempty"`
	VersionID  int64          `json:"vid,omitempty"`
	Status     string         `json:"status,omitempty"`
	Time       time.Time      `json:"time"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Connect dials the configured NATS server with reconnects enabled.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("extractd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to nats", zap.String("url", cfg.URL))
	return nc, nil
}

// NATS publishes events on a connection.
type NATS struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewNATS creates a publisher. An empty prefix means DefaultPrefix.
func NewNATS(nc *nats.Conn, prefix string, logger *zap.Logger) *NATS {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

// Subject returns the subject events of t are published to.
func (p *NATS) Subject(t Type) string { return p.prefix + "." + string(t) }

// Publish fills the id and time of e and sends it.
func (p *NATS) Publish(_ context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = p.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	p.logger.Debug("event published", zap.String("type", string(e.Type)), zap.String("id", e.ID))
	return nil
}

// Emit publishes e and only logs failures. Status events never fail the
// operation that produced them.
func Emit(ctx context.Context, p Publisher, logger *zap.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil && logger != nil {
		logger.Warn("event dropped", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
