// Package parser submits uploaded documents to the interdoc producer. The
// producer parses asynchronously and calls back with the interdoc.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/authtoken"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/parser"

const defaultTimeout = 10 * time.Second

var (
	// ErrNotConfigured is returned when no parser URL is set.
	ErrNotConfigured = errors.New("parser: not configured")
	// ErrUnavailable wraps transport failures. They are worth retrying.
	ErrUnavailable = errors.New("parser: unavailable")
	// ErrBadStatus is returned for a non-200 answer. It is not retried.
	ErrBadStatus = errors.New("parser: unexpected status")
	// ErrParserRejected is returned when the parser accepts the request
	// but reports status "error".
	ErrParserRejected = errors.New("parser: rejected")
)

// Request describes one parse submission.
type Request struct {
	FileID        int64
	Name          string
	Hash          string
	Content       io.Reader
	Priority      int
	OCR           bool
	Garbled       bool
	AsPDF         bool
	ForceOCRPages string
}

// Client posts documents to the parser.
type Client struct {
	cfg        config.ParserConfig
	callback   string
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a parser client. callbackBase is "{scheme}://{domain}".
func New(cfg config.ParserConfig, callbackBase string, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	timeout := cfg.Timeout.Or(defaultTimeout)
	c := &Client{
		cfg:        cfg,
		callback:   strings.TrimRight(callbackBase, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// CallbackURL is where the parser reports completion of a file.
func (c *Client) CallbackURL(fileID int64, hash string) string {
	return fmt.Sprintf("%s/api/v1/files/%d/hash/%s/preprocess_complete", c.callback, fileID, hash)
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// fields builds the form fields sent with the file.
func (c *Client) fields(req Request) map[string]string {
	o := c.cfg.Options
	garbled := "0"
	if req.Garbled || o.GarbledFileHandle {
		garbled = "2"
	}
	f := map[string]string{
		"app":                       c.cfg.AppID,
		"app_id":                    c.cfg.AppID,
		"callback":                  c.CallbackURL(req.FileID, req.Hash),
		"key":                       strings.ReplaceAll(uuid.NewString(), "-", "") + "#" + strconv.FormatInt(req.FileID, 10),
		"priority":                  strconv.Itoa(req.Priority),
		"fake_prediction":           boolInt(o.FakePrediction),
		"title_ai":                  boolInt(o.TitleAI),
		"column":                    strconv.Itoa(o.Column),
		"force_ocr":                 boolInt(o.ForceOCR || req.OCR),
		"garbled_file_handle":       garbled,
		"newline_mode":              o.NewlineMode,
		"report_colorful_exception": "1",
	}
	if f["newline_mode"] == "" {
		f["newline_mode"] = "0"
	}
	if o.MaxPages > 0 {
		f["max_pages"] = strconv.Itoa(o.MaxPages)
	}
	if o.AsPDF || req.AsPDF {
		f["as_pdf"] = "1"
	}
	if o.KeepComment {
		f["keep_comment"] = "1"
	}
	if req.ForceOCRPages != "" {
		f["force_ocr_pages"] = req.ForceOCRPages
	}
	return f
}

// Submit posts a file for parsing. Transport failures wrap ErrUnavailable;
// a non-200 answer wraps ErrBadStatus and a status "error" body wraps
// ErrParserRejected.
func (c *Client) Submit(ctx context.Context, req Request) error {
	ctx, span := c.tracer.Start(ctx, "parser.submit", trace.WithAttributes(
		attribute.Int64("file.id", req.FileID),
		attribute.Int("priority", req.Priority),
	))
	defer span.End()

	if req.Content == nil {
		return fail(span, fmt.Errorf("file %d has no content", req.FileID))
	}
	api := fmt.Sprintf("%s/api/v1/preprocess?fid=%d", strings.TrimRight(c.cfg.URL, "/"), req.FileID)
	signed, err := authtoken.EncodeURL(api, c.cfg.AppID, c.cfg.Secret.Value(), c.now())
	if err != nil {
		return fail(span, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := c.fields(req)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return fail(span, err)
		}
	}
	part, err := w.CreateFormFile("file", sanitize.Filename(req.Name))
	if err != nil {
		return fail(span, err)
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return fail(span, fmt.Errorf("read file %d: %w", req.FileID, err))
	}
	if err := w.Close(); err != nil {
		return fail(span, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, signed, &buf)
	if err != nil {
		return fail(span, err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	c.logger.Info("start preprocess",
		zap.Int64("file_id", req.FileID),
		zap.String("callback", fields["callback"]),
		zap.Int("priority", req.Priority),
	)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fail(span, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(span, fmt.Errorf("%w: read response: %w", ErrUnavailable, err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return fail(span, fmt.Errorf("%w: %d: %s", ErrBadStatus, resp.StatusCode, body))
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err == nil && out.Status == "error" {
		return fail(span, fmt.Errorf("%w: %s", ErrParserRejected, body))
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if strings.HasPrefix(err.Error(), "parser: ") {
		return err
	}
	return fmt.Errorf("parser: %w", err)
}
