// Package studio talks to the LLM extraction service. Molds of type LLM and
// HYBRID own an app there; uploaded files are added to the app and the
// service calls back once extraction completes.
package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/studio"

// StatusSucceeded is the extraction status of a finished upload.
const StatusSucceeded = 100

// uploadTimeoutFactor widens the timeout of file uploads.
const uploadTimeoutFactor = 10

var (
	// ErrNotConfigured is returned when no service URL is set.
	ErrNotConfigured = errors.New("studio: not configured")
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("调用 chatdoc studio api 超时")
	// ErrRejected is returned for any non-200 response.
	ErrRejected = errors.New("studio: request rejected")
)

// StatusError carries the status and body of a rejected call.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("studio: status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrRejected }

// Endpoint paths, relative to the service URL.
const (
	pathHook       = "/api/v1/hooks"
	pathApps       = "/api/v1/apps"
	pathApp        = "/api/v1/apps/%s"
	pathAppUploads = "/api/v1/apps/%s/uploads"
	pathAppUpload  = "/api/v1/apps/%s/uploads/%s"
	pathReExtract  = "/api/v1/apps/%s/uploads/%s/extract-again"
	pathExtraction = "/api/v1/apps/%s/uploads/%s/extraction"
	pathTrace      = "/api/v1/apps/%s/uploads/%s/trace"
	pathUpload     = "/api/v1/uploads"
)

// Client is a rate-limited client of the extraction service.
type Client struct {
	baseURL    string
	apiKey     string
	hookKey    string
	models     []string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the transport, mostly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a client from the studio configuration.
func New(cfg config.StudioConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("studio: bad url: %w", err)
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout.Or(time.Minute)
	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey.Value(),
		hookKey:    cfg.HookKey.Value(),
		models:     cfg.Models,
		timeout:    timeout,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, burst),
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

// Models lists the LLMs an app may be created with.
func (c *Client) Models() []string {
	return c.models
}

// App is the service-side app of a mold.
type App struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	ModelName string          `json:"model_name,omitempty"`
	Schema    json.RawMessage `json:"schema,omitempty"`
}

// RegisterHook registers the extract-complete callback. Registration is
// idempotent on the service side.
func (c *Client) RegisterHook(ctx context.Context, callbackURL string) (string, error) {
	body := map[string]any{
		"api_key": c.hookKey,
		"url":     callbackURL,
		"params":  map[string]any{"update_if_exists": true},
	}
	var out struct {
		ID json.Number `json:"id"`
	}
	if err := c.doJSON(ctx, "hook.register", http.MethodPost, pathHook, body, &out); err != nil {
		return "", err
	}
	c.logger.Info("studio hook registered", zap.String("id", out.ID.String()), zap.String("url", callbackURL))
	return out.ID.String(), nil
}

// CreateApp creates the app of a mold.
func (c *Client) CreateApp(ctx context.Context, name, modelName string, s *AppSchema) (*App, error) {
	body := map[string]any{"name": name, "model_name": modelName, "schema": s}
	var app App
	if err := c.doJSON(ctx, "app.create", http.MethodPost, pathApps, body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// UpdateApp replaces the name, model and schema of an app.
func (c *Client) UpdateApp(ctx context.Context, appID, name, modelName string, s *AppSchema) error {
	body := map[string]any{"name": name, "model_name": modelName, "schema": s}
	return c.doJSON(ctx, "app.update", http.MethodPut, fmt.Sprintf(pathApp, url.PathEscape(appID)), body, nil)
}

// DeleteApp removes an app.
func (c *Client) DeleteApp(ctx context.Context, appID string) error {
	return c.doJSON(ctx, "app.delete", http.MethodDelete, fmt.Sprintf(pathApp, url.PathEscape(appID)), nil, nil)
}

// Upload sends a file and returns its upload id.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", sanitize.Filename(filename))
	if err != nil {
		return "", fmt.Errorf("studio: build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("studio: build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("studio: build upload: %w", err)
	}
	var out struct {
		UploadID json.Number `json:"upload_id"`
	}
	err = c.do(ctx, "upload", http.MethodPost, pathUpload, w.FormDataContentType(), &buf, c.timeout*uploadTimeoutFactor, &out)
	if err != nil {
		return "", err
	}
	return out.UploadID.String(), nil
}

// AddFile queues an upload for extraction by an app.
func (c *Client) AddFile(ctx context.Context, appID, uploadID string) error {
	body := map[string]any{"upload_id": uploadID}
	return c.doJSON(ctx, "app.add_file", http.MethodPost, fmt.Sprintf(pathAppUploads, url.PathEscape(appID)), body, nil)
}

// RemoveFile detaches an upload from an app.
func (c *Client) RemoveFile(ctx context.Context, appID, uploadID string) error {
	p := fmt.Sprintf(pathAppUpload, url.PathEscape(appID), url.PathEscape(uploadID))
	return c.doJSON(ctx, "app.remove_file", http.MethodDelete, p, nil, nil)
}

// ReExtract asks an app to extract an upload again.
func (c *Client) ReExtract(ctx context.Context, appID, uploadID string) error {
	p := fmt.Sprintf(pathReExtract, url.PathEscape(appID), url.PathEscape(uploadID))
	return c.doJSON(ctx, "app.re_extract", http.MethodGet, p, nil, nil)
}

// ExtractResult fetches the extraction of an upload.
func (c *Client) ExtractResult(ctx context.Context, appID, uploadID string) (*ExtractResult, error) {
	p := fmt.Sprintf(pathExtraction, url.PathEscape(appID), url.PathEscape(uploadID))
	var out ExtractResult
	if err := c.doJSON(ctx, "app.extract_result", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TraceResult fetches the source boxes of an extraction.
func (c *Client) TraceResult(ctx context.Context, appID, uploadID string) (map[string]any, error) {
	p := fmt.Sprintf(pathTrace, url.PathEscape(appID), url.PathEscape(uploadID))
	var out map[string]any
	if err := c.doJSON(ctx, "app.trace_result", http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("studio: encode %s: %w", op, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, contentType, body, c.timeout, out)
}

// do performs one call and decodes the "data" member of the response into
// out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, timeout time.Duration, out any) error {
	ctx, span := c.tracer.Start(ctx, "studio."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("studio.path", path),
	))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(span, fmt.Errorf("rate limiter: %w", err))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fail(span, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fail(span, fmt.Errorf("%w: %s", ErrTimeout, op))
		}
		return fail(span, fmt.Errorf("%s: %w", op, err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(span, fmt.Errorf("%s: read response: %w", op, err))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("studio call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode != http.StatusOK {
		return fail(span, &StatusError{Code: resp.StatusCode, Body: string(raw)})
	}
	if out == nil {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fail(span, fmt.Errorf("%s: decode response: %w", op, err))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fail(span, fmt.Errorf("%s: decode data: %w", op, err))
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRejected) {
		return err
	}
	return fmt.Errorf("studio: %w", err)
}
