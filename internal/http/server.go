// Package http serves the callback and answer API of extractd: parser and
// studio callbacks, answer submission, file processing, answer search and
// status resets.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/search"
)

// maxInterdocSize bounds the interdoc upload of a parser callback.
const maxInterdocSize = 512 << 20

// Tasks is the orchestrator surface the handlers call.
type Tasks interface {
	ParseComplete(ctx context.Context, hash string, payload []byte) ([]int64, error)
	ParseFailed(ctx context.Context, hash, reason string) error
	ProcessFile(ctx context.Context, fileID int64, opts orchestrator.ProcessOptions) error
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*question.Answer, error)
	ResetStatuses(ctx context.Context, req orchestrator.ResetRequest) (orchestrator.ResetReport, error)
}

// ExtractDispatcher starts process_file_extract.
type ExtractDispatcher interface {
	ProcessFileExtract(ctx context.Context, req orchestrator.ExtractRequest) error
}

// Searcher queries the answer index.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, error)
}

// FileLookup resolves files by studio upload id.
type FileLookup interface {
	GetFile(ctx context.Context, id int64) (*file.File, error)
	FindByStudioUpload(ctx context.Context, uploadID string) (*file.File, error)
}

// MoldLookup resolves molds by studio app id.
type MoldLookup interface {
	FindMoldByStudioApp(ctx context.Context, appID string) (*mold.Mold, error)
}

// Deps are the services behind the routes. Search is optional.
type Deps struct {
	Tasks    Tasks
	Extracts ExtractDispatcher
	Search   Searcher
	Files    FileLookup
	Molds    MoldLookup
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// ParserAppID and ParserSecret verify the signed parser callback.
	// An empty app id disables verification.
	ParserAppID  string
	ParserSecret config.Secret
	// HookKey must accompany studio callbacks when set.
	HookKey config.Secret
}

// Server provides the HTTP endpoints of extractd.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
	now    func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Tasks == nil {
		return nil, fmt.Errorf("tasks cannot be nil")
	}
	if deps.Extracts == nil || deps.Files == nil || deps.Molds == nil {
		return nil, fmt.Errorf("extract dispatcher, file and mold lookups are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), rid)))
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", rid),
			)

			return nil
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/files/:id/hash/:hash/preprocess_complete", s.handlePreprocessComplete)
	v1.POST("/files/extract-complete", s.handleExtractComplete)
	v1.POST("/files/:id/process", s.handleProcess)
	v1.POST("/questions/:qid/answer", s.handleSubmit)
	v1.GET("/search", s.handleSearch)
	v1.POST("/admin/reset_status", s.handleReset)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
