package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/authtoken"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/parser"
	"github.com/fyrsmithlabs/extractd/internal/prophet"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/search"
	"github.com/fyrsmithlabs/extractd/internal/studio"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// statusRules maps error kinds to status codes. The first match wins.
var statusRules = []struct {
	status int
	kinds  []error
}{
	{http.StatusNotFound, []error{
		file.ErrNotFound, question.ErrNotFound, mold.ErrNotFound, training.ErrNotFound,
	}},
	{http.StatusUnauthorized, []error{
		authtoken.ErrMissingToken, authtoken.ErrInvalidToken, authtoken.ErrExpired,
	}},
	{http.StatusConflict, []error{
		orchestrator.ErrSubmitTooFrequent, lock.ErrContention, training.ErrInProgress,
	}},
	{http.StatusBadRequest, []error{
		schema.ErrInvalidSchema, schema.ErrInvalidKey,
		mold.ErrDuplicateName, mold.ErrSchemaInUse, mold.ErrReservedName,
		question.ErrQuotaExhausted, question.ErrForbiddenTransition,
		prophet.ErrInvalidConfig, prophet.ErrIncompatibleModels,
		training.ErrDuplicateName, training.ErrNoPredictors, training.ErrTooFewSamples,
		training.ErrNotTrained, training.ErrNotDeletable, training.ErrInvalidArchive,
		answer.ErrNoMapping, interdoc.ErrInvalidInterdoc,
	}},
	{http.StatusServiceUnavailable, []error{
		parser.ErrNotConfigured, parser.ErrUnavailable, studio.ErrNotConfigured,
		orchestrator.ErrStudioUnavailable, search.ErrDisabled,
	}},
	{http.StatusGatewayTimeout, []error{
		studio.ErrTimeout, context.DeadlineExceeded,
	}},
	{http.StatusBadGateway, []error{
		parser.ErrBadStatus, parser.ErrParserRejected, studio.ErrRejected, search.ErrResponse,
	}},
}

// statusOf returns the status code for err.
func statusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	for _, rule := range statusRules {
		for _, kind := range rule.kinds {
			if errors.Is(err, kind) {
				return rule.status
			}
		}
	}
	return http.StatusInternalServerError
}

// errorHandler renders every handler error as an ErrorResponse. Server
// errors are logged and their message is not exposed.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := statusOf(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if m, ok := he.Message.(string); ok {
				msg = m
			}
		}
		if errors.Is(err, orchestrator.ErrSubmitTooFrequent) {
			msg = orchestrator.ErrSubmitTooFrequent.Error()
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err),
			)
			if status == http.StatusInternalServerError {
				msg = http.StatusText(status)
			}
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, ErrorResponse{Error: msg})
		}
		if werr != nil {
			logger.Warn("writing error response", zap.Error(werr))
		}
	}
}
