package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/authtoken"
	"github.com/fyrsmithlabs/extractd/internal/logging"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/search"
)

// Identity headers set by the gateway in front of extractd.
const (
	headerUserID    = "X-User-Id"
	headerUserName  = "X-User-Name"
	headerUserAdmin = "X-User-Admin"
	headerHookKey   = "X-Api-Key"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}

// handlePreprocessComplete stores the interdoc the parser delivered and
// predicts every file sharing the hash. A callback without an interdoc
// fails those files.
func (s *Server) handlePreprocessComplete(c echo.Context) error {
	fid, err := pathID(c, "id")
	if err != nil {
		return err
	}
	hash := c.Param("hash")
	ctx := logging.WithFileID(c.Request().Context(), fid)

	if s.config.ParserAppID != "" {
		if err := authtoken.Verify(c.Request().URL, s.config.ParserAppID, s.config.ParserSecret.Value(), s.now(), 0); err != nil {
			return err
		}
	}
	if _, err := s.deps.Files.GetFile(ctx, fid); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		if ferr := s.deps.Tasks.ParseFailed(ctx, hash, "no interdoc in parser callback"); ferr != nil {
			s.logger.Warn("recording parse failure", zap.String("hash", hash), zap.Error(ferr))
		}
		return echo.NewHTTPError(http.StatusBadRequest, "not found upload document")
	}
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open interdoc upload: %w", err)
	}
	defer src.Close()
	payload, err := io.ReadAll(io.LimitReader(src, maxInterdocSize))
	if err != nil {
		return fmt.Errorf("read interdoc upload: %w", err)
	}

	ids, err := s.deps.Tasks.ParseComplete(ctx, hash, payload)
	if err != nil && len(ids) == 0 {
		return err
	}
	if err != nil {
		// Stored, but some predictions could not be started.
		s.logger.Warn("dispatching predictions", zap.String("hash", hash), zap.Error(err))
	}
	return c.JSON(http.StatusOK, ParsedResponse{FileIDs: ids})
}

// handleExtractComplete starts process_file_extract for the file and mold
// the studio reports on. Unknown uploads and apps are acknowledged and
// dropped.
func (s *Server) handleExtractComplete(c echo.Context) error {
	if s.config.HookKey.IsSet() && !s.config.HookKey.Equal(c.Request().Header.Get(headerHookKey)) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid hook key")
	}
	var req ExtractComplete
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	p := req.Payload
	s.logger.Info("extract complete", zap.String("doc_id", p.DocID), zap.String("app_id", p.AppID), zap.Bool("success", p.Success))

	f, err := s.deps.Files.FindByStudioUpload(ctx, p.DocID)
	if err != nil {
		return err
	}
	if f == nil {
		s.logger.Error("extract complete for unknown upload", zap.String("doc_id", p.DocID))
		return c.NoContent(http.StatusNoContent)
	}
	m, err := s.deps.Molds.FindMoldByStudioApp(ctx, p.AppID)
	if err != nil {
		return err
	}
	if m == nil {
		s.logger.Error("extract complete for unknown app", zap.String("app_id", p.AppID))
		return c.NoContent(http.StatusNoContent)
	}
	if err := s.deps.Extracts.ProcessFileExtract(ctx, orchestrator.ExtractRequest{
		FileID:   f.ID,
		UploadID: f.StudioUploadID,
		MoldID:   m.ID,
		Success:  p.Success,
	}); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleProcess parses or predicts a file.
func (s *Server) handleProcess(c echo.Context) error {
	fid, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := logging.WithFileID(c.Request().Context(), fid)
	if err := s.deps.Tasks.ProcessFile(ctx, fid, orchestrator.ProcessOptions{
		ForceParse:    req.ForceParse,
		ForcePredict:  req.ForcePredict,
		OCR:           req.OCR,
		Garbled:       req.Garbled,
		AsPDF:         req.AsPDF,
		ForceOCRPages: req.ForceOCRPages,
	}); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func userOf(c echo.Context) (question.User, error) {
	h := c.Request().Header
	id, err := strconv.ParseInt(h.Get(headerUserID), 10, 64)
	if err != nil || id <= 0 {
		return question.User{}, echo.NewHTTPError(http.StatusUnauthorized, "missing user")
	}
	admin, _ := strconv.ParseBool(h.Get(headerUserAdmin))
	return question.User{ID: id, Name: h.Get(headerUserName), IsAdmin: admin}, nil
}

// handleSubmit saves a user answer. The merge and post-pipeline run as a
// follow-up task.
func (s *Server) handleSubmit(c echo.Context) error {
	qid, err := pathID(c, "qid")
	if err != nil {
		return err
	}
	user, err := userOf(c)
	if err != nil {
		return err
	}
	var data answer.Answer
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid answer")
	}
	skipHook, _ := strconv.ParseBool(c.QueryParam("skip_hook"))

	ctx := logging.WithQuestionID(c.Request().Context(), qid)
	saved, err := s.deps.Tasks.Submit(ctx, orchestrator.SubmitRequest{QID: qid, User: user, Data: &data, SkipHook: skipHook})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SubmitResponse{
		ID:         saved.ID,
		QID:        saved.QID,
		UID:        saved.UID,
		Status:     int(saved.Status),
		Type:       saved.Type.String(),
		UpdatedUTC: saved.UpdatedUTC,
	})
}

// handleSearch queries indexed answers.
func (s *Server) handleSearch(c echo.Context) error {
	if s.deps.Search == nil {
		return search.ErrDisabled
	}
	q := search.Query{Text: c.QueryParam("q")}
	for name, dst := range map[string]*int64{"mold_id": &q.MoldID, "fid": &q.FileID} {
		if v := c.QueryParam(name); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
			}
			*dst = id
		}
	}
	if v := c.QueryParam("size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid size")
		}
		q.Size = size
	}
	hits, err := s.deps.Search.Search(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Hits: hits})
}

// handleReset flips FAILED and stuck statuses back to TODO.
func (s *Server) handleReset(c echo.Context) error {
	if _, err := userOf(c); err != nil {
		return err
	}
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	stuck := 2 * time.Hour
	if req.StuckAfter != "" {
		d, err := time.ParseDuration(req.StuckAfter)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid stuck_after")
		}
		stuck = d
	}
	rep, err := s.deps.Tasks.ResetStatuses(c.Request().Context(), orchestrator.ResetRequest{StuckAfter: stuck, MoldID: req.MoldID})
	if err != nil && rep.Questions == 0 && rep.Files == 0 {
		return err
	}
	if err != nil {
		s.logger.Warn("partial status reset", zap.Error(err))
	}
	return c.JSON(http.StatusOK, ResetResponse{Questions: rep.Questions, Files: rep.Files})
}
