package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/authtoken"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/search"
	"github.com/fyrsmithlabs/extractd/internal/store/memstore"
	"github.com/fyrsmithlabs/extractd/internal/studio"
)

type mockTasks struct {
	mock.Mock
}

func (m *mockTasks) ParseComplete(ctx context.Context, hash string, payload []byte) ([]int64, error) {
	args := m.Called(ctx, hash, payload)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *mockTasks) ParseFailed(ctx context.Context, hash, reason string) error {
	return m.Called(ctx, hash, reason).Error(0)
}

func (m *mockTasks) ProcessFile(ctx context.Context, fileID int64, opts orchestrator.ProcessOptions) error {
	return m.Called(ctx, fileID, opts).Error(0)
}

func (m *mockTasks) Submit(ctx context.Context, req orchestrator.SubmitRequest) (*question.Answer, error) {
	args := m.Called(ctx, req)
	a, _ := args.Get(0).(*question.Answer)
	return a, args.Error(1)
}

func (m *mockTasks) ResetStatuses(ctx context.Context, req orchestrator.ResetRequest) (orchestrator.ResetReport, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(orchestrator.ResetReport), args.Error(1)
}

type mockExtracts struct {
	mock.Mock
}

func (m *mockExtracts) ProcessFileExtract(ctx context.Context, req orchestrator.ExtractRequest) error {
	return m.Called(ctx, req).Error(0)
}

type fakeSearch struct {
	hits []search.Hit
	got  search.Query
	err  error
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) ([]search.Hit, error) {
	f.got = q
	return f.hits, f.err
}

type testServer struct {
	*Server
	tasks    *mockTasks
	extracts *mockExtracts
	st       *memstore.Store
}

func setupTestServer(t *testing.T, cfg *Config, searcher Searcher) *testServer {
	t.Helper()
	ts := &testServer{tasks: &mockTasks{}, extracts: &mockExtracts{}, st: memstore.New()}
	deps := Deps{Tasks: ts.tasks, Extracts: ts.extracts, Files: ts.st.Files(), Molds: ts.st.Molds()}
	if searcher != nil {
		deps.Search = searcher
	}
	s, err := NewServer(deps, zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	ts.Server = s
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestNewServer(t *testing.T) {
	st := memstore.New()
	deps := Deps{Tasks: &mockTasks{}, Extracts: &mockExtracts{}, Files: st.Files(), Molds: st.Molds()}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(deps, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(deps, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when tasks are nil", func(t *testing.T) {
		_, err := NewServer(Deps{}, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tasks cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t, nil, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func interdocRequest(t *testing.T, target string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if content != nil {
		part, err := w.CreateFormFile("file", "interdoc.json")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("status", "done"))
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHandlePreprocessComplete(t *testing.T) {
	const appID, secret = "parser", "s3cret"
	cfg := &Config{ParserAppID: appID, ParserSecret: secret}

	newFile := func(t *testing.T, ts *testServer) *file.File {
		f := &file.File{Name: "a.pdf", Hash: "abc123", ParseStatus: file.ParseParsing}
		require.NoError(t, ts.st.Files().CreateFile(context.Background(), f))
		return f
	}
	signed := func(t *testing.T, fid int64) string {
		u, err := authtoken.EncodeURL(fmt.Sprintf("http://x/api/v1/files/%d/hash/abc123/preprocess_complete", fid), appID, secret, time.Now())
		require.NoError(t, err)
		parsed, err := url.Parse(u)
		require.NoError(t, err)
		return parsed.RequestURI()
	}

	t.Run("stores the interdoc", func(t *testing.T) {
		ts := setupTestServer(t, cfg, nil)
		f := newFile(t, ts)
		ts.tasks.On("ParseComplete", mock.Anything, "abc123", []byte(`{"pages":{}}`)).Return([]int64{f.ID}, nil).Once()

		rec := ts.do(interdocRequest(t, signed(t, f.ID), []byte(`{"pages":{}}`)))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp ParsedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []int64{f.ID}, resp.FileIDs)
		ts.tasks.AssertExpectations(t)
	})

	t.Run("rejects unsigned callbacks", func(t *testing.T) {
		ts := setupTestServer(t, cfg, nil)
		f := newFile(t, ts)

		rec := ts.do(interdocRequest(t, fmt.Sprintf("/api/v1/files/%d/hash/abc123/preprocess_complete", f.ID), []byte(`{}`)))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		ts.tasks.AssertNotCalled(t, "ParseComplete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing interdoc fails the files", func(t *testing.T) {
		ts := setupTestServer(t, cfg, nil)
		f := newFile(t, ts)
		ts.tasks.On("ParseFailed", mock.Anything, "abc123", mock.Anything).Return(nil).Once()

		rec := ts.do(interdocRequest(t, signed(t, f.ID), nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "not found upload document", errorBody(t, rec))
		ts.tasks.AssertExpectations(t)
	})

	t.Run("unknown file", func(t *testing.T) {
		ts := setupTestServer(t, cfg, nil)

		rec := ts.do(interdocRequest(t, signed(t, 999), []byte(`{}`)))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("partial dispatch still succeeds", func(t *testing.T) {
		ts := setupTestServer(t, cfg, nil)
		f := newFile(t, ts)
		ts.tasks.On("ParseComplete", mock.Anything, "abc123", mock.Anything).Return([]int64{f.ID}, errors.New("queue down")).Once()

		rec := ts.do(interdocRequest(t, signed(t, f.ID), []byte(`{}`)))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleExtractComplete(t *testing.T) {
	body := `{"payload":{"doc_id":"up-1","app_id":"app-1","success":true}}`
	newRequest := func(key string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/files/extract-complete", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(headerHookKey, key)
		}
		return req
	}

	t.Run("dispatches the extraction", func(t *testing.T) {
		ts := setupTestServer(t, &Config{HookKey: "hook"}, nil)
		ctx := context.Background()
		f := &file.File{Name: "a.pdf", Hash: "h", StudioUploadID: "up-1"}
		require.NoError(t, ts.st.Files().CreateFile(ctx, f))
		m := &mold.Mold{Name: "合同", StudioAppID: "app-1"}
		require.NoError(t, ts.st.Molds().CreateMold(ctx, m))
		ts.extracts.On("ProcessFileExtract", mock.Anything, orchestrator.ExtractRequest{
			FileID: f.ID, UploadID: "up-1", MoldID: m.ID, Success: true,
		}).Return(nil).Once()

		rec := ts.do(newRequest("hook"))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		ts.extracts.AssertExpectations(t)
	})

	t.Run("unknown upload is dropped", func(t *testing.T) {
		ts := setupTestServer(t, nil, nil)

		rec := ts.do(newRequest(""))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		ts.extracts.AssertNotCalled(t, "ProcessFileExtract", mock.Anything, mock.Anything)
	})

	t.Run("wrong hook key", func(t *testing.T) {
		ts := setupTestServer(t, &Config{HookKey: "hook"}, nil)

		rec := ts.do(newRequest("nope"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("studio timeout surfaces as 504", func(t *testing.T) {
		ts := setupTestServer(t, nil, nil)
		ctx := context.Background()
		require.NoError(t, ts.st.Files().CreateFile(ctx, &file.File{Name: "a.pdf", Hash: "h", StudioUploadID: "up-1"}))
		require.NoError(t, ts.st.Molds().CreateMold(ctx, &mold.Mold{Name: "合同", StudioAppID: "app-1"}))
		ts.extracts.On("ProcessFileExtract", mock.Anything, mock.Anything).Return(fmt.Errorf("extract: %w", studio.ErrTimeout)).Once()

		rec := ts.do(newRequest(""))

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

func TestHandleProcess(t *testing.T) {
	ts := setupTestServer(t, nil, nil)
	ts.tasks.On("ProcessFile", mock.Anything, int64(7), orchestrator.ProcessOptions{ForceParse: true, OCR: true}).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/7/process", strings.NewReader(`{"force_parse":true,"ocr":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	ts.tasks.AssertExpectations(t)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/files/abc/process", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmit(t *testing.T) {
	body := `{"schema":{},"userAnswer":{"version":"1","items":[]}}`
	newRequest := func(uid string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/questions/5/answer", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if uid != "" {
			req.Header.Set(headerUserID, uid)
			req.Header.Set(headerUserName, "alice")
		}
		return req
	}

	t.Run("saves the answer", func(t *testing.T) {
		ts := setupTestServer(t, nil, nil)
		ts.tasks.On("Submit", mock.Anything, mock.MatchedBy(func(r orchestrator.SubmitRequest) bool {
			return r.QID == 5 && r.User == question.User{ID: 3, Name: "alice"} && r.Data != nil
		})).Return(&question.Answer{ID: 9, QID: 5, UID: 3, Status: question.AnswerValid, Type: question.AnswerUserDo}, nil).Once()

		rec := ts.do(newRequest("3"))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp SubmitResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(9), resp.ID)
		assert.Equal(t, "USER_DO", resp.Type)
		ts.tasks.AssertExpectations(t)
	})

	t.Run("requires a user", func(t *testing.T) {
		ts := setupTestServer(t, nil, nil)

		rec := ts.do(newRequest(""))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{name: "too frequent", err: fmt.Errorf("%w: lock contention", orchestrator.ErrSubmitTooFrequent), status: http.StatusConflict, msg: "提交答案过于频繁, 请稍后重试"},
		{name: "quota", err: question.ErrQuotaExhausted, status: http.StatusBadRequest},
		{name: "forbidden transition", err: question.ErrForbiddenTransition, status: http.StatusBadRequest},
		{name: "missing question", err: fmt.Errorf("%w: 5", question.ErrNotFound), status: http.StatusNotFound},
		{name: "internal", err: errors.New("db exploded"), status: http.StatusInternalServerError, msg: "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, nil, nil)
			ts.tasks.On("Submit", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			rec := ts.do(newRequest("3"))

			assert.Equal(t, tt.status, rec.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, errorBody(t, rec))
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	t.Run("passes filters", func(t *testing.T) {
		fs := &fakeSearch{hits: []search.Hit{{QID: 1, FileID: 2, MoldID: 3, Score: 1.5}}}
		ts := setupTestServer(t, nil, fs)

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/search?q=alice&mold_id=3&size=5", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, search.Query{Text: "alice", MoldID: 3, Size: 5}, fs.got)
		var resp SearchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Hits, 1)
	})

	t.Run("bad filter", func(t *testing.T) {
		ts := setupTestServer(t, nil, &fakeSearch{})

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/search?fid=x", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		ts := setupTestServer(t, nil, nil)

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/search?q=alice", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleReset(t *testing.T) {
	ts := setupTestServer(t, nil, nil)
	ts.tasks.On("ResetStatuses", mock.Anything, orchestrator.ResetRequest{StuckAfter: 30 * time.Minute, MoldID: 4}).
		Return(orchestrator.ResetReport{Questions: 3, Files: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reset_status", strings.NewReader(`{"stuck_after":"30m","mold_id":4}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, "1")
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ResetResponse{Questions: 3, Files: 1}, resp)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/reset_status", strings.NewReader(`{"stuck_after":"soon"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, "1")
	assert.Equal(t, http.StatusBadRequest, ts.do(req).Code)
}

func TestServerLifecycle(t *testing.T) {
	st := memstore.New()
	deps := Deps{Tasks: &mockTasks{}, Extracts: &mockExtracts{}, Files: st.Files(), Molds: st.Molds()}
	server, err := NewServer(deps, zaptest.NewLogger(t), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
