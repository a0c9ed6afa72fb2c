package parser

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/authtoken"
	"github.com/fyrsmithlabs/extractd/internal/config"
)

func TestSubmit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var form map[string]string
	status, body := http.StatusOK, `{"status":"ok"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/preprocess", r.URL.Path)
		assert.NoError(t, authtoken.Verify(r.URL, "app", "s3cret", now, 0))
		if assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			form = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				form[k] = v[0]
			}
			f, hdr, err := r.FormFile("file")
			if assert.NoError(t, err) {
				raw, _ := io.ReadAll(f)
				assert.Equal(t, "%PDF", string(raw))
				assert.Equal(t, "a.pdf", hdr.Filename)
			}
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	defer srv.Close()

	cfg := config.ParserConfig{
		URL:    srv.URL,
		AppID:  "app",
		Secret: "s3cret",
		Options: config.ParseOptions{
			TitleAI:  true,
			MaxPages: 50,
		},
	}
	c, err := New(cfg, "https://extractd.example/", WithClock(func() time.Time { return now }), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	req := func() Request {
		return Request{FileID: 42, Name: "a.pdf", Hash: "abc", Content: strings.NewReader("%PDF"), Priority: 3, Garbled: true}
	}
	require.NoError(t, c.Submit(t.Context(), req()))
	assert.Equal(t, "https://extractd.example/api/v1/files/42/hash/abc/preprocess_complete", form["callback"])
	assert.Equal(t, "3", form["priority"])
	assert.Equal(t, "1", form["title_ai"])
	assert.Equal(t, "0", form["force_ocr"])
	assert.Equal(t, "2", form["garbled_file_handle"])
	assert.Equal(t, "50", form["max_pages"])
	assert.NotContains(t, form, "as_pdf")
	assert.True(t, strings.HasSuffix(form["key"], "#42"))

	status, body = http.StatusBadGateway, "down"
	err = c.Submit(t.Context(), req())
	assert.ErrorIs(t, err, ErrBadStatus)

	status, body = http.StatusOK, `{"status":"error","msg":"encrypted"}`
	err = c.Submit(t.Context(), req())
	assert.ErrorIs(t, err, ErrParserRejected)

	srv.Close()
	err = c.Submit(t.Context(), req())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNew(t *testing.T) {
	_, err := New(config.ParserConfig{}, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
